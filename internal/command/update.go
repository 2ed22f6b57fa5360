package command

import (
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

// UpdateStatement is the parameterized catalog write the upload stage
// executes, together with the verification SELECT used when UPDATE reports
// zero affected rows.
type UpdateStatement struct {
	Query   string
	Args    []any
	Columns []string
	// Expected holds the intended value per column, aligned with Columns,
	// for comparing against the verification SELECT.
	Expected []string

	VerifyQuery string
	VerifyArgs  []any
}

// Upload builds the sparse catalog update for an entity: publish_date is
// always set; every other column is included only when the metadata stage
// populated it, so columns the extractor did not touch are never nulled out.
// publishDate is an input rather than a clock read to keep the builder pure.
func (b *Builder) Upload(e *catalog.Entity, md catalog.Metadata, publishDate string) *UpdateStatement {
	stmt := &UpdateStatement{}

	add := func(column, value string) {
		stmt.Columns = append(stmt.Columns, column)
		stmt.Expected = append(stmt.Expected, value)
		stmt.Args = append(stmt.Args, value)
	}

	add("publish_date", publishDate)
	if md.DataDate != "" {
		add("data_date", md.DataDate)
	}
	if md.EPSG != "" {
		add("srs_epsg", md.EPSG)
	}
	if md.PrimaryFile != "" {
		add("sys_raw_file", md.PrimaryFile)
	}
	if names := md.FieldNamesJSON(); names != "" {
		add("field_names", names)
	}
	if md.RawZip != "" && e.Format.Family() != catalog.FamilyAGS {
		add("sys_raw_file_zip", md.RawZip)
	}

	sets := make([]string, len(stmt.Columns))
	for i, col := range stmt.Columns {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}

	n := len(stmt.Args)
	where := fmt.Sprintf(
		"WHERE layer_subgroup = $%d AND county = $%d AND city = $%d",
		n+1, n+2, n+3,
	)
	keyArgs := []any{
		e.Layer,
		catalog.External(e.County, catalog.NameCounty),
		catalog.External(e.City, catalog.NameCity),
	}
	stmt.Args = append(stmt.Args, keyArgs...)

	stmt.Query = fmt.Sprintf(
		"UPDATE %s SET %s %s", b.table, strings.Join(sets, ", "), where,
	)
	stmt.VerifyQuery = fmt.Sprintf(
		"SELECT %s FROM %s WHERE layer_subgroup = $1 AND county = $2 AND city = $3",
		strings.Join(stmt.Columns, ", "), b.table,
	)
	stmt.VerifyArgs = keyArgs
	return stmt
}

// Validate parses the statement text to catch malformed SQL before it
// reaches the catalog. Positional placeholders are rewritten to the parser's
// generic form first.
func (s *UpdateStatement) Validate() error {
	for _, q := range []string{s.Query, s.VerifyQuery} {
		normalized := q
		for i := len(s.Args); i >= 1; i-- {
			normalized = strings.ReplaceAll(normalized, fmt.Sprintf("$%d", i), "?")
		}
		if _, err := sqlparser.Parse(normalized); err != nil {
			return fmt.Errorf("generated statement does not parse: %w", err)
		}
	}
	return nil
}
