package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultTable is the catalog table the store reads and writes.
const DefaultTable = "m_gis_data_catalog_main"

type StoreOption func(*Store)

func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithTable(table string) StoreOption {
	return func(s *Store) {
		s.table = table
	}
}

// WithLayerLevels configures which layers are county- or state-level
// (default is city-level, four-part ids).
func WithLayerLevels(levels map[string]string) StoreOption {
	return func(s *Store) {
		s.levels = levels
	}
}

// Store provides read access to entity configuration and executes the
// parameterized statements the upload stage builds. Schema ownership lives
// with the external cataloging process; the store only SELECTs and UPDATEs.
type Store struct {
	db     *sql.DB
	table  string
	levels map[string]string
	logger *zap.Logger
}

func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		table:  DefaultTable,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

const entityColumns = `layer_subgroup, state, county, city, format, table_name,
	src_url_file, resource, processing_comments, source_comments,
	fields_obj_transform, data_date, publish_date, srs_epsg, sys_raw_file,
	sys_raw_file_zip, field_names`

// Entities returns every non-deleted catalog entity keyed by id.
func (s *Store) Entities(ctx context.Context) (map[string]*Entity, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE status IS DISTINCT FROM 'DELETE' AND layer_subgroup IS NOT NULL`,
		entityColumns, s.table,
	)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select catalog entities: %w", err)
	}
	defer rows.Close()

	entities := make(map[string]*Entity)
	for rows.Next() {
		e, err := s.scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities[e.ID()] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog entities: %w", err)
	}
	s.logger.Debug("loaded catalog entities", zap.Int("count", len(entities)))
	return entities, nil
}

// Entity returns the catalog row for one layer/state/county/city or nil when
// the catalog has no such record.
func (s *Store) Entity(ctx context.Context, layer, state, county, city string) (*Entity, error) {
	clauses := []string{"lower(layer_subgroup) = $1"}
	args := []any{strings.ToLower(layer)}

	if state != "" {
		args = append(args, External(state, NameState))
		clauses = append(clauses, fmt.Sprintf("(state = $%d OR state IS NULL)", len(args)))
	}
	if county != "" {
		args = append(args, strings.ToLower(External(county, NameCounty)))
		clauses = append(clauses, fmt.Sprintf("lower(county) = $%d", len(args)))
	} else {
		clauses = append(clauses, "county IS NULL")
	}
	if city != "" {
		args = append(args, strings.ToLower(External(city, NameCity)))
		clauses = append(clauses, fmt.Sprintf("(lower(city) = $%d OR city IS NULL)", len(args)))
	} else {
		clauses = append(clauses, "city IS NULL")
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s LIMIT 1",
		entityColumns, s.table, strings.Join(clauses, " AND "),
	)
	row := s.db.QueryRowContext(ctx, query, args...)
	e, err := s.scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select catalog entity: %w", err)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEntity(sc scanner) (*Entity, error) {
	var (
		layer, state, county, city            sql.NullString
		format, tableName, srcURL, resource   sql.NullString
		processing, source, fieldTransform    sql.NullString
		dataDate, publishDate, epsg           sql.NullString
		rawFile, rawZip, fieldNames           sql.NullString
	)
	err := sc.Scan(
		&layer, &state, &county, &city, &format, &tableName,
		&srcURL, &resource, &processing, &source,
		&fieldTransform, &dataDate, &publishDate, &epsg, &rawFile,
		&rawZip, &fieldNames,
	)
	if err != nil {
		return nil, err
	}

	e := &Entity{
		Layer:          strings.ToLower(layer.String),
		State:          inferState(state.String, county.String),
		County:         Internal(county.String, NameCounty),
		City:           Internal(city.String, NameCity),
		Format:         Format(strings.ToLower(format.String)),
		TableName:      tableName.String,
		SourceURL:      srcURL.String,
		Resource:       resource.String,
		PreProcessing:  ParseDirectives(processing.String),
		PostProcessing: ParseDirectives(source.String),
		FieldTransform: strings.TrimSpace(fieldTransform.String),
		Tracked: Metadata{
			DataDate:    strings.TrimSpace(dataDate.String),
			PublishDate: strings.TrimSpace(publishDate.String),
			EPSG:        strings.TrimSpace(epsg.String),
			PrimaryFile: strings.TrimSpace(rawFile.String),
			RawZip:      strings.TrimSpace(rawZip.String),
		},
	}
	if names := strings.TrimSpace(fieldNames.String); names != "" {
		e.Tracked.FieldNames = splitFieldNames(names)
	}

	// County-only rows for city-level layers default to the countywide
	// sentinel so their four-part id stays unique.
	if e.City == "" && e.County != "" && s.levelFor(e.Layer) == "state_county_city" {
		e.City = "countywide"
	}
	return e, nil
}

func (s *Store) levelFor(layer string) string {
	if lvl, ok := s.levels[layer]; ok {
		return lvl
	}
	return "state_county_city"
}

func inferState(state, county string) string {
	state = strings.TrimSpace(state)
	if state != "" && !strings.EqualFold(state, "null") && !strings.EqualFold(state, "none") {
		return strings.ToLower(state)
	}
	// Legacy rows predate the state column; everything without one is Florida.
	_ = county
	return "fl"
}

func splitFieldNames(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(strings.TrimSpace(p), `"`); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExecUpdate runs a parameterized statement and reports the affected rows.
func (s *Store) ExecUpdate(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueryStrings runs a single-row query and returns its columns as strings.
// A missing row returns nil with no error.
func (s *Store) QueryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String
	}
	return out, nil
}
