package catalog

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Format identifies the source format recorded for an entity in the catalog.
type Format string

const (
	FormatAGS        Format = "ags"
	FormatArcGIS     Format = "arcgis"
	FormatEsri       Format = "esri"
	FormatAGSExtract Format = "ags_extract"
	FormatShapefile  Format = "shp"
	FormatZip        Format = "zip"
	FormatURL        Format = "url"
	FormatGeoJSON    Format = "geojson"
	FormatPDF        Format = "pdf"
)

// Family groups formats by how the pipeline treats them.
type Family int

const (
	FamilyUnknown Family = iota
	// FamilyAGS downloads through an ArcGIS REST extraction keyed by table name.
	FamilyAGS
	// FamilyDirect downloads through a direct URL/resource fetch.
	FamilyDirect
	// FamilyMetadataOnly downloads and extracts metadata but never processes.
	FamilyMetadataOnly
)

func (f Format) Family() Family {
	switch Format(strings.ToLower(string(f))) {
	case FormatAGS, FormatArcGIS, FormatEsri, FormatAGSExtract:
		return FamilyAGS
	case FormatShapefile, FormatZip, FormatURL, FormatGeoJSON:
		return FamilyDirect
	case FormatPDF:
		return FamilyMetadataOnly
	}
	return FamilyUnknown
}

// Metadata holds the tracked fields the upload stage writes back to the
// catalog after a successful run. Empty strings mean "not extracted"; the
// sparse update never nulls out a column the extractor did not touch.
type Metadata struct {
	DataDate    string
	PublishDate string
	EPSG        string
	PrimaryFile string
	RawZip      string
	FieldNames  []string
}

// FieldNamesJSON renders the field list the way the catalog stores it.
func (m Metadata) FieldNamesJSON() string {
	if len(m.FieldNames) == 0 {
		return ""
	}
	bs, err := json.Marshal(m.FieldNames)
	if err != nil {
		return ""
	}
	return string(bs)
}

// Equal compares all fields including the field name list.
func (m Metadata) Equal(other Metadata) bool {
	if m.DataDate != other.DataDate || m.PublishDate != other.PublishDate ||
		m.EPSG != other.EPSG || m.PrimaryFile != other.PrimaryFile ||
		m.RawZip != other.RawZip || len(m.FieldNames) != len(other.FieldNames) {
		return false
	}
	for i := range m.FieldNames {
		if m.FieldNames[i] != other.FieldNames[i] {
			return false
		}
	}
	return true
}

// Directive is one pre- or post-processing command attached to an entity.
// ContinueOnFailure directives degrade to warnings when they exit non-zero.
type Directive struct {
	Raw               string
	ContinueOnFailure bool
}

// Entity is the catalog configuration for one layer/state/county/city
// combination. The orchestrator treats it as read-only except for Tracked,
// which the upload stage refreshes after a successful run.
type Entity struct {
	Layer  string
	State  string
	County string
	City   string

	Format    Format
	TableName string // AGS family
	SourceURL string // direct family
	Resource  string // fallback identifier

	PreProcessing  []Directive
	PostProcessing []Directive
	FieldTransform string

	Tracked Metadata
}

// ID returns the canonical entity identifier, e.g.
// "zoning_fl_alachua_gainesville". County-level entities omit the city part
// and state-level entities omit both.
func (e *Entity) ID() string {
	parts := []string{e.Layer, e.State}
	if e.County != "" {
		parts = append(parts, e.County)
		if e.City != "" {
			parts = append(parts, e.City)
		}
	}
	return strings.Join(parts, "_")
}

// SourceIdentifier returns whichever source locator the format calls for.
func (e *Entity) SourceIdentifier() string {
	if e.Format.Family() == FamilyAGS {
		return e.TableName
	}
	if e.SourceURL != "" {
		return e.SourceURL
	}
	return e.Resource
}

const warningPrefix = "WARNING:"

var bracketed = regexp.MustCompile(`\[([^\]]+)\]`)

// ParseDirectives turns a catalog directive string into an ordered command
// list. Three encodings appear in the catalog: bracketed ("[cmd1] [cmd2]"),
// a JSON array of strings, and legacy newline/semicolon separation. Commands
// prefixed with "WARNING:" are continue-on-failure.
func ParseDirectives(text string) []Directive {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var raw []string
	if ms := bracketed.FindAllStringSubmatch(text, -1); len(ms) > 0 {
		for _, m := range ms {
			raw = append(raw, strings.TrimSpace(m[1]))
		}
	} else if strings.HasPrefix(text, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(text), &arr); err == nil {
			raw = arr
		}
	}
	if raw == nil {
		for _, piece := range regexp.MustCompile(`[\n;]+`).Split(text, -1) {
			if p := strings.TrimSpace(piece); p != "" {
				raw = append(raw, p)
			}
		}
	}

	var out []Directive
	for _, r := range raw {
		d := Directive{Raw: strings.TrimSpace(r)}
		if strings.HasPrefix(d.Raw, warningPrefix) {
			d.ContinueOnFailure = true
			d.Raw = strings.TrimSpace(strings.TrimPrefix(d.Raw, warningPrefix))
		}
		if d.Raw == "" || !looksLikeCommand(d.Raw) {
			continue
		}
		out = append(out, d)
	}
	return out
}

var commonTools = map[string]struct{}{
	"rm": {}, "mv": {}, "cp": {}, "mkdir": {}, "rmdir": {}, "unzip": {}, "zip": {},
	"ogr2ogr": {}, "ogrinfo": {}, "gdal_translate": {}, "gdalwarp": {},
	"sed": {}, "awk": {}, "grep": {}, "find": {}, "psql": {}, "bash": {}, "sh": {},
	"chmod": {}, "ls": {}, "cat": {}, "head": {}, "tail": {},
	"cd": {}, "echo": {}, "true": {}, "false": {}, "test": {}, "exit": {},
}

// looksLikeCommand filters free-form human notes out of directive fields.
// The catalog mixes executable commands with prose left by catalogers.
func looksLikeCommand(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	// Prose heuristic: a sentence ending with a period and no shell-ish
	// characters is a note, not a command.
	if strings.HasSuffix(s, ".") &&
		!strings.ContainsAny(s, `/\"'`) && !strings.Contains(s, " -") {
		return false
	}
	if strings.ContainsAny(s, "|&><") {
		return true
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "python ") || strings.HasPrefix(lower, "python3 ") || strings.HasSuffix(lower, ".py") {
		return true
	}
	if strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/") {
		return true
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	if first == "sudo" && len(fields) > 1 {
		first = fields[1]
	}
	_, ok := commonTools[first]
	return ok
}
