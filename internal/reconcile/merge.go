// Package reconcile merges tracked metadata from three sources: what the
// catalog currently records, what the latest extraction produced, and an
// optional operator override file. It backfills catalog rows whose tracked
// columns drifted out of date without clobbering good values with
// placeholders.
package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

// Class ranks a field value for merge precedence.
type Class int

const (
	// Missing is an empty value.
	Missing Class = iota
	// Sentinel is a placeholder that marks "we looked and could not tell".
	Sentinel
	// Concrete is a real value.
	Concrete
)

var sentinels = map[string]bool{
	"null":    true,
	"none":    true,
	"unknown": true,
	"n/a":     true,
	"tbd":     true,
}

func Classify(v string) Class {
	v = strings.TrimSpace(v)
	if v == "" {
		return Missing
	}
	if sentinels[strings.ToLower(v)] {
		return Sentinel
	}
	return Concrete
}

// mergeField picks a value by precedence: an override always wins, a fresh
// value beats a recorded one of the same class, and a concrete value is
// never replaced by a sentinel.
func mergeField(recorded, fresh, override string) string {
	if Classify(override) == Concrete {
		return override
	}
	if Classify(fresh) >= Classify(recorded) && Classify(fresh) != Missing {
		return fresh
	}
	return recorded
}

// Merge reconciles one entity's metadata. The override may be zero-valued.
func Merge(recorded, fresh, override catalog.Metadata) catalog.Metadata {
	out := catalog.Metadata{
		DataDate:    mergeField(recorded.DataDate, fresh.DataDate, override.DataDate),
		PublishDate: mergeField(recorded.PublishDate, fresh.PublishDate, override.PublishDate),
		EPSG:        mergeField(recorded.EPSG, fresh.EPSG, override.EPSG),
		PrimaryFile: mergeField(recorded.PrimaryFile, fresh.PrimaryFile, override.PrimaryFile),
		RawZip:      mergeField(recorded.RawZip, fresh.RawZip, override.RawZip),
	}
	switch {
	case len(override.FieldNames) > 0:
		out.FieldNames = override.FieldNames
	case len(fresh.FieldNames) > 0:
		out.FieldNames = fresh.FieldNames
	default:
		out.FieldNames = recorded.FieldNames
	}
	return out
}

const overrideSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"properties": {
			"data_date":    {"type": "string"},
			"publish_date": {"type": "string"},
			"srs_epsg":     {"type": "string"},
			"sys_raw_file": {"type": "string"},
			"sys_raw_file_zip": {"type": "string"},
			"field_names":  {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}
}`

type overrideRecord struct {
	DataDate    string   `json:"data_date"`
	PublishDate string   `json:"publish_date"`
	EPSG        string   `json:"srs_epsg"`
	PrimaryFile string   `json:"sys_raw_file"`
	RawZip      string   `json:"sys_raw_file_zip"`
	FieldNames  []string `json:"field_names"`
}

// LoadOverrides reads an operator override file: a JSON object keyed by
// entity id. The document is schema-validated before decoding so a typoed
// column name fails loudly instead of being silently ignored.
func LoadOverrides(fpath string) (map[string]catalog.Metadata, error) {
	if fpath == "" {
		return nil, nil
	}
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(overrideSchema),
		gojsonschema.NewBytesLoader(bs),
	)
	if err != nil {
		return nil, fmt.Errorf("validate overrides: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid overrides file: %s", strings.Join(msgs, "; "))
	}

	var raw map[string]overrideRecord
	if err := json.Unmarshal(bs, &raw); err != nil {
		return nil, fmt.Errorf("decode overrides: %w", err)
	}

	out := make(map[string]catalog.Metadata, len(raw))
	for id, r := range raw {
		out[id] = catalog.Metadata{
			DataDate:    r.DataDate,
			PublishDate: r.PublishDate,
			EPSG:        r.EPSG,
			PrimaryFile: r.PrimaryFile,
			RawZip:      r.RawZip,
			FieldNames:  r.FieldNames,
		}
	}
	return out, nil
}
