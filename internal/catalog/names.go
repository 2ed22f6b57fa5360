package catalog

import (
	"regexp"
	"strings"
)

// The catalog stores external, human-readable names ("Miami-Dade",
// "St. Lucie") while the pipeline keys everything by internal names
// ("miami_dade", "st_lucie"). These helpers convert between the two.

type NameKind int

const (
	NameLayer NameKind = iota
	NameCounty
	NameCity
	NameState
)

var layerDisplay = map[string]string{
	"flu":            "Future Land Use",
	"addr_pnts":      "Address Points",
	"address_points": "Address Points",
	"bldg_ftpr":      "Building Footprints",
	"parcel_geo":     "Parcel Geometry",
	"flood_zones":    "Flood Zones",
	"fema_flood":     "FEMA Flood",
	"subdiv":         "Subdivisions",
	"streets":        "Streets",
	"zoning":         "Zoning",
}

var countyDisplay = map[string]string{
	"miami_dade":   "Miami-Dade",
	"desoto":       "DeSoto",
	"st_johns":     "St. Johns",
	"st_lucie":     "St. Lucie",
	"santa_rosa":   "Santa Rosa",
	"indian_river": "Indian River",
	"palm_beach":   "Palm Beach",
}

var abbrevDisplay = map[string]string{"st": "St.", "ft": "Ft.", "mt": "Mt."}

var stopWords = map[string]struct{}{
	"of": {}, "and": {}, "in": {}, "the": {}, "on": {}, "at": {}, "by": {}, "for": {}, "with": {},
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// External converts an internal name to its display form.
func External(name string, kind NameKind) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	lower := strings.ToLower(name)

	switch kind {
	case NameLayer:
		if ext, ok := layerDisplay[lower]; ok {
			return ext
		}
		return strings.Title(lower) //nolint:staticcheck // place names, ASCII only
	case NameState:
		return strings.ToUpper(name)
	case NameCounty:
		if ext, ok := countyDisplay[lower]; ok {
			return ext
		}
	case NameCity:
		switch lower {
		case "unincorporated", "incorporated", "unified", "countywide":
			return strings.Title(lower) //nolint:staticcheck
		}
	}
	return toDisplay(lower)
}

// Internal converts a display name to the internal key form.
func Internal(name string, kind NameKind) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	lower := strings.ToLower(name)

	if kind == NameLayer {
		for internal, display := range layerDisplay {
			if strings.EqualFold(display, name) {
				return internal
			}
		}
		return nonAlnum.ReplaceAllString(lower, "_")
	}
	if kind == NameCounty {
		for internal, display := range countyDisplay {
			if strings.EqualFold(display, name) {
				return internal
			}
		}
	}

	lower = strings.NewReplacer("st.", "st", "ft.", "ft", "mt.", "mt").Replace(lower)
	lower = nonAlnum.ReplaceAllString(lower, "_")
	return strings.Trim(lower, "_")
}

func toDisplay(internal string) string {
	words := strings.Split(strings.ReplaceAll(internal, "_", " "), " ")
	out := make([]string, 0, len(words))
	for i, w := range words {
		if w == "" {
			continue
		}
		if abbr, ok := abbrevDisplay[w]; ok {
			out = append(out, abbr)
			continue
		}
		if _, stop := stopWords[w]; stop && i > 0 {
			out = append(out, w)
			continue
		}
		out = append(out, strings.ToUpper(w[:1])+w[1:])
	}
	result := strings.Join(out, " ")

	// Compound place names ("howey in the hills") are hyphenated in the
	// catalog: Howey-in-the-Hills.
	lowerResult := strings.ToLower(result)
	for _, phrase := range []string{"in the", "on the", "by the"} {
		if strings.Contains(lowerResult, phrase) {
			return strings.ReplaceAll(result, " ", "-")
		}
	}
	return result
}
