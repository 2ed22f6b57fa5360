// Package selector filters catalog entity ids with shell-style glob
// patterns. Patterns match whole ids (layer_state_county_city), so
// "zoning_fl_*" selects every Florida zoning entity.
package selector

import (
	"path"
	"sort"
)

// Select applies include then exclude patterns to the candidate ids.
//
// No include patterns means every candidate is included. Include matches are
// collected in pattern order, first match wins for ordering, duplicates are
// dropped. Exclude patterns then remove ids from that set. Patterns that
// match nothing are not an error.
func Select(candidates []string, include, exclude []string) []string {
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)

	var selected []string
	seen := make(map[string]bool, len(sorted))

	if len(include) == 0 {
		selected = sorted
		for _, id := range sorted {
			seen[id] = true
		}
	} else {
		for _, pattern := range include {
			for _, id := range sorted {
				if seen[id] {
					continue
				}
				if ok, err := path.Match(pattern, id); err == nil && ok {
					seen[id] = true
					selected = append(selected, id)
				}
			}
		}
	}

	if len(exclude) == 0 {
		return selected
	}
	out := selected[:0]
	for _, id := range selected {
		if !matchAny(exclude, id) {
			out = append(out, id)
		}
	}
	return out
}

// Matches reports whether the id matches any of the patterns. An empty
// pattern list matches nothing.
func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, id); err == nil && ok {
			return true
		}
	}
	return false
}
