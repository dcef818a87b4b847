// Package sel builds collection filters from exclusion lists.
package sel

import "strings"

// CollFilter returns true if a collection may be synced.
type CollFilter func(coll string) bool

// AllowAll admits every collection.
func AllowAll(string) bool {
	return true
}

// MakeFilter builds a filter that rejects every collection named in exclude.
// An entry ending in "*" excludes by prefix (e.g. "tmp_*"). Matching is exact
// otherwise; system collections ("system." prefix) are always rejected.
func MakeFilter(exclude []string) CollFilter {
	exact := make(map[string]struct{}, len(exclude))
	prefixes := make([]string, 0)

	for _, e := range exclude {
		if p, ok := strings.CutSuffix(e, "*"); ok {
			prefixes = append(prefixes, p)

			continue
		}

		exact[e] = struct{}{}
	}

	return func(coll string) bool {
		if strings.HasPrefix(coll, "system.") {
			return false
		}

		if _, ok := exact[coll]; ok {
			return false
		}

		for _, p := range prefixes {
			if strings.HasPrefix(coll, p) {
				return false
			}
		}

		return true
	}
}
