package sel_test

import (
	"testing"

	"github.com/searchlink/searchlink-mongodb/sel"
)

func TestFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		exclude         []string
		testCollections map[string]bool
	}{
		{
			name:    "empty exclude - allow all",
			exclude: nil,
			testCollections: map[string]bool{
				"orders":    true,
				"users":     true,
				"inventory": true,
			},
		},
		{
			name:    "exact exclusion",
			exclude: []string{"audit", "sessions"},
			testCollections: map[string]bool{
				"orders":   true,
				"audit":    false,
				"sessions": false,
				"auditlog": true,
			},
		},
		{
			name:    "prefix exclusion",
			exclude: []string{"tmp_*"},
			testCollections: map[string]bool{
				"tmp_import": false,
				"tmp_":       false,
				"temporary":  true,
				"orders":     true,
			},
		},
		{
			name:    "mixed exact and prefix",
			exclude: []string{"audit", "cache_*"},
			testCollections: map[string]bool{
				"audit":       false,
				"cache_users": false,
				"orders":      true,
			},
		},
		{
			name:    "system collections always rejected",
			exclude: nil,
			testCollections: map[string]bool{
				"system.views":   false,
				"system.profile": false,
				"systematic":     true,
			},
		},
		{
			name:    "exclusion is case sensitive",
			exclude: []string{"Orders"},
			testCollections: map[string]bool{
				"Orders": false,
				"orders": true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			filter := sel.MakeFilter(tt.exclude)

			for coll, want := range tt.testCollections {
				got := filter(coll)
				if got != want {
					t.Errorf("filter(%q) = %v, want %v", coll, got, want)
				}
			}
		})
	}
}
