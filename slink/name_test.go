package slink_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/searchlink/searchlink-mongodb/slink"
)

func TestIndexName(t *testing.T) {
	t.Parallel()

	for coll, want := range map[string]string{
		"users":      "app__users",
		"Users":      "app__users",
		"ORDERS":     "app__orders",
		"audit_log":  "app__audit_log",
		"events2024": "app__events2024",
	} {
		assert.Equal(t, want, slink.IndexName("app", coll), coll)
	}
}

func TestIndexName_Deterministic(t *testing.T) {
	t.Parallel()

	// collections differing only by case map to the same index
	assert.Equal(t,
		slink.IndexName("p", "Products"),
		slink.IndexName("p", "products"))
}
