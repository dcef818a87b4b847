package slink

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIndexName(t *testing.T) {
	t.Parallel()

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		for _, index := range []string{"app__users", "app__orders", "app__a"} {
			first := hashIndexName(index, 8)
			assert.Equal(t, first, hashIndexName(index, 8), index)
		}
	})

	t.Run("in range", func(t *testing.T) {
		t.Parallel()

		for workers := 1; workers <= 16; workers++ {
			for i := range 100 {
				idx := hashIndexName(fmt.Sprintf("app__coll%d", i), workers)
				require.GreaterOrEqual(t, idx, 0)
				require.Less(t, idx, workers)
			}
		}
	})
}

func TestWorkerPool_PerIndexOrdering(t *testing.T) {
	t.Parallel()

	target := newFakeTarget()
	pool := newWorkerPool(context.Background(), 4, target)

	// interleave mutations across indexes; per index the last write must win
	for i := range 50 {
		for _, index := range []string{"app__a", "app__b", "app__c"} {
			body, err := json.Marshal(map[string]int{"v": i})
			require.NoError(t, err)

			pool.Route(Mutation{Kind: MutationUpsert, Index: index, DocID: "d", Body: body})
		}
	}

	pool.Route(Mutation{Kind: MutationDelete, Index: "app__b", DocID: "d"})

	pool.Stop()

	body, ok := target.doc("app__a", "d")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":49}`, string(body))

	_, ok = target.doc("app__b", "d")
	assert.False(t, ok, "delete routed after the upserts must win")

	assert.EqualValues(t, 151, pool.TotalEventsApplied())
	assert.Zero(t, pool.TotalFailures())
}

func TestWorkerPool_DrainsOnStop(t *testing.T) {
	t.Parallel()

	target := newFakeTarget()
	pool := newWorkerPool(context.Background(), 2, target)

	for i := range 200 {
		pool.Route(Mutation{
			Kind:  MutationUpsert,
			Index: "app__items",
			DocID: fmt.Sprintf("d%d", i),
			Body:  json.RawMessage(`{}`),
		})
	}

	pool.Stop()

	assert.Equal(t, 200, target.docCount("app__items"))
}
