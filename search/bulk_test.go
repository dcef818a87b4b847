package search

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBulkBody(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: "1", Body: json.RawMessage(`{"name":"a"}`)},
		{ID: "66f1f2a3b4c5d6e7f8a9b0c1", Body: json.RawMessage(`{"name":"b","n":2}`)},
	}

	body, err := buildBulkBody(docs)
	require.NoError(t, err)

	want := `{"index":{"_id":"1"}}
{"name":"a"}
{"index":{"_id":"66f1f2a3b4c5d6e7f8a9b0c1"}}
{"name":"b","n":2}
`
	assert.Equal(t, want, string(body))
}

func TestParseBulkResponse(t *testing.T) {
	t.Parallel()

	t.Run("all indexed", func(t *testing.T) {
		t.Parallel()

		data := []byte(`{
			"took": 3,
			"errors": false,
			"items": [
				{"index": {"_id": "1", "status": 201}},
				{"index": {"_id": "2", "status": 200}}
			]
		}`)

		res, err := parseBulkResponse(data)
		require.NoError(t, err)

		assert.Equal(t, 2, res.Indexed)
		assert.Empty(t, res.ItemErrors)
	})

	t.Run("partial failure", func(t *testing.T) {
		t.Parallel()

		data := []byte(`{
			"took": 5,
			"errors": true,
			"items": [
				{"index": {"_id": "1", "status": 201}},
				{"index": {"_id": "2", "status": 400, "error": {
					"type": "document_parsing_exception",
					"reason": "failed to parse field [n]"
				}}},
				{"index": {"_id": "3", "status": 201}}
			]
		}`)

		res, err := parseBulkResponse(data)
		require.NoError(t, err)

		assert.Equal(t, 2, res.Indexed)
		require.Len(t, res.ItemErrors, 1)

		itemErr := res.ItemErrors[0]
		assert.Equal(t, "2", itemErr.DocID)
		assert.Equal(t, "index", itemErr.Op)
		assert.Equal(t, 400, itemErr.Status)
		assert.Equal(t, "document_parsing_exception", itemErr.Type)
		assert.Contains(t, itemErr.Error(), "failed to parse field")
	})

	t.Run("malformed response", func(t *testing.T) {
		t.Parallel()

		_, err := parseBulkResponse([]byte(`{"items": "nope"`))
		assert.Error(t, err)
	})
}
