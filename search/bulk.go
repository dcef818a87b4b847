package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/searchlink/searchlink-mongodb/errors"
)

// ItemError describes a single document rejected by a bulk request.
type ItemError struct {
	// DocID is the identifier of the failed document.
	DocID string `json:"docId"`
	// Op is the attempted bulk operation ("index", "delete").
	Op string `json:"op"`
	// Status is the HTTP-style status code of the failure.
	Status int `json:"status"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e ItemError) Error() string {
	return e.Op + " doc " + e.DocID + ": " + e.Type + ": " + e.Reason
}

// BulkResult reports the outcome of a bulk index request.
type BulkResult struct {
	// Indexed is the number of documents accepted by the store.
	Indexed int
	// ItemErrors lists per-document failures. The request itself succeeded.
	ItemErrors []ItemError
}

// Bulk indexes the documents into the index in one request. Per-document
// failures are reported in the result, not as an error.
func (c *Client) Bulk(ctx context.Context, index string, docs []Document) (*BulkResult, error) {
	if len(docs) == 0 {
		return &BulkResult{}, nil
	}

	body, err := buildBulkBody(docs)
	if err != nil {
		return nil, err
	}

	res, err := c.es.Bulk(bytes.NewReader(body),
		c.es.Bulk.WithIndex(index),
		c.es.Bulk.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "bulk %q", index)
	}
	defer closeResponse(res)

	if res.IsError() {
		return nil, errors.Errorf("bulk %q: %s", index, responseError(res))
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read bulk response")
	}

	return parseBulkResponse(data)
}

// buildBulkBody serializes documents into the NDJSON bulk format. Each
// document becomes an index action line followed by its source line.
func buildBulkBody(docs []Document) ([]byte, error) {
	var buf bytes.Buffer

	for i := range docs {
		action, err := json.Marshal(map[string]map[string]string{
			"index": {"_id": docs[i].ID},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "marshal action for doc %q", docs[i].ID)
		}

		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(docs[i].Body)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func parseBulkResponse(data []byte) (*BulkResult, error) {
	var resp bulkResponse

	err := json.Unmarshal(data, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal bulk response")
	}

	rv := &BulkResult{}

	for _, item := range resp.Items {
		for opName, op := range item {
			if op.Error == nil {
				rv.Indexed++

				continue
			}

			rv.ItemErrors = append(rv.ItemErrors, ItemError{
				DocID:  op.ID,
				Op:     opName,
				Status: op.Status,
				Type:   op.Error.Type,
				Reason: op.Error.Reason,
			})
		}
	}

	return rv, nil
}

func bytesReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
