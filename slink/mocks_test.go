package slink

import (
	"context"
	"encoding/json"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/searchlink/searchlink-mongodb/search"
)

// fakeSource serves canned collections and change events.
type fakeSource struct {
	collections map[string][]bson.D
	events      []bson.Raw

	watchErr error
	csErr    error
}

func (s *fakeSource) ListCollectionNames(context.Context) ([]string, error) {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}

	return names, nil
}

func (s *fakeSource) ReadCollection(_ context.Context, coll string) (DocumentCursor, error) {
	docs := s.collections[coll]
	raws := make([]bson.Raw, len(docs))

	for i, doc := range docs {
		data, err := bson.Marshal(doc)
		if err != nil {
			return nil, err
		}

		raws[i] = data
	}

	return &sliceCursor{raws: raws}, nil
}

func (s *fakeSource) Count(_ context.Context, coll string) (int64, error) {
	return int64(len(s.collections[coll])), nil
}

func (s *fakeSource) Watch(context.Context) (ChangeStream, error) {
	if s.watchErr != nil {
		return nil, s.watchErr
	}

	return &sliceCursor{raws: s.events, err: s.csErr}, nil
}

// sliceCursor serves raw documents from a slice. It is both a DocumentCursor
// and a ChangeStream: once the slice is exhausted, Next reports false and Err
// returns the configured error.
type sliceCursor struct {
	raws []bson.Raw
	pos  int
	err  error
}

func (c *sliceCursor) Next(context.Context) bool {
	if c.pos >= len(c.raws) {
		return false
	}

	c.pos++

	return true
}

func (c *sliceCursor) Current() bson.Raw           { return c.raws[c.pos-1] }
func (c *sliceCursor) Err() error                  { return c.err }
func (c *sliceCursor) Close(context.Context) error { return nil }

// fakeTarget records mutations in memory.
type fakeTarget struct {
	mu sync.Mutex

	// indexes maps index name to document id to body.
	indexes map[string]map[string]json.RawMessage

	// droppedIndexes records DeleteIndex calls.
	droppedIndexes []string

	// rejectDocIDs lists document ids the fake rejects in Bulk requests.
	rejectDocIDs map[string]bool

	// upsertErr makes every Upsert fail.
	upsertErr error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		indexes: make(map[string]map[string]json.RawMessage),
	}
}

func (t *fakeTarget) index(name string) map[string]json.RawMessage {
	idx, ok := t.indexes[name]
	if !ok {
		idx = make(map[string]json.RawMessage)
		t.indexes[name] = idx
	}

	return idx
}

func (t *fakeTarget) Bulk(
	_ context.Context,
	index string,
	docs []search.Document,
) (*search.BulkResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := &search.BulkResult{}
	idx := t.index(index)

	for _, doc := range docs {
		if t.rejectDocIDs[doc.ID] {
			res.ItemErrors = append(res.ItemErrors, search.ItemError{
				DocID:  doc.ID,
				Op:     "index",
				Status: 400,
				Type:   "document_parsing_exception",
				Reason: "rejected by fake",
			})

			continue
		}

		idx[doc.ID] = doc.Body
		res.Indexed++
	}

	return res, nil
}

func (t *fakeTarget) Upsert(_ context.Context, index, id string, body json.RawMessage) error {
	if t.upsertErr != nil {
		return t.upsertErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.index(index)[id] = body

	return nil
}

func (t *fakeTarget) Delete(_ context.Context, index, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// missing documents are not an error
	delete(t.index(index), id)

	return nil
}

func (t *fakeTarget) DeleteIndex(_ context.Context, index string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.indexes, index)
	t.droppedIndexes = append(t.droppedIndexes, index)

	return nil
}

func (t *fakeTarget) Count(_ context.Context, index string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return int64(len(t.indexes[index])), nil
}

func (t *fakeTarget) Refresh(context.Context, string) error { return nil }

func (t *fakeTarget) doc(index, id string) (json.RawMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	body, ok := t.indexes[index][id]

	return body, ok
}

func (t *fakeTarget) docCount(index string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.indexes[index])
}

// makeEvent builds a raw change stream document.
func makeEvent(op OperationType, coll string, id any, fullDocument bson.D) bson.Raw {
	event := bson.D{
		{Key: "operationType", Value: string(op)},
		{Key: "ns", Value: bson.D{{Key: "db", Value: "app"}, {Key: "coll", Value: coll}}},
	}

	if id != nil {
		event = append(event, bson.E{Key: "documentKey", Value: bson.D{{Key: "_id", Value: id}}})
	}

	if fullDocument != nil {
		event = append(event, bson.E{Key: "fullDocument", Value: fullDocument})
	}

	data, err := bson.Marshal(event)
	if err != nil {
		panic(err)
	}

	return data
}
