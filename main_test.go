package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlink/searchlink-mongodb/config"
	"github.com/searchlink/searchlink-mongodb/search"
	"github.com/searchlink/searchlink-mongodb/slink"
)

// dropRecorder is a Target stub that records DeleteIndex calls.
type dropRecorder struct {
	dropped []string
}

func (r *dropRecorder) Bulk(context.Context, string, []search.Document) (*search.BulkResult, error) {
	return &search.BulkResult{}, nil
}

func (r *dropRecorder) Upsert(context.Context, string, string, json.RawMessage) error {
	return nil
}

func (r *dropRecorder) Delete(context.Context, string, string) error { return nil }

func (r *dropRecorder) DeleteIndex(_ context.Context, index string) error {
	r.dropped = append(r.dropped, index)

	return nil
}

func (r *dropRecorder) Count(context.Context, string) (int64, error) { return 0, nil }

func (r *dropRecorder) Refresh(context.Context, string) error { return nil }

func newTestServer(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = &config.Config{}
	}

	return &Server{
		Cfg:   cfg,
		slink: slink.New(nil, nil),
	}
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	t.Run("idle", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(nil)

		rec := httptest.NewRecorder()
		srv.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var res statusResponse

		err := json.Unmarshal(rec.Body.Bytes(), &res)
		require.NoError(t, err)

		assert.True(t, res.Ok)
		assert.Equal(t, slink.StateIdle, res.State)
		assert.Nil(t, res.Snapshot)
	})

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(nil)

		rec := httptest.NewRecorder()
		srv.HandleStatus(rec, httptest.NewRequest(http.MethodPost, "/status", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleStart(t *testing.T) {
	t.Parallel()

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(nil)

		rec := httptest.NewRecorder()
		srv.HandleStart(rec, httptest.NewRequest(http.MethodGet, "/start", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(nil)

		req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		srv.HandleStart(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(nil)

		req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader("{}"))
		req.ContentLength = MaxRequestSize + 1
		rec := httptest.NewRecorder()
		srv.HandleStart(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestHandleDrop(t *testing.T) {
	t.Parallel()

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(nil)

		rec := httptest.NewRecorder()
		srv.HandleDrop(rec, httptest.NewRequest(http.MethodGet, "/drop", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(nil)

		req := httptest.NewRequest(http.MethodPost, "/drop", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		srv.HandleDrop(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("drops the indexes named in the request", func(t *testing.T) {
		t.Parallel()

		target := &dropRecorder{}
		srv := &Server{
			Cfg:   &config.Config{IndexPrefix: "app", ExcludeCollections: []string{"audit"}},
			slink: slink.New(nil, target),
		}

		body := strings.NewReader(`{"collections":["users","ghost","audit"]}`)
		req := httptest.NewRequest(http.MethodPost, "/drop", body)
		rec := httptest.NewRecorder()
		srv.HandleDrop(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var res dropResponse

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Ok)

		// index names come from the request, not from a source walk
		assert.Equal(t, []string{"app__users", "app__ghost"}, target.dropped)
	})

	t.Run("no collections", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(nil)

		req := httptest.NewRequest(http.MethodPost, "/drop", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		srv.HandleDrop(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var res dropResponse

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.False(t, res.Ok)
		assert.NotEmpty(t, res.Err)
	})
}

func TestSyncOptions(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		IndexPrefix:        "app",
		Snapshot:           true,
		Debug:              true,
		ExcludeCollections: []string{"audit", "tmp_*"},
		SnapshotTuning: config.SnapshotConfig{
			Parallelism:   4,
			BatchSize:     200,
			MaxBatchBytes: "2MiB",
		},
	}
	srv := newTestServer(cfg)

	t.Run("from config", func(t *testing.T) {
		t.Parallel()

		options := srv.syncOptions(nil)

		assert.Equal(t, "app", options.IndexPrefix)
		assert.True(t, options.Snapshot)
		assert.True(t, options.Debug)
		assert.Equal(t, []string{"audit", "tmp_*"}, options.ExcludeCollections)
		assert.Equal(t, 4, options.SnapshotOptions.Parallelism)
		assert.Equal(t, 200, options.SnapshotOptions.BatchSize)
		assert.Equal(t, uint64(2<<20), options.SnapshotOptions.MaxBatchBytes)
	})

	t.Run("request overrides snapshot", func(t *testing.T) {
		t.Parallel()

		off := false
		options := srv.syncOptions(&startRequest{Snapshot: &off})

		assert.False(t, options.Snapshot)
	})
}
