/*
Package slink keeps a search store in sync with a MongoDB database.

This package includes the following main components:

  - SLink: Manages the overall sync process, including the snapshot load and
    change feed mirroring.

  - Snapshot: Loads full collections into search indexes in bulk.

  - Repl: Consumes the change feed and applies each event as an idempotent
    store mutation.
*/
package slink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/searchlink/searchlink-mongodb/errors"
	"github.com/searchlink/searchlink-mongodb/log"
	"github.com/searchlink/searchlink-mongodb/search"
	"github.com/searchlink/searchlink-mongodb/sel"
)

// Source provides read access to the MongoDB database being mirrored.
type Source interface {
	ListCollectionNames(ctx context.Context) ([]string, error)
	ReadCollection(ctx context.Context, coll string) (DocumentCursor, error)
	Count(ctx context.Context, coll string) (int64, error)
	Watch(ctx context.Context) (ChangeStream, error)
}

// DocumentCursor iterates over the documents of one collection.
type DocumentCursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// ChangeStream iterates over the database change feed.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// Target is the search store mutation surface.
type Target interface {
	Bulk(ctx context.Context, index string, docs []search.Document) (*search.BulkResult, error)
	Upsert(ctx context.Context, index, id string, body json.RawMessage) error
	Delete(ctx context.Context, index, id string) error
	DeleteIndex(ctx context.Context, index string) error
	Count(ctx context.Context, index string) (int64, error)
	Refresh(ctx context.Context, index string) error
}

// State represents the state of the SLink.
type State string

const (
	// StateIdle indicates that the sync has not been started.
	StateIdle State = "idle"
	// StateRunning indicates that the sync is running.
	StateRunning State = "running"
	// StateStopped indicates that the sync has stopped.
	StateStopped State = "stopped"
	// StateFailed indicates that the sync has failed.
	StateFailed State = "failed"
)

// Options configures the sync behavior.
type Options struct {
	// IndexPrefix is prepended to every derived index name.
	IndexPrefix string

	// Snapshot enables the full collection load before mirroring the change
	// feed.
	Snapshot bool

	// Debug makes sync failures visible in the status. When disabled,
	// failures stop the sync without surfacing an error.
	Debug bool

	// ExcludeCollections lists collections that are never synced. An entry
	// ending in "*" excludes by prefix.
	ExcludeCollections []string

	// SnapshotOptions contains snapshot load tuning.
	SnapshotOptions SnapshotOptions
}

// Status represents the status of the SLink.
type Status struct {
	// State is the current state of the sync.
	State State
	// Error is set when the sync failed.
	Error error

	// Snapshot is the status of the snapshot load.
	Snapshot SnapshotStatus
	// Repl is the status of the change feed mirroring.
	Repl ReplStatus
}

// SLink manages the sync process.
type SLink struct {
	source Source
	target Target

	lock sync.Mutex

	state   State
	err     error
	options *Options

	filter   sel.CollFilter
	snapshot *Snapshot
	repl     *Repl

	cancel context.CancelFunc
	doneCh chan struct{}
}

// New creates a new SLink.
func New(source Source, target Target) *SLink {
	return &SLink{
		source: source,
		target: target,
		state:  StateIdle,
	}
}

// Status returns the current status of the SLink.
func (s *SLink) Status() *Status {
	s.lock.Lock()
	defer s.lock.Unlock()

	rv := &Status{
		State: s.state,
		Error: s.err,
	}

	if s.snapshot != nil {
		rv.Snapshot = s.snapshot.Status()
	}

	if s.repl != nil {
		rv.Repl = s.repl.Status()
	}

	if rv.Error == nil && s.options != nil && s.options.Debug {
		switch {
		case rv.Repl.Err != nil:
			rv.Error = errors.Wrap(rv.Repl.Err, "change feed")
		case rv.Snapshot.Err != nil:
			rv.Error = errors.Wrap(rv.Snapshot.Err, "snapshot")
		}
	}

	return rv
}

// Start begins the sync with the given options. The snapshot load, when
// enabled, completes before the change feed is consumed.
func (s *SLink) Start(_ context.Context, options *Options) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch s.state {
	case StateRunning:
		err := errors.New("already running")
		log.New("slink:start").Error(err, "")

		return err

	case StateFailed:
		err := errors.New("failed: restart required")
		log.New("slink:start").Error(err, "")

		return err
	}

	if options == nil {
		options = &Options{}
	}

	s.options = options
	s.filter = sel.MakeFilter(options.ExcludeCollections)
	s.snapshot = NewSnapshot(s.source, s.target, options.IndexPrefix, s.filter,
		&options.SnapshotOptions)
	s.repl = NewRepl(s.source, s.target, options.IndexPrefix, s.filter)
	s.state = StateRunning

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.doneCh = make(chan struct{})

	go s.run(runCtx, s.doneCh)

	return nil
}

// setFailed records a sync failure. Without debug the sync stops without
// surfacing the error.
func (s *SLink) setFailed(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.options.Debug {
		s.state = StateFailed
		s.err = err

		log.New("slink").Error(err, "Sync has failed")

		return
	}

	s.state = StateStopped

	log.New("slink").Debugf("Sync stopped: %v", err)
}

// run executes the sync.
func (s *SLink) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	lg := log.New("slink")
	ctx = lg.WithContext(ctx)

	lg.Info("Starting sync")

	if s.options.Snapshot {
		err := s.snapshot.Run(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				s.markStopped()

				return
			}

			s.setFailed(errors.Wrap(err, "snapshot"))

			return
		}
	} else {
		lg.Info("Snapshot load disabled. skipping")
	}

	err := s.repl.Start(ctx)
	if err != nil {
		s.setFailed(errors.Wrap(err, "start change feed"))

		return
	}

	<-s.repl.Done()

	replStatus := s.repl.Status()
	if replStatus.Err != nil {
		s.setFailed(errors.Wrap(replStatus.Err, "change feed"))

		return
	}

	s.markStopped()

	lg.Info("Sync stopped")
}

func (s *SLink) markStopped() {
	s.lock.Lock()
	if s.state == StateRunning {
		s.state = StateStopped
	}
	s.lock.Unlock()
}

// Stop cancels the sync and waits until the in-flight events are drained.
// It is safe to call right after Start: the run context is canceled and the
// worker queues finish draining before Stop returns.
func (s *SLink) Stop(ctx context.Context) error {
	s.lock.Lock()

	if s.state != StateRunning {
		s.lock.Unlock()

		return errors.New("not running")
	}

	cancel := s.cancel
	done := s.doneCh
	s.lock.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for drain")
	}

	s.lock.Lock()
	if s.state == StateRunning {
		s.state = StateStopped
	}
	s.lock.Unlock()

	return nil
}

// DropOptions configures the index drop maintenance operation.
type DropOptions struct {
	// IndexPrefix selects the index names to derive.
	IndexPrefix string
	// Collections lists the collections whose derived indexes are removed.
	// Index names are derived by the naming function alone, so the list may
	// include collections that no longer exist on the source.
	Collections []string
	// ExcludeCollections lists collections whose indexes are kept.
	ExcludeCollections []string
}

// DropIndexes removes the search indexes derived from the named, non-excluded
// collections. The source is never consulted: decommissioning works without a
// live source connection. The operation is rejected while the sync is
// running.
func (s *SLink) DropIndexes(ctx context.Context, options *DropOptions) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == StateRunning {
		return errors.New("cannot drop indexes: sync is running")
	}

	if options == nil || len(options.Collections) == 0 {
		return errors.New("no collections to drop")
	}

	filter := sel.MakeFilter(options.ExcludeCollections)

	return dropIndexes(ctx, s.target, options.IndexPrefix, options.Collections, filter)
}

func dropIndexes(
	ctx context.Context,
	target Target,
	prefix string,
	collections []string,
	filter sel.CollFilter,
) error {
	lg := log.New("slink:drop")

	startTime := time.Now()
	dropped := 0

	for _, coll := range collections {
		if !filter(coll) {
			continue
		}

		index := IndexName(prefix, coll)

		err := target.DeleteIndex(ctx, index)
		if err != nil {
			return errors.Wrapf(err, "drop index %q", index)
		}

		lg.With(log.Index(index)).Debugf("Index %q dropped", index)
		dropped++
	}

	lg.With(log.Elapsed(time.Since(startTime))).
		Infof("Dropped %d indexes", dropped)

	return nil
}
