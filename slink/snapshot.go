package slink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/searchlink/searchlink-mongodb/config"
	"github.com/searchlink/searchlink-mongodb/errors"
	"github.com/searchlink/searchlink-mongodb/log"
	"github.com/searchlink/searchlink-mongodb/metrics"
	"github.com/searchlink/searchlink-mongodb/search"
	"github.com/searchlink/searchlink-mongodb/sel"
)

// SnapshotOptions configures the snapshot load behavior.
type SnapshotOptions struct {
	// Parallelism is the number of collections to load in parallel.
	// Default: 2 (config.DefaultSnapshotParallelism)
	Parallelism int
	// BatchSize is the number of documents per bulk request.
	// Default: 500 (config.DefaultSnapshotBatchSize)
	BatchSize int
	// MaxBatchBytes caps the serialized size of one bulk request.
	// 0 means no cap.
	MaxBatchBytes uint64
}

// CollectionStatus reports the snapshot outcome for one collection.
type CollectionStatus struct {
	Collection string
	Index      string

	// SourceCount is the collection document count after the load.
	SourceCount int64
	// Read is the number of documents read from the collection.
	Read int64
	// Indexed is the number of documents accepted by the store.
	Indexed int64
	// DocErrors is the number of documents the store rejected.
	DocErrors int64

	// ItemErrors lists the documents the store rejected, with the attempted
	// operation and the status code of each failure.
	ItemErrors []search.ItemError

	// TargetCount is the index document count after the load.
	TargetCount int64
	// CountMatch reports whether TargetCount equals SourceCount.
	CountMatch bool

	Err error
}

// SnapshotStatus represents the status of the snapshot load.
type SnapshotStatus struct {
	StartTime  time.Time
	FinishTime time.Time

	ReadDocuments    int64
	IndexedDocuments int64
	DocErrors        int64

	Collections []CollectionStatus

	Err error
}

//go:inline
func (s *SnapshotStatus) IsStarted() bool {
	return !s.StartTime.IsZero()
}

//go:inline
func (s *SnapshotStatus) IsFinished() bool {
	return !s.FinishTime.IsZero()
}

// Snapshot loads full collections into search indexes.
type Snapshot struct {
	source Source
	target Target

	prefix  string
	filter  sel.CollFilter
	options *SnapshotOptions

	lock        sync.Mutex
	collections []CollectionStatus
	err         error

	readDocs    atomic.Int64
	indexedDocs atomic.Int64
	docErrors   atomic.Int64

	startTime  time.Time
	finishTime time.Time
}

// NewSnapshot creates a new Snapshot instance with the given options.
func NewSnapshot(
	source Source,
	target Target,
	prefix string,
	filter sel.CollFilter,
	opts *SnapshotOptions,
) *Snapshot {
	return &Snapshot{
		source:  source,
		target:  target,
		prefix:  prefix,
		filter:  filter,
		options: opts,
	}
}

// Status returns the current status of the snapshot load.
func (s *Snapshot) Status() SnapshotStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	return SnapshotStatus{
		StartTime:  s.startTime,
		FinishTime: s.finishTime,

		ReadDocuments:    s.readDocs.Load(),
		IndexedDocuments: s.indexedDocs.Load(),
		DocErrors:        s.docErrors.Load(),

		Collections: append([]CollectionStatus{}, s.collections...),

		Err: s.err,
	}
}

// Run loads all included collections. A failed collection does not abort the
// others; its error is recorded and returned joined after all collections
// finished.
func (s *Snapshot) Run(ctx context.Context) error {
	s.lock.Lock()

	if !s.startTime.IsZero() {
		s.lock.Unlock()

		return errors.New("already started")
	}

	s.startTime = time.Now()
	s.lock.Unlock()

	lg := log.New("snapshot")
	ctx = lg.WithContext(ctx)

	lg.Info("Starting snapshot load")

	err := s.run(ctx)

	s.lock.Lock()
	s.err = err
	s.finishTime = time.Now()
	elapsed := s.finishTime.Sub(s.startTime)
	s.lock.Unlock()

	if err != nil {
		lg.With(log.Elapsed(elapsed)).
			Errorf(err, "Snapshot load has failed after %s", elapsed.Round(time.Second))

		return err
	}

	lg.With(log.Elapsed(elapsed), log.Count(s.indexedDocs.Load())).
		Infof("Snapshot load completed: %d documents in %s",
			s.indexedDocs.Load(), elapsed.Round(time.Second))

	return nil
}

func (s *Snapshot) run(ctx context.Context) error {
	lg := log.Ctx(ctx)

	collections, err := s.source.ListCollectionNames(ctx)
	if err != nil {
		return errors.Wrap(err, "list collections")
	}

	included := make([]string, 0, len(collections))

	for _, coll := range collections {
		if !s.filter(coll) {
			lg.With(log.Coll(coll)).Infof("Collection %q excluded", coll)

			continue
		}

		included = append(included, coll)
	}

	if len(included) == 0 {
		lg.Warn("No collection to load")

		return nil
	}

	parallelism := s.options.Parallelism
	if parallelism < 1 {
		parallelism = config.DefaultSnapshotParallelism
	}

	lg.Debugf("Parallelism: %d", parallelism)

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(parallelism)

	for _, coll := range included {
		grp.Go(func() error {
			status := s.loadCollection(grpCtx, coll)

			s.lock.Lock()
			s.collections = append(s.collections, *status)
			s.lock.Unlock()

			// collection errors are collected in the status so the
			// remaining collections keep loading
			return nil
		})
	}

	_ = grp.Wait()

	var errs []error

	s.lock.Lock()
	for i := range s.collections {
		if s.collections[i].Err != nil {
			errs = append(errs, errors.Wrap(s.collections[i].Err, s.collections[i].Collection))
		}
	}
	s.lock.Unlock()

	return errors.Join(errs...)
}

// loadCollection reads the whole collection and bulk indexes it. Documents
// rejected by the store are counted and skipped.
func (s *Snapshot) loadCollection(ctx context.Context, coll string) *CollectionStatus {
	index := IndexName(s.prefix, coll)
	status := &CollectionStatus{Collection: coll, Index: index}

	lg := log.Ctx(ctx).With(log.Coll(coll), log.Index(index))
	startedAt := time.Now()

	lg.Debugf("Starting %q collection load", coll)

	cur, err := s.source.ReadCollection(ctx, coll)
	if err != nil {
		status.Err = errors.Wrap(err, "read collection")

		return status
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), config.CloseCursorTimeout)
		defer cancel()

		err := cur.Close(closeCtx)
		if err != nil {
			lg.Error(err, "Close snapshot cursor")
		}
	}()

	batchSize := s.options.BatchSize
	if batchSize < 1 {
		batchSize = config.DefaultSnapshotBatchSize
	}

	batch := make([]search.Document, 0, batchSize)
	batchBytes := uint64(0)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		flushedAt := time.Now()

		res, err := s.target.Bulk(ctx, index, batch)
		if err != nil {
			return errors.Wrap(err, "bulk")
		}

		metrics.ObserveSnapshotBulkDuration(time.Since(flushedAt))
		metrics.AddSnapshotIndexedDocumentCount(res.Indexed)

		status.Indexed += int64(res.Indexed)
		s.indexedDocs.Add(int64(res.Indexed))

		for _, itemErr := range res.ItemErrors {
			lg.Warnf("Document %q rejected: %s: %s", itemErr.DocID, itemErr.Type, itemErr.Reason)
		}

		if n := len(res.ItemErrors); n != 0 {
			metrics.AddSnapshotDocumentErrors(n)
			status.DocErrors += int64(n)
			status.ItemErrors = append(status.ItemErrors, res.ItemErrors...)
			s.docErrors.Add(int64(n))
		}

		batch = batch[:0]
		batchBytes = 0

		return nil
	}

	for cur.Next(ctx) {
		raw := cur.Current()

		status.Read++
		s.readDocs.Add(1)
		metrics.AddSnapshotReadDocumentCount(1)
		metrics.AddSnapshotReadSize(uint64(len(raw)))

		id, err := NormalizeDocID(raw.Lookup("_id"))
		if err != nil {
			lg.Warnf("Skipping document without usable _id: %v", err)

			status.DocErrors++
			s.docErrors.Add(1)

			continue
		}

		body, err := DocumentBody(raw)
		if err != nil {
			lg.Warnf("Skipping unconvertible document %q: %v", id, err)

			status.DocErrors++
			s.docErrors.Add(1)

			continue
		}

		batch = append(batch, search.Document{ID: id, Body: body})
		batchBytes += uint64(len(body))

		if len(batch) >= batchSize ||
			(s.options.MaxBatchBytes != 0 && batchBytes >= s.options.MaxBatchBytes) {
			err = flush()
			if err != nil {
				status.Err = err

				return status
			}
		}
	}

	err = cur.Err()
	if err != nil {
		status.Err = errors.Wrap(err, "cursor")

		return status
	}

	err = flush()
	if err != nil {
		status.Err = err

		return status
	}

	s.reconcileCounts(ctx, status, lg)

	elapsed := time.Since(startedAt)
	lg.With(log.Count(status.Indexed), log.Elapsed(elapsed)).
		Infof("Collection %q loaded: %d documents in %s",
			coll, status.Indexed, elapsed.Round(time.Second))

	return status
}

// reconcileCounts compares the post-load document counts of the collection
// and its index. A mismatch is reported, not fatal: the change feed may
// already be mutating the collection.
func (s *Snapshot) reconcileCounts(ctx context.Context, status *CollectionStatus, lg log.Logger) {
	err := s.target.Refresh(ctx, status.Index)
	if err != nil {
		lg.Error(err, "Refresh index before count reconciliation")
	}

	sourceCount, err := s.source.Count(ctx, status.Collection)
	if err != nil {
		lg.Error(err, "Count source collection")

		return
	}

	targetCount, err := s.target.Count(ctx, status.Index)
	if err != nil {
		lg.Error(err, "Count target index")

		return
	}

	status.SourceCount = sourceCount
	status.TargetCount = targetCount
	status.CountMatch = sourceCount == targetCount

	if !status.CountMatch {
		metrics.IncSnapshotCountMismatch()

		lg.Warnf("Count mismatch for %q: source=%d target=%d",
			status.Collection, sourceCount, targetCount)
	}
}
