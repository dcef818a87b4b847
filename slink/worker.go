package slink

import (
	"context"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/searchlink/searchlink-mongodb/config"
	"github.com/searchlink/searchlink-mongodb/log"
	"github.com/searchlink/searchlink-mongodb/metrics"
)

// worker applies mutations for a subset of indexes. Mutations are routed to
// workers by index name hash so all operations on one index are applied by
// the same worker, preserving per-index ordering.
type worker struct {
	id int

	mutationCh chan Mutation
	target     Target

	eventsApplied atomic.Int64
	failures      atomic.Int64
}

func newWorker(id int, target Target) *worker {
	return &worker{
		id:         id,
		mutationCh: make(chan Mutation, config.EventQueueSize),
		target:     target,
	}
}

// run is the main loop for the worker. It applies mutations one by one in
// arrival order.
func (w *worker) run(ctx context.Context) {
	lg := log.New("repl:worker").With(log.Int64("id", int64(w.id)))
	lg.Debug("Worker started")

	for mut := range w.mutationCh {
		w.apply(ctx, lg, mut)

		metrics.SetWorkerEventQueueSize(strconv.Itoa(w.id), len(w.mutationCh))
	}

	lg.Debug("Worker stopped (channel closed)")
}

// apply executes a single mutation. Failures are counted, not fatal: every
// mutation is idempotent and the store keeps serving the remaining indexes.
func (w *worker) apply(ctx context.Context, lg log.Logger, mut Mutation) {
	var err error

	switch mut.Kind {
	case MutationUpsert:
		err = w.target.Upsert(ctx, mut.Index, mut.DocID, mut.Body)

	case MutationDelete:
		err = w.target.Delete(ctx, mut.Index, mut.DocID)

	case MutationDropIndex:
		err = w.target.DeleteIndex(ctx, mut.Index)

	case MutationNone:
		return
	}

	if err != nil {
		w.failures.Add(1)
		metrics.IncMutationFailures()

		lg.With(log.Index(mut.Index)).
			Errorf(err, "Apply %s to %q", mutationName(mut.Kind), mut.Index)

		return
	}

	w.eventsApplied.Add(1)
	metrics.IncWorkerEventsApplied(strconv.Itoa(w.id))
	metrics.IncEventsApplied(mutationName(mut.Kind))
}

func mutationName(kind MutationKind) string {
	switch kind {
	case MutationUpsert:
		return "upsert"
	case MutationDelete:
		return "delete"
	case MutationDropIndex:
		return "drop-index"
	default:
		return "none"
	}
}

// workerPool manages parallel mutation workers.
type workerPool struct {
	workers    []*worker
	numWorkers int

	wg sync.WaitGroup
}

// newWorkerPool creates a new worker pool with the specified number of
// workers. If numWorkers is 0, it defaults to runtime.NumCPU().
func newWorkerPool(ctx context.Context, numWorkers int, target Target) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	p := &workerPool{
		workers:    make([]*worker, numWorkers),
		numWorkers: numWorkers,
	}

	for i := range numWorkers {
		w := newWorker(i, target)
		p.workers[i] = w

		p.wg.Go(func() {
			w.run(ctx)
		})
	}

	log.New("repl:pool").With(log.Int64("workers", int64(numWorkers))).
		Info("Worker pool started")

	return p
}

// Route sends a mutation to the worker owning its index.
func (p *workerPool) Route(mut Mutation) {
	p.workers[hashIndexName(mut.Index, p.numWorkers)].mutationCh <- mut
}

// Stop closes the worker queues and waits until every buffered mutation has
// been applied.
func (p *workerPool) Stop() {
	for _, w := range p.workers {
		close(w.mutationCh)
	}

	p.wg.Wait()

	log.New("repl:pool").Debug("Worker pool stopped")
}

// TotalEventsApplied returns the sum of mutations applied across all workers.
func (p *workerPool) TotalEventsApplied() int64 {
	var total int64
	for _, w := range p.workers {
		total += w.eventsApplied.Load()
	}

	return total
}

// TotalFailures returns the sum of failed mutations across all workers.
func (p *workerPool) TotalFailures() int64 {
	var total int64
	for _, w := range p.workers {
		total += w.failures.Load()
	}

	return total
}

// hashIndexName computes a consistent hash of the index name and returns a
// worker index in range [0, numWorkers).
func hashIndexName(index string, numWorkers int) int {
	h := fnv.New32a()
	h.Write([]byte(index))

	// reduce before converting so the result stays in range on 32-bit ints
	return int(h.Sum32() % uint32(numWorkers))
}
