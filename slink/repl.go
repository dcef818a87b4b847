package slink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchlink/searchlink-mongodb/config"
	"github.com/searchlink/searchlink-mongodb/errors"
	"github.com/searchlink/searchlink-mongodb/log"
	"github.com/searchlink/searchlink-mongodb/metrics"
	"github.com/searchlink/searchlink-mongodb/sel"
)

// ErrInvalidateEvent reports that the change feed was invalidated and cannot
// continue.
var ErrInvalidateEvent = errors.New("invalidate")

// Repl mirrors the change feed of the source database into the search store.
type Repl struct {
	source Source
	target Target

	prefix string
	filter sel.CollFilter

	lock sync.Mutex
	err  error

	eventsRead    atomic.Int64
	eventsSkipped atomic.Int64

	startTime time.Time
	stopTime  time.Time

	doneCh chan struct{}

	pool *workerPool
}

// ReplStatus represents the status of change feed mirroring.
type ReplStatus struct {
	StartTime time.Time
	StopTime  time.Time

	// EventsRead is the number of events read from the change feed.
	EventsRead int64
	// EventsApplied is the number of mutations applied to the store.
	EventsApplied int64
	// EventsSkipped is the number of events that required no mutation.
	EventsSkipped int64
	// Failures is the number of mutations the store rejected.
	Failures int64

	Err error
}

//go:inline
func (s *ReplStatus) IsStarted() bool {
	return !s.StartTime.IsZero()
}

//go:inline
func (s *ReplStatus) IsRunning() bool {
	return s.IsStarted() && s.StopTime.IsZero()
}

// NewRepl creates a new Repl instance.
func NewRepl(source Source, target Target, prefix string, filter sel.CollFilter) *Repl {
	return &Repl{
		source: source,
		target: target,
		prefix: prefix,
		filter: filter,
		doneCh: make(chan struct{}),
	}
}

// Status returns the current mirroring status.
func (r *Repl) Status() ReplStatus {
	r.lock.Lock()
	defer r.lock.Unlock()

	s := ReplStatus{
		StartTime: r.startTime,
		StopTime:  r.stopTime,

		EventsRead:    r.eventsRead.Load(),
		EventsSkipped: r.eventsSkipped.Load(),

		Err: r.err,
	}

	if r.pool != nil {
		s.EventsApplied = r.pool.TotalEventsApplied()
		s.Failures = r.pool.TotalFailures()
	}

	return s
}

// Done returns a channel closed when the mirroring has stopped.
func (r *Repl) Done() <-chan struct{} {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.doneCh
}

// Start begins consuming the change feed. The feed stops when ctx is
// canceled, the stream fails, or an invalidate event arrives; buffered
// mutations are drained before Done is closed.
func (r *Repl) Start(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if !r.startTime.IsZero() {
		return errors.New("already started")
	}

	// the pool keeps draining after the stream context is canceled
	r.pool = newWorkerPool(context.Background(), 0, r.target)
	r.startTime = time.Now()

	go r.run(ctx)

	log.New("repl").Info("Change feed mirroring started")

	return nil
}

func (r *Repl) setFailed(err error, msg string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.err = err

	log.New("repl").Error(err, msg)
}

// run consumes the change feed until the context is canceled or the stream
// fails.
func (r *Repl) run(ctx context.Context) {
	lg := log.New("repl")

	err := r.watchChangeEvents(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.setFailed(err, "Change feed mirroring has failed")
	}

	// drain buffered mutations before reporting done
	r.pool.Stop()

	r.lock.Lock()
	r.stopTime = time.Now()
	close(r.doneCh)
	r.lock.Unlock()

	lg.Info("Change feed mirroring stopped")
}

func (r *Repl) watchChangeEvents(ctx context.Context) error {
	lg := log.New("repl:watch")

	cs, err := r.source.Watch(ctx)
	if err != nil {
		return errors.Wrap(err, "open")
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), config.CloseCursorTimeout)
		defer cancel()

		err := cs.Close(closeCtx)
		if err != nil {
			lg.Error(err, "Close change stream cursor")
		}
	}()

	for cs.Next(ctx) {
		r.eventsRead.Add(1)
		metrics.IncEventsRead()

		change, err := parseChangeEvent(cs.Current())
		if err != nil {
			// a malformed event cannot be applied but the feed itself is
			// intact
			lg.Error(err, "Parse change event")
			r.eventsSkipped.Add(1)
			metrics.IncEventsSkipped()

			continue
		}

		if change.OperationType == Invalidate {
			return ErrInvalidateEvent
		}

		if change.Collection != "" && !r.filter(change.Collection) {
			r.skip(lg, change, "collection excluded")

			continue
		}

		mut, err := TranslateEvent(r.prefix, change)
		if err != nil {
			// the event cannot be applied but the feed itself is intact
			lg.With(log.Coll(change.Collection)).
				Error(err, "Translate change event")
			r.eventsSkipped.Add(1)
			metrics.IncEventsSkipped()

			continue
		}

		if mut.Kind == MutationNone {
			r.skip(lg, change, "no mutation")

			continue
		}

		r.pool.Route(mut)
	}

	return errors.Wrap(cs.Err(), "cursor")
}

func (r *Repl) skip(lg log.Logger, change *ChangeEvent, reason string) {
	r.eventsSkipped.Add(1)
	metrics.IncEventsSkipped()

	lg.With(log.Coll(change.Collection), log.Op(string(change.OperationType))).
		Debugf("Skipping event: %s", reason)
}
