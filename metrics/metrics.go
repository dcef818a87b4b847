// Package metrics exposes Prometheus metrics for the sync pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricNamespace = "searchlink_mongodb"

// Change feed counters.
var (
	//nolint:gochecknoglobals
	eventsReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "events_read_total",
		Help:      "Total number of change events read from the source.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	eventsAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "events_applied_total",
		Help:      "Total number of change events applied to the search store.",
		Namespace: metricNamespace,
	}, []string{"op"})

	//nolint:gochecknoglobals
	eventsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "events_skipped_total",
		Help:      "Total number of change events skipped as inapplicable.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	mutationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "mutation_failures_total",
		Help:      "Total number of search store mutations that failed.",
		Namespace: metricNamespace,
	})
)

// Snapshot counters and gauges.
var (
	//nolint:gochecknoglobals
	snapshotReadDocumentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "snapshot_read_document_total",
		Help:      "Total count of documents read during the snapshot.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	snapshotIndexedDocumentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "snapshot_indexed_document_total",
		Help:      "Total count of documents indexed during the snapshot.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	snapshotReadSizeBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "snapshot_read_size_bytes_total",
		Help:      "Total size of documents read during the snapshot in bytes.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	snapshotDocumentErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "snapshot_document_errors_total",
		Help:      "Total count of documents rejected by the search store during the snapshot.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	snapshotCountMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "snapshot_count_mismatch_total",
		Help:      "Total count of collections whose post-snapshot document count did not match.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	snapshotBulkDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:      "snapshot_bulk_duration_seconds",
		Help:      "Duration of snapshot bulk index requests in seconds.",
		Namespace: metricNamespace,
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
)

// Worker pipeline gauges.
var (
	//nolint:gochecknoglobals
	workerEventQueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "worker_event_queue_size",
		Help:      "Number of events in a worker's inbound queue.",
		Namespace: metricNamespace,
	}, []string{"worker"})

	//nolint:gochecknoglobals
	workerEventsAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "worker_events_applied_total",
		Help:      "Total events applied by each worker.",
		Namespace: metricNamespace,
	}, []string{"worker"})
)

// Init initializes and registers the metrics.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: metricNamespace,
	}))

	reg.MustRegister(
		eventsReadTotal,
		eventsAppliedTotal,
		eventsSkippedTotal,
		mutationFailuresTotal,

		snapshotReadDocumentTotal,
		snapshotIndexedDocumentTotal,
		snapshotReadSizeBytesTotal,
		snapshotDocumentErrorsTotal,
		snapshotCountMismatchTotal,
		snapshotBulkDurationSeconds,

		workerEventQueueSize,
		workerEventsAppliedTotal,
	)
}

// IncEventsRead increments the total number of events read counter.
func IncEventsRead() {
	eventsReadTotal.Inc()
}

// IncEventsApplied increments the applied events counter for an operation kind.
func IncEventsApplied(op string) {
	eventsAppliedTotal.WithLabelValues(op).Inc()
}

// IncEventsSkipped increments the skipped events counter.
func IncEventsSkipped() {
	eventsSkippedTotal.Inc()
}

// IncMutationFailures increments the failed mutations counter.
func IncMutationFailures() {
	mutationFailuresTotal.Inc()
}

// AddSnapshotReadDocumentCount increments the count of documents read during the snapshot.
func AddSnapshotReadDocumentCount(v int) {
	snapshotReadDocumentTotal.Add(float64(v))
}

// AddSnapshotIndexedDocumentCount increments the count of documents indexed during the snapshot.
func AddSnapshotIndexedDocumentCount(v int) {
	snapshotIndexedDocumentTotal.Add(float64(v))
}

// AddSnapshotReadSize increments the total size of documents read during the snapshot.
func AddSnapshotReadSize(v uint64) {
	snapshotReadSizeBytesTotal.Add(float64(v))
}

// AddSnapshotDocumentErrors increments the count of documents rejected during the snapshot.
func AddSnapshotDocumentErrors(v int) {
	snapshotDocumentErrorsTotal.Add(float64(v))
}

// IncSnapshotCountMismatch increments the count of collections with a post-snapshot
// count mismatch.
func IncSnapshotCountMismatch() {
	snapshotCountMismatchTotal.Inc()
}

// ObserveSnapshotBulkDuration records the duration of a snapshot bulk index request.
func ObserveSnapshotBulkDuration(d time.Duration) {
	snapshotBulkDurationSeconds.Observe(d.Seconds())
}

// SetWorkerEventQueueSize sets the current size of a worker's inbound event queue.
func SetWorkerEventQueueSize(worker string, v int) {
	workerEventQueueSize.WithLabelValues(worker).Set(float64(v))
}

// IncWorkerEventsApplied increments the per-worker applied events counter.
func IncWorkerEventsApplied(worker string) {
	workerEventsAppliedTotal.WithLabelValues(worker).Inc()
}
