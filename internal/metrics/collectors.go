package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Batch outcome label values.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

var (
	// EventsInserted counts rows written per event kind. Rows of a batch that
	// later rolls back are counted too; BatchesTotal tells the two apart.
	EventsInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqlog_events_inserted_total",
			Help: "Rows inserted per event kind",
		},
		[]string{"kind"},
	)

	// EventsIgnored counts records dropped for an unknown or missing kind.
	EventsIgnored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reqlog_events_ignored_total",
			Help: "Records dropped because their kind was not recognized",
		},
	)

	// UnterminatedRequests counts started requests abandoned by a later start.
	UnterminatedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reqlog_unterminated_requests_total",
			Help: "Started requests that were never completed or failed",
		},
	)

	// BatchesTotal counts finished batches by outcome.
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqlog_batches_total",
			Help: "Batches by outcome",
		},
		[]string{"outcome"},
	)

	// BatchDuration tracks wall time from BEGIN to COMMIT or ROLLBACK.
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reqlog_batch_duration_seconds",
			Help:    "Batch wall time",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	// BackfilledRows counts completed rows whose database time was derived.
	BackfilledRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reqlog_backfilled_rows_total",
			Help: "Completed rows updated by the database time backfill",
		},
	)

	// QueueDropped counts events the async service dropped on a full queue.
	QueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reqlog_queue_dropped_total",
			Help: "Events dropped because the ingest queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsInserted)
	prometheus.MustRegister(EventsIgnored)
	prometheus.MustRegister(UnterminatedRequests)
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(BackfilledRows)
	prometheus.MustRegister(QueueDropped)
}
