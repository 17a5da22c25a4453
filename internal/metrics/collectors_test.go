package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors_RegisteredWithDefaultRegistry(t *testing.T) {
	EventsInserted.WithLabelValues("started")
	BatchesTotal.WithLabelValues(OutcomeCommitted)

	want := []string{
		"reqlog_events_inserted_total",
		"reqlog_events_ignored_total",
		"reqlog_unterminated_requests_total",
		"reqlog_batches_total",
		"reqlog_batch_duration_seconds",
		"reqlog_backfilled_rows_total",
		"reqlog_queue_dropped_total",
	}
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := make(map[string]bool, len(families))
	for _, mf := range families {
		got[mf.GetName()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Fatalf("metric %s not registered", name)
		}
	}
}

func TestBatchesTotal_LabelsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(BatchesTotal.WithLabelValues(OutcomeRolledBack))
	BatchesTotal.WithLabelValues(OutcomeRolledBack).Inc()
	if got := testutil.ToFloat64(BatchesTotal.WithLabelValues(OutcomeRolledBack)) - before; got != 1 {
		t.Fatalf("rolled back delta: got %v, want 1", got)
	}
}
