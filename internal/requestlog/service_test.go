package requestlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/Resinat/reqlog/internal/config"
	"github.com/Resinat/reqlog/internal/model"
)

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *Session) {
	t.Helper()
	s, _, _ := newTestSession(t)
	logger, _ := logtest.NewNullLogger()
	cfg.Session = s
	cfg.Logger = logger
	return NewService(cfg), s
}

func waitForCount(t *testing.T, svc *Service, base string, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := svc.Count(context.Background(), base)
		if err != nil {
			t.Fatalf("Count(%s): %v", base, err)
		}
		if n == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for service flush")
}

func TestService_FlushesByBatchSize(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{
		QueueSize:     8,
		FlushBatch:    2,
		FlushInterval: time.Hour,
	})
	svc.Start()
	t.Cleanup(svc.Stop)

	if !svc.Emit(started(1)) || !svc.Emit(completed(2)) {
		t.Fatal("Emit should accept events while the queue has room")
	}
	waitForCount(t, svc, "completed", 1)

	if got, _ := svc.Count(context.Background(), "started"); got != 1 {
		t.Fatalf("count(started): got %d, want 1", got)
	}
	stats := svc.Stats()
	if stats[StatQueued] != 2 || stats[StatFlushed] != 2 {
		t.Fatalf("stats: got %v", stats)
	}
}

func TestService_FlushesByInterval(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{
		QueueSize:     8,
		FlushBatch:    8,
		FlushInterval: 20 * time.Millisecond,
	})
	svc.Start()
	t.Cleanup(svc.Stop)

	svc.Emit(model.FailedEvent{Line: 1})
	waitForCount(t, svc, "failed", 1)
}

func TestService_StopDrainsQueue(t *testing.T) {
	svc, s := newTestService(t, ServiceConfig{
		QueueSize:     16,
		FlushBatch:    4,
		FlushInterval: time.Hour,
	})
	for i := 1; i <= 10; i++ {
		svc.Emit(model.FailedEvent{Line: i})
	}
	svc.Start()
	svc.Stop()

	if got := mustCount(t, s, "failed"); got != 10 {
		t.Fatalf("count(failed) after Stop: got %d, want 10", got)
	}
}

func TestService_DropsOnOverflow(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{
		QueueSize:     2,
		FlushBatch:    2,
		FlushInterval: time.Hour,
	})

	// Not started, so nothing drains the queue.
	svc.Emit(model.FailedEvent{Line: 1})
	svc.Emit(model.FailedEvent{Line: 2})
	if svc.Emit(model.FailedEvent{Line: 3}) {
		t.Fatal("Emit should drop when the queue is full")
	}
	stats := svc.Stats()
	if stats[StatQueued] != 2 || stats[StatDropped] != 1 {
		t.Fatalf("stats: got %v", stats)
	}
}

func TestService_RolledBackBatchCounted(t *testing.T) {
	svc, s := newTestService(t, ServiceConfig{
		QueueSize:     8,
		FlushBatch:    8,
		FlushInterval: time.Hour,
	})
	bad := completed(2)
	bad.URL = ""
	svc.Emit(started(1))
	svc.Emit(bad)
	svc.Start()
	svc.Stop()

	if got := mustCount(t, s, "started"); got != 0 {
		t.Fatalf("count(started): got %d, want 0", got)
	}
	if got := svc.Stats()[StatRolledBack]; got != 2 {
		t.Fatalf("rolled back: got %d, want 2", got)
	}
}

func TestService_BackfillNow(t *testing.T) {
	svc, s := newTestService(t, ServiceConfig{})

	ev := completed(1)
	ev.DB = nil
	if _, err := s.InsertSingle(context.Background(), ev); err != nil {
		t.Fatalf("InsertSingle: %v", err)
	}
	n, err := svc.BackfillNow(context.Background())
	if err != nil {
		t.Fatalf("BackfillNow: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows: got %d, want 1", n)
	}
	if got := svc.Stats()[StatBackfilled]; got != 1 {
		t.Fatalf("backfilled stat: got %d, want 1", got)
	}
}

func TestService_NextBackfill(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{BackfillSchedule: "0 3 * * *"})
	next := svc.NextBackfill()
	if next.IsZero() {
		t.Fatal("NextBackfill should be set when a schedule is configured")
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Fatalf("NextBackfill: got %v, want 03:00", next)
	}

	unscheduled, _ := newTestService(t, ServiceConfig{})
	if !unscheduled.NextBackfill().IsZero() {
		t.Fatal("NextBackfill should be zero without a schedule")
	}

	invalid, _ := newTestService(t, ServiceConfig{BackfillSchedule: "whenever"})
	if !invalid.NextBackfill().IsZero() {
		t.Fatal("an invalid schedule must not be registered")
	}
}

func TestOpenService_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "requests.db")
	cfg.QueueSize = 4
	cfg.FlushBatch = 1
	cfg.LogLevel = "error"

	svc, session, err := OpenService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenService: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	svc.Start()
	t.Cleanup(svc.Stop)

	svc.Emit(model.FailedEvent{Line: 1})
	waitForCount(t, svc, "failed", 1)
	if svc.NextBackfill().IsZero() {
		t.Fatal("default config schedules the backfill")
	}
}
