package requestlog

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/Resinat/reqlog/internal/metrics"
)

func TestTracker_StartThenTerminal(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	tr := NewTracker(logger)

	if _, open := tr.OpenLine(); open {
		t.Fatal("new tracker should have no open request")
	}
	if _, warned := tr.OnStarted(10, 101); warned {
		t.Fatal("first start must not warn")
	}
	if line, open := tr.OpenLine(); !open || line != 10 {
		t.Fatalf("OpenLine: got (%d, %v), want (10, true)", line, open)
	}

	id, ok := tr.OnTerminal()
	if !ok || id != 101 {
		t.Fatalf("OnTerminal: got (%d, %v), want (101, true)", id, ok)
	}
	if _, open := tr.OpenLine(); open {
		t.Fatal("terminal event should close the request")
	}
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("unexpected log entries: %d", len(hook.AllEntries()))
	}
}

func TestTracker_TerminalWithoutStart(t *testing.T) {
	tr := NewTracker(nil)
	if id, ok := tr.OnTerminal(); ok || id != 0 {
		t.Fatalf("OnTerminal: got (%d, %v), want (0, false)", id, ok)
	}
}

func TestTracker_UnterminatedWarning(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	tr := NewTracker(logger)
	before := testutil.ToFloat64(metrics.UnterminatedRequests)

	tr.OnStarted(1, 11)
	w, warned := tr.OnStarted(2, 12)
	if !warned {
		t.Fatal("second start without terminal should warn")
	}
	if w.OpenLine != 1 || w.NewLine != 2 {
		t.Fatalf("warning: got %+v, want open=1 new=2", w)
	}
	want := "unclosed request encountered on line 2 (request started on line 1)"
	if w.String() != want {
		t.Fatalf("message: got %q, want %q", w.String(), want)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel || entry.Message != want {
		t.Fatalf("log entry: got %+v", entry)
	}
	if entry.Data["open_line"] != 1 || entry.Data["new_line"] != 2 {
		t.Fatalf("log fields: got %v", entry.Data)
	}
	if delta := testutil.ToFloat64(metrics.UnterminatedRequests) - before; delta != 1 {
		t.Fatalf("metric delta: got %v, want 1", delta)
	}

	// The newer start replaces the abandoned one.
	if id, ok := tr.OnTerminal(); !ok || id != 12 {
		t.Fatalf("OnTerminal: got (%d, %v), want (12, true)", id, ok)
	}
}

func TestTracker_SnapshotRestore(t *testing.T) {
	tr := NewTracker(nil)
	tr.OnStarted(3, 33)
	snap := tr.snapshot()

	tr.OnTerminal()
	tr.OnStarted(4, 44)
	tr.restore(snap)

	if line, open := tr.OpenLine(); !open || line != 3 {
		t.Fatalf("OpenLine after restore: got (%d, %v), want (3, true)", line, open)
	}
	if id, ok := tr.OnTerminal(); !ok || id != 33 {
		t.Fatalf("OnTerminal after restore: got (%d, %v), want (33, true)", id, ok)
	}
}
