package requestlog

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Resinat/reqlog/internal/metrics"
)

// UnterminatedWarning reports a request that was started on OpenLine and
// never completed or failed before another request started on NewLine.
type UnterminatedWarning struct {
	OpenLine int
	NewLine  int
}

func (w UnterminatedWarning) String() string {
	return fmt.Sprintf("unclosed request encountered on line %d (request started on line %d)", w.NewLine, w.OpenLine)
}

// Tracker remembers the single request that is currently open. Log streams
// are assumed to be sequential, so a new start implicitly abandons the
// previous one.
type Tracker struct {
	log logrus.FieldLogger

	open     bool
	openLine int
	openID   int64
}

// NewTracker returns a tracker with no open request.
func NewTracker(log logrus.FieldLogger) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{log: log}
}

// OnStarted opens the request started at line whose row id is rowID.
// If another request was still open, a warning naming both lines is logged
// and returned.
func (t *Tracker) OnStarted(line int, rowID int64) (UnterminatedWarning, bool) {
	var (
		w      UnterminatedWarning
		warned bool
	)
	if t.open {
		w = UnterminatedWarning{OpenLine: t.openLine, NewLine: line}
		warned = true
		metrics.UnterminatedRequests.Inc()
		t.log.WithFields(logrus.Fields{
			"open_line": w.OpenLine,
			"new_line":  w.NewLine,
		}).Warn(w.String())
	}
	t.open = true
	t.openLine = line
	t.openID = rowID
	return w, warned
}

// OnTerminal closes the open request, if any, and returns the row id of its
// start. A terminal event without an open request is not an error.
func (t *Tracker) OnTerminal() (startedID int64, ok bool) {
	startedID, ok = t.openID, t.open
	t.open = false
	t.openLine = 0
	t.openID = 0
	return startedID, ok
}

// OpenLine returns the line of the open request.
func (t *Tracker) OpenLine() (int, bool) {
	return t.openLine, t.open
}

type trackerState struct {
	open bool
	line int
	id   int64
}

func (t *Tracker) snapshot() trackerState {
	return trackerState{open: t.open, line: t.openLine, id: t.openID}
}

func (t *Tracker) restore(s trackerState) {
	t.open, t.openLine, t.openID = s.open, s.line, s.id
}
