package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"github.com/Resinat/reqlog/internal/metrics"
	"github.com/Resinat/reqlog/internal/model"
)

// Producer drives the inserts of one batch. Returning an error rolls the
// batch back.
type Producer func(b *Batch) error

// BatchResult describes one RunBatch call, committed or not.
type BatchResult struct {
	ID        string
	Committed bool
	Inserted  map[model.Kind]int
	Ignored   int
	Warnings  []UnterminatedWarning
	Elapsed   time.Duration
}

// Total returns the number of rows inserted across all kinds.
func (r *BatchResult) Total() int {
	n := 0
	for _, c := range r.Inserted {
		n += c
	}
	return n
}

// Batch is the handle a Producer inserts through. It is valid only until the
// Producer returns.
type Batch struct {
	ctx     context.Context
	pool    *StatementPool
	tracker *Tracker
	log     logrus.FieldLogger
	result  *BatchResult

	// err poisons the batch after the first rejected row.
	err    error
	closed bool
}

// Insert routes ev to the statement for its kind and executes it.
// Events of an unrecognized kind are dropped and reported in the result.
// A row rejected by the store is returned as *InsertError; once that happens
// the batch will roll back and every later Insert returns the same error.
func (b *Batch) Insert(ev model.Event) error {
	if b.closed {
		return ErrBatchClosed
	}
	if b.err != nil {
		return b.err
	}

	var (
		kind model.Kind
		args []any
		line int
	)
	switch e := ev.(type) {
	case model.StartedEvent:
		kind, line = model.KindStarted, e.Line
		args = []any{
			sql.Named("line", required(e.Line, e.Missing.Has(model.FieldLine))),
			sql.Named("timestamp", requiredTime(e.Timestamp)),
			sql.Named("ip", requiredString(e.IP)),
			sql.Named("method", requiredString(e.Method)),
			sql.Named("controller", requiredString(e.Controller)),
			sql.Named("action", requiredString(e.Action)),
		}

	case model.CompletedEvent:
		kind, line = model.KindCompleted, e.Line
		args = []any{
			sql.Named("line", required(e.Line, e.Missing.Has(model.FieldLine))),
			sql.Named("url", requiredString(e.URL)),
			sql.Named("hashed_url", hashURL(e.URL)),
			sql.Named("status", required(e.Status, e.Missing.Has(model.FieldStatus))),
			sql.Named("duration", optionalFloat(e.Duration)),
			sql.Named("rendering", optionalFloat(e.Rendering)),
			sql.Named("db", optionalFloat(e.DB)),
		}

	case model.FailedEvent:
		kind, line = model.KindFailed, e.Line
		args = []any{
			sql.Named("line", required(e.Line, e.Missing.Has(model.FieldLine))),
		}

	default:
		fields := logrus.Fields{"batch_id": b.result.ID}
		if ev != nil {
			fields["kind"] = string(ev.Kind())
			fields["line"] = ev.SourceLine()
		}
		b.log.WithFields(fields).Warn("ignored unknown statement type")
		b.result.Ignored++
		metrics.EventsIgnored.Inc()
		return nil
	}

	if kind.Terminal() {
		startedID, open := b.tracker.OnTerminal()
		args = append(args, sql.Named("started_request_id", optionalID(startedID, open)))
	}

	stmt, err := b.pool.Get(kind)
	if err != nil {
		b.err = err
		return err
	}
	res, err := stmt.ExecContext(b.ctx, args...)
	if err != nil {
		b.err = &InsertError{Kind: kind, Line: line, Err: err}
		return b.err
	}

	if kind == model.KindStarted {
		id, err := res.LastInsertId()
		if err != nil {
			b.err = &InsertError{Kind: kind, Line: line, Err: fmt.Errorf("last insert id: %w", err)}
			return b.err
		}
		if w, warned := b.tracker.OnStarted(line, id); warned {
			b.result.Warnings = append(b.result.Warnings, w)
		}
	}

	b.result.Inserted[kind]++
	metrics.EventsInserted.WithLabelValues(string(kind)).Inc()
	return nil
}

// required binds a missing integer as NULL so the NOT NULL constraint rejects
// the row instead of storing a placeholder. Zero is a real value here.
func required(v int, missing bool) any {
	if missing {
		return nil
	}
	return int64(v)
}

// requiredString binds "" as NULL. requiredTime does the same for the zero
// time.
func requiredString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requiredTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func optionalFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func optionalID(id int64, ok bool) any {
	if !ok {
		return nil
	}
	return id
}

// hashURL returns the xxh3-64 digest of url as 16 hex characters.
func hashURL(url string) any {
	if url == "" {
		return nil
	}
	return fmt.Sprintf("%016x", xxh3.HashString(url))
}
