// Package requestlog writes request lifecycle events (started, completed,
// failed) into the SQLite request tables inside batch transactions, and
// correlates each terminal event with the request it closes.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"
	"github.com/sirupsen/logrus"

	"github.com/Resinat/reqlog/internal/metrics"
	"github.com/Resinat/reqlog/internal/model"
	"github.com/Resinat/reqlog/internal/store"
)

const defaultCountCacheSize = 16

// Session owns one SQLite connection, the statement pool and the correlation
// tracker. A Session is not safe for concurrent use; Service serializes
// access when events arrive from several goroutines.
type Session struct {
	db      *sql.DB
	log     logrus.FieldLogger
	pool    StatementPool
	tracker *Tracker

	// counts memoizes Count. It is cleared on every commit of this session
	// and whenever PRAGMA data_version reports a commit by another
	// connection to the same file.
	counts      otter.Cache[model.Kind, int64]
	dataVersion int64

	inBatch bool
	closed  bool
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger         logrus.FieldLogger
	countCacheSize int
}

// WithLogger sets the logger used for diagnostics. Defaults to the logrus
// standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithCountCacheSize bounds the Count memo cache.
func WithCountCacheSize(n int) Option {
	return func(o *sessionOptions) {
		if n > 0 {
			o.countCacheSize = n
		}
	}
}

// OpenSession opens (or creates) the database at path and makes sure the
// request tables exist. Any failure here leaves nothing open.
func OpenSession(ctx context.Context, path string, opts ...Option) (*Session, error) {
	db, err := store.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("requestlog open session: %w", err)
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("requestlog open session %s: %w", path, err)
	}
	s, err := newSession(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// newSession wraps an already initialized database.
func newSession(db *sql.DB, opts ...Option) (*Session, error) {
	o := sessionOptions{countCacheSize: defaultCountCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	log := o.logger.WithField("component", "requestlog")

	counts, err := otter.MustBuilder[model.Kind, int64](o.countCacheSize).Build()
	if err != nil {
		return nil, fmt.Errorf("requestlog count cache: %w", err)
	}
	return &Session{
		db:      db,
		log:     log,
		tracker: NewTracker(log),
		counts:  counts,
	}, nil
}

// Close closes the database. It fails while a batch is running.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	if s.inBatch {
		return ErrBatchInProgress
	}
	s.closed = true
	s.counts.Close()
	return s.db.Close()
}

// OpenLine returns the source line of the request that is currently open.
func (s *Session) OpenLine() (int, bool) {
	return s.tracker.OpenLine()
}

// RunBatch runs produce inside one transaction: BEGIN, prepare the inserts,
// produce, close the inserts, COMMIT. If any step fails, the whole batch is
// rolled back, logged and returned as *BatchError. Failures include produce
// returning an error, produce panicking (ErrProducerPanic) and a rejected row.
// The result is non-nil whenever the batch was attempted.
func (s *Session) RunBatch(ctx context.Context, produce Producer) (*BatchResult, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.inBatch {
		return nil, ErrBatchInProgress
	}

	start := time.Now()
	res := &BatchResult{
		ID:       uuid.NewString(),
		Inserted: make(map[model.Kind]int, len(model.Kinds)),
	}
	log := s.log.WithField("batch_id", res.ID)

	s.inBatch = true
	snap := s.tracker.snapshot()
	defer func() {
		s.inBatch = false
		if !res.Committed {
			// Rows from this batch are gone; forget the requests they opened.
			s.tracker.restore(snap)
		}
	}()

	err := s.runBatch(ctx, produce, res, log)
	res.Elapsed = time.Since(start)
	metrics.BatchDuration.Observe(res.Elapsed.Seconds())

	if err != nil {
		metrics.BatchesTotal.WithLabelValues(metrics.OutcomeRolledBack).Inc()
		log.WithError(err).Error("batch rolled back")
		return res, &BatchError{BatchID: res.ID, Err: err}
	}

	res.Committed = true
	s.counts.Clear()
	metrics.BatchesTotal.WithLabelValues(metrics.OutcomeCommitted).Inc()
	log.WithFields(logrus.Fields{
		"rows":     res.Total(),
		"ignored":  res.Ignored,
		"warnings": len(res.Warnings),
		"elapsed":  res.Elapsed,
	}).Debug("batch committed")
	return res, nil
}

func (s *Session) runBatch(ctx context.Context, produce Producer, res *BatchResult, log logrus.FieldLogger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.pool.Prepare(ctx, tx); err != nil {
		return err
	}
	defer s.pool.Close() //nolint:errcheck

	b := &Batch{
		ctx:     ctx,
		pool:    &s.pool,
		tracker: s.tracker,
		log:     log,
		result:  res,
	}
	defer func() { b.closed = true }()

	if err := callProducer(produce, b); err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	if b.err != nil {
		// The producer swallowed a rejected row.
		return b.err
	}

	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("close statements: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func callProducer(produce Producer, b *Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	return produce(b)
}

// InsertSingle writes one event in a batch of its own.
func (s *Session) InsertSingle(ctx context.Context, ev model.Event) (*BatchResult, error) {
	return s.RunBatch(ctx, func(b *Batch) error {
		return b.Insert(ev)
	})
}

// Count returns the number of rows in the "<base>_requests" table, where base
// is one of the event kinds.
func (s *Session) Count(ctx context.Context, base string) (int64, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	kind := model.Kind(base)
	if !kind.IsValid() {
		return 0, &UnknownKindError{Kind: kind}
	}
	if s.inBatch {
		return 0, ErrBatchInProgress
	}

	var version int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("requestlog count %s: data version: %w", kind, err)
	}
	if version != s.dataVersion {
		s.counts.Clear()
		s.dataVersion = version
	}
	if n, ok := s.counts.Get(kind); ok {
		return n, nil
	}

	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM "%s_requests"`, kind)
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("requestlog count %s: %w", kind, err)
	}
	s.counts.Set(kind, n)
	return n, nil
}

// CalculateMissingDurations derives database_time = duration - rendering_time
// for completed rows whose database time is missing or zero, and returns the
// number of rows updated. Running it twice is harmless.
func (s *Session) CalculateMissingDurations(ctx context.Context) (int64, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	if s.inBatch {
		return 0, ErrBatchInProgress
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE completed_requests
		SET database_time = duration - rendering_time
		WHERE database_time IS NULL OR database_time = 0.0`)
	if err != nil {
		return 0, fmt.Errorf("requestlog backfill database_time: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requestlog backfill rows affected: %w", err)
	}
	metrics.BackfilledRows.Add(float64(n))
	s.log.WithField("rows", n).Info("backfilled database time")
	return n, nil
}
