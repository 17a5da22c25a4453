package requestlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Resinat/reqlog/internal/config"
	"github.com/Resinat/reqlog/internal/metrics"
	"github.com/Resinat/reqlog/internal/model"
)

// Stat keys reported by Service.Stats.
const (
	StatQueued     = "queued"
	StatDropped    = "dropped"
	StatFlushed    = "flushed"
	StatRolledBack = "rolled_back"
	StatBackfilled = "backfilled"
)

// Service provides an async event writer on top of a Session.
// Emit performs a non-blocking channel send (drops on overflow).
// A background goroutine flushes batches through Session.RunBatch, and an
// optional cron schedule runs the database time backfill. Both take the same
// lock, so a backfill never overlaps an open batch.
type Service struct {
	mu      sync.Mutex // guards session
	session *Session

	queue     chan model.Event
	batchSize int
	interval  time.Duration
	log       logrus.FieldLogger

	cron        *cron.Cron
	cronEntryID cron.EntryID

	stats *xsync.Map[string, *atomic.Int64]

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ServiceConfig configures the event writer service.
type ServiceConfig struct {
	Session       *Session
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration

	// BackfillSchedule is a standard cron expression; empty disables the job.
	BackfillSchedule string

	Logger logrus.FieldLogger
}

// NewService creates a new event writer service.
func NewService(cfg ServiceConfig) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 8192
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 1024
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{
		session:   cfg.Session,
		queue:     make(chan model.Event, queueSize),
		batchSize: batchSize,
		interval:  interval,
		log:       logger.WithField("component", "requestlog.service"),
		cron:      cron.New(),
		stats:     xsync.NewMap[string, *atomic.Int64](),
		stopCh:    make(chan struct{}),
	}

	if cfg.BackfillSchedule != "" {
		entryID, err := s.cron.AddFunc(cfg.BackfillSchedule, func() {
			if _, err := s.BackfillNow(context.Background()); err != nil {
				s.log.WithError(err).Error("scheduled backfill failed")
			}
		})
		if err != nil {
			s.log.WithError(err).Errorf("invalid backfill schedule %q", cfg.BackfillSchedule)
		} else {
			s.cronEntryID = entryID
		}
	}
	return s
}

// OpenService opens the session described by cfg and wraps it in a Service
// that is not yet started. Closing the returned Session is up to the caller,
// after Stop.
func OpenService(ctx context.Context, cfg *config.Config) (*Service, *Session, error) {
	logger := cfg.Logger()
	session, err := OpenSession(ctx, cfg.DBPath,
		WithLogger(logger),
		WithCountCacheSize(cfg.CountCacheSize),
	)
	if err != nil {
		return nil, nil, err
	}
	svc := NewService(ServiceConfig{
		Session:          session,
		QueueSize:        cfg.QueueSize,
		FlushBatch:       cfg.FlushBatch,
		FlushInterval:    cfg.FlushInterval.Std(),
		BackfillSchedule: cfg.BackfillSchedule,
		Logger:           logger,
	})
	return svc, session, nil
}

// Start launches the background flush goroutine and the backfill schedule.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
	s.cron.Start()
}

// Stop stops the schedule, drains remaining events, and returns once the
// final flush is done. The Session stays open.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	close(s.stopCh)
	s.wg.Wait()
}

// Emit enqueues an event. Non-blocking; returns false and drops the event
// when the queue is full.
func (s *Service) Emit(ev model.Event) bool {
	select {
	case s.queue <- ev:
		s.incr(StatQueued, 1)
		return true
	default:
		s.incr(StatDropped, 1)
		metrics.QueueDropped.Inc()
		return false
	}
}

// BackfillNow runs Session.CalculateMissingDurations under the session lock.
func (s *Service) BackfillNow(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.session.CalculateMissingDurations(ctx)
	if err != nil {
		return 0, err
	}
	s.incr(StatBackfilled, n)
	return n, nil
}

// Count runs Session.Count under the session lock.
func (s *Service) Count(ctx context.Context, base string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Count(ctx, base)
}

// Stats returns a snapshot of the service counters keyed by the Stat* names.
func (s *Service) Stats() map[string]int64 {
	out := map[string]int64{
		StatQueued:     0,
		StatDropped:    0,
		StatFlushed:    0,
		StatRolledBack: 0,
		StatBackfilled: 0,
	}
	s.stats.Range(func(key string, ctr *atomic.Int64) bool {
		out[key] = ctr.Load()
		return true
	})
	return out
}

// NextBackfill returns the next scheduled backfill time, or the zero time
// when no schedule is configured.
func (s *Service) NextBackfill() time.Time {
	entry := s.cron.Entry(s.cronEntryID)
	if entry.ID == 0 {
		return time.Time{}
	}
	if entry.Next.IsZero() && entry.Schedule != nil {
		return entry.Schedule.Next(time.Now())
	}
	return entry.Next
}

func (s *Service) incr(key string, n int64) {
	ctr, _ := s.stats.LoadOrStore(key, new(atomic.Int64))
	ctr.Add(n)
}

// flushLoop runs until stopCh is closed, flushing on batch-size or timer.
func (s *Service) flushLoop() {
	defer s.wg.Done()

	batch := make([]model.Event, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			s.drainAndFlush(batch)
			return
		}
	}
}

func (s *Service) drainAndFlush(batch []model.Event) {
	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Service) flush(events []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.session.RunBatch(context.Background(), func(b *Batch) error {
		for _, ev := range events {
			if err := b.Insert(ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.incr(StatRolledBack, int64(len(events)))
		s.log.WithError(err).Errorf("flush %d events failed", len(events))
		return
	}
	s.incr(StatFlushed, int64(res.Total()))
	s.log.WithFields(logrus.Fields{
		"batch_id": res.ID,
		"rows":     res.Total(),
		"ignored":  res.Ignored,
	}).Info("flushed events")
}
