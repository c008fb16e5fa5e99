// Package scheduler destroys seen messages when their deadline passes.
//
// Two cooperating mechanisms: a precise one-shot timer per message for low
// deletion latency, and a cron-driven sweep that deletes everything overdue.
// The sweep is the durability guarantee; timers are lost on restart and
// that is fine. Both paths call the same "delete if exists" primitive, so
// racing on one message is a no-op.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/metrics"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

// EmptyThreadCleaner lets the sweep also prune empty duplicate threads.
type EmptyThreadCleaner interface {
	DeleteEmptyThreads(ctx context.Context) (int64, error)
}

// Scheduler fires one-shot deletions and runs the periodic sweep.
type Scheduler struct {
	db       store.DataStore
	registry EmptyThreadCleaner
	cron     string
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. registry may be nil to skip empty-thread pruning.
func New(db store.DataStore, registry EmptyThreadCleaner, cron string, timeout time.Duration, logger zerolog.Logger) *Scheduler {
	if cron == "" {
		cron = "*/2 * * * *"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Scheduler{
		db:       db,
		registry: registry,
		cron:     cron,
		timeout:  timeout,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Start launches the sweep loop. Call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.runSweepLoop(ctx)
}

// Stop cancels the sweep loop and every pending one-shot timer.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// Arm schedules a one-shot deletion for a message at its deadline.
// Re-arming replaces the previous timer, which is how a re-marked "seen"
// resets the clock. The timer is purely a latency optimization: if the
// process restarts before it fires, the sweep deletes the message instead.
func (s *Scheduler) Arm(messageID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[messageID]; ok {
		prev.Stop()
	}
	s.timers[messageID] = time.AfterFunc(time.Until(at), func() {
		s.fire(messageID)
	})
}

func (s *Scheduler) fire(messageID string) {
	s.mu.Lock()
	delete(s.timers, messageID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.db.DeleteMessage(ctx, messageID); err != nil {
		// The sweep will retry; nothing to unwind here.
		s.logger.Error().Err(err).Str("message", messageID).Msg("timed deletion failed")
		return
	}
	metrics.MessagesDeleted.WithLabelValues("timer").Inc()
	s.logger.Debug().Str("message", messageID).Msg("message deleted by timer")
}

// runSweepLoop computes the next cron tick and sleeps until it. gronx
// supports full cron syntax for the sweep cadence.
func (s *Scheduler) runSweepLoop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now()
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err != nil {
			s.logger.Error().Err(err).Str("cron", s.cron).Msg("sweep next-tick computation failed")
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep deletes every message whose delete_after has passed, regardless of
// whether its timer fired, then prunes empty threads. Exported so tests and
// admin triggers can run a pass on demand.
func (s *Scheduler) Sweep(ctx context.Context) {
	bctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.db.DeleteExpiredMessages(bctx, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("deletion sweep failed")
	} else if n > 0 {
		metrics.MessagesDeleted.WithLabelValues("sweep").Add(float64(n))
		s.logger.Info().Int64("deleted", n).Msg("sweep removed overdue messages")
	}

	if s.registry != nil {
		if _, err := s.registry.DeleteEmptyThreads(bctx); err != nil {
			s.logger.Error().Err(err).Msg("empty thread cleanup failed")
		}
	}
}
