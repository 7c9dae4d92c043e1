// Package timesync keeps the local estimate of exchange time used to stamp
// signed requests.
package timesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"

	"payeerflow/logger"
)

// TimeSource reports the exchange's current time.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Synchronizer tracks the offset between the exchange clock and the local
// clock. Its Now method satisfies auth.Clock.
type Synchronizer struct {
	src      TimeSource
	clk      clock.Clock
	interval time.Duration
	log      *logger.Entry

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time

	sched gocron.Scheduler
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

func WithClock(clk clock.Clock) Option {
	return func(s *Synchronizer) { s.clk = clk }
}

// New returns a Synchronizer that refreshes every interval once started.
func New(src TimeSource, interval time.Duration, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		src:      src,
		clk:      clock.New(),
		interval: interval,
		log:      logger.GetLogger().WithComponent("timesync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync queries the source once and updates the offset. The local reference
// point is the midpoint of the round trip.
func (s *Synchronizer) Sync(ctx context.Context) error {
	before := s.clk.Now()
	server, err := s.src.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("query server time: %w", err)
	}
	after := s.clk.Now()
	local := before.Add(after.Sub(before) / 2)
	offset := server.Sub(local)

	s.mu.Lock()
	s.offset = offset
	s.lastSync = after
	s.mu.Unlock()

	s.log.WithFields(logger.Fields{
		"offset_ms":     offset.Milliseconds(),
		"round_trip_ms": after.Sub(before).Milliseconds(),
	}).Debug("server time synchronized")
	return nil
}

// Now returns local time corrected by the last known offset.
func (s *Synchronizer) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clk.Now().Add(s.offset)
}

func (s *Synchronizer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// LastSync is the zero time until the first successful Sync.
func (s *Synchronizer) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// Start performs an initial sync and schedules the periodic refresh. A failed
// initial sync is logged and leaves the offset at zero.
func (s *Synchronizer) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("timesync interval must be positive, got %s", s.interval)
	}
	if err := s.Sync(ctx); err != nil {
		s.log.WithError(err).Warn("initial time sync failed")
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func(jobCtx context.Context) {
			if err := s.Sync(jobCtx); err != nil {
				s.log.WithError(err).Warn("time sync failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("payeer-time-sync"),
		gocron.WithContext(ctx),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule time sync: %w", err)
	}
	sched.Start()
	s.sched = sched
	s.log.WithField("interval", s.interval.String()).Info("time sync scheduled")
	return nil
}

// Stop shuts the scheduler down and waits for a running sync to finish.
func (s *Synchronizer) Stop() error {
	if s.sched == nil {
		return nil
	}
	err := s.sched.Shutdown()
	s.sched = nil
	return err
}
