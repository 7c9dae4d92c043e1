// Package throttler implements sliding-window admission control over named
// rate limit pools. A pool may link to other pools; acquiring it debits the
// pool and every linked pool together.
package throttler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"payeerflow/internal/payeer"
	"payeerflow/logger"
)

// ErrUnknownLimit is returned when acquiring an id that was never configured.
var ErrUnknownLimit = errors.New("unknown rate limit id")

// WaitObserver is told how long a caller was held before admission.
type WaitObserver func(limitID string, waited time.Duration)

type Option func(*Throttler)

func WithClock(clk clock.Clock) Option {
	return func(t *Throttler) { t.clock = clk }
}

func WithWaitObserver(fn WaitObserver) Option {
	return func(t *Throttler) { t.observe = fn }
}

// Permit records one admission.
type Permit struct {
	LimitID    string
	AdmittedAt time.Time
	Waited     time.Duration
}

type pool struct {
	limit    payeer.RateLimit
	admitted []time.Time
}

// expire drops admissions that left the window ending at now.
func (p *pool) expire(now time.Time) {
	cutoff := now.Add(-p.limit.Interval)
	i := 0
	for i < len(p.admitted) && !p.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		p.admitted = append(p.admitted[:0], p.admitted[i:]...)
	}
}

// wait returns how long until the pool has a free slot.
func (p *pool) wait(now time.Time) time.Duration {
	if len(p.admitted) < p.limit.Limit {
		return 0
	}
	oldest := p.admitted[len(p.admitted)-p.limit.Limit]
	return oldest.Add(p.limit.Interval).Sub(now)
}

// Throttler is safe for concurrent use. One instance should be shared by
// every component talking to the exchange.
type Throttler struct {
	mu      sync.Mutex
	pools   map[string]*pool
	clock   clock.Clock
	observe WaitObserver
	log     *logger.Log
}

func New(limits []payeer.RateLimit, opts ...Option) (*Throttler, error) {
	t := &Throttler{
		pools: make(map[string]*pool, len(limits)),
		clock: clock.New(),
		log:   logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, l := range limits {
		if l.ID == "" {
			return nil, fmt.Errorf("rate limit id is required")
		}
		if l.Limit <= 0 || l.Interval <= 0 {
			return nil, fmt.Errorf("rate limit %s: limit and interval must be greater than 0", l.ID)
		}
		if _, dup := t.pools[l.ID]; dup {
			return nil, fmt.Errorf("rate limit %s defined twice", l.ID)
		}
		t.pools[l.ID] = &pool{limit: l, admitted: make([]time.Time, 0, l.Limit)}
	}
	for _, l := range limits {
		for _, linked := range l.LinkedIDs {
			if _, ok := t.pools[linked]; !ok {
				return nil, fmt.Errorf("rate limit %s links to undefined pool %s", l.ID, linked)
			}
		}
	}

	t.log.WithComponent("throttler").WithFields(logger.Fields{"pools": len(t.pools)}).Debug("throttler initialized")
	return t, nil
}

// Acquire blocks until limitID and all of its linked pools can admit one more
// call, then debits all of them at once. The only errors are an unknown id and
// context cancellation.
func (t *Throttler) Acquire(ctx context.Context, limitID string) (*Permit, error) {
	start := t.clock.Now()
	blocked := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait, now, err := t.reserve(limitID)
		if err != nil {
			return nil, err
		}
		if wait <= 0 {
			permit := &Permit{LimitID: limitID, AdmittedAt: now}
			if blocked {
				permit.Waited = now.Sub(start)
				if t.observe != nil {
					t.observe(limitID, permit.Waited)
				}
			}
			return permit, nil
		}
		blocked = true

		t.log.WithComponent("throttler").WithFields(logger.Fields{
			"limit_id": limitID,
			"wait_ms":  wait.Milliseconds(),
		}).Debug("rate limit reached, waiting")

		timer := t.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve admits the call when every affected pool has room and returns zero,
// otherwise it debits nothing and returns the time to wait.
func (t *Throttler) reserve(limitID string) (time.Duration, time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	affected, err := t.affected(limitID)
	if err != nil {
		return 0, now, err
	}

	var wait time.Duration
	for _, p := range affected {
		p.expire(now)
		if w := p.wait(now); w > wait {
			wait = w
		}
	}
	if wait > 0 {
		return wait, now, nil
	}
	for _, p := range affected {
		p.admitted = append(p.admitted, now)
	}
	return 0, now, nil
}

func (t *Throttler) affected(limitID string) ([]*pool, error) {
	p, ok := t.pools[limitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLimit, limitID)
	}
	out := []*pool{p}
	for _, id := range p.limit.LinkedIDs {
		if id == limitID {
			continue
		}
		out = append(out, t.pools[id])
	}
	return out, nil
}

// InFlight returns the admissions currently counted in the pool's window.
func (t *Throttler) InFlight(limitID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pools[limitID]
	if !ok {
		return 0
	}
	p.expire(t.clock.Now())
	return len(p.admitted)
}
