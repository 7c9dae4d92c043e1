// Package payeer holds the Payeer acquisition loops: order book snapshots,
// pushed diffs and trades, and the polled user stream.
package payeer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"payeerflow/internal/metrics"
	"payeerflow/internal/rest"
	"payeerflow/internal/supervisor"
)

// Requester executes one pipeline call and returns the raw payload.
type Requester interface {
	Execute(ctx context.Context, req rest.Request) (json.RawMessage, error)
}

type options struct {
	clock   clock.Clock
	observe supervisor.StepObserver
}

// Option customizes a reader.
type Option func(*options)

// WithClock replaces the clock used for loop sleeps.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithStepObserver is told about every loop iteration in addition to the
// Prometheus loop counter.
func WithStepObserver(fn supervisor.StepObserver) Option {
	return func(o *options) { o.observe = fn }
}

func newRunner(name string, interval, errorDelay time.Duration, opts []Option) *supervisor.Runner {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	r := supervisor.NewRunner(name, interval, errorDelay)
	r.BackOff = backoff.NewConstantBackOff(errorDelay)
	r.Clock = o.clock
	r.Observe = func(loop string, d supervisor.Decision, err error) {
		metrics.ObserveLoopStep(loop, d.String())
		if o.observe != nil {
			o.observe(loop, d, err)
		}
	}
	return r
}
