// Package supervisor drives long-running acquisition loops. A loop body is a
// step function; Decide maps its result to a control decision and Runner owns
// the sleeping and cancellation around it.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"payeerflow/internal/auth"
	"payeerflow/logger"
)

// Decision is what the runner does after a step.
type Decision int

const (
	Continue Decision = iota
	Backoff
	Stop
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Backoff:
		return "backoff"
	case Stop:
		return "stop"
	}
	return "unknown"
}

// Decide classifies a step result. Cancellation of the loop context and
// configuration errors stop the loop, every other error backs off. A
// cancellation error from some other context is treated like any failure.
func Decide(ctx context.Context, err error) Decision {
	if ctx.Err() != nil {
		return Stop
	}
	if err == nil {
		return Continue
	}
	var cfgErr *auth.ConfigurationError
	if errors.As(err, &cfgErr) {
		return Stop
	}
	return Backoff
}

// Step is one pass of a loop body.
type Step func(ctx context.Context) error

// StepObserver is told about every step outcome.
type StepObserver func(name string, d Decision, err error)

type Runner struct {
	Name     string
	Interval time.Duration
	BackOff  backoff.BackOff
	Clock    clock.Clock
	Observe  StepObserver
	Log      *logger.Log
}

// NewRunner returns a runner that sleeps interval after a clean step and
// errorDelay after a failed one.
func NewRunner(name string, interval, errorDelay time.Duration) *Runner {
	return &Runner{
		Name:     name,
		Interval: interval,
		BackOff:  backoff.NewConstantBackOff(errorDelay),
		Clock:    clock.New(),
		Log:      logger.GetLogger(),
	}
}

// Run repeats step until ctx is cancelled and returns ctx.Err().
func (r *Runner) Run(ctx context.Context, step Step) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := r.Log
	if log == nil {
		log = logger.GetLogger()
	}
	bo := r.BackOff
	if bo == nil {
		bo = backoff.NewConstantBackOff(5 * time.Second)
	}
	bo.Reset()

	for {
		err := step(ctx)
		decision := Decide(ctx, err)
		if r.Observe != nil {
			r.Observe(r.Name, decision, err)
		}

		var delay time.Duration
		switch decision {
		case Stop:
			if ctxErr := ctx.Err(); ctxErr != nil {
				log.WithComponent(r.Name).Info("loop stopped due to context cancellation")
				return ctxErr
			}
			log.WithComponent(r.Name).WithError(err).Error("loop stopped on configuration error")
			return err
		case Backoff:
			delay = bo.NextBackOff()
			if delay == backoff.Stop {
				delay = r.Interval
			}
			log.WithComponent(r.Name).WithError(err).WithFields(logger.Fields{
				"retry_in_ms": delay.Milliseconds(),
			}).Error("unexpected error in loop, backing off")
		case Continue:
			bo.Reset()
			delay = r.Interval
		}

		if err := sleep(ctx, clk, delay); err != nil {
			log.WithComponent(r.Name).Info("loop stopped due to context cancellation")
			return err
		}
	}
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
