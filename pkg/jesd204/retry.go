package jesd204

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/jpillora/backoff"
)

// Default retry bounds.
const (
	DefaultMaxPasses  = 50
	DefaultBackoffMin = 10 * time.Millisecond
	DefaultBackoffMax = 2 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy re-runs driver passes while stages defer. It is owned by the
// caller; the FSM itself never waits.
type RetryPolicy struct {
	// MaxPasses bounds the number of Start calls, 0 means unbounded.
	MaxPasses int
	Backoff   *backoff.Backoff
	// Sleep defaults to SleepContext.
	Sleep SleepFunc
}

// DefaultRetryPolicy returns a policy with exponential backoff.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxPasses: DefaultMaxPasses,
		Backoff: &backoff.Backoff{
			Min:    DefaultBackoffMin,
			Max:    DefaultBackoffMax,
			Factor: 2,
			Jitter: true,
		},
	}
}

// SleepContext sleeps for d unless ctx is done first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run calls Start until the bring-up completes or fails. When the pass
// budget runs out while still deferring, a *RetryExhaustedError is returned.
func (p *RetryPolicy) Run(ctx context.Context, fsm *FSM) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	if p.Backoff != nil {
		p.Backoff.Reset()
	}
	for passes := 1; ; passes++ {
		res, err := fsm.Start(ctx)
		switch {
		case err != nil:
			return err
		case res == ResultDone:
			return nil
		}
		if p.MaxPasses > 0 && passes >= p.MaxPasses {
			return &RetryExhaustedError{Stage: fsm.Stage(), Passes: passes}
		}
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff.Duration()
		}
		glog.V(2).Infof("retry: %s deferred, pass %d, next in %s", fsm.Stage(), passes, delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}
