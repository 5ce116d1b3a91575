package ratelimit

import (
	"context"
	"time"
)

// Throttle guards a shared upstream (the model provider) with a global
// fixed window. When the window is full it waits for the next one, up to
// MaxRetries times.
type Throttle struct {
	Limiter    *Limiter
	Subject    string
	Max        int
	Window     time.Duration
	MaxRetries int

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Enabled reports whether the throttle has a positive quota.
func (t *Throttle) Enabled() bool { return t != nil && t.Limiter != nil && t.Max > 0 }

// Wait blocks until a slot is claimed in the current window. It returns
// ErrLimited once retries are exhausted, the context error if ctx ends
// while waiting, or the store error unchanged.
func (t *Throttle) Wait(ctx context.Context) (Result, error) {
	sleep := t.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for attempt := 0; ; attempt++ {
		res, err := t.Limiter.Check(ctx, t.Subject, t.Max, t.Window)
		if err != nil {
			return res, err
		}
		if res.Allowed {
			res, err = t.Limiter.Hit(ctx, t.Subject, t.Max, t.Window)
			if err != nil || res.Allowed {
				return res, err
			}
		}
		if attempt >= t.MaxRetries {
			return res, ErrLimited
		}
		if err := sleep(ctx, res.RetryAfter); err != nil {
			return res, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
