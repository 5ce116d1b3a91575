// Package ratelimit implements fixed-window request counting on top of the
// key-value store. Each (subject, window) pair owns one counter that expires
// with its window, so stale windows clean themselves up.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLimited is returned by Throttle.Wait when the window stays full after
// all retries.
var ErrLimited = errors.New("ratelimit: limit exceeded")

// Counter is the store primitive the limiter needs. *cache.Store satisfies it.
type Counter interface {
	GetInt(ctx context.Context, key string) (int64, error)
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Result describes the state of a subject's current window.
type Result struct {
	Allowed    bool
	Remaining  int64
	ResetTime  time.Time
	TotalHits  int64
	RetryAfter time.Duration
}

// Limiter evaluates fixed-window quotas.
type Limiter struct {
	store Counter
	now   func() time.Time
}

// New returns a Limiter backed by store.
func New(store Counter) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// WindowStart floors now to a multiple of window since the Unix epoch.
func WindowStart(now time.Time, window time.Duration) time.Time {
	ms := window.Milliseconds()
	if ms <= 0 {
		return now
	}
	return time.UnixMilli(now.UnixMilli() / ms * ms)
}

// Key returns the counter key for subject in the window starting at start.
func Key(subject string, start time.Time) string {
	return fmt.Sprintf("rate_limit:%s:%d", subject, start.UnixMilli())
}

// Check reads the current window without consuming from it.
func (l *Limiter) Check(ctx context.Context, subject string, max int, window time.Duration) (Result, error) {
	now := l.now()
	start := WindowStart(now, window)
	count, err := l.store.GetInt(ctx, Key(subject, start))
	if err != nil {
		return Result{}, err
	}
	return evaluate(now, start, window, count, int64(max), count < int64(max)), nil
}

// Record counts one hit in the current window and returns the new total.
// The increment and the expiry are applied atomically.
func (l *Limiter) Record(ctx context.Context, subject string, window time.Duration) (int64, error) {
	start := WindowStart(l.now(), window)
	return l.store.IncrWindow(ctx, Key(subject, start), window)
}

// Hit records a hit and decides admission from the post-increment total,
// so concurrent callers can never both claim the last slot.
func (l *Limiter) Hit(ctx context.Context, subject string, max int, window time.Duration) (Result, error) {
	now := l.now()
	start := WindowStart(now, window)
	count, err := l.store.IncrWindow(ctx, Key(subject, start), window)
	if err != nil {
		return Result{}, err
	}
	return evaluate(now, start, window, count, int64(max), count <= int64(max)), nil
}

func evaluate(now, start time.Time, window time.Duration, count, max int64, allowed bool) Result {
	reset := start.Add(window)
	retry := reset.Sub(now)
	if retry < 0 {
		retry = 0
	}
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetTime:  reset,
		TotalHits:  count,
		RetryAfter: retry,
	}
}
