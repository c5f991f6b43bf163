package usecase

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultMinItemDelay = 2 * time.Second
	defaultMaxItemDelay = 3 * time.Second
)

// Throttle spaces adapter calls with a random delay so the marketplace does not flag the session.
type Throttle struct {
	Min time.Duration
	Max time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultThrottle waits 2–3 seconds between items.
func DefaultThrottle() Throttle {
	return Throttle{Min: defaultMinItemDelay, Max: defaultMaxItemDelay}
}

// Delay returns a random duration in [Min, Max].
func (t Throttle) Delay() time.Duration {
	lo, hi := t.Min, t.Max
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	if hi == lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// Wait sleeps for a random delay.
func (t Throttle) Wait(ctx context.Context) error {
	d := t.Delay()
	if t.Sleep != nil {
		return t.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
