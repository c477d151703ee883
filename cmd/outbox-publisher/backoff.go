package main

import (
	"context"
	"math/rand/v2"
	"time"
)

const jitterWindow = 250 * time.Millisecond

// pollBackoff doubles the pause after each failed batch up to max and
// snaps back to base on success.
type pollBackoff struct {
	base, max, current time.Duration
}

func newPollBackoff(base, max time.Duration) *pollBackoff {
	return &pollBackoff{base: base, max: max, current: base}
}

func (b *pollBackoff) reset() { b.current = b.base }

func (b *pollBackoff) idle() time.Duration { return jitter(b.base) }

func (b *pollBackoff) failure() time.Duration {
	b.current = min(b.current*2, b.max)
	return jitter(b.current)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
