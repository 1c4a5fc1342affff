package main

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	maxBackoff   = 10 * time.Second
	jitterWindow = 250 * time.Millisecond
)

// pacer decides how long the dispatcher waits between ticks: the poll
// interval when idle, doubling up to maxBackoff while publishes keep failing.
type pacer struct {
	base    time.Duration
	current time.Duration
}

func newPacer(base time.Duration) *pacer {
	return &pacer{base: base, current: base}
}

func (p *pacer) idle() time.Duration {
	p.current = p.base
	return jittered(p.base)
}

func (p *pacer) failed() time.Duration {
	p.current = min(max(p.current, p.base)*2, maxBackoff)
	return jittered(p.current)
}

func (p *pacer) reset() {
	p.current = p.base
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
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
