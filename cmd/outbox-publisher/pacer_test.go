package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerDoublesToCapAndResets(t *testing.T) {
	p := newPacer(500 * time.Millisecond)

	within := func(d, want time.Duration) {
		t.Helper()
		assert.GreaterOrEqual(t, d, want)
		assert.Less(t, d, want+jitterWindow)
	}

	within(p.failed(), time.Second)
	within(p.failed(), 2*time.Second)
	for range 5 {
		p.failed()
	}
	within(p.failed(), maxBackoff)

	p.reset()
	within(p.failed(), time.Second)
	within(p.idle(), 500*time.Millisecond)
	within(p.failed(), time.Second)
}

func TestJitteredZero(t *testing.T) {
	assert.Zero(t, jittered(0))
}

func TestSleepCtxHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}
