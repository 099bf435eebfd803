package actor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_GoRefusesAfterStop(t *testing.T) {
	s := newScheduler(t.Context(), 4, slog.Default())
	stop := make(chan struct{})
	close(stop)

	var ran atomic.Int32
	// slots are free; stop must win every time
	for range 1000 {
		assert.False(t, s.Go(stop, func() { ran.Add(1) }))
	}
	require.NoError(t, s.Wait(t.Context()))
	assert.Zero(t, ran.Load())
	assert.Len(t, s.sem, 0, "no slot leaked")

	unbounded := newScheduler(t.Context(), 0, slog.Default())
	assert.False(t, unbounded.Go(stop, func() { ran.Add(1) }))
	assert.Zero(t, ran.Load())
}

func TestScheduler_GoBoundsConcurrency(t *testing.T) {
	s := newScheduler(t.Context(), 2, slog.Default())
	release := make(chan struct{})
	var started atomic.Int32

	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for range 6 {
			s.Go(nil, func() {
				started.Add(1)
				<-release
			})
		}
	}()

	require.Eventually(t, func() bool { return s.Inflight() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), started.Load(), "third call waits for a slot")

	close(release)
	<-launched
	require.NoError(t, s.Wait(t.Context()))
	assert.Equal(t, int32(6), started.Load())
}

func TestScheduler_ScheduleSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	s := newScheduler(ctx, 1, slog.Default())
	cancel()

	var ran atomic.Int32
	for range 100 {
		s.Schedule(func() { ran.Add(1) })
	}
	waitCtx, done := context.WithTimeout(t.Context(), time.Second)
	defer done()
	require.NoError(t, s.Wait(waitCtx))
	assert.Zero(t, ran.Load())
}
