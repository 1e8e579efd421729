package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFiresImmediatelyAndOnTicks(t *testing.T) {
	var runs atomic.Int32
	p, err := New(func(context.Context) error {
		runs.Add(1)
		return nil
	}, Options{Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	err = p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got := runs.Load()
	assert.GreaterOrEqual(t, got, int32(3), "immediate pass plus ticks")
	assert.Equal(t, uint64(got), p.Runs())
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	p, err := New(func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, Options{Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	// The first pass blocks; several ticks must elapse and be skipped.
	require.Eventually(t, func() bool { return p.Skips() >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "blocked run must suppress overlapping ticks")

	close(release)
	cancel()
	<-done
}

func TestTriggerSharesConcurrentRuns(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	p, err := New(func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}, Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = p.Trigger(context.Background())
	}()
	<-started
	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Trigger(context.Background())
		}(i)
	}
	// Give the followers time to join the in-flight call.
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load(), "concurrent triggers share one run")
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestLastErrorTracksOutcome(t *testing.T) {
	boom := errors.New("boom")
	fail := true
	p, err := New(func(context.Context) error {
		if fail {
			return boom
		}
		return nil
	}, Options{})
	require.NoError(t, err)

	assert.NoError(t, p.LastError(), "no run yet")
	require.Error(t, p.Trigger(context.Background()))
	assert.ErrorIs(t, p.LastError(), boom)

	fail = false
	require.NoError(t, p.Trigger(context.Background()))
	assert.NoError(t, p.LastError())
}

func TestNewRequiresRunFunc(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}
