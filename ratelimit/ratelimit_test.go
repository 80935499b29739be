package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstWithinWindowIsImmediate(t *testing.T) {
	mock := clock.NewMock()
	l := NewLimiter(mock, 2, time.Second)
	ctx := context.Background()

	require.NoError(t, l.WaitForToken(ctx))
	require.NoError(t, l.WaitForToken(ctx))
	assert.Len(t, l.timestamps, 2)
}

func TestThirdCallWaitsForOldestToLeaveWindow(t *testing.T) {
	mock := clock.NewMock()
	l := NewLimiter(mock, 2, time.Second)
	ctx := context.Background()

	require.NoError(t, l.WaitForToken(ctx))
	mock.Add(200 * time.Millisecond)
	require.NoError(t, l.WaitForToken(ctx))

	done := make(chan error, 1)
	go func() {
		done <- l.WaitForToken(ctx)
	}()

	// Let the waiter park on its timer before advancing the clock.
	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("third call resolved before the window opened")
	default:
	}

	// 800ms more puts the first call's timestamp exactly one window in the
	// past, which admits the waiter.
	mock.Add(800 * time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("third call did not resolve after the window opened")
	}
}

func TestExpiredTimestampsArePruned(t *testing.T) {
	mock := clock.NewMock()
	l := NewLimiter(mock, 2, time.Second)
	ctx := context.Background()

	require.NoError(t, l.WaitForToken(ctx))
	require.NoError(t, l.WaitForToken(ctx))

	mock.Add(time.Second)

	// Both prior timestamps have aged out; a fresh burst is admitted
	// without waiting.
	require.NoError(t, l.WaitForToken(ctx))
	require.NoError(t, l.WaitForToken(ctx))
	assert.Len(t, l.timestamps, 2)
}

func TestWaitForTokenHonorsContextCancel(t *testing.T) {
	mock := clock.NewMock()
	l := NewLimiter(mock, 1, time.Second)

	require.NoError(t, l.WaitForToken(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.WaitForToken(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("canceled waiter did not return")
	}
}
