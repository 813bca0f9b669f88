package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueRunsAndDrains(t *testing.T) {
	q := New(Config{Workers: 2, Buffer: 16})
	q.Start(context.Background())

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	require.EqualValues(t, 10, n.Load())

	require.ErrorIs(t, q.Submit("late", func(context.Context) error { return nil }), ErrClosed)
}

func TestQueueRetriesAndRecoversPanics(t *testing.T) {
	q := New(Config{Workers: 1, MaxAttempts: 3, Backoff: time.Millisecond})
	q.Start(context.Background())

	var calls atomic.Int32
	require.NoError(t, q.Submit("flaky", func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		if calls.Load() == 2 {
			return errors.New("transient")
		}
		return nil
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	require.EqualValues(t, 3, calls.Load())
}

func TestQueueFull(t *testing.T) {
	q := New(Config{Workers: 1, Buffer: 1})
	// Workers are not started, so the single slot stays occupied.
	require.NoError(t, q.Submit("a", func(context.Context) error { return nil }))
	require.ErrorIs(t, q.Submit("b", func(context.Context) error { return nil }), ErrQueueFull)
}

func TestInlineRunsSynchronously(t *testing.T) {
	ran := false
	err := Inline{}.Submit("now", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}
