package decode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRingPushPop(t *testing.T) {
	r := newFrameRing()
	ctx := context.Background()

	require.NoError(t, r.Push(ctx, Frame{PTS: 1}))
	require.NoError(t, r.Push(ctx, Frame{PTS: 2}))
	assert.Equal(t, 2, r.Len())

	f, err := r.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.PTS)

	f, err = r.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.PTS)
	assert.Equal(t, 0, r.Len())
}

func TestFrameRingFullBlocksUntilPop(t *testing.T) {
	r := newFrameRing()
	ctx := context.Background()

	for i := 0; i < frameRingSlots; i++ {
		require.NoError(t, r.Push(ctx, Frame{PTS: int64(i)}))
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- r.Push(ctx, Frame{PTS: 99})
	}()

	select {
	case <-pushed:
		t.Fatal("push should block while ring is full")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := r.Pop(ctx)
	require.NoError(t, err)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after pop freed a slot")
	}
}

func TestFrameRingPopBlocksUntilPush(t *testing.T) {
	r := newFrameRing()
	ctx := context.Background()

	var wg sync.WaitGroup
	var got Frame
	var popErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, popErr = r.Pop(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Push(ctx, Frame{PTS: 42}))
	wg.Wait()

	require.NoError(t, popErr)
	assert.Equal(t, int64(42), got.PTS)
}

func TestFrameRingContextCancellation(t *testing.T) {
	r := newFrameRing()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFrameRingCloseUnblocksWaiters(t *testing.T) {
	r := newFrameRing()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.Pop(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRingClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock pending Pop")
	}
}

func TestFrameRingReset(t *testing.T) {
	r := newFrameRing()
	ctx := context.Background()
	require.NoError(t, r.Push(ctx, Frame{PTS: 1}))
	require.NoError(t, r.Push(ctx, Frame{PTS: 2}))

	r.Reset()
	assert.Equal(t, 0, r.Len())
}
