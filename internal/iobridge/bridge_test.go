package iobridge

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/embedstream/streamcore/internal/netstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeReadBlocksUntilAvailable(t *testing.T) {
	s := netstream.New("http://example.invalid/a", 4, 100, false)
	b := New(s, WithPollInterval(5*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.SetReady(8)
		s.Insert(0, []byte{1, 2, 3, 4})
		s.Insert(1, []byte{5, 6, 7, 8})
	}()

	buf := make([]byte, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := b.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)
}

func TestBridgeReadEOFAtEndOfStream(t *testing.T) {
	s := netstream.New("http://example.invalid/a", 4, 100, false)
	s.SetReady(4)
	s.Insert(0, []byte{1, 2, 3, 4})
	s.ReadHead.Store(4)

	b := New(s, WithPollInterval(5*time.Millisecond))
	n, err := b.Read(context.Background(), make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBridgeReadEOFOnStreamError(t *testing.T) {
	s := netstream.New("http://example.invalid/a", 4, 100, false)
	s.SetError()

	b := New(s, WithPollInterval(5*time.Millisecond))
	_, err := b.Read(context.Background(), make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)
}

func TestBridgeInterruptAbortsAndSetsNeedReinit(t *testing.T) {
	s := netstream.New("http://example.invalid/a", 4, 100, false)
	s.SetReady(4)

	b := New(s, WithPollInterval(5*time.Millisecond))
	b.SetInterrupt(true)

	_, err := b.Read(context.Background(), make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, b.NeedReinit())
}

func TestBridgeDisableInterruptSuppressesAbort(t *testing.T) {
	s := netstream.New("http://example.invalid/a", 4, 100, false)
	s.SetReady(4)
	s.Insert(0, []byte{9, 9, 9, 9})
	s.SetDisableInterrupt(true)

	b := New(s, WithPollInterval(5*time.Millisecond))
	b.SetInterrupt(true)

	n, err := b.Read(context.Background(), make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.False(t, b.NeedReinit())
}

func TestBridgeSeekResolvesWhence(t *testing.T) {
	s := netstream.New("http://example.invalid/a", 4, 100, false)
	s.SetReady(100)
	s.ReadHead.Store(10)

	b := New(s, WithPollInterval(5*time.Millisecond))

	pos, err := b.Seek(context.Background(), 20, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos)

	pos, err = b.Seek(context.Background(), 5, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(25), pos)

	pos, err = b.Seek(context.Background(), -10, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(90), pos)
}

func TestBridgeSeekBeyondLengthFails(t *testing.T) {
	s := netstream.New("http://example.invalid/a", 4, 100, false)
	s.SetReady(100)

	b := New(s, WithPollInterval(5*time.Millisecond))
	pos, err := b.Seek(context.Background(), 200, io.SeekStart)
	assert.ErrorIs(t, err, ErrSeekOutOfRange)
	assert.Equal(t, int64(-1), pos)
}

func TestBridgeSizeBlocksUntilReady(t *testing.T) {
	s := netstream.New("http://example.invalid/a", 4, 100, false)
	b := New(s, WithPollInterval(5*time.Millisecond))

	go func() {
		time.Sleep(15 * time.Millisecond)
		s.SetReady(123)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(123), n)
}
