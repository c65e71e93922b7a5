package decode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	packets  []Packet
	idx      int
	seekPTS  int64
	seekErr  error
	seekSeen bool
}

func (s *fakeSource) NextPacket(ctx context.Context) (Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.packets) {
		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		default:
			return Packet{}, ErrNeedMoreInput
		}
	}
	p := s.packets[s.idx]
	s.idx++
	return p, nil
}

func (s *fakeSource) Seek(ctx context.Context, pts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekSeen = true
	s.seekPTS = pts
	return s.seekErr
}

type fakeVideoBackend struct {
	mu      sync.Mutex
	frames  chan decodedFrame
	submits []Packet
	closed  bool
}

func newFakeVideoBackend() *fakeVideoBackend {
	return &fakeVideoBackend{frames: make(chan decodedFrame, 16)}
}

func (b *fakeVideoBackend) Submit(ctx context.Context, pkt Packet) error {
	b.mu.Lock()
	b.submits = append(b.submits, pkt)
	b.mu.Unlock()
	b.frames <- decodedFrame{frame: Frame{Track: TrackVideo, PTS: pkt.PTS}}
	return nil
}

func (b *fakeVideoBackend) Frames() <-chan decodedFrame { return b.frames }
func (b *fakeVideoBackend) SetSPSPPS(sps, pps []byte)    {}
func (b *fakeVideoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.frames)
	}
	return nil
}

func TestDriverPumpsVideoFramesToRing(t *testing.T) {
	src := &fakeSource{packets: []Packet{
		{Track: TrackVideo, PTS: 1},
		{Track: TrackVideo, PTS: 2},
	}}
	backend := newFakeVideoBackend()
	d := newDriverWithBackends(src, backend, nil, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f1, err := d.GetDecodedVideoFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f1.PTS)

	f2, err := d.GetDecodedVideoFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f2.PTS)
}

func TestDriverSeekResetsRingAndCallsSource(t *testing.T) {
	src := &fakeSource{packets: []Packet{{Track: TrackVideo, PTS: 1}}}
	backend := newFakeVideoBackend()
	d := newDriverWithBackends(src, backend, nil, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := d.GetDecodedVideoFrame(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Seek(ctx, 5000))

	src.mu.Lock()
	assert.True(t, src.seekSeen)
	assert.Equal(t, int64(5000), src.seekPTS)
	src.mu.Unlock()
	assert.Equal(t, 0, d.rings.Len())
}

func TestDriverCloseIsIdempotentAndUnblocksReaders(t *testing.T) {
	src := &fakeSource{}
	backend := newFakeVideoBackend()
	d := newDriverWithBackends(src, backend, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := d.GetDecodedVideoFrame(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrDriverClosed) || errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("GetDecodedVideoFrame did not unblock after Close")
	}
}

func TestDriverSurfacesSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{}
	src.seekErr = boom
	backend := newFakeVideoBackend()
	d := newDriverWithBackends(src, backend, nil, nil)
	defer d.Close()

	ctx := context.Background()
	err := d.Seek(ctx, 0)
	assert.ErrorIs(t, err, boom)
}
