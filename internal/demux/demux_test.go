package demux

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/embedstream/streamcore/internal/decode"
	"github.com/embedstream/streamcore/internal/iobridge"
	"github.com/embedstream/streamcore/internal/netstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketQueueFIFOOrder(t *testing.T) {
	var q packetQueue
	for i := 0; i < 5; i++ {
		q.push(decode.Packet{Sequence: uint64(i)})
	}
	for i := 0; i < 5; i++ {
		require.False(t, q.empty())
		assert.Equal(t, uint64(i), q.front().Sequence)
		assert.Equal(t, uint64(i), q.pop().Sequence)
	}
	assert.True(t, q.empty())
}

func TestPacketQueueCompactsAfterDraining(t *testing.T) {
	var q packetQueue
	for i := 0; i < 200; i++ {
		q.push(decode.Packet{Sequence: uint64(i)})
	}
	for i := 0; i < 150; i++ {
		assert.Equal(t, uint64(i), q.pop().Sequence)
	}
	// Push more after compaction kicked in; order must stay correct.
	for i := 200; i < 210; i++ {
		q.push(decode.Packet{Sequence: uint64(i)})
	}
	for i := 150; i < 210; i++ {
		assert.Equal(t, uint64(i), q.pop().Sequence)
	}
	assert.True(t, q.empty())
}

func TestBuildADTSHeaderSyncAndLength(t *testing.T) {
	h := buildADTSHeader(44100, 2, 100)
	require.Len(t, h, 7)
	assert.Equal(t, byte(0xFF), h[0])
	assert.Equal(t, byte(0xF1), h[1])

	frameLen := int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5])>>5
	assert.Equal(t, 107, frameLen) // payload + 7-byte header

	freqIdx := int(h[2]>>2) & 0x0F
	assert.Equal(t, 4, freqIdx) // 44100 is index 4

	channelConfig := int(h[2]&0x01)<<2 | int(h[3]>>6)&0x03
	assert.Equal(t, 2, channelConfig)
}

func TestScenarioS4CombinedModeInterleave(t *testing.T) {
	// dts by (track, seconds): (V,0.00),(A,0.01),(V,0.04),(A,0.02),(V,0.08),
	// expressed in 90kHz ticks. Expected pop order: V0.00, A0.01, A0.02, V0.04, V0.08.
	// All five packets are already queued and the demuxer has nothing left to
	// read, so the context starts at EOF.
	const hz = 90000
	dc := &demuxContext{eof: true}
	dc.videoQueue.push(decode.Packet{Track: decode.TrackVideo, DTS: 0, PTS: 0, Sequence: 1})
	dc.videoQueue.push(decode.Packet{Track: decode.TrackVideo, DTS: int64(0.04 * hz), PTS: int64(0.04 * hz), Sequence: 3})
	dc.videoQueue.push(decode.Packet{Track: decode.TrackVideo, DTS: int64(0.08 * hz), PTS: int64(0.08 * hz), Sequence: 5})
	dc.audioQueue.push(decode.Packet{Track: decode.TrackAudio, DTS: int64(0.01 * hz), PTS: int64(0.01 * hz), Sequence: 2})
	dc.audioQueue.push(decode.Packet{Track: decode.TrackAudio, DTS: int64(0.02 * hz), PTS: int64(0.02 * hz), Sequence: 4})

	s := &Session{mode: ModeCombined, combined: dc, logger: slog.Default()}

	want := []uint64{1, 2, 4, 3, 5}
	for _, seq := range want {
		pkt, err := s.NextPacket(context.Background())
		require.NoError(t, err)
		assert.Equal(t, seq, pkt.Sequence)
	}
}

func TestEstimateByteOffsetProportional(t *testing.T) {
	dc := &demuxContext{br: &bridgeReader{}}
	dc.br.bytesRead.Store(1_000_000)
	dc.maxDTSSeen.Store(900_000) // 10 seconds of 90kHz ticks

	// Halfway through the observed duration should land halfway through the
	// observed bytes.
	assert.Equal(t, int64(500_000), dc.estimateByteOffset(450_000))
	// No data observed yet: fall back to the start.
	assert.Equal(t, int64(0), (&demuxContext{br: &bridgeReader{}}).estimateByteOffset(450_000))
	// Non-positive target always means the start.
	assert.Equal(t, int64(0), dc.estimateByteOffset(0))
}

func TestResyncToPacketBoundaryFindsAlignedOffset(t *testing.T) {
	const blockSize = 4096
	data := make([]byte, 1200)
	for _, pos := range []int{100, 288, 476} {
		data[pos] = 0x47
	}

	stream := netstream.New("http://example.invalid/a.ts", blockSize, 10, false)
	stream.SetReady(int64(len(data)))
	stream.Insert(0, data)

	bridge := iobridge.New(stream)
	ctx := context.Background()

	_, err := bridge.Seek(ctx, 50, io.SeekStart)
	require.NoError(t, err)

	dc := &demuxContext{bridge: bridge, logger: slog.Default()}
	offset, err := dc.resyncToPacketBoundary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), offset)
}

func TestSessionQueuesSelectsByMode(t *testing.T) {
	combined := &demuxContext{}
	s := &Session{mode: ModeCombined, combined: combined}
	v, a := s.queues()
	assert.Same(t, &combined.videoQueue, v)
	assert.Same(t, &combined.audioQueue, a)

	video, audio := &demuxContext{}, &demuxContext{}
	sep := &Session{mode: ModeSeparate, video: video, audio: audio}
	v, a = sep.queues()
	assert.Same(t, &video.videoQueue, v)
	assert.Same(t, &audio.audioQueue, a)
}
