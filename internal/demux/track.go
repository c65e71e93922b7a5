package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/embedstream/streamcore/internal/codec"
	"github.com/embedstream/streamcore/internal/decode"
	"github.com/embedstream/streamcore/internal/iobridge"
)

// demuxContext owns one transport stream: the bridge it reads bytes from,
// the mediacommon reader demuxing it, and the per-track queues its
// callbacks feed. Combined-mode sessions have exactly one of these carrying
// both queues; separate-mode sessions have two, each carrying one.
type demuxContext struct {
	bridge *iobridge.Bridge
	br     *bridgeReader
	reader *mpegts.Reader
	logger *slog.Logger
	seq    *atomic.Uint64

	videoQueue packetQueue
	audioQueue packetQueue

	videoTrack *mpegts.Track
	audioTrack *mpegts.Track
	videoCodec codec.Video
	audioCodec codec.Audio

	sps, pps      []byte
	videoWidth    int
	videoHeight   int

	audioSampleRate    int
	audioChannels      int
	audioFrameDuration int64

	maxDTSSeen atomic.Int64
	eof        bool
}

func newDemuxContext(ctx context.Context, bridge *iobridge.Bridge, seq *atomic.Uint64, logger *slog.Logger) (*demuxContext, error) {
	dc := &demuxContext{bridge: bridge, logger: logger, seq: seq}
	dc.br = &bridgeReader{bridge: bridge, ctx: ctx}
	dc.reader = &mpegts.Reader{R: dc.br}
	if err := dc.reader.Initialize(); err != nil {
		return nil, fmt.Errorf("demux: initializing transport stream: %w", err)
	}
	dc.reader.OnDecodeError(func(err error) {
		dc.logger.Debug("demux: decode error", "error", err)
	})
	for _, track := range dc.reader.Tracks() {
		dc.setupTrack(track)
	}
	if dc.videoTrack != nil {
		if err := dc.primeVideoParameters(ctx); err != nil {
			return nil, err
		}
	}
	return dc, nil
}

// primeVideoParametersReadLimit bounds how many transport-stream reads
// newDemuxContext will perform hunting for the first SPS/PPS: real streams
// carry them ahead of every IDR, so this should resolve within a handful of
// reads; the cap exists so a malformed stream with a video track but no
// parameter sets fails fast instead of looping to EOF.
const primeVideoParametersReadLimit = 256

// primeVideoParameters reads the transport stream until the video track's
// SPS/PPS (and coded dimensions) have been captured, mirroring
// avformat_find_stream_info's role in the original decoder: codec
// parameters must be known before the decode driver can be constructed and
// primed, not discovered lazily on the first decoded packet.
func (dc *demuxContext) primeVideoParameters(ctx context.Context) error {
	for i := 0; i < primeVideoParametersReadLimit && dc.sps == nil; i++ {
		if err := dc.readOne(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				dc.eof = true
				return nil
			}
			return err
		}
	}
	return nil
}

// readOne performs exactly one demuxer read, keeping the same
// one-operation-per-pass discipline the downloader uses on the fetch side.
func (dc *demuxContext) readOne(ctx context.Context) error {
	dc.br.ctx = ctx
	if err := dc.reader.Read(); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return io.EOF
		}
		return fmt.Errorf("demux: reading transport stream: %w", err)
	}
	return nil
}

func (dc *demuxContext) nextSequence() uint64 {
	return dc.seq.Add(1)
}

func (dc *demuxContext) observeDTS(v int64) {
	for {
		cur := dc.maxDTSSeen.Load()
		if v <= cur || dc.maxDTSSeen.CompareAndSwap(cur, v) {
			return
		}
	}
}

// setupTrack wires one discovered track's callback into the appropriate
// queue, dispatching per codec; samples land in a packetQueue instead of
// being pushed straight to a consumer callback.
func (dc *demuxContext) setupTrack(track *mpegts.Track) {
	switch c := track.Codec.(type) {
	case *mpegts.CodecH264:
		dc.videoTrack = track
		dc.videoCodec = codec.VideoH264
		dc.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return dc.handleVideo(pts, dts, au, h264.IsRandomAccess(au))
		})

	case *mpegts.CodecH265:
		dc.videoTrack = track
		dc.videoCodec = codec.VideoH265
		dc.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return dc.handleVideo(pts, dts, au, h265.IsRandomAccess(au))
		})

	case *mpegts.CodecMPEG4Audio:
		dc.audioTrack = track
		dc.audioCodec = codec.AudioAAC
		dc.audioSampleRate = c.Config.SampleRate
		if dc.audioSampleRate <= 0 {
			dc.audioSampleRate = 48000
		}
		dc.audioChannels = c.Config.ChannelCount
		dc.audioFrameDuration = int64(1024 * 90000 / dc.audioSampleRate)
		dc.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return dc.handleMPEG4Audio(pts, aus)
		})

	case *mpegts.CodecAC3:
		dc.audioTrack = track
		dc.audioCodec = codec.AudioAC3
		dc.audioSampleRate = c.SampleRate
		dc.audioChannels = c.ChannelCount
		dc.reader.OnDataAC3(track, func(pts int64, frame []byte) error {
			return dc.handleAudioFrame(pts, frame)
		})

	case *mpegts.CodecEAC3:
		dc.audioTrack = track
		dc.audioCodec = codec.AudioEAC3
		dc.audioSampleRate = c.SampleRate
		dc.audioChannels = c.ChannelCount
		dc.reader.OnDataEAC3(track, func(pts int64, frame []byte) error {
			return dc.handleAudioFrame(pts, frame)
		})

	case *mpegts.CodecMPEG1Audio:
		dc.audioTrack = track
		dc.audioCodec = codec.AudioMP3
		dc.audioSampleRate = 48000
		dc.audioFrameDuration = 2160 // MP3 1152 samples @ 48kHz in 90kHz ticks
		dc.reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			return dc.handleAudioFrames(pts, frames)
		})

	case *mpegts.CodecOpus:
		dc.audioTrack = track
		dc.audioCodec = codec.AudioOpus
		dc.audioSampleRate = 48000
		dc.audioFrameDuration = 1800 // Opus 960 samples @ 48kHz in 90kHz ticks
		dc.reader.OnDataOpus(track, func(pts int64, packets [][]byte) error {
			return dc.handleAudioFrames(pts, packets)
		})

	default:
		dc.logger.Debug("demux: ignoring unsupported track", "pid", track.PID, "codec", fmt.Sprintf("%T", track.Codec))
	}
}

// handleVideo captures the stream's parameter sets on first sight and
// reframes the access unit from mediacommon's NALU slices into AVCC
// (length-prefixed) form, matching what internal/decode's backends expect
// on Packet.Data.
func (dc *demuxContext) handleVideo(pts, dts int64, au [][]byte, isKeyframe bool) error {
	if len(au) == 0 {
		return nil
	}
	if dc.sps == nil || dc.pps == nil {
		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS:
				dc.sps = nalu
				var sps h264.SPS
				if err := sps.Unmarshal(nalu); err == nil {
					dc.videoWidth = sps.Width()
					dc.videoHeight = sps.Height()
				}
			case h264.NALUTypePPS:
				dc.pps = nalu
			}
		}
	}

	avcc, err := h264.AVCC(au).Marshal()
	if err != nil || len(avcc) == 0 {
		return nil
	}

	dc.observeDTS(dts)
	dc.videoQueue.push(decode.Packet{
		Track:      decode.TrackVideo,
		PTS:        pts,
		DTS:        dts,
		Data:       avcc,
		IsKeyframe: isKeyframe,
		Sequence:   dc.nextSequence(),
	})
	return nil
}

func (dc *demuxContext) handleMPEG4Audio(pts int64, aus [][]byte) error {
	frameDuration := dc.audioFrameDuration
	if frameDuration <= 0 {
		frameDuration = 1920
	}
	for _, au := range aus {
		if len(au) == 0 {
			continue
		}
		framed := append(buildADTSHeader(dc.audioSampleRate, dc.audioChannels, len(au)), au...)
		dc.observeDTS(pts)
		dc.audioQueue.push(decode.Packet{
			Track:    decode.TrackAudio,
			PTS:      pts,
			DTS:      pts,
			Data:     framed,
			Sequence: dc.nextSequence(),
		})
		pts += frameDuration
	}
	return nil
}

func (dc *demuxContext) handleAudioFrame(pts int64, frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	dc.observeDTS(pts)
	dc.audioQueue.push(decode.Packet{
		Track:    decode.TrackAudio,
		PTS:      pts,
		DTS:      pts,
		Data:     frame,
		Sequence: dc.nextSequence(),
	})
	return nil
}

// handleAudioFrames pushes each of a batch of frames at increasing pts,
// spaced by this track's fixed frame duration: mediacommon hands back a
// batch sharing one PES pts, so only the first frame's timestamp is known
// precisely and the rest are reconstructed from the codec's fixed frame
// size.
func (dc *demuxContext) handleAudioFrames(pts int64, frames [][]byte) error {
	for _, frame := range frames {
		if err := dc.handleAudioFrame(pts, frame); err != nil {
			return err
		}
		pts += dc.audioFrameDuration
	}
	return nil
}

// audioFormat returns the ffmpeg -f value for this context's audio codec.
func (dc *demuxContext) audioFormat() string {
	return string(dc.audioCodec)
}
