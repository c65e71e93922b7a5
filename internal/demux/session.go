package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/embedstream/streamcore/internal/codec"
	"github.com/embedstream/streamcore/internal/decode"
	"github.com/embedstream/streamcore/internal/iobridge"
)

// Mode selects whether a Session demuxes one multiplexed transport stream
// or pairs two single-track ones.
type Mode int

const (
	ModeCombined Mode = iota
	ModeSeparate
)

// seekWindowTicks is the ±1 second window opened around the video anchor
// seek, expressed in the 90kHz ticks decode.Packet uses throughout.
const seekWindowTicks = 90000

// Session satisfies decode.PacketSource: it pumps packets out of one or two
// MPEG-TS transport streams and interleaves video/audio by dts.
type Session struct {
	mode      Mode
	audioOnly bool
	logger    *slog.Logger

	combined *demuxContext // ModeCombined only
	video    *demuxContext // both modes
	audio    *demuxContext // ModeSeparate only; ModeCombined's audio lives in combined

	seq atomic.Uint64
}

// NewCombined opens one transport stream carrying both tracks. If the
// stream has no video, the session enters audio-only mode; a stream with no
// audio always fails.
func NewCombined(ctx context.Context, bridge *iobridge.Bridge, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{mode: ModeCombined, logger: logger}
	dc, err := newDemuxContext(ctx, bridge, &s.seq, logger)
	if err != nil {
		return nil, err
	}
	if dc.audioTrack == nil {
		return nil, ErrNoAudioTrack
	}
	if dc.videoTrack == nil {
		s.audioOnly = true
	}
	s.combined = dc
	return s, nil
}

// NewSeparate opens two transport streams, one expected to carry exactly
// the video track and the other exactly the audio track.
func NewSeparate(ctx context.Context, videoBridge, audioBridge *iobridge.Bridge, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{mode: ModeSeparate, logger: logger}

	vc, err := newDemuxContext(ctx, videoBridge, &s.seq, logger)
	if err != nil {
		return nil, fmt.Errorf("demux: opening video stream: %w", err)
	}
	if vc.videoTrack == nil {
		return nil, ErrNoVideoTrack
	}

	ac, err := newDemuxContext(ctx, audioBridge, &s.seq, logger)
	if err != nil {
		return nil, fmt.Errorf("demux: opening audio stream: %w", err)
	}
	if ac.audioTrack == nil {
		return nil, ErrNoAudioTrack
	}

	s.video = vc
	s.audio = ac
	return s, nil
}

// AudioOnly reports whether a combined-mode session found no video track.
func (s *Session) AudioOnly() bool { return s.audioOnly }

// VideoCodec returns the discovered video codec, or "" in audio-only mode.
func (s *Session) VideoCodec() codec.Video {
	return s.videoContext().videoCodec
}

// AudioCodec returns the discovered audio codec.
func (s *Session) AudioCodec() codec.Audio {
	return s.audioContext().audioCodec
}

// SPSPPS returns the video track's captured parameter sets, or nil until
// a keyframe carrying them has been demuxed.
func (s *Session) SPSPPS() (sps, pps []byte) {
	vc := s.videoContext()
	return vc.sps, vc.pps
}

// VideoDimensions returns the coded width and height parsed from the
// video track's SPS, or (0, 0) until a keyframe carrying it has been
// demuxed. These are the exact decoder output dimensions; a backend's
// macroblock-aligned buffer size is ceil(W/16)*16 x ceil(H/16)*16 per
// spec, computed by decode.AlignToMacroblock when a caller needs it.
func (s *Session) VideoDimensions() (width, height int) {
	vc := s.videoContext()
	return vc.videoWidth, vc.videoHeight
}

// AudioFormat returns the ffmpeg -f value matching the discovered audio
// codec, for use as decode.Config.AudioCodecFormat.
func (s *Session) AudioFormat() string { return s.audioContext().audioFormat() }

// AudioSampleRate and AudioChannels return the discovered source audio
// parameters, for use as decode.Config.AudioRate/AudioChannels.
func (s *Session) AudioSampleRate() int { return s.audioContext().audioSampleRate }
func (s *Session) AudioChannels() int   { return s.audioContext().audioChannels }

func (s *Session) videoContext() *demuxContext {
	if s.mode == ModeCombined {
		return s.combined
	}
	return s.video
}

func (s *Session) audioContext() *demuxContext {
	if s.mode == ModeCombined {
		return s.combined
	}
	return s.audio
}

func (s *Session) queues() (video, audio *packetQueue) {
	if s.mode == ModeCombined {
		return &s.combined.videoQueue, &s.combined.audioQueue
	}
	return &s.video.videoQueue, &s.audio.audioQueue
}

// NextPacket implements decode.PacketSource. It fills whichever queue is
// empty by reading the underlying transport stream(s), then pops whichever
// track has the smaller dts, breaking ties in favor of video.
func (s *Session) NextPacket(ctx context.Context) (decode.Packet, error) {
	if err := s.ensureNonEmpty(ctx); err != nil {
		return decode.Packet{}, err
	}
	vq, aq := s.queues()
	switch {
	case !vq.empty() && !aq.empty():
		if vq.front().DTS <= aq.front().DTS {
			return vq.pop(), nil
		}
		return aq.pop(), nil
	case !vq.empty():
		return vq.pop(), nil
	default:
		return aq.pop(), nil
	}
}

// ensureNonEmpty fills whichever queues NextPacket needs before it can pop:
// per spec.md §4.E, combined mode must keep reading the single transport
// stream until *both* track queues are non-empty (or the demuxer hits EOF),
// not merely until one of them is, since NextPacket's dts comparison is only
// correct once it can see both head packets. Returning as soon as either
// queue gains a packet lets a later-arriving, smaller-dts packet on the
// other track get popped out of order (scenario S4).
func (s *Session) ensureNonEmpty(ctx context.Context) error {
	if s.mode == ModeCombined {
		return s.ensureNonEmptyCombined(ctx)
	}
	return s.ensureNonEmptySeparate(ctx)
}

func (s *Session) ensureNonEmptyCombined(ctx context.Context) error {
	vq, aq := &s.combined.videoQueue, &s.combined.audioQueue
	for {
		ready := !aq.empty() && (s.audioOnly || !vq.empty())
		if ready {
			return nil
		}

		if s.combined.eof {
			if aq.empty() && (s.audioOnly || vq.empty()) {
				return io.EOF
			}
			return nil
		}
		if err := s.combined.readOne(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				s.combined.eof = true
				continue
			}
			return err
		}
	}
}

func (s *Session) ensureNonEmptySeparate(ctx context.Context) error {
	for {
		vq, aq := s.queues()
		if !vq.empty() && !aq.empty() {
			return nil
		}

		if s.video.eof && s.audio.eof {
			if vq.empty() && aq.empty() {
				return io.EOF
			}
			return nil
		}
		if vq.empty() && !s.video.eof {
			if err := s.video.readOne(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					s.video.eof = true
				} else {
					return err
				}
			}
		}
		if aq.empty() && !s.audio.eof {
			if err := s.audio.readOne(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					s.audio.eof = true
				} else {
					return err
				}
			}
		}
	}
}

// Seek implements decode.PacketSource. In combined mode it opens one
// windowed seek anchored on the primary track (video, or audio in
// audio-only mode). In separate mode it seeks the video context first,
// pins the landed pts, then seeks the audio context exactly to that
// timestamp, approximated without a frame index since neither mediacommon
// nor the underlying transport stream expose one over a synthetic,
// partially-downloaded byte source.
func (s *Session) Seek(ctx context.Context, pts int64) error {
	if s.mode == ModeCombined {
		wantVideo := !s.audioOnly
		_, err := s.combined.seekTo(ctx, pts, seekWindowTicks, wantVideo)
		return err
	}

	landed, err := s.video.seekTo(ctx, pts, seekWindowTicks, true)
	if err != nil {
		return err
	}
	_, err = s.audio.seekTo(ctx, landed, 0, false)
	return err
}
