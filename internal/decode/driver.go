package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/embedstream/streamcore/internal/iobridge"
)

// pumpPollInterval is how long the packet pump waits before retrying
// NextPacket after ErrNeedMoreInput, the same 20ms suspension cadence used
// elsewhere in this module's polling loops.
const pumpPollInterval = 20 * time.Millisecond

// PacketSource supplies demuxed packets to the decode driver and supports
// seeking to a new presentation timestamp. internal/demux.Session satisfies
// this interface; decode never imports demux directly so the two packages
// can be tested independently.
type PacketSource interface {
	NextPacket(ctx context.Context) (Packet, error)
	Seek(ctx context.Context, pts int64) error
}

// CPUBooster is the decode hot path's hook around the same CPU-priority
// escalation iobridge.Bridge uses around its blocking waits — the original
// decoder escalated scheduling priority for the duration of a decode call
// (add_cpu_limit(25)/remove_cpu_limit(25)) before yielding it back. Sharing
// the interface means one booster implementation can be installed across
// both suspension points.
type CPUBooster = iobridge.CPUBooster

type noopCPUBooster = iobridge.NoopCPUBooster

// Config configures a Driver.
type Config struct {
	FFmpegPath string

	VideoWidth    int
	VideoHeight   int
	NALLengthSize int // AVCDecoderConfigurationRecord length field width, usually 4
	SPS, PPS      []byte

	UseHardware bool
	HWAccelType string // empty selects the best detected accelerator

	AudioCodecFormat string // ffmpeg -f value for the audio elementary stream, e.g. "aac"
	AudioRate        int
	AudioChannels    int
	OutputRate       int
	OutputChannels   int
	Resampler        Resampler

	Capabilities Capabilities
	CPUBooster   CPUBooster
	Logger       *slog.Logger
}

// Driver pumps packets from a PacketSource through video/audio backends and
// exposes decoded output through GetDecodedVideoFrame and AudioResults. It
// owns the state machine the original decoder described: packets flow in on
// one goroutine, decoded output drains on whatever cadence the consumer
// pulls it, and seek tears down and rebuilds the backends' internal state
// without tearing down the driver itself.
type Driver struct {
	cfg    Config
	source PacketSource
	logger *slog.Logger
	booster CPUBooster

	video VideoBackend
	audio *audioBackend
	rings *frameRing

	seekGeneration atomic.Uint64
	closed         atomic.Bool

	pumpWG   sync.WaitGroup

	mu      sync.Mutex
	pumpErr error

	ctx    context.Context
	cancel context.CancelFunc
}

// AlignToMacroblock rounds width and height up to the nearest multiple of
// 16, the macroblock-aligned buffer size a hardware decoder allocates even
// when the SPS crops the displayed picture to a smaller size.
func AlignToMacroblock(width, height int) (int, int) {
	return alignUp16(width), alignUp16(height)
}

func alignUp16(v int) int {
	return (v + 15) / 16 * 16
}

// NewDriver constructs a Driver, selecting the hardware backend when
// Config.UseHardware is set and an accelerator was detected, otherwise
// falling back to software decode.
func NewDriver(cfg Config, source PacketSource) (*Driver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	booster := cfg.CPUBooster
	if booster == nil {
		booster = noopCPUBooster{}
	}

	video, err := selectVideoBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.SPS) > 0 && len(cfg.PPS) > 0 {
		video.SetSPSPPS(cfg.SPS, cfg.PPS)
	}

	var audio *audioBackend
	if cfg.AudioCodecFormat != "" {
		audio, err = newAudioBackend(cfg.FFmpegPath, cfg.AudioCodecFormat, cfg.AudioRate, cfg.AudioChannels, cfg.OutputRate, cfg.OutputChannels, cfg.Resampler, logger)
		if err != nil {
			_ = video.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		cfg:      cfg,
		source:   source,
		logger:   logger,
		booster:  booster,
		video:    video,
		audio:    audio,
		rings:    newFrameRing(),
		ctx:      ctx,
		cancel:   cancel,
	}

	d.pumpWG.Add(2)
	go d.pumpPackets()
	go d.drainVideo()

	return d, nil
}

// newDriverWithBackends wires a Driver around caller-supplied backends,
// bypassing ffmpeg subprocess startup. Used by tests to exercise the pump
// and seek state machine against fakes.
func newDriverWithBackends(source PacketSource, video VideoBackend, audio *audioBackend, booster CPUBooster) *Driver {
	if booster == nil {
		booster = noopCPUBooster{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		source:  source,
		logger:  slog.Default(),
		booster: booster,
		video:   video,
		audio:   audio,
		rings:   newFrameRing(),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.pumpWG.Add(2)
	go d.pumpPackets()
	go d.drainVideo()
	return d
}

func selectVideoBackend(cfg Config, logger *slog.Logger) (VideoBackend, error) {
	if cfg.UseHardware {
		hw := cfg.Capabilities.PreferredHWAccel()
		if cfg.HWAccelType != "" {
			for i := range cfg.Capabilities.HWAccels {
				if string(cfg.Capabilities.HWAccels[i].Type) == cfg.HWAccelType {
					hw = &cfg.Capabilities.HWAccels[i]
					break
				}
			}
		}
		if hw == nil {
			return nil, ErrBackendUnavailable
		}
		return newHardwareBackend(cfg.FFmpegPath, hw, cfg.VideoWidth, cfg.VideoHeight, cfg.NALLengthSize, logger)
	}
	return newSoftwareBackend(cfg.FFmpegPath, cfg.VideoWidth, cfg.VideoHeight, cfg.NALLengthSize, logger)
}

// pumpPackets is the single producer pulling packets out of the demux queue
// and dispatching them to the appropriate backend, interleaved by arrival
// order exactly as the demuxer queued them (demux is responsible for the
// dts-ordered interleave; the driver just forwards).
func (d *Driver) pumpPackets() {
	defer d.pumpWG.Done()

	for {
		if d.ctx.Err() != nil {
			return
		}

		pkt, err := d.source.NextPacket(d.ctx)
		if err != nil {
			if errors.Is(err, ErrNeedMoreInput) {
				select {
				case <-time.After(pumpPollInterval):
				case <-d.ctx.Done():
					return
				}
				continue
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			d.mu.Lock()
			d.pumpErr = err
			d.mu.Unlock()
			return
		}

		d.booster.Raise()
		switch pkt.Track {
		case TrackVideo:
			err = d.video.Submit(d.ctx, pkt)
		case TrackAudio:
			if d.audio != nil {
				err = d.audio.Submit(d.ctx, pkt)
			}
		}
		d.booster.Lower()

		if err != nil {
			d.mu.Lock()
			d.pumpErr = err
			d.mu.Unlock()
			return
		}
	}
}

// drainVideo moves decoded video frames from the backend into the bounded
// frame ring the consumer reads from.
func (d *Driver) drainVideo() {
	defer d.pumpWG.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case res, ok := <-d.video.Frames():
			if !ok {
				return
			}
			if res.err != nil {
				d.mu.Lock()
				d.pumpErr = res.err
				d.mu.Unlock()
				return
			}
			if err := d.rings.Push(d.ctx, res.frame); err != nil {
				return
			}
		}
	}
}

// GetDecodedVideoFrame returns the next decoded video frame, blocking until
// one is ready, the driver is closed, or ctx is cancelled.
func (d *Driver) GetDecodedVideoFrame(ctx context.Context) (Frame, error) {
	if d.closed.Load() {
		return Frame{}, ErrDriverClosed
	}
	f, err := d.rings.Pop(ctx)
	if errors.Is(err, ErrRingClosed) {
		d.mu.Lock()
		pumpErr := d.pumpErr
		d.mu.Unlock()
		if pumpErr != nil {
			return Frame{}, pumpErr
		}
		return Frame{}, ErrDriverClosed
	}
	return f, err
}

// TryGetDecodedVideoFrame returns the next decoded video frame without
// blocking. It returns ErrNeedMoreOutput, matching the backpressure signal
// of the original decode loop, when the frame ring is currently empty but
// the driver has not failed or closed.
func (d *Driver) TryGetDecodedVideoFrame() (Frame, error) {
	if d.closed.Load() {
		return Frame{}, ErrDriverClosed
	}
	if f, ok := d.rings.TryPop(); ok {
		return f, nil
	}
	d.mu.Lock()
	pumpErr := d.pumpErr
	d.mu.Unlock()
	if pumpErr != nil {
		return Frame{}, pumpErr
	}
	return Frame{}, ErrNeedMoreOutput
}

// AudioResults returns decoded/resampled PCM as it becomes available, or nil
// if the driver was constructed without an audio track.
func (d *Driver) AudioResults() <-chan audioResult {
	if d.audio == nil {
		return nil
	}
	return d.audio.Results()
}

// Seek flushes buffered decode state and repositions the packet source at
// the given presentation timestamp. Unlike the combined-demux case, this
// does not restart the backends' subprocesses: it only discards buffered
// frames and pending PTS, since the backends themselves are stateless
// across a discontinuous jump once primed.
func (d *Driver) Seek(ctx context.Context, pts int64) error {
	if d.closed.Load() {
		return ErrDriverClosed
	}
	d.seekGeneration.Add(1)
	d.rings.Reset()
	return d.source.Seek(ctx, pts)
}

// ClearBuffer discards buffered decoded output and pending PTS without
// touching the packet source, for a controller that wants to drop stale
// frames (e.g. after a track switch) without a full seek.
func (d *Driver) ClearBuffer() {
	d.rings.Reset()
}

// Deinit is Close under the name the original decode loop's consumer
// surface used.
func (d *Driver) Deinit() error {
	return d.Close()
}

// Close stops the packet pump and releases both backends.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()
	d.rings.Close()

	var firstErr error
	if err := d.video.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("decode: closing video backend: %w", err)
	}
	if d.audio != nil {
		if err := d.audio.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("decode: closing audio backend: %w", err)
		}
	}
	d.pumpWG.Wait()
	return firstErr
}
