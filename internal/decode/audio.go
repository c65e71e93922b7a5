package decode

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// Resampler converts interleaved S16 PCM from one rate/channel layout to
// another. The default implementation is a linear nearest-neighbor
// resampler; callers on richer platforms may inject a higher-quality one
// (e.g. one backed by a proper polyphase filter) without the driver caring.
type Resampler interface {
	Resample(pcm []byte, srcRate, srcChannels, dstRate, dstChannels int) []byte
}

// nearestResampler is the default Resampler: nearest-neighbor sample-rate
// conversion and naive channel up/down-mixing. Adequate for a resource
// constrained device where decode time matters more than resampling fidelity.
type nearestResampler struct{}

func (nearestResampler) Resample(pcm []byte, srcRate, srcChannels, dstRate, dstChannels int) []byte {
	if srcRate <= 0 || srcChannels <= 0 {
		return nil
	}
	if srcRate == dstRate && srcChannels == dstChannels {
		return pcm
	}

	srcFrames := len(pcm) / (2 * srcChannels)
	if srcFrames == 0 {
		return nil
	}

	dstFrames := srcFrames
	if srcRate != dstRate {
		dstFrames = srcFrames * dstRate / srcRate
	}

	out := make([]byte, dstFrames*2*dstChannels)
	for i := 0; i < dstFrames; i++ {
		srcIdx := i * srcFrames / dstFrames
		if srcIdx >= srcFrames {
			srcIdx = srcFrames - 1
		}
		for ch := 0; ch < dstChannels; ch++ {
			srcCh := ch
			if srcCh >= srcChannels {
				srcCh = srcChannels - 1
			}
			srcOff := (srcIdx*srcChannels + srcCh) * 2
			dstOff := (i*dstChannels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[srcOff : srcOff+2]))
			binary.LittleEndian.PutUint16(out[dstOff:dstOff+2], uint16(sample))
		}
	}
	return out
}

// audioBackend drives an ffmpeg subprocess decoding one elementary audio
// stream to native-rate S16 PCM, mirroring the video backend's pattern of
// shelling out rather than linking a codec library.
type audioBackend struct {
	logger *slog.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	rate       int
	channels   int
	resampler  Resampler
	dstRate    int
	dstChannel int

	ptsMu sync.Mutex
	pts   []int64

	pcm chan audioResult
}

type audioResult struct {
	pcm []byte
	pts int64
	err error
}

func newAudioBackend(ffmpegPath, codecFormat string, rate, channels, dstRate, dstChannels int, resampler Resampler, logger *slog.Logger) (*audioBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if resampler == nil {
		resampler = nearestResampler{}
	}

	cmd := exec.Command(ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-f", codecFormat, "-i", "-",
		"-f", "s16le", "-ar", fmt.Sprintf("%d", rate), "-ac", fmt.Sprintf("%d", channels), "-")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: opening audio stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: opening audio stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode: starting audio decoder: %w", err)
	}

	b := &audioBackend{
		logger:     logger,
		cmd:        cmd,
		stdin:      stdin,
		rate:       rate,
		channels:   channels,
		resampler:  resampler,
		dstRate:    dstRate,
		dstChannel: dstChannels,
		pcm:        make(chan audioResult, frameRingSlots),
	}
	go b.readPCM(stdout)
	return b, nil
}

// frameBytes is the PCM chunk size read per iteration: 20ms of audio at the
// decoder's native rate, matching the downloader/decoder's 20ms cadence
// elsewhere in this module.
func (b *audioBackend) frameBytes() int {
	samplesPer20ms := b.rate / 50
	if samplesPer20ms <= 0 {
		samplesPer20ms = 1
	}
	return samplesPer20ms * 2 * b.channels
}

func (b *audioBackend) readPCM(stdout io.ReadCloser) {
	defer close(b.pcm)
	defer stdout.Close()

	r := bufio.NewReaderSize(stdout, 1<<16)
	buf := make([]byte, b.frameBytes())

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			resampled := b.resampler.Resample(buf[:n], b.rate, b.channels, b.dstRate, b.dstChannel)
			b.pcm <- audioResult{pcm: resampled, pts: b.popPTS()}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				b.pcm <- audioResult{err: fmt.Errorf("decode: reading audio: %w", err)}
			}
			return
		}
	}
}

func (b *audioBackend) Submit(ctx context.Context, pkt Packet) error {
	b.ptsMu.Lock()
	b.pts = append(b.pts, pkt.PTS)
	b.ptsMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.stdin.Write(pkt.Data); err != nil {
		return fmt.Errorf("decode: writing audio packet: %w", err)
	}
	return nil
}

// popPTS returns the oldest submitted packet's PTS, or 0 if none are
// pending. Unlike the video path's ptsRing, audio decode never reorders
// output relative to submission, so a plain FIFO is sufficient here.
func (b *audioBackend) popPTS() int64 {
	b.ptsMu.Lock()
	defer b.ptsMu.Unlock()
	if len(b.pts) == 0 {
		return 0
	}
	pts := b.pts[0]
	b.pts = b.pts[1:]
	return pts
}

func (b *audioBackend) Results() <-chan audioResult {
	return b.pcm
}

func (b *audioBackend) Close() error {
	b.mu.Lock()
	stdin := b.stdin
	cmd := b.cmd
	b.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil {
		return nil
	}
	_ = cmd.Wait()
	return nil
}
