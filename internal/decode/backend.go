package decode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/embedstream/streamcore/internal/ffmpeg"
)

// VideoBackend decodes Annex-B H.264 video packets into raw planar frames.
// It is a tagged variant, not a subtype hierarchy: exactly one of
// softwareBackend or hardwareBackend is active for a given Driver, selected
// once at construction and never swapped mid-stream.
type VideoBackend interface {
	// Submit pushes one AVCC-framed video packet for decode. It does not
	// block on frame output; decoded frames surface through Frames().
	Submit(ctx context.Context, pkt Packet) error

	// Frames returns decoded frames as they become available. The channel
	// is closed when the backend shuts down.
	Frames() <-chan decodedFrame

	// SetSPSPPS primes the backend with the stream's parameter sets ahead
	// of the first video packet.
	SetSPSPPS(sps, pps []byte)

	// Close terminates the backend and releases its subprocess.
	Close() error
}

type decodedFrame struct {
	frame Frame
	err   error
}

// ffmpegVideoBackend is the shared implementation behind both the software
// and hardware VideoBackend variants: an ffmpeg subprocess fed raw Annex-B
// on stdin and emitting raw planar YUV420p frames on stdout, driving
// transcodes through a spawned binary rather than linking against libav
// directly.
type ffmpegVideoBackend struct {
	hardware  bool
	hwaccel   *ffmpeg.HWAccelInfo
	nalLength int
	width     int
	height    int
	logger    *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	frames chan decodedFrame
	pts    *ptsRing

	spsPPS []byte
	primed bool
}

// newSoftwareBackend returns a VideoBackend that decodes on the CPU via
// ffmpeg's built-in h264 decoder.
func newSoftwareBackend(ffmpegPath string, width, height, nalLengthSize int, logger *slog.Logger) (VideoBackend, error) {
	return newFfmpegVideoBackend(ffmpegPath, nil, width, height, nalLengthSize, logger)
}

// newHardwareBackend returns a VideoBackend that decodes using the given
// detected hardware accelerator.
func newHardwareBackend(ffmpegPath string, hwaccel *ffmpeg.HWAccelInfo, width, height, nalLengthSize int, logger *slog.Logger) (VideoBackend, error) {
	return newFfmpegVideoBackend(ffmpegPath, hwaccel, width, height, nalLengthSize, logger)
}

func newFfmpegVideoBackend(ffmpegPath string, hwaccel *ffmpeg.HWAccelInfo, width, height, nalLengthSize int, logger *slog.Logger) (*ffmpegVideoBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-f", "h264"}
	if hwaccel != nil {
		args = append(args, "-hwaccel", string(hwaccel.Type))
	}
	args = append(args, "-i", "-",
		"-f", "rawvideo", "-pix_fmt", "yuv420p", "-")

	cmd := exec.Command(ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: opening ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: opening ffmpeg stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode: starting ffmpeg: %w", err)
	}

	b := &ffmpegVideoBackend{
		hardware:  hwaccel != nil,
		hwaccel:   hwaccel,
		nalLength: nalLengthSize,
		width:     width,
		height:    height,
		logger:    logger,
		cmd:       cmd,
		stdin:     stdin,
		frames:    make(chan decodedFrame, frameRingSlots),
		pts:       newPtsRing(),
	}

	go b.readFrames(stdout)
	return b, nil
}

func (b *ffmpegVideoBackend) frameSize() int {
	// YUV420p: full-res Y plane, quarter-res U and V planes.
	return b.width*b.height + 2*((b.width+1)/2)*((b.height+1)/2)
}

func (b *ffmpegVideoBackend) readFrames(stdout io.ReadCloser) {
	defer close(b.frames)
	defer stdout.Close()

	r := bufio.NewReaderSize(stdout, 1<<20)
	ySize := b.width * b.height
	cSize := ((b.width + 1) / 2) * ((b.height + 1) / 2)
	buf := make([]byte, b.frameSize())

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				b.frames <- decodedFrame{err: fmt.Errorf("decode: reading frame: %w", err)}
			}
			return
		}

		f := Frame{
			Track:  TrackVideo,
			Width:  b.width,
			Height: b.height,
			Y:      append([]byte(nil), buf[:ySize]...),
			U:      append([]byte(nil), buf[ySize:ySize+cSize]...),
			V:      append([]byte(nil), buf[ySize+cSize:ySize+2*cSize]...),
		}

		// The hardware path, like the original MVD pipeline, does not
		// preserve packet identity across the subprocess's internal
		// buffering, so each frame takes the smallest pending PTS from the
		// pts ring. The software path decodes in lockstep
		// with submission and uses the same ring for symmetry.
		if pts, ok := b.pts.Pop(); ok {
			f.PTS = pts
		}

		b.frames <- decodedFrame{frame: f}
	}
}

func (b *ffmpegVideoBackend) Frames() <-chan decodedFrame {
	return b.frames
}

func (b *ffmpegVideoBackend) SetSPSPPS(sps, pps []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spsPPS = primeSPSPPS(sps, pps)
}

func (b *ffmpegVideoBackend) Submit(ctx context.Context, pkt Packet) error {
	annexB := rewriteAVCCToAnnexB(pkt.Data, b.nalLength)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.primed && len(b.spsPPS) > 0 {
		if _, err := b.stdin.Write(b.spsPPS); err != nil {
			return fmt.Errorf("decode: priming sps/pps: %w", err)
		}
		b.primed = true
	}

	b.pts.Push(pkt.PTS)
	if _, err := b.stdin.Write(annexB); err != nil {
		return fmt.Errorf("decode: writing packet: %w", err)
	}
	return nil
}

func (b *ffmpegVideoBackend) Close() error {
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
