package iobridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/embedstream/streamcore/internal/netstream"
)

// DefaultPollInterval is the bridge's wait-for-availability cadence, the
// single suspension point that bridges demuxer I/O to downloader progress.
const DefaultPollInterval = 20 * time.Millisecond

// Bridge presents one netstream.Stream as a blocking, seekable byte source.
type Bridge struct {
	stream       *netstream.Stream
	pollInterval time.Duration
	booster      CPUBooster
	logger       *slog.Logger

	interrupt  atomic.Bool
	needReinit atomic.Bool
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) { b.pollInterval = d }
}

// WithCPUBooster installs a non-default CPUBooster.
func WithCPUBooster(booster CPUBooster) Option {
	return func(b *Bridge) { b.booster = booster }
}

// WithLogger installs a non-default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New wraps stream in a Bridge.
func New(stream *netstream.Stream, opts ...Option) *Bridge {
	b := &Bridge{
		stream:       stream,
		pollInterval: DefaultPollInterval,
		booster:      NoopCPUBooster{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetInterrupt toggles the controller-level interrupt flag. Once set, the
// next Read or Seek call aborts with io.EOF and raises NeedReinit, unless
// the stream has DisableInterrupt set.
func (b *Bridge) SetInterrupt(v bool) { b.interrupt.Store(v) }

// NeedReinit reports whether a call aborted due to an interrupt, meaning
// the controller should tear down and reinitialize its demux session.
func (b *Bridge) NeedReinit() bool { return b.needReinit.Load() }

// ClearNeedReinit resets the flag after the controller has acted on it.
func (b *Bridge) ClearNeedReinit() { b.needReinit.Store(false) }

// Stream returns the underlying stream.
func (b *Bridge) Stream() *netstream.Stream { return b.stream }

// wait blocks until the stream satisfies cond, honoring ctx cancellation
// and raising the CPU booster once the wait outlasts its first poll
// iteration. cond is re-evaluated on every iteration, including the first,
// before any sleep.
func (b *Bridge) wait(ctx context.Context, cond func() (done bool, terminal bool)) (terminal bool, err error) {
	waited := 0
	boosted := false
	defer func() {
		if boosted {
			b.booster.Lower()
		}
		if waited > 0 {
			b.stream.SetWaitingStatus("")
		}
	}()

	for {
		if done, term := cond(); done {
			return term, nil
		}

		if waited == 0 {
			b.stream.SetWaitingStatus("Reading stream")
		} else if !boosted {
			b.booster.Raise()
			boosted = true
		}
		waited++

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

// terminalNow reports whether the stream (or the controller's interrupt flag)
// has reached a state that must abort the current call with io.EOF.
func (b *Bridge) terminalNow() bool {
	if b.stream.Error() || b.stream.QuitRequest() {
		return true
	}
	if b.interrupt.Load() && !b.stream.DisableInterrupt() {
		b.needReinit.Store(true)
		return true
	}
	return false
}

// Read copies up to len(buf) bytes starting at the stream's read_head and
// advances it. It blocks until the requested range is entirely cached (or a
// terminal condition is reached): a short read never happens except at
// EOF.
func (b *Bridge) Read(ctx context.Context, buf []byte) (int, error) {
	size := int64(len(buf))
	if size == 0 {
		return 0, nil
	}
	start := int64(b.stream.ReadHead.Load())

	var readSize int64
	terminal, err := b.wait(ctx, func() (bool, bool) {
		if b.terminalNow() {
			return true, true
		}
		if !b.stream.Ready() {
			return false, false
		}
		length := b.stream.Len()
		if start >= length {
			return true, true
		}
		readSize = size
		if start+readSize > length {
			readSize = length - start
		}
		return b.stream.IsAvailable(start, readSize), false
	})
	if err != nil {
		return 0, err
	}
	if terminal {
		return 0, io.EOF
	}

	data, err := b.stream.Read(start, readSize)
	if err != nil {
		return 0, io.EOF
	}
	copy(buf, data)
	b.stream.ReadHead.Add(uint64(readSize))
	return int(readSize), nil
}

// Seek resolves offset relative to whence (io.SeekStart/Current/End) against
// the stream's known length, blocking until the length is known. It does
// not itself move any cached data; it only repositions read_head.
func (b *Bridge) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	var pos int64
	terminal, err := b.wait(ctx, func() (bool, bool) {
		if b.terminalNow() {
			return true, true
		}
		return b.stream.Ready(), false
	})
	if err != nil {
		return -1, err
	}
	if terminal {
		return -1, io.EOF
	}

	length := b.stream.Len()
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.stream.ReadHead.Load()) + offset
	case io.SeekEnd:
		pos = length + offset
	default:
		return -1, fmt.Errorf("iobridge: invalid whence %d", whence)
	}

	if pos < 0 || pos > length {
		return -1, ErrSeekOutOfRange
	}
	b.stream.ReadHead.Store(uint64(pos))
	return pos, nil
}

// Size blocks until the stream's length is known and returns it.
func (b *Bridge) Size(ctx context.Context) (int64, error) {
	terminal, err := b.wait(ctx, func() (bool, bool) {
		if b.terminalNow() {
			return true, true
		}
		return b.stream.Ready(), false
	})
	if err != nil {
		return -1, err
	}
	if terminal {
		return -1, io.EOF
	}
	return b.stream.Len(), nil
}
