package downloader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/embedstream/streamcore/internal/netstream"
	"github.com/embedstream/streamcore/pkg/httpclient"
)

// Config configures a Downloader. Zero-valued fields fall back to the
// package's Default* constants.
type Config struct {
	BlockSize            int64
	MaxCacheBlocks       int
	MaxForwardReadBlocks int

	// Sessions holds the set of named HTTP clients streams can pin
	// themselves to; it is an explicit parameter the caller owns and may
	// share across Downloaders rather than a package-level singleton.
	Sessions *httpclient.Registry

	// DefaultSessionName selects which client in Sessions serves a stream
	// that does not pin one via Stream.SessionName.
	DefaultSessionName string

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.MaxCacheBlocks <= 0 {
		c.MaxCacheBlocks = DefaultMaxCacheBlocks
	}
	if c.MaxForwardReadBlocks <= 0 {
		c.MaxForwardReadBlocks = DefaultMaxForwardReadBlocks
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sessions == nil {
		c.Sessions = httpclient.NewRegistry()
	}
}

// Downloader runs one background loop that selects a stream and fetches
// the next block it needs. It owns the slot table's lifetime: streams are
// only ever freed by the loop itself, never by a caller, so that freeing
// never races a fetch in flight.
type Downloader struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex // streams_lock
	slots []*netstream.Stream

	bandwidth *BandwidthTracker

	exitRequested atomic.Bool
	wg            sync.WaitGroup
	done          chan struct{}
}

// New constructs a Downloader. Call Start to begin its background loop.
func New(cfg Config) *Downloader {
	cfg.setDefaults()
	return &Downloader{
		cfg:       cfg,
		logger:    cfg.Logger,
		bandwidth: NewBandwidthTracker(),
		done:      make(chan struct{}),
	}
}

// Bandwidth returns the tracker accumulating bytes fetched across every
// stream this downloader owns, sampled by the loop once per elapsed sample
// period.
func (d *Downloader) Bandwidth() *BandwidthTracker {
	return d.bandwidth
}

// NewStream constructs and registers a Stream using the Downloader's
// configured block size and cache bound, returning its stable slot index.
func (d *Downloader) NewStream(url string, wholeDownload bool) (*netstream.Stream, int) {
	s := netstream.New(url, d.cfg.BlockSize, d.cfg.MaxCacheBlocks, wholeDownload)
	return s, d.Register(s)
}

// Register adds a stream to the slot table, reusing the first nil slot if
// one exists so indices stay stable for the table's lifetime.
func (d *Downloader) Register(s *netstream.Stream) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, slot := range d.slots {
		if slot == nil {
			d.slots[i] = s
			return i
		}
	}
	d.slots = append(d.slots, s)
	return len(d.slots) - 1
}

// Unregister signals the stream at idx to quit. The downloader loop
// destroys it (nils the slot) the next time it visits it; Unregister
// itself never touches the slot table's contents.
func (d *Downloader) Unregister(idx int) error {
	d.mu.Lock()
	s := d.slotLocked(idx)
	d.mu.Unlock()
	if s == nil {
		return ErrNoSuchSlot
	}
	s.SetQuitRequest()
	return nil
}

func (d *Downloader) slotLocked(idx int) *netstream.Stream {
	if idx < 0 || idx >= len(d.slots) {
		return nil
	}
	return d.slots[idx]
}

// Start launches the background loop. It returns immediately; call Stop to
// tear it down.
func (d *Downloader) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop requests the loop exit: every remaining stream is marked
// quit_request and the loop returns once it observes that. Stop blocks
// until the loop has exited.
func (d *Downloader) Stop() {
	if d.exitRequested.CompareAndSwap(false, true) {
		close(d.done)
	}
	d.wg.Wait()
}

func (d *Downloader) run(ctx context.Context) {
	defer d.wg.Done()

	lastSample := time.Now()
	for {
		select {
		case <-ctx.Done():
			d.quitAll()
			return
		case <-d.done:
			d.quitAll()
			return
		default:
		}

		if now := time.Now(); now.Sub(lastSample) >= d.bandwidth.SamplePeriod() {
			d.bandwidth.Sample()
			lastSample = now
		}

		idx, s := d.pick()
		if s == nil {
			select {
			case <-time.After(LoopIdleInterval):
			case <-ctx.Done():
				d.quitAll()
				return
			case <-d.done:
				d.quitAll()
				return
			}
			continue
		}

		if err := d.fetch(ctx, s); err != nil {
			d.logger.Debug("downloader: fetch failed", "stream", s.ID, "error", err)
		}
		d.reapIfQuit(idx)
	}
}

// quitAll sets quit_request on every remaining stream and reaps them: the
// downloader never leaves a stream behind once shutdown has been
// requested.
func (d *Downloader) quitAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.slots {
		if s == nil {
			continue
		}
		s.SetQuitRequest()
		d.slots[i] = nil
	}
}

func (d *Downloader) reapIfQuit(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.slotLocked(idx); s != nil && s.QuitRequest() {
		d.slots[idx] = nil
	}
}

func (d *Downloader) sessionFor(s *netstream.Stream) *httpclient.Client {
	name := s.SessionName
	if name == "" {
		name = d.cfg.DefaultSessionName
	}
	if c := d.cfg.Sessions.Get(name); c != nil {
		return c
	}
	c := httpclient.NewWithDefaults()
	d.cfg.Sessions.Register(name, c)
	return c
}
