package netstream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultMaxForwardReadBlocks bounds how far past read_head the downloader's
// scheduler will speculatively fill a ranged stream (MAX_FORWARD_READ_BLOCKS).
const DefaultMaxForwardReadBlocks = 64

// Stream is one remote resource's block cache, read cursor, and status
// flags. A Stream is safe for concurrent use: the downloader goroutine
// writes blocks into it, the consumer advances ReadHead and reads out of
// it, and both sides observe the status flags.
//
// Every flag other than SuspendRequest and DisableInterrupt is one-shot:
// once set true it never clears. Len and BlockNum are written when Ready is
// set, and SeqHead and SeqID by SetLivestreamSeq; all four are atomics and
// may be read without the lock.
type Stream struct {
	// ID disambiguates streams in diagnostics and logs; it carries no
	// protocol meaning.
	ID uuid.UUID

	BlockSize      int64
	MaxCacheBlocks int
	WholeDownload  bool
	SessionName    string

	urlMu sync.RWMutex
	url   string

	len      atomic.Int64 // -1 until known
	blockNum atomic.Int64
	seqHead  atomic.Int64
	seqID    atomic.Int64
	seqSet   atomic.Bool

	ready             atomic.Bool
	errored           atomic.Bool
	quitRequest       atomic.Bool
	suspendRequest    atomic.Bool
	disableInterrupt  atomic.Bool
	livestreamEOF     atomic.Bool
	livestreamPrivate atomic.Bool

	ReadHead atomic.Uint64

	statusMu sync.RWMutex
	status   string

	mu    sync.Mutex // downloaded_data_lock
	cache map[int64][]byte
}

// New creates a Stream for the given URL. blockSize and maxCacheBlocks come
// from the downloader's configuration, not per-stream state.
func New(url string, blockSize int64, maxCacheBlocks int, wholeDownload bool) *Stream {
	s := &Stream{
		ID:             uuid.New(),
		url:            url,
		BlockSize:      blockSize,
		MaxCacheBlocks: maxCacheBlocks,
		WholeDownload:  wholeDownload,
		cache:          make(map[int64][]byte),
	}
	s.len.Store(-1)
	return s
}

// URL returns the stream's current source URL. It changes when a fetch is
// redirected; see SetURL.
func (s *Stream) URL() string {
	s.urlMu.RLock()
	defer s.urlMu.RUnlock()
	return s.url
}

// SetURL updates the source URL after a redirect, so a subsequent fetch on
// the same Stream follows the resolved location instead of re-resolving it.
func (s *Stream) SetURL(url string) {
	s.urlMu.Lock()
	defer s.urlMu.Unlock()
	s.url = url
}

// Len returns the stream's total byte length, or -1 if not yet known.
func (s *Stream) Len() int64 { return s.len.Load() }

// BlockNum returns ceil(Len/BlockSize), or -1 if not yet known.
func (s *Stream) BlockNum() int64 { return s.blockNum.Load() }

// Ready reports whether Len and BlockNum have been fixed by a successful
// fetch.
func (s *Stream) Ready() bool { return s.ready.Load() }

// SetReady fixes the stream's length and block count. Called exactly once,
// by the downloader, on the first successful fetch.
func (s *Stream) SetReady(length int64) {
	s.len.Store(length)
	s.blockNum.Store(ceilDiv(length, s.BlockSize))
	s.ready.Store(true)
}

// SetLivestreamSeq records the x-head-seqnum/x-sequence-num markers parsed
// from a whole_download fetch.
func (s *Stream) SetLivestreamSeq(head, id int64) {
	s.seqHead.Store(head)
	s.seqID.Store(id)
	s.seqSet.Store(true)
}

// SeqHead and SeqID return the livestream sequence markers and whether they
// were ever set.
func (s *Stream) SeqHead() (int64, bool) { return s.seqHead.Load(), s.seqSet.Load() }
func (s *Stream) SeqID() (int64, bool)   { return s.seqID.Load(), s.seqSet.Load() }

// Error reports whether the stream has entered its terminal error state.
func (s *Stream) Error() bool { return s.errored.Load() }

// SetError marks the stream as failed. One-shot; the downloader stops
// scheduling it and the consumer sees EOF from the I/O bridge thereafter.
func (s *Stream) SetError() { s.errored.Store(true) }

// LivestreamEOF/LivestreamPrivate are NetworkError specializations set
// alongside SetError for whole_download status codes 204/404 and 403
// respectively.
func (s *Stream) LivestreamEOF() bool     { return s.livestreamEOF.Load() }
func (s *Stream) SetLivestreamEOF()       { s.livestreamEOF.Store(true) }
func (s *Stream) LivestreamPrivate() bool { return s.livestreamPrivate.Load() }
func (s *Stream) SetLivestreamPrivate()   { s.livestreamPrivate.Store(true) }

// QuitRequest/SetQuitRequest: the consumer signals quit and never touches
// the stream again; the downloader is the sole destroyer.
func (s *Stream) QuitRequest() bool  { return s.quitRequest.Load() }
func (s *Stream) SetQuitRequest()    { s.quitRequest.Store(true) }

// SuspendRequest is externally togglable in both directions, as is
// DisableInterrupt.
func (s *Stream) SuspendRequest() bool        { return s.suspendRequest.Load() }
func (s *Stream) SetSuspendRequest(v bool)    { s.suspendRequest.Store(v) }

// DisableInterrupt/SetDisableInterrupt controls whether the I/O bridge's
// interrupt check applies to this stream.
func (s *Stream) DisableInterrupt() bool     { return s.disableInterrupt.Load() }
func (s *Stream) SetDisableInterrupt(v bool) { s.disableInterrupt.Store(v) }

// WaitingStatus returns the human-readable diagnostic string the I/O bridge
// sets while blocked waiting on this stream.
func (s *Stream) WaitingStatus() string {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// SetWaitingStatus updates the diagnostic string; pass "" to clear it.
func (s *Stream) SetWaitingStatus(status string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
}

// IsAvailable reports whether [start, start+size) is entirely cached.
func (s *Stream) IsAvailable(start, size int64) bool {
	if !s.ready.Load() {
		return false
	}
	if size == 0 {
		return start+size <= s.len.Load()
	}
	if start+size > s.len.Load() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := start / s.BlockSize
	last := (start + size - 1) / s.BlockSize
	for b := first; b <= last; b++ {
		if _, ok := s.cache[b]; !ok {
			return false
		}
	}
	return true
}

// Read assembles size bytes starting at start from cached blocks. The
// caller must have already established IsAvailable(start, size); Read
// returns ErrNotAvailable otherwise.
func (s *Stream) Read(start, size int64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if !s.IsAvailable(start, size) {
		return nil, ErrNotAvailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, 0, size)
	first := start / s.BlockSize
	last := (start + size - 1) / s.BlockSize
	for b := first; b <= last; b++ {
		block := s.cache[b]
		blockStart := b * s.BlockSize
		from := int64(0)
		if b == first {
			from = start - blockStart
		}
		to := int64(len(block))
		if b == last {
			to = start + size - blockStart
		}
		out = append(out, block[from:to]...)
	}
	return out, nil
}

// Insert writes one block unconditionally, evicting per the look-ahead-
// biased policy if the cache has grown past MaxCacheBlocks.
func (s *Stream) Insert(blockIndex int64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.cache[blockIndex] = buf

	if s.MaxCacheBlocks > 0 && len(s.cache) > s.MaxCacheBlocks {
		s.evictLocked()
	}
}

// evictLocked drops exactly one block, biased toward keeping the look-ahead
// window: if the minimum cached index is behind the playhead's block, that
// stale block is dropped; otherwise the farthest-ahead block is dropped.
// Must be called with s.mu held.
func (s *Stream) evictLocked() {
	if len(s.cache) == 0 {
		return
	}
	h := int64(s.ReadHead.Load()) / s.BlockSize

	min, max := int64(-1), int64(-1)
	for b := range s.cache {
		if min == -1 || b < min {
			min = b
		}
		if max == -1 || b > max {
			max = b
		}
	}

	if min < h {
		delete(s.cache, min)
	} else {
		delete(s.cache, max)
	}
}

// DownloadPercent returns the fraction of the stream's known length that is
// currently cached, in [0,100]. Returns 0 if not yet ready.
func (s *Stream) DownloadPercent() float64 {
	length := s.len.Load()
	if !s.ready.Load() || length <= 0 {
		return 0
	}

	s.mu.Lock()
	var cached int64
	for _, b := range s.cache {
		cached += int64(len(b))
	}
	s.mu.Unlock()

	pct := float64(cached) / float64(length) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProgressBar splits [0, Len) into n equal ranges and returns, for each, the
// percentage of that range currently cached.
func (s *Stream) ProgressBar(n int) []float64 {
	out := make([]float64, n)
	length := s.len.Load()
	if !s.ready.Load() || length <= 0 || n <= 0 {
		return out
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	segLen := float64(length) / float64(n)
	for i := 0; i < n; i++ {
		segStart := int64(float64(i) * segLen)
		segEnd := int64(float64(i+1) * segLen)
		if i == n-1 {
			segEnd = length
		}
		if segEnd <= segStart {
			continue
		}

		var covered int64
		firstBlock := segStart / s.BlockSize
		lastBlock := (segEnd - 1) / s.BlockSize
		for b := firstBlock; b <= lastBlock; b++ {
			block, ok := s.cache[b]
			if !ok {
				continue
			}
			blockStart := b * s.BlockSize
			blockEnd := blockStart + int64(len(block))
			overlapStart := max64(segStart, blockStart)
			overlapEnd := min64(segEnd, blockEnd)
			if overlapEnd > overlapStart {
				covered += overlapEnd - overlapStart
			}
		}
		out[i] = float64(covered) / float64(segEnd-segStart) * 100
	}
	return out
}

// CacheSize returns the number of blocks currently cached.
func (s *Stream) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
