package downloader

import (
	"github.com/embedstream/streamcore/internal/netstream"
)

// pick selects one slot to serve this iteration:
//
//  1. Any not-yet-ready stream is chosen immediately, ties broken by
//     lowest index — its length is unknown, so nothing else can be
//     scheduled confidently around it.
//  2. Otherwise, among ready, ranged (!whole_download) streams, the one
//     whose nearest missing block (within the forward read window) is
//     closest to the read head wins; ties broken by lowest index.
//
// Streams with quit_request, error, or suspend_request set are skipped
// (and quit_request streams are reaped here, before scheduling, rather
// than left for a later pass).
func (d *Downloader) pick() (int, *netstream.Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bestIdx := -1
	var best *netstream.Stream
	bestMargin := -1.0
	bestIsNotReady := false

	for i, s := range d.slots {
		if s == nil {
			continue
		}
		if s.QuitRequest() {
			d.slots[i] = nil
			continue
		}
		if s.Error() || s.SuspendRequest() {
			continue
		}

		if !s.Ready() {
			if bestIdx == -1 || !bestIsNotReady {
				bestIdx, best, bestIsNotReady = i, s, true
			}
			continue
		}
		if bestIsNotReady {
			continue
		}
		if s.WholeDownload {
			continue
		}

		f, ok := firstMissingBlock(s, d.cfg.MaxForwardReadBlocks)
		if !ok {
			continue
		}

		length := s.Len()
		margin := 0.0
		if length > 0 {
			margin = float64(f*s.BlockSize-int64(s.ReadHead.Load())) / float64(length) * 100
		}

		if bestIdx == -1 || margin < bestMargin {
			bestIdx, best, bestMargin = i, s, margin
		}
	}

	return bestIdx, best
}

// firstMissingBlock returns the lowest block index at or after read_head/B
// that is not cached, stopping at read_head/B + window. ok is false if the
// stream should be skipped this iteration: every block in the window (or
// through block_num) is already cached.
func firstMissingBlock(s *netstream.Stream, window int) (int64, bool) {
	h := int64(s.ReadHead.Load()) / s.BlockSize
	stop := h + int64(window)

	if !s.Ready() {
		// Length is unknown: the only "missing" block is read_head's own,
		// which the not-ready fetch path fills in to learn len/block_num.
		return h, true
	}

	blockNum := s.BlockNum()
	for f := h; f < stop && f < blockNum; f++ {
		if !s.IsAvailable(f*s.BlockSize, blockLen(s, f)) {
			return f, true
		}
	}
	return 0, false
}

func blockLen(s *netstream.Stream, block int64) int64 {
	length := s.Len()
	start := block * s.BlockSize
	end := start + s.BlockSize
	if end > length {
		end = length
	}
	if end < start {
		return 0
	}
	return end - start
}
