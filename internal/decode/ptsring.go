package decode

import "sync"

// ptsRing is a mutex-guarded pool of presentation timestamps submitted to
// the hardware backend. The hardware decode path, like the original MVD
// pipeline it is modeled on, buffers internally and does not preserve
// packet-to-frame identity across that buffering: a submitted packet's PTS
// comes back attached to whichever frame the subprocess happens to emit
// next, not necessarily the frame decoded from that exact packet. Pushing on
// submit and popping the smallest pending PTS on frame-emit reassociates the
// two in presentation order, which is the best approximation available
// without decoder-side frame tagging.
type ptsRing struct {
	mu  sync.Mutex
	pts []int64
}

func newPtsRing() *ptsRing {
	return &ptsRing{}
}

// Push records the PTS of a packet submitted to the hardware backend.
func (r *ptsRing) Push(pts int64) {
	r.mu.Lock()
	r.pts = append(r.pts, pts)
	r.mu.Unlock()
}

// Pop removes and returns the smallest submitted PTS still pending. Frames
// can be emitted out of submission order (B-frame reordering on the decode
// side), so the minimum rather than the oldest entry is the one ready for
// display. ok is false if the ring is empty, which indicates the backend
// emitted a frame without a matching submission (a driver bug, not a stream
// condition).
func (r *ptsRing) Pop() (pts int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pts) == 0 {
		return 0, false
	}
	minIdx := 0
	for i := 1; i < len(r.pts); i++ {
		if r.pts[i] < r.pts[minIdx] {
			minIdx = i
		}
	}
	pts = r.pts[minIdx]
	r.pts = append(r.pts[:minIdx], r.pts[minIdx+1:]...)
	return pts, true
}

// Len returns the number of PTS values awaiting a matching frame.
func (r *ptsRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pts)
}

// Reset discards all pending PTS values, used on seek and reinit.
func (r *ptsRing) Reset() {
	r.mu.Lock()
	r.pts = r.pts[:0]
	r.mu.Unlock()
}
