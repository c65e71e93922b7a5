package demux

import "github.com/embedstream/streamcore/internal/decode"

// packetQueue is an ordered, unbounded FIFO of decode.Packet, one per track.
// Kept short in practice by the interleave policy rather than any size
// limit here.
type packetQueue struct {
	items []decode.Packet
	head  int
}

func (q *packetQueue) push(p decode.Packet) {
	q.items = append(q.items, p)
}

func (q *packetQueue) empty() bool {
	return q.head >= len(q.items)
}

func (q *packetQueue) front() decode.Packet {
	return q.items[q.head]
}

func (q *packetQueue) pop() decode.Packet {
	p := q.items[q.head]
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		// Periodically compact rather than let head creep forever; the
		// queue is read in strict FIFO order so a copy is always safe.
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return p
}

func (q *packetQueue) clear() {
	q.items = q.items[:0]
	q.head = 0
}
