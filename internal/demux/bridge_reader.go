package demux

import (
	"context"
	"sync/atomic"

	"github.com/embedstream/streamcore/internal/iobridge"
)

// bridgeReader adapts an iobridge.Bridge's context-taking Read into the
// plain io.Reader shape github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts.Reader
// expects over its R field. ctx is swapped out by the owning demuxContext
// before each top-level call; the packet pump is single-producer so no
// synchronization is needed around the swap.
type bridgeReader struct {
	bridge    *iobridge.Bridge
	ctx       context.Context
	bytesRead atomic.Int64
}

func (r *bridgeReader) Read(p []byte) (int, error) {
	n, err := r.bridge.Read(r.ctx, p)
	r.bytesRead.Add(int64(n))
	return n, err
}
