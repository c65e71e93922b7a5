package demux

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

const tsPacketLen = 188

// seekTo repositions this transport stream near targetPTS and reads forward
// until a packet on the anchor track (video when wantVideo, audio
// otherwise) lands at or after targetPTS-window. It returns that packet's
// pts without popping it, so normal NextPacket consumption picks it up next.
func (dc *demuxContext) seekTo(ctx context.Context, targetPTS, window int64, wantVideo bool) (int64, error) {
	dc.videoQueue.clear()
	dc.audioQueue.clear()
	dc.eof = false

	offset := dc.estimateByteOffset(targetPTS)
	if _, err := dc.bridge.Seek(ctx, offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("demux: seeking underlying stream: %w", err)
	}

	aligned, err := dc.resyncToPacketBoundary(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := dc.bridge.Seek(ctx, aligned, io.SeekStart); err != nil {
		return 0, fmt.Errorf("demux: realigning after seek: %w", err)
	}

	dc.br = &bridgeReader{bridge: dc.bridge, ctx: ctx}
	dc.reader = &mpegts.Reader{R: dc.br}
	if err := dc.reader.Initialize(); err != nil {
		return 0, fmt.Errorf("%w: reinitializing transport stream: %v", ErrSeekFailed, err)
	}
	dc.reader.OnDecodeError(func(err error) {
		dc.logger.Debug("demux: decode error during seek", "error", err)
	})
	for _, track := range dc.reader.Tracks() {
		dc.setupTrack(track)
	}

	lowerBound := targetPTS - window
	for {
		q := &dc.audioQueue
		if wantVideo {
			q = &dc.videoQueue
		}
		if !q.empty() {
			if q.front().DTS >= lowerBound {
				return q.front().PTS, nil
			}
			q.pop()
			continue
		}
		if err := dc.readOne(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, fmt.Errorf("%w: reached end of stream before landing pts", ErrSeekFailed)
			}
			return 0, err
		}
	}
}

// estimateByteOffset maps a target pts to a byte offset using the average
// bytes-per-tick rate observed so far in this context. There is no seek
// index available over a synthetic block-cache byte source, so this is a
// deliberate approximation: accurate once enough of the stream has been
// read to establish a rate, otherwise it seeks to the start and lets the
// forward read-and-discard loop in seekTo do the rest.
func (dc *demuxContext) estimateByteOffset(targetPTS int64) int64 {
	if targetPTS <= 0 {
		return 0
	}
	bytes := dc.br.bytesRead.Load()
	dts := dc.maxDTSSeen.Load()
	if bytes <= 0 || dts <= 0 {
		return 0
	}
	offset := targetPTS * bytes / dts
	if offset < 0 {
		return 0
	}
	return offset
}

// resyncToPacketBoundary scans forward from the bridge's current position
// for three consecutive 188-byte-spaced sync bytes, the standard heuristic
// for locating a transport stream packet boundary from an arbitrary byte
// offset.
func (dc *demuxContext) resyncToPacketBoundary(ctx context.Context) (int64, error) {
	const window = tsPacketLen * 6
	const maxAttempts = 8

	base, err := dc.bridge.Seek(ctx, 0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("demux: reading seek position: %w", err)
	}

	buf := make([]byte, window)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		n, err := dc.bridge.Read(ctx, buf)
		if err != nil {
			return 0, fmt.Errorf("%w: resynchronizing to packet boundary: %v", ErrSeekFailed, err)
		}
		for i := 0; i+2*tsPacketLen < n; i++ {
			if buf[i] == 0x47 && buf[i+tsPacketLen] == 0x47 && buf[i+2*tsPacketLen] == 0x47 {
				return base + int64(i), nil
			}
		}
		base += int64(n)
	}
	return 0, fmt.Errorf("%w: no packet boundary found near seek target", ErrSeekFailed)
}
