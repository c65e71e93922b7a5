package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/embedstream/streamcore/internal/netstream"
	"github.com/embedstream/streamcore/pkg/format"
)

// fetch performs exactly one HTTP operation against s and updates its
// state: one whole_download GET, or one ranged GET for a single missing
// block. Network and protocol errors are swallowed into the stream's error
// flag rather than propagated; the returned error is for logging only.
func (d *Downloader) fetch(ctx context.Context, s *netstream.Stream) error {
	if s.WholeDownload {
		return d.fetchWholeDownload(ctx, s)
	}
	return d.fetchRanged(ctx, s)
}

func (d *Downloader) fetchWholeDownload(ctx context.Context, s *netstream.Stream) error {
	client := d.sessionFor(s)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(), nil)
	if err != nil {
		s.SetError()
		return fmt.Errorf("downloader: building whole_download request: %w", err)
	}

	resp, err := client.DoWithContext(ctx, req)
	if err != nil {
		s.SetError()
		return fmt.Errorf("downloader: whole_download fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.Request != nil && resp.Request.URL != nil {
		s.SetURL(resp.Request.URL.String())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.SetError()
		switch resp.StatusCode {
		case http.StatusNoContent, http.StatusNotFound:
			s.SetLivestreamEOF()
		case http.StatusForbidden:
			s.SetLivestreamPrivate()
		}
		return fmt.Errorf("downloader: whole_download status %d", resp.StatusCode)
	}

	head, headOK := parseIntHeaderFull(resp.Header.Get(HeaderHeadSeqNum))
	seq, seqOK := parseIntHeaderFull(resp.Header.Get(HeaderSequenceNum))
	if !headOK || !seqOK {
		s.SetError()
		return ErrMissingLivestreamHeader
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.SetError()
		return fmt.Errorf("downloader: reading whole_download body: %w", err)
	}

	length := int64(len(data))
	insertAllBlocks(s, data)
	s.SetLivestreamSeq(head, seq)
	s.SetReady(length)
	d.bandwidth.Add(uint64(length))
	d.logger.Debug("downloader: whole_download fetched", "stream", s.ID, "size", format.Bytes(length))
	return nil
}

func (d *Downloader) fetchRanged(ctx context.Context, s *netstream.Stream) error {
	h := int64(s.ReadHead.Load()) / s.BlockSize
	blockReading, ok := firstMissingBlock(s, rangedFetchWindow(s))
	if !ok {
		s.SetError()
		return ErrProtocolViolation
	}
	if blockReading < h {
		blockReading = h
	}

	start := blockReading * s.BlockSize
	end := start + s.BlockSize
	if s.Ready() {
		if l := s.Len(); end > l {
			end = l
		}
	}

	client := d.sessionFor(s)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(), nil)
	if err != nil {
		s.SetError()
		return fmt.Errorf("downloader: building ranged request: %w", err)
	}
	req.Header.Set(HeaderRange, fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := client.DoWithContext(ctx, req)
	if err != nil {
		s.SetError()
		return fmt.Errorf("downloader: ranged fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.Request != nil && resp.Request.URL != nil {
		s.SetURL(resp.Request.URL.String())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.SetError()
		return fmt.Errorf("downloader: ranged fetch status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.SetError()
		return fmt.Errorf("downloader: reading ranged body: %w", err)
	}

	if !s.Ready() {
		length, ok := parseContentRangeTotal(resp.Header.Get(HeaderContentRange))
		if !ok {
			s.SetError()
			return ErrMissingContentRange
		}
		s.SetReady(length)
		if end > length {
			end = length
		}
	}

	if int64(len(data)) != end-start {
		s.SetError()
		return ErrShortBody
	}

	s.Insert(blockReading, data)
	d.bandwidth.Add(uint64(end - start))
	d.logger.Debug("downloader: block fetched", "stream", s.ID, "block", blockReading, "size", format.Bytes(end-start))
	return nil
}

// rangedFetchWindow bounds how far past read_head the fetch operation will
// itself search for a missing block. Unlike the scheduler's look-ahead
// window (which only decides *whether* to pick a stream this iteration),
// the fetch operation must find some block to request, so it is allowed to
// search the whole known range once block_num is known.
func rangedFetchWindow(s *netstream.Stream) int {
	if !s.Ready() {
		return 1
	}
	n := int(s.BlockNum())
	if n <= 0 {
		return 1
	}
	return n
}

func insertAllBlocks(s *netstream.Stream, data []byte) {
	for off := int64(0); off < int64(len(data)); off += s.BlockSize {
		end := off + s.BlockSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		s.Insert(off/s.BlockSize, data[off:end])
	}
}

// parseIntHeaderFull parses a decimal integer header value, requiring the
// entire (non-empty) string to be consumed.
func parseIntHeaderFull(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseContentRangeTotal extracts TOTAL from a "bytes A-B/TOTAL" header.
func parseContentRangeTotal(v string) (int64, bool) {
	idx := strings.LastIndexByte(v, '/')
	if idx < 0 || idx == len(v)-1 {
		return 0, false
	}
	total := v[idx+1:]
	if total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
