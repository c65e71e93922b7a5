package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/embedstream/streamcore/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDownloader(blockSize int64) *Downloader {
	return New(Config{
		BlockSize:      blockSize,
		MaxCacheBlocks: 1000,
		Sessions:       httpclient.NewRegistry(),
	})
}

// S2: forward seek across a gap. The scheduler should treat the block at
// the new read_head as urgent (margin 0) and fetch it ahead of anything
// else.
func TestScenarioS2ForwardSeekAcrossGap(t *testing.T) {
	const blockSize = 16
	const numBlocks = 100
	content := make([]byte, blockSize*numBlocks)
	for i := range content {
		content[i] = byte(i / blockSize)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRange(w, r, content)
	}))
	defer srv.Close()

	d := newTestDownloader(blockSize)
	s, _ := d.NewStream(srv.URL, false)
	for b := int64(0); b < 5; b++ {
		require.NoError(t, d.fetchRanged(context.Background(), s))
	}
	assert.True(t, s.IsAvailable(0, 5*blockSize))

	s.ReadHead.Store(uint64(50 * blockSize))
	idx, picked := d.pick()
	require.NotNil(t, picked)
	assert.Same(t, s, picked)
	_ = idx

	require.NoError(t, d.fetch(context.Background(), s))
	assert.True(t, s.IsAvailable(50*blockSize, blockSize))
	got, err := s.Read(50*blockSize, blockSize)
	require.NoError(t, err)
	for _, b := range got {
		assert.Equal(t, byte(50), b)
	}
}

func TestFetchWholeDownloadLivestreamPrivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := newTestDownloader(DefaultBlockSize)
	s, _ := d.NewStream(srv.URL, true)

	err := d.fetchWholeDownload(context.Background(), s)
	require.Error(t, err)
	assert.True(t, s.Error())
	assert.True(t, s.LivestreamPrivate())
}

func TestFetchWholeDownloadParsesSeqHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderHeadSeqNum, "42")
		w.Header().Set(HeaderSequenceNum, "7")
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	d := newTestDownloader(4)
	s, _ := d.NewStream(srv.URL, true)

	require.NoError(t, d.fetchWholeDownload(context.Background(), s))
	assert.True(t, s.Ready())
	head, ok := s.SeqHead()
	assert.True(t, ok)
	assert.Equal(t, int64(42), head)
	got, err := s.Read(0, int64(len("hello world")))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestFetchWholeDownloadMissingSeqHeaderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	d := newTestDownloader(4)
	s, _ := d.NewStream(srv.URL, true)

	err := d.fetchWholeDownload(context.Background(), s)
	assert.ErrorIs(t, err, ErrMissingLivestreamHeader)
	assert.True(t, s.Error())
}

func TestDownloaderRunStopsAndQuitsAllStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveRange(w, r, make([]byte, 64))
	}))
	defer srv.Close()

	d := newTestDownloader(16)
	s, _ := d.NewStream(srv.URL, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.Eventually(t, func() bool { return s.CacheSize() > 0 }, time.Second, 5*time.Millisecond)

	d.Stop()
	assert.True(t, s.QuitRequest())
}

// serveRange is a minimal Range-aware test handler good enough to exercise
// the downloader's ranged fetch operation against arbitrary content.
func serveRange(w http.ResponseWriter, r *http.Request, content []byte) {
	rng := r.Header.Get("Range")
	if rng == "" {
		w.Write(content)
		return
	}
	var start, end int64
	if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil || start >= int64(len(content)) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= int64(len(content)) {
		end = int64(len(content)) - 1
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(content[start : end+1])
}
