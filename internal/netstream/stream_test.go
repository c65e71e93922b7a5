package netstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamIsAvailableAndReadRoundTrip(t *testing.T) {
	s := New("http://example.invalid/a", 4, 100, false)
	s.SetReady(10) // 3 blocks: [0-4) [4-8) [8-10)
	s.Insert(0, []byte{0, 1, 2, 3})
	s.Insert(1, []byte{4, 5, 6, 7})
	s.Insert(2, []byte{8, 9})

	assert.True(t, s.IsAvailable(0, 10))
	got, err := s.Read(0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)

	assert.True(t, s.IsAvailable(2, 5))
	got, err = s.Read(2, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 4, 5, 6}, got)
}

func TestStreamIsAvailableFalseWhenBlockMissing(t *testing.T) {
	s := New("http://example.invalid/a", 4, 100, false)
	s.SetReady(10)
	s.Insert(0, []byte{0, 1, 2, 3})
	// block 1 never inserted
	assert.False(t, s.IsAvailable(0, 10))
	_, err := s.Read(0, 10)
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestStreamEmptyReadIsEmpty(t *testing.T) {
	s := New("http://example.invalid/a", 4, 100, false)
	s.SetReady(10)
	got, err := s.Read(3, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, got)
}

// S1: ranged read, no eviction.
func TestScenarioS1RangedReadNoEviction(t *testing.T) {
	const blockSize = 16
	s := New("http://example.invalid/a", blockSize, 100, false)
	s.SetReady(10 * blockSize)

	for b := int64(0); b < 10; b++ {
		block := make([]byte, blockSize)
		for i := range block {
			block[i] = byte(b)
		}
		s.Insert(b, block)
	}

	assert.InDelta(t, 100, s.DownloadPercent(), 0.001)
	got, err := s.Read(0, 10*blockSize)
	require.NoError(t, err)
	assert.Len(t, got, 10*blockSize)
	for b := 0; b < 10; b++ {
		for i := 0; i < blockSize; i++ {
			assert.Equal(t, byte(b), got[b*blockSize+i])
		}
	}
}

// S3: eviction bias toward the playhead's look-ahead window.
func TestScenarioS3EvictionBias(t *testing.T) {
	const blockSize = 16
	s := New("http://example.invalid/a", blockSize, 8, false)
	s.SetReady(11 * blockSize)

	for b := int64(0); b <= 7; b++ {
		s.Insert(b, []byte{byte(b)})
	}
	require.Equal(t, 8, s.CacheSize())

	s.ReadHead.Store(5 * blockSize)
	s.Insert(8, []byte{8}) // overflow: evict min (0), since 0 < h=5
	assertCached(t, s, []int64{1, 2, 3, 4, 5, 6, 7, 8})

	s.ReadHead.Store(10 * blockSize)
	s.Insert(9, []byte{9}) // evict min (1), since 1 < h=10
	assertCached(t, s, []int64{2, 3, 4, 5, 6, 7, 8, 9})

	s.ReadHead.Store(0)
	s.Insert(10, []byte{10}) // evict max (10, the block just inserted), since min(2) >= h=0
	assertCached(t, s, []int64{2, 3, 4, 5, 6, 7, 8, 9})
}

func assertCached(t *testing.T, s *Stream, want []int64) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.cache, len(want))
	for _, b := range want {
		_, ok := s.cache[b]
		assert.True(t, ok, "expected block %d cached", b)
	}
}

// S6: whole_download stream marked error + livestream_private on a 403.
func TestScenarioS6LivestreamPrivate(t *testing.T) {
	s := New("http://example.invalid/live.ts", 4096, 8, true)
	s.SetError()
	s.SetLivestreamPrivate()

	assert.True(t, s.Error())
	assert.True(t, s.LivestreamPrivate())
	assert.False(t, s.Ready())
}

func TestProgressBarApproximatesDownloadPercent(t *testing.T) {
	const blockSize = 8
	s := New("http://example.invalid/a", blockSize, 100, false)
	s.SetReady(8 * blockSize)
	for _, b := range []int64{0, 1, 2, 5} {
		s.Insert(b, make([]byte, blockSize))
	}

	bars := s.ProgressBar(4)
	var sum float64
	for _, v := range bars {
		sum += v
	}
	avg := sum / float64(len(bars))
	assert.InDelta(t, s.DownloadPercent(), avg, 100.0/float64(len(bars))+0.001)
}

func TestStreamReadyFixesLenAndBlockNumOnce(t *testing.T) {
	s := New("http://example.invalid/a", 16, 10, false)
	s.SetReady(100)
	assert.Equal(t, int64(100), s.Len())
	assert.Equal(t, int64(7), s.BlockNum())
}
