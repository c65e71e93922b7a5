// Package downloader provides block-cache range downloading for streamcore.
package downloader

import "time"

// Scheduling and fetch defaults. Override via Config when constructing a
// Downloader; these are the values used when a Config field is left zero.
const (
	// DefaultBlockSize is the fixed fetch/cache granularity in bytes.
	DefaultBlockSize int64 = 256 * 1024

	// DefaultMaxCacheBlocks bounds how many blocks a single stream retains
	// before the look-ahead-biased eviction policy kicks in.
	DefaultMaxCacheBlocks = 64

	// DefaultMaxForwardReadBlocks bounds the scheduler's speculative
	// prefetch window beyond a stream's read_head.
	DefaultMaxForwardReadBlocks = 64

	// LoopIdleInterval is how long the downloader loop sleeps when no slot
	// was selected to serve on a given iteration.
	LoopIdleInterval = 20 * time.Millisecond
)

// HTTP header names used by the fetch operations.
const (
	HeaderRange        = "Range"
	HeaderContentRange = "Content-Range"
	HeaderHeadSeqNum   = "x-head-seqnum"
	HeaderSequenceNum  = "x-sequence-num"
)
