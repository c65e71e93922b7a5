// Package downloader provides block-cache range downloading for streamcore.
package downloader

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBandwidthWindowSize is the default number of samples to keep for rolling average.
	DefaultBandwidthWindowSize = 30

	// DefaultBandwidthSamplePeriod is the default sampling period.
	DefaultBandwidthSamplePeriod = time.Second
)

// bandwidthSample represents a single bandwidth measurement.
type bandwidthSample struct {
	bytes     uint64
	timestamp time.Time
}

// BandwidthTracker tracks bytes transferred and calculates rolling bandwidth.
// It maintains a sliding window of samples for real-time rate calculation.
type BandwidthTracker struct {
	totalBytes atomic.Uint64

	// Rolling window for real-time rate calculation
	mu           sync.RWMutex
	samples      []bandwidthSample
	windowSize   int
	samplePeriod time.Duration
	lastSample   time.Time
	lastBytes    uint64 // Bytes at last sample time
}

// NewBandwidthTracker creates a new bandwidth tracker with default settings.
func NewBandwidthTracker() *BandwidthTracker {
	return NewBandwidthTrackerWithConfig(DefaultBandwidthWindowSize, DefaultBandwidthSamplePeriod)
}

// NewBandwidthTrackerWithConfig creates a new bandwidth tracker with custom settings.
func NewBandwidthTrackerWithConfig(windowSize int, samplePeriod time.Duration) *BandwidthTracker {
	if windowSize <= 0 {
		windowSize = DefaultBandwidthWindowSize
	}
	if samplePeriod <= 0 {
		samplePeriod = DefaultBandwidthSamplePeriod
	}
	return &BandwidthTracker{
		samples:      make([]bandwidthSample, 0, windowSize),
		windowSize:   windowSize,
		samplePeriod: samplePeriod,
		lastSample:   time.Now(),
	}
}

// Add records bytes transferred.
func (t *BandwidthTracker) Add(bytes uint64) {
	t.totalBytes.Add(bytes)
}

// TotalBytes returns the cumulative bytes transferred.
func (t *BandwidthTracker) TotalBytes() uint64 {
	return t.totalBytes.Load()
}

// Sample records the current state for bandwidth calculation.
// This should be called periodically (e.g., once per second).
func (t *BandwidthTracker) Sample() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	currentBytes := t.totalBytes.Load()

	// Calculate bytes since last sample
	bytesDelta := currentBytes - t.lastBytes

	// Add new sample
	sample := bandwidthSample{
		bytes:     bytesDelta,
		timestamp: now,
	}
	t.samples = append(t.samples, sample)

	// Trim to window size
	if len(t.samples) > t.windowSize {
		t.samples = t.samples[len(t.samples)-t.windowSize:]
	}

	t.lastBytes = currentBytes
	t.lastSample = now
}

// CurrentBps returns the current bandwidth in bytes per second.
// This is calculated as a rolling average over the sample window.
func (t *BandwidthTracker) CurrentBps() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.samples) == 0 {
		return 0
	}

	// Sum all samples in the window
	var totalBytes uint64
	for _, s := range t.samples {
		totalBytes += s.bytes
	}

	// Calculate time span
	duration := time.Duration(len(t.samples)) * t.samplePeriod
	if duration == 0 {
		return 0
	}

	// Return bytes per second
	return uint64(float64(totalBytes) / duration.Seconds())
}

// History returns the bandwidth history for sparkline visualization.
// Returns up to windowSize values, each representing bytes per sample period.
func (t *BandwidthTracker) History() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.samples) == 0 {
		return nil
	}

	// Convert samples to bytes per second for each sample
	history := make([]uint64, len(t.samples))
	for i, s := range t.samples {
		// Each sample represents bytes transferred during one sample period
		history[i] = uint64(float64(s.bytes) / t.samplePeriod.Seconds())
	}

	return history
}

// Reset clears all tracking data.
func (t *BandwidthTracker) Reset() {
	t.totalBytes.Store(0)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = t.samples[:0]
	t.lastBytes = 0
	t.lastSample = time.Now()
}

// WindowSize returns the configured window size.
func (t *BandwidthTracker) WindowSize() int {
	return t.windowSize
}

// SamplePeriod returns the configured sample period.
func (t *BandwidthTracker) SamplePeriod() time.Duration {
	return t.samplePeriod
}

// SampleCount returns the current number of samples in the window.
func (t *BandwidthTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

