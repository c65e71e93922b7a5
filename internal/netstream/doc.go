// Package netstream implements the block-addressable cache for one remote
// HTTP resource: a bounded map of fixed-size blocks, a read cursor, and the
// status flags the downloader and the I/O bridge coordinate through. It has
// no knowledge of HTTP or demuxing; internal/downloader fills it, and
// internal/iobridge reads from it.
package netstream
