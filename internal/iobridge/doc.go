// Package iobridge adapts a netstream.Stream into a blocking, seekable byte
// source a demuxer can read through without knowing anything about HTTP or
// block caches. Reads and seeks poll the underlying stream's cache on a
// fixed interval and translate every terminal stream condition — error,
// quit, exhaustion, or an external interrupt — into io.EOF.
package iobridge
