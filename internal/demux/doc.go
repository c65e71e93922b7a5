// Package demux opens an MPEG-TS demuxer context over one or two
// internal/iobridge.Bridge byte sources and turns them into a single
// decode.PacketSource: a packet pump with per-track queues and a
// smallest-dts interleave policy. Combined mode discovers both tracks in
// one transport stream; separate mode pairs two single-track transport
// streams, one per elementary stream.
package demux
