// Package decode drives elementary-stream decoding for a demuxed audio/video
// session: it pumps packets out of a demux queue, dispatches video packets to
// a software or hardware VideoBackend, resamples decoded audio, and exposes a
// bounded frame ring to the consumer alongside pts-aware seek support.
//
// The hardware backend models the same AVCC-to-Annex-B NAL rewrite and
// SPS/PPS priming quirks that a real embedded MVD-style decoder needs, even
// though this module's concrete backends shell out to ffmpeg rather than a
// device ISP, so that the packet-to-frame bookkeeping (ptsRing) is exercised
// the same way it would be against real hardware.
package decode
