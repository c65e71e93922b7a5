package demux

import "errors"

var (
	// ErrNoVideoTrack is returned by NewSeparate when the video stream's
	// transport stream carries no video elementary stream.
	ErrNoVideoTrack = errors.New("demux: no video track found")

	// ErrNoAudioTrack is returned when a transport stream expected to carry
	// audio has none. In combined mode this always fails initialization;
	// there is no audio-only analogue for a missing audio track.
	ErrNoAudioTrack = errors.New("demux: no audio track found")

	// ErrUnsupportedCodec denotes a discovered track whose codec has no
	// elementary-stream framer wired in this package. No function in this
	// package returns it.
	ErrUnsupportedCodec = errors.New("demux: unsupported elementary stream codec")

	// ErrSeekFailed is returned when a seek could not resynchronize the
	// underlying transport stream(s) to a consistent landing point.
	ErrSeekFailed = errors.New("demux: seek failed")
)
