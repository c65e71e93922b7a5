package decode

import "errors"

var (
	// ErrNeedMoreInput is returned by the packet pump when the demux queue
	// is temporarily empty; callers should retry after more data arrives
	// rather than treating this as a fatal condition.
	ErrNeedMoreInput = errors.New("decode: need more input")

	// ErrNeedMoreOutput is returned by TryGetDecodedVideoFrame when the
	// frame ring is empty but no backend error has occurred yet;
	// GetDecodedVideoFrame blocks instead.
	ErrNeedMoreOutput = errors.New("decode: need more output")

	// ErrUnsupportedCodec denotes a stream codec with no backend. No
	// function in this package returns it.
	ErrUnsupportedCodec = errors.New("decode: unsupported codec")

	// ErrBackendUnavailable is returned when hardware decode was requested
	// but no accelerator was detected.
	ErrBackendUnavailable = errors.New("decode: backend unavailable")

	// ErrSeekOutOfRange denotes a seek target outside the demuxed stream's
	// known duration. No function in this package returns it; Driver.Seek
	// passes the target to the packet source unchecked.
	ErrSeekOutOfRange = errors.New("decode: seek target out of range")

	// ErrDriverClosed is returned by driver operations after Close.
	ErrDriverClosed = errors.New("decode: driver closed")
)
