package netstream

import "errors"

var (
	// ErrNotAvailable is returned by Read when the requested range is not
	// yet fully cached. Callers (internal/iobridge) poll is_available first
	// and should not normally hit this; it exists for callers that skip the
	// check.
	ErrNotAvailable = errors.New("netstream: range not available")

	// ErrOutOfRange denotes a read or seek target beyond the stream's known
	// length. No function in this package returns it; Read reports such a
	// range as ErrNotAvailable.
	ErrOutOfRange = errors.New("netstream: beyond stream length")

	// ErrStreamError denotes a stream in its terminal error state. No
	// function in this package returns it; callers check Error instead.
	ErrStreamError = errors.New("netstream: stream in error state")

	// ErrNotReady denotes an operation that needs len/block_num before the
	// stream's first successful fetch. No function in this package returns
	// it; Read reports a not-ready stream as ErrNotAvailable.
	ErrNotReady = errors.New("netstream: stream not ready")
)
