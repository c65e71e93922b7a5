package downloader

import "errors"

var (
	// ErrNoSuchSlot is returned when a caller references a slot index that
	// was never registered or has already been reaped.
	ErrNoSuchSlot = errors.New("downloader: no such slot")

	// ErrProtocolViolation is returned when the scheduler picks a ranged
	// stream but finds every block through block_num already cached — the
	// scheduling policy should never have selected it.
	ErrProtocolViolation = errors.New("downloader: protocol violation: stream fully cached but selected")

	// ErrShortBody is returned when a ranged fetch's response body length
	// does not match the requested byte range exactly, once the stream is
	// ready.
	ErrShortBody = errors.New("downloader: response body length mismatch")

	// ErrMissingLivestreamHeader is returned when a whole_download fetch's
	// response is missing or has a non-numeric x-head-seqnum/x-sequence-num
	// header.
	ErrMissingLivestreamHeader = errors.New("downloader: missing or invalid livestream sequence header")

	// ErrMissingContentRange is returned when a ranged fetch's first
	// successful response has no parseable Content-Range header.
	ErrMissingContentRange = errors.New("downloader: missing or invalid Content-Range header")
)
