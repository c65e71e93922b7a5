package iobridge

import "errors"

// ErrSeekOutOfRange is returned when a seek target resolves to a position
// outside [0, len]. Seek waits for the stream to become ready before
// resolving, so an unknown length never produces this error.
var ErrSeekOutOfRange = errors.New("iobridge: seek target out of range")
