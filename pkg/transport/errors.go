package transport

import "errors"

var (
	// ErrInvalidArgument is returned for malformed transfers: a record of
	// the wrong size, or a push for a slot that is not checked out.
	ErrInvalidArgument = errors.New("transport: invalid argument")

	// ErrPayloadCopy is returned when the payload cannot be moved between
	// the request buffer and the staging window. The request is completed
	// with StatusIOError.
	ErrPayloadCopy = errors.New("transport: payload copy failed")

	// ErrClosed is returned after the channel or connection is closed.
	ErrClosed = errors.New("transport: closed")
)
