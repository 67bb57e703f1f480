package transport

import "errors"

var (
	// ErrHandleClosed is returned by Send after Close or after the gateway dropped the connection.
	ErrHandleClosed = errors.New("transport handle is closed")

	// ErrInvalidRequest is returned by Open when the request is missing a code
	// or a pairing request has no target address.
	ErrInvalidRequest = errors.New("invalid open request")
)
