package client

import (
	"github.com/juju/errors"

	"ws-rpc/message"
)

const (
	// ErrNotInitialized is returned by calls made before a successful Open.
	ErrNotInitialized = errors.ConstError("client not initialized")

	// ErrAlreadyInitialized is returned by Open on a client that has already
	// been opened, is opening, or has been closed.
	ErrAlreadyInitialized = errors.ConstError("client already initialized")

	// ErrClosed is returned by calls on a closed client and delivered to
	// calls still pending when the transport goes away.
	ErrClosed = errors.ConstError("client closed")

	// ErrDuplicateID means a correlation id was registered twice.
	ErrDuplicateID = errors.ConstError("duplicate request id")
)

// RemoteError is a failure reported by the server's handler.
type RemoteError struct {
	Op      message.Op
	Message string
}

func (e *RemoteError) Error() string {
	return string(e.Op) + ": " + e.Message
}
