// Package conn defines the addressable endpoint used to push messages to one
// connected client.
package conn

import "errors"

var (
	// ErrClosed is returned by Send after the handle has been closed.
	ErrClosed = errors.New("connection closed")
	// ErrBufferFull is returned by Send when the client is not draining its
	// outbound buffer fast enough.
	ErrBufferFull = errors.New("send buffer full")
)

// Handle is one client's persistent connection. Send must not block; Close
// must be safe to call more than once.
type Handle interface {
	ID() string
	Send(message []byte) error
	Close() error
}
