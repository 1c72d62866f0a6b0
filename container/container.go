// Package container manages the handles that connect sessions to their
// backing compute containers. Provisioning mechanics are external; this
// package owns the per-session acquire/release discipline, idempotency, and
// bounded retry, and translates provisioner failures into ErrUnavailable.
package container

import (
	"context"
	"errors"
)

// Sentinel errors for container acquisition.
var (
	// ErrUnavailable reports that provisioning exhausted its retries.
	// Terminal for session start; recoverable via a later reconnect.
	ErrUnavailable = errors.New("container unavailable")
	// ErrClosed reports I/O on a closed handle.
	ErrClosed = errors.New("container handle closed")
)

// Handle is a live, addressable container endpoint. Send and Receive carry
// encoded protocol frames; the handle does not interpret them. I/O on a
// handle is owned by the single session using it.
type Handle interface {
	// Send delivers one encoded frame to the container.
	Send(ctx context.Context, data []byte) error

	// Receive returns the stream of encoded frames from the container.
	// The channel closes when the container side goes away.
	Receive() <-chan []byte

	// IsAlive reports whether the handle can still carry traffic.
	IsAlive() bool

	// Close tears down the handle.
	Close() error
}

// Provisioner is the external collaborator that produces container handles.
// Implementations must be safe for concurrent use across sessions.
type Provisioner interface {
	Provision(ctx context.Context, sessionID string) (Handle, error)
}
