// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package channel provides the ordered, reliable message transport
// collaborator the session engine runs its state machine over. Discovery
// and the underlying secure transport are out of scope here; Channel is
// the narrow seam a real transport (QUIC, TLS, a relay tunnel) plugs into
// above that line.
package channel

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send/Receive once the channel has been closed.
var ErrClosed = errors.New("channel: closed")

// Channel is an ordered, reliable, bidirectional message stream: every
// message handed to Send arrives at the peer's Receive, in order, exactly
// once, or the channel reports an error and must be considered dead.
type Channel interface {
	// Send transmits one message frame. It blocks until the frame has been
	// handed to the transport (not necessarily acknowledged by the peer).
	Send(ctx context.Context, frame []byte) error

	// Receive blocks until the next frame arrives, ctx is done, or the
	// channel is closed.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the channel's resources. Safe to call more than once.
	Close() error
}
