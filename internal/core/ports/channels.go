package ports

import (
	"context"

	"vigia/internal/core/domain"
)

// SignalChannel is one authenticated bidirectional event connection between a
// client session and the relay server. Implementations must dispatch incoming
// events on a single goroutine so that handlers for one session never run
// concurrently with each other.
type SignalChannel interface {
	// SocketID returns the ephemeral id the server assigned this connection.
	SocketID() domain.SocketID

	// Emit sends one envelope to the server. Fire-and-forget from the
	// caller's perspective; delivery beyond the server is not acknowledged.
	Emit(ctx context.Context, env domain.Envelope) error

	// On registers the handler for an event. Handlers registered after the
	// read loop started still see subsequent deliveries.
	On(event domain.Event, handler func(env domain.Envelope))

	Close() error
}
