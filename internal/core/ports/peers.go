package ports

import "vigia/internal/core/domain"

// PeerLink wraps one peer-to-peer media connection attempt. There is no
// automatic retry or reconnection: a failed link requires the controller to
// start a fresh observation request.
type PeerLink interface {
	// Signal injects connection metadata received from the remote side.
	// Rejected with domain.ErrLinkClosed once the link is terminal.
	Signal(payload []byte) error
	Close() error
	State() domain.LinkState
	Role() domain.LinkRole
}

// LinkCallbacks wire a PeerLink's events back into the owning controller.
// Callbacks may be nil. OnSignal carries the single non-trickle payload for
// the remote side.
type LinkCallbacks struct {
	OnSignal  func(payload []byte)
	OnStream  func(stream domain.MediaStream)
	OnConnect func()
	OnClose   func()
	OnError   func(err error)
}

// LinkFactory creates peer links. The outgoing stream is required for the
// initiator role and ignored for the responder role.
type LinkFactory interface {
	NewLink(role domain.LinkRole, outgoing domain.MediaStream, cb LinkCallbacks) (PeerLink, error)
}
