package domain

type LinkRole string

const (
	RoleInitiator LinkRole = "initiator"
	RoleResponder LinkRole = "responder"
)

// LinkState is the lifecycle of one peer-to-peer connection attempt.
// Closed and Errored are terminal: signal injection is rejected there.
type LinkState string

const (
	LinkCreated   LinkState = "created"
	LinkSignaling LinkState = "signaling"
	LinkConnected LinkState = "connected"
	LinkClosed    LinkState = "closed"
	LinkErrored   LinkState = "errored"
)

// Terminal reports whether the state admits no further transitions.
func (s LinkState) Terminal() bool {
	return s == LinkClosed || s == LinkErrored
}
