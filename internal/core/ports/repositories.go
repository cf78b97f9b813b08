package ports

import (
	"context"

	"vigia/internal/core/domain"
)

// SessionRegistry is the roster and stream registry owned by one controller
// instance. It is never shared across sessions. All mutating entry points
// perform their own membership checks so the one-link-per-socket and
// one-attempt-per-socket invariants hold without caller cooperation.
type SessionRegistry interface {
	// Roster.
	ReplaceRoster(entries []domain.RosterEntry)
	UpsertParticipant(p domain.Participant)
	RemoveParticipant(id domain.SocketID) (domain.Participant, bool)
	Participant(id domain.SocketID) (domain.Participant, bool)
	Participants() []domain.Participant
	// SetStreamAvailable flips the flag in place, creating the entry when an
	// availability event races ahead of the join announcement.
	SetStreamAvailable(id domain.SocketID, identity domain.Identity, available bool)

	// Peer links, at most one per remote socketId.
	PutLink(id domain.SocketID, link PeerLink) bool
	Link(id domain.SocketID) (PeerLink, bool)
	RemoveLink(id domain.SocketID) (PeerLink, bool)
	Links() map[domain.SocketID]PeerLink

	// Stream records, keyed by their unique stream id.
	PutStream(rec domain.StreamRecord)
	RemoveStreamsBySocket(id domain.SocketID) []domain.StreamRecord
	Streams() []domain.StreamRecord
	HasStreamFor(id domain.SocketID) bool

	// Connection-attempt markers. MarkAttempt returns false when a handshake
	// for the socket is already in flight.
	MarkAttempt(id domain.SocketID) bool
	ClearAttempt(id domain.SocketID)
	AttemptInProgress(id domain.SocketID) bool
}

// HintStore is the small external persistence used only to remember "who was
// I observing" across a reload. Read once at startup, write-only afterward.
type HintStore interface {
	// Load returns nil when no hint exists for the category, the stored hint
	// belongs to a different category, or it is older than the store TTL.
	Load(ctx context.Context, category int64) (*domain.WatchingHint, error)
	Save(ctx context.Context, hint domain.WatchingHint) error
}
