package ports

import (
	"context"

	"vigia/internal/core/domain"
)

// ParticipantSession owns a participant's outgoing stream lifecycle and one
// peer link per observing admin.
type ParticipantSession interface {
	Start(ctx context.Context) error
	StartSharing(ctx context.Context) error
	// StopSharing is idempotent and safe to call when nothing is active.
	StopSharing() error
	Sharing() bool
	Close() error
}

// ObserverSession owns an admin's roster view and one peer link per observed
// participant.
type ObserverSession interface {
	Start(ctx context.Context) error
	RequestObserve(id domain.SocketID) error
	// StopObserving is idempotent.
	StopObserving(id domain.SocketID) error
	RefreshRoster() error
	Roster() []domain.Participant
	Streams() []domain.StreamRecord
	Watching() []domain.SocketID
	Close() error
}
