package memory

import (
	"sync"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
)

// SessionRegistry is the in-memory roster and stream registry owned by one
// controller instance. Event handlers for a session are already serialized by
// the signaling channel's dispatch goroutine; the mutex additionally covers
// the controller's public API being called from other goroutines.
type SessionRegistry struct {
	participants map[domain.SocketID]domain.Participant
	links        map[domain.SocketID]ports.PeerLink
	streams      map[domain.StreamID]domain.StreamRecord
	attempts     map[domain.SocketID]struct{}
	mu           sync.RWMutex
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		participants: make(map[domain.SocketID]domain.Participant),
		links:        make(map[domain.SocketID]ports.PeerLink),
		streams:      make(map[domain.StreamID]domain.StreamRecord),
		attempts:     make(map[domain.SocketID]struct{}),
	}
}

// ReplaceRoster swaps the participant list wholesale. Links, stream records
// and attempt markers are untouched: a snapshot refresh must not disturb
// live connections.
func (r *SessionRegistry) ReplaceRoster(entries []domain.RosterEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants = make(map[domain.SocketID]domain.Participant, len(entries))
	for _, e := range entries {
		r.participants[e.SocketID] = domain.Participant{
			SocketID:        e.SocketID,
			Identity:        e.Identity,
			StreamAvailable: e.StreamAvailable,
		}
	}
}

func (r *SessionRegistry) UpsertParticipant(p domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.SocketID] = p
}

func (r *SessionRegistry) RemoveParticipant(id domain.SocketID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if ok {
		delete(r.participants, id)
	}
	return p, ok
}

func (r *SessionRegistry) Participant(id domain.SocketID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	return p, ok
}

func (r *SessionRegistry) Participants() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

func (r *SessionRegistry) SetStreamAvailable(id domain.SocketID, identity domain.Identity, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		// Availability can race ahead of the join announcement.
		p = domain.Participant{SocketID: id, Identity: identity}
	} else if identity != (domain.Identity{}) {
		// An availability event without identity keeps the known one.
		p.Identity = identity
	}
	p.StreamAvailable = available
	r.participants[id] = p
}

// PutLink registers a link for the remote socket. Returns false without
// replacing anything when a link already exists: a second connection request
// must be ignored, never superseded.
func (r *SessionRegistry) PutLink(id domain.SocketID, link ports.PeerLink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.links[id]; exists {
		return false
	}
	r.links[id] = link
	return true
}

func (r *SessionRegistry) Link(id domain.SocketID) (ports.PeerLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.links[id]
	return l, ok
}

func (r *SessionRegistry) RemoveLink(id domain.SocketID) (ports.PeerLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.links[id]
	if ok {
		delete(r.links, id)
	}
	return l, ok
}

func (r *SessionRegistry) Links() map[domain.SocketID]ports.PeerLink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.SocketID]ports.PeerLink, len(r.links))
	for id, l := range r.links {
		out[id] = l
	}
	return out
}

func (r *SessionRegistry) PutStream(rec domain.StreamRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[rec.ID] = rec
}

// RemoveStreamsBySocket removes every record originating from the socket and
// returns them. Records for other sockets are untouched.
func (r *SessionRegistry) RemoveStreamsBySocket(id domain.SocketID) []domain.StreamRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.StreamRecord
	for sid, rec := range r.streams {
		if rec.SocketID == id {
			removed = append(removed, rec)
			delete(r.streams, sid)
		}
	}
	return removed
}

func (r *SessionRegistry) Streams() []domain.StreamRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.StreamRecord, 0, len(r.streams))
	for _, rec := range r.streams {
		out = append(out, rec)
	}
	return out
}

func (r *SessionRegistry) HasStreamFor(id domain.SocketID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.streams {
		if rec.SocketID == id {
			return true
		}
	}
	return false
}

func (r *SessionRegistry) MarkAttempt(id domain.SocketID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attempts[id]; exists {
		return false
	}
	r.attempts[id] = struct{}{}
	return true
}

func (r *SessionRegistry) ClearAttempt(id domain.SocketID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, id)
}

func (r *SessionRegistry) AttemptInProgress(id domain.SocketID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.attempts[id]
	return ok
}

var _ ports.SessionRegistry = (*SessionRegistry)(nil)
