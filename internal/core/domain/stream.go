package domain

import "time"

type StreamID string

// MediaStream is a handle to a live media stream, local or remote. The
// concrete transport (RTP tracks, in-process fakes in tests) lives in
// infrastructure.
type MediaStream interface {
	ID() string
	Active() bool
	// Stop ends every track. Idempotent.
	Stop()
	// OnEnded registers a callback fired once when the stream ends outside
	// an explicit Stop, e.g. the user stops sharing via the platform control.
	OnEnded(fn func())
}

// StreamRecord is one received media stream held by an observer. The identity
// fields are a snapshot taken at creation time and are not live-updated; the
// record outlives the roster entry and is removed explicitly by socketId
// match, never by reference.
type StreamRecord struct {
	ID        StreamID
	SocketID  SocketID
	Identity  Identity
	Stream    MediaStream
	CreatedAt time.Time
}

// WatchingHint is the persisted observe intent of one observer session,
// scoped by the category the observer monitors. Hints older than the store's
// TTL or saved under a different category are treated as absent.
type WatchingHint struct {
	Category  int64      `json:"category"`
	SocketIDs []SocketID `json:"socketIds"`
	SavedAt   time.Time  `json:"savedAt"`
}
