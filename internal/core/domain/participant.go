package domain

// Participant is one participant as seen by an observer. Each observer session
// holds its own copy; entries are mutated only inside that session's event
// handlers.
type Participant struct {
	SocketID        SocketID
	Identity        Identity
	StreamAvailable bool
}
