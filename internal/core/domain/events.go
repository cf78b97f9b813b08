package domain

import "encoding/json"

// Event names the signaling messages exchanged through the relay server. The
// server's only responsibility is routing by socketId; signal payloads are
// relayed verbatim and never interpreted.
type Event string

const (
	// Participant -> server.
	EventAnnounceReady  Event = "announce-ready"
	EventStreamReady    Event = "stream-ready"
	EventStoppedSharing Event = "stopped-sharing"
	EventOfferSignal    Event = "offer-signal"

	// Observer -> server.
	EventRosterRequest  Event = "roster-request"
	EventRequestObserve Event = "request-observe"
	EventAnswerSignal   Event = "answer-signal"
	EventStopObserving  Event = "stop-observing"

	// Server -> observer.
	EventRosterSnapshot       Event = "roster-snapshot"
	EventParticipantJoined    Event = "participant-joined"
	EventParticipantLeft      Event = "participant-left"
	EventStreamAvailable      Event = "stream-available"
	EventStreamStopped        Event = "stream-stopped"
	EventOfferSignalReceived  Event = "offer-signal-received"
	EventAnswerSignalReceived Event = "answer-signal-received"

	// Server -> participant.
	EventObserveRequested Event = "observe-requested"

	EventError Event = "error"

	// EventConnected is the first frame on a fresh channel, carrying the
	// socket id the server assigned to it.
	EventConnected Event = "connected"
)

// Envelope is the wire frame for every signaling message. SocketID names the
// counterpart: the target when emitting, the origin when receiving.
type Envelope struct {
	Event    Event           `json:"event"`
	SocketID SocketID        `json:"socketId,omitempty"`
	Identity *Identity       `json:"identity,omitempty"`
	Signal   json.RawMessage `json:"signal,omitempty"`
	Roster   []RosterEntry   `json:"roster,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// RosterEntry is one participant in a roster snapshot.
type RosterEntry struct {
	SocketID        SocketID `json:"socketId"`
	Identity        Identity `json:"identity"`
	StreamAvailable bool     `json:"streamAvailable"`
}

// SignalType extracts the "type" field of an opaque signal payload (offer,
// answer, ...). Used only as a duplicate-suppression key component; payloads
// without a type collapse to "signal".
func SignalType(signal json.RawMessage) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(signal, &probe); err == nil && probe.Type != "" {
		return probe.Type
	}
	return "signal"
}
