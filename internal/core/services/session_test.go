package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
	"vigia/internal/infrastructure/repositories/memory"
)

// fakeChannel is an in-process SignalChannel. Deliver runs handlers on the
// caller's goroutine, matching the single-dispatch contract.
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[domain.Event]func(domain.Envelope)
	sent     []domain.Envelope
	closed   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[domain.Event]func(domain.Envelope))}
}

func (c *fakeChannel) SocketID() domain.SocketID { return "self" }

func (c *fakeChannel) Emit(ctx context.Context, env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) On(event domain.Event, handler func(domain.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) deliver(env domain.Envelope) {
	c.mu.Lock()
	h := c.handlers[env.Event]
	c.mu.Unlock()
	if h != nil {
		h(env)
	}
}

func (c *fakeChannel) emitted(event domain.Event) []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Envelope
	for _, env := range c.sent {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

type fakeLink struct {
	mu      sync.Mutex
	role    domain.LinkRole
	state   domain.LinkState
	signals [][]byte
	failSig error
	cb      ports.LinkCallbacks
}

func (l *fakeLink) Signal(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSig != nil {
		return l.failSig
	}
	if l.state.Terminal() {
		return domain.ErrLinkClosed
	}
	l.signals = append(l.signals, payload)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = domain.LinkClosed
	return nil
}

func (l *fakeLink) State() domain.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeLink) Role() domain.LinkRole { return l.role }

func (l *fakeLink) signalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.signals)
}

type fakeLinkFactory struct {
	mu    sync.Mutex
	links []*fakeLink
}

func (f *fakeLinkFactory) NewLink(role domain.LinkRole, outgoing domain.MediaStream, cb ports.LinkCallbacks) (ports.PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &fakeLink{role: role, state: domain.LinkSignaling, cb: cb}
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeLinkFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func (f *fakeLinkFactory) last() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

type fakeStream struct {
	mu      sync.Mutex
	id      string
	stopped bool
	onEnded func()
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeStream) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

func (s *fakeStream) endNatively() {
	s.mu.Lock()
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeCapture struct {
	stream domain.MediaStream
	err    error
}

func (c *fakeCapture) Capture(ctx context.Context, _ ports.CaptureConstraints) (domain.MediaStream, error) {
	return c.stream, c.err
}

type fakeSink struct {
	mu       sync.Mutex
	rendered map[domain.StreamID]domain.MediaStream
}

func newFakeSink() *fakeSink {
	return &fakeSink{rendered: make(map[domain.StreamID]domain.MediaStream)}
}

func (s *fakeSink) Render(id domain.StreamID, stream domain.MediaStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream == nil {
		delete(s.rendered, id)
		return nil
	}
	s.rendered[id] = stream
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rendered)
}

func offerPayload(t *testing.T) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0..."})
	require.NoError(t, err)
	return b
}

func newParticipantFixture(t *testing.T) (*fakeChannel, *fakeLinkFactory, *fakeCapture, ports.SessionRegistry, ports.ParticipantSession) {
	t.Helper()
	channel := newFakeChannel()
	factory := &fakeLinkFactory{}
	capture := &fakeCapture{stream: &fakeStream{id: "native-1"}}
	registry := memory.NewSessionRegistry()

	session := NewParticipantSession(ParticipantSessionDeps{
		Channel:     channel,
		Registry:    registry,
		Links:       factory,
		Capture:     capture,
		Constraints: ports.CaptureConstraints{Width: 1920, Height: 1080, FrameRate: 30, Audio: true},
		Identity:    domain.Identity{UserID: 10, Email: "p@example.com", Role: domain.RoleParticipant},
		Logger:      zap.NewNop().Sugar(),
	})
	require.NoError(t, session.Start(context.Background()))
	return channel, factory, capture, registry, session
}

func TestParticipantStartAnnouncesReady(t *testing.T) {
	channel, _, _, _, _ := newParticipantFixture(t)

	ready := channel.emitted(domain.EventAnnounceReady)
	require.Len(t, ready, 1)
	require.NotNil(t, ready[0].Identity)
	assert.Equal(t, domain.RoleParticipant, ready[0].Identity.Role)
}

func TestParticipantStartSharing(t *testing.T) {
	channel, _, _, _, session := newParticipantFixture(t)

	require.NoError(t, session.StartSharing(context.Background()))
	assert.True(t, session.Sharing())
	assert.Len(t, channel.emitted(domain.EventStreamReady), 1)

	// Starting again while a stream is live is a no-op.
	require.NoError(t, session.StartSharing(context.Background()))
	assert.Len(t, channel.emitted(domain.EventStreamReady), 1)
}

func TestParticipantStartSharingCaptureFailure(t *testing.T) {
	channel, _, capture, _, session := newParticipantFixture(t)
	capture.stream = nil
	capture.err = domain.ErrNoOutgoingStream

	require.Error(t, session.StartSharing(context.Background()))
	assert.False(t, session.Sharing())
	assert.Empty(t, channel.emitted(domain.EventStreamReady))
}

func TestParticipantObserveRequestedSingleLink(t *testing.T) {
	channel, factory, _, registry, session := newParticipantFixture(t)
	require.NoError(t, session.StartSharing(context.Background()))

	channel.deliver(domain.Envelope{Event: domain.EventObserveRequested, SocketID: "admin-1"})
	channel.deliver(domain.Envelope{Event: domain.EventObserveRequested, SocketID: "admin-1"})

	assert.Equal(t, 1, factory.created(), "duplicate request must not create a second link")
	_, ok := registry.Link("admin-1")
	assert.True(t, ok)
	assert.Equal(t, domain.RoleInitiator, factory.last().role)
}

func TestParticipantObserveRequestedWithoutStream(t *testing.T) {
	channel, factory, _, _, _ := newParticipantFixture(t)

	channel.deliver(domain.Envelope{Event: domain.EventObserveRequested, SocketID: "admin-1"})
	assert.Zero(t, factory.created())
}

func TestParticipantOfferEmittedOnLinkSignal(t *testing.T) {
	channel, factory, _, _, session := newParticipantFixture(t)
	require.NoError(t, session.StartSharing(context.Background()))

	channel.deliver(domain.Envelope{Event: domain.EventObserveRequested, SocketID: "admin-1"})
	link := factory.last()
	require.NotNil(t, link)

	link.cb.OnSignal(offerPayload(t))

	offers := channel.emitted(domain.EventOfferSignal)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.SocketID("admin-1"), offers[0].SocketID)
	assert.NotEmpty(t, offers[0].Signal)
}

func TestParticipantAnswerInjection(t *testing.T) {
	channel, factory, _, registry, session := newParticipantFixture(t)
	require.NoError(t, session.StartSharing(context.Background()))
	channel.deliver(domain.Envelope{Event: domain.EventObserveRequested, SocketID: "admin-1"})

	// Unknown socket is ignored.
	channel.deliver(domain.Envelope{Event: domain.EventAnswerSignalReceived, SocketID: "nobody", Signal: offerPayload(t)})

	channel.deliver(domain.Envelope{Event: domain.EventAnswerSignalReceived, SocketID: "admin-1", Signal: offerPayload(t)})
	assert.Equal(t, 1, factory.last().signalCount())

	// An injection failure discards that link only.
	factory.last().failSig = domain.ErrLinkClosed
	channel.deliver(domain.Envelope{Event: domain.EventAnswerSignalReceived, SocketID: "admin-1", Signal: offerPayload(t)})
	_, ok := registry.Link("admin-1")
	assert.False(t, ok)
}

func TestParticipantStopSharingIdempotent(t *testing.T) {
	channel, factory, capture, registry, session := newParticipantFixture(t)
	require.NoError(t, session.StartSharing(context.Background()))
	channel.deliver(domain.Envelope{Event: domain.EventObserveRequested, SocketID: "admin-1"})

	require.NoError(t, session.StopSharing())
	assert.False(t, session.Sharing())
	assert.Len(t, channel.emitted(domain.EventStoppedSharing), 1)
	assert.Equal(t, domain.LinkClosed, factory.last().State())
	assert.Empty(t, registry.Links())
	assert.False(t, capture.stream.(*fakeStream).Active())

	require.NoError(t, session.StopSharing())
	assert.Len(t, channel.emitted(domain.EventStoppedSharing), 1, "second stop must not re-announce")
}

func TestParticipantNativeEndStopsSharing(t *testing.T) {
	channel, _, capture, _, session := newParticipantFixture(t)
	require.NoError(t, session.StartSharing(context.Background()))

	capture.stream.(*fakeStream).endNatively()

	assert.False(t, session.Sharing())
	assert.Len(t, channel.emitted(domain.EventStoppedSharing), 1)
}

type observerFixture struct {
	channel  *fakeChannel
	factory  *fakeLinkFactory
	sink     *fakeSink
	registry ports.SessionRegistry
	hints    *memory.HintStore
	session  ports.ObserverSession
}

func newObserverFixture(t *testing.T, settle time.Duration) *observerFixture {
	t.Helper()
	f := &observerFixture{
		channel:  newFakeChannel(),
		factory:  &fakeLinkFactory{},
		sink:     newFakeSink(),
		registry: memory.NewSessionRegistry(),
		hints:    memory.NewHintStore(time.Minute),
	}
	t.Cleanup(f.hints.Close)

	f.session = NewObserverSession(ObserverSessionDeps{
		Channel:           f.channel,
		Registry:          f.registry,
		Links:             f.factory,
		Sink:              f.sink,
		Hints:             f.hints,
		Identity:          domain.Identity{UserID: 1, Email: "a@example.com", Role: domain.RoleAdmin},
		Logger:            zap.NewNop().Sugar(),
		Category:          5,
		SuppressionWindow: 60 * time.Millisecond,
		SettleDelay:       settle,
	})
	require.NoError(t, f.session.Start(context.Background()))
	return f
}

func (f *observerFixture) joinParticipant(id domain.SocketID, available bool) {
	f.channel.deliver(domain.Envelope{
		Event:    domain.EventParticipantJoined,
		SocketID: id,
		Identity: &domain.Identity{UserID: 20, Email: "p@example.com", Role: domain.RoleParticipant},
	})
	if available {
		f.channel.deliver(domain.Envelope{
			Event:    domain.EventStreamAvailable,
			SocketID: id,
			Identity: &domain.Identity{UserID: 20, Email: "p@example.com", Role: domain.RoleParticipant},
		})
	}
}

func TestObserverStartRequestsRoster(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)
	assert.Len(t, f.channel.emitted(domain.EventRosterRequest), 1)
}

func TestObserverRequestObserveGuards(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)

	assert.ErrorIs(t, f.session.RequestObserve("ghost"), domain.ErrParticipantGone)

	f.joinParticipant("sock-1", false)
	assert.ErrorIs(t, f.session.RequestObserve("sock-1"), domain.ErrNoStreamAvailable)

	f.channel.deliver(domain.Envelope{Event: domain.EventStreamAvailable, SocketID: "sock-1"})
	require.NoError(t, f.session.RequestObserve("sock-1"))
	assert.ErrorIs(t, f.session.RequestObserve("sock-1"), domain.ErrAttemptInProgress)

	// With a live link the already-observing guard fires first.
	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offerPayload(t)})
	assert.ErrorIs(t, f.session.RequestObserve("sock-1"), domain.ErrAlreadyObserving)

	assert.Len(t, f.channel.emitted(domain.EventRequestObserve), 1)
	assert.Equal(t, []domain.SocketID{"sock-1"}, f.session.Watching())
}

func TestObserverOfferCreatesResponderLink(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)
	f.joinParticipant("sock-1", true)
	require.NoError(t, f.session.RequestObserve("sock-1"))

	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offerPayload(t)})

	require.Equal(t, 1, f.factory.created())
	link := f.factory.last()
	assert.Equal(t, domain.RoleResponder, link.role)
	assert.Equal(t, 1, link.signalCount(), "offer must be injected into the new link")

	// The link's local answer goes back to the participant.
	answer, err := json.Marshal(map[string]string{"type": "answer", "sdp": "v=0..."})
	require.NoError(t, err)
	link.cb.OnSignal(answer)
	answers := f.channel.emitted(domain.EventAnswerSignal)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.SocketID("sock-1"), answers[0].SocketID)

	// Connecting clears the attempt marker.
	link.cb.OnConnect()
	assert.False(t, f.registry.AttemptInProgress("sock-1"))
}

func TestObserverAcceptsUnsolicitedOffer(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)
	f.joinParticipant("sock-1", true)

	// No RequestObserve: the offer alone is enough for a responder link.
	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offerPayload(t)})

	require.Equal(t, 1, f.factory.created())
	assert.Equal(t, domain.RoleResponder, f.factory.last().role)
	assert.Equal(t, 1, f.factory.last().signalCount())
}

func TestObserverDuplicateOfferSuppression(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)
	f.joinParticipant("sock-1", true)

	offer := offerPayload(t)
	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offer})
	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offer})

	require.Equal(t, 1, f.factory.created())
	assert.Equal(t, 1, f.factory.last().signalCount(), "repeat inside the window must be dropped")

	// Past the window the same signal is treated as fresh again and goes to
	// the live link.
	time.Sleep(90 * time.Millisecond)
	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offer})
	assert.Equal(t, 1, f.factory.created())
	assert.Equal(t, 2, f.factory.last().signalCount())
}

func TestObserverStreamRecordLifecycle(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)
	f.joinParticipant("sock-1", true)

	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offerPayload(t)})
	link := f.factory.last()
	require.NotNil(t, link)

	link.cb.OnStream(&fakeStream{id: "native-a"})
	first := f.session.Streams()
	require.Len(t, first, 1)
	assert.Equal(t, 1, f.sink.count())

	// A re-share yields a distinct record id even for the same socket.
	link.cb.OnStream(&fakeStream{id: "native-a"})
	second := f.session.Streams()
	require.Len(t, second, 2)
	assert.NotEqual(t, second[0].ID, second[1].ID)

	// Teardown removes records by socket id and clears the sink.
	require.NoError(t, f.session.StopObserving("sock-1"))
	assert.Empty(t, f.session.Streams())
	assert.Zero(t, f.sink.count())
}

func TestObserverStopObservingIdempotent(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)
	f.joinParticipant("sock-1", true)
	require.NoError(t, f.session.RequestObserve("sock-1"))
	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offerPayload(t)})

	require.NoError(t, f.session.StopObserving("sock-1"))
	assert.Empty(t, f.session.Watching())
	assert.Equal(t, domain.LinkClosed, f.factory.last().State())
	assert.False(t, f.registry.AttemptInProgress("sock-1"))
	assert.Len(t, f.channel.emitted(domain.EventStopObserving), 1)

	require.NoError(t, f.session.StopObserving("sock-1"))
}

func TestObserverParticipantLeftCascades(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)
	f.joinParticipant("sock-1", true)
	require.NoError(t, f.session.RequestObserve("sock-1"))
	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offerPayload(t)})
	f.factory.last().cb.OnStream(&fakeStream{id: "native-a"})

	f.channel.deliver(domain.Envelope{Event: domain.EventParticipantLeft, SocketID: "sock-1"})

	assert.Empty(t, f.session.Roster())
	assert.Empty(t, f.session.Streams())
	assert.Empty(t, f.session.Watching())
	assert.Equal(t, domain.LinkClosed, f.factory.last().State())
}

func TestObserverRecoveryReconciliation(t *testing.T) {
	f := newObserverFixture(t, 10*time.Millisecond)

	// A previous session was watching two sockets; only one survived.
	require.NoError(t, f.hints.Save(context.Background(), domain.WatchingHint{
		Category:  5,
		SocketIDs: []domain.SocketID{"sock-present", "sock-gone"},
		SavedAt:   time.Now(),
	}))

	f.channel.deliver(domain.Envelope{
		Event: domain.EventRosterSnapshot,
		Roster: []domain.RosterEntry{
			{SocketID: "sock-present", Identity: domain.Identity{UserID: 20}, StreamAvailable: true},
		},
	})

	assert.Eventually(t, func() bool {
		return len(f.channel.emitted(domain.EventRequestObserve)) == 1
	}, time.Second, 5*time.Millisecond)

	requests := f.channel.emitted(domain.EventRequestObserve)
	require.Len(t, requests, 1, "absent sockets must be dropped silently")
	assert.Equal(t, domain.SocketID("sock-present"), requests[0].SocketID)
}

func TestObserverRecoveryKeepsIntentWhenStreamIsDown(t *testing.T) {
	f := newObserverFixture(t, 10*time.Millisecond)

	require.NoError(t, f.hints.Save(context.Background(), domain.WatchingHint{
		Category:  5,
		SocketIDs: []domain.SocketID{"sock-idle"},
		SavedAt:   time.Now(),
	}))

	// The socket survived but is not sharing yet: the observe request is
	// refused, the watching intent must stick anyway.
	f.channel.deliver(domain.Envelope{
		Event: domain.EventRosterSnapshot,
		Roster: []domain.RosterEntry{
			{SocketID: "sock-idle", Identity: domain.Identity{UserID: 20}, StreamAvailable: false},
		},
	})
	assert.Eventually(t, func() bool {
		return len(f.session.Watching()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.channel.emitted(domain.EventRequestObserve))

	f.channel.deliver(domain.Envelope{
		Event:    domain.EventStreamAvailable,
		SocketID: "sock-idle",
		Identity: &domain.Identity{UserID: 20},
	})

	assert.Eventually(t, func() bool {
		return len(f.channel.emitted(domain.EventRequestObserve)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestObserverReconnectOnStreamAvailable(t *testing.T) {
	f := newObserverFixture(t, 10*time.Millisecond)
	f.joinParticipant("sock-1", true)
	require.NoError(t, f.session.RequestObserve("sock-1"))
	f.channel.deliver(domain.Envelope{Event: domain.EventOfferSignalReceived, SocketID: "sock-1", Signal: offerPayload(t)})

	// The participant stops and later restarts sharing. The watched entry
	// reconnects on its own.
	f.channel.deliver(domain.Envelope{Event: domain.EventStreamStopped, SocketID: "sock-1"})
	assert.Equal(t, domain.LinkClosed, f.factory.last().State())
	assert.Equal(t, []domain.SocketID{"sock-1"}, f.session.Watching())

	f.channel.deliver(domain.Envelope{
		Event:    domain.EventStreamAvailable,
		SocketID: "sock-1",
		Identity: &domain.Identity{UserID: 20},
	})

	assert.Eventually(t, func() bool {
		return len(f.channel.emitted(domain.EventRequestObserve)) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestObserverRosterSnapshotReplacesWholesale(t *testing.T) {
	f := newObserverFixture(t, time.Millisecond)
	f.joinParticipant("sock-old", true)

	f.channel.deliver(domain.Envelope{
		Event: domain.EventRosterSnapshot,
		Roster: []domain.RosterEntry{
			{SocketID: "sock-new", Identity: domain.Identity{UserID: 30}},
		},
	})

	roster := f.session.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, domain.SocketID("sock-new"), roster[0].SocketID)
}
