package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
	"vigia/pkg/cache"
	"vigia/pkg/utils"
)

// ObserverSessionDeps collects the collaborators of an observer session.
type ObserverSessionDeps struct {
	Channel  ports.SignalChannel
	Registry ports.SessionRegistry
	Links    ports.LinkFactory
	Sink     ports.RenderSink
	Hints    ports.HintStore
	Identity domain.Identity
	Logger   *zap.SugaredLogger

	// Category scopes the persisted watching set.
	Category int64
	// SuppressionWindow bounds duplicate offer delivery; repeats of the same
	// (socket, signal type) inside the window are dropped.
	SuppressionWindow time.Duration
	// SettleDelay is waited before re-requesting observation, both during
	// startup reconciliation and when a watched stream reappears.
	SettleDelay time.Duration
}

type observerSession struct {
	channel  ports.SignalChannel
	registry ports.SessionRegistry
	links    ports.LinkFactory
	sink     ports.RenderSink
	hints    ports.HintStore
	identity domain.Identity
	logger   *zap.SugaredLogger

	category    int64
	settleDelay time.Duration
	suppress    *cache.Cache

	mu        sync.Mutex
	ctx       context.Context
	watching  map[domain.SocketID]struct{}
	recovered bool
	closed    bool
}

func NewObserverSession(deps ObserverSessionDeps) ports.ObserverSession {
	return &observerSession{
		channel:     deps.Channel,
		registry:    deps.Registry,
		links:       deps.Links,
		sink:        deps.Sink,
		hints:       deps.Hints,
		identity:    deps.Identity,
		logger:      deps.Logger,
		category:    deps.Category,
		settleDelay: deps.SettleDelay,
		suppress:    cache.New(deps.SuppressionWindow),
		watching:    make(map[domain.SocketID]struct{}),
	}
}

func (s *observerSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return nil
	}
	s.ctx = ctx
	s.mu.Unlock()

	s.channel.On(domain.EventRosterSnapshot, s.handleRosterSnapshot)
	s.channel.On(domain.EventParticipantJoined, s.handleParticipantJoined)
	s.channel.On(domain.EventParticipantLeft, s.handleParticipantLeft)
	s.channel.On(domain.EventStreamAvailable, s.handleStreamAvailable)
	s.channel.On(domain.EventStreamStopped, s.handleStreamStopped)
	s.channel.On(domain.EventOfferSignalReceived, s.handleOfferSignal)

	return s.channel.Emit(ctx, domain.Envelope{Event: domain.EventRosterRequest})
}

// RequestObserve asks a participant to start the offer/answer exchange. The
// guards run in order: the participant must be present with an available
// stream, must not already be observed, and must not have a handshake in
// flight.
func (s *observerSession) RequestObserve(id domain.SocketID) error {
	p, ok := s.registry.Participant(id)
	if !ok {
		return domain.ErrParticipantGone
	}
	if !p.StreamAvailable {
		return domain.ErrNoStreamAvailable
	}
	if _, exists := s.registry.Link(id); exists {
		return domain.ErrAlreadyObserving
	}
	if !s.registry.MarkAttempt(id) {
		return domain.ErrAttemptInProgress
	}

	s.addWatching(id)

	ctx := s.baseContext()
	if err := s.channel.Emit(ctx, domain.Envelope{
		Event:    domain.EventRequestObserve,
		SocketID: id,
	}); err != nil {
		s.registry.ClearAttempt(id)
		return err
	}

	s.logger.Infow("requested observation", "socket", id, "user", p.Identity.UserID)
	return nil
}

// StopObserving tears down everything held for the participant: the watching
// entry, the live link, every stream record and the attempt marker. The
// participant is told best-effort; a failed emission does not undo the local
// teardown.
func (s *observerSession) StopObserving(id domain.SocketID) error {
	s.removeWatching(id)
	s.teardown(id)

	if err := s.channel.Emit(s.baseContext(), domain.Envelope{
		Event:    domain.EventStopObserving,
		SocketID: id,
	}); err != nil {
		s.logger.Debugw("failed to announce stop-observing", "socket", id, "error", err)
	}
	return nil
}

func (s *observerSession) RefreshRoster() error {
	return s.channel.Emit(s.baseContext(), domain.Envelope{Event: domain.EventRosterRequest})
}

func (s *observerSession) Roster() []domain.Participant {
	return s.registry.Participants()
}

func (s *observerSession) Streams() []domain.StreamRecord {
	return s.registry.Streams()
}

func (s *observerSession) Watching() []domain.SocketID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.SocketID, 0, len(s.watching))
	for id := range s.watching {
		out = append(out, id)
	}
	return out
}

func (s *observerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for id := range s.registry.Links() {
		s.teardown(id)
	}
	s.suppress.Stop()
	return s.channel.Close()
}

func (s *observerSession) handleRosterSnapshot(env domain.Envelope) {
	s.registry.ReplaceRoster(env.Roster)
	s.logger.Debugw("roster snapshot applied", "participants", len(env.Roster))

	s.mu.Lock()
	first := !s.recovered
	s.recovered = true
	ctx := s.ctx
	s.mu.Unlock()

	if first {
		go s.reconcile(ctx)
	}
}

func (s *observerSession) handleParticipantJoined(env domain.Envelope) {
	if env.Identity == nil {
		return
	}
	s.registry.UpsertParticipant(domain.Participant{
		SocketID: env.SocketID,
		Identity: *env.Identity,
	})
	s.logger.Infow("participant joined", "socket", env.SocketID, "user", env.Identity.UserID)
}

func (s *observerSession) handleParticipantLeft(env domain.Envelope) {
	s.registry.RemoveParticipant(env.SocketID)
	s.removeWatching(env.SocketID)
	s.teardown(env.SocketID)
	s.logger.Infow("participant left", "socket", env.SocketID)
}

func (s *observerSession) handleStreamAvailable(env domain.Envelope) {
	identity := domain.Identity{}
	if env.Identity != nil {
		identity = *env.Identity
	}
	s.registry.SetStreamAvailable(env.SocketID, identity, true)

	// A watched participant restarting its share gets reconnected without
	// operator action, after the settling delay.
	if !s.isWatching(env.SocketID) {
		return
	}
	if _, exists := s.registry.Link(env.SocketID); exists {
		return
	}

	id := env.SocketID
	go func() {
		select {
		case <-time.After(s.settleDelay):
		case <-s.baseContext().Done():
			return
		}
		if err := s.RequestObserve(id); err != nil {
			s.logger.Debugw("re-observe skipped", "socket", id, "reason", err)
		}
	}()
}

func (s *observerSession) handleStreamStopped(env domain.Envelope) {
	identity := domain.Identity{}
	if p, ok := s.registry.Participant(env.SocketID); ok {
		identity = p.Identity
	}
	s.registry.SetStreamAvailable(env.SocketID, identity, false)
	// The watching entry survives so the stream coming back reconnects.
	s.teardown(env.SocketID)
}

// handleOfferSignal accepts the participant's single non-trickle offer. A
// repeat of the same signal type from the same socket inside the suppression
// window is dropped before any link work happens.
func (s *observerSession) handleOfferSignal(env domain.Envelope) {
	remote := env.SocketID

	key := suppressionKey(remote, env.Signal)
	if _, seen := s.suppress.Get(key); seen {
		s.logger.Debugw("suppressing duplicate signal", "socket", remote, "key", key)
		return
	}
	s.suppress.Set(key, struct{}{})

	if link, exists := s.registry.Link(remote); exists {
		// Late or renegotiation signal for a live link.
		if err := link.Signal(env.Signal); err != nil {
			s.logger.Warnw("failed to inject offer, discarding link", "socket", remote, "error", err)
			s.teardown(remote)
		}
		return
	}

	identity := domain.Identity{}
	if p, ok := s.registry.Participant(remote); ok {
		identity = p.Identity
	} else if env.Identity != nil {
		identity = *env.Identity
	}

	link, err := s.links.NewLink(domain.RoleResponder, nil, ports.LinkCallbacks{
		OnSignal: func(payload []byte) {
			err := s.channel.Emit(s.baseContext(), domain.Envelope{
				Event:    domain.EventAnswerSignal,
				SocketID: remote,
				Signal:   payload,
			})
			if err != nil {
				s.logger.Errorw("failed to emit answer", "socket", remote, "error", err)
			}
		},
		OnStream: func(stream domain.MediaStream) {
			s.acceptStream(remote, identity, stream)
		},
		OnConnect: func() {
			s.registry.ClearAttempt(remote)
			s.logger.Infow("observing", "socket", remote, "user", identity.UserID)
		},
		OnClose: func() {
			s.teardown(remote)
		},
		OnError: func(err error) {
			s.logger.Warnw("peer link failed", "socket", remote, "error", err)
			s.teardown(remote)
		},
	})
	if err != nil {
		s.logger.Errorw("failed to create peer link", "socket", remote, "error", err)
		s.registry.ClearAttempt(remote)
		return
	}

	if !s.registry.PutLink(remote, link) {
		_ = link.Close()
		return
	}

	if err := link.Signal(env.Signal); err != nil {
		s.logger.Warnw("failed to inject offer, discarding link", "socket", remote, "error", err)
		s.teardown(remote)
	}
}

// acceptStream records the received media under a fresh unique id and hands
// it to the render sink. Identity fields are a snapshot; the record outlives
// roster churn and is only removed by socket id.
func (s *observerSession) acceptStream(remote domain.SocketID, identity domain.Identity, stream domain.MediaStream) {
	id := domain.StreamID(utils.GenerateStreamID(
		strconv.FormatInt(int64(identity.UserID), 10),
		string(remote),
		stream.ID(),
	))

	s.registry.PutStream(domain.StreamRecord{
		ID:        id,
		SocketID:  remote,
		Identity:  identity,
		Stream:    stream,
		CreatedAt: time.Now(),
	})

	if err := s.sink.Render(id, stream); err != nil {
		s.logger.Warnw("render sink rejected stream", "stream", id, "error", err)
	}
	s.logger.Infow("stream received", "stream", id, "socket", remote)
}

// reconcile re-requests observation of every persisted watching-set entry
// still present in the roster. Entries whose socket is gone are dropped
// silently; their socket ids are ephemeral and will never return.
func (s *observerSession) reconcile(ctx context.Context) {
	hint, err := s.hints.Load(ctx, s.category)
	if err != nil {
		s.logger.Warnw("failed to load recovery hint", "error", err)
		return
	}
	if hint == nil || len(hint.SocketIDs) == 0 {
		return
	}

	select {
	case <-time.After(s.settleDelay):
	case <-ctx.Done():
		return
	}

	for _, id := range hint.SocketIDs {
		if _, ok := s.registry.Participant(id); !ok {
			continue
		}
		// Record the intent first: a participant whose stream is not up yet
		// still reconnects when stream-available arrives later.
		s.addWatching(id)
		if err := s.RequestObserve(id); err != nil {
			s.logger.Debugw("recovery observe skipped", "socket", id, "reason", err)
		}
	}
}

// teardown releases the link, stream records and attempt marker held for a
// socket. The watching set is untouched; callers decide that separately.
func (s *observerSession) teardown(id domain.SocketID) {
	if link, ok := s.registry.RemoveLink(id); ok {
		_ = link.Close()
	}
	for _, rec := range s.registry.RemoveStreamsBySocket(id) {
		if err := s.sink.Render(rec.ID, nil); err != nil {
			s.logger.Debugw("failed to clear rendered stream", "stream", rec.ID, "error", err)
		}
		rec.Stream.Stop()
	}
	s.registry.ClearAttempt(id)
}

func (s *observerSession) addWatching(id domain.SocketID) {
	s.mu.Lock()
	if _, ok := s.watching[id]; ok {
		s.mu.Unlock()
		return
	}
	s.watching[id] = struct{}{}
	s.mu.Unlock()
	s.persistWatching()
}

func (s *observerSession) removeWatching(id domain.SocketID) {
	s.mu.Lock()
	if _, ok := s.watching[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.watching, id)
	s.mu.Unlock()
	s.persistWatching()
}

func (s *observerSession) isWatching(id domain.SocketID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watching[id]
	return ok
}

func (s *observerSession) persistWatching() {
	hint := domain.WatchingHint{
		Category:  s.category,
		SocketIDs: s.Watching(),
		SavedAt:   time.Now(),
	}
	if err := s.hints.Save(s.baseContext(), hint); err != nil {
		s.logger.Warnw("failed to persist watching set", "error", err)
	}
}

func (s *observerSession) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func suppressionKey(id domain.SocketID, signal []byte) string {
	return fmt.Sprintf("%s|%s", id, domain.SignalType(signal))
}

var _ ports.ObserverSession = (*observerSession)(nil)
