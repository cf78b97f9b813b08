package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
)

// ParticipantSessionDeps collects the collaborators of a participant session.
type ParticipantSessionDeps struct {
	Channel     ports.SignalChannel
	Registry    ports.SessionRegistry
	Links       ports.LinkFactory
	Capture     ports.ScreenCapture
	Constraints ports.CaptureConstraints
	Identity    domain.Identity
	Logger      *zap.SugaredLogger
}

type participantSession struct {
	channel     ports.SignalChannel
	registry    ports.SessionRegistry
	links       ports.LinkFactory
	capture     ports.ScreenCapture
	constraints ports.CaptureConstraints
	identity    domain.Identity
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	ctx     context.Context
	stream  domain.MediaStream
	started bool
	closed  bool
}

func NewParticipantSession(deps ParticipantSessionDeps) ports.ParticipantSession {
	return &participantSession{
		channel:     deps.Channel,
		registry:    deps.Registry,
		links:       deps.Links,
		capture:     deps.Capture,
		constraints: deps.Constraints,
		identity:    deps.Identity,
		logger:      deps.Logger,
	}
}

func (s *participantSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	s.channel.On(domain.EventObserveRequested, s.handleObserveRequested)
	s.channel.On(domain.EventAnswerSignalReceived, s.handleAnswerSignal)

	return s.channel.Emit(ctx, domain.Envelope{
		Event:    domain.EventAnnounceReady,
		Identity: &s.identity,
	})
}

func (s *participantSession) StartSharing(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrChannelNotReady
	}
	if s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	stream, err := s.capture.Capture(ctx, s.constraints)
	if err != nil {
		s.logger.Errorw("screen capture failed", "error", err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stream.Stop()
		return domain.ErrChannelNotReady
	}
	s.stream = stream
	s.mu.Unlock()

	// The platform can end the capture without StopSharing being called,
	// e.g. the user stops via the native control. Treat that exactly like
	// an explicit stop.
	stream.OnEnded(func() {
		s.logger.Infow("outgoing stream ended natively", "stream", stream.ID())
		if err := s.StopSharing(); err != nil {
			s.logger.Warnw("failed to stop sharing after native end", "error", err)
		}
	})

	s.logger.Infow("sharing started", "stream", stream.ID())
	return s.channel.Emit(ctx, domain.Envelope{Event: domain.EventStreamReady})
}

// StopSharing tears down the outgoing stream and every link feeding from it.
// Safe to call when nothing is active.
func (s *participantSession) StopSharing() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	ctx := s.ctx
	s.mu.Unlock()

	if stream == nil {
		return nil
	}

	stream.Stop()
	s.closeAllLinks()

	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.channel.Emit(ctx, domain.Envelope{Event: domain.EventStoppedSharing}); err != nil {
		s.logger.Warnw("failed to announce sharing stopped", "error", err)
	}

	s.logger.Infow("sharing stopped", "stream", stream.ID())
	return nil
}

func (s *participantSession) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *participantSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	s.closeAllLinks()
	return s.channel.Close()
}

// handleObserveRequested starts the offer/answer exchange toward the admin
// identified by the envelope's socket id. A request without an active stream,
// or for a socket that already holds a link, is ignored.
func (s *participantSession) handleObserveRequested(env domain.Envelope) {
	remote := env.SocketID

	s.mu.Lock()
	stream := s.stream
	ctx := s.ctx
	s.mu.Unlock()

	if stream == nil {
		s.logger.Debugw("ignoring observe request without an active stream", "socket", remote)
		return
	}
	if _, exists := s.registry.Link(remote); exists {
		s.logger.Debugw("ignoring observe request for an existing link", "socket", remote)
		return
	}

	link, err := s.links.NewLink(domain.RoleInitiator, stream, ports.LinkCallbacks{
		OnSignal: func(payload []byte) {
			err := s.channel.Emit(ctx, domain.Envelope{
				Event:    domain.EventOfferSignal,
				SocketID: remote,
				Signal:   payload,
			})
			if err != nil {
				s.logger.Errorw("failed to emit offer", "socket", remote, "error", err)
			}
		},
		OnConnect: func() {
			s.logger.Infow("observer connected", "socket", remote)
		},
		OnClose: func() {
			s.dropLink(remote)
		},
		OnError: func(err error) {
			s.logger.Warnw("peer link failed", "socket", remote, "error", err)
			s.dropLink(remote)
		},
	})
	if err != nil {
		s.logger.Errorw("failed to create peer link", "socket", remote, "error", err)
		return
	}

	if !s.registry.PutLink(remote, link) {
		// Lost a race with another request for the same socket.
		_ = link.Close()
		return
	}
	s.logger.Infow("offering stream to observer", "socket", remote)
}

// handleAnswerSignal completes the handshake for an in-flight link. Answers
// for unknown sockets are ignored; an injection failure discards that link
// only.
func (s *participantSession) handleAnswerSignal(env domain.Envelope) {
	link, ok := s.registry.Link(env.SocketID)
	if !ok {
		s.logger.Debugw("ignoring answer for unknown link", "socket", env.SocketID)
		return
	}
	if err := link.Signal(env.Signal); err != nil {
		s.logger.Warnw("failed to inject answer, discarding link", "socket", env.SocketID, "error", err)
		s.dropLink(env.SocketID)
	}
}

func (s *participantSession) dropLink(id domain.SocketID) {
	if link, ok := s.registry.RemoveLink(id); ok {
		_ = link.Close()
	}
}

func (s *participantSession) closeAllLinks() {
	for id, link := range s.registry.Links() {
		_ = link.Close()
		s.registry.RemoveLink(id)
	}
}

var _ ports.ParticipantSession = (*participantSession)(nil)
