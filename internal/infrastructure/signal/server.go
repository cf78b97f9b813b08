package signal

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vigia/internal/core/domain"
	"vigia/internal/core/services"
	"vigia/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Metrics is the observability hook of the relay. Implementations live in
// the monitoring package; a nil Metrics disables collection.
type Metrics interface {
	ConnectionOpened(role string)
	ConnectionClosed(role string)
	MessageRelayed(event string)
	MessageRejected(reason string)
}

// ServerConfig tunes connection keepalive and abuse limits.
type ServerConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

// RelayServer is the signaling hub. It routes the event catalog by socket id
// and fans participant lifecycle events out to admins. Signal payloads pass
// through opaque; the server never parses SDP.
type RelayServer struct {
	auth    services.AuthService
	config  ServerConfig
	metrics Metrics
	logger  *zap.SugaredLogger

	clients map[domain.SocketID]*relayClient
	mu      sync.RWMutex
}

type relayClient struct {
	socketID domain.SocketID
	identity domain.Identity
	conn     *websocket.Conn

	// streamAvailable is meaningful for participants only.
	streamAvailable bool
	announced       bool

	writeMu sync.Mutex
}

func NewRelayServer(auth services.AuthService, config ServerConfig, metrics Metrics, logger *zap.SugaredLogger) *RelayServer {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 60 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &RelayServer{
		auth:    auth,
		config:  config,
		metrics: metrics,
		logger:  logger,
		clients: make(map[domain.SocketID]*relayClient),
	}
}

// HandleWebSocket upgrades one authenticated signaling connection and serves
// it until disconnect.
func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.ValidateToken(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &relayClient{
		socketID: domain.SocketID(utils.GenerateSocketID()),
		identity: claims.Identity(),
		conn:     conn,
	}

	s.mu.Lock()
	s.clients[client.socketID] = client
	s.mu.Unlock()

	role := string(client.identity.Role)
	if s.metrics != nil {
		s.metrics.ConnectionOpened(role)
	}
	s.logger.Infow("client connected",
		"socket", client.socketID,
		"user", client.identity.UserID,
		"role", role,
	)

	s.serve(client)

	s.mu.Lock()
	delete(s.clients, client.socketID)
	s.mu.Unlock()

	if client.identity.Role == domain.RoleParticipant && client.announced {
		// Admin departures are silent; participant departures cascade
		// teardown on every observer.
		s.fanoutToAdmins(domain.Envelope{
			Event:    domain.EventParticipantLeft,
			SocketID: client.socketID,
		})
	}

	if s.metrics != nil {
		s.metrics.ConnectionClosed(role)
	}
	s.logger.Infow("client disconnected", "socket", client.socketID)
}

func (s *RelayServer) serve(client *relayClient) {
	conn := client.conn
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
		return nil
	})

	// First frame on the wire tells the client its socket id.
	if err := s.send(client, domain.Envelope{
		Event:    domain.EventConnected,
		SocketID: client.socketID,
	}); err != nil {
		return
	}

	// Admins get the current roster without asking.
	if client.identity.Role == domain.RoleAdmin {
		s.send(client, domain.Envelope{
			Event:  domain.EventRosterSnapshot,
			Roster: s.roster(),
		})
	}

	var limiter *rate.Limiter
	if s.config.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.Burst)
	}

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan domain.Envelope, 10)
	errorChan := make(chan error, 1)
	// Closed when serve returns so the reader never blocks on a send after a
	// ping-write failure ended the loop.
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
			select {
			case messageChan <- env:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case env := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				if s.metrics != nil {
					s.metrics.MessageRejected("rate_limit")
				}
				s.sendError(client, "rate limit exceeded")
				continue
			}
			if err := s.route(client, env); err != nil {
				if s.metrics != nil {
					s.metrics.MessageRejected("routing")
				}
				s.logger.Infow("rejected message",
					"socket", client.socketID,
					"event", env.Event,
					"error", err,
				)
				s.sendError(client, err.Error())
			}

		case <-pingTicker.C:
			client.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			client.writeMu.Unlock()
			if err != nil {
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("read error", "socket", client.socketID, "error", err)
			}
			return
		}
	}
}

func (s *RelayServer) route(client *relayClient, env domain.Envelope) error {
	if err := s.checkRole(client, env.Event); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.MessageRelayed(string(env.Event))
	}

	switch env.Event {
	case domain.EventAnnounceReady:
		client.announced = true
		s.fanoutToAdmins(domain.Envelope{
			Event:    domain.EventParticipantJoined,
			SocketID: client.socketID,
			Identity: &client.identity,
		})
		return nil

	case domain.EventStreamReady:
		client.streamAvailable = true
		s.fanoutToAdmins(domain.Envelope{
			Event:    domain.EventStreamAvailable,
			SocketID: client.socketID,
			Identity: &client.identity,
		})
		return nil

	case domain.EventStoppedSharing:
		client.streamAvailable = false
		s.fanoutToAdmins(domain.Envelope{
			Event:    domain.EventStreamStopped,
			SocketID: client.socketID,
		})
		return nil

	case domain.EventOfferSignal:
		return s.relay(client, env, domain.EventOfferSignalReceived)

	case domain.EventRosterRequest:
		return s.send(client, domain.Envelope{
			Event:  domain.EventRosterSnapshot,
			Roster: s.roster(),
		})

	case domain.EventRequestObserve:
		return s.relay(client, env, domain.EventObserveRequested)

	case domain.EventAnswerSignal:
		return s.relay(client, env, domain.EventAnswerSignalReceived)

	case domain.EventStopObserving:
		return s.relay(client, env, domain.EventStopObserving)

	default:
		return &routeError{"unknown event " + string(env.Event)}
	}
}

// relay forwards the envelope to its target socket, rewriting the event name
// and stamping the origin socket and identity. The signal payload is passed
// through untouched.
func (s *RelayServer) relay(from *relayClient, env domain.Envelope, as domain.Event) error {
	s.mu.RLock()
	target, ok := s.clients[env.SocketID]
	s.mu.RUnlock()
	if !ok {
		return &routeError{"no such socket " + string(env.SocketID)}
	}

	return s.send(target, domain.Envelope{
		Event:    as,
		SocketID: from.socketID,
		Identity: &from.identity,
		Signal:   env.Signal,
	})
}

// checkRole rejects events a connection's role is not allowed to send.
func (s *RelayServer) checkRole(client *relayClient, event domain.Event) error {
	var allowed domain.Role
	switch event {
	case domain.EventAnnounceReady, domain.EventStreamReady,
		domain.EventStoppedSharing, domain.EventOfferSignal:
		allowed = domain.RoleParticipant
	case domain.EventRosterRequest, domain.EventRequestObserve,
		domain.EventAnswerSignal, domain.EventStopObserving:
		allowed = domain.RoleAdmin
	default:
		return nil
	}
	if client.identity.Role != allowed {
		return &routeError{"event " + string(event) + " not allowed for role " + string(client.identity.Role)}
	}
	return nil
}

// RosterSnapshot exposes the current participant roster for the REST
// surface.
func (s *RelayServer) RosterSnapshot() []domain.RosterEntry {
	return s.roster()
}

// ConnectionCount reports the number of open signaling connections.
func (s *RelayServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *RelayServer) roster() []domain.RosterEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []domain.RosterEntry
	for _, c := range s.clients {
		if c.identity.Role != domain.RoleParticipant || !c.announced {
			continue
		}
		entries = append(entries, domain.RosterEntry{
			SocketID:        c.socketID,
			Identity:        c.identity,
			StreamAvailable: c.streamAvailable,
		})
	}
	return entries
}

func (s *RelayServer) fanoutToAdmins(env domain.Envelope) {
	s.mu.RLock()
	admins := make([]*relayClient, 0)
	for _, c := range s.clients {
		if c.identity.Role == domain.RoleAdmin {
			admins = append(admins, c)
		}
	}
	s.mu.RUnlock()

	for _, admin := range admins {
		if err := s.send(admin, env); err != nil {
			s.logger.Debugw("fanout failed", "socket", admin.socketID, "event", env.Event, "error", err)
		}
	}
}

func (s *RelayServer) send(client *relayClient, env domain.Envelope) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return client.conn.WriteJSON(env)
}

func (s *RelayServer) sendError(client *relayClient, message string) {
	if err := s.send(client, domain.Envelope{Event: domain.EventError, Error: message}); err != nil {
		s.logger.Debugw("failed to send error frame", "socket", client.socketID, "error", err)
	}
}

type routeError struct{ msg string }

func (e *routeError) Error() string { return e.msg }

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
