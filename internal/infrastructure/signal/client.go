package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
)

// ClientConfig tunes the channel client's timeouts.
type ClientConfig struct {
	// HandshakeTimeout bounds the dial plus the wait for the server's
	// connected frame.
	HandshakeTimeout time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
}

// Client is the ports.SignalChannel implementation over a websocket. All
// incoming events are dispatched on one goroutine, so handlers of a session
// never run concurrently with each other.
type Client struct {
	conn   *websocket.Conn
	config ClientConfig
	logger *zap.SugaredLogger

	socketID domain.SocketID

	handlerMu sync.RWMutex
	handlers  map[domain.Event]func(domain.Envelope)

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and authenticates the channel, returning once the server has
// assigned a socket id.
func Dial(ctx context.Context, url, token string, config ClientConfig, logger *zap.SugaredLogger) (*Client, error) {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 60 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("signaling server refused token: %w", err)
		}
		return nil, fmt.Errorf("failed to dial signaling server: %w", err)
	}

	c := &Client{
		conn:     conn,
		config:   config,
		logger:   logger,
		handlers: make(map[domain.Event]func(domain.Envelope)),
		done:     make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(config.PongTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(config.PongTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(config.WriteTimeout))
	})

	// The first frame carries the assigned socket id.
	var hello domain.Envelope
	conn.SetReadDeadline(time.Now().Add(config.HandshakeTimeout))
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read connected frame: %w", err)
	}
	if hello.Event != domain.EventConnected || hello.SocketID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", hello.Event)
	}
	c.socketID = hello.SocketID
	conn.SetReadDeadline(time.Now().Add(config.PongTimeout))

	go c.readLoop()

	logger.Infow("signaling channel connected", "socket", c.socketID)
	return c, nil
}

func (c *Client) SocketID() domain.SocketID { return c.socketID }

func (c *Client) Emit(ctx context.Context, env domain.Envelope) error {
	select {
	case <-c.done:
		return domain.ErrChannelNotReady
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to emit %s: %w", env.Event, err)
	}
	return nil
}

func (c *Client) On(event domain.Event, handler func(domain.Envelope)) {
	c.handlerMu.Lock()
	c.handlers[event] = handler
	c.handlerMu.Unlock()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warnw("signaling channel read failed", "error", err)
				c.Close()
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		if env.Event == domain.EventError {
			c.logger.Warnw("signaling server error", "message", env.Error)
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env domain.Envelope) {
	c.handlerMu.RLock()
	handler := c.handlers[env.Event]
	c.handlerMu.RUnlock()

	if handler == nil {
		c.logger.Debugw("unhandled event", "event", env.Event)
		return
	}
	handler(env)
}

var _ ports.SignalChannel = (*Client)(nil)
