package signal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"callroom/native/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultPingInterval = 20 * time.Second
	writeWait           = 5 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithPingInterval sets how often a WebSocket ping is sent.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Client manages the WebSocket connection to the signaling relay.
// It carries no call logic: it connects, sends frames and dispatches
// received frames to at most one handler per event type.
type Client struct {
	dialer       *websocket.Dialer
	pingInterval time.Duration
	sessionID    string
	logger       zerolog.Logger

	mu   sync.Mutex // serializes writes
	conn *websocket.Conn

	hmu         sync.RWMutex
	handlers    map[domain.EventType]func(domain.SignalMessage)
	onConnected func()
	onError     func(error)

	started   atomic.Bool
	connected atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a signaling client. Call Connect to dial.
func NewClient(opts ...Option) *Client {
	sid := uuid.NewString()
	c := &Client{
		dialer:       websocket.DefaultDialer,
		pingInterval: defaultPingInterval,
		sessionID:    sid,
		logger:       log.With().Str("component", "signal").Str("sid", sid).Logger(),
		handlers:     make(map[domain.EventType]func(domain.SignalMessage)),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnConnected registers the callback fired once the socket is open.
func (c *Client) OnConnected(fn func()) {
	c.hmu.Lock()
	c.onConnected = fn
	c.hmu.Unlock()
}

// OnError registers the callback fired when dialing fails or the socket
// closes without Disconnect having been called. Errors wrap domain.ErrSignaling.
func (c *Client) OnError(fn func(error)) {
	c.hmu.Lock()
	c.onError = fn
	c.hmu.Unlock()
}

// On registers the handler for an inbound event type, replacing any previous one.
func (c *Client) On(event domain.EventType, handler func(domain.SignalMessage)) {
	if !event.Inbound() {
		c.logger.Warn().Str("event", string(event)).Msg("ignoring handler for outbound-only event")
		return
	}
	c.hmu.Lock()
	c.handlers[event] = handler
	c.hmu.Unlock()
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect validates endpoint and dials it in the background. Completion is
// reported through OnConnected or OnError; Send fails until then.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: parse endpoint: %v", domain.ErrSignaling, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("%w: unsupported endpoint scheme %q", domain.ErrSignaling, u.Scheme)
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: connect called twice", domain.ErrSignaling)
	}

	go c.dial(ctx, u.String())
	return nil
}

func (c *Client) dial(ctx context.Context, endpoint string) {
	c.logger.Info().Str("endpoint", endpoint).Msg("connecting")

	header := http.Header{}
	header.Set("X-Client-Session", c.sessionID)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if c.isClosed() {
			return
		}
		c.fireError(fmt.Errorf("%w: websocket dial: %v", domain.ErrSignaling, err))
		return
	}

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connected.Store(true)
	c.mu.Unlock()

	c.logger.Info().Msg("connected")

	c.hmu.RLock()
	fn := c.onConnected
	c.hmu.RUnlock()
	if fn != nil {
		fn()
	}

	go c.readLoop(conn)
	go c.pingLoop(conn)
}

// Disconnect closes the socket and drops all handlers. Safe to call more than once.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.connected.Store(false)

		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			c.conn.Close()
		}
		c.mu.Unlock()

		c.hmu.Lock()
		c.handlers = make(map[domain.EventType]func(domain.SignalMessage))
		c.onConnected = nil
		c.onError = nil
		c.hmu.Unlock()

		c.logger.Info().Msg("disconnected")
	})
}

// Send writes msg to the relay. Delivery is not acknowledged.
func (c *Client) Send(msg domain.SignalMessage) error {
	if !c.connected.Load() {
		return domain.ErrNotConnected
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.isClosed() {
		return domain.ErrNotConnected
	}
	c.logger.Debug().Str("event", string(msg.Type)).Msg(">>>")
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn().Err(err).Str("event", string(msg.Type)).Msg("write error")
		return fmt.Errorf("%w: write %s: %v", domain.ErrSignaling, msg.Type, err)
	}
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) fireError(err error) {
	c.hmu.RLock()
	fn := c.onError
	c.hmu.RUnlock()

	c.logger.Error().Err(err).Msg("signaling failure")
	if fn != nil {
		fn(err)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.connected.Store(false)
			c.fireError(fmt.Errorf("%w: connection lost: %v", domain.ErrSignaling, err))
			c.Disconnect()
			return
		}

		msg, err := Decode(data)
		if err != nil {
			// malformed SDP and ICE are the session's to reject
			if !msg.Type.Negotiation() {
				c.logger.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			c.logger.Warn().Err(err).Msg("malformed negotiation frame")
		}
		c.logger.Debug().Str("event", string(msg.Type)).Msg("<<<")
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg domain.SignalMessage) {
	c.hmu.RLock()
	h := c.handlers[msg.Type]
	c.hmu.RUnlock()

	if h == nil {
		c.logger.Debug().Str("event", string(msg.Type)).Msg("unhandled event")
		return
	}
	h(msg)
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				if !c.isClosed() {
					c.logger.Warn().Err(err).Msg("ping error")
				}
				return
			}
		}
	}
}
