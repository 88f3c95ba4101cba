package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/orderbook"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second

	// DefaultReconnectDelay is the base delay before the first reconnect attempt.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultMaxReconnectDelay caps the exponential backoff.
	DefaultMaxReconnectDelay = 60 * time.Second

	// DefaultMaxReconnectAttempts bounds consecutive failed reconnects before
	// the client gives up.
	DefaultMaxReconnectAttempts = 10
)

// State is the connection lifecycle state of the client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// SnapshotHandler receives each decoded orderbook snapshot.
type SnapshotHandler func(domain.OrderbookSnapshot)

// StateHandler is notified on every connection state transition.
type StateHandler func(State)

// Stats reports observable client counters.
type Stats struct {
	State           State
	MessageCount    int64
	BytesReceived   int64
	ReconnectCount  int64
	LastMessageTime time.Time
}

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	// SubscribePayload, when set, is sent as a text message after every
	// successful connect.
	SubscribePayload []byte
}

func (o *Options) applyDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
}

// Client is a WebSocket client for an L2 orderbook feed. It manages the
// connection lifecycle, decodes each message into a snapshot, and dispatches
// it to registered handlers. On disconnect it reconnects with exponential
// backoff; after too many consecutive failures it shuts down with a fatal
// error observable via Err.
type Client struct {
	wsURL  string
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	state  State
	closed bool
	err    error

	handlerMu     sync.RWMutex
	handlers      []SnapshotHandler
	stateHandlers []StateHandler

	statsMu sync.Mutex
	stats   Stats

	done chan struct{}
}

// NewClient creates a client for the given feed endpoint.
func NewClient(wsURL string, opts Options, logger *slog.Logger) *Client {
	opts.applyDefaults()
	return &Client{
		wsURL:  wsURL,
		opts:   opts,
		logger: logger.With(slog.String("component", "feed")),
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
}

// OnSnapshot registers a handler called for every decoded snapshot.
func (c *Client) OnSnapshot(h SnapshotHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers = append(c.handlers, h)
}

// OnStateChange registers a handler notified on state transitions.
func (c *Client) OnStateChange(h StateHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. A failed initial dial enters the same backoff loop used after a
// dropped connection, so a transient outage at startup does not abort the
// client; an error is returned only once the retry budget is spent or ctx
// ends.
func (c *Client) Connect(ctx context.Context) error {
	err := c.connect(ctx)
	if err == nil {
		return nil
	}
	c.logger.Warn("initial connect failed, retrying with backoff",
		slog.String("error", err.Error()))
	return c.retry(ctx)
}

// connect performs a single dial, subscribe, and loop start.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("feed: client closed: %w", domain.ErrConnectionFailed)
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return fmt.Errorf("feed: connect %s: %v: %w", c.wsURL, err, domain.ErrConnectionFailed)
	}

	c.mu.Lock()
	c.conn = conn
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if len(c.opts.SubscribePayload) > 0 {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, c.opts.SubscribePayload); err != nil {
			conn.Close()
			c.mu.Lock()
			c.conn = nil
			c.setStateLocked(StateDisconnected)
			c.mu.Unlock()
			return fmt.Errorf("feed: subscribe: %v: %w", err, domain.ErrConnectionFailed)
		}
	}

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Info("feed connected", slog.String("url", c.wsURL))
	return nil
}

// Close shuts down the connection and stops all loops.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	c.setStateLocked(StateDisconnected)

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return c.conn.Close()
	}
	return nil
}

// Done is closed when the client has shut down, either via Close or after
// exhausting reconnect attempts.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports the fatal error that terminated the client, if any.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns a copy of the client counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := c.stats
	s.State = c.State()
	return s
}

// setStateLocked transitions the state and notifies handlers. Caller holds c.mu.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.handlerMu.RLock()
	handlers := c.stateHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		msgType, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("feed read failed", slog.String("error", err.Error()))
			c.reconnect()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handleMessage(message)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(raw []byte) {
	now := time.Now()

	c.statsMu.Lock()
	c.stats.MessageCount++
	c.stats.BytesReceived += int64(len(raw))
	c.stats.LastMessageTime = now
	c.statsMu.Unlock()

	snap, err := orderbook.ParseMessage(raw, now)
	if err != nil {
		// Control frames like pongs and subscription acks land here too,
		// so keep the noise at debug.
		c.logger.Debug("feed message dropped", slog.String("error", err.Error()))
		return
	}

	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		c.dispatch(h, snap)
	}
}

// dispatch invokes a handler, recovering panics so a bad consumer cannot
// kill the read loop.
func (c *Client) dispatch(h SnapshotHandler, snap domain.OrderbookSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("snapshot handler panicked", slog.Any("panic", r))
		}
	}()
	h(snap)
}

// backoffDelay computes the reconnect delay for the given 1-based attempt.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.opts.ReconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.opts.MaxReconnectDelay {
			return c.opts.MaxReconnectDelay
		}
	}
	if delay > c.opts.MaxReconnectDelay {
		delay = c.opts.MaxReconnectDelay
	}
	return delay
}

// retry re-establishes the connection with exponential backoff. It returns
// nil once connected, ctx.Err() if ctx ends first, and ErrConnectionFailed
// after MaxReconnectAttempts consecutive failures or when the client is
// closed mid-retry.
func (c *Client) retry(ctx context.Context) error {
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		delay := c.backoffDelay(attempt)
		c.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))

		select {
		case <-c.done:
			return fmt.Errorf("feed: client closed: %w", domain.ErrConnectionFailed)
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		err := c.connect(dialCtx)
		cancel()

		if err == nil {
			c.statsMu.Lock()
			c.stats.ReconnectCount++
			c.statsMu.Unlock()
			return nil
		}
		c.logger.Warn("reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}

	return fmt.Errorf("feed: gave up after %d reconnect attempts: %w",
		c.opts.MaxReconnectAttempts, domain.ErrConnectionFailed)
}

// reconnect runs the retry loop after a dropped connection. On exhaustion
// the client shuts down with a fatal error observable via Err.
func (c *Client) reconnect() {
	c.mu.Lock()
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if err := c.retry(context.Background()); err != nil {
		c.fail(err)
	}
}

// fail marks the client terminally broken and releases Done waiters.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.logger.Error("feed shut down", slog.String("error", err.Error()))
}

// SubscribeCommand builds the standard subscription payload for an exchange
// L2 books channel.
func SubscribeCommand(symbol string) []byte {
	cmd := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "books", "instId": symbol},
		},
	}
	data, _ := json.Marshal(cmd)
	return data
}
