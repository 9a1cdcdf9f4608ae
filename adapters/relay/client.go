package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/layer-3/onerecurr/adapters/metrics"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
	"github.com/sirupsen/logrus"
)

const (
	DefaultURL               = "wss://clearnet-sandbox.yellow.com/ws"
	DefaultMaxAttempts       = 5
	DefaultBaseDelay         = time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
)

// Config tunes the connection policy.
type Config struct {
	URL               string
	MaxAttempts       int
	BaseDelay         time.Duration
	HeartbeatInterval time.Duration
	// HeartbeatTimeout drops the connection when nothing is read for this long. Zero disables it.
	HeartbeatTimeout time.Duration
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the sandbox relay settings.
func DefaultConfig() Config {
	return Config{
		URL:               DefaultURL,
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HandshakeTimeout:  DefaultHandshakeTimeout,
	}
}

// Backoff returns the delay before reconnection attempt n (1-based): base * 2^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type subscription struct {
	once sync.Once
	fn   func()
}

func (s *subscription) Unsubscribe() { s.once.Do(s.fn) }

// Client keeps a WebSocket to the relay open, reconnecting with exponential backoff.
// Messages sent while disconnected are queued and flushed in order on the next connect.
type Client struct {
	cfg    Config
	dialer Dialer
	log    logrus.FieldLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	status   core.ConnectionStatus
	attempts int
	stopped  bool
	timer    *time.Timer
	queue    [][]byte
	// gen changes on every Connect and Disconnect; a dial that finishes
	// under an older generation is discarded.
	gen uint64

	nextID     uint64
	handlers   map[uint64]func(core.RelayFrame)
	statusSubs map[uint64]func(prev, next core.ConnectionStatus)

	// scheduled observes every reconnect delay; used by tests.
	scheduled func(attempt int, delay time.Duration)
}

var _ ports.Relay = (*Client)(nil)

// NewClient creates a disconnected client.
func NewClient(cfg Config, dialer Dialer, log logrus.FieldLogger) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		cfg:        cfg,
		dialer:     dialer,
		log:        log.WithField("component", "relay"),
		status:     core.StatusDisconnected,
		handlers:   make(map[uint64]func(core.RelayFrame)),
		statusSubs: make(map[uint64]func(prev, next core.ConnectionStatus)),
	}
}

// Connect dials the relay. It is a no-op while connected or connecting.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != core.StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.stopped = false
	c.gen++
	gen := c.gen
	notify := c.setStatusLocked(core.StatusConnecting)
	c.mu.Unlock()
	notify()

	return c.dial(ctx, gen)
}

// Reconnect resets the attempt counter and connects. It is the only way out of
// the terminal state reached after MaxAttempts failures.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.attempts = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Disconnect closes the connection, drops queued messages and suppresses reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	c.gen++
	c.attempts = c.cfg.MaxAttempts
	c.queue = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.detachLocked()
	notify := c.setStatusLocked(core.StatusDisconnected)
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		c.log.Info("disconnected from relay")
	}
	notify()
}

// Send writes v (a []byte, string or JSON-marshalable value) or queues it when not connected.
func (c *Client) Send(v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != core.StatusConnected || c.conn == nil {
		c.queue = append(c.queue, data)
		metrics.RelayMessage("queued")
		c.log.WithField("queued", len(c.queue)).Warn("connection not ready, queuing message")
		return nil
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	metrics.RelayMessage("sent")
	return nil
}

// Subscribe registers fn for every inbound frame.
func (c *Client) Subscribe(fn func(core.RelayFrame)) ports.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers[id] = fn
	return &subscription{fn: func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}}
}

// OnStatus registers fn for connection status transitions.
func (c *Client) OnStatus(fn func(prev, next core.ConnectionStatus)) ports.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.statusSubs[id] = fn
	return &subscription{fn: func() {
		c.mu.Lock()
		delete(c.statusSubs, id)
		c.mu.Unlock()
	}}
}

// Status returns the current connection status.
func (c *Client) Status() core.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.Status() == core.StatusConnected
}

// Attempts returns the number of reconnection attempts since the last successful connect.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Queued returns the number of messages waiting for a connection.
func (c *Client) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	c.log.WithField("url", c.cfg.URL).Info("connecting to relay")
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)

	c.mu.Lock()
	if c.stopped || c.gen != gen {
		// Disconnect, or Disconnect then Connect, raced with the dial.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return core.ErrNotConnected
	}
	if err != nil {
		notify := c.setStatusLocked(core.StatusDisconnected)
		c.mu.Unlock()
		notify()
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.conn = conn
	c.done = make(chan struct{})
	c.attempts = 0
	notify := c.setStatusLocked(core.StatusConnected)

	if n := len(c.queue); n > 0 {
		c.log.WithField("count", n).Info("flushing queued messages")
	}
	for len(c.queue) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, c.queue[0]); err != nil {
			c.log.WithError(err).Warn("failed to flush queued message")
			break
		}
		metrics.RelayMessage("sent")
		c.queue = c.queue[1:]
	}
	done := c.done
	c.mu.Unlock()

	c.log.Info("connected to relay")
	notify()

	go c.readLoop(conn)
	go c.heartbeat(conn, done)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		if c.cfg.HeartbeatTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		metrics.RelayMessage("received")

		frame, err := Parse(data)
		if err != nil {
			c.log.WithError(err).Warn("failed to parse relay message")
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame core.RelayFrame) {
	c.mu.Lock()
	handlers := make([]func(core.RelayFrame), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		c.safeCall(func() { h(frame) })
	}
}

func (c *Client) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("relay handler panicked")
		}
	}()
	fn()
}

func (c *Client) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ping, _ := json.Marshal(map[string]any{"type": "ping", "timestamp": time.Now().UnixMilli()})
			c.mu.Lock()
			if c.conn == conn && c.status == core.StatusConnected {
				if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
					c.log.WithError(err).Warn("failed to send heartbeat")
				}
			}
			c.mu.Unlock()
		}
	}
}

// handleClose runs when the read loop ends; it schedules a reconnect unless the
// close was requested or attempts are exhausted.
func (c *Client) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	notify := c.setStatusLocked(core.StatusDisconnected)
	stopped := c.stopped
	c.mu.Unlock()

	conn.Close()
	c.log.WithError(cause).Warn("relay connection closed")
	notify()

	if !stopped {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxAttempts {
		c.mu.Unlock()
		c.log.WithError(core.ErrMaxReconnectAttempts).Error("giving up on relay")
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := Backoff(c.cfg.BaseDelay, attempt)
	c.timer = time.AfterFunc(delay, c.reconnectAttempt)
	observe := c.scheduled
	c.mu.Unlock()

	metrics.RelayReconnectScheduled()
	c.log.WithFields(logrus.Fields{
		"attempt": attempt,
		"max":     c.cfg.MaxAttempts,
		"delay":   delay,
	}).Info("reconnecting")
	if observe != nil {
		observe(attempt, delay)
	}
}

func (c *Client) reconnectAttempt() {
	c.mu.Lock()
	if c.stopped || c.status != core.StatusDisconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	gen := c.gen
	notify := c.setStatusLocked(core.StatusConnecting)
	c.mu.Unlock()
	notify()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()
	err := c.dial(ctx, gen)
	if errors.Is(err, core.ErrNotConnected) {
		return
	}
	if err != nil {
		c.log.WithError(err).Warn("reconnection failed")
		c.scheduleReconnect()
	}
}

// detachLocked forgets the current connection and stops its heartbeat.
func (c *Client) detachLocked() {
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.conn = nil
}

// setStatusLocked updates the status and returns a func that notifies
// listeners; call it after releasing c.mu.
func (c *Client) setStatusLocked(next core.ConnectionStatus) func() {
	prev := c.status
	if prev == next {
		return func() {}
	}
	c.status = next
	metrics.RelayStatus(next)

	subs := make([]func(prev, next core.ConnectionStatus), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			c.safeCall(func() { fn(prev, next) })
		}
	}
}

func encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	case json.RawMessage:
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
