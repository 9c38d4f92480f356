package client

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ConnState is the lifecycle state of the dashboard stream connection.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateDisconnected ConnState = "disconnected"
)

// Label returns the human-readable form shown next to the indicator.
func (s ConnState) Label() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Online"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "Offline"
	}
}

const (
	defaultPingInterval = 30 * time.Second
	defaultBaseBackoff  = 1 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultMaxAttempts  = 10
)

// StreamClient owns one websocket connection to the dashboard stream.
// It reconnects with capped exponential backoff on unexpected closes,
// keeps the connection alive with periodic pings, and delivers inbound
// envelopes in receive order. It knows nothing about warehouse
// semantics.
type StreamClient struct {
	baseURL string
	token   string

	pingInterval time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxAttempts  int
	onConnect    func()

	mu       sync.RWMutex
	state    ConnState
	attempts int
	conn     *websocket.Conn
	lastMsg  *Envelope
	started  bool

	msgs   chan Envelope
	states chan ConnState

	ctx    context.Context
	cancel context.CancelFunc
	closed sync.Once
	done   chan struct{}
}

// StreamOption configures a StreamClient.
type StreamOption func(*StreamClient)

// WithStreamToken sets the bearer token for the websocket handshake.
func WithStreamToken(token string) StreamOption {
	return func(c *StreamClient) {
		c.token = token
	}
}

// WithConnectHook runs fn each time a connection opens, after the
// state flips to connected and before the connection's first read.
// Anything fn arms is therefore in place ahead of every message that
// connection delivers.
func WithConnectHook(fn func()) StreamOption {
	return func(c *StreamClient) {
		c.onConnect = fn
	}
}

// WithPingInterval overrides the liveness ping cadence.
func WithPingInterval(d time.Duration) StreamOption {
	return func(c *StreamClient) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithBackoff overrides the reconnect policy. Shortened in tests.
func WithBackoff(base, max time.Duration, maxAttempts int) StreamOption {
	return func(c *StreamClient) {
		if base > 0 {
			c.baseBackoff = base
		}
		if max > 0 {
			c.maxBackoff = max
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

// NewStreamClient creates a stream client for the given server base URL.
// Connect must be called to start it.
func NewStreamClient(baseURL string, opts ...StreamOption) *StreamClient {
	c := &StreamClient{
		baseURL:      baseURL,
		pingInterval: defaultPingInterval,
		baseBackoff:  defaultBaseBackoff,
		maxBackoff:   defaultMaxBackoff,
		maxAttempts:  defaultMaxAttempts,
		state:        StateConnecting,
		msgs:         make(chan Envelope, 64),
		states:       make(chan ConnState, 16),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect starts the connection-management goroutine. Exactly one
// logical connection attempt is ever in flight: calling Connect while
// the client is already running is a no-op.
func (c *StreamClient) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run()
}

// State returns the current connection state.
func (c *StreamClient) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts returns the reconnect attempts fired since the last
// successful open.
func (c *StreamClient) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// LastMessage returns the most recently received envelope, or nil.
func (c *StreamClient) LastMessage() *Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMsg
}

// Messages is the inbound feed. It is closed when the client shuts
// down, after the last received envelope has been delivered.
func (c *StreamClient) Messages() <-chan Envelope {
	return c.msgs
}

// States delivers connection state transitions. Slow consumers lose
// intermediate transitions, never the feed itself.
func (c *StreamClient) States() <-chan ConnState {
	return c.states
}

// Send writes a message on the live connection and reports whether the
// write happened. A missing or dead connection is logged, not an error:
// transport trouble is surfaced through State only.
func (c *StreamClient) Send(ctx context.Context, v any) bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		log.Printf("stream: send skipped, no live connection")
		return false
	}
	if err := wsjson.Write(ctx, conn, v); err != nil {
		log.Printf("stream: send failed: %v", err)
		return false
	}
	return true
}

// Close tears the client down: pending reconnect and ping timers are
// cancelled, the live connection (if any) is closed, and the message
// feed is closed. Safe to call from any state, any number of times.
func (c *StreamClient) Close() {
	c.closed.Do(func() {
		c.mu.Lock()
		if !c.started {
			// Never connected; nothing is running.
			c.started = true
			c.state = StateDisconnected
			c.mu.Unlock()
			close(c.msgs)
			close(c.states)
			return
		}
		cancel := c.cancel
		c.mu.Unlock()
		cancel()
		<-c.done
	})
}

// run is the single connection-management loop. It dials, pumps
// messages until the connection drops, then backs off and retries up
// to the attempt ceiling.
func (c *StreamClient) run() {
	defer func() {
		c.setState(StateDisconnected)
		close(c.msgs)
		close(c.states)
		close(c.done)
	}()

	for {
		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			log.Printf("stream: dial failed: %v", err)
			if !c.backoff() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempts = 0
		c.mu.Unlock()
		c.setState(StateConnected)
		if c.onConnect != nil {
			// Synchronous on purpose: nothing from this connection is
			// read until the hook returns.
			c.onConnect()
		}

		connCtx, stopPing := context.WithCancel(c.ctx)
		go c.pingLoop(connCtx)

		err = c.readLoop(conn)
		stopPing()
		conn.Close(websocket.StatusNormalClosure, "")

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.ctx.Err() != nil {
			return
		}
		log.Printf("stream: connection lost: %v", err)
		c.setState(StateDisconnected)
		if !c.backoff() {
			return
		}
	}
}

func (c *StreamClient) dial() (*websocket.Conn, error) {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return nil, err
	}
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + c.token},
		}
	}
	dialCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, opts)
	return conn, err
}

// readLoop pumps one connection until it fails. Payloads that are not
// valid envelopes are logged and dropped without touching the
// connection.
func (c *StreamClient) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("stream: malformed message dropped: %v", err)
			continue
		}
		c.mu.Lock()
		c.lastMsg = &env
		c.mu.Unlock()
		select {
		case c.msgs <- env:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

func (c *StreamClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Send(ctx, map[string]string{"type": "ping"})
		}
	}
}

// backoff waits min(base*2^attempts, max) then increments the attempt
// counter. Returns false when the ceiling is reached or the client is
// shutting down; the caller then stays disconnected for good.
func (c *StreamClient) backoff() bool {
	c.mu.RLock()
	attempts := c.attempts
	c.mu.RUnlock()

	if attempts >= c.maxAttempts {
		log.Printf("stream: max reconnect attempts (%d) reached", c.maxAttempts)
		return false
	}

	delay := c.baseBackoff << attempts
	if delay > c.maxBackoff || delay <= 0 {
		delay = c.maxBackoff
	}
	c.setState(StateReconnecting)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
	}

	// The attempt is firing now; only now does it count.
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()
	return true
}

func (c *StreamClient) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	select {
	case c.states <- s:
	default:
	}
}

func (c *StreamClient) buildWSURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/dashboard"
	return u.String(), nil
}

// NextDelay reports the backoff delay that would precede the reconnect
// attempt after `attempts` failed ones, per min(base*2^n, max).
func NextDelay(base, max time.Duration, attempts int) time.Duration {
	delay := base << attempts
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
