// Package socketio is a minimal Socket.IO client for the legacy
// engine.io v3 dialect Volumio speaks: websocket transport only, no
// polling fallback, automatic reconnection with bounded backoff. The
// session layer observes the lifecycle notifications; it never runs a
// retry loop of its own.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	defaultReconnectWait    = 3 * time.Second
	defaultReconnectWaitMax = 30 * time.Second
	defaultPingInterval     = 25 * time.Second
	writeWait               = 10 * time.Second
	handshakeReadWait       = 10 * time.Second
)

// Handler receives the raw JSON arguments of one inbound event.
type Handler func(args []json.RawMessage)

// Options tune a Client. Zero values take the documented defaults.
type Options struct {
	ReconnectWait    time.Duration // backoff floor, default 3s
	ReconnectWaitMax time.Duration // backoff cap, default 30s
	Dialer           *websocket.Dialer
	Logger           *slog.Logger
}

// Client is one persistent event connection. Event handlers and
// lifecycle callbacks run serially on the connection's reader
// goroutine.
type Client struct {
	wsURL  string
	opts   Options
	logger *slog.Logger

	mu             sync.Mutex
	handlers       map[string]Handler
	onConnect      func()
	onDisconnect   func()
	onReconnecting func(attempt int)
	onError        func(err error)
	conn           *websocket.Conn
	open           bool
	started        bool
	cancel         context.CancelFunc
	done           chan struct{}

	writeMu sync.Mutex
}

// New prepares a client for the Socket.IO endpoint of baseURL
// (http://host:port). The connection is not opened until Connect.
func New(baseURL string, opts Options) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("base URL must include a host")
	}
	parsed.Path = "/socket.io/"
	parsed.RawQuery = "EIO=3&transport=websocket"

	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = defaultReconnectWait
	}
	if opts.ReconnectWaitMax <= 0 {
		opts.ReconnectWaitMax = defaultReconnectWaitMax
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		wsURL:    parsed.String(),
		opts:     opts,
		logger:   logger,
		handlers: map[string]Handler{},
		done:     make(chan struct{}),
	}, nil
}

// URL returns the websocket endpoint the client dials.
func (c *Client) URL() string {
	return c.wsURL
}

// On registers the handler for an inbound event, replacing any previous
// one.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// OnConnect registers the transport-open callback.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// OnDisconnect registers the transport-close callback. It fires only
// for sessions that had opened.
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnReconnecting registers the callback fired before each reconnect
// attempt.
func (c *Client) OnReconnecting(fn func(attempt int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnecting = fn
}

// OnError registers the transport error callback. Errors are not fatal;
// the reconnect loop keeps running until Close.
func (c *Client) OnError(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// RemoveAllHandlers drops every event handler and lifecycle callback.
func (c *Client) RemoveAllHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = map[string]Handler{}
	c.onConnect = nil
	c.onDisconnect = nil
	c.onReconnecting = nil
	c.onError = nil
}

// Connect starts the connection loop. Calling it again on a started or
// closed client is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
}

// Close stops the connection loop and closes the transport. Safe to
// call repeatedly and before Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if started && cancel != nil {
		<-c.done
	}
	return nil
}

// Emit sends an event, fire-and-forget: when the socket is not open the
// event is dropped silently.
func (c *Client) Emit(event string, args ...any) {
	c.mu.Lock()
	conn := c.conn
	open := c.open
	c.mu.Unlock()
	if conn == nil || !open {
		c.logger.Debug("socketio_emit_dropped", slog.String("event", event))
		return
	}

	frame, err := encodeEvent(event, args...)
	if err != nil {
		c.logger.Warn("socketio_encode_failed", slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	c.write(conn, frame)
}

func (c *Client) write(conn *websocket.Conn, frame []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Debug("socketio_write_failed", slog.String("error", err.Error()))
	}
}

// run dials, reads, and backs off until the context is cancelled. The
// backoff resets after every session that reached the open state.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ReconnectWait
	policy.MaxInterval = c.opts.ReconnectWaitMax
	policy.MaxElapsedTime = 0
	policy.Reset()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		opened, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.notifyError(err)
		}
		if opened {
			policy.Reset()
			attempt = 0
		}

		attempt++
		c.notifyReconnecting(attempt)

		wait := policy.NextBackOff()
		c.logger.Debug("socketio_reconnect_wait",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session runs one dial/handshake/read cycle. It reports whether the
// socket reached the open state.
func (c *Client) session(ctx context.Context) (bool, error) {
	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return false, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	pingInterval, err := c.awaitHandshake(conn)
	if err != nil {
		_ = conn.Close()
		return false, err
	}

	c.mu.Lock()
	if c.cancel == nil { // closed while dialing
		c.mu.Unlock()
		_ = conn.Close()
		return false, nil
	}
	c.conn = conn
	c.mu.Unlock()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn, pingInterval)

	opened := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardownConn(conn, opened)
			if errors.Is(err, context.Canceled) {
				return opened, nil
			}
			return opened, fmt.Errorf("read: %w", err)
		}

		kind, body := decodeFrame(data)
		switch kind {
		case frameConnect:
			opened = true
			c.setOpen(true)
			c.logger.Debug("socketio_open")
			c.notifyConnect()
		case framePing:
			pong := append([]byte{enginePacketPong}, body...)
			c.write(conn, pong)
		case frameClose, frameDisconnect:
			c.teardownConn(conn, opened)
			return opened, nil
		case frameEvent:
			event, err := decodeEvent(body)
			if err != nil {
				c.logger.Debug("socketio_bad_event", slog.String("error", err.Error()))
				continue
			}
			c.dispatch(event)
		case frameError:
			c.notifyError(fmt.Errorf("server error: %s", string(body)))
		}
	}
}

// awaitHandshake reads the engine.io open packet.
func (c *Client) awaitHandshake(conn *websocket.Conn) (time.Duration, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeReadWait))
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	_, data, err := conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("handshake read: %w", err)
	}
	kind, body := decodeFrame(data)
	if kind != frameOpen {
		return 0, fmt.Errorf("expected open packet, got %q", string(data))
	}
	hs, err := decodeHandshake(body)
	if err != nil {
		return 0, err
	}

	interval := time.Duration(hs.PingInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultPingInterval
	}
	return interval, nil
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.write(conn, []byte{enginePacketPing})
		}
	}
}

func (c *Client) teardownConn(conn *websocket.Conn, opened bool) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.open = false
	}
	c.mu.Unlock()
	if opened {
		c.notifyDisconnect()
	}
}

func (c *Client) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *Client) dispatch(event *eventPacket) {
	c.mu.Lock()
	handler := c.handlers[event.Name]
	c.mu.Unlock()
	if handler == nil {
		c.logger.Debug("socketio_event_unhandled", slog.String("event", event.Name))
		return
	}
	handler(event.Args)
}

func (c *Client) notifyConnect() {
	c.mu.Lock()
	fn := c.onConnect
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) notifyDisconnect() {
	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) notifyReconnecting(attempt int) {
	c.mu.Lock()
	fn := c.onReconnecting
	c.mu.Unlock()
	if fn != nil {
		fn(attempt)
	}
}

func (c *Client) notifyError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
