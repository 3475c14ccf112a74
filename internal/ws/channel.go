// Package ws implements the real-time private chat channel.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"chat-client/internal/observability"
)

const writeTimeout = 10 * time.Second

// ErrClosed is reported when the channel was closed by its owner.
var ErrClosed = errors.New("channel closed")

// ErrClosedByServer is passed to OnGiveUp when the server ends the session
// with a normal closure. The channel does not reconnect after it.
var ErrClosedByServer = errors.New("channel closed by server")

// Options configures a Channel.
type Options struct {
	BaseURL              string
	Token                string
	FriendID             int64
	UserID               int64
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	PongTimeout          time.Duration
	HandshakeTimeout     time.Duration
}

// Callbacks receive lifecycle events. They run on the channel's goroutines
// and must not block for long.
type Callbacks struct {
	OnOpen      func()
	OnMessage   func(data []byte)
	OnClose     func(code int, reason string)
	OnError     func(err error)
	OnReconnect func(attempt int)
	// OnGiveUp fires once when the channel stops for a reason other than
	// Close: reconnect attempts ran out or the server closed normally.
	OnGiveUp func(err error)
}

// Channel is a private chat WebSocket connection that reconnects with
// exponential backoff until MaxReconnectAttempts consecutive failures.
type Channel struct {
	opts   Options
	cb     Callbacks
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	info    ConnInfo
	started bool
	closed  bool

	writeMu sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

// NewChannel builds a channel for the conversation with opts.FriendID.
func NewChannel(opts Options, cb Callbacks, logger *zap.Logger) (*Channel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	target, err := BuildURL(opts.BaseURL, opts.FriendID, opts.Token)
	if err != nil {
		return nil, err
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = 30 * time.Second
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	return &Channel{
		opts: opts,
		cb:   cb,
		url:  target,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger:  logger.With(zap.Int64("friend_id", opts.FriendID)),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// BuildURL returns the private chat endpoint for friendID. A "Bearer " prefix
// on token is stripped; http(s) bases are mapped to ws(s).
func BuildURL(base string, friendID int64, token string) (string, error) {
	if friendID <= 0 {
		return "", fmt.Errorf("invalid friend id %d", friendID)
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse ws base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported ws scheme %q", u.Scheme)
	}
	u.Path += "/api/v1/ws/private/" + strconv.FormatInt(friendID, 10)

	q := u.Query()
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect starts the connection loop. It returns immediately; progress is
// reported through the callbacks.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run(ctx)
}

// Send writes v as a JSON text frame. It returns false when the channel is not
// open or the write fails; the caller then uses the fallback client.
func (c *Channel) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("ws marshal failed", zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("ws write failed", zap.Error(err))
		c.emitError(err)
		_ = conn.Close()
		return false
	}
	return true
}

// Connected reports whether a connection is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Done is closed once the connection loop has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.stopped
}

// Close sends a normal closure and stops reconnecting. It is safe to call
// more than once and from callbacks.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	started := c.started
	close(c.done)
	c.mu.Unlock()

	if !started {
		close(c.stopped)
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInterval
	b.MaxInterval = c.opts.MaxReconnectInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.opts.MaxReconnectAttempts))
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.stopped)

	bo := c.newBackOff()
	attempt := 0
	for {
		conn, info, err := c.dial(ctx, attempt)
		if err == nil {
			attempt = 0
			bo.Reset()
			code := c.serve(ctx, conn, info)
			if c.isClosed() || ctx.Err() != nil {
				return
			}
			if code == websocket.CloseNormalClosure {
				c.logger.Info("ws closed by server")
				c.giveUp(ctx, attempt, ErrClosedByServer)
				return
			}
			err = fmt.Errorf("connection lost (code %d)", code)
		} else {
			if c.isClosed() || ctx.Err() != nil {
				return
			}
			c.logger.Warn("ws dial failed", zap.Int("attempt", attempt), zap.Error(err))
			c.emitError(err)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Warn("ws giving up", zap.Int("attempts", attempt), zap.Error(err))
			c.giveUp(ctx, attempt, err)
			return
		}
		attempt++
		if c.cb.OnReconnect != nil {
			c.cb.OnReconnect(attempt)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-c.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (c *Channel) giveUp(ctx context.Context, attempt int, err error) {
	observability.PublishWSEvent(ctx, observability.WSEvent{
		Event:    "ws_give_up",
		FriendID: c.opts.FriendID,
		UserID:   c.opts.UserID,
		Attempt:  attempt,
		Reason:   err.Error(),
	})
	if c.cb.OnGiveUp != nil {
		c.cb.OnGiveUp(err)
	}
}

func (c *Channel) dial(ctx context.Context, attempt int) (*websocket.Conn, ConnInfo, error) {
	ctx, span := observability.Tracer().Start(ctx, "ws.connect")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat.friend_id", c.opts.FriendID),
		attribute.Int("ws.attempt", attempt),
	)

	header := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		if resp != nil {
			return nil, ConnInfo{}, fmt.Errorf("ws handshake: %s: %w", resp.Status, err)
		}
		return nil, ConnInfo{}, fmt.Errorf("ws dial: %w", err)
	}

	info := newConnInfo(c.opts.FriendID, c.opts.UserID, attempt, span.SpanContext().TraceID().String())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ConnInfo{}, ErrClosed
	}
	c.conn = conn
	c.info = info
	c.mu.Unlock()
	return conn, info, nil
}

// serve runs one open connection until it fails and returns the close code.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn, info ConnInfo) int {
	observability.SetWSConnected(true)
	observability.PublishWSEvent(ctx, observability.WSEvent{
		Event:    "ws_connect",
		FriendID: info.FriendID,
		UserID:   info.UserID,
		ConnID:   info.ConnID,
		Attempt:  info.Attempt,
		TraceID:  info.TraceID,
	})
	c.logger.Info("ws connected", zap.String("conn_id", info.ConnID), zap.Int("attempt", info.Attempt))
	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	readTimeout := c.opts.HeartbeatInterval + c.opts.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	stopPing := make(chan struct{})
	go c.ping(conn, stopPing)

	code, reason := websocket.CloseAbnormalClosure, ""
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			} else {
				reason = err.Error()
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(data)
		}
	}
	close(stopPing)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closedByOwner := c.closed
	c.mu.Unlock()
	_ = conn.Close()

	if closedByOwner {
		code, reason = websocket.CloseNormalClosure, "client closed"
	}

	observability.SetWSConnected(false)
	event := "ws_disconnect"
	if code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway {
		event = "ws_error"
	}
	observability.PublishWSEvent(ctx, observability.WSEvent{
		Event:      event,
		FriendID:   info.FriendID,
		UserID:     info.UserID,
		ConnID:     info.ConnID,
		DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
		Reason:     reason,
		TraceID:    info.TraceID,
	})
	c.logger.Info("ws disconnected", zap.String("conn_id", info.ConnID), zap.Int("code", code), zap.String("reason", reason))
	if c.cb.OnClose != nil {
		c.cb.OnClose(code, reason)
	}
	return code
}

func (c *Channel) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ws ping failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Channel) emitError(err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}
