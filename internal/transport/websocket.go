package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/constants"
)

type options struct {
	Logger           *zap.Logger
	Clock            clock.Clock
	Attempts         int
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Option configures a WebSocketDialer.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:           zap.NewNop(),
		Clock:            clock.Real(),
		Attempts:         constants.DialAttempts,
		RetryDelay:       constants.DialRetryDelay,
		HandshakeTimeout: constants.HandshakeTimeout,
		WriteTimeout:     constants.WriteTimeout,
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithClock replaces the clock used between dial attempts.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.Clock = c }
}

// WithRetry sets how many dial attempts are made and the pause between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.Attempts = attempts
		}
		o.RetryDelay = delay
	}
}

// WithHandshakeTimeout bounds a single websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.HandshakeTimeout = d }
}

// WebSocketDialer dials the realtime endpoint, retrying a bounded number
// of times before reporting a TransportError.
type WebSocketDialer struct {
	url    string
	opts   options
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer for rawURL (ws:// or wss://).
func NewWebSocketDialer(rawURL string, opts ...Option) *WebSocketDialer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &WebSocketDialer{
		url:  rawURL,
		opts: o,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		},
	}
}

// Dial connects with credential passed both as bearer header and as the
// token query parameter the collaborator's socket server reads.
func (d *WebSocketDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	target, err := url.Parse(d.url)
	if err != nil {
		return nil, &apierrors.TransportError{Op: "dial", Err: err}
	}
	q := target.Query()
	q.Set("token", credential)
	target.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	var lastErr error
	for attempt := 1; attempt <= d.opts.Attempts; attempt++ {
		ws, resp, err := d.dialer.DialContext(ctx, target.String(), header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			d.opts.Logger.Debug("transport: connected", zap.Int("attempt", attempt))
			return newWSConn(ws, d.opts.WriteTimeout), nil
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &apierrors.AuthError{Reason: "realtime handshake rejected", Err: err}
		}
		lastErr = err
		d.opts.Logger.Warn("transport: dial failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.opts.Attempts),
			zap.Error(err))

		if attempt == d.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &apierrors.TransportError{Op: "dial", Err: ctx.Err()}
		case <-d.opts.Clock.After(d.opts.RetryDelay):
		}
	}
	return nil, &apierrors.TransportError{
		Op:  "dial",
		Err: fmt.Errorf("gave up after %d attempts: %w", d.opts.Attempts, lastErr),
	}
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout, closed: make(chan struct{})}
}

// Wrap adapts an established websocket connection, for example one
// accepted by a websocket.Upgrader.
func Wrap(ws *websocket.Conn) Conn {
	return newWSConn(ws, constants.WriteTimeout)
}

func (c *wsConn) Send(ctx context.Context, event string, payload any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", event, err)
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", event, err)
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return &apierrors.TransportError{Op: "send", Err: err}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &apierrors.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return Envelope{}, &apierrors.TransportError{Op: "receive", Err: err}
	}
	for {
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return Envelope{}, ErrClosed
			default:
			}
			return Envelope{}, &apierrors.TransportError{Op: "receive", Err: err}
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
			return Envelope{}, fmt.Errorf("%w: bad envelope", apierrors.ErrMalformedEvent)
		}
		return env, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
