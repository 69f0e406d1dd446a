package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/constants"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/transport"
)

// Validator checks a credential against the collaborator.
type Validator interface {
	Validate(ctx context.Context, credential string) (models.Identity, error)
}

// Handler receives every inbound envelope in arrival order. It runs on
// the session's read goroutine and must not block.
type Handler func(transport.Envelope)

// StateListener is told about connectivity changes. err is set for
// StateError.
type StateListener func(state State, err error)

type options struct {
	Logger         *zap.Logger
	Clock          clock.Clock
	ConnectTimeout time.Duration
	Handler        Handler
	OnState        StateListener
	OnAuthRequired func(error)
	Metrics        *sessionMetrics
}

// Option configures a Manager.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:         zap.NewNop(),
		Clock:          clock.Real(),
		ConnectTimeout: constants.ConnectTimeout,
		Metrics:        globalSessionMetrics(),
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

// WithClock sets the clock used for credential expiry checks.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.Clock = c }
}

// WithConnectTimeout bounds validation plus dialing.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ConnectTimeout = d
		}
	}
}

// WithHandler sets the inbound event sink.
func WithHandler(h Handler) Option {
	return func(o *options) { o.Handler = h }
}

// WithStateListener registers a connectivity listener.
func WithStateListener(fn StateListener) Option {
	return func(o *options) { o.OnState = fn }
}

// WithAuthRequired registers the "require login" signal. It fires after
// the stored credential has been cleared.
func WithAuthRequired(fn func(error)) Option {
	return func(o *options) { o.OnAuthRequired = fn }
}

// Manager owns the realtime session of one identity.
type Manager struct {
	dialer    transport.Dialer
	validator Validator
	creds     CredentialStore
	opts      options

	flight singleflight.Group

	mu      sync.Mutex
	current *Session
}

// NewManager wires a manager. Nothing connects until Connect or GetSession.
func NewManager(dialer transport.Dialer, validator Validator, creds CredentialStore, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{dialer: dialer, validator: validator, creds: creds, opts: o}
}

// Connect validates credential and opens a session with it, replacing any
// current session opened with another credential. The credential is
// kept in the store when the store can write.
func (m *Manager) Connect(ctx context.Context, credential string) (*Session, error) {
	credential = strings.TrimSpace(credential)
	if s := m.Current(); s != nil && s.Credential() == credential {
		return s, nil
	}
	s, err := m.coalesce(ctx, "connect:"+credential, true, func() (string, error) { return credential, nil })
	if err != nil {
		if m.Current() != nil {
			// The previous session is still up.
			m.setState(StateConnected, nil)
		}
		return nil, err
	}
	if w, ok := m.creds.(CredentialWriter); ok {
		if werr := w.Set(credential); werr != nil {
			m.opts.Logger.Error("session: store credential failed", zap.Error(werr))
		}
	}
	return s, nil
}

// GetSession returns the connected session, connecting with the stored
// credential when there is none. Concurrent callers share one attempt.
func (m *Manager) GetSession(ctx context.Context) (*Session, error) {
	if s := m.Current(); s != nil {
		return s, nil
	}
	return m.coalesce(ctx, "connect", false, m.creds.Credential)
}

// Current returns the connected session or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.State() == StateConnected {
		return m.current
	}
	return nil
}

// Disconnect leaves the active room and closes the transport. Safe to
// call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.close(nil)
	m.setState(StateDisconnected, nil)
	m.opts.Logger.Info("session: disconnected")
}

func (m *Manager) coalesce(ctx context.Context, key string, replace bool, credential func() (string, error)) (*Session, error) {
	ch := m.flight.DoChan(key, func() (any, error) {
		// The attempt outlives any single waiter; the timeout bounds it.
		return m.connect(context.WithoutCancel(ctx), replace, credential)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, &apierrors.TransportError{Op: "connect", Err: ctx.Err()}
	}
}

func (m *Manager) connect(ctx context.Context, replace bool, credential func() (string, error)) (*Session, error) {
	if s := m.Current(); s != nil && !replace {
		return s, nil
	}
	cred, err := credential()
	if err != nil {
		m.opts.Metrics.recordConnect("no_credential")
		return nil, fmt.Errorf("session: %w", err)
	}
	if s := m.Current(); s != nil && s.Credential() == cred {
		return s, nil
	}
	if cred == "" {
		m.opts.Metrics.recordConnect("no_credential")
		return nil, fmt.Errorf("session: %w", apierrors.ErrNoCredential)
	}
	if err := checkExpiry(cred, m.opts.Clock.Now()); err != nil {
		return nil, m.authFailed(err, !replace)
	}

	m.setState(StateConnecting, nil)
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	identity, err := m.validator.Validate(ctx, cred)
	if err != nil {
		if apierrors.IsAuth(err) {
			return nil, m.authFailed(err, !replace)
		}
		return nil, m.transportFailed(ctx, "validate", err)
	}

	conn, err := m.dialer.Dial(ctx, cred)
	if err != nil {
		if apierrors.IsAuth(err) {
			return nil, m.authFailed(err, !replace)
		}
		return nil, m.transportFailed(ctx, "dial", err)
	}

	s := newSession(conn, identity, cred, m.opts.Logger)
	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()
	if prev != nil {
		prev.close(nil)
	}

	go m.readLoop(s)

	m.opts.Metrics.recordConnect("success")
	m.setState(StateConnected, nil)
	m.opts.Logger.Info("session: connected",
		zap.String("user_id", string(identity.ID)),
		zap.String("role", identity.Role))
	return s, nil
}

func (m *Manager) readLoop(s *Session) {
	for {
		env, err := s.conn.Receive(context.Background())
		if err == nil {
			if m.opts.Handler != nil {
				m.opts.Handler(env)
			}
			continue
		}
		if errors.Is(err, apierrors.ErrMalformedEvent) {
			m.opts.Logger.Warn("session: dropped malformed frame", zap.Error(err))
			continue
		}

		m.mu.Lock()
		owned := m.current == s
		if owned {
			m.current = nil
		}
		m.mu.Unlock()
		if !owned {
			// Replaced or deliberately disconnected.
			return
		}

		cause := &apierrors.TransportError{Op: "receive", Err: err}
		s.close(cause)
		m.setState(StateError, cause)
		m.opts.Logger.Warn("session: transport lost", zap.Error(err))
		return
	}
}

// authFailed reports a rejected credential. stored says it came from the
// credential store, which is then cleared.
func (m *Manager) authFailed(err error, stored bool) error {
	m.opts.Metrics.recordConnect("auth_failed")
	if stored {
		if clearErr := m.creds.Clear(); clearErr != nil {
			m.opts.Logger.Error("session: clear credential failed", zap.Error(clearErr))
		}
	}
	m.setState(StateDisconnected, err)
	m.opts.Logger.Warn("session: credential rejected", zap.Error(err))
	if m.opts.OnAuthRequired != nil {
		m.opts.OnAuthRequired(err)
	}
	return err
}

func (m *Manager) transportFailed(ctx context.Context, op string, err error) error {
	m.opts.Metrics.recordConnect("transport_failed")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = &apierrors.TransportError{
			Op:  op,
			Err: fmt.Errorf("no connection within %s: %w", m.opts.ConnectTimeout, err),
		}
	}
	var te *apierrors.TransportError
	if !errors.As(err, &te) {
		err = &apierrors.TransportError{Op: op, Err: err}
	}
	m.setState(StateError, err)
	return err
}

func (m *Manager) setState(s State, err error) {
	m.opts.Metrics.recordState(s)
	if m.opts.OnState != nil {
		m.opts.OnState(s, err)
	}
}
