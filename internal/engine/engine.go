// Package engine runs the sync core: one event loop that serializes
// every mutation of the ticket store and the chat logs, the intents
// views dispatch, and the reconnect supervisor.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/chat"
	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/constants"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/notifications"
	"github.com/goatkit/ticketsync/internal/router"
	"github.com/goatkit/ticketsync/internal/session"
	"github.com/goatkit/ticketsync/internal/store"
	"github.com/goatkit/ticketsync/internal/transport"
)

// ErrStopped is returned by intents after Run has returned.
var ErrStopped = errors.New("engine: stopped")

// Collaborator is the REST backend the engine persists through.
type Collaborator interface {
	store.Source
	Accept(ctx context.Context, id models.TicketID) error
	Reject(ctx context.Context, id models.TicketID) error
	Close(ctx context.Context, id models.TicketID, reason string, reassignTo models.UserID) error
	Reassign(ctx context.Context, id models.TicketID, target models.UserID) error
	Reopen(ctx context.Context, id models.TicketID) error
	MarkRead(ctx context.Context, id models.TicketID) error
	UnreadCount(ctx context.Context, id models.TicketID) (int, error)
}

// Connector hands out the realtime session.
type Connector interface {
	GetSession(ctx context.Context) (*session.Session, error)
	Current() *session.Session
}

// Snapshotter keeps the last successfully fetched ticket table.
type Snapshotter interface {
	Save(ctx context.Context, tickets []models.Ticket) error
	Load(ctx context.Context) ([]models.Ticket, error)
}

type options struct {
	logger     *zap.Logger
	clock      clock.Clock
	timeout    time.Duration
	backoffMax time.Duration
	hub        notifications.Hub
	snapshots  Snapshotter
	self       models.UserID
}

// Option configures an Engine.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:     zap.NewNop(),
		clock:      clock.Real(),
		timeout:    constants.InactivityTimeout,
		backoffMax: constants.ReconnectMaxDelay,
		hub:        notifications.NewMemoryHub(),
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the time source for every timer.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithInactivityTimeout sets the chat inactivity timeout.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBackoffMax caps the reconnect delay.
func WithBackoffMax(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.backoffMax = d
		}
	}
}

// WithNotifications sets the notification feed.
func WithNotifications(h notifications.Hub) Option {
	return func(o *options) {
		if h != nil {
			o.hub = h
		}
	}
}

// WithSnapshots enables the last-known-state fallback.
func WithSnapshots(s Snapshotter) Option {
	return func(o *options) { o.snapshots = s }
}

// WithSelf sets the acting staff id used until a session is connected.
func WithSelf(id models.UserID) Option {
	return func(o *options) { o.self = id }
}

// Engine owns the store, the chat synchronizer and the router.
type Engine struct {
	opts    options
	backend Collaborator
	source  *store.CoalescingSource
	store   *store.Store
	chat    *chat.Synchronizer
	router  *router.Router
	queue   *queue

	// Loop-confined. Events that arrive while a fetch is in flight are
	// held and routed after its result was seeded.
	fetching int
	held     []transport.Envelope

	connMu sync.RWMutex
	conn   Connector

	ctx    context.Context
	cancel context.CancelFunc

	runMu   sync.Mutex
	running bool
	stopped chan struct{}
}

// New wires an engine around backend. Call SetConnector before Run when
// a realtime session is available.
func New(backend Collaborator, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:    o,
		backend: backend,
		source:  store.NewCoalescingSource(backend),
		store:   store.New(store.WithLogger(o.logger)),
		queue:   newQueue(),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	e.chat = chat.New(e.store, e.source, e.post,
		chat.WithLogger(o.logger),
		chat.WithClock(o.clock),
		chat.WithInactivityTimeout(o.timeout),
		chat.WithReadMarker(backend),
		chat.WithTimeoutHandler(e.inactive),
		chat.WithHistoryHandler(e.historyLoaded),
	)
	e.router = router.New(e.store, e.chat,
		router.WithLogger(o.logger),
		router.WithClock(o.clock),
		router.WithNotifications(o.hub),
		router.WithSelf(e.Self),
		router.WithInconsistencyHandler(e.repair),
		router.WithRefetchHandler(func() { go e.refreshInBackground() }),
		router.WithMissingTicketHandler(func(id models.TicketID) { e.repair(id, nil) }),
	)
	return e
}

// SetConnector attaches the realtime connection manager.
func (e *Engine) SetConnector(c Connector) {
	e.connMu.Lock()
	e.conn = c
	e.connMu.Unlock()
}

func (e *Engine) connector() Connector {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return e.conn
}

// Store returns the ticket store. It is safe to read from any goroutine.
func (e *Engine) Store() *store.Store { return e.store }

// Notifications returns the notification feed.
func (e *Engine) Notifications() notifications.Hub { return e.opts.hub }

// Subscribe registers a view for updates.
func (e *Engine) Subscribe(f router.Filter, fn func(router.Update)) *router.Subscription {
	return e.router.Subscribe(f, fn)
}

// Self returns the signed-in staff id.
func (e *Engine) Self() models.UserID {
	if c := e.connector(); c != nil {
		if s := c.Current(); s != nil {
			return s.Identity().ID
		}
	}
	return e.opts.self
}

// Handle queues an inbound realtime envelope for routing. It is the
// session manager's handler and never blocks.
func (e *Engine) Handle(env transport.Envelope) {
	e.post(func() { e.route(env) })
}

func (e *Engine) route(env transport.Envelope) {
	if e.fetching > 0 {
		e.held = append(e.held, env)
		return
	}
	_ = e.router.Route(e.ctx, env.Event, env.Data)
}

func (e *Engine) beginFetch() { e.fetching++ }

// endFetch routes the held events once no fetch is left in flight. A
// fetch started by one of them holds the rest again.
func (e *Engine) endFetch() {
	if e.fetching > 0 {
		e.fetching--
	}
	for e.fetching == 0 && len(e.held) > 0 {
		env := e.held[0]
		e.held[0] = transport.Envelope{}
		e.held = e.held[1:]
		_ = e.router.Route(e.ctx, env.Event, env.Data)
	}
}

// Run drains the event loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return errors.New("engine: already running")
	}
	e.running = true
	e.runMu.Unlock()

	defer func() {
		e.cancel()
		close(e.stopped)
	}()

	e.opts.logger.Info("engine: started")
	for {
		for {
			f, ok := e.queue.pop()
			if !ok {
				break
			}
			f()
		}
		select {
		case <-ctx.Done():
			e.opts.logger.Info("engine: stopped")
			return ctx.Err()
		case <-e.queue.wake:
		}
	}
}

func (e *Engine) post(f func()) { e.queue.push(f) }

// Do runs fn on the event loop and waits for it.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	e.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}
