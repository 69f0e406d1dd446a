// Package router is the event fan-out router. It turns inbound realtime
// events into store and chat mutations and tells the subscribed views,
// once per event, what changed.
//
// Route must be called from the engine's event loop. Subscribe and
// Unsubscribe are safe from any goroutine; callbacks run on the loop
// and must not block.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/guregu/null/v5"
	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/constants"
	"github.com/goatkit/ticketsync/internal/events"
	"github.com/goatkit/ticketsync/internal/history"
	"github.com/goatkit/ticketsync/internal/lifecycle"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/notifications"
	"github.com/goatkit/ticketsync/internal/store"
)

// Chat is the part of the chat synchronizer the router drives.
type Chat interface {
	Append(id models.TicketID, m models.ChatMessage) bool
	AppendSystem(id models.TicketID, body string) bool
	RejectPending(id models.TicketID) bool
	Viewing() (models.TicketID, bool)
	Reevaluate()
}

type options struct {
	logger          *zap.Logger
	clock           clock.Clock
	hub             notifications.Hub
	self            func() models.UserID
	window          int
	onInconsistency func(models.TicketID, error)
	onRefetch       func()
	onMissing       func(models.TicketID)
}

// Option configures a Router.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger: zap.NewNop(),
		clock:  clock.Real(),
		self:   func() models.UserID { return "" },
		window: constants.EventDedupeWindow,
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

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithNotifications sets the feed new tickets and handovers go to.
func WithNotifications(h notifications.Hub) Option {
	return func(o *options) { o.hub = h }
}

// WithSelf reports the signed-in staff id, used to pick the handovers
// that concern this process.
func WithSelf(fn func() models.UserID) Option {
	return func(o *options) {
		if fn != nil {
			o.self = fn
		}
	}
}

// WithDedupeWindow sets how many event identities are remembered.
func WithDedupeWindow(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.window = n
		}
	}
}

// WithInconsistencyHandler is called after an event was dropped because
// its precondition did not hold.
func WithInconsistencyHandler(fn func(models.TicketID, error)) Option {
	return func(o *options) { o.onInconsistency = fn }
}

// WithRefetchHandler is called when an event asks for a full refetch.
func WithRefetchHandler(fn func()) Option {
	return func(o *options) { o.onRefetch = fn }
}

// WithMissingTicketHandler is called when chat traffic arrives for a
// ticket the store does not know yet.
func WithMissingTicketHandler(fn func(models.TicketID)) Option {
	return func(o *options) { o.onMissing = fn }
}

// Router routes decoded events.
type Router struct {
	store    *store.Store
	chat     Chat
	opts     options
	seen     *window
	subs     *subscribers
	metrics  *routerMetrics
	expected map[string]int
}

// New returns a Router mutating st and chat.
func New(st *store.Store, chat Chat, opts ...Option) *Router {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Router{
		store:    st,
		chat:     chat,
		opts:     o,
		seen:     newWindow(o.window),
		subs:     newSubscribers(),
		metrics:  globalRouterMetrics(),
		expected: make(map[string]int),
	}
}

// Expect records that this process already applied name to id and the
// collaborator will echo it back. The echo is absorbed instead of being
// reported as an inconsistency. Like Route, it must run on the loop.
func (r *Router) Expect(name events.Name, id models.TicketID) {
	r.expected[expectKey(name, id)]++
}

// Unexpect withdraws an Expect whose change was rolled back.
func (r *Router) Unexpect(name events.Name, id models.TicketID) {
	r.consume(expectKey(name, id))
}

func (r *Router) consume(key string) bool {
	n, ok := r.expected[key]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(r.expected, key)
	} else {
		r.expected[key] = n - 1
	}
	return true
}

func expectKey(name events.Name, id models.TicketID) string {
	return string(name) + "|" + string(id)
}

// Subscribe registers fn for the updates f selects.
func (r *Router) Subscribe(f Filter, fn func(Update)) *Subscription {
	return r.subs.add(f, fn)
}

// Subscribers returns the number of registered subscriptions.
func (r *Router) Subscribers() int { return r.subs.len() }

// Publish delivers u to every matching subscriber exactly once. Local
// intents use it to announce their own mutations.
func (r *Router) Publish(u Update) {
	for _, sub := range r.subs.matching(u.TicketID) {
		sub.fn(u)
	}
}

// Route decodes and applies one inbound event. Unknown and malformed
// events are logged and returned as errors; nothing is applied for
// them. A failed precondition is logged, reported to the inconsistency
// handler and returned as a *apierrors.StateInconsistency.
func (r *Router) Route(ctx context.Context, name string, payload []byte) error {
	ev, err := events.Decode(name, payload)
	if err != nil {
		label := name
		if errors.Is(err, apierrors.ErrUnknownEvent) {
			label = ""
		}
		r.metrics.recordEvent(label, "rejected")
		r.opts.logger.Warn("router: event rejected", zap.String("event", name), zap.Error(err))
		return err
	}

	if stamp := ev.Stamp(); stamp != "" {
		key := fmt.Sprintf("%s|%s|%s", ev.Name(), ev.Ticket(), stamp)
		if r.seen.add(key) {
			r.metrics.recordEvent(string(ev.Name()), "duplicate")
			r.opts.logger.Debug("router: duplicate event", zap.String("event", name), zap.String("ticket_id", string(ev.Ticket())))
			return nil
		}
	}

	err = r.apply(ctx, ev)
	r.chat.Reevaluate()

	var inc *apierrors.StateInconsistency
	echo := r.consume(expectKey(ev.Name(), ev.Ticket()))
	switch {
	case echo && errors.As(err, &inc):
		r.metrics.recordEvent(string(ev.Name()), "duplicate")
		r.opts.logger.Debug("router: local change echoed", zap.String("event", name), zap.String("ticket_id", string(ev.Ticket())))
		return nil
	case errors.As(err, &inc):
		r.metrics.recordEvent(string(ev.Name()), "inconsistent")
		r.metrics.recordInconsistency(inc.Transition)
		r.opts.logger.Warn("router: state inconsistency",
			zap.String("event", name),
			zap.String("ticket_id", inc.TicketID),
			zap.String("transition", inc.Transition),
			zap.String("status", inc.Status),
			zap.String("detail", inc.Detail))
		if r.opts.onInconsistency != nil {
			r.opts.onInconsistency(ev.Ticket(), err)
		}
	case err != nil:
		r.metrics.recordEvent(string(ev.Name()), "rejected")
		r.opts.logger.Warn("router: event rejected", zap.String("event", name), zap.Error(err))
	default:
		r.metrics.recordEvent(string(ev.Name()), "applied")
	}
	return err
}

func (r *Router) apply(ctx context.Context, ev events.Event) error {
	id := ev.Ticket()
	switch e := ev.(type) {
	case events.NewTicket:
		return r.newTicket(ctx, e)
	case events.TicketAccepted:
		return r.transition(e, lifecycle.Accept(e.MemberID), "")
	case events.TicketRejected:
		return r.transition(e, lifecycle.Reject(), "")
	case events.TicketClosed:
		return r.transition(e, lifecycle.Close(e.Reason, e.ReassignedTo), history.ClosedMessage(e.Reason, e.ReassignedTo))
	case events.TicketReopened:
		return r.transition(e, lifecycle.Reopen(), history.ReopenedMessage())
	case events.TicketReassigned:
		return r.reassigned(ctx, e)
	case events.ChatInactive:
		// The local watchdog may already have closed it.
		if t, ok := r.store.Get(id); ok && t.Status == models.StatusClosed {
			return nil
		}
		tr := lifecycle.InactivityTimeout(r.opts.clock.Now(), 0, e.Reason)
		return r.transition(e, tr, history.InactiveMessage(tr.Reason))
	case events.TicketInactive:
		if t, ok := r.store.Get(id); ok && t.Status == models.StatusClosed {
			return nil
		}
		return r.transition(e, lifecycle.Deactivate(), history.MarkedInactiveMessage(e.Reason))
	case events.ServerError:
		return r.serverError(e)
	case events.Message:
		return r.message(e)
	case events.StatusUpdate:
		return r.statusUpdate(e)
	case events.ReassignmentNotification:
		r.notify(ctx, notifications.Notification{
			TicketID: id,
			Kind:     notifications.KindReassigned,
			Message:  e.Message,
			Category: e.Category,
			Priority: e.Priority,
		})
		t, _ := r.store.Get(id)
		r.Publish(Update{Event: e.Name(), TicketID: id, Ticket: t})
		return nil
	}
	return fmt.Errorf("%w: %q", apierrors.ErrUnknownEvent, ev.Name())
}

func (r *Router) transition(ev events.Event, tr lifecycle.Transition, system string) error {
	id := ev.Ticket()
	_, after, changed, err := r.store.Apply(id, tr)
	if err != nil || !changed {
		return err
	}
	if system != "" {
		r.chat.AppendSystem(id, system)
	}
	r.Publish(Update{Event: ev.Name(), TicketID: id, Ticket: after})
	return nil
}

func (r *Router) newTicket(ctx context.Context, e events.NewTicket) error {
	id := e.Ticket()
	patch := models.TicketPatch{ID: id}
	if _, known := r.store.Get(id); !known {
		open := models.StatusOpen
		patch.Status = &open
	}
	if e.Category != "" {
		patch.Category = &e.Category
	}
	if e.Priority != "" {
		patch.Priority = &e.Priority
	}
	if e.Subject != "" {
		patch.Subject = &e.Subject
	}
	t := r.store.Upsert(patch)
	r.notify(ctx, notifications.Notification{
		TicketID: id,
		Kind:     notifications.KindNewTicket,
		Message:  "New ticket received",
		Category: e.Category,
		Priority: e.Priority,
	})
	r.Publish(Update{Event: e.Name(), TicketID: id, Ticket: t})
	return nil
}

func (r *Router) reassigned(ctx context.Context, e events.TicketReassigned) error {
	id := e.Ticket()
	t, ok := r.store.Get(id)
	// A close with handover already recorded the target.
	if ok && t.Status == models.StatusClosed && t.ReassignedTo.UserID() == e.AssignedTo {
		return nil
	}
	if err := r.transition(e, lifecycle.Reassign(e.AssignedTo), history.ReassignedMessage(e.MemberName, e.AssignedTo)); err != nil {
		return err
	}
	if self := r.opts.self(); self != "" && self == e.AssignedTo {
		r.notify(ctx, notifications.Notification{
			TicketID: id,
			Kind:     notifications.KindReassigned,
			Message:  "Ticket reassigned to you",
		})
	}
	return nil
}

func (r *Router) message(e events.Message) error {
	id := e.Ticket()
	if id == "" {
		viewing, ok := r.chat.Viewing()
		if !ok {
			return fmt.Errorf("%w: message: no ticket_id and no open stream", apierrors.ErrMalformedEvent)
		}
		id = viewing
	}
	m := e.Message
	m.TicketID = id
	if m.Timestamp.IsZero() {
		m.Timestamp = r.opts.clock.Now()
	}
	prev, known := r.store.Get(id)
	known = known && prev.Status != ""
	if !r.chat.Append(id, m) {
		return nil
	}
	if !known && r.opts.onMissing != nil {
		r.opts.onMissing(id)
	}
	t, _ := r.store.Get(id)
	r.Publish(Update{Event: e.Name(), TicketID: id, Ticket: t, Message: &m})
	return nil
}

// serverError drops the send the server refused from the open stream,
// or from the named ticket when the payload carries one.
func (r *Router) serverError(e events.ServerError) error {
	r.opts.logger.Warn("router: server error", zap.String("ticket_id", string(e.Ticket())), zap.String("message", e.Message))
	id := e.Ticket()
	if id == "" {
		viewing, ok := r.chat.Viewing()
		if !ok {
			return nil
		}
		id = viewing
	}
	if !r.chat.RejectPending(id) {
		return nil
	}
	t, _ := r.store.Get(id)
	r.Publish(Update{Event: e.Name(), TicketID: id, Ticket: t})
	return nil
}

func (r *Router) statusUpdate(e events.StatusUpdate) error {
	if e.Refetch() {
		if r.opts.onRefetch != nil {
			r.opts.onRefetch()
		}
		return nil
	}
	id := e.Ticket()
	if prev, ok := r.store.Get(id); ok && prev.Status == e.Status {
		return nil
	}
	status := e.Status
	patch := models.TicketPatch{ID: id, Status: &status}
	if status != models.StatusClosed {
		cleared := null.String{}
		none := models.NullID{}
		patch.ClosureReason = &cleared
		patch.ReassignedTo = &none
	}
	t := r.store.Upsert(patch)
	r.Publish(Update{Event: e.Name(), TicketID: id, Ticket: t})
	return nil
}

func (r *Router) notify(ctx context.Context, n notifications.Notification) {
	if r.opts.hub == nil {
		return
	}
	if n.At.IsZero() {
		n.At = r.opts.clock.Now()
	}
	if err := r.opts.hub.Dispatch(ctx, n); err != nil {
		r.opts.logger.Warn("router: notification dropped", zap.String("ticket_id", string(n.TicketID)), zap.Error(err))
	}
}
