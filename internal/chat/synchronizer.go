// Package chat is the chat stream synchronizer: per-ticket message logs,
// unread bookkeeping and the inactivity watchdog of the open stream.
//
// A Synchronizer is confined to the engine's event loop. Every method
// except those documented otherwise must be called from that loop; work
// that blocks runs on its own goroutine and hands its result back
// through the post function.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/constants"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/store"
)

// Rooms is the part of a realtime session a stream needs.
type Rooms interface {
	Join(ctx context.Context, id models.TicketID) error
	Leave(ctx context.Context, id models.TicketID) error
}

// HistorySource loads a ticket's message history.
type HistorySource interface {
	ListMessages(ctx context.Context, id models.TicketID) ([]models.ChatMessage, error)
}

// ReadMarker tells the collaborator a ticket has been read.
type ReadMarker interface {
	MarkRead(ctx context.Context, id models.TicketID) error
}

// StreamOptions configures an open stream.
type StreamOptions struct {
	// ReadOnly streams never arm the inactivity watchdog.
	ReadOnly bool
}

type options struct {
	logger    *zap.Logger
	clock     clock.Clock
	timeout   time.Duration
	reader    ReadMarker
	onTimeout func(models.TicketID)
	onHistory func(models.TicketID, error)
}

// Option configures a Synchronizer.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:  zap.NewNop(),
		clock:   clock.Real(),
		timeout: constants.InactivityTimeout,
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

// WithClock sets the time source of the watchdog.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithInactivityTimeout sets how long an assigned chat may stay idle.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithReadMarker sets where read receipts are sent.
func WithReadMarker(r ReadMarker) Option {
	return func(o *options) { o.reader = r }
}

// WithTimeoutHandler is called, on the loop, when the open stream's
// watchdog expires.
func WithTimeoutHandler(fn func(models.TicketID)) Option {
	return func(o *options) { o.onTimeout = fn }
}

// WithHistoryHandler is called, on the loop, when a history fetch for
// the open stream completes.
func WithHistoryHandler(fn func(models.TicketID, error)) Option {
	return func(o *options) { o.onHistory = fn }
}

// Synchronizer owns every chat log of the process and the one open stream.
type Synchronizer struct {
	store  *store.Store
	source HistorySource
	post   func(func())
	opts   options

	logs map[models.TicketID]*Log

	viewing  models.TicketID
	readOnly bool
	rooms    Rooms

	fetchGen    uint64
	cancelFetch context.CancelFunc

	watch watchdog
}

type watchdog struct {
	ticket models.TicketID
	timer  *clock.Timer
	token  uint64
	// fired stays set until the ticket leaves assigned.
	fired bool
}

// New returns a Synchronizer writing to st. post schedules a function
// onto the event loop.
func New(st *store.Store, source HistorySource, post func(func()), opts ...Option) *Synchronizer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Synchronizer{
		store:  st,
		source: source,
		post:   post,
		opts:   o,
		logs:   make(map[models.TicketID]*Log),
	}
}

func (s *Synchronizer) log(id models.TicketID) *Log {
	l, ok := s.logs[id]
	if !ok {
		l = newLog(id)
		s.logs[id] = l
	}
	return l
}

// Viewing returns the ticket of the open stream.
func (s *Synchronizer) Viewing() (models.TicketID, bool) {
	return s.viewing, s.viewing != ""
}

// ReadOnly reports whether the open stream is read only.
func (s *Synchronizer) ReadOnly() bool { return s.readOnly }

// Messages returns a copy of id's log.
func (s *Synchronizer) Messages(id models.TicketID) []models.ChatMessage {
	l, ok := s.logs[id]
	if !ok {
		return nil
	}
	return l.Messages()
}

// Loaded reports whether id's history has been fetched.
func (s *Synchronizer) Loaded(id models.TicketID) bool {
	l, ok := s.logs[id]
	return ok && l.Loaded()
}

// OpenStream makes id the open stream: it joins the ticket's room,
// which leaves the previous one, starts a history fetch unless the log
// is already loaded and marks the ticket read. A history fetch still
// running for another ticket is cancelled and its result dropped.
func (s *Synchronizer) OpenStream(ctx context.Context, rooms Rooms, id models.TicketID, so StreamOptions) error {
	if rooms != nil {
		if err := rooms.Join(ctx, id); err != nil {
			return err
		}
	}
	if s.viewing != id {
		s.stopFetch()
		s.disarm()
		s.watch = watchdog{ticket: id}
	}
	s.viewing = id
	s.readOnly = so.ReadOnly
	s.rooms = rooms
	s.log(id)

	if !s.Loaded(id) && s.cancelFetch == nil {
		s.fetchHistory(ctx, id)
	}
	s.MarkRead(ctx, id)
	s.Reevaluate()
	s.opts.logger.Debug("chat: stream opened", zap.String("ticket_id", string(id)), zap.Bool("read_only", so.ReadOnly))
	return nil
}

// CloseStream leaves the open stream's room and stops its watchdog.
func (s *Synchronizer) CloseStream(ctx context.Context) error {
	if s.viewing == "" {
		return nil
	}
	id, rooms := s.viewing, s.rooms
	s.stopFetch()
	s.disarm()
	s.watch = watchdog{}
	s.viewing, s.readOnly, s.rooms = "", false, nil
	if rooms != nil {
		return rooms.Leave(ctx, id)
	}
	return nil
}

// Rejoin joins the open stream's room on a new session after a reconnect.
func (s *Synchronizer) Rejoin(ctx context.Context, rooms Rooms) error {
	if s.viewing == "" || rooms == nil {
		return nil
	}
	s.rooms = rooms
	return rooms.Join(ctx, s.viewing)
}

func (s *Synchronizer) fetchHistory(ctx context.Context, id models.TicketID) {
	s.fetchGen++
	gen := s.fetchGen
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelFetch = cancel

	go func() {
		msgs, err := s.source.ListMessages(fctx, id)
		s.post(func() {
			if gen != s.fetchGen || s.viewing != id {
				s.opts.logger.Debug("chat: dropped stale history", zap.String("ticket_id", string(id)))
				return
			}
			s.cancelFetch = nil
			cancel()
			if err != nil {
				s.opts.logger.Warn("chat: history fetch failed", zap.String("ticket_id", string(id)), zap.Error(err))
			} else {
				s.log(id).PrependHistory(msgs)
			}
			if s.opts.onHistory != nil {
				s.opts.onHistory(id, err)
			}
		})
	}()
}

func (s *Synchronizer) stopFetch() {
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.fetchGen++
}

// Append adds m to id's log. A server echo of a pending local send
// confirms it in place. It reports whether the log changed.
//
// A new non-system message moves lastMessageAt to the local arrival
// time and counts as unread unless id is the open stream, in which case
// the unread count is reset and the watchdog restarted.
func (s *Synchronizer) Append(id models.TicketID, m models.ChatMessage) bool {
	l := s.log(id)
	if !m.IsSystem && !m.Pending && l.Confirm(m) {
		s.store.Touch(id, models.TimeFrom(s.opts.clock.Now()))
		return true
	}
	if !l.Append(m) {
		return false
	}
	if m.IsSystem {
		return true
	}
	s.store.Touch(id, models.TimeFrom(s.opts.clock.Now()))
	if id == s.viewing {
		s.store.SetUnread(id, 0)
		s.Activity()
	} else {
		s.store.IncrementUnread(id, 1)
	}
	return true
}

// AppendSystem adds a synthetic lifecycle message to id's log when the
// log has been loaded. Logs that were never opened stay empty so the
// later history fetch is not preceded by local text.
func (s *Synchronizer) AppendSystem(id models.TicketID, body string) bool {
	l, ok := s.logs[id]
	if !ok || !l.Loaded() {
		return false
	}
	return l.Append(models.ChatMessage{
		ID:        models.MessageID(uuid.NewString()),
		TicketID:  id,
		Body:      body,
		Timestamp: s.opts.clock.Now(),
		IsSystem:  true,
	})
}

// AppendLocal adds a pending message sent by sender from this process
// and returns it. The server echo confirms it.
func (s *Synchronizer) AppendLocal(id models.TicketID, sender models.UserID, body string) models.ChatMessage {
	m := models.ChatMessage{
		ClientID:  uuid.NewString(),
		TicketID:  id,
		SenderID:  models.IDFrom(sender),
		Body:      body,
		Timestamp: s.opts.clock.Now(),
		Pending:   true,
	}
	s.Append(id, m)
	return m
}

// Discard drops an undelivered pending message.
func (s *Synchronizer) Discard(id models.TicketID, clientID string) bool {
	l, ok := s.logs[id]
	return ok && l.Discard(clientID)
}

// RejectPending drops the oldest pending message of id's log, which is
// the send the server just refused.
func (s *Synchronizer) RejectPending(id models.TicketID) bool {
	l, ok := s.logs[id]
	if !ok {
		return false
	}
	m, ok := l.DiscardOldestPending()
	if ok {
		s.opts.logger.Debug("chat: pending message rejected", zap.String("ticket_id", string(id)), zap.String("client_id", m.ClientID))
	}
	return ok
}

// MarkRead zeroes id's unread count and tells the collaborator in the
// background.
func (s *Synchronizer) MarkRead(ctx context.Context, id models.TicketID) {
	s.store.SetUnread(id, 0)
	if s.opts.reader == nil {
		return
	}
	rctx := context.WithoutCancel(ctx)
	go func() {
		if err := s.opts.reader.MarkRead(rctx, id); err != nil {
			s.opts.logger.Warn("chat: mark read failed", zap.String("ticket_id", string(id)), zap.Error(err))
		}
	}()
}

// Activity restarts the watchdog of the open stream. It is a no-op when
// the watchdog is not running.
func (s *Synchronizer) Activity() {
	if s.watch.timer == nil || s.watch.fired {
		return
	}
	s.disarm()
	s.arm()
}

// Reevaluate arms or disarms the watchdog after the open ticket may have
// changed. It runs while the stream is open, writable and the ticket is
// assigned; once it fired it stays quiet until the ticket leaves
// assigned and comes back.
func (s *Synchronizer) Reevaluate() {
	if s.viewing == "" {
		return
	}
	t, ok := s.store.Get(s.viewing)
	if !ok || t.Status != models.StatusAssigned || s.readOnly {
		s.disarm()
		if !ok || t.Status != models.StatusAssigned {
			s.watch.fired = false
		}
		return
	}
	if s.watch.fired || s.watch.timer != nil {
		return
	}
	s.arm()
}

func (s *Synchronizer) arm() {
	s.watch.token++
	token, id := s.watch.token, s.viewing
	s.watch.timer = s.opts.clock.AfterFunc(s.opts.timeout, func() {
		s.post(func() { s.expire(id, token) })
	})
}

func (s *Synchronizer) disarm() {
	if s.watch.timer != nil {
		s.watch.timer.Stop()
		s.watch.timer = nil
	}
	s.watch.token++
}

func (s *Synchronizer) expire(id models.TicketID, token uint64) {
	if id != s.viewing || token != s.watch.token || s.watch.fired {
		return
	}
	s.watch.timer = nil
	s.watch.fired = true
	s.opts.logger.Info("chat: inactivity timeout", zap.String("ticket_id", string(id)), zap.Duration("timeout", s.opts.timeout))
	if s.opts.onTimeout != nil {
		s.opts.onTimeout(id)
	}
}
