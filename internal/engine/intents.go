package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/chat"
	"github.com/goatkit/ticketsync/internal/constants"
	"github.com/goatkit/ticketsync/internal/events"
	"github.com/goatkit/ticketsync/internal/history"
	"github.com/goatkit/ticketsync/internal/lifecycle"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/router"
	"github.com/goatkit/ticketsync/internal/session"
)

// Refresh fetches the ticket list and seeds the store. When the fetch
// fails and the store is still empty, the last snapshot is seeded
// instead; the fetch error is returned either way.
func (e *Engine) Refresh(ctx context.Context) error {
	e.post(e.beginFetch)
	tickets, err := e.source.ListTickets(ctx)
	if err != nil {
		e.opts.logger.Warn("engine: ticket fetch failed", zap.Error(err))
		e.fallback(ctx)
		e.post(e.endFetch)
		return err
	}
	if derr := e.Do(ctx, func() {
		e.store.Seed(tickets)
		e.chat.Reevaluate()
		e.router.Publish(router.Update{Event: events.NameTicketStatusUpdate})
		e.endFetch()
	}); derr != nil {
		return derr
	}
	if e.opts.snapshots != nil {
		if serr := e.opts.snapshots.Save(ctx, tickets); serr != nil {
			e.opts.logger.Warn("engine: snapshot save failed", zap.Error(serr))
		}
	}
	return nil
}

func (e *Engine) fallback(ctx context.Context) {
	if e.opts.snapshots == nil || e.store.Len() > 0 {
		return
	}
	tickets, err := e.opts.snapshots.Load(ctx)
	if err != nil {
		e.opts.logger.Warn("engine: snapshot load failed", zap.Error(err))
		return
	}
	_ = e.Do(ctx, func() {
		if e.store.Len() > 0 {
			return
		}
		e.store.Seed(tickets)
		e.chat.Reevaluate()
		e.router.Publish(router.Update{Event: events.NameTicketStatusUpdate})
	})
	e.opts.logger.Info("engine: seeded from snapshot", zap.Int("tickets", len(tickets)))
}

func (e *Engine) refreshInBackground() {
	if err := e.Refresh(e.ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.opts.logger.Warn("engine: background refresh failed", zap.Error(err))
	}
}

// repair replaces a ticket whose local state disagreed with an event by
// the collaborator's copy. Concurrent repairs of one ticket share a fetch.
// It runs on the loop.
func (e *Engine) repair(id models.TicketID, _ error) {
	if id == "" {
		return
	}
	e.beginFetch()
	go func() {
		t, err := e.source.GetTicket(e.ctx, id)
		if err != nil {
			e.opts.logger.Warn("engine: ticket repair failed", zap.String("ticket_id", string(id)), zap.Error(err))
			e.post(e.endFetch)
			return
		}
		e.post(func() {
			e.store.Seed([]models.Ticket{t})
			e.chat.Reevaluate()
			after, _ := e.store.Get(id)
			e.router.Publish(router.Update{Event: events.NameTicketUpdated, TicketID: id, Ticket: after})
			e.endFetch()
		})
	}()
}

// Accept assigns an open ticket to the signed-in staff member.
func (e *Engine) Accept(ctx context.Context, id models.TicketID) error {
	self := e.Self()
	if self == "" {
		sess, err := e.session(ctx)
		if err != nil {
			return err
		}
		self = sess.Identity().ID
	}
	return e.mutate(ctx, id, lifecycle.Accept(self), "", func(ctx context.Context) error {
		return e.backend.Accept(ctx, id)
	})
}

// Reject rejects an open ticket.
func (e *Engine) Reject(ctx context.Context, id models.TicketID) error {
	return e.mutate(ctx, id, lifecycle.Reject(), "", func(ctx context.Context) error {
		return e.backend.Reject(ctx, id)
	})
}

// Close closes a ticket, optionally handing it over to reassignTo.
func (e *Engine) Close(ctx context.Context, id models.TicketID, reason string, reassignTo models.UserID) error {
	return e.mutate(ctx, id, lifecycle.Close(reason, reassignTo), history.ClosedMessage(reason, reassignTo), func(ctx context.Context) error {
		return e.backend.Close(ctx, id, reason, reassignTo)
	})
}

// Reassign hands an assigned ticket to target.
func (e *Engine) Reassign(ctx context.Context, id models.TicketID, target models.UserID) error {
	return e.mutate(ctx, id, lifecycle.Reassign(target), history.ReassignedMessage("", target), func(ctx context.Context) error {
		return e.backend.Reassign(ctx, id, target)
	})
}

// Reopen reopens a closed ticket.
func (e *Engine) Reopen(ctx context.Context, id models.TicketID) error {
	return e.mutate(ctx, id, lifecycle.Reopen(), history.ReopenedMessage(), func(ctx context.Context) error {
		return e.backend.Reopen(ctx, id)
	})
}

// mutate applies tr optimistically, persists it and restores the
// previous ticket when persisting fails. The system line is appended
// once the collaborator accepted the change.
func (e *Engine) mutate(ctx context.Context, id models.TicketID, tr lifecycle.Transition, system string, persist func(context.Context) error) error {
	var (
		before, after models.Ticket
		changed       bool
		err           error
	)
	if derr := e.Do(ctx, func() {
		before, after, changed, err = e.store.Apply(id, tr)
		if changed && tr.Kind == lifecycle.KindReopen {
			// Our own ticket_reopened echo finds the ticket already open.
			e.router.Expect(events.NameTicketReopened, id)
		}
		if changed {
			e.chat.Reevaluate()
			e.router.Publish(router.Update{Event: intentEvent(tr.Kind), TicketID: id, Ticket: after})
		}
	}); derr != nil {
		return derr
	}
	if err != nil || !changed {
		return err
	}

	if perr := persist(ctx); perr != nil {
		e.opts.logger.Warn("engine: persisting transition failed, rolling back",
			zap.String("ticket_id", string(id)), zap.String("transition", string(tr.Kind)), zap.Error(perr))
		_ = e.Do(context.WithoutCancel(ctx), func() {
			if tr.Kind == lifecycle.KindReopen {
				e.router.Unexpect(events.NameTicketReopened, id)
			}
			cur, ok := e.store.Get(id)
			if !ok || cur != after {
				return
			}
			e.store.Put(before)
			e.chat.Reevaluate()
			e.router.Publish(router.Update{Event: events.NameTicketUpdated, TicketID: id, Ticket: before})
		})
		return perr
	}

	if system != "" {
		_ = e.Do(ctx, func() {
			if e.chat.AppendSystem(id, system) {
				t, _ := e.store.Get(id)
				e.router.Publish(router.Update{Event: intentEvent(tr.Kind), TicketID: id, Ticket: t})
			}
		})
	}
	e.opts.logger.Info("engine: transition persisted", zap.String("ticket_id", string(id)), zap.String("transition", string(tr.Kind)))
	return nil
}

func intentEvent(k lifecycle.Kind) events.Name {
	switch k {
	case lifecycle.KindAccept:
		return events.NameTicketAccepted
	case lifecycle.KindReject:
		return events.NameTicketRejected
	case lifecycle.KindClose:
		return events.NameTicketClosed
	case lifecycle.KindReassign:
		return events.NameTicketReassigned
	case lifecycle.KindReopen:
		return events.NameTicketReopened
	case lifecycle.KindInactivityTimeout:
		return events.NameChatInactive
	case lifecycle.KindDeactivate:
		return events.NameTicketInactive
	}
	return events.NameTicketUpdated
}

type outboundMessage struct {
	TicketID models.TicketID `json:"ticket_id"`
	SenderID models.UserID   `json:"sender_id"`
	Message  string          `json:"message"`
}

// SendMessage appends body to id's log as a pending message and sends
// it over the realtime session. The server echo confirms it; a failed
// send drops it again.
func (e *Engine) SendMessage(ctx context.Context, id models.TicketID, body string) error {
	sess, err := e.session(ctx)
	if err != nil {
		return err
	}
	sender := sess.Identity().ID

	var local models.ChatMessage
	if derr := e.Do(ctx, func() {
		local = e.chat.AppendLocal(id, sender, body)
		t, _ := e.store.Get(id)
		e.router.Publish(router.Update{Event: events.NameMessage, TicketID: id, Ticket: t, Message: &local})
	}); derr != nil {
		return derr
	}

	if err := sess.Emit(ctx, session.EventMessage, outboundMessage{TicketID: id, SenderID: sender, Message: body}); err != nil {
		_ = e.Do(context.WithoutCancel(ctx), func() {
			if e.chat.Discard(id, local.ClientID) {
				t, _ := e.store.Get(id)
				e.router.Publish(router.Update{Event: events.NameMessage, TicketID: id, Ticket: t})
			}
		})
		return &apierrors.TransportError{Op: "send message", Err: err}
	}
	return nil
}

// OpenTicket opens id's chat stream, leaving any other one.
func (e *Engine) OpenTicket(ctx context.Context, id models.TicketID, readOnly bool) error {
	sess, err := e.session(ctx)
	if err != nil {
		return err
	}
	var oerr error
	if derr := e.Do(ctx, func() {
		oerr = e.chat.OpenStream(ctx, sess, id, chat.StreamOptions{ReadOnly: readOnly})
	}); derr != nil {
		return derr
	}
	if oerr != nil {
		return &apierrors.TransportError{Op: "join room", Err: oerr}
	}
	return nil
}

// CloseTicket closes the open chat stream.
func (e *Engine) CloseTicket(ctx context.Context) error {
	var cerr error
	if derr := e.Do(ctx, func() { cerr = e.chat.CloseStream(ctx) }); derr != nil {
		return derr
	}
	return cerr
}

// MarkRead zeroes id's unread count here and at the collaborator.
func (e *Engine) MarkRead(ctx context.Context, id models.TicketID) error {
	return e.Do(ctx, func() {
		e.chat.MarkRead(ctx, id)
		t, _ := e.store.Get(id)
		e.router.Publish(router.Update{Event: events.NameTicketUpdated, TicketID: id, Ticket: t})
	})
}

// Activity signals local user activity on the open stream. It never blocks.
func (e *Engine) Activity() { e.post(e.chat.Activity) }

// Messages returns a copy of id's chat log.
func (e *Engine) Messages(ctx context.Context, id models.TicketID) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := e.Do(ctx, func() { out = e.chat.Messages(id) })
	return out, err
}

// Viewing returns the ticket of the open stream.
func (e *Engine) Viewing(ctx context.Context) (models.TicketID, bool, error) {
	var (
		id models.TicketID
		ok bool
	)
	err := e.Do(ctx, func() { id, ok = e.chat.Viewing() })
	return id, ok, err
}

// ReconcileUnread asks the collaborator for the unread count of every
// assigned ticket except the open one and stores the answers.
func (e *Engine) ReconcileUnread(ctx context.Context) error {
	var errs []error
	counts := make(map[models.TicketID]int)
	for _, t := range e.store.All() {
		if t.Status != models.StatusAssigned {
			continue
		}
		n, err := e.backend.UnreadCount(ctx, t.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("ticket %s: %w", t.ID, err))
			continue
		}
		counts[t.ID] = n
	}
	if len(counts) > 0 {
		if err := e.Do(ctx, func() {
			viewing, _ := e.chat.Viewing()
			for id, n := range counts {
				if id == viewing {
					continue
				}
				e.store.SetUnread(id, n)
			}
			e.router.Publish(router.Update{Event: events.NameTicketUpdated})
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// inactive runs on the loop when the open stream's watchdog expires: it
// closes the ticket locally and tells the server.
func (e *Engine) inactive(id models.TicketID) {
	tr := lifecycle.InactivityTimeout(e.opts.clock.Now(), e.opts.timeout, constants.InactivityReason)
	_, after, changed, err := e.store.Apply(id, tr)
	if err != nil {
		e.opts.logger.Warn("engine: inactivity close rejected", zap.String("ticket_id", string(id)), zap.Error(err))
		e.repair(id, err)
	}
	if changed {
		e.chat.AppendSystem(id, history.InactiveMessage(tr.Reason))
		e.chat.Reevaluate()
		e.router.Publish(router.Update{Event: events.NameChatInactive, TicketID: id, Ticket: after})
	}

	c := e.connector()
	if c == nil {
		return
	}
	sess := c.Current()
	if sess == nil {
		return
	}
	go func() {
		if err := sess.Emit(e.ctx, session.EventInactivityTimeout, outboundRoom{TicketID: id}); err != nil {
			e.opts.logger.Warn("engine: inactivity notice not sent", zap.String("ticket_id", string(id)), zap.Error(err))
		}
	}()
}

type outboundRoom struct {
	TicketID models.TicketID `json:"ticket_id"`
}

func (e *Engine) historyLoaded(id models.TicketID, err error) {
	t, _ := e.store.Get(id)
	e.router.Publish(router.Update{Event: events.NameMessage, TicketID: id, Ticket: t})
	if err != nil {
		e.opts.logger.Warn("engine: history unavailable", zap.String("ticket_id", string(id)), zap.Error(err))
	}
}

func (e *Engine) session(ctx context.Context) (*session.Session, error) {
	c := e.connector()
	if c == nil {
		return nil, &apierrors.TransportError{Op: "session", Err: errors.New("no connector configured")}
	}
	return c.GetSession(ctx)
}
