// Package lifecycle is the ticket state machine. Apply is pure: it never
// touches the store, the network or the clock, so the same transition
// gives the same result whether it was triggered locally or replayed from
// another session's event.
package lifecycle

import (
	"time"

	"github.com/guregu/null/v5"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/constants"
	"github.com/goatkit/ticketsync/internal/models"
)

// Kind names a transition.
type Kind string

const (
	KindAccept            Kind = "accept"
	KindReject            Kind = "reject"
	KindClose             Kind = "close"
	KindReassign          Kind = "reassign"
	KindReopen            Kind = "reopen"
	KindInactivityTimeout Kind = "inactivity-timeout"
	KindDeactivate        Kind = "deactivate"
)

// Transition is one lifecycle event with its arguments.
type Transition struct {
	Kind Kind
	// Actor accepts the ticket.
	Actor models.UserID
	// Target receives the ticket on reassign, or on close with reassignment.
	Target models.UserID
	// Reason is the closure reason for close and inactivity-timeout.
	Reason string
	// Now and Timeout feed the inactivity precondition.
	Now     time.Time
	Timeout time.Duration
}

// Accept assigns an open ticket to actor.
func Accept(actor models.UserID) Transition {
	return Transition{Kind: KindAccept, Actor: actor}
}

// Reject refuses an open ticket.
func Reject() Transition { return Transition{Kind: KindReject} }

// Close closes a ticket. A non-empty reassignTo records the staff member
// the ticket is handed to.
func Close(reason string, reassignTo models.UserID) Transition {
	return Transition{Kind: KindClose, Reason: reason, Target: reassignTo}
}

// Reassign moves an assigned ticket to target.
func Reassign(target models.UserID) Transition {
	return Transition{Kind: KindReassign, Target: target}
}

// Reopen returns a closed ticket to its assignee.
func Reopen() Transition { return Transition{Kind: KindReopen} }

// InactivityTimeout closes an assigned ticket that has been quiet for at
// least timeout. A zero timeout makes the quiet check always pass, which
// is what an already persisted remote closure needs.
func InactivityTimeout(now time.Time, timeout time.Duration, reason string) Transition {
	if reason == "" {
		reason = constants.InactivityReason
	}
	return Transition{Kind: KindInactivityTimeout, Now: now, Timeout: timeout, Reason: reason}
}

// Deactivate marks an assigned ticket inactive without closing it.
func Deactivate() Transition { return Transition{Kind: KindDeactivate} }

// Apply runs tr against t. It returns the new ticket and whether anything
// changed. A transition whose effect is already present is a silent
// no-op. A transition whose precondition fails returns t unchanged with a
// *apierrors.StateInconsistency.
func Apply(t models.Ticket, tr Transition) (models.Ticket, bool, error) {
	if applied(t, tr) {
		return t, false, nil
	}
	if err := check(t, tr); err != nil {
		return t, false, err
	}

	next := t
	switch tr.Kind {
	case KindAccept:
		next.Status = models.StatusAssigned
		next.AssignedTo = models.IDFrom(tr.Actor)
	case KindReject:
		next.Status = models.StatusRejected
	case KindClose:
		next.Status = models.StatusClosed
		next.ClosureReason = null.StringFrom(tr.Reason)
		next.ReassignedTo = models.IDFrom(tr.Target)
	case KindReassign:
		next.AssignedTo = models.IDFrom(tr.Target)
	case KindReopen:
		next.Status = models.StatusAssigned
		next.ClosureReason = null.String{}
		next.ReassignedTo = models.NullID{}
	case KindInactivityTimeout:
		next.Status = models.StatusClosed
		next.ClosureReason = null.StringFrom(tr.Reason)
	case KindDeactivate:
		next.Status = models.StatusInactive
	}
	return next, true, nil
}

// applied reports whether tr's effect already holds on t, which is how a
// replayed event shows up. A reopened ticket looks like one that was
// never closed, so a reopen is never treated as already applied.
func applied(t models.Ticket, tr Transition) bool {
	switch tr.Kind {
	case KindAccept:
		return t.Status == models.StatusAssigned && t.Assignee() == tr.Actor
	case KindReject:
		return t.Status == models.StatusRejected
	case KindClose:
		return t.Status == models.StatusClosed &&
			t.ClosureReason.Valid && t.ClosureReason.String == tr.Reason &&
			t.ReassignedTo.Same(models.IDFrom(tr.Target))
	case KindReassign:
		return t.Status == models.StatusAssigned && t.Assignee() == tr.Target
	case KindInactivityTimeout:
		return t.Status == models.StatusClosed && t.ClosureReason.Valid && t.ClosureReason.String == tr.Reason
	case KindDeactivate:
		return t.Status == models.StatusInactive
	}
	return false
}

func check(t models.Ticket, tr Transition) error {
	fail := func(detail string) error {
		return &apierrors.StateInconsistency{
			TicketID:   string(t.ID),
			Transition: string(tr.Kind),
			Status:     string(t.Status),
			Detail:     detail,
		}
	}

	switch tr.Kind {
	case KindAccept:
		if tr.Actor == "" {
			return fail("missing actor")
		}
		if t.Status != models.StatusOpen {
			return fail("ticket is not open")
		}
	case KindReject:
		if t.Status != models.StatusOpen {
			return fail("ticket is not open")
		}
	case KindClose:
		if t.Status != models.StatusAssigned && t.Status != models.StatusInactive {
			return fail("ticket is not assigned or inactive")
		}
	case KindReassign:
		if tr.Target == "" {
			return fail("missing target")
		}
		if t.Status != models.StatusAssigned {
			return fail("ticket is not assigned")
		}
	case KindReopen:
		if t.Status != models.StatusClosed {
			return fail("ticket is not closed")
		}
	case KindInactivityTimeout:
		if t.Status != models.StatusAssigned && t.Status != models.StatusInactive {
			return fail("ticket is not assigned or inactive")
		}
		if t.LastMessageAt.Valid && tr.Now.Sub(t.LastMessageAt.Time.Time) < tr.Timeout {
			return fail("ticket still active")
		}
	case KindDeactivate:
		if t.Status != models.StatusAssigned {
			return fail("ticket is not assigned")
		}
	default:
		return fail("unknown transition")
	}
	return nil
}

// Reachable lists the statuses a transition can produce. Anything a
// sequence of Apply calls yields starting from open is in this set.
func Reachable() []models.Status {
	return []models.Status{models.StatusOpen, models.StatusAssigned, models.StatusInactive, models.StatusRejected, models.StatusClosed}
}
