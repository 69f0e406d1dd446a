package scheduler

import (
	"context"
	"time"

	"github.com/goatkit/ticketsync/internal/constants"
)

// Built-in handler names.
const (
	HandlerTicketsResync   = "tickets.resync"
	HandlerUnreadReconcile = "unread.reconcile"
)

func (s *Service) registerBuiltinHandlers() {
	s.RegisterHandler(HandlerTicketsResync, s.handleResync)
	s.RegisterHandler(HandlerUnreadReconcile, s.handleUnreadReconcile)
}

func (s *Service) handleResync(ctx context.Context, job *Job) error {
	if s.syncer == nil {
		s.logger.Warn("scheduler: no syncer, skipping resync")
		return nil
	}
	return s.syncer.Refresh(ctx)
}

func (s *Service) handleUnreadReconcile(ctx context.Context, job *Job) error {
	if s.syncer == nil {
		s.logger.Warn("scheduler: no syncer, skipping unread reconcile")
		return nil
	}
	return s.syncer.ReconcileUnread(ctx)
}

// DefaultJobs returns the built-in jobs. Empty schedules fall back to
// the defaults.
func DefaultJobs(resync, unread string) []*Job {
	if resync == "" {
		resync = constants.ResyncSchedule
	}
	if unread == "" {
		unread = constants.UnreadSchedule
	}
	return []*Job{
		{
			Name:     "Authoritative Ticket Resync",
			Slug:     "tickets-resync",
			Handler:  HandlerTicketsResync,
			Schedule: resync,
			Timeout:  time.Minute,
		},
		{
			Name:     "Unread Count Reconcile",
			Slug:     "unread-reconcile",
			Handler:  HandlerUnreadReconcile,
			Schedule: unread,
			Timeout:  30 * time.Second,
		},
	}
}
