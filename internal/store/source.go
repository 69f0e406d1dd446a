package store

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/goatkit/ticketsync/internal/models"
)

// Source is the collaborator's read side.
type Source interface {
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	GetTicket(ctx context.Context, id models.TicketID) (models.Ticket, error)
	ListMessages(ctx context.Context, id models.TicketID) ([]models.ChatMessage, error)
}

// CoalescingSource lets at most one fetch per key be in flight. Callers
// arriving while a fetch runs wait for its result instead of issuing
// their own.
type CoalescingSource struct {
	src   Source
	group singleflight.Group
}

// NewCoalescingSource wraps src.
func NewCoalescingSource(src Source) *CoalescingSource {
	return &CoalescingSource{src: src}
}

// ListTickets fetches the ticket list.
func (c *CoalescingSource) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	v, err := do(ctx, &c.group, "tickets", func(ctx context.Context) (any, error) {
		return c.src.ListTickets(ctx)
	})
	if err != nil {
		return nil, err
	}
	return cloneSlice(v.([]models.Ticket)), nil
}

// GetTicket fetches one ticket.
func (c *CoalescingSource) GetTicket(ctx context.Context, id models.TicketID) (models.Ticket, error) {
	v, err := do(ctx, &c.group, "ticket:"+string(id), func(ctx context.Context) (any, error) {
		return c.src.GetTicket(ctx, id)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return v.(models.Ticket), nil
}

// ListMessages fetches one ticket's chat history.
func (c *CoalescingSource) ListMessages(ctx context.Context, id models.TicketID) ([]models.ChatMessage, error) {
	v, err := do(ctx, &c.group, "chat:"+string(id), func(ctx context.Context) (any, error) {
		return c.src.ListMessages(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return cloneSlice(v.([]models.ChatMessage)), nil
}

// Forget drops the in-flight entry for key so the next call fetches anew.
func (c *CoalescingSource) Forget(key string) { c.group.Forget(key) }

func do(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := g.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Each waiter gets its own slice so callers cannot alias each other.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
