// Package notifications keeps the feed of ticket notifications shown to
// staff: new tickets and handovers.
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/goatkit/ticketsync/internal/models"
)

// Kind classifies a notification.
type Kind string

const (
	KindNewTicket  Kind = "new_ticket"
	KindReassigned Kind = "reassigned"
)

// Notification is one feed entry.
type Notification struct {
	TicketID models.TicketID `json:"ticket_id"`
	Kind     Kind            `json:"kind"`
	Message  string          `json:"message"`
	Category string          `json:"category,omitempty"`
	Priority string          `json:"priority,omitempty"`
	At       time.Time       `json:"at"`
}

// Hub receives notifications and hands them to the reader.
type Hub interface {
	Dispatch(ctx context.Context, n Notification) error
	// Consume returns and clears the pending notifications.
	Consume() []Notification
	// Pending returns the pending notifications without clearing them.
	Pending() []Notification
}

type hubKey struct {
	ticket models.TicketID
	kind   Kind
}

// MemoryHub is an in-process Hub. A ticket has at most one pending
// notification per kind; a newer one replaces it in place.
type MemoryHub struct {
	mu    sync.Mutex
	items []Notification
	index map[hubKey]int
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{index: make(map[hubKey]int)}
}

func (h *MemoryHub) Dispatch(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := hubKey{n.TicketID, n.Kind}
	if i, ok := h.index[key]; ok {
		h.items[i] = n
		return nil
	}
	h.index[key] = len(h.items)
	h.items = append(h.items, n)
	return nil
}

func (h *MemoryHub) Consume() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.items
	h.items = nil
	h.index = make(map[hubKey]int)
	return out
}

func (h *MemoryHub) Pending() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notification(nil), h.items...)
}
