// Package store is the in-memory ticket table shared by every view.
// Mutations are expected to come from the engine's single event loop;
// the lock only makes snapshots safe for readers on other goroutines.
package store

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/apierrors"
	"github.com/goatkit/ticketsync/internal/lifecycle"
	"github.com/goatkit/ticketsync/internal/models"
)

// Store holds tickets keyed by id.
type Store struct {
	mu      sync.RWMutex
	tickets map[models.TicketID]models.Ticket
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{tickets: make(map[models.TicketID]models.Ticket), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed merges a bulk fetch into the table. Fetched rows replace the
// stored ones except for the local unread count and a later
// lastMessageAt. Tickets missing from the fetch are kept.
func (s *Store) Seed(tickets []models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tickets {
		if t.ID == "" {
			continue
		}
		if prev, ok := s.tickets[t.ID]; ok {
			t.UnreadCount = prev.UnreadCount
			if prev.LastMessageAt.Valid && (!t.LastMessageAt.Valid || prev.LastMessageAt.Time.Time.After(t.LastMessageAt.Time.Time)) {
				t.LastMessageAt = prev.LastMessageAt
			}
		}
		if t.UnreadCount < 0 {
			t.UnreadCount = 0
		}
		s.tickets[t.ID] = t
	}
	s.logger.Debug("store: seeded", zap.Int("tickets", len(tickets)), zap.Int("total", len(s.tickets)))
}

// Upsert merges p into the stored ticket, creating it when absent.
func (s *Store) Upsert(p models.TicketPatch) models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tickets[p.ID].Merge(p)
	s.tickets[p.ID] = t
	return t
}

// Put stores t as is, used to restore a ticket after a failed
// persistence call.
func (s *Store) Put(t models.Ticket) {
	s.mu.Lock()
	s.tickets[t.ID] = t
	s.mu.Unlock()
}

// Get returns the ticket with id.
func (s *Store) Get(id models.TicketID) (models.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	return t, ok
}

// All returns every ticket ordered by id. Views sort as they need.
// Bare entries created by chat traffic stay hidden until the ticket
// itself is known.
func (s *Store) All() []models.Ticket {
	s.mu.RLock()
	out := make([]models.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if t.Status == "" {
			continue
		}
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tickets All would return.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tickets {
		if t.Status != "" {
			n++
		}
	}
	return n
}

// Apply runs a lifecycle transition against the stored ticket and keeps
// the result when it changed. It returns the ticket before and after.
func (s *Store) Apply(id models.TicketID, tr lifecycle.Transition) (before, after models.Ticket, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.tickets[id]
	if !ok {
		return models.Ticket{ID: id}, models.Ticket{ID: id}, false, &apierrors.StateInconsistency{
			TicketID:   string(id),
			Transition: string(tr.Kind),
			Detail:     "ticket not in store",
		}
	}
	after, changed, err = lifecycle.Apply(before, tr)
	if err != nil {
		return before, before, false, err
	}
	if changed {
		s.tickets[id] = after
	}
	return before, after, changed, nil
}

// IncrementUnread adds delta to the unread count of id, creating a bare
// entry when the ticket is unknown.
func (s *Store) IncrementUnread(id models.TicketID, delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tickets[id]
	t.ID = id
	t.UnreadCount = max(t.UnreadCount+delta, 0)
	s.tickets[id] = t
	return t.UnreadCount
}

// SetUnread overwrites the unread count of a known ticket.
func (s *Store) SetUnread(id models.TicketID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return
	}
	t.UnreadCount = max(n, 0)
	s.tickets[id] = t
}

// Touch moves lastMessageAt forward to at, creating a bare entry when the
// ticket is unknown.
func (s *Store) Touch(id models.TicketID, at models.NullTime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !at.Valid {
		return
	}
	t := s.tickets[id]
	t.ID = id
	if !t.LastMessageAt.Valid || at.Time.Time.After(t.LastMessageAt.Time.Time) {
		t.LastMessageAt = at
		s.tickets[id] = t
	}
}
