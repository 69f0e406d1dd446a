package router

import (
	"sort"
	"sync"

	"github.com/goatkit/ticketsync/internal/events"
	"github.com/goatkit/ticketsync/internal/models"
)

// Update is what subscribers receive after an event changed local state.
type Update struct {
	Event    events.Name
	TicketID models.TicketID
	// Ticket is the stored ticket after the change. It is zero for
	// events that only touch a chat log of an unknown ticket.
	Ticket  models.Ticket
	Message *models.ChatMessage
}

// Filter selects the updates a subscriber receives.
type Filter struct {
	// Tickets receive updates about these tickets.
	Tickets []models.TicketID
	// Global receives every update, as the ticket list does.
	Global bool
}

func (f Filter) matches(id models.TicketID) bool {
	if f.Global {
		return true
	}
	for _, t := range f.Tickets {
		if t == id {
			return true
		}
	}
	return false
}

// Subscription is a registered listener.
type Subscription struct {
	id     uint64
	filter Filter
	fn     func(Update)
	subs   *subscribers
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.subs == nil {
		return
	}
	s.subs.remove(s.id)
}

type subscribers struct {
	mu   sync.RWMutex
	next uint64
	byID map[uint64]*Subscription
}

func newSubscribers() *subscribers {
	return &subscribers{byID: make(map[uint64]*Subscription)}
}

func (s *subscribers) add(f Filter, fn func(Update)) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	sub := &Subscription{id: s.next, filter: f, fn: fn, subs: s}
	s.byID[sub.id] = sub
	return sub
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// matching returns each subscriber interested in id once, in
// subscription order.
func (s *subscribers) matching(id models.TicketID) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Subscription, 0, len(s.byID))
	for _, sub := range s.byID {
		if sub.filter.matches(id) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *subscribers) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
