// Package snapshot persists the last ticket table fetched from the
// collaborator in Redis so a restart during an outage still has
// something to show.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/constants"
	"github.com/goatkit/ticketsync/internal/models"
)

// DefaultKey is where the snapshot is stored.
const DefaultKey = "ticketsync:snapshot:tickets"

// ErrNotFound is returned by Load when no snapshot exists.
var ErrNotFound = errors.New("snapshot: not found")

// KV is the subset of *redis.Client the store needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type document struct {
	SavedAt time.Time       `json:"saved_at"`
	Tickets []models.Ticket `json:"tickets"`
}

// Store reads and writes the snapshot.
type Store struct {
	kv     KV
	key    string
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the Redis key, e.g. to scope it per identity.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithTTL sets how long a snapshot is kept.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source for SavedAt.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New returns a Store over kv.
func New(kv KV, opts ...Option) *Store {
	s := &Store{kv: kv, key: DefaultKey, ttl: constants.SnapshotTTL, clock: clock.Real(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to Redis at addr and pings it.
func Dial(ctx context.Context, addr string, opts ...Option) (*Store, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("snapshot: redis %s: %w", addr, err)
	}
	return New(client, opts...), client, nil
}

// Save replaces the snapshot. Local unread counts are not persisted.
func (s *Store) Save(ctx context.Context, tickets []models.Ticket) error {
	doc := document{SavedAt: s.clock.Now().UTC(), Tickets: make([]models.Ticket, len(tickets))}
	for i, t := range tickets {
		t.UnreadCount = 0
		doc.Tickets[i] = t
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("snapshot: save: %w", err)
	}
	s.logger.Debug("snapshot: saved", zap.Int("tickets", len(tickets)))
	return nil
}

// Load returns the stored tickets, ErrNotFound when there are none.
func (s *Store) Load(ctx context.Context) ([]models.Ticket, error) {
	data, err := s.kv.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: load: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	s.logger.Debug("snapshot: loaded", zap.Int("tickets", len(doc.Tickets)), zap.Time("saved_at", doc.SavedAt))
	return doc.Tickets, nil
}
