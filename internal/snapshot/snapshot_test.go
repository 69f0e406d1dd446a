package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/models"
)

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
	err  error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]string), ttl: make(map[string]time.Duration)}
}

func (m *memoryKV) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryKV) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestSaveAndLoad(t *testing.T) {
	kv := newMemoryKV()
	s := New(kv, WithKey("snap:A"), WithTTL(time.Hour), WithClock(clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))))

	tickets := []models.Ticket{
		{ID: "1", Status: models.StatusAssigned, AssignedTo: models.IDFrom("A"), UnreadCount: 3},
		{ID: "2", Status: models.StatusClosed},
	}
	require.NoError(t, s.Save(context.Background(), tickets))
	assert.Equal(t, time.Hour, kv.ttl["snap:A"])

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.TicketID("1"), got[0].ID)
	assert.Equal(t, models.UserID("A"), got[0].Assignee())
	assert.Equal(t, 0, got[0].UnreadCount)
	assert.Equal(t, models.StatusClosed, got[1].Status)
	assert.Equal(t, 3, tickets[0].UnreadCount)
}

func TestLoadMissing(t *testing.T) {
	s := New(newMemoryKV())
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestErrorsAreWrapped(t *testing.T) {
	kv := newMemoryKV()
	kv.err = errors.New("connection refused")
	s := New(kv)

	err := s.Save(context.Background(), nil)
	assert.ErrorContains(t, err, "snapshot: save")
	_, err = s.Load(context.Background())
	assert.ErrorContains(t, err, "snapshot: load")

	kv.err = nil
	kv.data[DefaultKey] = "{not json"
	_, err = s.Load(context.Background())
	assert.ErrorContains(t, err, "snapshot: decode")
}
