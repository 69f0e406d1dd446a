package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketsync/internal/clock"
	"github.com/goatkit/ticketsync/internal/lifecycle"
	"github.com/goatkit/ticketsync/internal/models"
	"github.com/goatkit/ticketsync/internal/store"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type testLoop struct{ ch chan func() }

func newTestLoop() *testLoop { return &testLoop{ch: make(chan func(), 64)} }

func (l *testLoop) post(f func()) { l.ch <- f }

func (l *testLoop) runOne(t *testing.T) {
	t.Helper()
	select {
	case f := <-l.ch:
		f()
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was posted to the loop")
	}
}

func (l *testLoop) drain() int {
	n := 0
	for {
		select {
		case f := <-l.ch:
			f()
			n++
		default:
			return n
		}
	}
}

type stubSource struct {
	mu      sync.Mutex
	history map[models.TicketID][]models.ChatMessage
	gates   map[models.TicketID]chan struct{}
	calls   int
}

func newStubSource() *stubSource {
	return &stubSource{
		history: make(map[models.TicketID][]models.ChatMessage),
		gates:   make(map[models.TicketID]chan struct{}),
	}
}

func (s *stubSource) gate(id models.TicketID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[id] = ch
	return ch
}

func (s *stubSource) ListMessages(ctx context.Context, id models.TicketID) ([]models.ChatMessage, error) {
	s.mu.Lock()
	s.calls++
	gate := s.gates[id]
	msgs := s.history[id]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return msgs, nil
}

type stubRooms struct {
	mu  sync.Mutex
	log []string
}

func (r *stubRooms) Join(_ context.Context, id models.TicketID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "join:"+string(id))
	return nil
}

func (r *stubRooms) Leave(_ context.Context, id models.TicketID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "leave:"+string(id))
	return nil
}

type stubReader struct {
	mu  sync.Mutex
	ids []models.TicketID
}

func (r *stubReader) MarkRead(_ context.Context, id models.TicketID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *stubReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func msg(ticket models.TicketID, sender models.UserID, body string, at time.Time) models.ChatMessage {
	return models.ChatMessage{TicketID: ticket, SenderID: models.IDFrom(sender), Body: body, Timestamp: at}
}

func bodies(msgs []models.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

type fixture struct {
	store  *store.Store
	source *stubSource
	loop   *testLoop
	clock  *clock.FakeClock
	rooms  *stubRooms
	reader *stubReader
	fired  []models.TicketID
	sync   *Synchronizer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.New(),
		source: newStubSource(),
		loop:   newTestLoop(),
		clock:  clock.NewFake(t0),
		rooms:  &stubRooms{},
		reader: &stubReader{},
	}
	base := []Option{
		WithClock(f.clock),
		WithReadMarker(f.reader),
		WithInactivityTimeout(120 * time.Second),
		WithTimeoutHandler(func(id models.TicketID) { f.fired = append(f.fired, id) }),
	}
	f.sync = New(f.store, f.source, f.loop.post, append(base, opts...)...)
	return f
}

func TestLogDeduplicatesByIdentity(t *testing.T) {
	l := newLog("1")
	m := msg("1", "7", "hi", t0)

	assert.True(t, l.Append(m))
	assert.False(t, l.Append(m))
	assert.True(t, l.Append(msg("1", "8", "hi", t0)))
	assert.Equal(t, 2, l.Len())
}

func TestHistoryAndLiveInterleave(t *testing.T) {
	m1 := msg("42", "7", "m1", t0)
	m2 := msg("42", "9", "m2", t0.Add(time.Second))
	m3 := msg("42", "7", "m3", t0.Add(2*time.Second))

	t.Run("live before history resolves", func(t *testing.T) {
		f := newFixture(t)
		f.source.history["42"] = []models.ChatMessage{m1, m2}
		gate := f.source.gate("42")

		require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "42", StreamOptions{}))
		assert.True(t, f.sync.Append("42", m3))
		close(gate)
		f.loop.runOne(t)

		assert.Equal(t, []string{"m1", "m2", "m3"}, bodies(f.sync.Messages("42")))
	})

	t.Run("live after history resolves", func(t *testing.T) {
		f := newFixture(t)
		f.source.history["42"] = []models.ChatMessage{m1, m2}

		require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "42", StreamOptions{}))
		f.loop.runOne(t)
		assert.True(t, f.sync.Append("42", m3))

		assert.Equal(t, []string{"m1", "m2", "m3"}, bodies(f.sync.Messages("42")))
	})

	t.Run("history already holds the live message", func(t *testing.T) {
		f := newFixture(t)
		f.source.history["42"] = []models.ChatMessage{m1, m2, m3}
		gate := f.source.gate("42")

		require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "42", StreamOptions{}))
		f.sync.Append("42", m3)
		close(gate)
		f.loop.runOne(t)

		assert.Equal(t, []string{"m1", "m2", "m3"}, bodies(f.sync.Messages("42")))
	})
}

func TestUnreadCountsAndMarkRead(t *testing.T) {
	f := newFixture(t)
	f.store.Seed([]models.Ticket{{ID: "7", Status: models.StatusAssigned}, {ID: "42", Status: models.StatusAssigned}})
	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "42", StreamOptions{}))
	f.loop.runOne(t)

	sent := []models.ChatMessage{
		msg("7", "1", "a", t0),
		msg("7", "1", "b", t0.Add(time.Second)),
		msg("7", "2", "c", t0.Add(2*time.Second)),
	}
	for _, m := range sent {
		f.sync.Append("7", m)
	}
	seven, _ := f.store.Get("7")
	assert.Equal(t, 3, seven.UnreadCount)
	assert.True(t, seven.LastMessageAt.Valid)

	f.sync.MarkRead(context.Background(), "7")
	for _, m := range sent {
		assert.False(t, f.sync.Append("7", m))
	}
	seven, _ = f.store.Get("7")
	assert.Equal(t, 0, seven.UnreadCount)
	assert.Eventually(t, func() bool { return f.reader.count() >= 2 }, time.Second, 10*time.Millisecond)

	f.sync.Append("42", msg("42", "1", "seen", t0))
	open, _ := f.store.Get("42")
	assert.Equal(t, 0, open.UnreadCount)
}

func TestSystemMessagesOnlyOnLoadedLogs(t *testing.T) {
	f := newFixture(t)
	f.store.Seed([]models.Ticket{{ID: "5", Status: models.StatusAssigned}})

	assert.False(t, f.sync.AppendSystem("5", "Ticket has been reopened"))

	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "5", StreamOptions{}))
	f.loop.runOne(t)
	require.NoError(t, f.sync.CloseStream(context.Background()))

	assert.True(t, f.sync.AppendSystem("5", "Ticket has been reopened"))
	five, _ := f.store.Get("5")
	assert.Equal(t, 0, five.UnreadCount)
	msgs := f.sync.Messages("5")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsSystem)
}

func TestPendingSendConfirmedByEcho(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "3", StreamOptions{}))
	f.loop.runOne(t)

	local := f.sync.AppendLocal("3", "7", "on my way")
	require.True(t, local.Pending)

	echo := msg("3", "7", "on my way", t0.Add(3*time.Second))
	echo.ID = "501"
	assert.True(t, f.sync.Append("3", echo))

	msgs := f.sync.Messages("3")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Pending)
	assert.Equal(t, models.MessageID("501"), msgs[0].ID)
	assert.Equal(t, local.ClientID, msgs[0].ClientID)

	assert.False(t, f.sync.Append("3", echo))

	other := f.sync.AppendLocal("3", "7", "lost")
	assert.True(t, f.sync.Discard("3", other.ClientID))
	assert.Len(t, f.sync.Messages("3"), 1)
}

func TestRejectPendingDropsOldestSend(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "3", StreamOptions{}))
	f.loop.runOne(t)

	echo := msg("3", "9", "hello", t0)
	echo.ID = "77"
	require.True(t, f.sync.Append("3", echo))
	f.sync.AppendLocal("3", "7", "first")
	f.sync.AppendLocal("3", "7", "second")

	assert.True(t, f.sync.RejectPending("3"))
	msgs := f.sync.Messages("3")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, "second", msgs[1].Body)

	assert.True(t, f.sync.RejectPending("3"))
	assert.False(t, f.sync.RejectPending("3"))
	assert.False(t, f.sync.RejectPending("404"))
	assert.Len(t, f.sync.Messages("3"), 1)
}

func TestSwitchingStreamsDropsStaleHistory(t *testing.T) {
	f := newFixture(t)
	f.source.history["A"] = []models.ChatMessage{msg("A", "1", "old", t0)}
	f.source.history["B"] = []models.ChatMessage{msg("B", "1", "new", t0)}
	f.source.gate("A")
	gateB := f.source.gate("B")

	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "A", StreamOptions{}))
	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "B", StreamOptions{}))

	// A's fetch is cancelled and its result ignored.
	f.loop.runOne(t)
	assert.False(t, f.sync.Loaded("A"))
	assert.Empty(t, f.sync.Messages("A"))

	close(gateB)
	f.loop.runOne(t)
	assert.True(t, f.sync.Loaded("B"))
	assert.Equal(t, []string{"new"}, bodies(f.sync.Messages("B")))

	id, ok := f.sync.Viewing()
	assert.True(t, ok)
	assert.Equal(t, models.TicketID("B"), id)
	assert.Equal(t, []string{"join:A", "join:B"}, f.rooms.log)
}

func TestInactivityFiresOncePerAssignedPeriod(t *testing.T) {
	f := newFixture(t)
	f.store.Seed([]models.Ticket{{ID: "42", Status: models.StatusAssigned, AssignedTo: models.IDFrom("A"), LastMessageAt: models.TimeFrom(t0)}})
	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "42", StreamOptions{}))
	f.loop.runOne(t)

	f.clock.Advance(119_999 * time.Millisecond)
	f.loop.drain()
	assert.Empty(t, f.fired)

	f.clock.Advance(time.Millisecond)
	f.loop.drain()
	assert.Equal(t, []models.TicketID{"42"}, f.fired)
	assert.Equal(t, t0.Add(120*time.Second), f.clock.Now())

	f.clock.Advance(10 * time.Minute)
	f.sync.Reevaluate()
	f.loop.drain()
	assert.Len(t, f.fired, 1)

	_, _, _, err := f.store.Apply("42", lifecycle.InactivityTimeout(f.clock.Now(), 120*time.Second, ""))
	require.NoError(t, err)
	f.sync.Reevaluate()
	_, _, _, err = f.store.Apply("42", lifecycle.Reopen())
	require.NoError(t, err)
	f.sync.Reevaluate()

	f.clock.Advance(120 * time.Second)
	f.loop.drain()
	assert.Len(t, f.fired, 2)
}

func TestActivityPostponesInactivity(t *testing.T) {
	f := newFixture(t)
	f.store.Seed([]models.Ticket{{ID: "42", Status: models.StatusAssigned}})
	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "42", StreamOptions{}))
	f.loop.runOne(t)

	f.clock.Advance(100 * time.Second)
	f.sync.Activity()
	f.clock.Advance(100 * time.Second)
	f.sync.Append("42", msg("42", "u", "still here", f.clock.Now()))
	f.clock.Advance(100 * time.Second)
	f.loop.drain()
	assert.Empty(t, f.fired)

	f.clock.Advance(20 * time.Second)
	f.loop.drain()
	assert.Len(t, f.fired, 1)
}

func TestReadOnlyStreamNeverTimesOut(t *testing.T) {
	f := newFixture(t)
	f.store.Seed([]models.Ticket{{ID: "42", Status: models.StatusAssigned}})
	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "42", StreamOptions{ReadOnly: true}))
	f.loop.runOne(t)

	assert.Equal(t, 0, f.clock.Pending())
	f.clock.Advance(time.Hour)
	f.loop.drain()
	assert.Empty(t, f.fired)
}

func TestCloseStreamLeavesRoom(t *testing.T) {
	f := newFixture(t)
	f.store.Seed([]models.Ticket{{ID: "42", Status: models.StatusAssigned}})
	require.NoError(t, f.sync.OpenStream(context.Background(), f.rooms, "42", StreamOptions{}))
	f.loop.runOne(t)
	require.NoError(t, f.sync.CloseStream(context.Background()))

	assert.Equal(t, []string{"join:42", "leave:42"}, f.rooms.log)
	assert.Equal(t, 0, f.clock.Pending())
	_, ok := f.sync.Viewing()
	assert.False(t, ok)
	require.NoError(t, f.sync.CloseStream(context.Background()))
}

func TestGroupByDay(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	msgs := []models.ChatMessage{
		msg("1", "a", "late", time.Date(2025, 6, 1, 21, 30, 0, 0, time.UTC)),
		msg("1", "a", "next", time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)),
		msg("1", "a", "same", time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)),
	}
	groups := GroupByDay(msgs, loc)

	require.Len(t, groups, 2)
	assert.Equal(t, "2025-06-01", groups[0].Date)
	assert.Equal(t, []string{"late"}, bodies(groups[0].Messages))
	assert.Equal(t, "2025-06-02", groups[1].Date)
	assert.Equal(t, []string{"next", "same"}, bodies(groups[1].Messages))
}
