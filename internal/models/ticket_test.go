package models

import (
	"testing"
	"time"

	"github.com/guregu/null/v5"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketDecodesCollaboratorPayload(t *testing.T) {
	raw := `{
		"id": 42,
		"status": "closed",
		"assigned_to": 7,
		"reassigned_to": "9",
		"closure_reason": "resolved",
		"last_message_at": "2025-03-01T10:15:00.123456",
		"subject": "Printer jam",
		"category": "hardware",
		"priority": "high",
		"user_id": 3,
		"created_at": "2025-03-01T09:00:00+05:30"
	}`

	var tk Ticket
	require.NoError(t, json.Unmarshal([]byte(raw), &tk))

	assert.Equal(t, TicketID("42"), tk.ID)
	assert.Equal(t, StatusClosed, tk.Status)
	assert.Equal(t, UserID("7"), tk.Assignee())
	assert.Equal(t, UserID("9"), tk.ReassignedTo.UserID())
	assert.Equal(t, "resolved", tk.ClosureReason.String)
	require.True(t, tk.LastMessageAt.Valid)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 15, 0, 123456000, time.UTC), tk.LastMessageAt.Time.Time)
	assert.Equal(t, 3, tk.CreatedAt.Time.Time.UTC().Hour())
	assert.Equal(t, 0, tk.UnreadCount)
}

func TestTicketDecodesNulls(t *testing.T) {
	var tk Ticket
	require.NoError(t, json.Unmarshal([]byte(`{"id":"5","status":"open","assigned_to":null,"last_message_at":null}`), &tk))
	assert.False(t, tk.AssignedTo.Valid)
	assert.False(t, tk.LastMessageAt.Valid)
	assert.Equal(t, UserID(""), tk.Assignee())
}

func TestTicketMerge(t *testing.T) {
	base := Ticket{ID: "1", Status: StatusAssigned, AssignedTo: IDFrom("A"), UnreadCount: 3, Subject: "x"}
	closed := StatusClosed
	reason := null.StringFrom("done")
	negative := -4

	got := base.Merge(TicketPatch{ID: "1", Status: &closed, ClosureReason: &reason, UnreadCount: &negative})

	assert.Equal(t, StatusClosed, got.Status)
	assert.Equal(t, "done", got.ClosureReason.String)
	assert.Equal(t, UserID("A"), got.Assignee())
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, "x", got.Subject)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("inactive")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, st)

	_, err = ParseStatus("archived")
	assert.Error(t, err)
}

func TestNullIDSame(t *testing.T) {
	assert.True(t, NullID{}.Same(NullID{}))
	assert.True(t, IDFrom("B").Same(IDFrom("B")))
	assert.False(t, IDFrom("B").Same(NullID{}))
	assert.False(t, IDFrom("").Valid)
}

func TestChatMessageDecodeAndKey(t *testing.T) {
	raw := `[
		{"id": 11, "sender_id": 7, "message": "hello", "timestamp": "2025-03-01T10:00:00", "is_system": false},
		{"id": 12, "sender_id": null, "message": "Ticket closed. Reason: done", "timestamp": "2025-03-01T10:05:00Z"}
	]`
	var msgs []ChatMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msgs))
	require.Len(t, msgs, 2)

	assert.Equal(t, MessageID("11"), msgs[0].ID)
	assert.False(t, msgs[0].IsSystem)
	assert.True(t, msgs[1].IsSystem)

	a := ChatMessage{TicketID: "42", SenderID: IDFrom("7"), Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("IST", 19800))}
	b := ChatMessage{TicketID: "42", SenderID: IDFrom("7"), Timestamp: a.Timestamp.UTC(), Body: "different body"}
	assert.Equal(t, a.Key(), b.Key())
}

func TestIdentityDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", Identity{FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	assert.Equal(t, "ops@example.com", Identity{Email: "ops@example.com"}.DisplayName())
	assert.True(t, Identity{Role: RoleMember}.IsStaff())
	assert.False(t, Identity{Role: RoleUser}.IsStaff())
}
