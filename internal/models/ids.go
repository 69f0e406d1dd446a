package models

import (
	"strings"
	"time"

	"github.com/guregu/null/v5"

	"github.com/goatkit/ticketsync/internal/convert"
)

// TicketID identifies a ticket. The collaborator sends numbers on some
// endpoints and strings on others; both decode to the same value.
type TicketID string

// UnmarshalJSON accepts a JSON number or string.
func (id *TicketID) UnmarshalJSON(b []byte) error {
	s, _, err := convert.ParseID(b)
	if err != nil {
		return err
	}
	*id = TicketID(s)
	return nil
}

func (id TicketID) String() string { return string(id) }

// UserID identifies a staff member or end user.
type UserID string

// UnmarshalJSON accepts a JSON number or string.
func (id *UserID) UnmarshalJSON(b []byte) error {
	s, _, err := convert.ParseID(b)
	if err != nil {
		return err
	}
	*id = UserID(s)
	return nil
}

func (id UserID) String() string { return string(id) }

// NullID is a nullable UserID that decodes from number, string or null.
type NullID struct {
	null.String
}

// IDFrom returns a valid NullID for id, or a null one when id is empty.
func IDFrom(id UserID) NullID {
	return NullID{null.NewString(string(id), id != "")}
}

// UserID returns the identifier, empty when null.
func (n NullID) UserID() UserID {
	if !n.Valid {
		return ""
	}
	return UserID(n.String.String)
}

// Same reports whether both are null or both hold the same id.
func (n NullID) Same(other NullID) bool {
	return n.Valid == other.Valid && (!n.Valid || n.String.String == other.String.String)
}

// UnmarshalJSON accepts a JSON number, string or null.
func (n *NullID) UnmarshalJSON(b []byte) error {
	s, present, err := convert.ParseID(b)
	if err != nil {
		return err
	}
	n.String = null.NewString(s, present)
	return nil
}

// NullTime is a nullable instant. Besides RFC 3339 it accepts ISO
// timestamps without a zone, which are read as UTC.
type NullTime struct {
	null.Time
}

// TimeFrom returns a valid NullTime.
func TimeFrom(t time.Time) NullTime {
	return NullTime{null.TimeFrom(t)}
}

// UnmarshalJSON decodes RFC 3339, zoneless ISO 8601 or null.
func (n *NullTime) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		n.Time = null.Time{}
		return nil
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	n.Time = null.TimeFrom(t)
	return nil
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the timestamp shapes the collaborator emits.
func ParseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if zt, zerr := time.ParseInLocation(layout, raw, time.UTC); zerr == nil {
			return zt, nil
		}
	}
	return time.Time{}, err
}
