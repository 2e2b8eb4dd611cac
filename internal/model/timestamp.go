package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// zonelessLayout matches timestamps the server writes without an offset,
// e.g. "2024-05-01T10:00:00.123456". They are interpreted as UTC.
const zonelessLayout = "2006-01-02T15:04:05.999999999"

// Timestamp is a time.Time that also accepts zone-less ISO 8601 values.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses an RFC 3339 or zone-less ISO 8601 timestamp.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{Time: t}, nil
	}
	t, err := time.ParseInLocation(zonelessLayout, s, time.UTC)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return Timestamp{Time: t}, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}

	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Display formats the timestamp in local time as day/month/year hour:minute.
func (t Timestamp) Display() string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("02/01/2006 15:04")
}
