package core

import (
	"strings"
	"time"
)

// ProviderName identifies a calendar provider.
type ProviderName string

const (
	Google    ProviderName = "google"
	Microsoft ProviderName = "microsoft"
)

// ParseProvider validates a provider name coming from user input.
func ParseProvider(s string) (ProviderName, bool) {
	switch ProviderName(strings.ToLower(strings.TrimSpace(s))) {
	case Google:
		return Google, true
	case Microsoft, "outlook":
		return Microsoft, true
	}
	return "", false
}

// PrimaryCalendarID is the Google alias for the user's main calendar.
const PrimaryCalendarID = "primary"

// CalendarRef describes a calendar visible to the connected account.
type CalendarRef struct {
	// Calendar ID (e.g., "primary", "user@example.com", a generated id)
	ID string
	// Human-readable name
	Name string
	// Primary is true for the account's main calendar
	Primary bool
	// AccessRole as reported by the provider ("owner", "writer", "reader", ...)
	AccessRole string
}

// Writable reports whether events may be created in the calendar.
func (c CalendarRef) Writable() bool {
	return c.Primary || c.AccessRole == "owner" || c.AccessRole == "writer"
}

// RemoteEvent is an event as returned by a provider. It is never persisted.
type RemoteEvent struct {
	// Unique ID (provided by the source); may carry a recurrence suffix
	ID         string
	Title      string
	CalendarID string
	Start      time.Time
	End        time.Time
	AllDay     bool
	Cancelled  bool
	// SessionID is the study session tag the engine stored on the event, if any.
	SessionID string
}

// Duration returns the length of the event.
func (e RemoteEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// CanonicalEventID strips the recurrence suffix from a remote event id.
// Instances of a recurring event share the part before the first "_".
func CanonicalEventID(raw string) string {
	if i := strings.IndexByte(raw, '_'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// EventPayload is the provider-neutral body of a create or update call.
// Start and End are local wall-clock strings in TimeZone, never UTC instants.
type EventPayload struct {
	Title       string
	Description string
	// Local wall clock, "2006-01-02T15:04:05"
	Start    string
	End      string
	TimeZone string
	// Minutes before start for a popup reminder; 0 disables it
	ReminderMinutes int
	// SessionID tags the remote event with the session it mirrors.
	SessionID string
}

// TimeBlock is a span inside a single calendar day.
type TimeBlock struct {
	StartHour   int `json:"startHour"`
	StartMinute int `json:"startMinute"`
	EndHour     int `json:"endHour"`
	EndMinute   int `json:"endMinute"`
}

// Minutes returns the length of the block.
func (b TimeBlock) Minutes() int {
	return (b.EndHour*60 + b.EndMinute) - (b.StartHour*60 + b.StartMinute)
}

// Tokens is the credential set returned by a provider token endpoint.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is nil when the provider did not report an expiry.
	ExpiresAt *time.Time
	Scope     string
}
