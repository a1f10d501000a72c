package core

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a study session.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusCompleted SessionStatus = "completed"
	StatusMissed    SessionStatus = "missed"
	StatusCancelled SessionStatus = "cancelled"
)

// Lesson is one unit of content scheduled inside a session.
type Lesson struct {
	Title           string `json:"title"`
	Module          string `json:"module,omitempty"`
	DurationMinutes int    `json:"durationMinutes"`
}

// StudySession is a block of study time owned by a plan.
type StudySession struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	PlanID      uuid.UUID
	Title       string
	Description string
	Lessons     []Lesson
	StartTime   time.Time
	EndTime     time.Time
	// ExternalEventID and CalendarProvider are both empty or both set.
	ExternalEventID  string
	CalendarProvider ProviderName
	// ExternalCalendarID is the calendar the event was created in. It is
	// empty for Microsoft and for rows linked before it was recorded.
	ExternalCalendarID string
	Status             SessionStatus
}

// Linked reports whether the session mirrors a remote event.
func (s StudySession) Linked() bool {
	return s.ExternalEventID != "" && s.CalendarProvider != ""
}

// Link attaches the remote event created for the session.
func (s *StudySession) Link(eventID, calendarID string, provider ProviderName) {
	s.ExternalEventID = eventID
	s.ExternalCalendarID = calendarID
	s.CalendarProvider = provider
}

// Unlink clears the remote link. A session whose event disappeared is missed.
func (s *StudySession) Unlink() {
	s.ExternalEventID = ""
	s.ExternalCalendarID = ""
	s.CalendarProvider = ""
	s.Status = StatusMissed
}

// PlanStatus is the lifecycle state of a study plan.
type PlanStatus string

const (
	PlanActive   PlanStatus = "active"
	PlanArchived PlanStatus = "archived"
)

// DefaultTimezone is the IANA zone used when a plan carries none.
const DefaultTimezone = "America/Mexico_City"

// StudyPlan groups sessions and carries the timezone they are scheduled in.
type StudyPlan struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Name     string
	Timezone string
	Status   PlanStatus
}

// UserCalendarEvent is an ad hoc calendar row kept outside the session table.
type UserCalendarEvent struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Title            string
	StartTime        time.Time
	EndTime          time.Time
	GoogleEventID    string
	MicrosoftEventID string
}

// ExternalIDs returns the remote ids the row points at.
func (e UserCalendarEvent) ExternalIDs() []string {
	var ids []string
	if e.GoogleEventID != "" {
		ids = append(ids, e.GoogleEventID)
	}
	if e.MicrosoftEventID != "" {
		ids = append(ids, e.MicrosoftEventID)
	}
	return ids
}

// CalendarIntegration is a stored OAuth credential for one provider.
type CalendarIntegration struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Provider     ProviderName
	AccessToken  string
	RefreshToken string
	// ExpiresAt is nil when unknown; an unknown expiry is treated as expired.
	ExpiresAt     *time.Time
	Scope         string
	CalendarEmail string
	// SecondaryCalendarID caches the platform calendar (Google only).
	SecondaryCalendarID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Expired reports whether the access token must be refreshed before use.
func (c CalendarIntegration) Expired(now time.Time) bool {
	return c.ExpiresAt == nil || !c.ExpiresAt.After(now)
}
