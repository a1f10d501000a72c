package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenStore persists OAuth credentials per (user, provider).
type TokenStore interface {
	// Latest returns the most recently updated integration of the user across providers.
	Latest(ctx context.Context, userID uuid.UUID) (*CalendarIntegration, error)
	// LatestByProvider returns the most recently updated integration for one provider.
	LatestByProvider(ctx context.Context, userID uuid.UUID, p ProviderName) (*CalendarIntegration, error)
	// Save inserts c, or updates the latest row for the same user and provider.
	Save(ctx context.Context, c *CalendarIntegration) error
	// UpdateTokens persists a refreshed credential set.
	UpdateTokens(ctx context.Context, id uuid.UUID, t Tokens) error
	// SetSecondaryCalendar caches the platform calendar id.
	SetSecondaryCalendar(ctx context.Context, id uuid.UUID, calendarID string) error
	// Delete removes the user's integrations, limited to one provider when p is not empty.
	Delete(ctx context.Context, userID uuid.UUID, p ProviderName) (int64, error)
}

// SessionStore is the slice of the study planner's session table the engine touches.
type SessionStore interface {
	GetByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]StudySession, error)
	// ListLinked returns the user's sessions that carry a remote link.
	ListLinked(ctx context.Context, userID uuid.UUID) ([]StudySession, error)
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]StudySession, error)
	// Link records the remote event and the calendar it lives in.
	Link(ctx context.Context, id uuid.UUID, eventID, calendarID string, p ProviderName) error
	// MarkRemoteDeleted clears the link and marks the sessions missed.
	MarkRemoteDeleted(ctx context.Context, ids []uuid.UUID) (int64, error)
	Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) error
	DeleteByPlan(ctx context.Context, planID uuid.UUID) (int64, error)
	DeleteByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
}

// PlanStore reads and deletes study plans.
type PlanStore interface {
	Get(ctx context.Context, id uuid.UUID) (*StudyPlan, error)
	// Active returns the user's active plan, or errs.ErrNotFound.
	Active(ctx context.Context, userID uuid.UUID) (*StudyPlan, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CalendarEventStore accesses ad hoc user calendar rows.
type CalendarEventStore interface {
	// ListExternal returns rows that point at a remote event.
	ListExternal(ctx context.Context, userID uuid.UUID) ([]UserCalendarEvent, error)
	DeleteByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
}
