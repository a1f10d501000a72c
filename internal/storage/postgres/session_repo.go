package postgres

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

// SessionRepo implements core.SessionStore.
type SessionRepo struct{ db *DB }

var _ core.SessionStore = (*SessionRepo)(nil)

func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionCols = `id, user_id, plan_id, title, description, lessons, start_time, end_time,
external_event_id, external_calendar_id, calendar_provider, status`

func scanSession(row scanner) (core.StudySession, error) {
	var (
		s                     core.StudySession
		desc, extID, calID    *string
		provider              *string
		lessons               []byte
		status                string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.Title, &desc, &lessons, &s.StartTime, &s.EndTime,
		&extID, &calID, &provider, &status); err != nil {
		return s, err
	}
	if len(lessons) > 0 {
		if err := json.Unmarshal(lessons, &s.Lessons); err != nil {
			return s, fmt.Errorf("decode lessons of session %s: %w", s.ID, err)
		}
	}
	s.Description = deref(desc)
	s.ExternalEventID = deref(extID)
	s.ExternalCalendarID = deref(calID)
	s.CalendarProvider = core.ProviderName(deref(provider))
	s.Status = core.SessionStatus(status)
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]core.StudySession, error) {
	defer rows.Close()
	var out []core.StudySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetByIDs returns the user's sessions among ids ordered by start time.
// Ids owned by another user are silently dropped.
func (r *SessionRepo) GetByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]core.StudySession, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
SELECT ` + sessionCols + `
FROM study_sessions
WHERE user_id=$1 AND id = ANY($2::uuid[])
ORDER BY start_time`
	rows, err := r.db.Pool.Query(ctx, q, userID, idStrings(ids))
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepo) ListLinked(ctx context.Context, userID uuid.UUID) ([]core.StudySession, error) {
	const q = `
SELECT ` + sessionCols + `
FROM study_sessions
WHERE user_id=$1 AND external_event_id IS NOT NULL
ORDER BY start_time`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepo) ListByPlan(ctx context.Context, planID uuid.UUID) ([]core.StudySession, error) {
	const q = `
SELECT ` + sessionCols + `
FROM study_sessions
WHERE plan_id=$1
ORDER BY start_time`
	rows, err := r.db.Pool.Query(ctx, q, planID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// Link writes the remote event id, its calendar and the provider together.
// calendarID may be empty for providers with a single calendar.
func (r *SessionRepo) Link(ctx context.Context, id uuid.UUID, eventID, calendarID string, p core.ProviderName) error {
	if eventID == "" || p == "" {
		return errs.New(errs.CodeInvalidInput, "event id and provider are set together")
	}
	const q = `
UPDATE study_sessions
SET external_event_id=$2, external_calendar_id=$3, calendar_provider=$4, updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, eventID, nullable(calendarID), string(p))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) MarkRemoteDeleted(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const q = `
UPDATE study_sessions
SET external_event_id=NULL, external_calendar_id=NULL, calendar_provider=NULL,
    status='missed', updated_at=now()
WHERE id = ANY($1::uuid[])`
	tag, err := r.db.Pool.Exec(ctx, q, idStrings(ids))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	if !end.After(start) {
		return errs.New(errs.CodeInvalidInput, "session must end after it starts")
	}
	const q = `UPDATE study_sessions SET start_time=$2, end_time=$3, updated_at=now() WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) DeleteByPlan(ctx context.Context, planID uuid.UUID) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM study_sessions WHERE plan_id=$1`, planID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) DeleteByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const q = `DELETE FROM study_sessions WHERE user_id=$1 AND id = ANY($2::uuid[])`
	tag, err := r.db.Pool.Exec(ctx, q, userID, idStrings(ids))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
