package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/theakshaypant/studysync/internal/core"
)

// CalendarEventRepo implements core.CalendarEventStore.
type CalendarEventRepo struct{ db *DB }

var _ core.CalendarEventStore = (*CalendarEventRepo)(nil)

func NewCalendarEventRepo(db *DB) *CalendarEventRepo { return &CalendarEventRepo{db: db} }

func (r *CalendarEventRepo) ListExternal(ctx context.Context, userID uuid.UUID) ([]core.UserCalendarEvent, error) {
	const q = `
SELECT id, user_id, title, start_time, end_time, google_event_id, microsoft_event_id
FROM user_calendar_events
WHERE user_id=$1 AND (google_event_id IS NOT NULL OR microsoft_event_id IS NOT NULL)
ORDER BY start_time`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.UserCalendarEvent
	for rows.Next() {
		var (
			e       core.UserCalendarEvent
			gid, ms *string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.StartTime, &e.EndTime, &gid, &ms); err != nil {
			return nil, err
		}
		e.GoogleEventID = deref(gid)
		e.MicrosoftEventID = deref(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *CalendarEventRepo) DeleteByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const q = `DELETE FROM user_calendar_events WHERE user_id=$1 AND id = ANY($2::uuid[])`
	tag, err := r.db.Pool.Exec(ctx, q, userID, idStrings(ids))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
