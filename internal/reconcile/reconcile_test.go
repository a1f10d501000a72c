package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/core/coretest"
)

var t0 = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

func linked(eventID string, start time.Time) core.StudySession {
	return core.StudySession{
		ID: uuid.New(), UserID: uuid.New(), StartTime: start, EndTime: start.Add(time.Hour),
		ExternalEventID: eventID, CalendarProvider: core.Google, Status: core.StatusScheduled,
	}
}

func remote(id string, start time.Time) core.RemoteEvent {
	return core.RemoteEvent{ID: id, Start: start, End: start.Add(time.Hour)}
}

func TestClassify_DeletedRemotely(t *testing.T) {
	s := linked("E1", t0)
	res := Classify(Input{Provider: core.Google, Sessions: []core.StudySession{s}, Remote: []core.RemoteEvent{remote("E2", t0)}})
	require.Len(t, res.DeletedRemotely, 1)
	require.Equal(t, s.ID, res.DeletedRemotely[0].ID)
	require.Empty(t, res.ModifiedRemotely)
}

func TestClassify_RecurrenceSuffixMatches(t *testing.T) {
	s := linked("E1", t0)
	res := Classify(Input{Provider: core.Google, Sessions: []core.StudySession{s}, Remote: []core.RemoteEvent{remote("E1_20240101", t0)}})
	require.True(t, res.Empty())
}

func TestClassify_Tolerance(t *testing.T) {
	within := linked("A", t0)
	moved := linked("B", t0)
	res := Classify(Input{
		Provider: core.Google,
		Sessions: []core.StudySession{within, moved},
		Remote: []core.RemoteEvent{
			remote("A", t0.Add(Tolerance)),
			remote("B", t0.Add(Tolerance+time.Second)),
		},
	})
	require.Empty(t, res.DeletedRemotely)
	require.Len(t, res.ModifiedRemotely, 1)
	require.Equal(t, moved.ID, res.ModifiedRemotely[0].Session.ID)
	require.Equal(t, Tolerance+time.Second, res.ModifiedRemotely[0].Delta)
}

func TestClassify_NearestRecurringInstance(t *testing.T) {
	s := linked("R", t0)
	res := Classify(Input{
		Provider: core.Google,
		Sessions: []core.StudySession{s},
		Remote: []core.RemoteEvent{
			remote("R_20240303", t0.AddDate(0, 0, -7)),
			remote("R_20240310", t0.Add(2*time.Minute)),
		},
	})
	require.True(t, res.Empty())
}

func TestClassify_CancelledCountsAsDeleted(t *testing.T) {
	s := linked("E1", t0)
	ev := remote("E1", t0)
	ev.Cancelled = true
	res := Classify(Input{Provider: core.Google, Sessions: []core.StudySession{s}, Remote: []core.RemoteEvent{ev}})
	require.Len(t, res.DeletedRemotely, 1)
}

func TestClassify_OutsideWindowAndOtherProviderSkipped(t *testing.T) {
	old := linked("OLD", t0.AddDate(0, 0, -1))
	ms := linked("MS", t0)
	ms.CalendarProvider = core.Microsoft
	unlinked := core.StudySession{ID: uuid.New(), StartTime: t0}

	res := Classify(Input{
		Provider: core.Google,
		Sessions: []core.StudySession{old, ms, unlinked},
		From:     t0.Add(-time.Hour),
		To:       t0.AddDate(0, 0, 60),
		LocalEvents: []core.UserCalendarEvent{
			{ID: uuid.New(), GoogleEventID: "OLD"},
		},
	})
	require.True(t, res.Empty(), "sessions outside the window still keep their rows alive")
}

func TestClassify_Orphans(t *testing.T) {
	s := linked("E1", t0)
	keep := core.UserCalendarEvent{ID: uuid.New(), GoogleEventID: "E1_20240310"}
	orphan := core.UserCalendarEvent{ID: uuid.New(), GoogleEventID: "GONE", MicrosoftEventID: "ALSO_GONE"}
	plain := core.UserCalendarEvent{ID: uuid.New()}

	res := Classify(Input{
		Provider:    core.Google,
		Sessions:    []core.StudySession{s},
		Remote:      []core.RemoteEvent{remote("E1", t0)},
		LocalEvents: []core.UserCalendarEvent{keep, orphan, plain},
	})
	require.Len(t, res.OrphanedLocal, 1)
	require.Equal(t, orphan.ID, res.OrphanedLocal[0].ID)
}

func TestReconciler_AppliesSideEffects(t *testing.T) {
	store := coretest.NewStore()
	userID := uuid.New()

	gone := linked("E1", t0)
	gone.UserID = userID
	store.AddSession(gone)
	moved := linked("E2", t0)
	moved.UserID = userID
	store.AddSession(moved)
	orphan := store.AddEvent(core.UserCalendarEvent{UserID: userID, GoogleEventID: "X"})

	sessions, err := store.ListLinked(context.Background(), userID)
	require.NoError(t, err)
	events, err := store.ListExternal(context.Background(), userID)
	require.NoError(t, err)

	r := New(store, store, nil)
	res, err := r.Reconcile(context.Background(), userID, Input{
		Provider:    core.Google,
		Sessions:    sessions,
		Remote:      []core.RemoteEvent{remote("E2", t0.Add(time.Hour))},
		LocalEvents: events,
	})
	require.NoError(t, err)
	require.Len(t, res.DeletedRemotely, 1)
	require.Len(t, res.ModifiedRemotely, 1)
	require.Len(t, res.OrphanedLocal, 1)

	got, ok := store.Session(gone.ID)
	require.True(t, ok)
	require.Empty(t, got.ExternalEventID)
	require.Empty(t, got.CalendarProvider)
	require.Equal(t, core.StatusMissed, got.Status)

	got, ok = store.Session(moved.ID)
	require.True(t, ok)
	require.True(t, got.Linked(), "moved sessions are left untouched")
	require.Equal(t, t0, got.StartTime)

	require.NotContains(t, store.Events, orphan.ID)
}
