package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/core/coretest"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/platform"
	"github.com/theakshaypant/studysync/internal/token"
)

type fixture struct {
	store  *coretest.Store
	prov   *coretest.Provider
	orch   *Orchestrator
	userID uuid.UUID
	plan   *core.StudyPlan
}

func newFixture(t *testing.T, kind core.ProviderName) *fixture {
	t.Helper()
	store := coretest.NewStore()
	prov := coretest.NewProvider(kind)
	userID := uuid.New()
	exp := time.Now().Add(time.Hour)
	store.Integrations = append(store.Integrations, &core.CalendarIntegration{
		ID: uuid.New(), UserID: userID, Provider: kind, AccessToken: "at", RefreshToken: "rt", ExpiresAt: &exp,
	})

	adapters := core.NewAdapters(prov)
	tokens := token.NewManager(store.Tokens, adapters, nil)
	resolver := platform.NewResolver(adapters, store.Tokens, "", nil)
	orch := New(tokens, adapters, resolver, store, store, WithInterval(0))

	plan := store.AddPlan(core.StudyPlan{UserID: userID, Name: "Finals", Timezone: "America/Mexico_City"})
	return &fixture{store: store, prov: prov, orch: orch, userID: userID, plan: plan}
}

func (f *fixture) addSessions(n int) []uuid.UUID {
	start := time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, n)
	for i := range n {
		s := f.store.AddSession(core.StudySession{
			UserID: f.userID, PlanID: f.plan.ID, Title: fmt.Sprintf("S%d", i+1),
			StartTime: start.Add(time.Duration(i) * 2 * time.Hour),
			EndTime:   start.Add(time.Duration(i)*2*time.Hour + time.Hour),
		})
		ids[i] = s.ID
	}
	return ids
}

func TestSyncSessions_PartialFailure(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(5)
	f.prov.CreateErr = func(p core.EventPayload) error {
		if p.Title == "S3" {
			return errs.New(errs.CodeRemoteUnavailable, "google calendar: 500 backendError")
		}
		return nil
	}

	res, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 4, res.Synced)
	require.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "S3")
	require.Equal(t, 5, f.prov.CallCount("create"), "#4 and #5 are still attempted")

	for i, id := range ids {
		s, ok := f.store.Session(id)
		require.True(t, ok)
		require.Equal(t, i != 2, s.Linked(), "session %d", i+1)
	}
}

func TestSyncSessions_UsesPlatformCalendarAndLocalTime(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(1)

	_, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 1, f.prov.CallCount("createCalendar"))

	s, _ := f.store.Session(ids[0])
	ev := f.prov.Events[s.ExternalEventID]
	require.NotEqual(t, core.PrimaryCalendarID, ev.CalendarID)
	require.Equal(t, s.StartTime, ev.Start)
	require.Equal(t, s.ID.String(), ev.SessionID)
}

func TestSyncSessions_UpdatesLinkedInPlace(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(2)

	_, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)
	require.Len(t, f.prov.Events, 2)

	res, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 2, res.Synced)
	require.Len(t, f.prov.Events, 2, "no duplicates")
	require.Equal(t, 2, f.prov.CallCount("update"))
}

func TestSyncSessions_RecreatesMissingEvent(t *testing.T) {
	f := newFixture(t, core.Microsoft)
	ids := f.addSessions(1)

	_, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)
	first, _ := f.store.Session(ids[0])
	f.prov.RemoveEvent(first.ExternalEventID)

	res, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)

	second, _ := f.store.Session(ids[0])
	require.NotEqual(t, first.ExternalEventID, second.ExternalEventID)
	require.Len(t, f.prov.Events, 1)
	require.Zero(t, f.prov.CallCount("createCalendar"), "Microsoft writes to the default calendar")
}

func TestSyncSessions_UnknownAndForeignIDsFail(t *testing.T) {
	f := newFixture(t, core.Google)
	other := f.store.AddSession(core.StudySession{UserID: uuid.New(), Title: "theirs",
		StartTime: time.Now(), EndTime: time.Now().Add(time.Hour)})

	res, err := f.orch.SyncSessions(context.Background(), f.userID, []uuid.UUID{uuid.New(), other.ID})
	require.NoError(t, err)
	require.Equal(t, 0, res.Synced)
	require.Equal(t, 2, res.Failed)
	require.Zero(t, f.prov.CallCount("create "))
}

func TestSyncSessions_NotConnected(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(1)
	_, err := f.orch.SyncSessions(context.Background(), uuid.New(), ids)
	require.NoError(t, err, "sessions of another user are simply not found")

	f.store.Integrations = nil
	_, err = f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.ErrorIs(t, err, errs.ErrNotConnected)
}

func TestSyncSessions_CancelledContext(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(3)

	ctx, cancel := context.WithCancel(context.Background())
	f.prov.CreateErr = func(p core.EventPayload) error {
		if p.Title == "S1" {
			cancel()
		}
		return nil
	}
	res, err := f.orch.SyncSessions(ctx, f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	require.Equal(t, 2, res.Failed)
}

func TestDeletePlan_Order(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(3)
	_, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)

	// One event is already gone and one is locked by the calendar owner.
	s1, _ := f.store.Session(ids[0])
	s2, _ := f.store.Session(ids[1])
	f.prov.RemoveEvent(s1.ExternalEventID)
	f.prov.SoftDelete[s2.ExternalEventID] = true

	res, err := f.orch.DeletePlan(context.Background(), f.plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, res.DeletedSessions)
	require.Equal(t, 2, res.DeletedRemoteEvents)
	require.Len(t, res.SoftFailures, 1)
	require.Equal(t, 3, f.prov.CallCount("delete"))

	require.Empty(t, f.store.Sessions)
	require.NotContains(t, f.store.Plans, f.plan.ID)
}

func TestDeletePlan_DisconnectedStillDeletesLocally(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(2)
	_, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)
	f.store.Integrations = nil

	res, err := f.orch.DeletePlan(context.Background(), f.plan.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.DeletedSessions)
	require.Zero(t, res.DeletedRemoteEvents)
	require.Len(t, f.prov.Events, 2)
}

func TestDeleteSessions(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(3)
	_, err := f.orch.SyncSessions(context.Background(), f.userID, ids[:2])
	require.NoError(t, err)

	res, err := f.orch.DeleteSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)
	require.EqualValues(t, 3, res.DeletedSessions)
	require.Equal(t, 2, res.DeletedRemoteEvents)
	require.Empty(t, f.prov.Events)
}

func TestAcceptRemoteTimeAndPush(t *testing.T) {
	f := newFixture(t, core.Google)
	ids := f.addSessions(1)
	_, err := f.orch.SyncSessions(context.Background(), f.userID, ids)
	require.NoError(t, err)

	s, _ := f.store.Session(ids[0])
	newStart := s.StartTime.Add(90 * time.Minute)
	require.NoError(t, f.orch.AcceptRemoteTime(context.Background(), f.userID, s.ID, newStart, newStart.Add(time.Hour)))
	got, _ := f.store.Session(s.ID)
	require.Equal(t, newStart, got.StartTime)

	require.NoError(t, f.orch.PushSession(context.Background(), f.userID, s.ID))
	require.Equal(t, newStart, f.prov.Events[s.ExternalEventID].Start)

	require.ErrorIs(t, f.orch.AcceptRemoteTime(context.Background(), uuid.New(), s.ID, newStart, newStart), errs.ErrNotFound)
}

func TestSyncSessions_UpdatesEventWhereItLives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, core.Google)
	ids := f.addSessions(1)

	// Calendar discovery is down, so the first sync lands in primary.
	f.prov.ListCalendarsErr = errs.New(errs.CodeRemoteUnavailable, "google calendar: 503 backendError")
	res, err := f.orch.SyncSessions(ctx, f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	s, _ := f.store.Session(ids[0])
	require.Equal(t, core.PrimaryCalendarID, s.ExternalCalendarID)

	f.prov.ListCalendarsErr = nil
	res, err = f.orch.SyncSessions(ctx, f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	require.Len(t, f.prov.Events, 1, "no duplicate in the platform calendar")
	require.Len(t, f.prov.InCalendar(core.PrimaryCalendarID), 1)
	require.Equal(t, 1, f.prov.CallCount("create "))

	lists, calendars := f.prov.CallCount("listCalendars"), f.prov.CallCount("createCalendar")
	del, err := f.orch.DeletePlan(ctx, f.plan.ID)
	require.NoError(t, err)
	require.Equal(t, 1, del.DeletedRemoteEvents)
	require.Empty(t, f.prov.Events)
	require.Equal(t, lists, f.prov.CallCount("listCalendars"), "deletes do not resolve the platform calendar")
	require.Equal(t, calendars, f.prov.CallCount("createCalendar"))
}

func TestDeleteSessions_LegacyRowUsesCachedCalendar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, core.Google)
	ids := f.addSessions(1)
	_, err := f.orch.SyncSessions(ctx, f.userID, ids)
	require.NoError(t, err)

	// Rows linked before the calendar was recorded carry none.
	f.store.Sessions[ids[0]].ExternalCalendarID = ""

	res, err := f.orch.DeleteSessions(ctx, f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 1, res.DeletedRemoteEvents)
	require.Empty(t, f.prov.Events)
}

func TestSyncSessions_PlatformCalendarDeletedByUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, core.Google)
	ids := f.addSessions(2)
	_, err := f.orch.SyncSessions(ctx, f.userID, ids[:1])
	require.NoError(t, err)
	first, _ := f.store.Session(ids[0])
	old := first.ExternalCalendarID
	require.NotEqual(t, core.PrimaryCalendarID, old)

	f.prov.RemoveCalendar(old)

	res, err := f.orch.SyncSessions(ctx, f.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 2, res.Synced, res.Errors)
	require.Equal(t, 2, f.prov.CallCount("createCalendar"))

	cached := f.store.Integrations[0].SecondaryCalendarID
	require.NotEmpty(t, cached)
	require.NotEqual(t, old, cached)
	for _, id := range ids {
		s, _ := f.store.Session(id)
		require.Equal(t, cached, s.ExternalCalendarID)
	}
	require.Len(t, f.prov.InCalendar(cached), 2)
}

func TestCleanupOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, core.Google)
	f.orch.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	ids := f.addSessions(3)
	_, err := f.orch.SyncSessions(ctx, f.userID, ids)
	require.NoError(t, err)

	// The row went away but its event stayed, as after an interrupted plan deletion.
	gone, _ := f.store.Session(ids[0])
	delete(f.store.Sessions, ids[0])

	kept, _ := f.store.Session(ids[1])
	at := kept.StartTime.Add(24 * time.Hour)
	f.prov.Events["dup"] = core.RemoteEvent{ID: "dup_20240312", CalendarID: kept.ExternalCalendarID,
		SessionID: kept.ID.String(), Start: at, End: at.Add(time.Hour)}
	f.prov.Events["mine"] = core.RemoteEvent{ID: "mine", CalendarID: kept.ExternalCalendarID,
		Start: at, End: at.Add(time.Hour)}

	res, err := f.orch.CleanupOrphans(ctx, f.userID)
	require.NoError(t, err)
	require.Equal(t, 4, res.Scanned)
	require.Equal(t, 2, res.OrphansFound)
	require.Equal(t, 2, res.Deleted)
	require.Empty(t, res.Errors)

	require.NotContains(t, f.prov.Events, gone.ExternalEventID)
	require.NotContains(t, f.prov.Events, "dup")
	require.Contains(t, f.prov.Events, "mine", "untagged events are left alone")
	require.Contains(t, f.prov.Events, kept.ExternalEventID)
	require.Len(t, f.prov.Events, 3)

	res, err = f.orch.CleanupOrphans(ctx, f.userID)
	require.NoError(t, err)
	require.Zero(t, res.OrphansFound)
}

func TestCleanupOrphans_SoftFailureAndNotConnected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, core.Microsoft)
	f.orch.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	ids := f.addSessions(1)
	_, err := f.orch.SyncSessions(ctx, f.userID, ids)
	require.NoError(t, err)
	s, _ := f.store.Session(ids[0])
	delete(f.store.Sessions, ids[0])
	f.prov.SoftDelete[s.ExternalEventID] = true

	res, err := f.orch.CleanupOrphans(ctx, f.userID)
	require.NoError(t, err)
	require.Equal(t, 1, res.OrphansFound)
	require.Zero(t, res.Deleted)
	require.Len(t, res.SoftFailures, 1)

	f.store.Integrations = nil
	_, err = f.orch.CleanupOrphans(ctx, f.userID)
	require.ErrorIs(t, err, errs.ErrNotConnected)
}
