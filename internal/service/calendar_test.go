package service

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/theakshaypant/studysync/internal/auth"
	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/core/coretest"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/orchestrator"
	"github.com/theakshaypant/studysync/internal/platform"
	"github.com/theakshaypant/studysync/internal/reconcile"
	"github.com/theakshaypant/studysync/internal/token"
)

type env struct {
	store  *coretest.Store
	prov   *coretest.Provider
	svc    *Calendar
	userID uuid.UUID
	now    time.Time
}

func newEnv(t *testing.T, kind core.ProviderName) *env {
	t.Helper()
	store := coretest.NewStore()
	prov := coretest.NewProvider(kind)
	prov.Email = "ana@example.com"
	exp := time.Now().Add(time.Hour)
	prov.ExchangeTokens = core.Tokens{AccessToken: "at", RefreshToken: "rt", ExpiresAt: &exp}

	adapters := core.NewAdapters(prov)
	tokens := token.NewManager(store.Tokens, adapters, nil)
	resolver := platform.NewResolver(adapters, store.Tokens, "", nil)
	orch := orchestrator.New(tokens, adapters, resolver, store, store, orchestrator.WithInterval(0))

	svc := New(Deps{
		Adapters:     adapters,
		Tokens:       tokens,
		Store:        store.Tokens,
		Resolver:     resolver,
		Orchestrator: orch,
		Reconciler:   reconcile.New(store, store, nil),
		Sessions:     store,
		Plans:        store,
		Events:       store,
		States:       auth.NewSigner([]byte("test-key"), time.Minute),
		RedirectURL:  "http://localhost/callback",
	})
	return &env{store: store, prov: prov, svc: svc, userID: uuid.New(), now: time.Now().UTC()}
}

// connect walks the consent round trip through the signed state.
func (e *env) connect(t *testing.T, expectedEmail string) (*core.CalendarIntegration, error) {
	t.Helper()
	raw, err := e.svc.ConnectCalendar(e.userID, e.prov.Kind, expectedEmail)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return e.svc.HandleCallback(context.Background(), Callback{State: u.Query().Get("state"), Code: "code-1"})
}

func (e *env) addSessions(n int) []uuid.UUID {
	plan := e.store.AddPlan(core.StudyPlan{UserID: e.userID, Name: "Finals", Timezone: "America/Mexico_City", Status: core.PlanActive})
	start := e.now.Add(24 * time.Hour).Truncate(time.Hour)
	ids := make([]uuid.UUID, n)
	for i := range n {
		s := e.store.AddSession(core.StudySession{
			UserID: e.userID, PlanID: plan.ID, Title: fmt.Sprintf("S%d", i+1),
			StartTime: start.Add(time.Duration(i) * 3 * time.Hour),
			EndTime:   start.Add(time.Duration(i)*3*time.Hour + time.Hour),
			Status:    core.StatusScheduled,
		})
		ids[i] = s.ID
	}
	return ids
}

func TestEndToEnd_RemoteDeletionDetected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Google)

	integ, err := e.connect(t, "ANA@example.com")
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", integ.CalendarEmail)
	require.NotEmpty(t, integ.SecondaryCalendarID)

	st, err := e.svc.GetStatus(ctx, e.userID)
	require.NoError(t, err)
	require.True(t, st.IsConnected)
	require.Equal(t, core.Google, st.Provider)

	ids := e.addSessions(3)
	res, err := e.svc.SyncSessions(ctx, e.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 3, res.Synced)

	removed, _ := e.store.Session(ids[1])
	e.prov.RemoveEvent(removed.ExternalEventID)

	report, err := e.svc.CheckChanges(ctx, e.userID)
	require.NoError(t, err)
	require.Len(t, report.Changes, 1)
	require.Equal(t, DeletedEvent, report.Changes[0].Type)
	require.Equal(t, ids[1], report.Changes[0].SessionID)
	require.Equal(t, 1, report.DeletedSessions)

	for i, id := range ids {
		s, _ := e.store.Session(id)
		if i == 1 {
			require.False(t, s.Linked())
			require.Equal(t, core.StatusMissed, s.Status)
			continue
		}
		require.True(t, s.Linked(), "session %d stays linked", i+1)
	}

	report, err = e.svc.CheckChanges(ctx, e.userID)
	require.NoError(t, err)
	require.Empty(t, report.Changes, "a second check finds nothing new")
}

func TestCompleteOAuth_EmailMismatchStoresNothing(t *testing.T) {
	e := newEnv(t, core.Microsoft)
	e.prov.Email = "other@contoso.com"

	_, err := e.connect(t, "ana@example.com")
	require.ErrorIs(t, err, errs.ErrEmailMismatch)
	require.Empty(t, e.store.Integrations)
}

func TestHandleCallback_ProviderError(t *testing.T) {
	e := newEnv(t, core.Google)
	raw, err := e.svc.ConnectCalendar(e.userID, core.Google, "")
	require.NoError(t, err)
	u, _ := url.Parse(raw)

	_, err = e.svc.HandleCallback(context.Background(), Callback{
		State:            u.Query().Get("state"),
		Error:            "access_denied",
		ErrorDescription: "Access blocked: StudySync has not completed the Google verification process",
	})
	require.ErrorIs(t, err, errs.ErrAppNotVerified)
	require.Zero(t, e.prov.CallCount("exchange"))

	_, err = e.svc.HandleCallback(context.Background(), Callback{State: "forged", Code: "c"})
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCheckChanges_ModifiedAndResolve(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Microsoft)
	_, err := e.connect(t, "")
	require.NoError(t, err)

	ids := e.addSessions(2)
	_, err = e.svc.SyncSessions(ctx, e.userID, ids)
	require.NoError(t, err)

	s0, _ := e.store.Session(ids[0])
	s1, _ := e.store.Session(ids[1])
	e.prov.MoveEvent(s0.ExternalEventID, 45*time.Minute)
	e.prov.MoveEvent(s1.ExternalEventID, 30*time.Minute)

	report, err := e.svc.CheckChanges(ctx, e.userID)
	require.NoError(t, err)
	require.Equal(t, 2, report.ModifiedSessions)
	for _, c := range report.Changes {
		require.Equal(t, ModifiedEvent, c.Type)
		require.NotNil(t, c.RemoteStart)
		require.NotEmpty(t, c.SuggestedAction)
	}

	require.NoError(t, e.svc.ResolveDrift(ctx, e.userID, ids[0], AcceptRemote))
	got, _ := e.store.Session(ids[0])
	require.Equal(t, s0.StartTime.Add(45*time.Minute), got.StartTime)

	require.NoError(t, e.svc.ResolveDrift(ctx, e.userID, ids[1], KeepLocal))
	require.Equal(t, s1.StartTime, e.prov.Events[s1.ExternalEventID].Start)

	report, err = e.svc.CheckChanges(ctx, e.userID)
	require.NoError(t, err)
	require.Empty(t, report.Changes)

	_, err = ParseDriftChoice("ignore")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestGetAvailability(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Google)
	_, err := e.connect(t, "")
	require.NoError(t, err)

	loc, _ := time.LoadLocation("America/Mexico_City")
	day := time.Date(2030, 5, 6, 0, 0, 0, 0, loc) // Monday
	e.prov.Events["busy"] = core.RemoteEvent{
		ID: "busy", Start: day.Add(10 * time.Hour), End: day.Add(12 * time.Hour),
	}

	days, err := e.svc.GetAvailability(ctx, e.userID, AvailabilityQuery{
		Start:        day,
		End:          day.AddDate(0, 0, 1),
		Weekdays:     []time.Weekday{time.Monday},
		WorkingHours: core.TimeBlock{StartHour: 9, EndHour: 17},
	})
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Equal(t, 120, days[0].TotalBusyMinutes)
	require.Equal(t, 360, days[0].TotalFreeMinutes)

	slots, err := e.svc.FindFreeSlots(ctx, e.userID, AvailabilityQuery{
		Start: day, End: day, WorkingHours: core.TimeBlock{StartHour: 9, EndHour: 17},
	}, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, slots, 1, "only the afternoon block is long enough")

	_, err = e.svc.GetAvailability(ctx, e.userID, AvailabilityQuery{Start: day, End: day, Timezone: "Mars/Olympus"})
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestGetAvailability_DatesAreLocalDays(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Google)
	_, err := e.connect(t, "")
	require.NoError(t, err)

	loc, _ := time.LoadLocation("America/Mexico_City")
	busy := time.Date(2030, 5, 6, 10, 0, 0, 0, loc)
	e.prov.Events["busy"] = core.RemoteEvent{ID: "busy", Start: busy, End: busy.Add(time.Hour)}

	// Dates as the API and CLI parse them: midnight UTC.
	days, err := e.svc.GetAvailability(ctx, e.userID, AvailabilityQuery{
		Start:    time.Date(2030, 5, 6, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2030, 5, 7, 0, 0, 0, 0, time.UTC),
		Timezone: "America/Mexico_City",
	})
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Equal(t, "2030-05-06", days[0].Date)
	require.Equal(t, time.Monday, days[0].Weekday)
	require.Equal(t, 60, days[0].TotalBusyMinutes)
	require.Equal(t, "2030-05-07", days[1].Date)

	_, err = e.svc.GetAvailability(ctx, e.userID, AvailabilityQuery{
		Start: time.Date(2030, 5, 7, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2030, 5, 6, 23, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCompleteOAuth_OtherAccountGetsItsOwnPlatformCalendar(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Google)
	first, err := e.connect(t, "")
	require.NoError(t, err)
	old := first.SecondaryCalendarID
	require.NotEmpty(t, old)

	again, err := e.connect(t, "")
	require.NoError(t, err)
	require.Equal(t, old, again.SecondaryCalendarID, "same account keeps its calendar")

	// The second account cannot see the first account's calendar.
	e.prov.RemoveCalendar(old)
	e.prov.Email = "bob@example.com"
	second, err := e.connect(t, "")
	require.NoError(t, err)
	require.NotEmpty(t, second.SecondaryCalendarID)
	require.NotEqual(t, old, second.SecondaryCalendarID)

	ids := e.addSessions(1)
	res, err := e.svc.SyncSessions(ctx, e.userID, ids)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced, res.Errors)
	require.Len(t, e.prov.InCalendar(second.SecondaryCalendarID), 1)
}

func TestCleanupRemoteOrphans(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Google)
	_, err := e.connect(t, "")
	require.NoError(t, err)
	ids := e.addSessions(2)
	_, err = e.svc.SyncSessions(ctx, e.userID, ids)
	require.NoError(t, err)

	gone, _ := e.store.Session(ids[0])
	delete(e.store.Sessions, ids[0])

	res, err := e.svc.CleanupRemoteOrphans(ctx, e.userID)
	require.NoError(t, err)
	require.Equal(t, 1, res.Deleted)
	require.NotContains(t, e.prov.Events, gone.ExternalEventID)
	require.Len(t, e.prov.Events, 1)
}

func TestDeletePlan_ChecksOwnership(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Google)
	_, err := e.connect(t, "")
	require.NoError(t, err)
	ids := e.addSessions(2)
	_, err = e.svc.SyncSessions(ctx, e.userID, ids)
	require.NoError(t, err)
	s, _ := e.store.Session(ids[0])

	_, err = e.svc.DeletePlan(ctx, uuid.New(), s.PlanID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	res, err := e.svc.DeletePlan(ctx, e.userID, s.PlanID)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.DeletedSessions)
	require.Equal(t, 2, res.DeletedRemoteEvents)
	require.Empty(t, e.prov.Events)
}

func TestDisconnectCalendar(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, core.Google)
	_, err := e.connect(t, "")
	require.NoError(t, err)

	n, err := e.svc.DisconnectCalendar(ctx, e.userID, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	st, err := e.svc.GetStatus(ctx, e.userID)
	require.NoError(t, err)
	require.False(t, st.IsConnected)

	_, err = e.svc.CheckChanges(ctx, e.userID)
	require.ErrorIs(t, err, errs.ErrNotConnected)
}
