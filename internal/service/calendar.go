// Package service exposes the calendar engine as one facade used by the HTTP
// API and the CLI.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theakshaypant/studysync/internal/adapter"
	"github.com/theakshaypant/studysync/internal/auth"
	"github.com/theakshaypant/studysync/internal/availability"
	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/orchestrator"
	"github.com/theakshaypant/studysync/internal/reconcile"
	"github.com/theakshaypant/studysync/internal/token"
)

// DefaultCheckWindow is how far ahead CheckChanges looks.
const DefaultCheckWindow = 60 * 24 * time.Hour

// StateCodec signs and verifies the OAuth state parameter.
type StateCodec interface {
	SignState(st auth.State) (string, error)
	ParseState(state string) (auth.State, error)
}

// Deps are the collaborators of a Calendar.
type Deps struct {
	Adapters     core.Adapters
	Tokens       *token.Manager
	Store        core.TokenStore
	Resolver     orchestrator.CalendarResolver
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *reconcile.Reconciler
	Sessions     core.SessionStore
	Plans        core.PlanStore
	Events       core.CalendarEventStore
	States       StateCodec

	RedirectURL     string
	CheckWindow     time.Duration
	DefaultTimezone string
	Log             *zap.Logger
	Now             func() time.Time
}

// Calendar implements the inbound operations of the engine.
type Calendar struct {
	d   Deps
	log *zap.Logger
	now func() time.Time
}

// New creates a Calendar.
func New(d Deps) *Calendar {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.CheckWindow <= 0 {
		d.CheckWindow = DefaultCheckWindow
	}
	if d.DefaultTimezone == "" {
		d.DefaultTimezone = core.DefaultTimezone
	}
	return &Calendar{d: d, log: d.Log, now: d.Now}
}

// ConnectCalendar returns the consent URL that starts the OAuth flow.
// expectedEmail, when set, must match the calendar account on completion.
func (c *Calendar) ConnectCalendar(userID uuid.UUID, p core.ProviderName, expectedEmail string) (string, error) {
	ad, err := c.d.Adapters.For(p)
	if err != nil {
		return "", errs.Wrap(errs.CodeInvalidInput, "provider not configured", err)
	}
	state, err := c.d.States.SignState(auth.State{UserID: userID, Provider: p, Email: expectedEmail})
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return ad.AuthURL(state, c.d.RedirectURL), nil
}

// Callback is what the provider sends to the redirect URI.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// HandleCallback verifies the state and completes the flow it started.
func (c *Calendar) HandleCallback(ctx context.Context, cb Callback) (*core.CalendarIntegration, error) {
	st, err := c.d.States.ParseState(cb.State)
	if err != nil {
		return nil, err
	}
	if cb.Error != "" {
		err := adapter.ClassifyCallbackError(cb.Error, cb.ErrorDescription, nil)
		c.log.Error("oauth consent failed",
			zap.String("user_id", st.UserID.String()),
			zap.String("provider", string(st.Provider)),
			zap.Error(err))
		return nil, err
	}
	return c.CompleteOAuth(ctx, st.UserID, st.Provider, cb.Code, st.Email)
}

// CompleteOAuth exchanges code for tokens and stores the integration. When
// expectedEmail is set the calendar account must match it, ignoring case;
// if the identity cannot be fetched nothing is stored.
func (c *Calendar) CompleteOAuth(ctx context.Context, userID uuid.UUID, p core.ProviderName, code, expectedEmail string) (*core.CalendarIntegration, error) {
	log := c.log.With(zap.String("user_id", userID.String()), zap.String("provider", string(p)))
	if strings.TrimSpace(code) == "" {
		return nil, errs.New(errs.CodeInvalidInput, "authorization code is required")
	}
	ad, err := c.d.Adapters.For(p)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, "provider not configured", err)
	}

	tokens, err := ad.ExchangeCode(ctx, code, c.d.RedirectURL)
	if err != nil {
		log.Error("code exchange failed", zap.Error(err))
		return nil, err
	}

	email, err := ad.FetchIdentityEmail(ctx, tokens.AccessToken)
	if err != nil {
		log.Error("identity lookup failed", zap.Error(err))
		if expectedEmail != "" {
			return nil, errs.Wrap(errs.CodeEmailMismatch, "could not verify the calendar account", err)
		}
		email = ""
	}
	if expectedEmail != "" && !strings.EqualFold(strings.TrimSpace(email), strings.TrimSpace(expectedEmail)) {
		log.Warn("calendar account does not match user", zap.String("calendar_email", email))
		return nil, errs.New(errs.CodeEmailMismatch,
			fmt.Sprintf("calendar account %s does not match %s", email, expectedEmail))
	}

	integ := &core.CalendarIntegration{
		UserID:        userID,
		Provider:      p,
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		ExpiresAt:     tokens.ExpiresAt,
		Scope:         tokens.Scope,
		CalendarEmail: email,
	}
	if err := c.d.Store.Save(ctx, integ); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}
	log.Info("calendar connected", zap.String("calendar_email", email))

	if c.d.Resolver != nil {
		// Best effort; a sync resolves it again.
		if id := c.d.Resolver.ResolveCalendarID(ctx, integ, integ.AccessToken, c.d.DefaultTimezone); id != "" {
			integ.SecondaryCalendarID = id
		}
	}
	return integ, nil
}

// GetStatus reports the user's connection.
func (c *Calendar) GetStatus(ctx context.Context, userID uuid.UUID) (token.Status, error) {
	return c.d.Tokens.Status(ctx, userID)
}

// AvailabilityQuery selects the days and hours to analyze.
type AvailabilityQuery struct {
	// Start and End name calendar dates in Timezone; their clock and zone
	// are ignored.
	Start, End   time.Time
	Weekdays     []time.Weekday
	WorkingHours core.TimeBlock
	// Timezone defaults to the configured zone.
	Timezone string
}

func (c *Calendar) request(q AvailabilityQuery) (availability.Request, error) {
	tz := q.Timezone
	if tz == "" {
		tz = c.d.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return availability.Request{}, errs.Wrap(errs.CodeInvalidInput, "unknown timezone "+tz, err)
	}
	start := availability.CalendarDate(q.Start, loc)
	end := availability.CalendarDate(q.End, loc)
	if end.Before(start) {
		return availability.Request{}, errs.New(errs.CodeInvalidInput, "end date is before start date")
	}
	return availability.Request{
		Start:        start,
		End:          end,
		Weekdays:     q.Weekdays,
		WorkingHours: q.WorkingHours,
		Location:     loc,
	}, nil
}

// GetAvailability reads the user's calendars over the query range and splits
// each day into busy and free blocks.
func (c *Calendar) GetAvailability(ctx context.Context, userID uuid.UUID, q AvailabilityQuery) ([]availability.DayAvailability, error) {
	req, err := c.request(q)
	if err != nil {
		return nil, err
	}
	creds, ad, err := c.credentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	from, to := req.Start, req.End.AddDate(0, 0, 1)
	events, err := ad.ListEvents(ctx, creds.AccessToken, "", from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return availability.Analyze(events, req), nil
}

// FindFreeSlots returns free blocks of at least minDuration.
func (c *Calendar) FindFreeSlots(ctx context.Context, userID uuid.UUID, q AvailabilityQuery, minDuration time.Duration) ([]availability.Slot, error) {
	days, err := c.GetAvailability(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	return availability.FindFreeSlots(days, minDuration), nil
}

// SyncSessions pushes the given sessions to the connected calendar.
func (c *Calendar) SyncSessions(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (orchestrator.SyncResult, error) {
	if len(ids) == 0 {
		return orchestrator.SyncResult{}, errs.New(errs.CodeInvalidInput, "no session ids given")
	}
	return c.d.Orchestrator.SyncSessions(ctx, userID, ids)
}

// ChangeType classifies an entry of a DriftReport.
type ChangeType string

const (
	DeletedEvent  ChangeType = "deleted_event"
	ModifiedEvent ChangeType = "modified_event"
)

// Change is one session whose remote event was removed or moved.
type Change struct {
	Type            ChangeType `json:"type"`
	SessionID       uuid.UUID  `json:"sessionId"`
	SessionTitle    string     `json:"sessionTitle"`
	EventTime       time.Time  `json:"eventTime"`
	ExternalEventID string     `json:"externalEventId"`
	// RemoteStart and RemoteEnd are set for modified events.
	RemoteStart     *time.Time `json:"remoteStart,omitempty"`
	RemoteEnd       *time.Time `json:"remoteEnd,omitempty"`
	SuggestedAction string     `json:"suggestedAction"`
}

// DriftReport is the result of CheckChanges.
type DriftReport struct {
	Changes          []Change `json:"changes"`
	DeletedSessions  int      `json:"deletedSessions"`
	ModifiedSessions int      `json:"modifiedSessions"`
	OrphansRemoved   int      `json:"orphansRemoved"`
}

// CheckChanges compares linked sessions with the remote calendar over the
// check window. Sessions whose events were deleted are unlinked and marked
// missed; moved events are only reported.
func (c *Calendar) CheckChanges(ctx context.Context, userID uuid.UUID) (DriftReport, error) {
	report := DriftReport{Changes: []Change{}}

	creds, ad, err := c.credentials(ctx, userID)
	if err != nil {
		return report, err
	}
	sessions, err := c.d.Sessions.ListLinked(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("list linked sessions: %w", err)
	}
	local, err := c.d.Events.ListExternal(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("list calendar events: %w", err)
	}
	if len(sessions) == 0 && len(local) == 0 {
		return report, nil
	}

	from := c.now()
	to := from.Add(c.d.CheckWindow)
	remote, err := ad.ListEvents(ctx, creds.AccessToken, "", from, to)
	if err != nil {
		return report, fmt.Errorf("list remote events: %w", err)
	}

	res, err := c.d.Reconciler.Reconcile(ctx, userID, reconcile.Input{
		Provider:    creds.Provider,
		Sessions:    sessions,
		Remote:      remote,
		LocalEvents: local,
		From:        from,
		To:          to,
	})
	if err != nil {
		return report, err
	}

	for _, s := range res.DeletedRemotely {
		report.Changes = append(report.Changes, Change{
			Type:            DeletedEvent,
			SessionID:       s.ID,
			SessionTitle:    s.Title,
			EventTime:       s.StartTime,
			ExternalEventID: s.ExternalEventID,
			SuggestedAction: "The event was removed from your calendar. Reschedule the session or sync it again.",
		})
	}
	for _, d := range res.ModifiedRemotely {
		start, end := d.Remote.Start, d.Remote.End
		report.Changes = append(report.Changes, Change{
			Type:            ModifiedEvent,
			SessionID:       d.Session.ID,
			SessionTitle:    d.Session.Title,
			EventTime:       d.Session.StartTime,
			ExternalEventID: d.Session.ExternalEventID,
			RemoteStart:     &start,
			RemoteEnd:       &end,
			SuggestedAction: fmt.Sprintf("The event moved by %s. Accept the new time or restore the planned one.", d.Delta.Round(time.Minute)),
		})
	}
	report.DeletedSessions = len(res.DeletedRemotely)
	report.ModifiedSessions = len(res.ModifiedRemotely)
	report.OrphansRemoved = len(res.OrphanedLocal)
	return report, nil
}

// DriftChoice resolves a modified_event.
type DriftChoice string

const (
	// AcceptRemote moves the session to the time found in the calendar.
	AcceptRemote DriftChoice = "accept_remote"
	// KeepLocal writes the planned time back to the calendar.
	KeepLocal DriftChoice = "keep_local"
)

// ParseDriftChoice validates s.
func ParseDriftChoice(s string) (DriftChoice, error) {
	switch DriftChoice(s) {
	case AcceptRemote, KeepLocal:
		return DriftChoice(s), nil
	}
	return "", errs.New(errs.CodeInvalidInput, fmt.Sprintf("choice must be %q or %q", AcceptRemote, KeepLocal))
}

// ResolveDrift applies choice to a session whose remote event moved.
func (c *Calendar) ResolveDrift(ctx context.Context, userID, sessionID uuid.UUID, choice DriftChoice) error {
	switch choice {
	case KeepLocal:
		return c.d.Orchestrator.PushSession(ctx, userID, sessionID)
	case AcceptRemote:
	default:
		_, err := ParseDriftChoice(string(choice))
		return err
	}

	found, err := c.d.Sessions.GetByIDs(ctx, userID, []uuid.UUID{sessionID})
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if len(found) == 0 {
		return errs.New(errs.CodeNotFound, "session not found")
	}
	s := found[0]
	if !s.Linked() {
		return errs.New(errs.CodeInvalidInput, "session is not linked to a calendar event")
	}

	creds, ad, err := c.credentials(ctx, userID)
	if err != nil {
		return err
	}
	remote, err := ad.ListEvents(ctx, creds.AccessToken, "",
		s.StartTime.Add(-c.d.CheckWindow), s.StartTime.Add(c.d.CheckWindow))
	if err != nil {
		return fmt.Errorf("list remote events: %w", err)
	}
	ev, ok := nearestInstance(s, remote)
	if !ok {
		return errs.New(errs.CodeNotFound, "remote event not found")
	}
	return c.d.Orchestrator.AcceptRemoteTime(ctx, userID, sessionID, ev.Start, ev.End)
}

func nearestInstance(s core.StudySession, events []core.RemoteEvent) (core.RemoteEvent, bool) {
	want := core.CanonicalEventID(s.ExternalEventID)
	var (
		best  core.RemoteEvent
		bestD time.Duration = -1
	)
	for _, e := range events {
		if e.Cancelled || core.CanonicalEventID(e.ID) != want {
			continue
		}
		d := e.Start.Sub(s.StartTime)
		if d < 0 {
			d = -d
		}
		if bestD < 0 || d < bestD {
			best, bestD = e, d
		}
	}
	return best, bestD >= 0
}

// DisconnectCalendar removes stored credentials, for one provider when p is set.
func (c *Calendar) DisconnectCalendar(ctx context.Context, userID uuid.UUID, p core.ProviderName) (int64, error) {
	n, err := c.d.Store.Delete(ctx, userID, p)
	if err != nil {
		return 0, fmt.Errorf("delete integrations: %w", err)
	}
	c.log.Info("calendar disconnected",
		zap.String("user_id", userID.String()),
		zap.String("provider", string(p)),
		zap.Int64("rows", n))
	return n, nil
}

// DeletePlan deletes a plan owned by userID together with its sessions and
// their remote events. A uuid.Nil userID skips the ownership check.
func (c *Calendar) DeletePlan(ctx context.Context, userID, planID uuid.UUID) (orchestrator.DeleteResult, error) {
	if userID != uuid.Nil {
		plan, err := c.d.Plans.Get(ctx, planID)
		if err != nil {
			return orchestrator.DeleteResult{}, err
		}
		if plan.UserID != userID {
			return orchestrator.DeleteResult{}, errs.New(errs.CodeNotFound, "plan not found")
		}
	}
	return c.d.Orchestrator.DeletePlan(ctx, planID)
}

// DeleteSessions deletes sessions and their remote events.
func (c *Calendar) DeleteSessions(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (orchestrator.DeleteResult, error) {
	if len(ids) == 0 {
		return orchestrator.DeleteResult{}, errs.New(errs.CodeInvalidInput, "no session ids given")
	}
	return c.d.Orchestrator.DeleteSessions(ctx, userID, ids)
}

// CleanupRemoteOrphans deletes remote events tagged with a study session that
// no linked session points at anymore.
func (c *Calendar) CleanupRemoteOrphans(ctx context.Context, userID uuid.UUID) (orchestrator.CleanupResult, error) {
	return c.d.Orchestrator.CleanupOrphans(ctx, userID)
}

func (c *Calendar) credentials(ctx context.Context, userID uuid.UUID) (token.Credentials, core.ProviderAdapter, error) {
	creds, err := c.d.Tokens.EnsureFreshToken(ctx, userID)
	if err != nil {
		return creds, nil, err
	}
	ad, err := c.d.Adapters.For(creds.Provider)
	if err != nil {
		return creds, nil, errs.Wrap(errs.CodeNotConnected, "provider not configured", err)
	}
	return creds, ad, nil
}
