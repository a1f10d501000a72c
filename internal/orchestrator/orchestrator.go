// Package orchestrator pushes batches of study sessions to the connected
// calendar, removes their events when sessions or plans are deleted, and
// sweeps tagged events that lost their session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/materialize"
	"github.com/theakshaypant/studysync/internal/token"
)

// DefaultInterval is the pause between two provider calls of a batch.
const DefaultInterval = 150 * time.Millisecond

// Window scanned by CleanupOrphans around the current time.
const (
	CleanupLookBack  = 90 * 24 * time.Hour
	CleanupLookAhead = 365 * 24 * time.Hour
)

// TokenSource hands out fresh credentials.
type TokenSource interface {
	EnsureFreshToken(ctx context.Context, userID uuid.UUID) (token.Credentials, error)
}

// CalendarResolver picks the calendar events are written to.
type CalendarResolver interface {
	ResolveCalendarID(ctx context.Context, integ *core.CalendarIntegration, accessToken, timezone string) string
	// Forget drops a cached calendar id that no longer exists remotely.
	Forget(ctx context.Context, integ *core.CalendarIntegration)
}

// SyncResult aggregates a SyncSessions batch.
type SyncResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

func (r *SyncResult) fail(s core.StudySession, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s (%s): %v", s.Title, s.ID, err))
}

// DeleteResult aggregates a plan or bulk session deletion.
type DeleteResult struct {
	DeletedSessions     int64              `json:"deletedSessions"`
	DeletedRemoteEvents int                `json:"deletedRemoteEvents"`
	SoftFailures        []core.SoftFailure `json:"softFailures,omitempty"`
}

// CleanupResult aggregates a CleanupOrphans run.
type CleanupResult struct {
	// Scanned counts remote events carrying a session tag.
	Scanned      int                `json:"scanned"`
	OrphansFound int                `json:"orphansFound"`
	Deleted      int                `json:"deleted"`
	SoftFailures []core.SoftFailure `json:"softFailures,omitempty"`
	Errors       []string           `json:"errors,omitempty"`
}

// Orchestrator runs sequential, throttled batches against one provider.
type Orchestrator struct {
	tokens    TokenSource
	adapters  core.Adapters
	resolver  CalendarResolver
	sessions  core.SessionStore
	plans     core.PlanStore
	interval  time.Duration
	defaultTZ string
	now       func() time.Time
	log       *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithInterval sets the pause between provider calls. Zero disables throttling.
func WithInterval(d time.Duration) Option { return func(o *Orchestrator) { o.interval = d } }

// WithDefaultTimezone sets the zone used for sessions whose plan has none.
func WithDefaultTimezone(tz string) Option { return func(o *Orchestrator) { o.defaultTZ = tz } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithClock sets the time source of CleanupOrphans.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator.
func New(tokens TokenSource, adapters core.Adapters, resolver CalendarResolver,
	sessions core.SessionStore, plans core.PlanStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tokens:    tokens,
		adapters:  adapters,
		resolver:  resolver,
		sessions:  sessions,
		plans:     plans,
		interval:  DefaultInterval,
		defaultTZ: core.DefaultTimezone,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// calendarContext is resolved once per batch.
type calendarContext struct {
	creds   token.Credentials
	adapter core.ProviderAdapter
	// calendarID receives new events. It is only set by resolve.
	calendarID string
	tz         string
	// reresolved is set once a vanished platform calendar was replaced.
	reresolved bool
}

// connect loads credentials without touching the platform calendar.
func (o *Orchestrator) connect(ctx context.Context, userID uuid.UUID) (*calendarContext, error) {
	creds, err := o.tokens.EnsureFreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	adapter, err := o.adapters.For(creds.Provider)
	if err != nil {
		return nil, err
	}
	return &calendarContext{creds: creds, adapter: adapter}, nil
}

// resolve is connect plus the calendar new events go to, which may create
// the platform calendar.
func (o *Orchestrator) resolve(ctx context.Context, userID uuid.UUID, tz string) (*calendarContext, error) {
	cc, err := o.connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	cc.tz = tz
	o.pickCalendar(ctx, cc)
	return cc, nil
}

func (o *Orchestrator) pickCalendar(ctx context.Context, cc *calendarContext) {
	if cc.creds.Provider != core.Google {
		return
	}
	cc.calendarID = core.PrimaryCalendarID
	if o.resolver != nil {
		if id := o.resolver.ResolveCalendarID(ctx, cc.creds.Integration, cc.creds.AccessToken, cc.tz); id != "" {
			cc.calendarID = id
		}
	}
}

// eventCalendar is the calendar a linked session's event lives in. Rows
// linked before the calendar was recorded fall back to the platform calendar.
func (cc *calendarContext) eventCalendar(s core.StudySession) string {
	if s.ExternalCalendarID != "" || cc.creds.Provider != core.Google {
		return s.ExternalCalendarID
	}
	switch {
	case cc.calendarID != "":
		return cc.calendarID
	case cc.creds.CalendarID != "":
		return cc.creds.CalendarID
	}
	return core.PrimaryCalendarID
}

func (o *Orchestrator) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(o.interval), 1)
}

// planCache memoizes plan lookups within a batch.
type planCache struct {
	store core.PlanStore
	plans map[uuid.UUID]*core.StudyPlan
}

func (c *planCache) get(ctx context.Context, id uuid.UUID) *core.StudyPlan {
	if p, ok := c.plans[id]; ok {
		return p
	}
	var p *core.StudyPlan
	if c.store != nil && id != uuid.Nil {
		p, _ = c.store.Get(ctx, id)
	}
	c.plans[id] = p
	return p
}

func (o *Orchestrator) newPlanCache() *planCache {
	return &planCache{store: o.plans, plans: map[uuid.UUID]*core.StudyPlan{}}
}

// SyncSessions creates or updates the remote event of every listed session.
// Failures are recorded per session and never stop the batch.
func (o *Orchestrator) SyncSessions(ctx context.Context, userID uuid.UUID, sessionIDs []uuid.UUID) (SyncResult, error) {
	var res SyncResult
	if len(sessionIDs) == 0 {
		return res, nil
	}
	sessions, err := o.sessions.GetByIDs(ctx, userID, sessionIDs)
	if err != nil {
		return res, fmt.Errorf("load sessions: %w", err)
	}

	found := make(map[uuid.UUID]bool, len(sessions))
	for _, s := range sessions {
		found[s.ID] = true
	}
	for _, id := range sessionIDs {
		if !found[id] {
			res.fail(core.StudySession{ID: id}, errs.ErrNotFound)
		}
	}
	if len(sessions) == 0 {
		return res, nil
	}

	plans := o.newPlanCache()
	tz := o.defaultTZ
	if p := plans.get(ctx, sessions[0].PlanID); p != nil && p.Timezone != "" {
		tz = p.Timezone
	}
	cc, err := o.resolve(ctx, userID, tz)
	if err != nil {
		return res, err
	}

	log := o.log.With(zap.String("user_id", userID.String()), zap.String("provider", string(cc.creds.Provider)))
	lim := o.limiter()
	for i, s := range sessions {
		if err := lim.Wait(ctx); err != nil {
			for _, rest := range sessions[i:] {
				res.fail(rest, err)
			}
			log.Warn("sync batch interrupted", zap.Int("remaining", len(sessions)-i), zap.Error(err))
			break
		}
		if err := o.syncOne(ctx, cc, plans, &s); err != nil {
			log.Warn("session sync failed", zap.String("session_id", s.ID.String()), zap.Error(err))
			res.fail(s, err)
			continue
		}
		res.Synced++
	}
	log.Info("sync batch finished", zap.Int("synced", res.Synced), zap.Int("failed", res.Failed))
	return res, nil
}

// syncOne updates a session's existing event in place, or creates and links
// a new one. An update that finds the event gone falls through to create.
func (o *Orchestrator) syncOne(ctx context.Context, cc *calendarContext, plans *planCache, s *core.StudySession) error {
	payload, err := materialize.ToPlanPayload(*s, plans.get(ctx, s.PlanID), o.defaultTZ)
	if err != nil {
		return errs.Wrap(errs.CodeInvalidInput, "materialize session", err)
	}

	if s.Linked() && s.CalendarProvider == cc.creds.Provider {
		err := cc.adapter.UpdateEvent(ctx, cc.creds.AccessToken, cc.eventCalendar(*s), s.ExternalEventID, payload)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		o.log.Info("linked event missing, recreating",
			zap.String("session_id", s.ID.String()), zap.String("event_id", s.ExternalEventID))
	}

	eventID, err := o.create(ctx, cc, payload)
	if err != nil {
		return err
	}
	if err := o.sessions.Link(ctx, s.ID, eventID, cc.calendarID, cc.creds.Provider); err != nil {
		// Without the link the event would be pushed again on the next sync.
		if _, derr := cc.adapter.DeleteEvent(ctx, cc.creds.AccessToken, cc.calendarID, eventID); derr != nil {
			o.log.Error("rollback of unlinked event failed", zap.String("event_id", eventID), zap.Error(derr))
		}
		return fmt.Errorf("link session: %w", err)
	}
	s.Link(eventID, cc.calendarID, cc.creds.Provider)
	return nil
}

// create writes a new event. When the cached platform calendar is gone the
// cache is dropped and the calendar resolved again, once per batch.
func (o *Orchestrator) create(ctx context.Context, cc *calendarContext, payload core.EventPayload) (string, error) {
	id, err := cc.adapter.CreateEvent(ctx, cc.creds.AccessToken, cc.calendarID, payload)
	if err == nil || !errors.Is(err, errs.ErrNotFound) {
		return id, err
	}
	if o.resolver == nil || cc.reresolved || cc.calendarID == "" || cc.calendarID == core.PrimaryCalendarID {
		return "", err
	}
	cc.reresolved = true
	o.log.Warn("platform calendar missing, resolving again", zap.String("calendar_id", cc.calendarID))
	o.resolver.Forget(ctx, cc.creds.Integration)
	o.pickCalendar(ctx, cc)
	return cc.adapter.CreateEvent(ctx, cc.creds.AccessToken, cc.calendarID, payload)
}

// PushSession writes the session's local time over its remote event.
func (o *Orchestrator) PushSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	res, err := o.SyncSessions(ctx, userID, []uuid.UUID{sessionID})
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return errs.New(errs.CodeRemoteUnavailable, res.Errors[0])
	}
	return nil
}

// AcceptRemoteTime moves the session to the time the user chose in the calendar.
func (o *Orchestrator) AcceptRemoteTime(ctx context.Context, userID, sessionID uuid.UUID, start, end time.Time) error {
	got, err := o.sessions.GetByIDs(ctx, userID, []uuid.UUID{sessionID})
	if err != nil {
		return err
	}
	if len(got) == 0 {
		return errs.ErrNotFound
	}
	return o.sessions.Reschedule(ctx, sessionID, start, end)
}

// deleteRemote removes the events of linked sessions on a best-effort basis.
func (o *Orchestrator) deleteRemote(ctx context.Context, userID uuid.UUID, sessions []core.StudySession, res *DeleteResult) {
	var linked []core.StudySession
	for _, s := range sessions {
		if s.Linked() {
			linked = append(linked, s)
		}
	}
	if len(linked) == 0 {
		return
	}

	log := o.log.With(zap.String("user_id", userID.String()))
	cc, err := o.connect(ctx, userID)
	if err != nil {
		log.Warn("remote cleanup skipped", zap.Int("events", len(linked)), zap.Error(err))
		return
	}

	lim := o.limiter()
	for _, s := range linked {
		if s.CalendarProvider != cc.creds.Provider {
			log.Warn("remote cleanup skipped for other provider",
				zap.String("session_id", s.ID.String()), zap.String("session_provider", string(s.CalendarProvider)))
			continue
		}
		if err := lim.Wait(ctx); err != nil {
			log.Warn("remote cleanup interrupted", zap.Error(err))
			return
		}
		soft, err := cc.adapter.DeleteEvent(ctx, cc.creds.AccessToken, cc.eventCalendar(s), s.ExternalEventID)
		switch {
		case err != nil:
			log.Warn("remote delete failed", zap.String("event_id", s.ExternalEventID), zap.Error(err))
		case soft != nil:
			log.Warn("remote delete refused", zap.String("event_id", s.ExternalEventID), zap.Stringer("failure", soft))
			res.SoftFailures = append(res.SoftFailures, *soft)
		default:
			res.DeletedRemoteEvents++
		}
	}
}

// DeletePlan deletes the plan's remote events, then its sessions, then the plan.
func (o *Orchestrator) DeletePlan(ctx context.Context, planID uuid.UUID) (DeleteResult, error) {
	var res DeleteResult
	plan, err := o.plans.Get(ctx, planID)
	if err != nil {
		return res, err
	}
	sessions, err := o.sessions.ListByPlan(ctx, planID)
	if err != nil {
		return res, fmt.Errorf("load plan sessions: %w", err)
	}

	o.deleteRemote(ctx, plan.UserID, sessions, &res)

	if res.DeletedSessions, err = o.sessions.DeleteByPlan(ctx, planID); err != nil {
		return res, fmt.Errorf("delete plan sessions: %w", err)
	}
	if err := o.plans.Delete(ctx, planID); err != nil {
		return res, fmt.Errorf("delete plan: %w", err)
	}
	o.log.Info("plan deleted",
		zap.String("plan_id", planID.String()),
		zap.Int64("sessions", res.DeletedSessions),
		zap.Int("remote_events", res.DeletedRemoteEvents))
	return res, nil
}

// DeleteSessions deletes the listed sessions of the user and their remote events.
func (o *Orchestrator) DeleteSessions(ctx context.Context, userID uuid.UUID, sessionIDs []uuid.UUID) (DeleteResult, error) {
	var res DeleteResult
	if len(sessionIDs) == 0 {
		return res, nil
	}
	sessions, err := o.sessions.GetByIDs(ctx, userID, sessionIDs)
	if err != nil {
		return res, fmt.Errorf("load sessions: %w", err)
	}

	o.deleteRemote(ctx, userID, sessions, &res)

	if res.DeletedSessions, err = o.sessions.DeleteByIDs(ctx, userID, sessionIDs); err != nil {
		return res, fmt.Errorf("delete sessions: %w", err)
	}
	return res, nil
}

type orphan struct {
	calendarID string
	eventID    string
	title      string
}

// CleanupOrphans deletes remote events tagged with a study session that no
// linked session points at, such as events left behind by an interrupted
// plan deletion or a duplicate create. Untagged events are never touched.
func (o *Orchestrator) CleanupOrphans(ctx context.Context, userID uuid.UUID) (CleanupResult, error) {
	var res CleanupResult
	cc, err := o.connect(ctx, userID)
	if err != nil {
		return res, err
	}
	sessions, err := o.sessions.ListLinked(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list linked sessions: %w", err)
	}

	var calendars []string
	addCalendar := func(id string) {
		if !slices.Contains(calendars, id) {
			calendars = append(calendars, id)
		}
	}
	active := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		if s.CalendarProvider != cc.creds.Provider {
			continue
		}
		active[core.CanonicalEventID(s.ExternalEventID)] = true
		addCalendar(cc.eventCalendar(s))
	}
	addCalendar(cc.eventCalendar(core.StudySession{}))
	if cc.creds.Provider == core.Google {
		addCalendar(core.PrimaryCalendarID)
	}

	log := o.log.With(zap.String("user_id", userID.String()), zap.String("provider", string(cc.creds.Provider)))
	now := o.now()
	from, to := now.Add(-CleanupLookBack), now.Add(CleanupLookAhead)
	lim := o.limiter()

	var orphans []orphan
	seen := map[string]bool{}
	for _, calID := range calendars {
		if err := lim.Wait(ctx); err != nil {
			return res, err
		}
		events, err := cc.adapter.ListEvents(ctx, cc.creds.AccessToken, calID, from, to)
		if err != nil {
			log.Warn("cleanup list failed", zap.String("calendar_id", calID), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("list calendar %q: %v", calID, err))
			continue
		}
		for _, e := range events {
			if e.SessionID == "" {
				continue
			}
			res.Scanned++
			id := core.CanonicalEventID(e.ID)
			if active[id] || seen[id] {
				continue
			}
			seen[id] = true
			orphans = append(orphans, orphan{calendarID: calID, eventID: id, title: e.Title})
		}
	}
	res.OrphansFound = len(orphans)

	for i, ev := range orphans {
		if err := lim.Wait(ctx); err != nil {
			for _, rest := range orphans[i:] {
				res.Errors = append(res.Errors, fmt.Sprintf("%s (%s): %v", rest.title, rest.eventID, err))
			}
			break
		}
		soft, err := cc.adapter.DeleteEvent(ctx, cc.creds.AccessToken, ev.calendarID, ev.eventID)
		switch {
		case err != nil:
			log.Warn("orphan delete failed", zap.String("event_id", ev.eventID), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("%s (%s): %v", ev.title, ev.eventID, err))
		case soft != nil:
			res.SoftFailures = append(res.SoftFailures, *soft)
		default:
			res.Deleted++
		}
	}
	log.Info("orphan cleanup finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("orphans", res.OrphansFound),
		zap.Int("deleted", res.Deleted))
	return res, nil
}
