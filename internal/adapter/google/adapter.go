package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/theakshaypant/studysync/internal/adapter"
	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

// SessionProperty is the private extended property carrying the study session id.
const SessionProperty = "studySessionId"

// Reminder defaults for events the engine creates.
const emailReminderMinutes = 24 * 60

// GoogleAdapter implements core.ProviderAdapter over Google Calendar v3.
type GoogleAdapter struct {
	config *oauth2.Config
	// apiBase overrides https://www.googleapis.com/ (tests)
	apiBase string
	log     *zap.Logger
}

var (
	_ core.ProviderAdapter = (*GoogleAdapter)(nil)
	_ core.CalendarCreator = (*GoogleAdapter)(nil)
)

// Option configures a GoogleAdapter.
type Option func(*GoogleAdapter)

// WithAPIBase sends Calendar and userinfo calls to base instead of googleapis.com.
func WithAPIBase(base string) Option {
	return func(g *GoogleAdapter) { g.apiBase = base }
}

// WithTokenURL overrides the OAuth token endpoint.
func WithTokenURL(url string) Option {
	return func(g *GoogleAdapter) { g.config.Endpoint.TokenURL = url }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *GoogleAdapter) { g.log = l }
}

func NewGoogleAdapter(clientID, clientSecret string, opts ...Option) *GoogleAdapter {
	g := &GoogleAdapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				calendar.CalendarScope,
				goauth2.UserinfoEmailScope,
				"openid",
			},
		},
		log: zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *GoogleAdapter) Name() core.ProviderName { return core.Google }

// AuthURL requests offline access and forces the consent screen so a refresh
// token is issued on every connect.
func (g *GoogleAdapter) AuthURL(state, redirectURI string) string {
	cfg := *g.config
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (core.Tokens, error) {
	cfg := *g.config
	cfg.RedirectURL = redirectURI
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return core.Tokens{}, adapter.ClassifyExchangeError(err)
	}
	return adapter.TokensFrom(tok), nil
}

func (g *GoogleAdapter) RefreshToken(ctx context.Context, refreshToken string) (core.Tokens, error) {
	tok, err := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.Tokens{}, adapter.ClassifyRefreshError(err)
	}
	t := adapter.TokensFrom(tok)
	// The token source copies the old refresh token forward when Google omits it.
	if t.RefreshToken == refreshToken {
		t.RefreshToken = ""
	}
	return t, nil
}

func (g *GoogleAdapter) FetchIdentityEmail(ctx context.Context, accessToken string) (string, error) {
	opts := g.clientOptions(ctx, accessToken)
	if g.apiBase != "" {
		opts = append(opts, option.WithEndpoint(g.apiBase))
	}
	svc, err := goauth2.NewService(ctx, opts...)
	if err != nil {
		return "", err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError("userinfo", err)
	}
	return info.Email, nil
}

func (g *GoogleAdapter) clientOptions(ctx context.Context, accessToken string) []option.ClientOption {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}
}

func (g *GoogleAdapter) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	opts := g.clientOptions(ctx, accessToken)
	if g.apiBase != "" {
		opts = append(opts, option.WithEndpoint(g.apiBase+"calendar/v3/"))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return svc, nil
}

// ListCalendars fetches all calendars the user has access to.
func (g *GoogleAdapter) ListCalendars(ctx context.Context, accessToken string) ([]core.CalendarRef, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return listCalendars(ctx, svc)
}

func listCalendars(ctx context.Context, svc *calendar.Service) ([]core.CalendarRef, error) {
	var out []core.CalendarRef
	pageToken := ""
	for {
		req := svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		list, err := req.Do()
		if err != nil {
			return nil, classifyAPIError("list calendars", err)
		}
		for _, cal := range list.Items {
			out = append(out, core.CalendarRef{
				ID:         cal.Id,
				Name:       cal.Summary,
				Primary:    cal.Primary,
				AccessRole: cal.AccessRole,
			})
		}
		pageToken = list.NextPageToken
		if pageToken == "" {
			return out, nil
		}
	}
}

// CreateCalendar creates a secondary calendar owned by the user.
func (g *GoogleAdapter) CreateCalendar(ctx context.Context, accessToken, name, timezone string) (core.CalendarRef, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return core.CalendarRef{}, err
	}
	created, err := svc.Calendars.Insert(&calendar.Calendar{
		Summary:     name,
		Description: "Study sessions scheduled by " + name,
		TimeZone:    timezone,
	}).Context(ctx).Do()
	if err != nil {
		return core.CalendarRef{}, classifyAPIError("create calendar", err)
	}
	return core.CalendarRef{ID: created.Id, Name: created.Summary, AccessRole: "owner"}, nil
}

// ListEvents reads one calendar, or every writable calendar when calendarID is empty.
// A calendar that fails to load is skipped when iterating all of them.
func (g *GoogleAdapter) ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) ([]core.RemoteEvent, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if calendarID != "" {
		events, err := fetchEventsFromCalendar(ctx, svc, calendarID, from, to)
		if err != nil {
			return nil, err
		}
		sortEventsByStartTime(events)
		return events, nil
	}

	cals, err := listCalendars(ctx, svc)
	if err != nil {
		return nil, err
	}
	var results []core.RemoteEvent
	for _, cal := range cals {
		if !cal.Writable() {
			continue
		}
		events, err := fetchEventsFromCalendar(ctx, svc, cal.ID, from, to)
		if err != nil {
			g.log.Warn("skip calendar", zap.String("calendar_id", cal.ID), zap.Error(err))
			continue
		}
		results = append(results, events...)
	}
	sortEventsByStartTime(results)
	return results, nil
}

func fetchEventsFromCalendar(ctx context.Context, svc *calendar.Service, calendarID string, from, to time.Time) ([]core.RemoteEvent, error) {
	var results []core.RemoteEvent
	pageToken := ""
	for {
		req := svc.Events.List(calendarID).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			OrderBy("startTime").
			Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		res, err := req.Do()
		if err != nil {
			return nil, classifyAPIError("list events "+calendarID, err)
		}
		for _, item := range res.Items {
			results = append(results, parseEvent(item, calendarID))
		}
		pageToken = res.NextPageToken
		if pageToken == "" {
			return results, nil
		}
	}
}

func sortEventsByStartTime(events []core.RemoteEvent) {
	slices.SortStableFunc(events, func(a, b core.RemoteEvent) int {
		return a.Start.Compare(b.Start)
	})
}

// parseEvent converts a Google Calendar event into a RemoteEvent.
func parseEvent(item *calendar.Event, calendarID string) core.RemoteEvent {
	ev := core.RemoteEvent{
		ID:         item.Id,
		Title:      item.Summary,
		CalendarID: calendarID,
		Cancelled:  item.Status == "cancelled",
	}
	if item.Start != nil && item.Start.DateTime != "" {
		ev.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
		if item.End != nil {
			ev.End, _ = time.Parse(time.RFC3339, item.End.DateTime)
		}
	} else if item.Start != nil {
		// All day (YYYY-MM-DD); the end date is exclusive.
		ev.Start, _ = time.Parse(time.DateOnly, item.Start.Date)
		if item.End != nil {
			ev.End, _ = time.Parse(time.DateOnly, item.End.Date)
		}
		ev.AllDay = true
	}
	if item.ExtendedProperties != nil {
		ev.SessionID = item.ExtendedProperties.Private[SessionProperty]
	}
	return ev
}

func toGoogleEvent(p core.EventPayload) *calendar.Event {
	ev := &calendar.Event{
		Summary:     p.Title,
		Description: p.Description,
		Start:       &calendar.EventDateTime{DateTime: p.Start, TimeZone: p.TimeZone},
		End:         &calendar.EventDateTime{DateTime: p.End, TimeZone: p.TimeZone},
	}
	if p.ReminderMinutes > 0 {
		ev.Reminders = &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "email", Minutes: emailReminderMinutes},
				{Method: "popup", Minutes: int64(p.ReminderMinutes)},
			},
			ForceSendFields: []string{"UseDefault"},
		}
	}
	if p.SessionID != "" {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{SessionProperty: p.SessionID},
		}
	}
	return ev
}

func calendarOrPrimary(id string) string {
	if id == "" {
		return core.PrimaryCalendarID
	}
	return id
}

func (g *GoogleAdapter) CreateEvent(ctx context.Context, accessToken, calendarID string, p core.EventPayload) (string, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return "", err
	}
	created, err := svc.Events.Insert(calendarOrPrimary(calendarID), toGoogleEvent(p)).Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError("create event", err)
	}
	return created.Id, nil
}

func (g *GoogleAdapter) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, p core.EventPayload) error {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return err
	}
	_, err = svc.Events.Patch(calendarOrPrimary(calendarID), eventID, toGoogleEvent(p)).Context(ctx).Do()
	if err != nil {
		return classifyAPIError("update event", err)
	}
	return nil
}

func (g *GoogleAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) (*core.SoftFailure, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	err = svc.Events.Delete(calendarOrPrimary(calendarID), eventID).Context(ctx).Do()
	if err == nil {
		return nil, nil
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch {
		case gErr.Code == http.StatusNotFound || gErr.Code == http.StatusGone:
			return nil, nil
		case gErr.Code == http.StatusForbidden && !rateLimited(gErr):
			return &core.SoftFailure{
				Provider: core.Google,
				Op:       "delete",
				EventID:  eventID,
				Status:   gErr.Code,
				Reason:   gErr.Message,
			}, nil
		}
	}
	return nil, classifyAPIError("delete event", err)
}

func rateLimited(e *googleapi.Error) bool {
	for _, item := range e.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func classifyAPIError(op string, err error) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return errs.Wrap(errs.CodeRemoteUnavailable, op, err)
	}
	switch {
	case gErr.Code == http.StatusNotFound || gErr.Code == http.StatusGone:
		return errs.Wrap(errs.CodeNotFound, op, err)
	case gErr.Code == http.StatusUnauthorized:
		return errs.Wrap(errs.CodeReconnectionRequired, op, err)
	case gErr.Code == http.StatusForbidden && !rateLimited(gErr):
		return errs.Wrap(errs.CodeInsufficientScope, op, err)
	default:
		return errs.Wrap(errs.CodeRemoteUnavailable, fmt.Sprintf("%s: HTTP %d", op, gErr.Code), err)
	}
}
