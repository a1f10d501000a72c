// Package coretest provides in-memory implementations of the core interfaces
// for use in tests.
package coretest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

// Provider is an in-memory calendar provider. Events are scoped by calendar:
// an update or delete addressed to another calendar than the event's misses,
// and creates in a calendar that is not listed fail with not found. Events
// seeded without a CalendarID match every calendar.
type Provider struct {
	mu sync.Mutex

	Kind      core.ProviderName
	Email     string
	Calendars []core.CalendarRef
	// Events holds the remote calendar keyed by event id.
	Events map[string]core.RemoteEvent

	ExchangeTokens core.Tokens
	ExchangeErr    error
	RefreshTokens  core.Tokens
	RefreshErr     error
	ListErr        error
	// ListCalendarsErr fails calendar discovery while set.
	ListCalendarsErr error

	// CreateErr, when set, is consulted before every create.
	CreateErr func(p core.EventPayload) error
	// SoftDelete lists event ids whose delete is refused with 403.
	SoftDelete map[string]bool

	Calls     []string
	created   int
	calendars int
}

var (
	_ core.ProviderAdapter = (*Provider)(nil)
	_ core.CalendarCreator = (*Provider)(nil)
)

// NewProvider returns an empty calendar for kind.
func NewProvider(kind core.ProviderName) *Provider {
	return &Provider{
		Kind:       kind,
		Events:     map[string]core.RemoteEvent{},
		SoftDelete: map[string]bool{},
		Calendars:  []core.CalendarRef{{ID: core.PrimaryCalendarID, Name: "Primary", Primary: true, AccessRole: "owner"}},
	}
}

func (p *Provider) record(format string, args ...any) {
	p.Calls = append(p.Calls, fmt.Sprintf(format, args...))
}

// CallCount returns how many recorded calls start with prefix.
func (p *Provider) CallCount(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *Provider) Name() core.ProviderName { return p.Kind }

func (p *Provider) AuthURL(state, redirectURI string) string {
	return fmt.Sprintf("https://auth.example/%s?state=%s&redirect_uri=%s", p.Kind, state, redirectURI)
}

func (p *Provider) ExchangeCode(_ context.Context, code, _ string) (core.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("exchange %s", code)
	return p.ExchangeTokens, p.ExchangeErr
}

func (p *Provider) RefreshToken(_ context.Context, refreshToken string) (core.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("refresh %s", refreshToken)
	return p.RefreshTokens, p.RefreshErr
}

func (p *Provider) FetchIdentityEmail(context.Context, string) (string, error) {
	return p.Email, nil
}

func (p *Provider) ListCalendars(context.Context, string) ([]core.CalendarRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("listCalendars")
	if p.ListCalendarsErr != nil {
		return nil, p.ListCalendarsErr
	}
	return slices.Clone(p.Calendars), nil
}

func (p *Provider) CreateCalendar(_ context.Context, _, name, _ string) (core.CalendarRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("createCalendar %s", name)
	p.calendars++
	ref := core.CalendarRef{ID: fmt.Sprintf("cal-%d", p.calendars), Name: name, AccessRole: "owner"}
	p.Calendars = append(p.Calendars, ref)
	return ref, nil
}

func (p *Provider) ListEvents(_ context.Context, _, calendarID string, from, to time.Time) ([]core.RemoteEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("list %s", calendarID)
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	var out []core.RemoteEvent
	for _, e := range p.Events {
		if inCalendar(e, calendarID) && e.End.After(from) && e.Start.Before(to) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b core.RemoteEvent) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func inCalendar(e core.RemoteEvent, calendarID string) bool {
	return calendarID == "" || e.CalendarID == "" || e.CalendarID == calendarID
}

func (p *Provider) hasCalendar(id string) bool {
	if id == "" {
		return true
	}
	for _, c := range p.Calendars {
		if c.ID == id {
			return true
		}
	}
	return false
}

// RemoveCalendar simulates the user deleting a calendar with its events.
func (p *Provider) RemoveCalendar(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calendars = slices.DeleteFunc(p.Calendars, func(c core.CalendarRef) bool { return c.ID == id })
	for eid, e := range p.Events {
		if e.CalendarID == id {
			delete(p.Events, eid)
		}
	}
}

// InCalendar returns the events stored in calendarID.
func (p *Provider) InCalendar(calendarID string) []core.RemoteEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []core.RemoteEvent
	for _, e := range p.Events {
		if e.CalendarID == calendarID {
			out = append(out, e)
		}
	}
	return out
}

func parsePayload(pl core.EventPayload) (time.Time, time.Time, error) {
	loc, err := time.LoadLocation(pl.TimeZone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, err := time.ParseInLocation("2006-01-02T15:04:05", pl.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.ParseInLocation("2006-01-02T15:04:05", pl.End, loc)
	return start, end, err
}

func (p *Provider) CreateEvent(_ context.Context, _, calendarID string, pl core.EventPayload) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create %s", pl.Title)
	if p.CreateErr != nil {
		if err := p.CreateErr(pl); err != nil {
			return "", err
		}
	}
	if !p.hasCalendar(calendarID) {
		return "", errs.New(errs.CodeNotFound, "calendar not found")
	}
	start, end, err := parsePayload(pl)
	if err != nil {
		return "", err
	}
	p.created++
	id := fmt.Sprintf("ev%d", p.created)
	p.Events[id] = core.RemoteEvent{
		ID: id, Title: pl.Title, CalendarID: calendarID,
		Start: start.UTC(), End: end.UTC(), SessionID: pl.SessionID,
	}
	return id, nil
}

func (p *Provider) UpdateEvent(_ context.Context, _, calendarID, eventID string, pl core.EventPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("update %s", eventID)
	e, ok := p.Events[eventID]
	if !ok || !inCalendar(e, calendarID) {
		return errs.New(errs.CodeNotFound, "event not found")
	}
	start, end, err := parsePayload(pl)
	if err != nil {
		return err
	}
	e.Title, e.Start, e.End = pl.Title, start.UTC(), end.UTC()
	p.Events[eventID] = e
	return nil
}

// DeleteEvent treats an event missing from calendarID as already deleted.
func (p *Provider) DeleteEvent(_ context.Context, _, calendarID, eventID string) (*core.SoftFailure, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("delete %s", eventID)
	if p.SoftDelete[eventID] {
		return &core.SoftFailure{Provider: p.Kind, Op: "delete", EventID: eventID,
			Status: http.StatusForbidden, Reason: "insufficientPermissions"}, nil
	}
	if e, ok := p.Events[eventID]; ok && inCalendar(e, calendarID) {
		delete(p.Events, eventID)
	}
	return nil, nil
}

// RemoveEvent simulates the user deleting an event in their calendar app.
func (p *Provider) RemoveEvent(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Events, id)
}

// MoveEvent simulates the user dragging an event to a new time.
func (p *Provider) MoveEvent(id string, by time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.Events[id]
	e.Start, e.End = e.Start.Add(by), e.End.Add(by)
	p.Events[id] = e
}
