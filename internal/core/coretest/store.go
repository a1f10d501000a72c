package coretest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

// Store is an in-memory implementation of every core storage interface.
type Store struct {
	mu sync.Mutex

	Integrations []*core.CalendarIntegration
	Sessions     map[uuid.UUID]*core.StudySession
	Plans        map[uuid.UUID]*core.StudyPlan
	Events       map[uuid.UUID]*core.UserCalendarEvent

	// Tokens returns the store as a core.TokenStore.
	Tokens TokenView
}

var (
	_ core.SessionStore       = (*Store)(nil)
	_ core.PlanStore          = (*Store)(nil)
	_ core.CalendarEventStore = (*Store)(nil)
	_ core.TokenStore         = TokenView{}
)

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{
		Sessions: map[uuid.UUID]*core.StudySession{},
		Plans:    map[uuid.UUID]*core.StudyPlan{},
		Events:   map[uuid.UUID]*core.UserCalendarEvent{},
	}
	s.Tokens = TokenView{s}
	return s
}

// AddPlan stores p and returns it.
func (s *Store) AddPlan(p core.StudyPlan) *core.StudyPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = core.PlanActive
	}
	s.Plans[p.ID] = &p
	return &p
}

// AddSession stores ss and returns it.
func (s *Store) AddSession(ss core.StudySession) *core.StudySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss.ID == uuid.Nil {
		ss.ID = uuid.New()
	}
	if ss.Status == "" {
		ss.Status = core.StatusScheduled
	}
	s.Sessions[ss.ID] = &ss
	return &ss
}

// AddEvent stores e and returns it.
func (s *Store) AddEvent(e core.UserCalendarEvent) *core.UserCalendarEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.Events[e.ID] = &e
	return &e
}

// Session returns a copy of the stored session.
func (s *Store) Session(id uuid.UUID) (core.StudySession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.Sessions[id]
	if !ok {
		return core.StudySession{}, false
	}
	return *ss, true
}

func sortByStart(out []core.StudySession) []core.StudySession {
	slices.SortFunc(out, func(a, b core.StudySession) int { return a.StartTime.Compare(b.StartTime) })
	return out
}

func (s *Store) GetByIDs(_ context.Context, userID uuid.UUID, ids []uuid.UUID) ([]core.StudySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.StudySession
	for _, id := range ids {
		if ss, ok := s.Sessions[id]; ok && ss.UserID == userID {
			out = append(out, *ss)
		}
	}
	return sortByStart(out), nil
}

func (s *Store) ListLinked(_ context.Context, userID uuid.UUID) ([]core.StudySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.StudySession
	for _, ss := range s.Sessions {
		if ss.UserID == userID && ss.ExternalEventID != "" {
			out = append(out, *ss)
		}
	}
	return sortByStart(out), nil
}

func (s *Store) ListByPlan(_ context.Context, planID uuid.UUID) ([]core.StudySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.StudySession
	for _, ss := range s.Sessions {
		if ss.PlanID == planID {
			out = append(out, *ss)
		}
	}
	return sortByStart(out), nil
}

func (s *Store) Link(_ context.Context, id uuid.UUID, eventID, calendarID string, p core.ProviderName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.Sessions[id]
	if !ok {
		return errs.ErrNotFound
	}
	ss.Link(eventID, calendarID, p)
	return nil
}

func (s *Store) MarkRemoteDeleted(_ context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if ss, ok := s.Sessions[id]; ok {
			ss.Unlink()
			n++
		}
	}
	return n, nil
}

func (s *Store) Reschedule(_ context.Context, id uuid.UUID, start, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.Sessions[id]
	if !ok {
		return errs.ErrNotFound
	}
	ss.StartTime, ss.EndTime = start, end
	return nil
}

func (s *Store) DeleteByPlan(_ context.Context, planID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ss := range s.Sessions {
		if ss.PlanID == planID {
			delete(s.Sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteByIDs deletes sessions. It also serves core.CalendarEventStore, so
// ids are looked up in both tables.
func (s *Store) DeleteByIDs(_ context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if ss, ok := s.Sessions[id]; ok && ss.UserID == userID {
			delete(s.Sessions, id)
			n++
		}
		if e, ok := s.Events[id]; ok && e.UserID == userID {
			delete(s.Events, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*core.StudyPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Plans[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) Active(_ context.Context, userID uuid.UUID) (*core.StudyPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Plans {
		if p.UserID == userID && p.Status == core.PlanActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Plans[id]; !ok {
		return errs.ErrNotFound
	}
	delete(s.Plans, id)
	return nil
}

func (s *Store) ListExternal(_ context.Context, userID uuid.UUID) ([]core.UserCalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.UserCalendarEvent
	for _, e := range s.Events {
		if e.UserID == userID && len(e.ExternalIDs()) > 0 {
			out = append(out, *e)
		}
	}
	return out, nil
}

// TokenView exposes the integration table of a Store.
type TokenView struct{ s *Store }

func (v TokenView) latest(userID uuid.UUID, p core.ProviderName) *core.CalendarIntegration {
	var best *core.CalendarIntegration
	for _, c := range v.s.Integrations {
		if c.UserID != userID || (p != "" && c.Provider != p) {
			continue
		}
		if best == nil || !c.UpdatedAt.Before(best.UpdatedAt) {
			best = c
		}
	}
	return best
}

func (v TokenView) Latest(_ context.Context, userID uuid.UUID) (*core.CalendarIntegration, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c := v.latest(userID, "")
	if c == nil {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (v TokenView) LatestByProvider(_ context.Context, userID uuid.UUID, p core.ProviderName) (*core.CalendarIntegration, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c := v.latest(userID, p)
	if c == nil {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (v TokenView) Save(_ context.Context, c *core.CalendarIntegration) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	now := time.Now()
	if existing := v.latest(c.UserID, c.Provider); existing != nil {
		c.ID, c.CreatedAt = existing.ID, existing.CreatedAt
		if c.RefreshToken == "" {
			c.RefreshToken = existing.RefreshToken
		}
		if c.SecondaryCalendarID == "" && c.CalendarEmail == existing.CalendarEmail {
			c.SecondaryCalendarID = existing.SecondaryCalendarID
		}
		c.UpdatedAt = now
		*existing = *c
		return nil
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	v.s.Integrations = append(v.s.Integrations, &cp)
	return nil
}

func (v TokenView) find(id uuid.UUID) *core.CalendarIntegration {
	for _, c := range v.s.Integrations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (v TokenView) UpdateTokens(_ context.Context, id uuid.UUID, t core.Tokens) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c := v.find(id)
	if c == nil {
		return errs.ErrNotFound
	}
	c.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		c.RefreshToken = t.RefreshToken
	}
	c.ExpiresAt = t.ExpiresAt
	if t.Scope != "" {
		c.Scope = t.Scope
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (v TokenView) SetSecondaryCalendar(_ context.Context, id uuid.UUID, calendarID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c := v.find(id)
	if c == nil {
		return errs.ErrNotFound
	}
	c.SecondaryCalendarID = calendarID
	return nil
}

func (v TokenView) Delete(_ context.Context, userID uuid.UUID, p core.ProviderName) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var n int64
	v.s.Integrations = slices.DeleteFunc(v.s.Integrations, func(c *core.CalendarIntegration) bool {
		if c.UserID == userID && (p == "" || c.Provider == p) {
			n++
			return true
		}
		return false
	})
	return n, nil
}
