package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/theakshaypant/studysync/internal/service"
)

type fakeReviewer struct {
	report   service.DriftReport
	resolved map[uuid.UUID]service.DriftChoice
	err      error
}

var _ Reviewer = (*fakeReviewer)(nil)

func (f *fakeReviewer) CheckChanges(context.Context, uuid.UUID) (service.DriftReport, error) {
	return f.report, nil
}

func (f *fakeReviewer) ResolveDrift(_ context.Context, _ uuid.UUID, id uuid.UUID, c service.DriftChoice) error {
	if f.err != nil {
		return f.err
	}
	f.resolved[id] = c
	return nil
}

func newReview(t *testing.T) (Model, *fakeReviewer) {
	t.Helper()
	planned := time.Date(2030, 5, 6, 15, 0, 0, 0, time.UTC)
	moved := planned.Add(90 * time.Minute)
	f := &fakeReviewer{
		resolved: map[uuid.UUID]service.DriftChoice{},
		report: service.DriftReport{
			Changes: []service.Change{
				{Type: service.DeletedEvent, SessionID: uuid.New(), SessionTitle: "Algebra", EventTime: planned, ExternalEventID: "ev1"},
				{Type: service.ModifiedEvent, SessionID: uuid.New(), SessionTitle: "Biology", EventTime: planned, ExternalEventID: "ev2", RemoteStart: &moved},
			},
			DeletedSessions:  1,
			ModifiedSessions: 1,
		},
	}
	m := NewModel(f, uuid.New())
	m = step(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = step(t, m, m.Init()())
	return m, f
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func press(m Model, k string) (Model, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	return next.(Model), cmd
}

func TestReview_LoadsAndRenders(t *testing.T) {
	m, _ := newReview(t)
	require.False(t, m.loading)
	require.Len(t, m.changes, 2)
	require.Equal(t, "1 deleted, 1 moved", m.status)

	view := m.View()
	require.Contains(t, view, "Algebra")
	require.Contains(t, view, "Biology")
	require.Contains(t, view, "event deleted")
}

func TestReview_AcceptMovedSession(t *testing.T) {
	m, f := newReview(t)
	m, _ = press(m, "j")
	require.Equal(t, 1, m.selectedIdx)
	require.Contains(t, m.View(), "+1h 30m")

	m, cmd := press(m, "a")
	require.NotNil(t, cmd)
	m = step(t, m, cmd())
	require.Equal(t, service.AcceptRemote, f.resolved[m.changes[1].SessionID])
	require.Contains(t, m.resolved[m.changes[1].SessionID], "accepted")

	_, cmd = press(m, "p")
	require.Nil(t, cmd, "a resolved change is not resolved twice")
}

func TestReview_DeletedSession(t *testing.T) {
	m, f := newReview(t)

	m, cmd := press(m, "a")
	require.Nil(t, cmd, "nothing to accept for a deleted event")
	require.Empty(t, f.resolved)

	m, _ = newReview(t)
	m, cmd = press(m, "p")
	require.NotNil(t, cmd)
	step(t, m, cmd())
}

func TestReview_ResolveError(t *testing.T) {
	m, f := newReview(t)
	f.err = errors.New("remote_unavailable")

	m, cmd := press(m, "p")
	m = step(t, m, cmd())
	require.Contains(t, m.status, "remote_unavailable")
	require.Empty(t, m.resolved)
}

func TestFormatDelta(t *testing.T) {
	require.Equal(t, "+45m", formatDelta(45*time.Minute))
	require.Equal(t, "-2h", formatDelta(-2*time.Hour))
	require.Equal(t, "+1h 5m", formatDelta(65*time.Minute))
}
