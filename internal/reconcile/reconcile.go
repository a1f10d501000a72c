// Package reconcile compares linked study sessions with the events that
// currently exist in the remote calendar.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theakshaypant/studysync/internal/core"
)

// Tolerance is the largest start-time difference that still counts as unchanged.
const Tolerance = 5 * time.Minute

// Drift is a linked session whose remote event moved.
type Drift struct {
	Session core.StudySession
	Remote  core.RemoteEvent
	// Delta is remote start minus local start.
	Delta time.Duration
}

// Input is one snapshot of local and remote state for a single provider.
type Input struct {
	Provider core.ProviderName
	Sessions []core.StudySession
	Remote   []core.RemoteEvent
	// LocalEvents are ad hoc calendar rows checked for orphans.
	LocalEvents []core.UserCalendarEvent
	// From and To bound the remote fetch. Sessions starting outside it are
	// not classified because their events were never fetched.
	From, To time.Time
}

// Result is the classification of an Input.
type Result struct {
	DeletedRemotely  []core.StudySession
	ModifiedRemotely []Drift
	OrphanedLocal    []core.UserCalendarEvent
}

// Empty reports whether no drift was found.
func (r Result) Empty() bool {
	return len(r.DeletedRemotely) == 0 && len(r.ModifiedRemotely) == 0 && len(r.OrphanedLocal) == 0
}

// Classify is pure: it only reads in.
func Classify(in Input) Result {
	remote := make(map[string][]core.RemoteEvent, len(in.Remote))
	for _, e := range in.Remote {
		if e.Cancelled {
			continue
		}
		id := core.CanonicalEventID(e.ID)
		remote[id] = append(remote[id], e)
	}

	var res Result
	active := make(map[string]struct{}, len(in.Sessions))
	for _, s := range in.Sessions {
		if !s.Linked() {
			continue
		}
		id := core.CanonicalEventID(s.ExternalEventID)
		active[id] = struct{}{}

		if s.CalendarProvider != in.Provider || !inWindow(s.StartTime, in.From, in.To) {
			continue
		}
		instances, ok := remote[id]
		if !ok {
			res.DeletedRemotely = append(res.DeletedRemotely, s)
			continue
		}
		closest, delta := nearest(s.StartTime, instances)
		if abs(delta) > Tolerance {
			res.ModifiedRemotely = append(res.ModifiedRemotely, Drift{Session: s, Remote: closest, Delta: delta})
		}
	}

	for _, e := range in.LocalEvents {
		ids := e.ExternalIDs()
		if len(ids) == 0 {
			continue
		}
		orphan := true
		for _, raw := range ids {
			if _, ok := active[core.CanonicalEventID(raw)]; ok {
				orphan = false
				break
			}
		}
		if orphan {
			res.OrphanedLocal = append(res.OrphanedLocal, e)
		}
	}
	return res
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// nearest picks the instance whose start is closest to start.
func nearest(start time.Time, instances []core.RemoteEvent) (core.RemoteEvent, time.Duration) {
	best := instances[0]
	delta := best.Start.Sub(start)
	for _, e := range instances[1:] {
		if d := e.Start.Sub(start); abs(d) < abs(delta) {
			best, delta = e, d
		}
	}
	return best, delta
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Reconciler applies the local corrections implied by a Result.
type Reconciler struct {
	sessions core.SessionStore
	events   core.CalendarEventStore
	log      *zap.Logger
}

// New creates a Reconciler.
func New(sessions core.SessionStore, events core.CalendarEventStore, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{sessions: sessions, events: events, log: log}
}

// Reconcile classifies in and applies the result. Remotely deleted sessions
// are unlinked and marked missed, orphaned rows are deleted, moved sessions
// are only reported.
func (r *Reconciler) Reconcile(ctx context.Context, userID uuid.UUID, in Input) (Result, error) {
	res := Classify(in)
	if err := r.Apply(ctx, userID, res); err != nil {
		return res, err
	}
	return res, nil
}

// Apply performs the side effects of res.
func (r *Reconciler) Apply(ctx context.Context, userID uuid.UUID, res Result) error {
	log := r.log.With(zap.String("user_id", userID.String()))

	if len(res.DeletedRemotely) > 0 {
		ids := make([]uuid.UUID, len(res.DeletedRemotely))
		for i, s := range res.DeletedRemotely {
			ids[i] = s.ID
		}
		n, err := r.sessions.MarkRemoteDeleted(ctx, ids)
		if err != nil {
			return fmt.Errorf("unlink remotely deleted sessions: %w", err)
		}
		log.Info("unlinked remotely deleted sessions", zap.Int64("count", n))
	}

	if len(res.OrphanedLocal) > 0 {
		ids := make([]uuid.UUID, len(res.OrphanedLocal))
		for i, e := range res.OrphanedLocal {
			ids[i] = e.ID
		}
		n, err := r.events.DeleteByIDs(ctx, userID, ids)
		if err != nil {
			return fmt.Errorf("delete orphaned calendar events: %w", err)
		}
		log.Info("deleted orphaned calendar events", zap.Int64("count", n))
	}

	for _, d := range res.ModifiedRemotely {
		log.Debug("session moved remotely",
			zap.String("session_id", d.Session.ID.String()),
			zap.Duration("delta", d.Delta))
	}
	return nil
}
