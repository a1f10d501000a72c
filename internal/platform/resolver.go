// Package platform finds or creates the dedicated Google calendar that holds
// the study sessions, keeping them out of the user's primary calendar.
package platform

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/theakshaypant/studysync/internal/core"
)

// DefaultCalendarName labels the platform calendar when none is configured.
const DefaultCalendarName = "StudySync Study Plan"

// Resolver resolves the platform calendar id for an integration.
type Resolver struct {
	adapters core.Adapters
	store    core.TokenStore
	name     string
	log      *zap.Logger
}

// NewResolver creates a Resolver. An empty name selects DefaultCalendarName.
func NewResolver(adapters core.Adapters, store core.TokenStore, name string, log *zap.Logger) *Resolver {
	if name == "" {
		name = DefaultCalendarName
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{adapters: adapters, store: store, name: name, log: log}
}

// ResolveCalendarID returns the platform calendar id, or "" when it could not
// be resolved. Callers fall back to the primary calendar on "".
//
// Only Google supports secondary calendars; other providers always yield "".
// The resolved id is cached on the integration so later calls skip the lookup.
func (r *Resolver) ResolveCalendarID(ctx context.Context, integ *core.CalendarIntegration, accessToken, timezone string) string {
	if integ == nil || integ.Provider != core.Google {
		return ""
	}
	if integ.SecondaryCalendarID != "" {
		return integ.SecondaryCalendarID
	}

	log := r.log.With(zap.String("user_id", integ.UserID.String()))
	adapter, err := r.adapters.For(integ.Provider)
	if err != nil {
		log.Warn("platform calendar: no adapter", zap.Error(err))
		return ""
	}

	id, err := r.find(ctx, adapter, accessToken)
	if err != nil {
		log.Warn("platform calendar: list calendars failed", zap.Error(err))
		return ""
	}
	if id == "" {
		creator, ok := adapter.(core.CalendarCreator)
		if !ok {
			return ""
		}
		if timezone == "" {
			timezone = core.DefaultTimezone
		}
		ref, err := creator.CreateCalendar(ctx, accessToken, r.name, timezone)
		if err != nil {
			log.Warn("platform calendar: create failed", zap.Error(err))
			return ""
		}
		log.Info("platform calendar created", zap.String("calendar_id", ref.ID))
		id = ref.ID
	}

	if err := r.store.SetSecondaryCalendar(ctx, integ.ID, id); err != nil {
		// The id is still usable for this call; the next one looks it up again.
		log.Warn("platform calendar: cache failed", zap.Error(err))
	} else {
		integ.SecondaryCalendarID = id
	}
	return id
}

// Forget drops the cached platform calendar, for instance after the user
// deleted it, so the next ResolveCalendarID looks it up again.
func (r *Resolver) Forget(ctx context.Context, integ *core.CalendarIntegration) {
	if integ == nil || integ.SecondaryCalendarID == "" {
		return
	}
	r.log.Info("platform calendar forgotten",
		zap.String("user_id", integ.UserID.String()),
		zap.String("calendar_id", integ.SecondaryCalendarID))
	integ.SecondaryCalendarID = ""
	if err := r.store.SetSecondaryCalendar(ctx, integ.ID, ""); err != nil {
		r.log.Warn("platform calendar: clear cache failed", zap.Error(err))
	}
}

func (r *Resolver) find(ctx context.Context, adapter core.ProviderAdapter, accessToken string) (string, error) {
	cals, err := adapter.ListCalendars(ctx, accessToken)
	if err != nil {
		return "", err
	}
	for _, c := range cals {
		if strings.EqualFold(strings.TrimSpace(c.Name), r.name) && c.Writable() {
			return c.ID, nil
		}
	}
	return "", nil
}
