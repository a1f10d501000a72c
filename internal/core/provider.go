package core

import (
	"context"
	"fmt"
	"time"
)

// SoftFailure reports a remote call that was rejected in a way the caller
// must acknowledge but not propagate, such as a delete refused for lack of
// OAuth scope. Local state changes proceed regardless.
type SoftFailure struct {
	Provider ProviderName
	Op       string
	EventID  string
	Status   int
	Reason   string
}

func (s SoftFailure) String() string {
	return fmt.Sprintf("%s %s %s: %d %s", s.Provider, s.Op, s.EventID, s.Status, s.Reason)
}

// ProviderAdapter wraps the REST surface of one calendar provider.
// Every method that talks to the provider takes the access token explicitly;
// adapters hold no per-user state.
type ProviderAdapter interface {
	// Name returns the provider this adapter talks to.
	Name() ProviderName
	// AuthURL returns the consent page URL for the given state and redirect URI.
	AuthURL(state, redirectURI string) string
	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code, redirectURI string) (Tokens, error)
	// RefreshToken obtains a new access token. RefreshToken in the result is
	// empty when the provider did not rotate it.
	RefreshToken(ctx context.Context, refreshToken string) (Tokens, error)
	// FetchIdentityEmail returns the email of the account that granted access.
	FetchIdentityEmail(ctx context.Context, accessToken string) (string, error)
	// ListCalendars returns calendars visible to the account.
	ListCalendars(ctx context.Context, accessToken string) ([]CalendarRef, error)
	// ListEvents returns events overlapping [from, to), sorted by start.
	// An empty calendarID means every writable calendar.
	ListEvents(ctx context.Context, accessToken, calendarID string, from, to time.Time) ([]RemoteEvent, error)
	// CreateEvent creates an event and returns its remote id.
	CreateEvent(ctx context.Context, accessToken, calendarID string, p EventPayload) (string, error)
	// UpdateEvent patches an existing event. A missing event yields errs.ErrNotFound.
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, p EventPayload) error
	// DeleteEvent removes an event. An already missing event is success.
	// A non-nil SoftFailure means the provider refused without it being an error.
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) (*SoftFailure, error)
}

// CalendarCreator is implemented by providers that support secondary calendars.
type CalendarCreator interface {
	CreateCalendar(ctx context.Context, accessToken, name, timezone string) (CalendarRef, error)
}

// Adapters selects a ProviderAdapter by provider name.
type Adapters map[ProviderName]ProviderAdapter

// NewAdapters indexes adapters by their Name.
func NewAdapters(list ...ProviderAdapter) Adapters {
	m := make(Adapters, len(list))
	for _, a := range list {
		m[a.Name()] = a
	}
	return m
}

// For returns the adapter for p.
func (a Adapters) For(p ProviderName) (ProviderAdapter, error) {
	ad, ok := a[p]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for provider %q", p)
	}
	return ad, nil
}
