// Package token keeps stored OAuth access tokens fresh.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

// Credentials is what a sync operation needs to talk to the provider.
type Credentials struct {
	AccessToken string
	Provider    core.ProviderName
	// CalendarID is the cached platform calendar, or "" when none is known yet.
	CalendarID  string
	Integration *core.CalendarIntegration
}

// Status summarizes the user's connection.
type Status struct {
	IsConnected   bool              `json:"isConnected"`
	Provider      core.ProviderName `json:"provider,omitempty"`
	IsExpired     bool              `json:"isExpired"`
	CanRefresh    bool              `json:"canRefresh"`
	CalendarEmail string            `json:"calendarEmail,omitempty"`
}

// Manager refreshes tokens before they are handed out.
type Manager struct {
	store    core.TokenStore
	adapters core.Adapters
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. A nil logger disables logging.
func NewManager(store core.TokenStore, adapters core.Adapters, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{store: store, adapters: adapters, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// latest returns the user's active integration or errs.ErrNotConnected.
func (m *Manager) latest(ctx context.Context, userID uuid.UUID) (*core.CalendarIntegration, error) {
	integ, err := m.store.Latest(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.New(errs.CodeNotConnected, "no calendar connected")
	}
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}
	if integ.AccessToken == "" {
		return nil, errs.New(errs.CodeNotConnected, "calendar integration has no access token")
	}
	return integ, nil
}

// EnsureFreshToken returns credentials for the user's latest integration,
// refreshing and persisting the access token first when it is expired or
// its expiry is unknown.
func (m *Manager) EnsureFreshToken(ctx context.Context, userID uuid.UUID) (Credentials, error) {
	integ, err := m.latest(ctx, userID)
	if err != nil {
		return Credentials{}, err
	}
	creds := Credentials{
		AccessToken: integ.AccessToken,
		Provider:    integ.Provider,
		CalendarID:  integ.SecondaryCalendarID,
		Integration: integ,
	}
	if !integ.Expired(m.now()) {
		return creds, nil
	}

	log := m.log.With(zap.String("user_id", userID.String()), zap.String("provider", string(integ.Provider)))
	if integ.RefreshToken == "" {
		log.Warn("token expired without refresh token")
		return Credentials{}, errs.New(errs.CodeReconnectionRequired, "access token expired and no refresh token is stored")
	}

	adapter, err := m.adapters.For(integ.Provider)
	if err != nil {
		return Credentials{}, err
	}
	tok, err := adapter.RefreshToken(ctx, integ.RefreshToken)
	if err != nil {
		log.Error("token refresh failed", zap.Error(err))
		if errs.CodeOf(err) == "" {
			err = errs.Wrap(errs.CodeRefreshFailed, "refresh access token", err)
		}
		return Credentials{}, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = integ.RefreshToken
	}
	if err := m.store.UpdateTokens(ctx, integ.ID, tok); err != nil {
		return Credentials{}, fmt.Errorf("persist refreshed token: %w", err)
	}

	integ.AccessToken = tok.AccessToken
	integ.RefreshToken = tok.RefreshToken
	integ.ExpiresAt = tok.ExpiresAt
	if tok.Scope != "" {
		integ.Scope = tok.Scope
	}
	log.Debug("token refreshed")

	creds.AccessToken = tok.AccessToken
	return creds, nil
}

// Status reports the connection state without refreshing anything.
func (m *Manager) Status(ctx context.Context, userID uuid.UUID) (Status, error) {
	integ, err := m.latest(ctx, userID)
	if errors.Is(err, errs.ErrNotConnected) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{
		IsConnected:   true,
		Provider:      integ.Provider,
		IsExpired:     integ.Expired(m.now()),
		CanRefresh:    integ.RefreshToken != "",
		CalendarEmail: integ.CalendarEmail,
	}, nil
}
