package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/secret"
)

// IntegrationRepo implements core.TokenStore. Tokens are sealed at rest.
type IntegrationRepo struct {
	db     *DB
	sealer secret.Sealer
}

var _ core.TokenStore = (*IntegrationRepo)(nil)

// NewIntegrationRepo constructs the token store. A nil sealer stores tokens as is.
func NewIntegrationRepo(db *DB, sealer secret.Sealer) *IntegrationRepo {
	if sealer == nil {
		sealer = secret.Plain{}
	}
	return &IntegrationRepo{db: db, sealer: sealer}
}

const integrationCols = `id, user_id, provider, access_token, refresh_token, expires_at, scope,
calendar_email, secondary_calendar_id, created_at, updated_at`

func (r *IntegrationRepo) scan(row scanner) (*core.CalendarIntegration, error) {
	var (
		c                     core.CalendarIntegration
		provider, access      string
		refresh, email, calID *string
		expiresAt             *time.Time
	)
	if err := row.Scan(&c.ID, &c.UserID, &provider, &access, &refresh, &expiresAt, &c.Scope,
		&email, &calID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	var err error
	if c.AccessToken, err = r.sealer.Open(access); err != nil {
		return nil, err
	}
	if c.RefreshToken, err = r.sealer.Open(deref(refresh)); err != nil {
		return nil, err
	}
	c.Provider = core.ProviderName(provider)
	c.ExpiresAt = expiresAt
	c.CalendarEmail = deref(email)
	c.SecondaryCalendarID = deref(calID)
	return &c, nil
}

// Latest picks the most recently updated row across providers.
func (r *IntegrationRepo) Latest(ctx context.Context, userID uuid.UUID) (*core.CalendarIntegration, error) {
	const q = `
SELECT ` + integrationCols + `
FROM calendar_integrations
WHERE user_id=$1
ORDER BY updated_at DESC
LIMIT 1`
	return r.scan(r.db.Pool.QueryRow(ctx, q, userID))
}

func (r *IntegrationRepo) LatestByProvider(ctx context.Context, userID uuid.UUID, p core.ProviderName) (*core.CalendarIntegration, error) {
	const q = `
SELECT ` + integrationCols + `
FROM calendar_integrations
WHERE user_id=$1 AND provider=$2
ORDER BY updated_at DESC
LIMIT 1`
	return r.scan(r.db.Pool.QueryRow(ctx, q, userID, string(p)))
}

// Save updates the latest row for (user, provider) or inserts a new one.
// The cached platform calendar is kept only while the calendar account stays
// the same; another account cannot see it.
func (r *IntegrationRepo) Save(ctx context.Context, c *core.CalendarIntegration) error {
	access, err := r.sealer.Seal(c.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.sealer.Seal(c.RefreshToken)
	if err != nil {
		return err
	}

	existing, err := r.LatestByProvider(ctx, c.UserID, c.Provider)
	switch {
	case err == nil:
		const q = `
UPDATE calendar_integrations
SET access_token=$2, refresh_token=COALESCE($3, refresh_token), expires_at=$4, scope=$5,
    secondary_calendar_id=CASE
        WHEN calendar_email IS DISTINCT FROM $6 THEN $7
        ELSE COALESCE($7, secondary_calendar_id)
    END,
    calendar_email=$6, updated_at=now()
WHERE id=$1
RETURNING created_at, updated_at`
		c.ID = existing.ID
		return r.db.Pool.QueryRow(ctx, q, c.ID, access, nullable(refresh), c.ExpiresAt, c.Scope,
			nullable(c.CalendarEmail), nullable(c.SecondaryCalendarID)).Scan(&c.CreatedAt, &c.UpdatedAt)
	case errors.Is(err, errs.ErrNotFound):
		const q = `
INSERT INTO calendar_integrations
    (id, user_id, provider, access_token, refresh_token, expires_at, scope, calendar_email, secondary_calendar_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at`
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		return r.db.Pool.QueryRow(ctx, q, c.ID, c.UserID, string(c.Provider), access, nullable(refresh),
			c.ExpiresAt, c.Scope, nullable(c.CalendarEmail), nullable(c.SecondaryCalendarID)).
			Scan(&c.CreatedAt, &c.UpdatedAt)
	default:
		return fmt.Errorf("load integration: %w", err)
	}
}

// UpdateTokens keeps the stored refresh token when t carries none.
func (r *IntegrationRepo) UpdateTokens(ctx context.Context, id uuid.UUID, t core.Tokens) error {
	access, err := r.sealer.Seal(t.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.sealer.Seal(t.RefreshToken)
	if err != nil {
		return err
	}
	const q = `
UPDATE calendar_integrations
SET access_token=$2, refresh_token=COALESCE($3, refresh_token), expires_at=$4,
    scope=COALESCE($5, scope), updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, access, nullable(refresh), t.ExpiresAt, nullable(t.Scope))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetSecondaryCalendar caches calendarID; an empty id clears the cache.
func (r *IntegrationRepo) SetSecondaryCalendar(ctx context.Context, id uuid.UUID, calendarID string) error {
	const q = `UPDATE calendar_integrations SET secondary_calendar_id=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, nullable(calendarID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes every integration of the user, or only those of provider p.
func (r *IntegrationRepo) Delete(ctx context.Context, userID uuid.UUID, p core.ProviderName) (int64, error) {
	if p == "" {
		tag, err := r.db.Pool.Exec(ctx, `DELETE FROM calendar_integrations WHERE user_id=$1`, userID)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM calendar_integrations WHERE user_id=$1 AND provider=$2`, userID, string(p))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
