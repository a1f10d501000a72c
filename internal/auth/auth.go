// Package auth verifies the bearer tokens issued by the study planner and
// signs the OAuth state parameter.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

const stateAudience = "studysync-oauth-state"

// CurrentUser is the authenticated platform user.
type CurrentUser struct {
	ID    uuid.UUID
	Email string
}

type userClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type stateClaims struct {
	Provider string `json:"provider"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// State is the payload of a signed OAuth state value.
type State struct {
	UserID   uuid.UUID
	Provider core.ProviderName
	// Email is the platform account email the calendar identity must match.
	Email string
}

// Signer issues and verifies HS256 tokens with one shared key.
type Signer struct {
	key      []byte
	stateTTL time.Duration
	now      func() time.Time
}

// NewSigner creates a Signer. stateTTL bounds how long a consent screen may stay open.
func NewSigner(key []byte, stateTTL time.Duration) *Signer {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &Signer{key: key, stateTTL: stateTTL, now: time.Now}
}

func (s *Signer) keyFunc(t *jwt.Token) (any, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, errors.New("unexpected signing method")
	}
	return s.key, nil
}

func (s *Signer) parser(opts ...jwt.ParserOption) *jwt.Parser {
	opts = append(opts, jwt.WithLeeway(30*time.Second), jwt.WithTimeFunc(s.now))
	return jwt.NewParser(opts...)
}

// IssueUserToken signs a bearer token for u.
func (s *Signer) IssueUserToken(u CurrentUser, ttl time.Duration) (string, error) {
	now := s.now()
	claims := userClaims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// VerifyUserToken returns the user a bearer token was issued for.
func (s *Signer) VerifyUserToken(tok string) (CurrentUser, error) {
	var claims userClaims
	if _, err := s.parser().ParseWithClaims(tok, &claims, s.keyFunc); err != nil {
		return CurrentUser{}, errs.Wrap(errs.CodeUnauthorized, "invalid bearer token", err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return CurrentUser{}, errs.New(errs.CodeUnauthorized, "bad subject")
	}
	return CurrentUser{ID: id, Email: claims.Email}, nil
}

// SignState binds an OAuth round trip to the user and provider that started it.
func (s *Signer) SignState(st State) (string, error) {
	now := s.now()
	claims := stateClaims{
		Provider: string(st.Provider),
		Email:    st.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   st.UserID.String(),
			Audience:  jwt.ClaimStrings{stateAudience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.stateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// ParseState verifies a state value produced by SignState.
func (s *Signer) ParseState(state string) (State, error) {
	var claims stateClaims
	if _, err := s.parser(jwt.WithAudience(stateAudience)).ParseWithClaims(state, &claims, s.keyFunc); err != nil {
		return State{}, errs.Wrap(errs.CodeInvalidInput, "invalid or expired OAuth state", err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return State{}, errs.New(errs.CodeInvalidInput, "invalid OAuth state subject")
	}
	p, ok := core.ParseProvider(claims.Provider)
	if !ok {
		return State{}, errs.New(errs.CodeInvalidInput, "invalid OAuth state provider")
	}
	return State{UserID: id, Provider: p, Email: claims.Email}, nil
}

type ctxKey struct{}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u CurrentUser) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user stored by Middleware.
func FromContext(ctx context.Context) (CurrentUser, bool) {
	u, ok := ctx.Value(ctxKey{}).(CurrentUser)
	return u, ok
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// CurrentUser in the request context. onError writes the rejection.
func (s *Signer) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := BearerToken(r)
			if !ok {
				onError(w, r, errs.New(errs.CodeUnauthorized, "missing bearer token"))
				return
			}
			u, err := s.VerifyUserToken(tok)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}
