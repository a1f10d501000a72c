package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

func TestUserToken_RoundTrip(t *testing.T) {
	s := NewSigner([]byte("k"), 0)
	u := CurrentUser{ID: uuid.New(), Email: "ana@example.com"}

	tok, err := s.IssueUserToken(u, time.Hour)
	require.NoError(t, err)
	got, err := s.VerifyUserToken(tok)
	require.NoError(t, err)
	require.Equal(t, u, got)

	_, err = NewSigner([]byte("other"), 0).VerifyUserToken(tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestUserToken_Expired(t *testing.T) {
	s := NewSigner([]byte("k"), 0)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := s.IssueUserToken(CurrentUser{ID: uuid.New()}, time.Hour)
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.VerifyUserToken(tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestState(t *testing.T) {
	s := NewSigner([]byte("k"), time.Minute)
	userID := uuid.New()

	want := State{UserID: userID, Provider: core.Microsoft, Email: "ana@contoso.com"}
	state, err := s.SignState(want)
	require.NoError(t, err)
	got, err := s.ParseState(state)
	require.NoError(t, err)
	require.Equal(t, want, got)

	// A user token is not a valid state.
	tok, err := s.IssueUserToken(CurrentUser{ID: userID}, time.Hour)
	require.NoError(t, err)
	_, err = s.ParseState(tok)
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	s.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	_, err = s.ParseState(state)
	require.Error(t, err, "state expired")
}

func TestMiddleware(t *testing.T) {
	s := NewSigner([]byte("k"), 0)
	u := CurrentUser{ID: uuid.New(), Email: "ana@example.com"}
	tok, err := s.IssueUserToken(u, time.Hour)
	require.NoError(t, err)

	var seen CurrentUser
	h := s.Middleware(func(w http.ResponseWriter, _ *http.Request, err error) {
		w.WriteHeader(errs.HTTPStatus(err))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, u, seen)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
