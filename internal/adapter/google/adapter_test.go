package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

type fakeGoogle struct {
	t        *testing.T
	mux      *http.ServeMux
	lastBody map[string]any
	lastForm url.Values
}

func newFakeGoogle(t *testing.T) (*fakeGoogle, *GoogleAdapter) {
	t.Helper()
	f := &fakeGoogle{t: t, mux: http.NewServeMux()}
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	a := NewGoogleAdapter("cid", "secret",
		WithAPIBase(srv.URL+"/"),
		WithTokenURL(srv.URL+"/token"),
	)
	return f, a
}

func (f *fakeGoogle) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(f.t, json.NewEncoder(w).Encode(v))
}

func (f *fakeGoogle) apiError(w http.ResponseWriter, status int, reason string) {
	f.json(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": reason,
			"errors":  []map[string]any{{"reason": reason, "message": reason}},
		},
	})
}

func (f *fakeGoogle) readBody(r *http.Request) {
	b, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)
	f.lastBody = map[string]any{}
	if len(b) > 0 {
		require.NoError(f.t, json.Unmarshal(b, &f.lastBody))
	}
}

func TestGoogleAdapter_DeleteEvent_NotFoundIsSuccess(t *testing.T) {
	f, a := newFakeGoogle(t)
	f.mux.HandleFunc("DELETE /calendar/v3/calendars/cal1/events/gone", func(w http.ResponseWriter, r *http.Request) {
		f.apiError(w, http.StatusNotFound, "notFound")
	})
	f.mux.HandleFunc("DELETE /calendar/v3/calendars/cal1/events/old", func(w http.ResponseWriter, r *http.Request) {
		f.apiError(w, http.StatusGone, "deleted")
	})
	f.mux.HandleFunc("DELETE /calendar/v3/calendars/cal1/events/ok", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	for _, id := range []string{"gone", "old", "ok"} {
		soft, err := a.DeleteEvent(ctx, "tok", "cal1", id)
		require.NoError(t, err, id)
		require.Nil(t, soft, id)
	}
}

func TestGoogleAdapter_DeleteEvent_InsufficientScopeIsSoft(t *testing.T) {
	f, a := newFakeGoogle(t)
	f.mux.HandleFunc("DELETE /calendar/v3/calendars/primary/events/e1", func(w http.ResponseWriter, r *http.Request) {
		f.apiError(w, http.StatusForbidden, "insufficientPermissions")
	})
	f.mux.HandleFunc("DELETE /calendar/v3/calendars/primary/events/e2", func(w http.ResponseWriter, r *http.Request) {
		f.apiError(w, http.StatusForbidden, "rateLimitExceeded")
	})

	soft, err := a.DeleteEvent(context.Background(), "tok", "", "e1")
	require.NoError(t, err)
	require.NotNil(t, soft)
	require.Equal(t, http.StatusForbidden, soft.Status)
	require.Equal(t, core.Google, soft.Provider)

	soft, err = a.DeleteEvent(context.Background(), "tok", "", "e2")
	require.Nil(t, soft)
	require.ErrorIs(t, err, errs.ErrRemoteUnavailable)
}

func TestGoogleAdapter_CreateEvent_SendsLocalTimeAndTag(t *testing.T) {
	f, a := newFakeGoogle(t)
	f.mux.HandleFunc("POST /calendar/v3/calendars/platform/events", func(w http.ResponseWriter, r *http.Request) {
		f.readBody(r)
		f.json(w, http.StatusOK, map[string]any{"id": "new-1"})
	})

	id, err := a.CreateEvent(context.Background(), "tok", "platform", core.EventPayload{
		Title:           "Study",
		Description:     "desc",
		Start:           "2024-03-10T09:00:00",
		End:             "2024-03-10T10:00:00",
		TimeZone:        "America/Mexico_City",
		ReminderMinutes: 15,
		SessionID:       "s-1",
	})
	require.NoError(t, err)
	require.Equal(t, "new-1", id)

	start := f.lastBody["start"].(map[string]any)
	require.Equal(t, "2024-03-10T09:00:00", start["dateTime"])
	require.Equal(t, "America/Mexico_City", start["timeZone"])
	reminders := f.lastBody["reminders"].(map[string]any)
	require.Equal(t, false, reminders["useDefault"])
	require.Len(t, reminders["overrides"], 2)
	props := f.lastBody["extendedProperties"].(map[string]any)["private"].(map[string]any)
	require.Equal(t, "s-1", props[SessionProperty])
}

func TestGoogleAdapter_UpdateEvent_MissingIsNotFound(t *testing.T) {
	f, a := newFakeGoogle(t)
	f.mux.HandleFunc("PATCH /calendar/v3/calendars/primary/events/e1", func(w http.ResponseWriter, r *http.Request) {
		f.apiError(w, http.StatusNotFound, "notFound")
	})
	err := a.UpdateEvent(context.Background(), "tok", "primary", "e1", core.EventPayload{Title: "x"})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGoogleAdapter_ListEvents_WritableCalendarsMergedAndSorted(t *testing.T) {
	f, a := newFakeGoogle(t)
	f.mux.HandleFunc("GET /calendar/v3/users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		f.json(w, http.StatusOK, map[string]any{"items": []map[string]any{
			{"id": "main", "summary": "Me", "primary": true, "accessRole": "owner"},
			{"id": "holidays", "summary": "Holidays", "accessRole": "reader"},
			{"id": "shared", "summary": "Team", "accessRole": "writer"},
			{"id": "broken", "summary": "Broken", "accessRole": "owner"},
		}})
	})
	f.mux.HandleFunc("GET /calendar/v3/calendars/main/events", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		f.json(w, http.StatusOK, map[string]any{"items": []map[string]any{
			{"id": "b", "summary": "later", "start": map[string]any{"dateTime": "2024-03-11T10:00:00Z"}, "end": map[string]any{"dateTime": "2024-03-11T11:00:00Z"},
				"extendedProperties": map[string]any{"private": map[string]any{SessionProperty: "s-9"}}},
		}})
	})
	f.mux.HandleFunc("GET /calendar/v3/calendars/shared/events", func(w http.ResponseWriter, r *http.Request) {
		f.json(w, http.StatusOK, map[string]any{"items": []map[string]any{
			{"id": "a", "summary": "earlier", "start": map[string]any{"dateTime": "2024-03-10T10:00:00Z"}, "end": map[string]any{"dateTime": "2024-03-10T11:00:00Z"}},
			{"id": "c", "summary": "holiday", "status": "cancelled", "start": map[string]any{"date": "2024-03-12"}, "end": map[string]any{"date": "2024-03-13"}},
		}})
	})
	f.mux.HandleFunc("GET /calendar/v3/calendars/holidays/events", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("read-only calendar must not be listed")
	})
	f.mux.HandleFunc("GET /calendar/v3/calendars/broken/events", func(w http.ResponseWriter, r *http.Request) {
		f.apiError(w, http.StatusInternalServerError, "backendError")
	})

	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	events, err := a.ListEvents(context.Background(), "tok", "", from, from.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{events[0].ID, events[1].ID, events[2].ID})
	require.Equal(t, "shared", events[0].CalendarID)
	require.Equal(t, "s-9", events[1].SessionID)
	require.True(t, events[2].AllDay)
	require.True(t, events[2].Cancelled)
}

func TestGoogleAdapter_CreateCalendar(t *testing.T) {
	f, a := newFakeGoogle(t)
	f.mux.HandleFunc("POST /calendar/v3/calendars", func(w http.ResponseWriter, r *http.Request) {
		f.readBody(r)
		f.json(w, http.StatusOK, map[string]any{"id": "cal-new", "summary": f.lastBody["summary"]})
	})
	ref, err := a.CreateCalendar(context.Background(), "tok", "Study Planner", "America/Mexico_City")
	require.NoError(t, err)
	require.Equal(t, "cal-new", ref.ID)
	require.Equal(t, "America/Mexico_City", f.lastBody["timeZone"])
}

func TestGoogleAdapter_FetchIdentityEmail(t *testing.T) {
	f, a := newFakeGoogle(t)
	f.mux.HandleFunc("GET /oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.json(w, http.StatusOK, map[string]any{"email": "ana@example.com"})
	})
	email, err := a.FetchIdentityEmail(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", email)
}

func TestGoogleAdapter_ExchangeAndRefresh(t *testing.T) {
	f, a := newFakeGoogle(t)
	f.mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.lastForm = r.PostForm
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") == "stale" {
				f.json(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Bad Request"})
				return
			}
			f.json(w, http.StatusOK, map[string]any{
				"access_token": "at", "refresh_token": "rt", "expires_in": 3600, "token_type": "Bearer", "scope": "calendar",
			})
		case "refresh_token":
			f.json(w, http.StatusOK, map[string]any{"access_token": "at2", "expires_in": 3600, "token_type": "Bearer"})
		}
	})

	ctx := context.Background()
	tok, err := a.ExchangeCode(ctx, "good", "http://localhost/cb")
	require.NoError(t, err)
	require.Equal(t, "at", tok.AccessToken)
	require.Equal(t, "rt", tok.RefreshToken)
	require.NotNil(t, tok.ExpiresAt)
	require.Equal(t, "http://localhost/cb", f.lastForm.Get("redirect_uri"))

	_, err = a.ExchangeCode(ctx, "stale", "http://localhost/cb")
	require.ErrorIs(t, err, errs.ErrCodeExpired)

	tok, err = a.RefreshToken(ctx, "rt")
	require.NoError(t, err)
	require.Equal(t, "at2", tok.AccessToken)
	require.Empty(t, tok.RefreshToken, "omitted refresh token is reported as empty")
}

func TestGoogleAdapter_AuthURL(t *testing.T) {
	a := NewGoogleAdapter("cid", "secret")
	u, err := url.Parse(a.AuthURL("st", "http://localhost/cb"))
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.Equal(t, "st", q.Get("state"))
	require.Equal(t, "http://localhost/cb", q.Get("redirect_uri"))
	require.True(t, strings.Contains(q.Get("scope"), "calendar"))
}
