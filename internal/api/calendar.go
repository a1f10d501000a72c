package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/service"
)

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	p, ok := core.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		s.respondError(w, r, errs.New(errs.CodeInvalidInput, "provider must be google or microsoft"))
		return
	}
	u := currentUser(r)
	authURL, err := s.svc.ConnectCalendar(u.ID, p, u.Email)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	integ, err := s.svc.HandleCallback(r.Context(), service.Callback{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"connected":     true,
		"provider":      integ.Provider,
		"calendarEmail": integ.CalendarEmail,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetStatus(r.Context(), currentUser(r).ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

// availabilityQuery reads start, end, weekdays, workStart, workEnd and timezone.
// start and end are dates in timezone, not instants.
func availabilityQuery(r *http.Request) (service.AvailabilityQuery, error) {
	v := r.URL.Query()
	var q service.AvailabilityQuery
	var err error
	if q.Start, err = time.Parse(time.DateOnly, v.Get("start")); err != nil {
		return q, errs.Wrap(errs.CodeInvalidInput, "start must be YYYY-MM-DD", err)
	}
	if q.End, err = time.Parse(time.DateOnly, v.Get("end")); err != nil {
		return q, errs.Wrap(errs.CodeInvalidInput, "end must be YYYY-MM-DD", err)
	}
	if raw := v.Get("weekdays"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			d, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || d < 0 || d > 6 {
				return q, errs.New(errs.CodeInvalidInput, "weekdays are numbers from 0 (Sunday) to 6")
			}
			q.Weekdays = append(q.Weekdays, time.Weekday(d))
		}
	}
	wh := q.WorkingHours
	if raw := v.Get("workStart"); raw != "" {
		if wh.StartHour, wh.StartMinute, err = clock(raw); err != nil {
			return q, err
		}
	}
	if raw := v.Get("workEnd"); raw != "" {
		if wh.EndHour, wh.EndMinute, err = clock(raw); err != nil {
			return q, err
		}
	}
	q.WorkingHours = wh
	q.Timezone = v.Get("timezone")
	return q, nil
}

func clock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, errs.Wrap(errs.CodeInvalidInput, "working hours must be HH:MM", err)
	}
	return t.Hour(), t.Minute(), nil
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q, err := availabilityQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	days, err := s.svc.GetAvailability(r.Context(), currentUser(r).ID, q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (s *Server) handleFreeSlots(w http.ResponseWriter, r *http.Request) {
	q, err := availabilityQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	minMinutes := 30
	if raw := r.URL.Query().Get("minMinutes"); raw != "" {
		if minMinutes, err = strconv.Atoi(raw); err != nil || minMinutes <= 0 {
			s.respondError(w, r, errs.New(errs.CodeInvalidInput, "minMinutes must be a positive number"))
			return
		}
	}
	slots, err := s.svc.FindFreeSlots(r.Context(), currentUser(r).ID, q, time.Duration(minMinutes)*time.Minute)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

type sessionIDsRequest struct {
	SessionIDs []uuid.UUID `json:"sessionIds"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req sessionIDsRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.svc.SyncSessions(r.Context(), currentUser(r).ID, req.SessionIDs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCheckChanges(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.CheckChanges(r.Context(), currentUser(r).ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleResolveDrift(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "sessionID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req struct {
		Choice string `json:"choice"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	choice, err := service.ParseDriftChoice(req.Choice)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.svc.ResolveDrift(r.Context(), currentUser(r).ID, id, choice); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var p core.ProviderName
	if raw := r.URL.Query().Get("provider"); raw != "" {
		var ok bool
		if p, ok = core.ParseProvider(raw); !ok {
			s.respondError(w, r, errs.New(errs.CodeInvalidInput, "provider must be google or microsoft"))
			return
		}
	}
	n, err := s.svc.DisconnectCalendar(r.Context(), currentUser(r).ID, p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (s *Server) handleDeleteSessions(w http.ResponseWriter, r *http.Request) {
	var req sessionIDsRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.svc.DeleteSessions(r.Context(), currentUser(r).ID, req.SessionIDs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "planID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.svc.DeletePlan(r.Context(), currentUser(r).ID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CleanupRemoteOrphans(r.Context(), currentUser(r).ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}
