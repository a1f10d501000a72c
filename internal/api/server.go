// Package api serves the calendar engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theakshaypant/studysync/internal/auth"
	"github.com/theakshaypant/studysync/internal/availability"
	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/orchestrator"
	"github.com/theakshaypant/studysync/internal/service"
	"github.com/theakshaypant/studysync/internal/token"
)

// CalendarService is the engine surface the handlers use.
type CalendarService interface {
	ConnectCalendar(userID uuid.UUID, p core.ProviderName, expectedEmail string) (string, error)
	HandleCallback(ctx context.Context, cb service.Callback) (*core.CalendarIntegration, error)
	GetStatus(ctx context.Context, userID uuid.UUID) (token.Status, error)
	GetAvailability(ctx context.Context, userID uuid.UUID, q service.AvailabilityQuery) ([]availability.DayAvailability, error)
	FindFreeSlots(ctx context.Context, userID uuid.UUID, q service.AvailabilityQuery, minDuration time.Duration) ([]availability.Slot, error)
	SyncSessions(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (orchestrator.SyncResult, error)
	CheckChanges(ctx context.Context, userID uuid.UUID) (service.DriftReport, error)
	ResolveDrift(ctx context.Context, userID, sessionID uuid.UUID, choice service.DriftChoice) error
	DisconnectCalendar(ctx context.Context, userID uuid.UUID, p core.ProviderName) (int64, error)
	DeletePlan(ctx context.Context, userID, planID uuid.UUID) (orchestrator.DeleteResult, error)
	DeleteSessions(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (orchestrator.DeleteResult, error)
	CleanupRemoteOrphans(ctx context.Context, userID uuid.UUID) (orchestrator.CleanupResult, error)
}

var _ CalendarService = (*service.Calendar)(nil)

// Config for the server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	Service        CalendarService
	Signer         *auth.Signer
	Log            *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	svc        CalendarService
	signer     *auth.Signer
	log        *zap.Logger
}

// New creates a server and its routes.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	s := &Server{svc: cfg.Service, signer: cfg.Signer, log: cfg.Log}
	s.setupRouter(cfg.AllowedOrigins)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// A sync of a long plan is throttled per event.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter(origins []string) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// The provider redirects the browser here; the signed state identifies the user.
		r.Get("/calendar/callback", s.handleCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.signer.Middleware(s.respondError))

			r.Route("/calendar", func(r chi.Router) {
				r.Get("/connect/{provider}", s.handleConnect)
				r.Get("/status", s.handleStatus)
				r.Get("/availability", s.handleAvailability)
				r.Get("/free-slots", s.handleFreeSlots)
				r.Post("/sync", s.handleSync)
				r.Post("/check-changes", s.handleCheckChanges)
				r.Post("/drift/{sessionID}", s.handleResolveDrift)
				r.Post("/cleanup", s.handleCleanup)
				r.Delete("/", s.handleDisconnect)
				r.Delete("/sessions", s.handleDeleteSessions)
			})
			r.Delete("/plans/{planID}", s.handleDeletePlan)
		})
	})

	s.router = r
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// --- Response helpers ---

type errorBody struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
	Remedy  []string  `json:"remedy,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	body := errorBody{Code: errs.CodeOf(err), Message: "internal error"}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Remedy = e.Remedy
		if body.Message == "" {
			body.Message = string(e.Code)
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	s.respondJSON(w, status, map[string]errorBody{"error": body})
}

func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.CodeInvalidInput, "invalid request body", err)
	}
	return nil
}

func currentUser(r *http.Request) auth.CurrentUser {
	u, _ := auth.FromContext(r.Context())
	return u
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errs.Wrap(errs.CodeInvalidInput, "invalid "+name, err)
	}
	return id, nil
}
