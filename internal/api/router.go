package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leasewatch/costplane/internal/auth"
	"github.com/leasewatch/costplane/internal/config"
	"github.com/leasewatch/costplane/internal/metrics"
	"github.com/leasewatch/costplane/internal/model"
)

type Scheduler interface {
	OnTerminationSignal(ctx context.Context, sig model.TerminationSignal) error
}

type Collector interface {
	HandleTrigger(ctx context.Context, payload model.TriggerPayload) error
}

type RunLister interface {
	ListRunsByLease(ctx context.Context, leaseUUID string) ([]model.CollectionRun, error)
}

type Server struct {
	cfg       config.Config
	scheduler Scheduler
	collector Collector
	runs      RunLister
}

func NewRouter(cfg config.Config, sched Scheduler, coll Collector, runs RunLister) http.Handler {
	s := &Server{cfg: cfg, scheduler: sched, collector: coll, runs: runs}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// A synchronous collection paginates a rate-limited billing API;
	// give it room.
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.With(s.ingestSharedAuth).Post("/events/lease-terminated", s.handleLeaseTerminated)
		v1.With(s.ingestSharedAuth).Post("/hooks/collect", s.handleCollect)

		v1.With(auth.Middleware(cfg.JWTSecret)).Group(func(authed chi.Router) {
			authed.Get("/runs/{leaseID}", s.handleListRuns)
		})
	})

	return r
}

func (s *Server) ingestSharedAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Ingest-Key") != s.cfg.IngestSharedKey {
			writeAPIError(w, http.StatusUnauthorized, "unauthorized", "invalid ingest key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
