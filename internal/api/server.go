// Package api exposes the HTTP interface for the vault service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aovault/aovault/internal/config"
	"github.com/aovault/aovault/internal/content"
	"github.com/aovault/aovault/internal/importer"
	"github.com/aovault/aovault/internal/logging"
	"github.com/aovault/aovault/internal/metrics"
	"github.com/aovault/aovault/internal/vault"
)

// defaultOwnerID is used when a request does not carry an owner id. The
// service is single-user by default; the field exists for shared deployments.
const defaultOwnerID int64 = 1

// ImportService is the slice of the importer the handlers need.
type ImportService interface {
	Import(ctx context.Context, ownerID int64, url string, prefetchedHTML []byte) (vault.Work, error)
	CheckForUpdates(ctx context.Context, ownerID int64, limit int) ([]vault.UpdateResult, error)
}

// ContentService resolves a work's chapters.
type ContentService interface {
	Resolve(ctx context.Context, workID int64) (content.Result, error)
}

// MonitorStatus reports the latest probe results.
type MonitorStatus interface {
	Overall() string
	Latest() []vault.HealthCheck
}

// Server wires HTTP handlers to the importer, resolver, and stores.
type Server struct {
	router   chi.Router
	works    vault.WorkStore
	health   vault.HealthStore
	importer ImportService
	resolver ContentService
	monitor  MonitorStatus
	clock    vault.Clock
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	works vault.WorkStore,
	health vault.HealthStore,
	imp ImportService,
	resolver ContentService,
	monitor MonitorStatus,
	clock vault.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	logger = logging.OrNop(logger)
	s := &Server{
		works:    works,
		health:   health,
		importer: imp,
		resolver: resolver,
		monitor:  monitor,
		clock:    clock,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/works", func(r chi.Router) {
			r.Post("/import", s.importWork)
			r.Post("/check-updates", s.checkUpdates)
			r.Get("/", s.listWorks)
			r.Route("/{work_id}", func(r chi.Router) {
				r.Get("/", s.getWork)
				r.Get("/content", s.getContent)
			})
		})
		r.Route("/monitor", func(r chi.Router) {
			r.Get("/status", s.monitorStatus)
			r.Get("/history", s.monitorHistory)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness follows the store: a failing read means not ready.
	if _, err := s.health.ListHealthChecks(r.Context(), "readyz", s.clock.Now()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type importRequest struct {
	URL     string `json:"url"`
	HTML    string `json:"html,omitempty"`
	OwnerID *int64 `json:"owner_id,omitempty"`
}

func (s *Server) importWork(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	ownerID := defaultOwnerID
	if req.OwnerID != nil {
		ownerID = *req.OwnerID
	}

	work, err := s.importer.Import(r.Context(), ownerID, req.URL, []byte(req.HTML))
	if err != nil {
		s.writeImportError(w, work, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"work": work})
}

func (s *Server) writeImportError(w http.ResponseWriter, work vault.Work, err error) {
	var rle *vault.RateLimitedError
	switch {
	case errors.Is(err, vault.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "not a recognizable work URL")
	case errors.Is(err, vault.ErrDuplicate):
		// The importer returns the existing work on a duplicate; hand the
		// client its id so it can navigate there.
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "work already in library",
			"work_id": work.ID,
		})
	case errors.Is(err, importer.ErrNeedsClientFetch):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":              "server-side fetch failed",
			"needs_client_fetch": true,
		})
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", retryAfterSeconds(rle.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "source is rate limiting",
			"retry_after": int(rle.RetryAfter.Seconds()),
		})
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) listWorks(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromQuery(r)
	works, err := s.works.ListWorks(r.Context(), ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list works")
		return
	}
	if works == nil {
		works = []vault.Work{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"works": works})
}

func (s *Server) getWork(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}
	work, err := s.works.GetWork(r.Context(), id)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "work not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load work")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"work": work})
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	id, ok := workIDParam(w, r)
	if !ok {
		return
	}
	result, err := s.resolver.Resolve(r.Context(), id)
	if err != nil {
		var rle *vault.RateLimitedError
		switch {
		case errors.Is(err, vault.ErrNotFound):
			writeError(w, http.StatusNotFound, "work not found")
		case errors.As(err, &rle):
			w.Header().Set("Retry-After", retryAfterSeconds(rle.RetryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "source is rate limiting",
				"retry_after": int(rle.RetryAfter.Seconds()),
			})
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type checkUpdatesRequest struct {
	OwnerID *int64 `json:"owner_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) checkUpdates(w http.ResponseWriter, r *http.Request) {
	var req checkUpdatesRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ownerID := defaultOwnerID
	if req.OwnerID != nil {
		ownerID = *req.OwnerID
	}
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	results, err := s.importer.CheckForUpdates(r.Context(), ownerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update check failed")
		return
	}
	if results == nil {
		results = []vault.UpdateResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) monitorStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"overall": s.monitor.Overall(),
		"checks":  s.monitor.Latest(),
	})
}

func (s *Server) monitorHistory(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	since := s.clock.Now().Add(-24 * time.Hour)
	history, err := s.health.ListHealthChecks(r.Context(), agent, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if history == nil {
		history = []vault.HealthCheck{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": history})
}
