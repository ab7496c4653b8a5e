// Package api exposes scrape jobs and the session cache over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/jobs"
	"github.com/maltedev/retail-scraper/internal/session"
)

type Handlers struct {
	jobs     *jobs.Manager
	sessions session.Store
	logger   *zap.Logger
}

// NewHandlers builds the handlers. sessions may be nil when the session
// cache is disabled.
func NewHandlers(jobs *jobs.Manager, sessions session.Store, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		jobs:     jobs,
		sessions: sessions,
		logger:   logger.Named("api"),
	}
}

// CreateJob handles new scraping job creation
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to create job", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, job)
}

// GetJob handles job status retrieval
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", zap.String("id", jobID), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs handles listing the most recent jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": err.Error()})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"sessions":      h.sessions != nil,
		"pending_jobs":  stats.PendingJobs,
		"running_jobs":  stats.RunningJobs,
		"finished_jobs": stats.CompletedJobs + stats.FailedJobs,
	})
}

// ListSessions lists cached location sessions, optionally for one site.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}

	infos, err := h.sessions.List(r.Context(), r.URL.Query().Get("site"))
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if infos == nil {
		infos = []session.Info{}
	}

	h.respondJSON(w, http.StatusOK, infos)
}

// ClearSessions removes every session, or those of ?site=. With
// ?expired=true only expired sessions are purged.
func (h *Handlers) ClearSessions(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}

	var (
		n   int
		err error
	)
	if r.URL.Query().Get("expired") == "true" {
		n, err = h.sessions.PurgeExpired(r.Context())
	} else {
		n, err = h.sessions.ClearAll(r.Context(), r.URL.Query().Get("site"))
	}
	if err != nil {
		h.logger.Error("failed to clear sessions", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsEnabled(w) {
		return
	}

	site, zipcode := chi.URLParam(r, "site"), chi.URLParam(r, "zipcode")
	deleted, err := h.sessions.Delete(r.Context(), site, zipcode)
	if err != nil {
		h.logger.Error("failed to delete session", zap.String("site", site), zap.String("zipcode", zipcode), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if !deleted {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) sessionsEnabled(w http.ResponseWriter) bool {
	if h.sessions == nil {
		h.respondError(w, http.StatusNotImplemented, "session cache is disabled")
		return false
	}
	return true
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
