// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/config"
	"github.com/scrapeworks/harvester/internal/job"
	"github.com/scrapeworks/harvester/internal/metrics"
	"github.com/scrapeworks/harvester/internal/scrape"
)

// JobSubmitter validates, reserves, and enqueues new jobs.
type JobSubmitter interface {
	Submit(ctx context.Context, req job.SubmitRequest) (scrape.Job, error)
}

// ProxyPool is the slice of the pool manager the API needs.
type ProxyPool interface {
	Load(ctx context.Context, ownerID string) ([]string, error)
	Update(ctx context.Context, ownerID string, proxies []string) (pool, rejected []string, err error)
	Delete(ctx context.Context, ownerID string, subset []string) error
}

// ProfileManager is the slice of the profile manager the API needs.
type ProfileManager interface {
	List(ctx context.Context, ownerID string) ([]scrape.Profile, error)
	Get(ctx context.Context, ownerID, name string) (scrape.Profile, error)
	Save(ctx context.Context, owner scrape.Owner, p scrape.Profile) error
	Delete(ctx context.Context, ownerID, name string) error
}

// SitemapExpander expands sitemap URLs into page URLs, charging quota.
type SitemapExpander interface {
	Run(ctx context.Context, ownerID string, candidates []string, doNested bool) ([]string, error)
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router    chi.Router
	submitter JobSubmitter
	jobs      scrape.JobStore
	owners    scrape.OwnerStore
	pool      ProxyPool
	profiles  ProfileManager
	sitemaps  SitemapExpander
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	submitter JobSubmitter,
	jobs scrape.JobStore,
	owners scrape.OwnerStore,
	pool ProxyPool,
	profiles ProfileManager,
	sitemaps SitemapExpander,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		submitter: submitter,
		jobs:      jobs,
		owners:    owners,
		pool:      pool,
		profiles:  profiles,
		sitemaps:  sitemaps,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/download", s.downloadJob)
			})
		})
		r.Route("/proxies", func(r chi.Router) {
			r.Get("/", s.getProxies)
			r.Put("/", s.updateProxies)
			r.Delete("/", s.deleteProxies)
		})
		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.listProfiles)
			r.Post("/", s.saveProfile)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.getProfile)
				r.Delete("/", s.deleteProfile)
			})
		})
		r.Get("/sitemap", s.expandSitemap)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Profile string   `json:"profile"`
	Name    string   `json:"job_name,omitempty"`
	URLs    []string `json:"urls"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Profile == "" || len(req.URLs) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "profile and urls are required")
		return
	}
	created, err := s.submitter.Submit(r.Context(), job.SubmitRequest{
		OwnerID: ownerID,
		Profile: req.Profile,
		Name:    req.Name,
		URLs:    req.URLs,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, created)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	jobs, err := s.jobs.ListByOwner(r.Context(), ownerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	found, err := s.ownedJob(r.Context(), ownerID, chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, found)
}

func (s *Server) downloadJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	found, err := s.ownedJob(r.Context(), ownerID, chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if found.Status != scrape.JobStatusCompleted || found.ArchivePath == "" {
		writeError(s.logger, w, http.StatusNotFound, "archive not available")
		return
	}
	if _, err := os.Stat(found.ArchivePath); err != nil {
		// Archive no longer on local disk; hand out the published URI.
		if found.DownloadURL != "" {
			http.Redirect(w, r, found.DownloadURL, http.StatusTemporaryRedirect)
			return
		}
		writeError(s.logger, w, http.StatusNotFound, "archive not available")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, found.ArchivePath)
}

func (s *Server) getProxies(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	proxies, err := s.pool.Load(r.Context(), ownerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"proxies": proxies})
}

type proxiesRequest struct {
	Proxies []string `json:"proxies"`
}

func (s *Server) updateProxies(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	var req proxiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	merged, rejected, err := s.pool.Update(r.Context(), ownerID, req.Proxies)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"proxies":  merged,
		"rejected": rejected,
	})
}

func (s *Server) deleteProxies(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	var req proxiesRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if err := s.pool.Delete(r.Context(), ownerID, req.Proxies); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	profiles, err := s.profiles.List(r.Context(), ownerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"profiles": profiles})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	p, err := s.profiles.Get(r.Context(), ownerID, chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, p)
}

func (s *Server) saveProfile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	owner, err := s.owners.Get(r.Context(), ownerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	var p scrape.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.profiles.Save(r.Context(), owner, p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, p)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	if err := s.profiles.Delete(r.Context(), ownerID, chi.URLParam(r, "name")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) expandSitemap(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	urls := r.URL.Query()["url"]
	if len(urls) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "at least one url parameter is required")
		return
	}
	nested := r.URL.Query().Get("nested") != "false"
	expanded, err := s.sitemaps.Run(r.Context(), ownerID, urls, nested)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"urls": expanded, "count": len(expanded)})
}

// ownedJob fetches a job and hides other owners' jobs behind NotFound.
func (s *Server) ownedJob(ctx context.Context, ownerID, jobID string) (scrape.Job, error) {
	found, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return scrape.Job{}, err
	}
	if found.OwnerID != ownerID {
		return scrape.Job{}, scrape.NotFoundf("job %q not found", jobID)
	}
	return found, nil
}

// ownerID extracts the authenticated owner identity. Authentication is
// terminated upstream; the gateway forwards the identity in a header.
func (s *Server) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := r.Header.Get("X-Owner-ID")
	if ownerID == "" {
		writeError(s.logger, w, http.StatusBadRequest, "missing X-Owner-ID header")
		return "", false
	}
	return ownerID, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scrape.ErrNotFound):
		writeError(s.logger, w, http.StatusNotFound, err.Error())
	case errors.Is(err, scrape.ErrPreconditionFailed):
		writeError(s.logger, w, http.StatusPreconditionFailed, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
