// Package api exposes the HTTP interface for triggering and inspecting audits.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/config"
	"github.com/JakeFAU/site-auditor/internal/id/uuid"
	"github.com/JakeFAU/site-auditor/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Submitter hands accepted audits to the background runner. A Submitter that
// returns an error has already moved the job to FAILED.
type Submitter interface {
	Submit(ctx context.Context, req audit.RunRequest) error
}

// ReadyCheck reports whether a downstream dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the audit store and the runner.
type Server struct {
	router    chi.Router
	store     audit.Store
	submitter Submitter
	idGen     audit.IDGenerator
	clock     audit.Clock
	ready     []ReadyCheck
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store audit.Store,
	submitter Submitter,
	idGen audit.IDGenerator,
	clock audit.Clock,
	cfg config.Config,
	logger *zap.Logger,
	ready ...ReadyCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		submitter: submitter,
		idGen:     idGen,
		clock:     clock,
		ready:     ready,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/audits", func(r chi.Router) {
			r.Post("/", s.submitAudit)
			r.Get("/{audit_id}", s.getAudit)
		})
	})

	s.router = r
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "auditor.api")
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	SitemapURL  string `json:"sitemap_url"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
}

type submitResponse struct {
	AuditID string       `json:"audit_id"`
	Status  audit.Status `json:"status"`
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sitemapURL, err := validateSitemapURL(req.SitemapURL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("generate audit id", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not create audit")
		return
	}
	now := s.clock.Now()
	job := audit.Job{
		ID:          jobID,
		SitemapURL:  sitemapURL,
		Status:      audit.StatusPending,
		ClientName:  strings.TrimSpace(req.ClientName),
		ClientEmail: strings.TrimSpace(req.ClientEmail),
		CreatedAt:   now,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create audit", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not create audit")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	run := audit.RunRequest{
		JobID:      jobID,
		SitemapURL: sitemapURL,
		Metadata:   audit.Metadata{ClientName: job.ClientName, ClientEmail: job.ClientEmail},
		Submitted:  now,
	}
	if err := s.submitter.Submit(queueCtx, run); err != nil {
		s.logger.Error("submit audit", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "audit runner is unavailable")
		return
	}

	s.logger.Info("audit accepted", zap.String("job_id", jobID), zap.String("sitemap_url", sitemapURL))
	s.writeJSON(w, http.StatusAccepted, submitResponse{AuditID: jobID, Status: audit.StatusPending})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "audit_id")
	if !uuid.Valid(jobID) {
		s.writeError(w, http.StatusBadRequest, "audit_id must be a UUID")
		return
	}
	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, audit.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "audit not found")
		return
	}
	if err != nil {
		s.logger.Error("get audit", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not load audit")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// validateSitemapURL accepts absolute http(s) URLs whose path ends in .xml.
func validateSitemapURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("sitemap_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.New("sitemap_url is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("sitemap_url must use http or https")
	}
	if u.Host == "" {
		return "", errors.New("sitemap_url must be absolute")
	}
	if !strings.HasSuffix(strings.ToLower(u.Path), ".xml") {
		return "", errors.New("sitemap_url must point to an .xml file")
	}
	return u.String(), nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
