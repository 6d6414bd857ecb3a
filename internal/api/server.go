package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/dispatcher"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/pipeline"
)

// ArtifactSource returns persisted run artifacts by name.
type ArtifactSource interface {
	Artifact(ctx context.Context, runID, name string) ([]byte, string, error)
}

// RunQueue accepts runs for background execution. Enqueue wraps
// dispatcher.ErrRunActive when the run ID is still queued or running.
type RunQueue interface {
	Enqueue(ctx context.Context, req pipeline.RunRequest) error
	Status(runID string) (dispatcher.RunStatus, bool)
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Options configures a Server. Runs are optional; without them the run
// submission routes answer 503.
type Options struct {
	Artifacts         ArtifactSource
	Runs              RunQueue
	IDs               IDGenerator
	DefaultListingURL string
	APIKey            string
	RequestTimeout    time.Duration
	Logger            *zap.Logger
}

// Server wires HTTP handlers to the artifact store and the run queue.
type Server struct {
	router         chi.Router
	artifacts      ArtifactSource
	runs           RunQueue
	ids            IDGenerator
	defaultListing string
	logger         *zap.Logger
}

var artifactNames = []string{
	string(crawler.StageLinks),
	string(crawler.StageFinal),
	string(crawler.StageUnprocessed),
	"table",
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Artifacts == nil {
		return nil, errors.New("artifact source is required")
	}
	if opts.Runs != nil && opts.IDs == nil {
		return nil, errors.New("id generator is required to accept runs")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		artifacts:      opts.Artifacts,
		runs:           opts.Runs,
		ids:            opts.IDs,
		defaultListing: opts.DefaultListingURL,
		logger:         opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/runs", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/", s.submitRun)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/artifacts/{name}", s.getArtifact)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRunRequest struct {
	RunID      string `json:"run_id"`
	ListingURL string `json:"listing_url"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run submission disabled")
		return
	}
	var body submitRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if body.ListingURL == "" {
		body.ListingURL = s.defaultListing
	}
	if u, err := url.Parse(body.ListingURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		s.writeError(w, http.StatusBadRequest, "listing_url must be an absolute http(s) URL")
		return
	}
	if body.RunID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate run id: %v", err))
			return
		}
		body.RunID = id
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.runs.Enqueue(ctx, pipeline.RunRequest{RunID: body.RunID, ListingURL: body.ListingURL}); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dispatcher.ErrRunActive):
			status = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": body.RunID})
}

type runResponse struct {
	RunID     string                `json:"run_id"`
	Status    *dispatcher.RunStatus `json:"status,omitempty"`
	Artifacts map[string]bool       `json:"artifacts"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	resp := runResponse{RunID: runID, Artifacts: make(map[string]bool, len(artifactNames))}
	if s.runs != nil {
		if st, ok := s.runs.Status(runID); ok {
			resp.Status = &st
		}
	}
	found := resp.Status != nil
	for _, name := range artifactNames {
		_, _, err := s.artifacts.Artifact(r.Context(), runID, name)
		switch {
		case err == nil:
			resp.Artifacts[name] = true
			found = true
		case errors.Is(err, crawler.ErrArtifactNotFound):
			resp.Artifacts[name] = false
		default:
			s.logger.Error("artifact lookup failed", zap.String("run_id", runID), zap.String("artifact", name), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "artifact lookup failed")
			return
		}
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	name := chi.URLParam(r, "name")
	data, contentType, err := s.artifacts.Artifact(r.Context(), runID, name)
	if err != nil {
		if errors.Is(err, crawler.ErrArtifactNotFound) {
			s.writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Error("artifact read failed", zap.String("run_id", runID), zap.String("artifact", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "artifact read failed")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("artifact write failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				_ = writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
