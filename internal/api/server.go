package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/config"
	idgen "github.com/JakeFAU/serial-archiver/internal/id/uuid"
	"github.com/JakeFAU/serial-archiver/internal/jobs"
	"github.com/JakeFAU/serial-archiver/internal/metrics"
	"github.com/JakeFAU/serial-archiver/internal/novel"
)

// JobService is the job surface the handlers need; jobs.Service satisfies it.
type JobService interface {
	SubmitJob(ctx context.Context, userID string, ref novel.WorkRef, format novel.Format) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (novel.Job, error)
	GetFinishedArtifact(ctx context.Context, jobID string) (novel.Artifact, error)
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the job service.
type Server struct {
	router  chi.Router
	service JobService
	ready   ReadyFunc
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(service JobService, ready ReadyFunc, cfg config.AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		ready:   ready,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/jobs", func(r chi.Router) {
		if cfg.Enabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		timeout := timeoutMiddleware(30 * time.Second)
		r.With(timeout).Post("/", s.submitJob)
		r.Route("/{job_id}", func(r chi.Router) {
			r.With(timeout).Get("/", s.getJobStatus)
			r.With(timeout).Get("/artifact", s.getArtifact)
			r.Get("/download", s.download)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
	WorkID   string `json:"work_id"`
	Format   string `json:"format"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := novel.ParsePlatform(req.Platform)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := novel.FormatEPUB
	if req.Format != "" {
		if format, err = novel.ParseFormat(req.Format); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ref := novel.WorkRef{Platform: p, WorkID: req.WorkID}
	jobID, err := s.service.SubmitJob(r.Context(), req.UserID, ref, format)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrInvalidRequest):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			s.writeError(w, http.StatusServiceUnavailable, "job queue is full")
		default:
			s.logger.Error("submit job failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "submit failed")
		}
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.service.GetJobStatus(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

type artifactResponse struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SinkURI   string `json:"sink_uri,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	artifact, err := s.service.GetFinishedArtifact(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, artifactResponse{
		Path:      artifact.Path,
		SizeBytes: artifact.SizeBytes,
		SinkURI:   artifact.SinkURI,
		SHA256:    artifact.SHA256,
	})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	artifact, err := s.service.GetFinishedArtifact(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	f, err := os.Open(artifact.Path)
	if err != nil {
		s.logger.Warn("artifact file unavailable", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusGone, "artifact file is no longer available")
		return
	}
	defer f.Close() //nolint:errcheck // read-only handle
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stat artifact failed")
		return
	}
	name := filepath.Base(artifact.Path)
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := chi.URLParam(r, "job_id")
	if !idgen.Valid(jobID) {
		s.writeError(w, http.StatusBadRequest, "malformed job id")
		return "", false
	}
	return jobID, true
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, novel.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrArtifactNotReady):
		s.writeError(w, http.StatusConflict, "artifact not ready")
	default:
		s.logger.Error("job lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
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
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", reqID),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
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
				_ = writeJSONTo(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSONTo(w, status, payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSONTo(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
