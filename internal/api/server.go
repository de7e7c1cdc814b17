// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/metrics"
	"github.com/JakeFAU/mediacrawler/internal/store"
)

const (
	defaultRequestTimeout = 60 * time.Second
	seedTimeout           = 5 * time.Second
	maxSeedsPerRequest    = 1000
)

// SeedAdder schedules new seed URLs.
type SeedAdder interface {
	AddSeed(ctx context.Context, rawURL string, annotations ...string) error
}

// Options configures optional server behavior.
type Options struct {
	// APIKey, when non-empty, is required in X-API-Key or ?api_key=.
	APIKey string
	// RequestTimeout bounds every handler; zero uses 60s.
	RequestTimeout time.Duration
	// Ready reports readiness for /readyz; nil is always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the frontier and capture index.
type Server struct {
	router   chi.Router
	seeds    SeedAdder
	captures *CaptureHandler
	ready    func(ctx context.Context) error
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil repo leaves
// the capture routes answering 503.
func NewServer(seeds SeedAdder, repo store.CaptureRepository, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		seeds:    seeds,
		captures: NewCaptureHandler(repo, logger),
		ready:    opts.Ready,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if opts.APIKey != "" {
		r.Use(apiKeyMiddleware(opts.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/seeds", s.submitSeeds)
		r.Route("/crawls/{crawl_id}", func(r chi.Router) {
			r.Get("/", s.captures.GetCrawl)
			r.Get("/media", s.captures.ListMediaForPage)
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type seedRequest struct {
	URLs []string `json:"urls"`
}

type seedRejection struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type seedResponse struct {
	Accepted []string        `json:"accepted"`
	Rejected []seedRejection `json:"rejected,omitempty"`
}

// submitSeeds handles POST /v1/seeds with {"urls": [...]}. It answers 202 when
// at least one URL was scheduled and 400 when none were.
func (s *Server) submitSeeds(w http.ResponseWriter, r *http.Request) {
	if s.seeds == nil {
		writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	var req seedRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxSeedsPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per request", maxSeedsPerRequest))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), seedTimeout)
	defer cancel()

	resp := seedResponse{Accepted: []string{}}
	for _, raw := range req.URLs {
		raw = strings.TrimSpace(raw)
		if err := s.seeds.AddSeed(ctx, raw); err != nil {
			resp.Rejected = append(resp.Rejected, seedRejection{URL: raw, Error: err.Error()})
			continue
		}
		resp.Accepted = append(resp.Accepted, raw)
	}
	if len(resp.Accepted) == 0 {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	s.logger.Info("seeds submitted", zap.Int("accepted", len(resp.Accepted)), zap.Int("rejected", len(resp.Rejected)))
	writeJSON(w, http.StatusAccepted, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, payload, json.Deterministic(true)); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
