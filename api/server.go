// Package api serves the dialectic operations, sessions and stored
// benchmark and experiment documents over HTTP as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/c360studio/concepteng/dialectic"
	"github.com/c360studio/concepteng/storage"
)

// maxBodySize limits request bodies.
const maxBodySize = 1 << 20 // 1 MB

// RequestIDHeader carries the id assigned to each request.
const RequestIDHeader = "X-Request-ID"

// Server is the HTTP front end.
type Server struct {
	engines        *dialectic.Engines
	store          storage.Store
	describe       dialectic.DescribeFunc
	maxIterations  int
	onFalse        dialectic.OnFalse
	corsOrigins    []string
	metricsHandler http.Handler
	logger         *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the benchmark and experiment endpoints.
func WithStore(s storage.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithDescriber sets how session counterexamples get descriptions.
func WithDescriber(fn dialectic.DescribeFunc) Option {
	return func(srv *Server) { srv.describe = fn }
}

// WithSessionDefaults sets the session bounds used when a request names none.
func WithSessionDefaults(maxIterations int, onFalse dialectic.OnFalse) Option {
	return func(srv *Server) {
		srv.maxIterations = maxIterations
		srv.onFalse = onFalse
	}
}

// WithCORSOrigins sets the allowed browser origins. Without any, no CORS
// headers are sent.
func WithCORSOrigins(origins []string) Option {
	return func(srv *Server) { srv.corsOrigins = origins }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(srv *Server) { srv.metricsHandler = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// NewServer returns a server running operations through engines.
func NewServer(engines *dialectic.Engines, opts ...Option) *Server {
	s := &Server{
		engines: engines,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped with request ids and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterHTTPHandlers(mux)
	handler := s.withRequestID(mux)
	if len(s.corsOrigins) == 0 {
		return handler
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})
	return c.Handler(handler)
}

// RegisterHTTPHandlers registers every endpoint on mux.
func (s *Server) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/classify", s.handleClassify)
	mux.HandleFunc("POST /v1/counterexamples", s.handlePropose)
	mux.HandleFunc("POST /v1/counterexamples/validate", s.handleValidate)
	mux.HandleFunc("POST /v1/revisions", s.handleRevise)
	mux.HandleFunc("POST /v1/sessions", s.handleSession)

	mux.HandleFunc("GET /v1/chains", s.handleListChains)
	mux.HandleFunc("GET /v1/chains/{name}", s.handleGetChain)

	mux.HandleFunc("GET /v1/benchmarks/{concept}", s.handleGetBenchmark)
	mux.HandleFunc("GET /v1/experiments", s.handleListExperiments)
	mux.HandleFunc("GET /v1/experiments/{key...}", s.handleGetExperiment)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("API server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type requestIDKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		started := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		s.logger.Debug("HTTP request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(started).Milliseconds())
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to write JSON response", "error", err)
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, RequestID: requestID(r.Context())})
}

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
