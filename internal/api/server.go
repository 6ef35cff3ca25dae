// Package api provides the REST surface of the enforcement engine. Every
// document-reading endpoint authenticates the caller and executes through
// the engine, so no response can bypass the caller's effective filter.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/audit"
	"github.com/dls-engine/go-core/internal/auth"
	"github.com/dls-engine/go-core/internal/engine"
	"github.com/dls-engine/go-core/internal/metrics"
)

// Server is the REST API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	logger        *zap.Logger
	engine        *engine.Engine
	authenticator *auth.Authenticator
	tokens        *auth.TokenIssuer
	metrics       *metrics.Metrics
	audit         *audit.Logger
	config        Config
}

// Config configures the REST API server.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int64
}

// DefaultConfig returns default API server configuration.
func DefaultConfig() Config {
	return Config{
		Port:         9200,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodySize:  1 * 1024 * 1024, // 1MB
	}
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Tokens  *auth.TokenIssuer
	Metrics *metrics.Metrics
	Audit   *audit.Logger
}

// New creates a new REST API server.
func New(cfg Config, eng *engine.Engine, authenticator *auth.Authenticator, logger *zap.Logger, opts Options) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:        mux.NewRouter(),
		logger:        logger,
		engine:        eng,
		authenticator: authenticator,
		tokens:        opts.Tokens,
		metrics:       opts.Metrics,
		audit:         opts.Audit,
		config:        cfg,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return s, nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.maxBodySizeMiddleware)

	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// All document and index routes require an authenticated principal.
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/_mget", s.multiGet).Methods("POST")
	api.HandleFunc("/_mtermvectors", s.multiTermVectors).Methods("POST")

	api.HandleFunc("/indices/{index}/_search", s.search).Methods("POST")
	api.HandleFunc("/indices/{index}/_count", s.count).Methods("POST")
	api.HandleFunc("/indices/{index}/_percolate", s.percolate).Methods("POST")
	api.HandleFunc("/indices/{index}/_close", s.closeIndex).Methods("POST")
	api.HandleFunc("/indices/{index}/_open", s.openIndex).Methods("POST")

	api.HandleFunc("/indices/{index}/{type}/{id}/_termvectors", s.termVectors).Methods("GET")
	api.HandleFunc("/indices/{index}/{type}/{id}", s.getDocument).Methods("GET")
	api.HandleFunc("/indices/{index}/{type}/{id}", s.indexDocument).Methods("PUT")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.Int("port", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping REST API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Response helpers

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]*apiError{"error": {Code: code, Message: message}}); err != nil {
		s.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
