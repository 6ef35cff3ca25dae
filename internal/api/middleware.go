package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/audit"
	"github.com/dls-engine/go-core/pkg/types"
)

type contextKey string

const principalKey contextKey = "principal"

// principalFrom returns the authenticated principal the auth middleware
// attached to the request.
func principalFrom(r *http.Request) *types.Principal {
	p, _ := r.Context().Value(principalKey).(*types.Principal)
	return p
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// maxBodySizeMiddleware limits request body size.
func (s *Server) maxBodySizeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" || r.Method == "HEAD" || r.Method == "OPTIONS" {
			next.ServeHTTP(w, r)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller to a principal from HTTP basic
// credentials or a bearer token. The rejection is identical for unknown
// users and wrong passwords.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := s.authenticate(r)
		if !ok {
			s.metrics.RecordAuthFailure()
			if s.audit != nil {
				s.audit.Log(audit.Event{
					EventType: audit.EventTypeAuthFailure,
					Detail:    r.URL.Path,
				})
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="dls"`)
			s.respondError(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED",
				"Authentication failed")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticate(r *http.Request) (*types.Principal, bool) {
	if username, password, ok := r.BasicAuth(); ok {
		principal, err := s.authenticator.Authenticate(username, password)
		if err != nil {
			return nil, false
		}
		return principal, true
	}

	header := r.Header.Get("Authorization")
	if s.tokens != nil && strings.HasPrefix(header, "Bearer ") {
		principal, err := s.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return nil, false
		}
		return principal, true
	}

	return nil, false
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
