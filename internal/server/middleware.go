package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// authMiddleware requires a matching bearer token. apiKey == "" disables
// auth entirely (used by tests that don't exercise the auth-expired path).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := extractBearerToken(r)
		if !constantTimeEqual(token, s.apiKey) {
			s.log.Warn("auth failure", "path", r.URL.Path, "method", r.Method, "remote_addr", r.RemoteAddr)
			writeProblem(w, r, http.StatusUnauthorized, "Missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func logLevelForStatus(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "warn"
	default:
		return "info"
	}
}

// loggingMiddleware logs every request with the codebase's canonical
// field convention (component/action/duration_ms).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		fields := []any{
			"component", "server", "action", "request", "method", r.Method,
			"path", r.URL.Path, "status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch logLevelForStatus(wrapped.statusCode) {
		case "error":
			s.log.Error("request completed", fields...)
		case "warn":
			s.log.Warn("request completed", fields...)
		default:
			s.log.Info("request completed", fields...)
		}
	})
}

// recoveryMiddleware converts a panic into a 500 Problem response instead
// of crashing the process.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", "component", "server", "error", rec, "path", r.URL.Path)
				writeProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
