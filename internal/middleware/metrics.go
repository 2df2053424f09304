// Package middleware provides HTTP middleware for the console server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// LoggingMiddleware logs one line per request. Server errors are logged at warn level.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				log.Warn("request failed", attrs...)
				return
			}
			log.Debug("request", attrs...)
		})
	}
}

func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/jobs/") && !strings.Contains(path[len("/api/jobs/"):], "/"):
		if path == "/api/jobs/resume" {
			return path
		}
		return "/api/jobs/:kind"
	case path == "/api/reports/compare":
		return path
	case strings.HasPrefix(path, "/api/reports/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/reports/"), "/")
		if len(parts) >= 2 && parts[1] == "details" {
			return "/api/reports/:id/details"
		}

		return "/api/reports/:id"
	case strings.HasPrefix(path, "/api/queries/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/queries/"), "/")
		if len(parts) >= 2 && parts[1] == "review" {
			return "/api/queries/:id/review"
		}

		return "/api/queries/:id"
	case strings.HasPrefix(path, "/api/candidates/"):
		return "/api/candidates/:id"
	default:
		return path
	}
}
