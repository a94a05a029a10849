package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cmatc13/chipdesk/pkg/logging"
	"github.com/cmatc13/chipdesk/pkg/metrics"
)

// routePattern returns the matched chi pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(metricsCollector *metrics.Metrics, serviceName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			metricsCollector.RequestInFlight.WithLabelValues(serviceName).Inc()
			defer metricsCollector.RequestInFlight.WithLabelValues(serviceName).Dec()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metricsCollector.RecordRequest(serviceName, r.Method, routePattern(r), status, time.Since(start))
		})
	}
}

// LoggingMiddleware creates middleware that logs requests using structured logging
func LoggingMiddleware(logger *logging.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			requestID := middleware.GetReqID(r.Context())

			logger.Debug("Request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"request_id", requestID,
			)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID,
			}

			switch {
			case status >= 500:
				logger.Error("Request completed with server error", args...)
			case status >= 400:
				logger.Warn("Request completed with client error", args...)
			default:
				logger.Info("Request completed", args...)
			}
		})
	}
}

// RecovererWithMetrics is a middleware that recovers from panics, logs the panic,
// and records it as a metric
func RecovererWithMetrics(logger *logging.Logger, metricsCollector *metrics.Metrics, serviceName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("Panic recovered",
						"error", rvr,
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", middleware.GetReqID(r.Context()),
					)
					metricsCollector.RecordError(serviceName, "panic", "PANIC")
					writeJSON(logger, w, Response{Success: false, Error: http.StatusText(http.StatusInternalServerError)}, http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// SecureHeaders adds security-related headers to responses
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// RequireJSON rejects request bodies that are not declared as JSON.
func RequireJSON(logger *logging.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			ct := r.Header.Get("Content-Type")
			if !strings.Contains(ct, "application/json") {
				logger.Warn("Invalid Content-Type", "received", ct, "path", r.URL.Path)
				writeJSON(logger, w, Response{Success: false, Error: "Content-Type must be application/json"}, http.StatusUnsupportedMediaType)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
