package http

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsMiddleware wraps an HTTP handler to record request counts and
// latencies. The metrics and health endpoints themselves are skipped.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/metrics", "/healthz", "/readyz":
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := routeLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		})
	}
}

// routeLabel collapses parameterized paths so the path label stays bounded.
func routeLabel(path string) string {
	switch {
	case path == "/mcp":
		return "/mcp"
	case path == "/v1/audit":
		return "/v1/audit"
	case path == "/approvals/callback":
		return "/approvals/callback"
	case len(path) >= 11 && path[:11] == "/v1/policy/":
		return "/v1/policy"
	case len(path) >= 7 && path[:7] == "/admin/":
		return "/admin"
	default:
		return "other"
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
