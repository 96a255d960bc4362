package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"strikelend/observability"
)

// Observability records request metrics and optionally logs each request.
type Observability struct {
	metrics     *observability.GatewayMetrics
	logger      *slog.Logger
	logRequests bool
}

// NewObservability wires the shared gateway metrics registry. A nil logger
// disables request logging.
func NewObservability(logger *slog.Logger, logRequests bool) *Observability {
	return &Observability{
		metrics:     observability.Gateway(),
		logger:      logger,
		logRequests: logRequests && logger != nil,
	}
}

// Middleware observes every request routed through the named group.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)
			o.metrics.Observe(route, recorder.status, duration)
			if o.logRequests {
				o.logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", recorder.status,
					"duration_ms", duration.Milliseconds())
			}
		})
	}
}

// MetricsHandler serves the process-wide Prometheus registry.
func (o *Observability) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
