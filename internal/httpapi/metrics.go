package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests chi could not route, so scanners probing
// random paths do not create new series.
const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginegate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enginegate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency. Loads wait for engines, so the buckets reach minutes.",
			Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 180, 600},
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "enginegate",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests.",
		},
	)

	httpErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginegate",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Error responses by kind.",
		},
		[]string{"kind"},
	)

	// inferAttempts shows how often requests fail over before being served.
	inferAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "enginegate",
			Subsystem: "http",
			Name:      "infer_attempts",
			Help:      "Backends tried per served inference request.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight, httpErrorsTotal, inferAttempts)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments requests for Prometheus. Labels are taken
// after the handler runs so chi has resolved the route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInflight.Inc()
		defer httpInflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		path := routeLabel(r)
		statusLabel := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(path, r.Method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, statusLabel).Observe(time.Since(start).Seconds())
	})
}

// routeLabel returns the chi route pattern. Outside a chi router the raw
// path is used; inside one, a request that matched nothing is "unmatched".
func routeLabel(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return r.URL.Path
	}
	if p := rc.RoutePattern(); p != "" {
		return p
	}
	return unmatchedRoute
}

// IncrementErrors counts an error response of the given kind.
func IncrementErrors(kind string) {
	if kind == "" {
		kind = "unspecified"
	}
	httpErrorsTotal.WithLabelValues(kind).Inc()
}

func observeAttempts(n int) {
	if n > 0 {
		inferAttempts.Observe(float64(n))
	}
}
