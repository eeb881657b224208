package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by all handlers.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics: discovery fan-out, ledger mutations, decay sweeps.
var (
	SearchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "discovery_searches_total",
		Help: "Radius and unbounded searches served.",
	})

	SearchShardFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "discovery_shard_failures_total",
		Help: "Range-scan shards that failed during search fan-out.",
	})

	VouchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_vouches_total",
		Help: "Positive endorsements accepted.",
	})

	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_reports_total",
		Help: "Negative endorsements accepted.",
	})

	SweepRecomputes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decay_sweep_recomputes_total",
		Help: "Records recomputed by the decay sweep.",
	})

	SweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decay_sweep_failures_total",
		Help: "Records the decay sweep failed to recompute.",
	})

	GeocodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geocode_failures_total",
		Help: "Upstream geocoding calls that failed or degraded.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		SearchesTotal, SearchShardFailures,
		VouchesTotal, ReportsTotal,
		SweepRecomputes, SweepFailures,
		GeocodeFailures,
	)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses resource identifiers out of a request path so the
// path label stays low-cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/opportunities/"); ok && rest != "" {
		switch {
		case strings.HasSuffix(rest, "/vouches") && strings.Count(rest, "/") == 1:
			return "/v1/opportunities/:id/vouches"
		case strings.HasSuffix(rest, "/reports") && strings.Count(rest, "/") == 1:
			return "/v1/opportunities/:id/reports"
		case !strings.Contains(rest, "/"):
			return "/v1/opportunities/:id"
		}
	}
	if rest, ok := strings.CutPrefix(path, "/v1/users/"); ok {
		if strings.HasSuffix(rest, "/verification") && strings.Count(rest, "/") == 1 {
			return "/v1/users/:id/verification"
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards flushes so SSE keeps working behind instrumentation.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
