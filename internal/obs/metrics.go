package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common HTTP metrics plus engine counters.
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

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "caseline_ready",
		Help: "1 when the service considers itself ready.",
	})

	casesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caseline_cases_created_total",
		Help: "Investigation cases created (direct intake plus triage conversion).",
	})

	notificationsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseline_notifications_raised_total",
			Help: "Notifications raised by the engine, by kind.",
		},
		[]string{"kind"},
	)

	sweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caseline_sweep_runs_total",
		Help: "Deadline sweep executions.",
	})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "caseline_sweep_duration_seconds",
		Help:    "Deadline sweep latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		readyGauge, casesCreatedTotal, notificationsRaisedTotal,
		sweepRunsTotal, sweepDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// CaseCreated bumps the case-creation counter.
func CaseCreated() { casesCreatedTotal.Inc() }

// NotificationRaised bumps the per-kind raise counter.
func NotificationRaised(kind string) {
	notificationsRaisedTotal.WithLabelValues(kind).Inc()
}

// ObserveSweep records one sweep execution.
func ObserveSweep(d time.Duration) {
	sweepRunsTotal.Inc()
	sweepDuration.Observe(d.Seconds())
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

// CanonicalPath collapses per-entity identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) >= 3 && segments[0] == "v1" {
		switch segments[1] {
		case "cases", "notifications":
			segments[2] = ":id"
		case "triage":
			if len(segments) >= 4 && segments[2] == "tickets" {
				segments[3] = ":id"
			}
		}
		return "/" + strings.Join(segments, "/")
	}
	return path
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the instrumented writer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
