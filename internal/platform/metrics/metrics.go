package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultRetry  = "retry"
	ResultDead   = "dead"
)

// Default is the registry every service exposes on /metrics.
var Default = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_events_published_total",
			Help: "Lifecycle events handed to the broker, by kind and result.",
		},
		[]string{"kind", "result"},
	)
	outboxBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "task_outbox_claimed_rows",
			Help: "Outbox rows claimed by the most recent dispatcher pass.",
		},
	)
	eventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_consumed_total",
			Help: "Lifecycle events consumed, by kind and result.",
		},
		[]string{"kind", "result"},
	)
	upstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_failures_total",
			Help: "Proxied requests that failed to reach an upstream.",
		},
		[]string{"upstream"},
	)
)

func init() {
	Default.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpLatency, eventsPublished, outboxBacklog, eventsConsumed, upstreamFailures,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Default, promhttp.HandlerOpts{})
}

// Instrument records request counts and latency labelled by chi route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func IncEventPublished(kind, result string) {
	eventsPublished.WithLabelValues(kind, result).Inc()
}

func SetOutboxClaimed(n int) {
	outboxBacklog.Set(float64(n))
}

func IncEventConsumed(kind, result string) {
	eventsConsumed.WithLabelValues(kind, result).Inc()
}

func IncUpstreamFailure(upstream string) {
	upstreamFailures.WithLabelValues(upstream).Inc()
}
