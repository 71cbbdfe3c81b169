package loadgen

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tasknotify/project/internal/platform/metrics"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_requests_total",
			Help: "Total HTTP requests sent by the load generator.",
		},
		[]string{"endpoint", "method", "status", "outcome"},
	)
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_actions_total",
			Help: "Task actions executed by the load generator.",
		},
		[]string{"action", "outcome"},
	)
	deliveryLag = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loadgen_notification_delivery_seconds",
			Help:    "Time from a task action to the matching notification being stored.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"type"},
	)
	pollingUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loadgen_polling_users",
			Help: "Employees currently polling their notifications.",
		},
	)
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, deliveryLag, pollingUsers)
}
