// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transition results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultDropped  = "dropped"
)

var (
	// TransitionsTotal counts lifecycle transitions by name and result.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otyard_transitions_total",
			Help: "Total number of work order transitions attempted",
		},
		[]string{"transition", "result"},
	)

	// DispatcherBuildSeconds tracks how long a dispatcher view takes to assemble.
	DispatcherBuildSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otyard_dispatcher_build_seconds",
			Help:    "Dispatcher view build duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// DispatcherBucketSize is the size of each lane in the last built view.
	DispatcherBucketSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "otyard_dispatcher_bucket_size",
			Help: "Number of work orders per dispatcher bucket in the last built view",
		},
		[]string{"bucket"},
	)

	// NotificationsTotal counts notification deliveries per adapter.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otyard_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"adapter", "result"},
	)

	// SweepEventsTotal counts events raised by the SLA sweep.
	SweepEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otyard_sweep_events_total",
			Help: "Total number of events raised by the SLA sweep",
		},
		[]string{"type"},
	)

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otyard_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otyard_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
