package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confide_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "confide_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "confide_messages_submitted_total",
			Help: "Total messages stored",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "confide_messages_deleted_total",
			Help: "Total delete requests completed",
		},
	)

	AccessDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "confide_access_denied_total",
			Help: "Listing requests turned away by the access gate",
		},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "confide_store_operation_duration_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"driver", "op"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confide_store_errors_total",
			Help: "Failed message store operations",
		},
		[]string{"driver", "op"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confide_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confide_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
