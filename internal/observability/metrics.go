package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doorgate",
		Name:      "sessions_opened_total",
		Help:      "Total number of access sessions opened",
	})

	OpensDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doorgate",
		Name:      "opens_denied_total",
		Help:      "Total number of open requests denied for unknown identities",
	})

	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doorgate",
		Name:      "sessions_expired_total",
		Help:      "Total number of access sessions evicted after idle TTL",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "doorgate",
		Name:      "active_sessions",
		Help:      "Number of live access sessions",
	})

	FramesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doorgate",
		Name:      "frames_submitted_total",
		Help:      "Total number of camera frames submitted",
	})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doorgate",
		Name:      "decisions_total",
		Help:      "Frame evaluation outcomes",
	}, []string{"status"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "doorgate",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "doorgate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "doorgate",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
