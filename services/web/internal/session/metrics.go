package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names used as metric labels.
const (
	opRestore  = "restore"
	opLogin    = "login"
	opRegister = "register"
	opLogout   = "logout"
	opRefresh  = "refresh"
	opUpdate   = "update_profile"
)

// Outcome label values.
const (
	outcomeSuccess    = "success"
	outcomeFailure    = "failure"
	outcomeAnonymous  = "anonymous"
	outcomeSuperseded = "superseded"
	outcomeBusy       = "busy"
)

// Registry eviction reasons.
const (
	evictIdle     = "idle"
	evictCapacity = "capacity"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "web_session_operations_total",
			Help: "Total number of session operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "web_session_operation_duration_seconds",
			Help:    "Duration of session operations including marketplace API calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "web_sessions_active",
			Help: "Number of browser sessions held in memory.",
		},
	)

	sessionsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "web_sessions_evicted_total",
			Help: "Total number of in-memory sessions evicted by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(operationsTotal, operationDuration, activeSessions, sessionsEvicted)
}

func observe(op, outcome string, start time.Time) {
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
