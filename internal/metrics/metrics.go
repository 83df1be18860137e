// Package metrics provides Prometheus metrics for CareAlert.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "carealert"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Triage metrics
var (
	// ReportsTotal counts classified symptom reports by symptom type.
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "reports_total",
			Help:      "Total symptom reports classified and stored",
		},
		[]string{"symptom_type"},
	)

	// ReportsRejectedTotal counts reports refused before classification.
	ReportsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "reports_rejected_total",
			Help:      "Total symptom reports rejected as empty or invalid",
		},
	)

	// ReportSeverity tracks the distribution of assigned severities.
	ReportSeverity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "severity",
			Help:      "Severity scores assigned to stored alerts",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	// RulesLoaded reports the number of enabled classifier rules.
	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "rules_loaded",
			Help:      "Number of enabled classifier rules",
		},
	)

	// RuleReloadsTotal counts rule table reloads by result.
	RuleReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "reloads_total",
			Help:      "Total rule table reloads",
		},
		[]string{"result"}, // success, failure
	)
)

// Dispatch metrics
var (
	// NotificationsActive tracks visible notifications.
	NotificationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "notifications_active",
			Help:      "Number of visible notifications awaiting acknowledgement",
		},
	)

	// NotificationsDispatchedTotal counts notifications made visible.
	NotificationsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "notifications_total",
			Help:      "Total notifications made visible",
		},
		[]string{"critical"},
	)

	// NotificationsResolvedTotal counts resolved notifications by reason.
	NotificationsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "resolved_total",
			Help:      "Total notifications resolved",
		},
		[]string{"reason"}, // acknowledged, expired
	)

	// NotificationLatency tracks time from visible to resolved.
	NotificationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "time_to_resolve_seconds",
			Help:      "Seconds a notification stayed visible",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"reason"},
	)
)

// Notifier metrics
var (
	// NotifierDeliveriesTotal counts external deliveries by notifier and result.
	NotifierDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Total external notification deliveries",
		},
		[]string{"notifier", "result"}, // success, failure
	)

	// NotifierDroppedTotal counts messages never handed to a notifier.
	NotifierDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "dropped_total",
			Help:      "Total notifications dropped before delivery",
		},
		[]string{"reason"}, // rate_limited, queue_full
	)

	// WebSocketClients tracks connected live-stream clients.
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Number of connected notification stream clients",
		},
	)
)

// Storage metrics
var (
	// StorageQueryDuration tracks query latency.
	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_duration_seconds",
			Help:      "Storage query latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "backend"},
	)

	// StorageErrors counts storage operation errors.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage operation errors",
		},
		[]string{"operation", "backend"},
	)
)

// Auth metrics
var (
	// AuthAttemptsTotal counts authentication attempts.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total operator token verifications",
		},
		[]string{"result"}, // success, failure
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
