package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecoveryAttempts records account-recovery operations by outcome
	// (success|invalid|locked|captcha|not_found|error).
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdesk_recovery_attempts_total",
			Help: "Total number of account recovery operations",
		},
		[]string{"operation", "result"},
	)

	// RecoverySessionsIssued counts recovery session tokens created.
	RecoverySessionsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderdesk_recovery_sessions_issued_total",
			Help: "Total number of recovery session tokens issued",
		},
	)

	// ResetMailSends counts reset emails handed to the mailer by result (sent|skipped|error).
	ResetMailSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderdesk_reset_mail_sends_total",
			Help: "Total number of password reset emails dispatched",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderdesk_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
