package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesAcceptedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "messages_accepted_total",
			Help:      "Total message intake calls.",
		},
		[]string{"created"}, // "true" for a new message, "false" for an idempotent replay
	)

	jobsDispatchedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "jobs_dispatched_total",
			Help:      "Total per-channel jobs published to the queue.",
		},
		[]string{"channel"},
	)

	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "jobs_processed_total",
			Help:      "Total delivery jobs processed by the worker.",
		},
		[]string{"channel", "outcome"}, // outcome: "succeeded", "failed_fatal", "failed_transient", "skipped"
	)

	jobProcessingDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notify",
			Name:      "job_processing_duration_seconds",
			Help:      "Duration of delivery job processing.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	providerSendDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notify",
			Name:      "provider_send_duration_seconds",
			Help:      "Duration of provider send calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel", "provider"},
	)

	schedulerDispatchedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "scheduler_messages_dispatched_total",
			Help:      "Total due scheduled messages dispatched by the poller.",
		},
		[]string{"status"}, // "success", "error"
	)
)
