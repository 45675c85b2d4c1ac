// SPDX-License-Identifier: MIT

// Package metrics exposes the Prometheus collectors used across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSubprocesses tracks currently running children per pool class.
	ActiveSubprocesses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "media_subprocesses_active",
		Help: "Currently running subprocesses per pool class",
	}, []string{"class"})

	// SubprocessSpawns counts successful spawns per pool class.
	SubprocessSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_subprocess_spawns_total",
		Help: "Total subprocess spawns per pool class",
	}, []string{"class"})

	// SubprocessRejections counts admission failures at the pool ceiling.
	SubprocessRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_subprocess_rejections_total",
		Help: "Total spawn attempts rejected because the pool ceiling was reached",
	}, []string{"class"})

	// SubprocessTimeouts counts absolute watchdog expiries per pool class.
	SubprocessTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_subprocess_timeouts_total",
		Help: "Total subprocesses killed by the absolute timeout watchdog",
	}, []string{"class"})

	// TranscodeStalls counts progress-stall watchdog kills.
	TranscodeStalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_transcode_stalls_total",
		Help: "Total encodes killed because progress stalled",
	})

	// JobTransitions counts job phase transitions.
	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_job_transitions_total",
		Help: "Total job phase transitions",
	}, []string{"phase"})

	// JobsActive tracks non-terminal jobs in the registry.
	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_jobs_active",
		Help: "Jobs currently in a non-terminal phase",
	})

	// WebhookFailures counts webhook deliveries that did not succeed.
	WebhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_webhook_failures_total",
		Help: "Total webhook deliveries that failed (best-effort, never fatal)",
	})

	// UploadBytes counts bytes uploaded to presigned URLs.
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_upload_bytes_total",
		Help: "Total bytes uploaded to presigned URLs",
	})

	// TempFilesCleaned counts temp files removed by cleanup sweeps.
	TempFilesCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_tempfiles_cleaned_total",
		Help: "Total temp files removed by cleanup sweeps",
	})
)
