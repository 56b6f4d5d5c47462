// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the change-set
// gateway.
//
// # Description
//
// Metrics cover job throughput and outcomes, per-file change results,
// producer retries, and live progress streams. They are exposed on the
// /metrics endpoint for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianApply/services/changeset/jobstore"
)

const metricsNamespace = "aleutian"

const changesetSubsystem = "changeset"

// JobMetrics holds the gateway's Prometheus metrics. Initialize once at
// startup via InitMetrics.
type JobMetrics struct {
	// JobsTotal counts finished jobs by terminal status.
	// Labels: status (succeeded, failed, canceled)
	JobsTotal *prometheus.CounterVec

	// JobDurationSeconds measures submit-to-terminal latency.
	// Labels: status (succeeded, failed, canceled)
	JobDurationSeconds *prometheus.HistogramVec

	// ActiveJobs tracks jobs currently running.
	ActiveJobs prometheus.Gauge

	// ChangesTotal counts per-file operation outcomes.
	// Labels: kind (modify, create, delete, move), status (applied, failed)
	ChangesTotal *prometheus.CounterVec

	// RetriesTotal counts producer retry attempts.
	RetriesTotal prometheus.Counter

	// ErrorsTotal counts job failures by error class.
	// Labels: code (VALIDATION, RATE_LIMIT, ...)
	ErrorsTotal *prometheus.CounterVec

	// ActiveStreams tracks open progress streams.
	// Labels: transport (ndjson, websocket)
	ActiveStreams *prometheus.GaugeVec
}

// DefaultMetrics is the singleton initialized by InitMetrics.
var DefaultMetrics *JobMetrics

// InitMetrics creates and registers all gateway metrics. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *JobMetrics {
	DefaultMetrics = &JobMetrics{
		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: changesetSubsystem,
				Name:      "jobs_total",
				Help:      "Finished change-set jobs by terminal status",
			},
			[]string{"status"},
		),

		JobDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: changesetSubsystem,
				Name:      "job_duration_seconds",
				Help:      "Job duration from submit to terminal state",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),

		ActiveJobs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: changesetSubsystem,
				Name:      "active_jobs",
				Help:      "Jobs currently running",
			},
		),

		ChangesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: changesetSubsystem,
				Name:      "changes_total",
				Help:      "Per-file change operation outcomes",
			},
			[]string{"kind", "status"},
		),

		RetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: changesetSubsystem,
				Name:      "retries_total",
				Help:      "Producer retry attempts",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: changesetSubsystem,
				Name:      "errors_total",
				Help:      "Job failures by error class",
			},
			[]string{"code"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: changesetSubsystem,
				Name:      "active_streams",
				Help:      "Open progress streams by transport",
			},
			[]string{"transport"},
		),
	}
	return DefaultMetrics
}

// ObserveFinished records a job's terminal outcome. Wire it as the
// orchestrator's OnFinished hook.
func (m *JobMetrics) ObserveFinished(rec jobstore.JobRecord) {
	m.RecordJob(string(rec.Status), rec.UpdatedAt.Sub(rec.CreatedAt).Seconds())
	if rec.Error != nil {
		m.RecordError(string(rec.Error.Code))
	}
	if rec.Report != nil {
		for _, res := range rec.Report.Results {
			m.RecordChange(string(res.Kind), string(res.Status))
		}
	}
}

// RecordJob records a finished job.
func (m *JobMetrics) RecordJob(status string, seconds float64) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordChange records one per-file operation outcome.
func (m *JobMetrics) RecordChange(kind, status string) {
	m.ChangesTotal.WithLabelValues(kind, status).Inc()
}

// RecordError records a job failure class.
func (m *JobMetrics) RecordError(code string) {
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// StreamStarted increments the open-stream gauge for a transport.
func (m *JobMetrics) StreamStarted(transport string) {
	m.ActiveStreams.WithLabelValues(transport).Inc()
}

// StreamEnded decrements the open-stream gauge for a transport.
func (m *JobMetrics) StreamEnded(transport string) {
	m.ActiveStreams.WithLabelValues(transport).Dec()
}
