// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the recording
// scheduler. Label values are normalized against strict allowlists to cap
// series cardinality.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	schedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ottrec_scheduler_ticks_total",
		Help: "Total number of recording-tick evaluations run by the schedule poller",
	})

	recordingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ottrec_recording_transitions_total",
		Help: "Total number of recording status transitions by target status",
	}, []string{"status"})

	seriesRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ottrec_series_runs_total",
		Help: "Total number of per-rule series matcher runs by outcome",
	}, []string{"outcome"})

	seriesMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ottrec_series_matches_total",
		Help: "Total number of accepted series matches by matching tier",
	}, []string{"tier"})

	epgFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ottrec_epg_fetch_duration_seconds",
		Help:    "Duration of EPG fetches issued during series refresh",
		Buckets: prometheus.DefBuckets,
	})

	storeWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ottrec_store_write_failures_total",
		Help: "Total number of failed persistence writes (in-memory state stays authoritative)",
	})

	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ottrec_proc_terminate_total",
		Help: "Total number of termination signals sent to capture process groups",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ottrec_proc_wait_total",
		Help: "Total number of capture process wait outcomes",
	}, []string{"outcome"})
)

// IncSchedulerTick records one poller tick.
func IncSchedulerTick() {
	schedulerTicksTotal.Inc()
}

// IncRecordingTransition records a status transition.
// status ∈ {scheduled,recording,completed,failed,cancelled,missed}
func IncRecordingTransition(status string) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "scheduled", "recording", "completed", "failed", "cancelled", "missed":
		recordingTransitionsTotal.WithLabelValues(strings.ToLower(strings.TrimSpace(status))).Inc()
	default:
		recordingTransitionsTotal.WithLabelValues("unknown").Inc()
	}
}

// IncSeriesRun records one per-rule matcher run.
// outcome ∈ {success,error,timeout}
func IncSeriesRun(outcome string) {
	switch outcome {
	case "success", "error", "timeout":
		seriesRunsTotal.WithLabelValues(outcome).Inc()
	default:
		seriesRunsTotal.WithLabelValues("unknown").Inc()
	}
}

// IncSeriesMatch records one accepted match. tier ∈ {time_pattern,title}
func IncSeriesMatch(tier string) {
	switch tier {
	case "time_pattern", "title":
		seriesMatchesTotal.WithLabelValues(tier).Inc()
	default:
		seriesMatchesTotal.WithLabelValues("unknown").Inc()
	}
}

// ObserveEPGFetch records the duration of one EPG fetch in seconds.
func ObserveEPGFetch(seconds float64) {
	epgFetchDuration.Observe(seconds)
}

// IncStoreWriteFailure records a failed persistence write.
func IncStoreWriteFailure() {
	storeWriteFailuresTotal.Inc()
}

// IncProcTerminate records a termination signal attempt.
// signal ∈ {SIGTERM,SIGKILL}; result ∈ {sent,esrch,error}
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records the outcome of waiting on a capture process.
// outcome ∈ {exit0,exit_nonzero,forced_exit0,forced_error}
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(outcome).Inc()
}
