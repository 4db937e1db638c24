// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolvesTotal counts resolution requests by outcome.
	ResolvesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediagrab",
			Subsystem: "resolve",
			Name:      "requests_total",
			Help:      "Total resolution requests",
		},
		[]string{"outcome"},
	)

	// DownloadsTotal counts streaming downloads by terminal outcome.
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediagrab",
			Subsystem: "download",
			Name:      "requests_total",
			Help:      "Total streaming downloads",
		},
		[]string{"outcome"},
	)

	// StreamedBytesTotal counts bytes delivered per sink (client, disk).
	StreamedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediagrab",
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes written to each download sink",
		},
		[]string{"sink"},
	)

	// SinkFailuresTotal counts sinks detached from a tee after a write error.
	SinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediagrab",
			Subsystem: "download",
			Name:      "sink_failures_total",
			Help:      "Sinks detached after a write error",
		},
		[]string{"sink"},
	)

	// ActiveProcesses tracks running extractor processes.
	ActiveProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mediagrab",
			Subsystem: "extractor",
			Name:      "active_processes",
			Help:      "Extractor processes currently running",
		},
	)

	// ProcessDuration observes extractor wall time by mode.
	ProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mediagrab",
			Subsystem: "extractor",
			Name:      "duration_seconds",
			Help:      "Extractor process wall time in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900},
		},
		[]string{"mode"},
	)

	// AdmissionRejectedTotal counts requests turned away by the process pool.
	AdmissionRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mediagrab",
			Subsystem: "worker",
			Name:      "rejected_total",
			Help:      "Requests rejected because no extractor slot was free",
		},
	)
)
