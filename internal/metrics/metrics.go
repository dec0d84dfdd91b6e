// Package metrics exposes the pipeline's Prometheus collectors. The daemon
// serves them on /metrics; one-shot runs update them too, so wrapping the
// binary in a long-lived process still yields cumulative counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakepipe_runs_total",
			Help: "Total pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	RecordsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lakepipe_records_extracted_total",
			Help: "Total records extracted from the source store",
		},
	)

	RecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lakepipe_records_written_total",
			Help: "Total records durably written to the data lake",
		},
	)

	RecordsQuarantined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakepipe_records_quarantined_total",
			Help: "Total validation failures by violated constraint",
		},
		[]string{"reason"},
	)

	FilesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lakepipe_files_written_total",
			Help: "Total partition files written to the data lake",
		},
	)

	WatermarkTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lakepipe_watermark_timestamp_seconds",
			Help: "Current watermark as Unix epoch seconds",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lakepipe_run_duration_seconds",
			Help:    "Duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)
