// Package metrics registers the Prometheus instruments the pipeline
// emits. Collectors are process-global; the pipeline is batch, so most
// series are counters bumped per run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsRead counts raw rows read per source kind.
	RowsRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uidwatch",
		Subsystem: "ingest",
		Name:      "rows_read_total",
		Help:      "Raw CSV rows read, by source kind",
	}, []string{"kind"})

	// RowsSkipped counts malformed rows skipped per source kind.
	RowsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uidwatch",
		Subsystem: "ingest",
		Name:      "rows_skipped_total",
		Help:      "Malformed rows skipped during ingestion, by source kind",
	}, []string{"kind"})

	// FilesSkipped counts files rejected by schema matching.
	FilesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "uidwatch",
		Subsystem: "ingest",
		Name:      "files_skipped_total",
		Help:      "Source files skipped because no schema matched",
	})

	// DuplicateRows counts within-source duplicate key resubmissions.
	DuplicateRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uidwatch",
		Subsystem: "merge",
		Name:      "duplicate_rows_total",
		Help:      "Duplicate rows summed during the golden merge, by source kind",
	}, []string{"kind"})

	// DatasetRecords gauges the size of the current golden snapshot.
	DatasetRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "uidwatch",
		Subsystem: "dataset",
		Name:      "golden_records",
		Help:      "Golden records in the current dataset snapshot",
	})

	// StageDuration times each pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uidwatch",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall time per pipeline stage",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	// AlertsEmitted counts alerts surfaced per severity tier.
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uidwatch",
		Subsystem: "alerts",
		Name:      "emitted_total",
		Help:      "Alerts emitted, by severity tier",
	}, []string{"severity"})

	// CacheHits and CacheMisses track the aggregate/score cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "uidwatch",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Aggregate cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "uidwatch",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Aggregate cache misses",
	})
)
