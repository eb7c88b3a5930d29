// Package telemetry holds the pipeline's Prometheus metrics. A batch job has
// no scrape endpoint, so totals are pushed to a Pushgateway at the end of a run.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "breachwatch"

var (
	stageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_runs_total",
			Help:      "Total number of stage runs by outcome.",
		},
		[]string{"stage", "outcome"},
	)
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "The duration of each stage run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"stage"},
	)
	rowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows_written_total",
			Help:      "Total number of rows written, by target table.",
		},
		[]string{"table"},
	)
	itemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "items_skipped_total",
			Help:      "Total number of input items skipped, by stage.",
		},
		[]string{"stage"},
	)
)

// ObserveStage records one finished stage.
func ObserveStage(stage string, took time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	stageRuns.WithLabelValues(stage, outcome).Inc()
	stageDuration.WithLabelValues(stage).Observe(took.Seconds())
}

// AddRows counts rows written to table.
func AddRows(table string, n int) {
	if n > 0 {
		rowsWritten.WithLabelValues(table).Add(float64(n))
	}
}

// AddSkipped counts input items a stage could not use.
func AddSkipped(stage string, n int) {
	if n > 0 {
		itemsSkipped.WithLabelValues(stage).Add(float64(n))
	}
}

// Push sends every registered metric to the Pushgateway at url under job.
// An empty url is a no-op.
func Push(url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
