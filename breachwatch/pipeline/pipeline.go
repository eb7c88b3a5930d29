// Package pipeline wires the stages to their clients and the store and runs
// them in dependency order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/enrich"
	"github.com/SiriusScan/breachwatch/breachwatch/ingest"
	"github.com/SiriusScan/breachwatch/breachwatch/mart"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/breachwatch/queue"
	"github.com/SiriusScan/breachwatch/breachwatch/snapshot"
	"github.com/SiriusScan/breachwatch/breachwatch/staging"
	"github.com/SiriusScan/breachwatch/breachwatch/telemetry"
	"github.com/SiriusScan/breachwatch/kev"
	"github.com/SiriusScan/breachwatch/nvd"
	"github.com/google/uuid"
)

// Outcome describes one finished Run call.
type Outcome struct {
	RunID      string         `json:"run_id"`
	Stage      Stage          `json:"stage"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Rows       map[string]int `json:"rows"`
	Skipped    int            `json:"skipped"`
	Error      string         `json:"error,omitempty"`
}

// TotalRows sums rows written across tables.
func (o Outcome) TotalRows() int {
	n := 0
	for _, v := range o.Rows {
		n += v
	}
	return n
}

// Notifier is told about every finished run.
type Notifier func(ctx context.Context, o Outcome) error

// Runner executes stages against one store.
type Runner struct {
	Store         *postgres.Store
	BreachCSVPath string
	KEV           ingest.FeedFetcher
	Enricher      *enrich.Fetcher
	Marts         *mart.Builder

	// Optional.
	Snapshots *snapshot.Manager
	Notify    Notifier

	Now func() time.Time
}

// RetryPolicy converts the configured schedule.
func RetryPolicy(cfg config.RetryConfig) nvd.RetryPolicy {
	return nvd.RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}
}

// NewRunner builds a Runner with remote clients configured from cfg.
func NewRunner(cfg *config.Config, s *postgres.Store) *Runner {
	retry := RetryPolicy(cfg.Retry)
	nvdClient := nvd.NewClient(cfg.NVD.APIURL, cfg.NVD.APIKey, cfg.NVD.Pacing, cfg.NVD.Timeout, retry)
	if !cfg.NVD.Authenticated() {
		slog.Info("No NVD API key set, pacing requests", "interval", cfg.NVD.Pacing)
	}
	return &Runner{
		Store:         s,
		BreachCSVPath: cfg.BreachCSVPath,
		KEV:           kev.NewClient(cfg.KEVFeed, cfg.NVD.Timeout, retry),
		Enricher:      enrich.NewFetcher(nvdClient, s, cfg.NVD.BatchLimit),
		Marts:         mart.NewBuilder(cfg.PressureWindowMonths),
		Now:           time.Now,
	}
}

// QueueNotifier publishes each outcome as JSON to qName.
func QueueNotifier(url, qName string) Notifier {
	return func(_ context.Context, o Outcome) error {
		return queue.Publish(url, qName, o)
	}
}

// Run executes stage, or every stage in Order for StageAll, stopping at the
// first failure. The outcome is recorded even when the run fails.
func (r *Runner) Run(ctx context.Context, stage Stage) (Outcome, error) {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	o := Outcome{
		RunID:     uuid.NewString(),
		Stage:     stage,
		StartedAt: now(),
		Rows:      make(map[string]int),
	}
	log := slog.With("run_id", o.RunID, "stage", stage)
	log.Info("Pipeline run started")

	stages := []Stage{stage}
	if stage == StageAll {
		stages = Order
	}

	var runErr error
	for _, st := range stages {
		started := time.Now()
		rows, skipped, err := r.runStage(ctx, st)
		telemetry.ObserveStage(string(st), time.Since(started), err)
		telemetry.AddSkipped(string(st), skipped)
		for table, n := range rows {
			telemetry.AddRows(table, n)
			o.Rows[table] += n
		}
		o.Skipped += skipped
		if err != nil {
			runErr = fmt.Errorf("stage %s: %w", st, err)
			break
		}
	}

	o.FinishedAt = now()
	if runErr != nil {
		o.Error = runErr.Error()
		log.Error("Pipeline run failed", "error", runErr, "rows", o.TotalRows())
	} else {
		log.Info("Pipeline run completed", "rows", o.TotalRows(), "skipped", o.Skipped,
			"took", o.FinishedAt.Sub(o.StartedAt))
	}

	r.record(ctx, o)
	return o, runErr
}

func (r *Runner) runStage(ctx context.Context, st Stage) (map[string]int, int, error) {
	switch st {
	case StageIngestBreaches:
		res, err := ingest.Breaches(ctx, r.Store, r.BreachCSVPath)
		return map[string]int{models.RawIncident{}.TableName(): res.Written}, res.Skipped, err
	case StageIngestKEV:
		res, err := ingest.KEV(ctx, r.KEV, r.Store)
		return map[string]int{models.RawVulnerability{}.TableName(): res.Written}, res.Skipped, err
	case StageStaging:
		res, err := staging.Run(ctx, r.Store)
		return map[string]int{
			models.StagingIncident{}.TableName():      res.Incidents,
			models.StagingVulnerability{}.TableName(): res.Vulnerabilities,
		}, res.Undated, err
	case StageEnrich:
		res, err := r.Enricher.Run(ctx)
		return map[string]int{models.EnrichedVulnerability{}.TableName(): res.Enriched},
			res.NotFound + res.Failed, err
	case StageMarts:
		res, err := r.Marts.Run(ctx, r.Store)
		return map[string]int{
			models.IndustryTimeMetric{}.TableName(): res.IndustryMetrics,
			models.KEVPressure{}.TableName():        res.Pressure,
			models.TrainingExample{}.TableName():    res.Training,
		}, 0, err
	}
	return nil, 0, fmt.Errorf("unknown stage %q", st)
}

// record stores the snapshot and sends the notification. Neither failure
// changes the run's result.
func (r *Runner) record(ctx context.Context, o Outcome) {
	if r.Snapshots != nil {
		snap := &snapshot.RunSnapshot{
			RunID:      o.RunID,
			Stage:      string(o.Stage),
			StartedAt:  o.StartedAt,
			FinishedAt: o.FinishedAt,
			Rows:       o.Rows,
			Skipped:    o.Skipped,
			Error:      o.Error,
		}
		if err := r.Snapshots.Record(ctx, snap); err != nil {
			slog.Warn("Failed to record run snapshot", "run_id", o.RunID, "error", err)
		}
	}
	if r.Notify != nil {
		if err := r.Notify(ctx, o); err != nil {
			slog.Warn("Failed to send run notification", "run_id", o.RunID, "error", err)
		}
	}
}
