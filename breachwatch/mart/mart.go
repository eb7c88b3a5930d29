// Package mart builds the monthly aggregates and the labeled training set
// from the staging and enriched tables.
package mart

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
)

// Store is the slice of the repository the builder needs.
type Store interface {
	StagingIncidents(ctx context.Context) ([]models.StagingIncident, error)
	StagingVulnerabilities(ctx context.Context) ([]models.StagingVulnerability, error)
	EnrichedVulnerabilities(ctx context.Context) ([]models.EnrichedVulnerability, error)
	ReplaceMarts(ctx context.Context, metrics []models.IndustryTimeMetric, pressure []models.KEVPressure, training []models.TrainingExample) error
}

// Result counts the rows written to each mart table.
type Result struct {
	IndustryMetrics int
	Pressure        int
	Training        int
}

// Total is the number of mart rows written.
func (r Result) Total() int {
	return r.IndustryMetrics + r.Pressure + r.Training
}

// Builder rebuilds all three marts. Now fixes the run date; WindowMonths
// sets how many months before it the pressure window starts.
type Builder struct {
	Now          func() time.Time
	WindowMonths int
}

// NewBuilder returns a Builder on the wall clock.
func NewBuilder(windowMonths int) *Builder {
	if windowMonths <= 0 {
		windowMonths = DefaultWindowMonths
	}
	return &Builder{Now: time.Now, WindowMonths: windowMonths}
}

// Marts is the in-memory output of one build.
type Marts struct {
	IndustryMetrics []models.IndustryTimeMetric
	Pressure        []models.KEVPressure
	Training        []models.TrainingExample
}

// Build computes every mart from its inputs without touching the store.
func (b *Builder) Build(incidents []models.StagingIncident, vulns []models.StagingVulnerability, enriched []models.EnrichedVulnerability) Marts {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	pressure := BuildPressure(Window(now(), b.WindowMonths), vulns, enriched)
	return Marts{
		IndustryMetrics: BuildIndustryMetrics(incidents),
		Pressure:        pressure,
		Training:        BuildTrainingSet(incidents, pressure),
	}
}

// Run reads staging and enriched rows and swaps in the rebuilt marts.
func (b *Builder) Run(ctx context.Context, s Store) (Result, error) {
	incidents, err := s.StagingIncidents(ctx)
	if err != nil {
		return Result{}, err
	}
	vulns, err := s.StagingVulnerabilities(ctx)
	if err != nil {
		return Result{}, err
	}
	enriched, err := s.EnrichedVulnerabilities(ctx)
	if err != nil {
		return Result{}, err
	}

	m := b.Build(incidents, vulns, enriched)
	if err := s.ReplaceMarts(ctx, m.IndustryMetrics, m.Pressure, m.Training); err != nil {
		return Result{}, fmt.Errorf("failed to replace mart tables: %w", err)
	}

	res := Result{IndustryMetrics: len(m.IndustryMetrics), Pressure: len(m.Pressure), Training: len(m.Training)}
	slog.Info("Marts rebuilt",
		"industry_metrics", res.IndustryMetrics, "pressure", res.Pressure, "training", res.Training)
	return res, nil
}
