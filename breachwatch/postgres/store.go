package postgres

import (
	"context"
	"fmt"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/breachwatch/upsert"
	"gorm.io/gorm"
)

// Store is the pipeline's repository over the relational store. One Store is
// opened per run and passed to every stage.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open connection. The schema is expected to exist.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects, migrates, and returns a Store the caller must Close.
func Open(cfg config.DBConfig) (*Store, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		closeDB(db)
		return nil, err
	}
	return NewStore(db), nil
}

// WithStore opens a Store, runs fn, and closes the Store on every path.
func WithStore(cfg config.DBConfig, fn func(*Store) error) (err error) {
	s, err := Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return closeDB(s.db)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.Close()
}

// UpsertRawIncidents merges incidents into the raw store keyed by event_id.
func (s *Store) UpsertRawIncidents(ctx context.Context, incidents []models.RawIncident) (int, error) {
	rows := make([][]any, len(incidents))
	for i, r := range incidents {
		rows[i] = r.Row()
	}
	return upsert.Upsert(ctx, s.db, models.RawIncident{}.TableName(),
		models.RawIncidentColumns, rows, []string{"event_id"})
}

// UpsertRawVulnerabilities merges feed entries keyed by (cve_id, date_added).
func (s *Store) UpsertRawVulnerabilities(ctx context.Context, vulns []models.RawVulnerability) (int, error) {
	rows := make([][]any, len(vulns))
	for i, v := range vulns {
		rows[i] = v.Row()
	}
	return upsert.Upsert(ctx, s.db, models.RawVulnerability{}.TableName(),
		models.RawVulnerabilityColumns, rows, []string{"cve_id", "date_added"})
}

// UpsertEnriched merges NVD detail keyed by cve_id, overwriting every column.
func (s *Store) UpsertEnriched(ctx context.Context, records ...models.EnrichedVulnerability) (int, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = r.Row()
	}
	return upsert.Upsert(ctx, s.db, models.EnrichedVulnerability{}.TableName(),
		models.EnrichedVulnerabilityColumns, rows, []string{"cve_id"})
}

// RawIncidents returns every raw incident.
func (s *Store) RawIncidents(ctx context.Context) ([]models.RawIncident, error) {
	var out []models.RawIncident
	if err := s.db.WithContext(ctx).Order("event_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load raw incidents: %w", err)
	}
	return out, nil
}

// RawVulnerabilities returns every raw feed entry.
func (s *Store) RawVulnerabilities(ctx context.Context) ([]models.RawVulnerability, error) {
	var out []models.RawVulnerability
	if err := s.db.WithContext(ctx).Order("cve_id, date_added").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load raw vulnerabilities: %w", err)
	}
	return out, nil
}

// StagingIncidents returns the current staged incidents.
func (s *Store) StagingIncidents(ctx context.Context) ([]models.StagingIncident, error) {
	var out []models.StagingIncident
	if err := s.db.WithContext(ctx).Order("event_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load staging incidents: %w", err)
	}
	return out, nil
}

// StagingVulnerabilities returns the current deduplicated feed entries.
func (s *Store) StagingVulnerabilities(ctx context.Context) ([]models.StagingVulnerability, error) {
	var out []models.StagingVulnerability
	if err := s.db.WithContext(ctx).Order("cve_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load staging vulnerabilities: %w", err)
	}
	return out, nil
}

// StagingCVEIDs returns up to limit staged identifiers in ascending order.
func (s *Store) StagingCVEIDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	q := s.db.WithContext(ctx).Model(&models.StagingVulnerability{}).Order("cve_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("cve_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list staged cve ids: %w", err)
	}
	return ids, nil
}

// EnrichedVulnerabilities returns every enriched record.
func (s *Store) EnrichedVulnerabilities(ctx context.Context) ([]models.EnrichedVulnerability, error) {
	var out []models.EnrichedVulnerability
	if err := s.db.WithContext(ctx).Order("cve_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load enriched vulnerabilities: %w", err)
	}
	return out, nil
}

// ReplaceStaging swaps both staging tables for the given rows in a single
// transaction; readers see either the previous or the new generation.
func (s *Store) ReplaceStaging(ctx context.Context, incidents []models.StagingIncident, vulns []models.StagingVulnerability) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := replaceTable(tx, vulns); err != nil {
			return err
		}
		return replaceTable(tx, incidents)
	})
}

// ReplaceMarts swaps all three mart tables in a single transaction.
func (s *Store) ReplaceMarts(ctx context.Context, metrics []models.IndustryTimeMetric, pressure []models.KEVPressure, training []models.TrainingExample) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := replaceTable(tx, metrics); err != nil {
			return err
		}
		if err := replaceTable(tx, pressure); err != nil {
			return err
		}
		return replaceTable(tx, training)
	})
}

// IndustryTimeMetrics returns the monthly incident aggregate.
func (s *Store) IndustryTimeMetrics(ctx context.Context) ([]models.IndustryTimeMetric, error) {
	var out []models.IndustryTimeMetric
	if err := s.db.WithContext(ctx).Order("period_start, industry").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load industry metrics: %w", err)
	}
	return out, nil
}

// KEVPressure returns the pressure aggregate ordered by month.
func (s *Store) KEVPressure(ctx context.Context) ([]models.KEVPressure, error) {
	var out []models.KEVPressure
	if err := s.db.WithContext(ctx).Order("period_start").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load kev pressure: %w", err)
	}
	return out, nil
}

// TrainingSet returns the labeled feature rows.
func (s *Store) TrainingSet(ctx context.Context) ([]models.TrainingExample, error) {
	var out []models.TrainingExample
	if err := s.db.WithContext(ctx).Order("event_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load training set: %w", err)
	}
	return out, nil
}

type tabler interface {
	TableName() string
}

func replaceTable[T tabler](tx *gorm.DB, rows []T) error {
	var model T
	table := model.TableName()
	if err := tx.Where("1 = 1").Delete(&model).Error; err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(rows, upsert.PageSize).Error; err != nil {
		return fmt.Errorf("failed to reload %s: %w", table, err)
	}
	return nil
}
