package postgres_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/postgrestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestStagingCVEIDsOrderedAndLimited(t *testing.T) {
	s := postgrestest.NewStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceStaging(ctx, nil, []models.StagingVulnerability{
		{CVEID: "CVE-3", DateAdded: month(2024, 1)},
		{CVEID: "CVE-1", DateAdded: month(2024, 1)},
		{CVEID: "CVE-2", DateAdded: month(2024, 1)},
	}))

	ids, err := s.StagingCVEIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-1", "CVE-2"}, ids)

	ids, err = s.StagingCVEIDs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestReplaceMartsIsAtomic(t *testing.T) {
	s := postgrestest.NewStore(t)
	ctx := context.Background()

	metrics := []models.IndustryTimeMetric{{PeriodStart: month(2024, 1), Industry: "retail", BreachCount: 1}}
	require.NoError(t, s.ReplaceMarts(ctx, metrics, nil, nil))

	// The duplicate key fails the last table; the first must roll back too.
	dup := models.TrainingExample{EventID: "x", EventDate: month(2024, 2)}
	err := s.ReplaceMarts(ctx,
		[]models.IndustryTimeMetric{{PeriodStart: month(2024, 2), Industry: "finance", BreachCount: 5}},
		nil,
		[]models.TrainingExample{dup, dup})
	require.Error(t, err)

	got, err := s.IndustryTimeMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "retail", got[0].Industry)
}

func TestReplaceStagingClearsPreviousGeneration(t *testing.T) {
	s := postgrestest.NewStore(t)
	ctx := context.Background()

	first := []models.StagingIncident{
		{EventID: "a", EventDate: month(2024, 1), Industry: "x", BreachType: "y"},
		{EventID: "b", EventDate: month(2024, 1), Industry: "x", BreachType: "y"},
	}
	require.NoError(t, s.ReplaceStaging(ctx, first, nil))
	require.NoError(t, s.ReplaceStaging(ctx, first[1:], nil))

	got, err := s.StagingIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].EventID)
}

func TestWithStoreClosesAndDrop(t *testing.T) {
	cfg := config.DBConfig{Driver: "sqlite", SQLitePath: ":memory:"}

	var kept *postgres.Store
	boom := errors.New("boom")
	err := postgres.WithStore(cfg, func(s *postgres.Store) error {
		kept = s
		require.NoError(t, postgres.Drop(s.DB()))
		tables, err := s.DB().Migrator().GetTables()
		require.NoError(t, err)
		assert.Empty(t, tables)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sqlDB, err := kept.DB().DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping(), "connection pool is closed")
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := postgres.Connect(config.DBConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "oracle")
}

func TestCheckReportsMissingTablesWithoutMigrating(t *testing.T) {
	cfg := config.DBConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "fresh.db")}

	missing, err := postgres.Check(cfg)
	require.NoError(t, err)
	assert.Len(t, missing, len(models.All()))
	assert.Contains(t, missing, models.TrainingExample{}.TableName())

	// A second check sees the same gaps, so the first created nothing.
	again, err := postgres.Check(cfg)
	require.NoError(t, err)
	assert.Equal(t, missing, again)

	db, err := postgres.Connect(cfg)
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(db))
	assert.Empty(t, postgres.MissingTables(db))

	require.NoError(t, db.Migrator().DropTable(&models.KEVPressure{}))
	assert.Equal(t, []string{models.KEVPressure{}.TableName()}, postgres.MissingTables(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	missing, err = postgres.Check(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{models.KEVPressure{}.TableName()}, missing)
}
