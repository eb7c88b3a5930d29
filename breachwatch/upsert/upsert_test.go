package upsert_test

import (
	"context"
	"testing"
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/postgrestest"
	"github.com/SiriusScan/breachwatch/breachwatch/upsert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var enrichedTable = models.EnrichedVulnerability{}.TableName()

func enrichedRows() [][]any {
	published := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	return [][]any{
		models.EnrichedVulnerability{
			CVEID:         "CVE-2024-0001",
			PublishedDate: &published,
			CVSSBaseScore: postgrestest.Ptr(9.8),
			CVSSSeverity:  postgrestest.Ptr("CRITICAL"),
			AttackVector:  postgrestest.Ptr("NETWORK"),
		}.Row(),
		models.EnrichedVulnerability{
			CVEID:         "CVE-2024-0002",
			CVSSBaseScore: postgrestest.Ptr(5.0),
			CWEID:         postgrestest.Ptr("CWE-79"),
		}.Row(),
	}
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	// A nil connection proves no round-trip happens.
	n, err := upsert.Upsert(context.Background(), nil, enrichedTable,
		models.EnrichedVulnerabilityColumns, nil, []string{"cve_id"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUpsertInsertsThenOverwrites(t *testing.T) {
	s := postgrestest.NewStore(t)
	ctx := context.Background()

	n, err := upsert.Upsert(ctx, s.DB(), enrichedTable, models.EnrichedVulnerabilityColumns, enrichedRows(), []string{"cve_id"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Every non-key column is overwritten, including ones set back to null.
	updated := models.EnrichedVulnerability{
		CVEID:         "CVE-2024-0001",
		CVSSBaseScore: postgrestest.Ptr(7.5),
		CVSSSeverity:  postgrestest.Ptr("HIGH"),
	}
	n, err = upsert.Upsert(ctx, s.DB(), enrichedTable, models.EnrichedVulnerabilityColumns, [][]any{updated.Row()}, []string{"cve_id"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.EnrichedVulnerabilities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CVE-2024-0001", got[0].CVEID)
	assert.InDelta(t, 7.5, *got[0].CVSSBaseScore, 1e-9)
	assert.Equal(t, "HIGH", *got[0].CVSSSeverity)
	assert.Nil(t, got[0].AttackVector)
	assert.Nil(t, got[0].PublishedDate)
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := postgrestest.NewStore(t)
	ctx := context.Background()

	_, err := upsert.Upsert(ctx, s.DB(), enrichedTable, models.EnrichedVulnerabilityColumns, enrichedRows(), []string{"cve_id"})
	require.NoError(t, err)
	first, err := s.EnrichedVulnerabilities(ctx)
	require.NoError(t, err)

	n, err := upsert.Upsert(ctx, s.DB(), enrichedTable, models.EnrichedVulnerabilityColumns, enrichedRows(), []string{"cve_id"})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "returns rows submitted even when nothing changed")

	second, err := s.EnrichedVulnerabilities(ctx)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].CVEID, second[i].CVEID)
		assert.Equal(t, first[i].CVSSBaseScore, second[i].CVSSBaseScore)
		assert.Equal(t, first[i].CVSSSeverity, second[i].CVSSSeverity)
		assert.Equal(t, first[i].CWEID, second[i].CWEID)
	}
}

func TestUpsertCompositeKeyAndDuplicatesInBatch(t *testing.T) {
	s := postgrestest.NewStore(t)
	ctx := context.Background()

	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	batch := []models.RawVulnerability{
		{CVEID: "CVE-2024-1", DateAdded: jan, Product: postgrestest.Ptr("first")},
		{CVEID: "CVE-2024-1", DateAdded: feb, Product: postgrestest.Ptr("other month")},
		{CVEID: "CVE-2024-1", DateAdded: jan, Product: postgrestest.Ptr("last wins")},
	}

	n, err := s.UpsertRawVulnerabilities(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.RawVulnerabilities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "last wins", *got[0].Product)
	assert.Equal(t, "other month", *got[1].Product)
}

func TestUpsertRejectsMalformedInput(t *testing.T) {
	s := postgrestest.NewStore(t)
	ctx := context.Background()

	_, err := upsert.Upsert(ctx, s.DB(), enrichedTable, models.EnrichedVulnerabilityColumns,
		[][]any{{"CVE-2024-0001"}}, []string{"cve_id"})
	assert.ErrorContains(t, err, "row 0 has 1 values")

	_, err = upsert.Upsert(ctx, s.DB(), enrichedTable, models.EnrichedVulnerabilityColumns,
		enrichedRows(), []string{"id"})
	assert.ErrorContains(t, err, `key column "id"`)

	_, err = upsert.Upsert(ctx, s.DB(), enrichedTable, models.EnrichedVulnerabilityColumns,
		enrichedRows(), nil)
	assert.Error(t, err)
}
