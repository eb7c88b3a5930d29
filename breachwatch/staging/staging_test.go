package staging

import (
	"context"
	"testing"
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/postgrestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ptr = postgrestest.Ptr[string]

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNormalizeIncidentsDefaultsAndFlags(t *testing.T) {
	jan := day(2024, time.January, 5)
	raw := []models.RawIncident{
		{EventID: "b", EventDate: &jan, Industry: ptr("Healthcare"), BreachType: ptr("RANSOMWARE attack"), RecordsAffected: postgrestest.Ptr[int64](1_000_000)},
		{EventID: "a", EventDate: &jan, RecordsAffected: postgrestest.Ptr[int64](999_999)},
		{EventID: "c", EventDate: &jan},
		{EventID: "d", Industry: ptr("Retail")},
	}

	got, undated := NormalizeIncidents(raw)
	assert.Equal(t, 1, undated)
	require.Len(t, got, 3)

	assert.Equal(t, "a", got[0].EventID)
	assert.Equal(t, Unknown, got[0].Industry)
	assert.Equal(t, Unknown, got[0].BreachType)
	assert.False(t, got[0].RansomwareFlag)
	assert.False(t, got[0].MegaBreach)

	assert.Equal(t, "b", got[1].EventID)
	assert.True(t, got[1].RansomwareFlag)
	assert.True(t, got[1].MegaBreach, "threshold is inclusive")

	assert.Nil(t, got[2].RecordsAffected)
	assert.False(t, got[2].MegaBreach, "missing count is treated as zero")
}

func TestNormalizeVulnerabilitiesKeepsLatest(t *testing.T) {
	raw := []models.RawVulnerability{
		{CVEID: "CVE-2", DateAdded: day(2023, time.March, 1), KnownRansomwareCampaignUse: ptr("Known")},
		{CVEID: "CVE-1", DateAdded: day(2024, time.February, 1), Product: ptr("newer"), KnownRansomwareCampaignUse: ptr("YES")},
		{CVEID: "CVE-1", DateAdded: day(2024, time.January, 1), Product: ptr("older"), KnownRansomwareCampaignUse: ptr("no")},
	}

	got := NormalizeVulnerabilities(raw)
	require.Len(t, got, 2)
	assert.Equal(t, "CVE-1", got[0].CVEID)
	assert.Equal(t, "newer", *got[0].Product)
	assert.Equal(t, day(2024, time.February, 1), got[0].DateAdded)
	assert.True(t, got[0].KnownRansomwareCampaignUse)
	assert.Equal(t, "CVE-2", got[1].CVEID)
	assert.False(t, got[1].KnownRansomwareCampaignUse)
}

func TestRansomwareUse(t *testing.T) {
	for in, want := range map[string]bool{
		"yes": true, "Yes": true, "TRUE": true, "1": true,
		"no": false, "Known": false, "Unknown": false, "": false, " yes": false,
	} {
		assert.Equal(t, want, RansomwareUse(&in), "%q", in)
	}
	assert.False(t, RansomwareUse(nil))
}

func TestNormalizeCombinesBothTables(t *testing.T) {
	jan := day(2024, time.January, 5)
	raw := []models.RawIncident{
		{EventID: "E-2", EventDate: &jan, BreachType: ptr("Ransomware")},
		{EventID: "E-1", EventDate: &jan},
		{EventID: "E-3"},
	}
	rawVulns := []models.RawVulnerability{
		{CVEID: "CVE-9", DateAdded: day(2024, time.March, 1)},
		{CVEID: "CVE-9", DateAdded: day(2024, time.April, 1), KnownRansomwareCampaignUse: ptr("true")},
	}

	incidents, vulns, undated := Normalize(raw, rawVulns)

	wantIncidents, wantUndated := NormalizeIncidents(raw)
	assert.Equal(t, wantIncidents, incidents)
	assert.Equal(t, wantUndated, undated)
	assert.Equal(t, 1, undated)
	assert.Equal(t, NormalizeVulnerabilities(rawVulns), vulns)
	require.Len(t, vulns, 1)
	assert.True(t, vulns[0].KnownRansomwareCampaignUse)
}

func TestRunReplacesStaging(t *testing.T) {
	s := postgrestest.NewStore(t)
	ctx := context.Background()

	jan := day(2024, time.January, 5)
	_, err := s.UpsertRawIncidents(ctx, []models.RawIncident{
		{EventID: "E-1", EventDate: &jan, BreachType: ptr("ransomware")},
		{EventID: "E-2"},
	})
	require.NoError(t, err)
	_, err = s.UpsertRawVulnerabilities(ctx, []models.RawVulnerability{
		{CVEID: "CVE-1", DateAdded: day(2024, time.January, 1)},
		{CVEID: "CVE-1", DateAdded: day(2024, time.February, 1)},
	})
	require.NoError(t, err)

	res, err := Run(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Result{Incidents: 1, Vulnerabilities: 1, Undated: 1}, res)

	// A second run replaces rather than appends.
	_, err = Run(ctx, s)
	require.NoError(t, err)

	incidents, err := s.StagingIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.True(t, incidents[0].RansomwareFlag)

	vulns, err := s.StagingVulnerabilities(ctx)
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.True(t, vulns[0].DateAdded.Equal(day(2024, time.February, 1)))
}
