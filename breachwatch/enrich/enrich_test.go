package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/postgrestest"
	"github.com/SiriusScan/breachwatch/nvd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nvdServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch id := r.URL.Query().Get("cveId"); id {
		case "CVE-2024-0404":
			w.WriteHeader(http.StatusNotFound)
		case "CVE-2024-0403":
			w.WriteHeader(http.StatusForbidden)
		default:
			fmt.Fprintf(w, `{"vulnerabilities":[{"cve":{"id":%q,"published":"2024-01-10T00:00:00.000",
				"metrics":{"cvssMetricV31":[{"cvssData":{"version":"3.1","baseScore":8.1,"baseSeverity":"HIGH","attackVector":"NETWORK"}}]},
				"weaknesses":[{"description":[{"lang":"en","value":"CWE-787"}]}]}}]}`, id)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func stage(t *testing.T, ids ...string) *countingStore {
	t.Helper()
	s := postgrestest.NewStore(t)
	vulns := make([]models.StagingVulnerability, len(ids))
	for i, id := range ids {
		vulns[i] = models.StagingVulnerability{CVEID: id, DateAdded: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	}
	require.NoError(t, s.ReplaceStaging(context.Background(), nil, vulns))
	return &countingStore{Store: s}
}

func client(url string) *nvd.Client {
	return nvd.NewClient(url, "test-key", 0, time.Second,
		nvd.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
}

func TestRecordMapsSeverity(t *testing.T) {
	score := 6.1
	rec := Record("CVE-1", nvd.CveItem{
		Published: "2023-05-01T12:00:00.000",
		Metrics: nvd.Metrics{CvssMetricV30: []nvd.CvssV3{{CvssData: nvd.CvssDataV3{
			BaseScore: &score, BaseSeverity: "MEDIUM", AttackVector: "NETWORK",
		}}}},
	})
	assert.Equal(t, "CVE-1", rec.CVEID)
	assert.Equal(t, time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC), *rec.PublishedDate)
	assert.InDelta(t, 6.1, *rec.CVSSBaseScore, 1e-9)
	assert.Equal(t, "MEDIUM", *rec.CVSSSeverity)
	assert.Nil(t, rec.CWEID)

	bare := Record("CVE-2", nvd.CveItem{})
	assert.Nil(t, bare.CVSSBaseScore)
	assert.Nil(t, bare.PublishedDate)
}

func TestRunSkipsNotFoundAndContinues(t *testing.T) {
	srv := nvdServer(t)
	s := stage(t, "CVE-2024-0001", "CVE-2024-0403", "CVE-2024-0404", "CVE-2024-0500")
	ctx := context.Background()

	res, err := NewFetcher(client(srv.URL), s, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Requested: 4, Enriched: 2, NotFound: 1, Failed: 1}, res)

	got, err := s.EnrichedVulnerabilities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CVE-2024-0001", got[0].CVEID)
	assert.Equal(t, "CVE-2024-0500", got[1].CVEID)
	assert.Equal(t, "CWE-787", *got[0].CWEID)
	assert.Equal(t, 2, s.upserts, "each record is committed on its own")
}

func TestRunHonorsBatchLimit(t *testing.T) {
	srv := nvdServer(t)
	s := stage(t, "CVE-2024-0003", "CVE-2024-0001", "CVE-2024-0002")

	res, err := NewFetcher(client(srv.URL), s, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requested)

	got, err := s.EnrichedVulnerabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CVE-2024-0002", got[1].CVEID, "lowest identifiers first")
}

func TestRunStopsWhenCancelled(t *testing.T) {
	srv := nvdServer(t)
	s := stage(t, "CVE-2024-0001", "CVE-2024-0002", "CVE-2024-0003")
	ctx, cancel := context.WithCancel(context.Background())
	s.afterUpsert = cancel

	res, err := NewFetcher(client(srv.URL), s, 0).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Enriched)

	got, err := s.EnrichedVulnerabilities(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1, "committed rows remain")
}

func TestRunOnEmptyStaging(t *testing.T) {
	s := stage(t)
	res, err := NewFetcher(client("http://127.0.0.1:1"), s, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
