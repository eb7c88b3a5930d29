package nvd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullRecord = `{
  "resultsPerPage": 1,
  "vulnerabilities": [{
    "cve": {
      "id": "CVE-2021-44228",
      "published": "2021-12-10T10:15:09.143",
      "lastModified": "2024-04-03T17:15:36.980",
      "metrics": {
        "cvssMetricV31": [{"source": "nvd@nist.gov", "type": "Primary",
          "cvssData": {"version": "3.1", "baseScore": 10.0, "baseSeverity": "CRITICAL", "attackVector": "NETWORK"}}],
        "cvssMetricV30": [{"cvssData": {"version": "3.0", "baseScore": 9.0, "baseSeverity": "CRITICAL", "attackVector": "ADJACENT_NETWORK"}}],
        "cvssMetricV2": [{"cvssData": {"version": "2.0", "baseScore": 9.3, "accessVector": "NETWORK"}, "baseSeverity": "HIGH"}]
      },
      "weaknesses": [{"source": "nvd@nist.gov", "type": "Primary",
        "description": [{"lang": "en", "value": "CWE-917"}, {"lang": "en", "value": "CWE-502"}]}]
    }
  }]
}`

const v2OnlyRecord = `{
  "vulnerabilities": [{
    "cve": {
      "id": "CVE-2008-0001",
      "published": "2008-01-02T00:00:00",
      "metrics": {
        "cvssMetricV2": [{"cvssData": {"version": "2.0", "baseScore": 4.3, "accessVector": "LOCAL"}, "baseSeverity": "MEDIUM"}]
      }
    }
  }]
}`

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestGetCVEParsesNewestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CVE-2021-44228", r.URL.Query().Get("cveId"))
		assert.Equal(t, "secret", r.Header.Get("apiKey"))
		w.Write([]byte(fullRecord))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, time.Second, fastRetry())
	assert.False(t, c.Paced(), "keyed clients are not paced")

	item, err := c.GetCVE(context.Background(), "CVE-2021-44228")
	require.NoError(t, err)

	sev, ok := item.Severity()
	require.True(t, ok)
	assert.Equal(t, "3.1", sev.Version)
	assert.InDelta(t, 10.0, *sev.BaseScore, 1e-9)
	assert.Equal(t, "CRITICAL", *sev.BaseSeverity)
	assert.Equal(t, "NETWORK", *sev.AttackVector)
	assert.Equal(t, "CWE-917", *item.WeaknessID())
	assert.Equal(t, time.Date(2021, 12, 10, 10, 15, 9, 143000000, time.UTC), *item.PublishedAt())
	require.NotNil(t, item.LastModifiedAt())
}

func TestSeverityFallsBackToV2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(v2OnlyRecord))
	}))
	defer srv.Close()

	item, err := NewClient(srv.URL, "k", 0, time.Second, fastRetry()).GetCVE(context.Background(), "CVE-2008-0001")
	require.NoError(t, err)

	sev, ok := item.Severity()
	require.True(t, ok)
	assert.InDelta(t, 4.3, *sev.BaseScore, 1e-9)
	assert.Equal(t, "MEDIUM", *sev.BaseSeverity)
	assert.Equal(t, "LOCAL", *sev.AttackVector)
	assert.Nil(t, item.WeaknessID())
	assert.Nil(t, item.LastModifiedAt())
}

func TestSeverityFallsBackToV30(t *testing.T) {
	score := 7.5
	item := CveItem{Metrics: Metrics{
		CvssMetricV30: []CvssV3{{CvssData: CvssDataV3{Version: "3.0", BaseScore: &score, BaseSeverity: "HIGH"}}},
	}}
	sev, ok := item.Severity()
	require.True(t, ok)
	assert.Equal(t, "3.0", sev.Version)
	assert.Nil(t, sev.AttackVector)

	_, ok = CveItem{}.Severity()
	assert.False(t, ok)
}

func TestGetCVENotFoundIsNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusBadRequest} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(code)
		}))

		_, err := NewClient(srv.URL, "k", 0, time.Second, fastRetry()).GetCVE(context.Background(), "CVE-0000-0000")
		assert.ErrorIs(t, err, ErrNotFound, "status %d", code)
		assert.Equal(t, int32(1), calls.Load(), "status %d", code)
		srv.Close()
	}
}

func TestGetCVEEmptyResultIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vulnerabilities": []}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", 0, time.Second, fastRetry()).GetCVE(context.Background(), "CVE-0000-0001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCVERetriesTransientStatuses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte(fullRecord))
		}
	}))
	defer srv.Close()

	item, err := NewClient(srv.URL, "k", 0, time.Second, fastRetry()).GetCVE(context.Background(), "CVE-2021-44228")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2021-44228", item.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetCVEGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", 0, time.Second, fastRetry()).GetCVE(context.Background(), "CVE-2021-44228")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, int32(5), calls.Load())
}

func TestGetCVEOtherStatusIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", 0, time.Second, fastRetry()).GetCVE(context.Background(), "CVE-2021-44228")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnauthenticatedClientIsPaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("apiKey"))
		w.Write([]byte(fullRecord))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 50*time.Millisecond, time.Second, fastRetry())
	require.True(t, c.Paced())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.GetCVE(context.Background(), "CVE-2021-44228")
		require.NoError(t, err)
	}
	// The first request passes on the burst token; the next two wait.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
