package nvd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the NVD CVE API 2.0 endpoint.
const DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// ErrNotFound is returned when NVD does not know the identifier, or rejects
// it as malformed. Neither case is retried.
var ErrNotFound = errors.New("cve not found in NVD")

// =============== Types ===============

// Top-level response
type NVDResponse struct {
	ResultsPerPage  int          `json:"resultsPerPage"`
	StartIndex      int          `json:"startIndex"`
	TotalResults    int          `json:"totalResults"`
	Timestamp       string       `json:"timestamp"`
	Vulnerabilities []DefCVEItem `json:"vulnerabilities"`
}

// An item in the "vulnerabilities" array
type DefCVEItem struct {
	CVE CveItem `json:"cve"`
}

// CVE object per NVD schema, trimmed to what enrichment reads.
type CveItem struct {
	ID           string       `json:"id"`
	VulnStatus   string       `json:"vulnStatus"`
	Published    string       `json:"published"`
	LastModified string       `json:"lastModified"`
	Descriptions []LangString `json:"descriptions"`
	Metrics      Metrics      `json:"metrics,omitempty"`
	Weaknesses   []Weakness   `json:"weaknesses,omitempty"`
}

// "descriptions" array items
type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// Container for multiple CVSS versions
type Metrics struct {
	CvssMetricV31 []CvssV3 `json:"cvssMetricV31,omitempty"`
	CvssMetricV30 []CvssV3 `json:"cvssMetricV30,omitempty"`
	CvssMetricV2  []CvssV2 `json:"cvssMetricV2,omitempty"`
}

// CVSS v3.x; 3.0 and 3.1 share a shape.
type CvssV3 struct {
	Source   string     `json:"source"`
	Type     string     `json:"type"`
	CvssData CvssDataV3 `json:"cvssData"`
}

// CVSS v2.0. Severity lives on the metric, not in cvssData.
type CvssV2 struct {
	Source       string     `json:"source"`
	Type         string     `json:"type"`
	CvssData     CvssDataV2 `json:"cvssData"`
	BaseSeverity *string    `json:"baseSeverity,omitempty"`
}

type CvssDataV3 struct {
	Version      string   `json:"version"`
	VectorString string   `json:"vectorString"`
	BaseScore    *float64 `json:"baseScore"`
	BaseSeverity string   `json:"baseSeverity"`
	AttackVector string   `json:"attackVector"`
}

type CvssDataV2 struct {
	Version      string   `json:"version"`
	VectorString string   `json:"vectorString"`
	BaseScore    *float64 `json:"baseScore"`
	AccessVector string   `json:"accessVector"`
}

// "weaknesses" array items
type Weakness struct {
	Source      string       `json:"source"`
	Type        string       `json:"type"`
	Description []LangString `json:"description"`
}

// Severity is the CVSS detail picked from the newest version present.
type Severity struct {
	Version      string
	BaseScore    *float64
	BaseSeverity *string
	AttackVector *string
}

// Severity prefers v3.1, then v3.0, then v2, using the first metric of the
// chosen version. ok is false when no version is present.
func (c CveItem) Severity() (Severity, bool) {
	for _, m := range [][]CvssV3{c.Metrics.CvssMetricV31, c.Metrics.CvssMetricV30} {
		if len(m) == 0 {
			continue
		}
		d := m[0].CvssData
		return Severity{
			Version:      d.Version,
			BaseScore:    d.BaseScore,
			BaseSeverity: nonEmpty(d.BaseSeverity),
			AttackVector: nonEmpty(d.AttackVector),
		}, true
	}
	if len(c.Metrics.CvssMetricV2) > 0 {
		m := c.Metrics.CvssMetricV2[0]
		return Severity{
			Version:      m.CvssData.Version,
			BaseScore:    m.CvssData.BaseScore,
			BaseSeverity: m.BaseSeverity,
			AttackVector: nonEmpty(m.CvssData.AccessVector),
		}, true
	}
	return Severity{}, false
}

// WeaknessID returns the first description of the first weakness, if any.
func (c CveItem) WeaknessID() *string {
	if len(c.Weaknesses) == 0 || len(c.Weaknesses[0].Description) == 0 {
		return nil
	}
	return nonEmpty(c.Weaknesses[0].Description[0].Value)
}

// PublishedAt parses the published timestamp; nil when absent or malformed.
func (c CveItem) PublishedAt() *time.Time {
	return parseTimestamp(c.Published)
}

// LastModifiedAt parses the last-modified timestamp; nil when absent or malformed.
func (c CveItem) LastModifiedAt() *time.Time {
	return parseTimestamp(c.LastModified)
}

// NVD omits the zone; timestamps are UTC.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Client fetches single CVE records from the NVD API.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	// APIKey is sent in the apiKey header. Without one, requests are paced.
	APIKey string
	Retry  RetryPolicy

	limiter *rate.Limiter
}

// NewClient builds a client. A positive pacing is applied between requests
// only when apiKey is empty.
func NewClient(baseURL, apiKey string, pacing, timeout time.Duration, retry RetryPolicy) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Retry:      retry,
	}
	if apiKey == "" && pacing > 0 {
		c.limiter = rate.NewLimiter(rate.Every(pacing), 1)
	}
	return c
}

// Paced reports whether requests wait on the unauthenticated rate limit.
func (c *Client) Paced() bool {
	return c.limiter != nil
}

// GetCVE fetches one identifier, retrying transient failures per c.Retry.
// 404 and 400 map to ErrNotFound; other non-200 statuses surface as
// *StatusError. A 200 with no vulnerabilities is also ErrNotFound.
func (c *Client) GetCVE(ctx context.Context, cveID string) (CveItem, error) {
	var item CveItem
	err := c.Retry.Do(ctx, func() error {
		var err error
		item, err = c.fetch(ctx, cveID)
		return err
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusBadRequest) {
			return CveItem{}, fmt.Errorf("%s: %w", cveID, ErrNotFound)
		}
		return CveItem{}, err
	}
	return item, nil
}

func (c *Client) fetch(ctx context.Context, cveID string) (CveItem, error) {
	var baseCve CveItem
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return baseCve, err
		}
	}

	u := c.BaseURL + "?cveId=" + url.QueryEscape(cveID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return baseCve, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("apiKey", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return baseCve, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return baseCve, &StatusError{URL: u, Code: resp.StatusCode}
	}

	var nvdResp NVDResponse
	if err := json.NewDecoder(resp.Body).Decode(&nvdResp); err != nil {
		return baseCve, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if len(nvdResp.Vulnerabilities) == 0 {
		return baseCve, fmt.Errorf("%s: %w", cveID, ErrNotFound)
	}
	return nvdResp.Vulnerabilities[0].CVE, nil
}
