// Package kev fetches the CISA Known Exploited Vulnerabilities catalog.
package kev

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SiriusScan/breachwatch/nvd"
)

// DefaultFeedURL is the public JSON feed.
const DefaultFeedURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

// Root represents the root structure of the feed body.
type Root struct {
	Title           string           `json:"title,omitempty"`
	CatalogVersion  string           `json:"catalogVersion"`
	DateReleased    string           `json:"dateReleased"`
	Count           int              `json:"count"`
	Vulnerabilities []*Vulnerability `json:"vulnerabilities"`
}

// Vulnerability represents a vulnerability based on the CISA KEV schema:
// https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities_schema.json.
type Vulnerability struct {
	CVEID                      string   `json:"cveID"`
	VendorProject              string   `json:"vendorProject"`
	Product                    string   `json:"product"`
	VulnerabilityName          string   `json:"vulnerabilityName"`
	DateAdded                  string   `json:"dateAdded"`
	ShortDescription           string   `json:"shortDescription"`
	RequiredAction             string   `json:"requiredAction"`
	DueDate                    string   `json:"dueDate"`
	KnownRansomwareCampaignUse string   `json:"knownRansomwareCampaignUse,omitempty"`
	Notes                      string   `json:"notes,omitempty"`
	CWEs                       []string `json:"cwes,omitempty"`
}

// Client downloads the catalog, retrying transient failures.
type Client struct {
	HTTPClient *http.Client
	URL        string
	Retry      nvd.RetryPolicy
}

// NewClient returns a Client for feedURL, or DefaultFeedURL when empty.
func NewClient(feedURL string, timeout time.Duration, retry nvd.RetryPolicy) *Client {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		URL:        feedURL,
		Retry:      retry,
	}
}

// Fetch downloads and decodes the whole catalog.
func (c *Client) Fetch(ctx context.Context) (*Root, error) {
	var root *Root
	err := c.Retry.Do(ctx, func() error {
		var err error
		root, err = c.fetch(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch KEV feed: %w", err)
	}
	return root, nil
}

func (c *Client) fetch(ctx context.Context) (*Root, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &nvd.StatusError{URL: c.URL, Code: resp.StatusCode}
	}

	var root Root
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return &root, nil
}
