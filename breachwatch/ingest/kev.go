package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SiriusScan/breachwatch/breachwatch/dates"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/kev"
)

// FeedFetcher downloads the KEV catalog.
type FeedFetcher interface {
	Fetch(ctx context.Context) (*kev.Root, error)
}

// VulnerabilityWriter persists raw feed entries.
type VulnerabilityWriter interface {
	UpsertRawVulnerabilities(ctx context.Context, vulns []models.RawVulnerability) (int, error)
}

// FromFeed maps catalog entries to raw rows. Entries without a cve_id or a
// parseable dateAdded have no natural key and are dropped; the count of
// dropped entries is returned.
func FromFeed(root *kev.Root) ([]models.RawVulnerability, int) {
	if root == nil {
		return nil, 0
	}
	out := make([]models.RawVulnerability, 0, len(root.Vulnerabilities))
	skipped := 0
	for _, v := range root.Vulnerabilities {
		if v == nil {
			continue
		}
		id := strings.TrimSpace(v.CVEID)
		added, ok := dates.Parse(v.DateAdded)
		if id == "" || !ok {
			slog.Warn("Skipping KEV entry without key", "cve_id", id, "date_added", v.DateAdded)
			skipped++
			continue
		}
		out = append(out, models.RawVulnerability{
			CVEID:                      id,
			DateAdded:                  added,
			VendorProject:              text(v.VendorProject),
			Product:                    text(v.Product),
			VulnerabilityName:          text(v.VulnerabilityName),
			ShortDescription:           text(v.ShortDescription),
			RequiredAction:             text(v.RequiredAction),
			DueDate:                    dates.ParsePtr(v.DueDate),
			KnownRansomwareCampaignUse: text(v.KnownRansomwareCampaignUse),
			Notes:                      text(v.Notes),
			SourceURL:                  sourceURL(id),
		})
	}
	return out, skipped
}

func text(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func sourceURL(cveID string) *string {
	u := "https://nvd.nist.gov/vuln/detail/" + cveID
	return &u
}

// KEV downloads the catalog and merges it into the raw store.
func KEV(ctx context.Context, f FeedFetcher, w VulnerabilityWriter) (Result, error) {
	root, err := f.Fetch(ctx)
	if err != nil {
		return Result{}, err
	}
	rows, skipped := FromFeed(root)
	n, err := w.UpsertRawVulnerabilities(ctx, rows)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store KEV entries: %w", err)
	}
	slog.Info("Ingested KEV catalog", "version", root.CatalogVersion, "rows", n, "skipped", skipped)
	return Result{Read: len(root.Vulnerabilities), Written: n, Skipped: skipped}, nil
}
