// Package enrich pulls severity and weakness detail from NVD for every
// staged KEV identifier.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/nvd"
)

const (
	// DefaultBatchLimit caps how many identifiers one run requests.
	DefaultBatchLimit = 2000

	progressEvery = 100
)

// CVEClient fetches one NVD record.
type CVEClient interface {
	GetCVE(ctx context.Context, cveID string) (nvd.CveItem, error)
}

// Store is the slice of the repository enrichment needs.
type Store interface {
	StagingCVEIDs(ctx context.Context, limit int) ([]string, error)
	UpsertEnriched(ctx context.Context, records ...models.EnrichedVulnerability) (int, error)
}

// Result counts the outcome of one batch.
type Result struct {
	Requested int
	Enriched  int
	NotFound  int
	Failed    int
}

// Fetcher enriches a bounded batch of staged identifiers.
type Fetcher struct {
	Client     CVEClient
	Store      Store
	BatchLimit int
}

// NewFetcher returns a Fetcher; a non-positive limit means DefaultBatchLimit.
func NewFetcher(client CVEClient, store Store, limit int) *Fetcher {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Fetcher{Client: client, Store: store, BatchLimit: limit}
}

// Record maps an NVD item to the enriched row for cveID.
func Record(cveID string, item nvd.CveItem) models.EnrichedVulnerability {
	rec := models.EnrichedVulnerability{
		CVEID:         cveID,
		PublishedDate: item.PublishedAt(),
		LastModified:  item.LastModifiedAt(),
		CWEID:         item.WeaknessID(),
	}
	if sev, ok := item.Severity(); ok {
		rec.CVSSBaseScore = sev.BaseScore
		rec.CVSSSeverity = sev.BaseSeverity
		rec.AttackVector = sev.AttackVector
	}
	return rec
}

// Run requests each identifier in ascending order and stores every parsed
// record as soon as it arrives. Failures for one identifier are logged and
// the batch moves on. When ctx is done the loop stops before the next
// identifier; rows already stored stay.
func (f *Fetcher) Run(ctx context.Context) (Result, error) {
	ids, err := f.Store.StagingCVEIDs(ctx, f.BatchLimit)
	if err != nil {
		return Result{}, err
	}

	res := Result{}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			slog.Warn("Enrichment interrupted", "processed", i, "total", len(ids))
			return res, fmt.Errorf("enrichment stopped after %d of %d: %w", i, len(ids), err)
		}
		res.Requested++
		f.enrichOne(ctx, id, &res)

		if (i+1)%progressEvery == 0 {
			slog.Info("Enrichment progress", "processed", i+1, "total", len(ids))
		}
	}

	slog.Info("Enrichment finished",
		"requested", res.Requested, "enriched", res.Enriched,
		"not_found", res.NotFound, "failed", res.Failed)
	return res, nil
}

func (f *Fetcher) enrichOne(ctx context.Context, id string, res *Result) {
	item, err := f.Client.GetCVE(ctx, id)
	if err != nil {
		if errors.Is(err, nvd.ErrNotFound) {
			slog.Debug("CVE not in NVD", "cve_id", id)
			res.NotFound++
			return
		}
		slog.Warn("Failed to fetch CVE", "cve_id", id, "error", err)
		res.Failed++
		return
	}

	if _, err := f.Store.UpsertEnriched(ctx, Record(id, item)); err != nil {
		slog.Error("Failed to store enriched CVE", "cve_id", id, "error", err)
		res.Failed++
		return
	}
	res.Enriched++
}
