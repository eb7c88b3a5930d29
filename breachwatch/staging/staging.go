// Package staging turns raw incidents and feed entries into the cleaned,
// deduplicated tables the marts read.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
)

const (
	// MegaBreachThreshold is the records_affected count at which an incident
	// counts as a mega breach.
	MegaBreachThreshold = 1_000_000

	// Unknown fills missing industry and breach_type values.
	Unknown = "unknown"
)

// Store is the slice of the repository the normalizer needs.
type Store interface {
	RawIncidents(ctx context.Context) ([]models.RawIncident, error)
	RawVulnerabilities(ctx context.Context) ([]models.RawVulnerability, error)
	ReplaceStaging(ctx context.Context, incidents []models.StagingIncident, vulns []models.StagingVulnerability) error
}

// Result counts the rows written to each staging table.
type Result struct {
	Incidents       int
	Vulnerabilities int
	// Undated incidents cannot be bucketed by month and are left out.
	Undated int
}

// Normalize applies defaults and derived flags to incidents and keeps the
// newest entry per cve_id. Both outputs are sorted by key; undated counts the
// incidents left out for lack of an event_date.
func Normalize(raw []models.RawIncident, rawVulns []models.RawVulnerability) (incidents []models.StagingIncident, vulns []models.StagingVulnerability, undated int) {
	incidents, undated = NormalizeIncidents(raw)
	return incidents, NormalizeVulnerabilities(rawVulns), undated
}

// NormalizeIncidents stages every dated incident and reports how many had no
// event_date.
func NormalizeIncidents(raw []models.RawIncident) ([]models.StagingIncident, int) {
	out := make([]models.StagingIncident, 0, len(raw))
	undated := 0
	for _, r := range raw {
		if r.EventDate == nil {
			undated++
			continue
		}
		breachType := orUnknown(r.BreachType)
		var records int64
		if r.RecordsAffected != nil {
			records = *r.RecordsAffected
		}
		out = append(out, models.StagingIncident{
			EventID:         r.EventID,
			EventDate:       *r.EventDate,
			Industry:        orUnknown(r.Industry),
			BreachType:      breachType,
			RecordsAffected: r.RecordsAffected,
			Location:        r.Location,
			RansomwareFlag:  strings.Contains(strings.ToLower(breachType), "ransom"),
			MegaBreach:      records >= MegaBreachThreshold,
			SourceURL:       r.SourceURL,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, undated
}

// NormalizeVulnerabilities keeps exactly one entry per cve_id, the one with
// the latest date_added.
func NormalizeVulnerabilities(raw []models.RawVulnerability) []models.StagingVulnerability {
	latest := make(map[string]models.RawVulnerability, len(raw))
	for _, r := range raw {
		cur, ok := latest[r.CVEID]
		if !ok || r.DateAdded.After(cur.DateAdded) {
			latest[r.CVEID] = r
		}
	}

	out := make([]models.StagingVulnerability, 0, len(latest))
	for _, r := range latest {
		out = append(out, models.StagingVulnerability{
			CVEID:                      r.CVEID,
			VendorProject:              r.VendorProject,
			Product:                    r.Product,
			VulnerabilityName:          r.VulnerabilityName,
			DateAdded:                  r.DateAdded,
			DueDate:                    r.DueDate,
			KnownRansomwareCampaignUse: RansomwareUse(r.KnownRansomwareCampaignUse),
			Notes:                      r.Notes,
			SourceURL:                  r.SourceURL,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CVEID < out[j].CVEID })
	return out
}

// RansomwareUse coerces the feed's free-text flag: "yes", "true" and "1" in
// any case are true, everything else is false.
func RansomwareUse(v *string) bool {
	if v == nil {
		return false
	}
	switch strings.ToLower(*v) {
	case "yes", "true", "1":
		return true
	}
	return false
}

func orUnknown(v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return Unknown
	}
	return *v
}

// Run rebuilds both staging tables from the raw store.
func Run(ctx context.Context, s Store) (Result, error) {
	raw, err := s.RawIncidents(ctx)
	if err != nil {
		return Result{}, err
	}
	rawVulns, err := s.RawVulnerabilities(ctx)
	if err != nil {
		return Result{}, err
	}

	incidents, vulns, undated := Normalize(raw, rawVulns)
	if err := s.ReplaceStaging(ctx, incidents, vulns); err != nil {
		return Result{}, fmt.Errorf("failed to replace staging tables: %w", err)
	}

	if undated > 0 {
		slog.Warn("Left undated incidents out of staging", "count", undated)
	}
	slog.Info("Staging tables rebuilt", "incidents", len(incidents), "vulnerabilities", len(vulns))
	return Result{Incidents: len(incidents), Vulnerabilities: len(vulns), Undated: undated}, nil
}
