// Package ingest loads incident exports and the KEV feed into the raw store.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/SiriusScan/breachwatch/breachwatch/dates"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
)

// ErrSourceMissing is returned when an input file does not exist.
var ErrSourceMissing = errors.New("source file not found")

// RequiredColumns must be present in every incident export header.
var RequiredColumns = []string{"event_id", "event_date", "records_affected"}

// MissingColumnsError names every required column absent from a header.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Columns, ", ")
}

// Result counts what one ingestion call did.
type Result struct {
	Read    int
	Written int
	Skipped int
}

// IncidentWriter persists raw incidents.
type IncidentWriter interface {
	UpsertRawIncidents(ctx context.Context, incidents []models.RawIncident) (int, error)
}

// ReadIncidents parses an incident export. Column names are matched
// case-insensitively; unknown columns are ignored. Rows with a blank event_id
// cannot be keyed and are skipped.
func ReadIncidents(r io.Reader) ([]models.RawIncident, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, 0, &MissingColumnsError{Columns: RequiredColumns}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, 0, &MissingColumnsError{Columns: missing}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	optional := func(rec []string, col string) *string {
		if v := field(rec, col); v != "" {
			return &v
		}
		return nil
	}

	var (
		out     []models.RawIncident
		skipped int
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("line %d: %w", line, err)
		}

		id := field(rec, "event_id")
		if id == "" {
			slog.Warn("Skipping incident without event_id", "line", line)
			skipped++
			continue
		}
		records := parseCount(field(rec, "records_affected"))
		out = append(out, models.RawIncident{
			EventID:         id,
			EventDate:       dates.ParsePtr(field(rec, "event_date")),
			Organization:    optional(rec, "organization"),
			Industry:        optional(rec, "industry"),
			BreachType:      optional(rec, "breach_type"),
			RecordsAffected: &records,
			Location:        optional(rec, "location"),
			Description:     optional(rec, "description"),
			SourceURL:       optional(rec, "source_url"),
		})
	}
	return out, skipped, nil
}

// parseCount accepts integers and numeric spellings such as "2.5e6";
// anything else counts as 0.
func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}

// LoadIncidentsFile reads the export at path.
func LoadIncidentsFile(path string) ([]models.RawIncident, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", path, ErrSourceMissing)
		}
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	incidents, skipped, err := ReadIncidents(f)
	if err != nil {
		return nil, skipped, fmt.Errorf("%s: %w", path, err)
	}
	return incidents, skipped, nil
}

// Breaches loads the export at path and merges it into the raw store.
func Breaches(ctx context.Context, w IncidentWriter, path string) (Result, error) {
	incidents, skipped, err := LoadIncidentsFile(path)
	if err != nil {
		return Result{}, err
	}
	n, err := w.UpsertRawIncidents(ctx, incidents)
	if err != nil {
		return Result{}, err
	}
	slog.Info("Ingested incidents", "path", path, "rows", n, "skipped", skipped)
	return Result{Read: len(incidents) + skipped, Written: n, Skipped: skipped}, nil
}
