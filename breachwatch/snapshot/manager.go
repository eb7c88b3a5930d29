// Package snapshot records a summary of every pipeline run in the key/value
// store so the dashboard can show recent history.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/store"
	"github.com/google/uuid"
)

const (
	keyPrefix = "pipeline:run:"

	// Keep is how many runs are retained.
	Keep = 10

	// DefaultTTL expires snapshots of runs nobody repeated.
	DefaultTTL = 90 * 24 * time.Hour
)

// RunSnapshot summarizes one stage or full-pipeline run.
type RunSnapshot struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Stage      string         `json:"stage"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Rows       map[string]int `json:"rows"`
	Skipped    int            `json:"skipped"`
	Error      string         `json:"error,omitempty"`
}

// Succeeded reports whether the run finished without error.
func (s RunSnapshot) Succeeded() bool {
	return s.Error == ""
}

// Duration is the wall time of the run.
func (s RunSnapshot) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// NewID returns a snapshot ID that sorts by start time.
func NewID(started time.Time) string {
	return started.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]
}

// Manager handles snapshot CRUD operations and retention.
type Manager struct {
	kvStore store.KVStore
	// TTL is applied to every recorded snapshot; zero keeps them until
	// Cleanup evicts them.
	TTL time.Duration
}

func NewManager(kvStore store.KVStore) *Manager {
	return &Manager{kvStore: kvStore, TTL: DefaultTTL}
}

// Record stores snap, assigning an ID when it has none, then trims history
// to the newest Keep entries.
func (m *Manager) Record(ctx context.Context, snap *RunSnapshot) error {
	if snap.ID == "" {
		snap.ID = NewID(snap.StartedAt)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal run snapshot: %w", err)
	}
	if err := m.kvStore.Set(ctx, keyPrefix+snap.ID, string(data), m.TTL); err != nil {
		return fmt.Errorf("failed to save run snapshot: %w", err)
	}

	// Log but don't fail on cleanup error
	if err := m.Cleanup(ctx); err != nil {
		slog.Warn("Failed to cleanup old run snapshots", "error", err)
	}
	return nil
}

// Get retrieves a snapshot by ID.
func (m *Manager) Get(ctx context.Context, id string) (*RunSnapshot, error) {
	v, err := m.kvStore.Get(ctx, keyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("snapshot not found for ID %s: %w", id, err)
	}
	var snap RunSnapshot
	if err := json.Unmarshal([]byte(v), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// List returns every stored snapshot ID, newest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	keys, err := m.kvStore.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id := strings.TrimPrefix(k, keyPrefix); id != k && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Recent loads up to limit snapshots, newest first. Entries that fail to load
// are skipped.
func (m *Manager) Recent(ctx context.Context, limit int) ([]*RunSnapshot, error) {
	if limit <= 0 || limit > Keep {
		limit = Keep
	}
	ids, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*RunSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Latest returns the most recent snapshot.
func (m *Manager) Latest(ctx context.Context) (*RunSnapshot, error) {
	ids, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no run snapshots available")
	}
	return m.Get(ctx, ids[0])
}

// Cleanup deletes everything but the newest Keep snapshots.
func (m *Manager) Cleanup(ctx context.Context) error {
	ids, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= Keep {
		return nil
	}
	stale := make([]string, 0, len(ids)-Keep)
	for _, id := range ids[Keep:] {
		stale = append(stale, keyPrefix+id)
	}
	n, err := m.kvStore.Delete(ctx, stale...)
	if err != nil {
		return fmt.Errorf("failed to delete old run snapshots: %w", err)
	}
	slog.Debug("Deleted old run snapshots", "count", n)
	return nil
}
