package pipeline

import (
	"context"
	"log/slog"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres"
	"github.com/SiriusScan/breachwatch/breachwatch/snapshot"
	"github.com/SiriusScan/breachwatch/breachwatch/store"
	"github.com/SiriusScan/breachwatch/breachwatch/telemetry"
)

// Options are the optional side channels of a run.
type Options struct {
	Snapshots *snapshot.Manager
	Notify    Notifier
}

// Execute opens the store, runs stage, closes the store, and pushes metrics.
// It is the body of every stage binary.
func Execute(ctx context.Context, cfg *config.Config, stage Stage, opts Options) error {
	err := postgres.WithStore(cfg.DB, func(s *postgres.Store) error {
		r := NewRunner(cfg, s)
		r.Snapshots = opts.Snapshots
		r.Notify = opts.Notify
		_, err := r.Run(ctx, stage)
		return err
	})
	if perr := telemetry.Push(cfg.PushgatewayURL, "breachwatch"); perr != nil {
		slog.Warn("Metrics push failed", "error", perr)
	}
	return err
}

// OpenSnapshots connects to valkey when an address is configured. The
// returned close func is never nil.
func OpenSnapshots(cfg *config.Config) (*snapshot.Manager, func()) {
	if cfg.ValkeyAddr == "" {
		return nil, func() {}
	}
	kv, err := store.NewValkeyStore(cfg.ValkeyAddr)
	if err != nil {
		slog.Warn("Run snapshots disabled", "error", err)
		return nil, func() {}
	}
	return snapshot.NewManager(kv), func() { kv.Close() }
}
