package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/pipeline"
	"github.com/SiriusScan/breachwatch/breachwatch/slogger"
)

func main() {
	slogger.Init()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, closeSnapshots := pipeline.OpenSnapshots(cfg)
	defer closeSnapshots()

	if err := pipeline.Execute(ctx, cfg, pipeline.StageIngestBreaches, pipeline.Options{Snapshots: snapshots}); err != nil {
		slog.Error("Incident ingestion failed", "error", err)
		stop()
		closeSnapshots()
		os.Exit(1)
	}
}
