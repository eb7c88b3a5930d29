package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/pipeline"
	"github.com/SiriusScan/breachwatch/breachwatch/slogger"
)

func main() {
	stageName := flag.String("stage", string(pipeline.StageAll), "stage to run: ingest-breaches, ingest-kev, staging, enrich, marts or all")
	flag.Parse()

	slogger.Init()
	stage, err := pipeline.ParseStage(*stageName)
	if err != nil {
		slog.Error("Invalid stage", "error", err)
		os.Exit(2)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, closeSnapshots := pipeline.OpenSnapshots(cfg)
	defer closeSnapshots()

	if err := pipeline.Execute(ctx, cfg, stage, pipeline.Options{Snapshots: snapshots}); err != nil {
		slog.Error("Pipeline run failed", "stage", stage, "error", err)
		stop()
		closeSnapshots()
		os.Exit(1)
	}
}
