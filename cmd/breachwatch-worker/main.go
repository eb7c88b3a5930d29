package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/pipeline"
	"github.com/SiriusScan/breachwatch/breachwatch/queue"
	"github.com/SiriusScan/breachwatch/breachwatch/slogger"
)

// The worker runs one stage per message on PIPELINE_QUEUE and reports each
// outcome on EVENTS_QUEUE.
func main() {
	slogger.Init()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, closeSnapshots := pipeline.OpenSnapshots(cfg)
	defer closeSnapshots()

	opts := pipeline.Options{
		Snapshots: snapshots,
		Notify:    pipeline.QueueNotifier(cfg.AMQPURL, cfg.EventsQueue),
	}

	slog.Info("Pipeline worker started", "queue", cfg.PipelineQueue)
	l := &queue.Listener{URL: cfg.AMQPURL, Queue: cfg.PipelineQueue}
	l.Listen(ctx, func(ctx context.Context, body []byte) error {
		t, err := queue.DecodeTrigger(body)
		if err != nil {
			return err
		}
		stage, err := pipeline.ParseStage(t.Stage)
		if err != nil {
			return err
		}
		slog.Info("Trigger received", "stage", stage, "requested_by", t.RequestedBy)
		// A failed run is still reported on EVENTS_QUEUE, so the trigger is
		// acked either way.
		if err := pipeline.Execute(ctx, cfg, stage, opts); err != nil {
			slog.Error("Triggered run failed", "stage", stage, "error", err)
		}
		return nil
	})
}
