// Command worker runs the Temporal worker that processes evaluation
// batches.
package main

import (
	"log/slog"
	"os"

	sdkworker "go.temporal.io/sdk/worker"

	"github.com/medscale/qgen-eval/internal/worker"
	"github.com/medscale/qgen-eval/internal/workflow"
	"github.com/medscale/qgen-eval/pkg/events"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := worker.ConfigFromEnv()
	cfg.Logger = logger
	if cfg.TemporalHostPort == "" {
		logger.Error("TEMPORAL_HOST_PORT is required for the batch worker")
		os.Exit(1)
	}

	stack, err := worker.BuildStack(cfg)
	if err != nil {
		logger.Error("stack initialization failed", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	w := sdkworker.New(stack.Temporal, workflow.TaskQueueName, sdkworker.Options{})
	worker.RegisterAll(w, stack.Dispatcher, events.NewLogSink(logger))

	logger.Info("batch worker starting", "task_queue", workflow.TaskQueueName)
	if err := w.Run(sdkworker.InterruptCh()); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
