// Package worker wires the batch-processing stack and registers it with
// a Temporal worker.
package worker

import (
	sdkactivity "go.temporal.io/sdk/activity"
	sdkworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/medscale/qgen-eval/internal/dispatch"
	internalworkflow "github.com/medscale/qgen-eval/internal/workflow"
	"github.com/medscale/qgen-eval/pkg/activity"
	"github.com/medscale/qgen-eval/pkg/events"
)

// RegisterAll registers the batch workflow and its activity with the
// worker. Call once during startup, before the worker starts.
func RegisterAll(w sdkworker.Worker, dispatcher *dispatch.Dispatcher, sink events.EventSink) {
	if sink == nil {
		sink = events.NoOpSink{}
	}
	batch := NewBatchActivities(activity.NewBase(sink), dispatcher)

	w.RegisterWorkflowWithOptions(internalworkflow.EvaluationBatchWorkflow, workflow.RegisterOptions{
		Name: dispatch.BatchWorkflowName,
	})
	w.RegisterActivityWithOptions(batch.ProcessBatch, sdkactivity.RegisterOptions{
		Name: internalworkflow.ProcessBatchActivityName,
	})
}
