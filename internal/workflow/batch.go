// Package workflow defines the Temporal workflow that carries one batch
// of an evaluation job. The workflow is a thin deterministic shell: all
// real work, including scheduling the successor batch, happens inside
// the ProcessBatch activity.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/medscale/qgen-eval/internal/dispatch"
)

// TaskQueueName is the Temporal task queue batch workflows run on.
const TaskQueueName = "qgen-eval-batches"

// ProcessBatchActivityName is the registered name of the batch handler
// activity.
const ProcessBatchActivityName = "ProcessBatch"

// EvaluationBatchWorkflow executes one batch payload. Retries are
// bounded: a batch that fails twice is surfaced rather than retried
// forever, since the job-level error handling decides what a stuck
// batch means for the job.
func EvaluationBatchWorkflow(ctx workflow.Context, payload dispatch.TaskPayload) error {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "batch.v", workflow.DefaultVersion, currentVersion)

	if payload.JobID == "" || payload.TaskID == "" {
		return temporal.NewNonRetryableApplicationError(
			"batch payload missing job or task id",
			"Validation",
			nil,
		)
	}

	ao := workflow.ActivityOptions{
		// Generous enough for a full inline continuation when the
		// activity degrades to synchronous processing mid-job.
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	return workflow.ExecuteActivity(ctx, ProcessBatchActivityName, payload).Get(ctx, nil)
}
