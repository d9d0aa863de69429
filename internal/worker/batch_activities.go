package worker

import (
	"context"

	"github.com/medscale/qgen-eval/internal/dispatch"
	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/pkg/activity"
	"github.com/medscale/qgen-eval/pkg/events"
)

// BatchActivities exposes the dispatcher's batch handler as a Temporal
// activity, wrapping it with heartbeats and event emission.
type BatchActivities struct {
	activity.Base
	dispatcher *dispatch.Dispatcher
}

// NewBatchActivities binds the dispatcher to activity infrastructure.
func NewBatchActivities(base activity.Base, dispatcher *dispatch.Dispatcher) *BatchActivities {
	return &BatchActivities{Base: base, dispatcher: dispatcher}
}

// ProcessBatch handles one queued batch payload. Per-test failures are
// folded into job state by the dispatcher and never surface here; an
// error return means the batch itself could not run, which Temporal
// retries under the workflow's bounded policy.
func (a *BatchActivities) ProcessBatch(ctx context.Context, payload dispatch.TaskPayload) error {
	activity.SafeLog(ctx, "processing evaluation batch",
		"job_id", payload.JobID,
		"task_id", payload.TaskID,
		"start_index", payload.StartIndex)
	activity.RecordHeartbeat(ctx, payload.TaskID)

	err := a.dispatcher.ProcessBatch(ctx, payload)
	if err != nil {
		activity.SafeLogError(ctx, "batch processing failed",
			"job_id", payload.JobID,
			"task_id", payload.TaskID,
			"code", domain.ClassifyError(err),
			"error", err)
		return err
	}

	a.EmitEventSafe(ctx, events.NewEnvelope(
		events.TypeBatchFolded, "batch-activity", payload.JobID, payload.TaskID, payload))
	return nil
}
