// Package dispatch turns a job's derived test-case list into
// rate-limited batches, submits them to the task queue, and falls back
// to inline execution when the queue is unavailable. It is the only
// component that decides when the next batch runs.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
)

// TaskPayload addresses one batch of a job's derived test-case list.
// StartIndex ranges over the deterministic case ordering, so the same
// payload always names the same cases.
type TaskPayload struct {
	JobID      string `json:"job_id"`
	TaskID     string `json:"task_id"`
	StartIndex int    `json:"start_index"`
	BatchSize  int    `json:"batch_size"`
}

// TaskQueue is the batch-submission port. Enqueue must deduplicate on
// TaskID so a resubmitted payload is accepted but not re-executed.
type TaskQueue interface {
	Enqueue(ctx context.Context, payload TaskPayload, delay time.Duration) error
}

const (
	// BatchWorkflowName is the workflow type registered by the worker.
	BatchWorkflowName = "ProcessEvaluationBatch"

	// dispatchDeadline bounds how long a submitted batch may sit
	// undelivered before the submission is considered lost.
	dispatchDeadline = 10 * time.Minute
)

// TemporalQueue submits batch payloads as workflow executions. The
// workflow id is the task id, which gives exactly the de-duplication
// the port requires: resubmitting an already-started task id is
// rejected by the server, not re-run.
type TemporalQueue struct {
	client    client.Client
	taskQueue string
}

// NewTemporalQueue wraps a connected Temporal client.
func NewTemporalQueue(c client.Client, taskQueue string) *TemporalQueue {
	return &TemporalQueue{client: c, taskQueue: taskQueue}
}

// Enqueue starts the batch workflow with the payload's task id.
func (q *TemporalQueue) Enqueue(ctx context.Context, payload TaskPayload, delay time.Duration) error {
	opts := client.StartWorkflowOptions{
		ID:                       payload.TaskID,
		TaskQueue:                q.taskQueue,
		WorkflowExecutionTimeout: dispatchDeadline,
		StartDelay:               delay,
	}
	if _, err := q.client.ExecuteWorkflow(ctx, opts, BatchWorkflowName, payload); err != nil {
		return fmt.Errorf("start batch workflow %s: %w", payload.TaskID, err)
	}
	return nil
}
