// Package jobs owns the evaluation-job lifecycle: creation with
// validation, atomic progress and result updates, idempotent
// completion, and terminal failure. All cross-batch state flows through
// the Store port; batch workers never hold job state in memory across
// invocations.
package jobs

import (
	"context"

	"github.com/medscale/qgen-eval/internal/domain"
)

// ProgressCursor is the optional "currently working on" marker batches
// publish alongside progress increments. Purely informational.
type ProgressCursor struct {
	Pipeline   string
	Topic      string
	Difficulty domain.Difficulty
}

// Store is the persistent job-document port. Implementations must
// provide merge/increment semantics for every mutation: two concurrent
// partial updates are both reflected, never lost to a blind overwrite
// of the full document.
type Store interface {
	// Create persists a new job record. The job id must not exist.
	Create(ctx context.Context, job *domain.EvaluationJob) error

	// Get returns the materialized job, or domain.ErrJobNotFound.
	Get(ctx context.Context, id string) (*domain.EvaluationJob, error)

	// SetStatus transitions the job atomically, enforcing the lifecycle
	// rules: the write is rejected (domain.ErrJobTerminal) when the
	// current status does not permit the transition.
	SetStatus(ctx context.Context, id string, status domain.JobStatus) error

	// IncrementCompleted adds delta to the completed-test counter,
	// clamped so it never exceeds the total, and optionally publishes
	// the progress cursor. Returns the post-increment completed count
	// and the total.
	IncrementCompleted(ctx context.Context, id string, delta int, cursor *ProgressCursor) (completed, total int, err error)

	// MergeResults folds a batch's delta into stored rollups using
	// increment-only operations.
	MergeResults(ctx context.Context, id string, delta *domain.ResultsDelta) error

	// AppendError appends one entry to the job's append-only error log.
	AppendError(ctx context.Context, id string, entry domain.ErrorEntry) error

	// AddTaskID records a dispatched batch task id. Returns false when
	// the id was already recorded, which is how resubmissions stay
	// idempotent.
	AddTaskID(ctx context.Context, id, taskID string) (bool, error)

	// SetOverall stores the finalized aggregate metrics.
	SetOverall(ctx context.Context, id string, overall *domain.OverallMetrics) error

	// SetFailure records the job-level fatal error message.
	SetFailure(ctx context.Context, id, message string) error

	// ListByStatus returns up to limit jobs in the given status, newest
	// first. A diagnostics surface, not a work queue.
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.EvaluationJob, error)
}
