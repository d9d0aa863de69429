package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medscale/qgen-eval/internal/domain"
)

// Manager is the only component allowed to mutate evaluation jobs. It
// validates before persisting, routes every update through the store's
// increment/merge operations, and enforces terminal-state semantics.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager builds a job manager over the given store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// CreateJob validates the config and persists a new pending job.
// Validation failures surface as ValidationError before any store
// write; store failures surface as JobFatalError since no job record
// can be trusted to exist.
func (m *Manager) CreateJob(ctx context.Context, userID string, config domain.JobConfig) (*domain.EvaluationJob, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "userId", Message: "required"}
	}
	if err := config.Validate(); err != nil {
		return nil, &domain.ValidationError{Field: "config", Message: err.Error()}
	}

	job := domain.NewEvaluationJob(userID, config)
	if err := m.store.Create(ctx, job); err != nil {
		return nil, &domain.JobFatalError{JobID: job.ID, Cause: fmt.Errorf("create job: %w", err)}
	}

	m.logger.Info("evaluation job created",
		"job_id", job.ID,
		"total_tests", job.Progress.TotalTests,
		"pipelines", config.Pipelines)
	return job, nil
}

// GetJob returns the materialized job snapshot, or nil when it does
// not exist.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*domain.EvaluationJob, error) {
	job, err := m.store.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, nil
	}
	return job, err
}

// UpdateProgress applies an atomic progress increment, optionally with
// a cursor and a status transition. Returns the post-increment
// completed count so the dispatcher can decide whether more batches
// remain.
func (m *Manager) UpdateProgress(ctx context.Context, jobID string, delta int, cursor *ProgressCursor, status *domain.JobStatus) (completed, total int, err error) {
	if status != nil {
		// An illegal transition here means another worker already moved
		// the job forward (or failed it); the increment still applies.
		if err := m.store.SetStatus(ctx, jobID, *status); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
			return 0, 0, err
		}
	}
	return m.store.IncrementCompleted(ctx, jobID, delta, cursor)
}

// UpdateResults merges a batch's contribution into the stored rollups.
func (m *Manager) UpdateResults(ctx context.Context, jobID string, delta *domain.ResultsDelta) error {
	if delta.Empty() {
		return nil
	}
	return m.store.MergeResults(ctx, jobID, delta)
}

// AddError appends one partial-failure record to the job's error log.
func (m *Manager) AddError(ctx context.Context, jobID string, entry domain.ErrorEntry) error {
	return m.store.AppendError(ctx, jobID, entry)
}

// RecordTask registers a dispatched batch task id. The boolean reports
// whether the id was new; a resubmitted task id returns false so the
// caller can skip duplicate work.
func (m *Manager) RecordTask(ctx context.Context, jobID, taskID string) (bool, error) {
	return m.store.AddTaskID(ctx, jobID, taskID)
}

// CompleteJob finalizes a job with its overall metrics. Calling it on
// an already-completed job is a no-op, which makes batch-completion
// races harmless: whichever worker finishes last wins nothing.
func (m *Manager) CompleteJob(ctx context.Context, jobID string, overall *domain.OverallMetrics) error {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusCompleted {
		return nil
	}
	if job.Status == domain.JobStatusFailed {
		return fmt.Errorf("%w: cannot complete failed job %s", domain.ErrJobTerminal, jobID)
	}

	if overall != nil {
		if err := m.store.SetOverall(ctx, jobID, overall); err != nil {
			return err
		}
	}
	if err := m.store.SetStatus(ctx, jobID, domain.JobStatusCompleted); err != nil {
		// A concurrent completer got there first; idempotent no-op.
		if errors.Is(err, domain.ErrJobTerminal) {
			return nil
		}
		return err
	}

	m.logger.Info("evaluation job completed", "job_id", jobID)
	return nil
}

// FailJob terminates the job with a job-level fatal error. Partial
// results already recorded are left in place for diagnostics; nothing
// is rolled back. Failing an already-terminal job is a no-op.
func (m *Manager) FailJob(ctx context.Context, jobID, message string) error {
	if err := m.store.SetFailure(ctx, jobID, message); err != nil {
		return err
	}
	if err := m.store.SetStatus(ctx, jobID, domain.JobStatusFailed); err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			return nil
		}
		return err
	}

	m.logger.Error("evaluation job failed", "job_id", jobID, "error", message)
	return nil
}

// IsActive reports whether the job may still receive batch
// submissions. The dispatcher checks this before every enqueue so a
// failed job stops consuming queue capacity.
func (m *Manager) IsActive(ctx context.Context, jobID string) (bool, error) {
	job, err := m.store.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !job.Status.IsTerminal(), nil
}

// ListJobs returns up to limit jobs currently in the given status,
// newest first. Unknown statuses are rejected before hitting the store.
func (m *Manager) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.EvaluationJob, error) {
	switch status {
	case domain.JobStatusPending, domain.JobStatusQueued, domain.JobStatusRunning,
		domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown job status %q", status)}
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return m.store.ListByStatus(ctx, status, limit)
}
