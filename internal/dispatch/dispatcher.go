package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/medscale/qgen-eval/internal/aggregation"
	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/generation"
	"github.com/medscale/qgen-eval/internal/jobs"
	"github.com/medscale/qgen-eval/internal/scoring"
	"github.com/medscale/qgen-eval/internal/structcheck"
)

const (
	// DefaultBatchSize keeps each batch small enough to stay under
	// provider rate limits. Throughput is deliberately traded for
	// predictable pacing.
	DefaultBatchSize = 2

	// InterBatchDelay is the fixed pause enforced between consecutive
	// batches of one job.
	InterBatchDelay = time.Second

	// batchWorkers bounds in-batch concurrency. Matching the batch
	// size means every case in a batch runs at once while the batch
	// itself stays the throttling unit.
	batchWorkers = DefaultBatchSize
)

// Dispatcher drives a job's batches: queue submission with synchronous
// fallback, bounded in-batch concurrency, inter-batch pacing, and
// finalization once every case is folded.
type Dispatcher struct {
	jobs      *jobs.Manager
	executor  *generation.Executor
	queue     TaskQueue // nil forces the synchronous path
	pool      *ants.PoolWithFunc
	limiter   *rate.Limiter
	batchSize int
	logger    *slog.Logger
}

// batchTask is one test-case execution scheduled on the worker pool.
type batchTask struct {
	ctx  context.Context
	d    *Dispatcher
	tc   domain.TestCase
	slot *aggregation.TestOutcome
	wg   *sync.WaitGroup
}

// NewDispatcher builds a dispatcher. queue may be nil, in which case
// every batch runs on the synchronous path.
func NewDispatcher(manager *jobs.Manager, executor *generation.Executor, queue TaskQueue, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		jobs:      manager,
		executor:  executor,
		queue:     queue,
		limiter:   rate.NewLimiter(rate.Every(InterBatchDelay), 1),
		batchSize: DefaultBatchSize,
		logger:    logger,
	}

	pool, err := ants.NewPoolWithFunc(batchWorkers, func(i interface{}) {
		task := i.(*batchTask)
		task.run()
	})
	if err != nil {
		return nil, fmt.Errorf("create batch worker pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

// Close releases the worker pool.
func (d *Dispatcher) Close() { d.pool.Release() }

// WithBatchSize overrides the batch size, for tests.
func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	d.batchSize = n
	return d
}

// WithInterBatchDelay overrides the pacing interval, for tests.
func (d *Dispatcher) WithInterBatchDelay(delay time.Duration) *Dispatcher {
	d.limiter = rate.NewLimiter(rate.Every(delay), 1)
	return d
}

// firstPayload addresses batch zero of a job.
func firstPayload(jobID string, batchSize int) TaskPayload {
	return TaskPayload{
		JobID:      jobID,
		TaskID:     fmt.Sprintf("%s-batch-0", jobID),
		StartIndex: 0,
		BatchSize:  batchSize,
	}
}

// foldMarker is the task-set member recorded once a batch's outcomes
// have been merged and counted. Its presence is what lets a redelivered
// batch skip the fold.
func foldMarker(taskID string) string {
	return taskID + ":folded"
}

// nextPayload addresses the batch after p.
func nextPayload(p TaskPayload) TaskPayload {
	start := p.StartIndex + p.BatchSize
	return TaskPayload{
		JobID:      p.JobID,
		TaskID:     fmt.Sprintf("%s-batch-%d", p.JobID, start),
		StartIndex: start,
		BatchSize:  p.BatchSize,
	}
}

// DispatchFirstBatch submits batch zero to the task queue. When the
// queue rejects the submission, the first batch runs synchronously
// before this call returns and the remaining batches continue on a
// background goroutine, so the caller still observes forward progress.
// Queue unavailability is a logged condition, never a job failure.
func (d *Dispatcher) DispatchFirstBatch(ctx context.Context, jobID string) error {
	payload := firstPayload(jobID, d.batchSize)
	added, err := d.jobs.RecordTask(ctx, jobID, payload.TaskID)
	if err != nil {
		return err
	}
	if !added {
		// A second start-job call for the same job. The queue dedupes
		// by task id and the fold marker dedupes the merge, so
		// resubmission is harmless, but worth a trace.
		d.logger.Info("first batch already recorded, resubmitting",
			"job_id", jobID, "task_id", payload.TaskID)
	}

	if d.queue != nil {
		err := d.queue.Enqueue(ctx, payload, 0)
		if err == nil {
			queued := domain.JobStatusQueued
			_, _, uerr := d.jobs.UpdateProgress(ctx, jobID, 0, nil, &queued)
			return uerr
		}
		derr := &domain.QueueDispatchError{TaskID: payload.TaskID, Cause: err}
		d.logger.Warn("queue dispatch failed, running first batch inline",
			"job_id", jobID, "task_id", payload.TaskID, "error", derr)
	}

	done, next, err := d.runBatch(ctx, payload)
	if err != nil {
		return err
	}
	if !done {
		go d.runInline(context.WithoutCancel(ctx), next)
	}
	return nil
}

// ProcessBatch is the queue handler: it executes one batch, folds its
// outcomes, and schedules the successor. When the successor's queue
// submission fails the loop continues inline, so a queue outage mid-job
// degrades to synchronous processing instead of stranding the job.
func (d *Dispatcher) ProcessBatch(ctx context.Context, payload TaskPayload) error {
	for {
		done, next, err := d.runBatch(ctx, payload)
		if err != nil || done {
			return err
		}

		// Batch N's outcomes are folded before N+1 is submitted, which
		// is what keeps the progress counter from overshooting.
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		added, err := d.jobs.RecordTask(ctx, payload.JobID, next.TaskID)
		if err != nil {
			return err
		}
		if !added {
			d.logger.Info("successor task already recorded, resubmitting",
				"job_id", payload.JobID, "task_id", next.TaskID)
		}
		if d.queue != nil {
			err := d.queue.Enqueue(ctx, next, 0)
			if err == nil {
				return nil
			}
			derr := &domain.QueueDispatchError{TaskID: next.TaskID, Cause: err}
			d.logger.Warn("queue dispatch failed, continuing batch inline",
				"job_id", payload.JobID, "task_id", next.TaskID, "error", derr)
		}
		payload = next
	}
}

// runInline processes batches synchronously until the job finishes or
// errors. Used by the queue-fallback path only.
func (d *Dispatcher) runInline(ctx context.Context, payload TaskPayload) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	added, err := d.jobs.RecordTask(ctx, payload.JobID, payload.TaskID)
	if err != nil {
		d.logger.Error("inline continuation halted", "job_id", payload.JobID, "error", err)
		return
	}
	if !added {
		d.logger.Info("inline task already recorded, continuing",
			"job_id", payload.JobID, "task_id", payload.TaskID)
	}
	if err := d.ProcessBatch(ctx, payload); err != nil {
		d.logger.Error("inline continuation failed", "job_id", payload.JobID, "error", err)
		if domain.IsJobFatal(err) {
			_ = d.jobs.FailJob(ctx, payload.JobID, err.Error())
		}
	}
}

// runBatch executes payload's cases, folds the outcomes into the job,
// and reports whether the job is now complete along with the successor
// payload when it is not. A terminated job short-circuits as done.
func (d *Dispatcher) runBatch(ctx context.Context, payload TaskPayload) (done bool, next TaskPayload, err error) {
	active, err := d.jobs.IsActive(ctx, payload.JobID)
	if err != nil {
		return false, next, err
	}
	if !active {
		d.logger.Info("skipping batch for inactive job",
			"job_id", payload.JobID, "task_id", payload.TaskID)
		return true, next, nil
	}

	job, err := d.jobs.GetJob(ctx, payload.JobID)
	if err != nil {
		return false, next, err
	}
	if job == nil {
		return false, next, domain.ErrJobNotFound
	}

	// At-least-once delivery means a batch can be redelivered after its
	// outcomes were already merged. The fold marker makes the merge
	// effectively once: a marked batch skips straight to scheduling.
	marker := foldMarker(payload.TaskID)
	if slices.Contains(job.TaskIDs, marker) {
		d.logger.Info("batch already folded, skipping re-execution",
			"job_id", payload.JobID, "task_id", payload.TaskID)
		if job.Progress.CompletedTests >= job.Progress.TotalTests {
			return true, next, nil
		}
		return false, nextPayload(payload), nil
	}

	cases := domain.DeriveTestCases(&job.Config)
	start, end := payload.StartIndex, payload.StartIndex+payload.BatchSize
	if start >= len(cases) {
		return true, next, nil
	}
	if end > len(cases) {
		end = len(cases)
	}
	batch := cases[start:end]

	outcomes := d.executeBatch(ctx, batch)

	if err := d.jobs.UpdateResults(ctx, payload.JobID, aggregation.DeltaFromOutcomes(outcomes)); err != nil {
		return false, next, err
	}

	running := domain.JobStatusRunning
	last := batch[len(batch)-1]
	cursor := &jobs.ProgressCursor{Pipeline: last.Pipeline, Topic: last.Topic, Difficulty: last.Difficulty}
	completed, total, err := d.jobs.UpdateProgress(ctx, payload.JobID, len(batch), cursor, &running)
	if err != nil {
		return false, next, err
	}

	if _, err := d.jobs.RecordTask(ctx, payload.JobID, marker); err != nil {
		// The fold itself succeeded; a missing marker only re-opens the
		// redelivery window, so this is not worth failing the batch.
		d.logger.Warn("failed to record fold marker",
			"job_id", payload.JobID, "task_id", payload.TaskID, "error", err)
	}

	d.logger.Info("batch folded",
		"job_id", payload.JobID,
		"task_id", payload.TaskID,
		"completed", completed,
		"total", total)

	if completed >= total {
		return true, next, d.finalize(ctx, payload.JobID)
	}
	return false, nextPayload(payload), nil
}

// executeBatch runs the cases on the worker pool and collects every
// outcome: one case failing never aborts its siblings.
func (d *Dispatcher) executeBatch(ctx context.Context, batch []domain.TestCase) []aggregation.TestOutcome {
	outcomes := make([]aggregation.TestOutcome, len(batch))

	var wg sync.WaitGroup
	for i, tc := range batch {
		wg.Add(1)
		task := &batchTask{ctx: ctx, d: d, tc: tc, slot: &outcomes[i], wg: &wg}
		if err := d.pool.Invoke(task); err != nil {
			// Pool saturated or released; the case still runs.
			task.run()
		}
	}
	wg.Wait()

	return outcomes
}

// run executes one test case and writes its outcome to the slot.
func (t *batchTask) run() {
	defer t.wg.Done()

	started := time.Now()
	artifact, err := t.d.executor.ExecuteTest(t.ctx, t.tc)
	latency := float64(time.Since(started).Milliseconds())

	outcome := aggregation.TestOutcome{Case: t.tc}
	if err != nil {
		entry := domain.NewErrorEntry(t.tc, err, 1)
		outcome.Failure = &entry
		t.d.logger.Warn("test case failed",
			"pipeline", t.tc.Pipeline,
			"topic", t.tc.Topic,
			"difficulty", t.tc.Difficulty,
			"code", domain.ClassifyError(err),
			"error", err)
	} else {
		// Structural findings are advisory here: they shape the quality
		// score but never veto a measured artifact.
		report := structcheck.Inspect(artifact)
		quality := scoring.ScoreQuestion(artifact, report, t.tc.Difficulty)
		outcome.Success = true
		outcome.LatencyMS = latency
		outcome.Quality = quality.Overall
	}
	*t.slot = outcome
}

// finalize computes the overall metrics from the stored rollups and
// completes the job.
func (d *Dispatcher) finalize(ctx context.Context, jobID string) error {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return domain.ErrJobNotFound
	}

	overall := aggregation.FinalizeOverall(job.Results, job.CreatedAt)
	return d.jobs.CompleteJob(ctx, jobID, overall)
}

// EstimateDurationSeconds predicts a job's wall-clock time from its
// batch count: one inter-batch delay plus a nominal per-batch
// execution allowance.
func EstimateDurationSeconds(totalTests, batchSize int) int {
	if totalTests <= 0 {
		return 0
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batches := (totalTests + batchSize - 1) / batchSize
	const perBatchSeconds = 8
	return batches*perBatchSeconds + (batches-1)*int(InterBatchDelay/time.Second)
}
