package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscale/qgen-eval/internal/blueprint"
	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/generation"
	"github.com/medscale/qgen-eval/internal/jobs"
	"github.com/medscale/qgen-eval/internal/llm"
)

// fakeQueue records enqueued payloads and optionally rejects them.
type fakeQueue struct {
	mu       sync.Mutex
	payloads []TaskPayload
	failWith error
}

func (q *fakeQueue) Enqueue(_ context.Context, payload TaskPayload, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failWith != nil {
		return q.failWith
	}
	q.payloads = append(q.payloads, payload)
	return nil
}

func (q *fakeQueue) enqueued() []TaskPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]TaskPayload(nil), q.payloads...)
}

// flakyStrategy fails on Melanoma cases and drafts normally otherwise.
type flakyStrategy struct{ inner generation.Strategy }

func (s *flakyStrategy) Generate(ctx context.Context, tc domain.TestCase) (*domain.GeneratedArtifact, error) {
	if tc.Topic == "Melanoma" {
		return nil, &domain.GenerationError{Pipeline: tc.Pipeline, Attempts: 3, Cause: errors.New("provider refused")}
	}
	return s.inner.Generate(ctx, tc)
}

func smallConfig() domain.JobConfig {
	return domain.JobConfig{
		CountsByDifficulty: map[domain.Difficulty]int{domain.DifficultyBasic: 1, domain.DifficultyIntermediate: 1},
		Pipelines:          []string{domain.PipelineFast},
		Topics:             []string{"Psoriasis", "Melanoma"},
	}
}

func newTestHarness(t *testing.T, queue TaskQueue) (*Dispatcher, *jobs.Manager) {
	t.Helper()
	manager := jobs.NewManager(jobs.NewMemoryStore(), nil)
	strategies := generation.NewDefaultStrategies(llm.NewMockClient(), blueprint.NewSelector(), nil)
	executor := generation.NewExecutor(strategies, nil)

	d, err := NewDispatcher(manager, executor, queue, nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d.WithInterBatchDelay(time.Millisecond), manager
}

func TestDispatchFirstBatchQueuePath(t *testing.T) {
	ctx := context.Background()
	queue := &fakeQueue{}
	d, manager := newTestHarness(t, queue)

	job, err := manager.CreateJob(ctx, "user-1", smallConfig())
	require.NoError(t, err)

	require.NoError(t, d.DispatchFirstBatch(ctx, job.ID))

	enqueued := queue.enqueued()
	require.Len(t, enqueued, 1, "only batch zero is submitted up front")
	assert.Equal(t, job.ID+"-batch-0", enqueued[0].TaskID)
	assert.Zero(t, enqueued[0].StartIndex)

	stored, err := manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, stored.Status)
	assert.Zero(t, stored.Progress.CompletedTests, "queue path must not execute anything inline")
	assert.Contains(t, stored.TaskIDs, enqueued[0].TaskID)
}

func TestDispatchFirstBatchSynchronousFallback(t *testing.T) {
	ctx := context.Background()
	queue := &fakeQueue{failWith: errors.New("queue unavailable")}
	d, manager := newTestHarness(t, queue)

	job, err := manager.CreateJob(ctx, "user-1", smallConfig())
	require.NoError(t, err)

	require.NoError(t, d.DispatchFirstBatch(ctx, job.ID))

	// The first batch ran before DispatchFirstBatch returned.
	stored, err := manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stored.Progress.CompletedTests, DefaultBatchSize)

	// The remaining batches continue in the background.
	require.Eventually(t, func() bool {
		j, err := manager.GetJob(ctx, job.ID)
		return err == nil && j.Status == domain.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond, "fallback path must drive the job to completion")

	final, err := manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, final.Progress.TotalTests, final.Progress.CompletedTests)
	require.NotNil(t, final.Results.Overall)
	assert.Equal(t, final.Progress.TotalTests, final.Results.Overall.TotalTests)
}

func TestProcessBatchChainsThroughQueue(t *testing.T) {
	ctx := context.Background()
	queue := &fakeQueue{}
	d, manager := newTestHarness(t, queue)

	job, err := manager.CreateJob(ctx, "user-1", smallConfig())
	require.NoError(t, err)
	require.NoError(t, d.DispatchFirstBatch(ctx, job.ID))

	// Drain the queue the way a worker would, one handler call per
	// submitted payload.
	processed := 0
	for {
		pending := queue.enqueued()
		if processed == len(pending) {
			break
		}
		payload := pending[processed]
		processed++
		require.NoError(t, d.ProcessBatch(ctx, payload))
	}

	final, err := manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Equal(t, 4, final.Progress.CompletedTests)
	assert.Equal(t, 2, processed, "4 cases at batch size 2 take exactly 2 handler invocations")

	for i, payload := range queue.enqueued() {
		assert.Equal(t, i*DefaultBatchSize, payload.StartIndex, "payloads must walk the case list in order")
	}
}

func TestProcessBatchPartialFailure(t *testing.T) {
	ctx := context.Background()
	manager := jobs.NewManager(jobs.NewMemoryStore(), nil)

	strategies := generation.NewDefaultStrategies(llm.NewMockClient(), blueprint.NewSelector(), nil)
	strategies[domain.PipelineFast] = &flakyStrategy{inner: strategies[domain.PipelineFast]}
	executor := generation.NewExecutor(strategies, nil)

	d, err := NewDispatcher(manager, executor, nil, nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	d.WithInterBatchDelay(time.Millisecond)

	job, err := manager.CreateJob(ctx, "user-1", smallConfig())
	require.NoError(t, err)
	require.NoError(t, d.ProcessBatch(ctx, firstPayload(job.ID, DefaultBatchSize)))

	final, err := manager.GetJob(ctx, job.ID)
	require.NoError(t, err)

	// Melanoma cases fail, Psoriasis cases succeed; the job still
	// reaches completed with the failures recorded, never failed.
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Equal(t, 4, final.Progress.CompletedTests)
	assert.Len(t, final.Results.Errors, 2)

	fast := final.Results.ByPipeline[domain.PipelineFast]
	require.NotNil(t, fast)
	assert.Equal(t, 4, fast.TotalTests)
	assert.Equal(t, 2, fast.SuccessCount)
	assert.InDelta(t, 0.5, fast.SuccessRate, 1e-9)
	assert.Len(t, fast.Failures, 2)

	require.NotNil(t, final.Results.Overall)
	assert.InDelta(t, 0.5, final.Results.Overall.OverallSuccessRate, 1e-9)
}

func TestProcessBatchSkipsInactiveJob(t *testing.T) {
	ctx := context.Background()
	d, manager := newTestHarness(t, nil)

	job, err := manager.CreateJob(ctx, "user-1", smallConfig())
	require.NoError(t, err)
	require.NoError(t, manager.FailJob(ctx, job.ID, "store write rejected"))

	require.NoError(t, d.ProcessBatch(ctx, firstPayload(job.ID, DefaultBatchSize)))

	final, err := manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.Zero(t, final.Progress.CompletedTests, "no batch may run against a terminal job")
}

func TestEstimateDurationSeconds(t *testing.T) {
	assert.Zero(t, EstimateDurationSeconds(0, DefaultBatchSize))
	assert.Equal(t, 8, EstimateDurationSeconds(1, DefaultBatchSize))
	assert.Equal(t, 8, EstimateDurationSeconds(2, DefaultBatchSize))
	assert.Equal(t, 17, EstimateDurationSeconds(3, DefaultBatchSize))
	assert.Greater(t, EstimateDurationSeconds(50, DefaultBatchSize), EstimateDurationSeconds(10, DefaultBatchSize))
}

func TestRedeliveredBatchFoldsOnce(t *testing.T) {
	ctx := context.Background()
	d, manager := newTestHarness(t, nil)

	job, err := manager.CreateJob(ctx, "user-1", smallConfig())
	require.NoError(t, err)
	payload := firstPayload(job.ID, DefaultBatchSize)
	_, err = manager.RecordTask(ctx, job.ID, payload.TaskID)
	require.NoError(t, err)

	done, next, err := d.runBatch(ctx, payload)
	require.NoError(t, err)
	require.False(t, done)

	folded, err := manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, DefaultBatchSize, folded.Progress.CompletedTests)
	require.Contains(t, folded.TaskIDs, foldMarker(payload.TaskID))

	// Redelivery of the same batch must skip the merge entirely and
	// still hand back the successor so the chain continues.
	doneAgain, nextAgain, err := d.runBatch(ctx, payload)
	require.NoError(t, err)
	assert.False(t, doneAgain)
	assert.Equal(t, next.TaskID, nextAgain.TaskID)

	stored, err := manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, stored.Progress.CompletedTests,
		"redelivered batch must not re-count progress")
	assert.Equal(t, DefaultBatchSize, stored.Results.ByPipeline[domain.PipelineFast].TotalTests,
		"redelivered batch must not re-merge results")
}
