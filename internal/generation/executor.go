package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medscale/qgen-eval/internal/blueprint"
	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/llm"
	"github.com/medscale/qgen-eval/internal/scoring"
)

// TestTimeout is the per-test execution ceiling. A strategy that has
// not produced an artifact by then loses the race and the test records
// a TimeoutError, never an aborted job.
const TestTimeout = 2 * time.Minute

// Executor routes test cases to their named strategy and enforces the
// execution ceiling.
type Executor struct {
	strategies map[string]Strategy
	timeout    time.Duration
	logger     *slog.Logger
}

// NewExecutor builds an executor over the given strategy set.
func NewExecutor(strategies map[string]Strategy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{strategies: strategies, timeout: TestTimeout, logger: logger}
}

// WithTimeout overrides the execution ceiling, for tests.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	e.timeout = d
	return e
}

// NewDefaultStrategies wires the three production pipelines over a
// shared completion client, blueprint selector, and refinement loop.
func NewDefaultStrategies(client llm.CompletionClient, selector *blueprint.Selector, logger *slog.Logger) map[string]Strategy {
	drafter := NewDrafter(client, logger)
	reviewer := scoring.NewModelReviewer(client)
	refine := scoring.NewRefineLoop(reviewer, reviewer, logger)

	fast := NewFastStrategy(drafter, selector)
	thorough := NewThoroughStrategy(drafter, selector, client, refine, logger)
	return map[string]Strategy{
		domain.PipelineFast:     fast,
		domain.PipelineThorough: thorough,
		domain.PipelineHybrid:   NewHybridStrategy(fast, thorough, HybridHints{}),
	}
}

type executeResult struct {
	artifact *domain.GeneratedArtifact
	err      error
}

// ExecuteTest races the named strategy against the timeout. The
// strategy goroutine observes cancellation through its context; the
// race returns as soon as either side settles, so a hung provider call
// costs the batch at most the ceiling, not the call's own deadline.
func (e *Executor) ExecuteTest(ctx context.Context, tc domain.TestCase) (*domain.GeneratedArtifact, error) {
	strategy, ok := e.strategies[tc.Pipeline]
	if !ok {
		return nil, &domain.ValidationError{
			Field:   "pipeline",
			Message: fmt.Sprintf("unknown pipeline %q", tc.Pipeline),
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan executeResult, 1)
	started := time.Now()
	go func() {
		artifact, err := strategy.Generate(runCtx, tc)
		done <- executeResult{artifact: artifact, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			// A strategy error caused by the deadline is still a
			// timeout from the test's point of view.
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, &domain.TimeoutError{Duration: e.timeout, Op: "pipeline " + tc.Pipeline}
			}
			return nil, res.err
		}
		e.logger.Debug("test executed",
			"pipeline", tc.Pipeline,
			"topic", tc.Topic,
			"difficulty", tc.Difficulty,
			"elapsed_ms", time.Since(started).Milliseconds())
		return res.artifact, nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			// The caller's context died, not our ceiling.
			return nil, ctx.Err()
		}
		return nil, &domain.TimeoutError{Duration: e.timeout, Op: "pipeline " + tc.Pipeline}
	}
}
