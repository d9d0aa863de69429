package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/structcheck"
)

// EntityContext carries the clinical entity the refined question must
// stay anchored to across rewrites.
type EntityContext struct {
	Topic      string
	Difficulty domain.Difficulty
}

// RefineLoop runs the bounded draft → review → score → rewrite state
// machine. Structural checks are hard gates here: a candidate that
// scores above threshold but fails a structural check does not count as
// an improvement, because refinement output ships to users.
type RefineLoop struct {
	reviewer Reviewer
	rewriter Rewriter
	logger   *slog.Logger
}

// NewRefineLoop builds the loop from its review and rewrite ports.
func NewRefineLoop(reviewer Reviewer, rewriter Rewriter, logger *slog.Logger) *RefineLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefineLoop{reviewer: reviewer, rewriter: rewriter, logger: logger}
}

// Refine iterates on the draft until an iteration's review score meets
// the pass threshold (with structural gates clean) or maxIterations
// cycles have run. The best-scoring candidate seen is returned either
// way, which is not necessarily the last one: rewrites can regress.
// Individual iteration failures are recorded as non-improving
// iterations and never abort the loop.
func (l *RefineLoop) Refine(ctx context.Context, draft *domain.GeneratedArtifact, entity EntityContext, maxIterations int) (*domain.IterativeScoringResult, error) {
	if maxIterations <= 0 {
		return nil, &domain.ValidationError{Field: "maxIterations", Message: fmt.Sprintf("must be positive, got %d", maxIterations)}
	}
	if draft == nil {
		return nil, &domain.ValidationError{Field: "draft", Message: "draft artifact is required"}
	}

	result := &domain.IterativeScoringResult{StartedAt: time.Now().UTC()}

	candidate := draft
	var best *domain.GeneratedArtifact
	bestScore := -1.0

	for iteration := 1; iteration <= maxIterations; iteration++ {
		record := l.runIteration(ctx, iteration, candidate, entity)
		result.Iterations = append(result.Iterations, record)
		result.TotalIterations = iteration

		if record.Error == "" && record.Score > bestScore {
			best = record.Candidate
			bestScore = record.Score
		}

		if record.PassedThreshold {
			result.ImprovementAchieved = true
			break
		}

		if iteration == maxIterations {
			break
		}

		// Rewrite from the best candidate so a regressed iteration does
		// not poison the next cycle.
		source := best
		if source == nil {
			source = candidate
		}
		feedback := record.Error
		if feedback == "" {
			feedback = iterationFeedback(record)
		}

		next, err := l.rewriter.Rewrite(ctx, source, feedback)
		if err != nil {
			l.logger.Warn("rewrite failed, retrying review on previous best",
				"iteration", iteration,
				"topic", entity.Topic,
				"error", err)
			candidate = source
			continue
		}
		candidate = next
	}

	result.FinalQuestion = best
	if bestScore >= 0 {
		result.FinalScore = bestScore
	}
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

// runIteration executes one review/score cycle. All failures are folded
// into the record rather than returned.
func (l *RefineLoop) runIteration(ctx context.Context, iteration int, candidate *domain.GeneratedArtifact, entity EntityContext) domain.IterationRecord {
	start := time.Now()
	record := domain.IterationRecord{Iteration: iteration, Candidate: candidate}

	assessment, err := l.reviewer.Review(ctx, candidate)
	if err != nil {
		record.Error = err.Error()
		record.DurationMS = time.Since(start).Milliseconds()
		l.logger.Warn("review iteration failed",
			"iteration", iteration,
			"topic", entity.Topic,
			"error", err)
		return record
	}

	record.NativeScore = assessment.NativeTotal
	record.Score = domain.NormalizeReviewScore(assessment.NativeTotal)

	gates := structcheck.Inspect(candidate)
	record.PassedThreshold = assessment.NativeTotal >= domain.ReviewPassThreshold && gates.Passed()
	record.DurationMS = time.Since(start).Milliseconds()
	return record
}

// iterationFeedback derives rewrite guidance from a completed record.
func iterationFeedback(record domain.IterationRecord) string {
	if record.Candidate == nil {
		return "produce a complete five-option single-best-answer question"
	}
	gates := structcheck.Inspect(record.Candidate)
	if !gates.Passed() {
		return fmt.Sprintf("fix structural defects: %+v", gates)
	}
	return fmt.Sprintf("raise overall quality; last review scored %.0f/25", record.NativeScore)
}
