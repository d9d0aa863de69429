package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medscale/qgen-eval/internal/blueprint"
	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/llm"
	"github.com/medscale/qgen-eval/internal/scoring"
)

// Strategy is one named generation pipeline. Implementations return
// the normalized artifact shape regardless of how many model calls it
// took to produce it.
type Strategy interface {
	Generate(ctx context.Context, tc domain.TestCase) (*domain.GeneratedArtifact, error)
}

// FastStrategy drafts once against the selected blueprint. It is the
// cheapest pipeline and the baseline the others are measured against.
type FastStrategy struct {
	drafter  *Drafter
	selector *blueprint.Selector
}

// NewFastStrategy builds the single-pass pipeline.
func NewFastStrategy(drafter *Drafter, selector *blueprint.Selector) *FastStrategy {
	return &FastStrategy{drafter: drafter, selector: selector}
}

// Generate produces one draft, wrapped as a GenerationError on failure
// so the dispatcher records it as a non-fatal per-test outcome.
func (s *FastStrategy) Generate(ctx context.Context, tc domain.TestCase) (*domain.GeneratedArtifact, error) {
	bp := selectBlueprint(s.selector, tc)
	artifact, err := s.drafter.Draft(ctx, DraftInput{
		Topic:      tc.Topic,
		Difficulty: tc.Difficulty,
		Blueprint:  bp,
	})
	if err != nil {
		return nil, wrapGeneration(domain.PipelineFast, err)
	}
	artifact.Pipeline = domain.PipelineFast
	return artifact, nil
}

const contextSystemPrompt = `You are a dermatology reference service. ` +
	`Summarize the key diagnostic features, epidemiology, and first-line ` +
	`management of the requested condition in under 200 words. Plain prose, ` +
	`no markdown.`

// ThoroughStrategy runs the multi-agent pipeline: a context-gathering
// call, a draft constrained by that context, then the bounded
// review/score/rewrite loop. Structural checks are hard gates inside
// the loop, so a thorough artifact that reaches the threshold is also
// structurally clean.
type ThoroughStrategy struct {
	drafter       *Drafter
	selector      *blueprint.Selector
	client        llm.CompletionClient
	refine        *scoring.RefineLoop
	maxIterations int
	logger        *slog.Logger
}

// DefaultRefineIterations bounds the thorough pipeline's refinement
// loop. Three cycles is enough for most drafts to converge without
// letting a stubborn one eat the test timeout.
const DefaultRefineIterations = 3

// NewThoroughStrategy builds the multi-agent pipeline.
func NewThoroughStrategy(drafter *Drafter, selector *blueprint.Selector, client llm.CompletionClient, refine *scoring.RefineLoop, logger *slog.Logger) *ThoroughStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThoroughStrategy{
		drafter:       drafter,
		selector:      selector,
		client:        client,
		refine:        refine,
		maxIterations: DefaultRefineIterations,
		logger:        logger,
	}
}

func (s *ThoroughStrategy) Generate(ctx context.Context, tc domain.TestCase) (*domain.GeneratedArtifact, error) {
	background := s.gatherContext(ctx, tc.Topic)

	bp := selectBlueprint(s.selector, tc)
	draft, err := s.drafter.Draft(ctx, DraftInput{
		Topic:      tc.Topic,
		Difficulty: tc.Difficulty,
		Blueprint:  bp,
		Context:    background,
	})
	if err != nil {
		return nil, wrapGeneration(domain.PipelineThorough, err)
	}
	draft.Pipeline = domain.PipelineThorough

	result, err := s.refine.Refine(ctx, draft, scoring.EntityContext{
		Topic:      tc.Topic,
		Difficulty: tc.Difficulty,
	}, s.maxIterations)
	if err != nil {
		return nil, wrapGeneration(domain.PipelineThorough, err)
	}
	if result.FinalQuestion == nil {
		// Every iteration failed before producing a reviewable
		// candidate; fall back to the unrefined draft.
		s.logger.Warn("refinement produced no candidate, using draft",
			"topic", tc.Topic, "difficulty", tc.Difficulty)
		return draft, nil
	}

	final := result.FinalQuestion
	final.Pipeline = domain.PipelineThorough
	return final, nil
}

// gatherContext fetches background material for the draft prompt. The
// call is best-effort: drafting works without it, so a context failure
// is logged and swallowed rather than burning one of the test's
// attempts.
func (s *ThoroughStrategy) gatherContext(ctx context.Context, topic string) string {
	resp, err := s.client.Complete(ctx, llm.Request{
		System:      contextSystemPrompt,
		Prompt:      fmt.Sprintf("Condition: %s", topic),
		MaxTokens:   400,
		Temperature: 0.2,
	})
	if err != nil {
		s.logger.Warn("context gathering failed, drafting without it",
			"topic", topic, "error", err)
		return ""
	}
	return resp.Content
}

// HybridHints are the caller-supplied signals the hybrid pipeline uses
// to pick a branch per call.
type HybridHints struct {
	// Urgent forces the fast branch regardless of difficulty.
	Urgent bool

	// QualityFloor forces the thorough branch when set above zero,
	// expressing that the caller needs refined output.
	QualityFloor float64
}

// HybridStrategy picks fast or thorough per call: urgency wins, an
// explicit quality floor wins next, and otherwise basic-tier cases take
// the fast branch while the higher tiers get the full loop.
type HybridStrategy struct {
	fast     Strategy
	thorough Strategy
	hints    HybridHints
}

// NewHybridStrategy composes the two branches under the given hints.
func NewHybridStrategy(fast, thorough Strategy, hints HybridHints) *HybridStrategy {
	return &HybridStrategy{fast: fast, thorough: thorough, hints: hints}
}

func (s *HybridStrategy) Generate(ctx context.Context, tc domain.TestCase) (*domain.GeneratedArtifact, error) {
	artifact, err := s.branch(tc).Generate(ctx, tc)
	if err != nil {
		return nil, wrapGeneration(domain.PipelineHybrid, err)
	}
	artifact.Pipeline = domain.PipelineHybrid
	return artifact, nil
}

func (s *HybridStrategy) branch(tc domain.TestCase) Strategy {
	switch {
	case s.hints.Urgent:
		return s.fast
	case s.hints.QualityFloor > 0:
		return s.thorough
	case tc.Difficulty == domain.DifficultyBasic:
		return s.fast
	default:
		return s.thorough
	}
}

// wrapGeneration classifies a strategy failure. Errors that already
// carry a taxonomy code (parsing, timeout) pass through untouched so
// the recorded code stays precise; everything else becomes a
// GenerationError for the pipeline.
func wrapGeneration(pipeline string, err error) error {
	if domain.ClassifyError(err) != domain.CodeGeneration {
		return err
	}
	var gerr *domain.GenerationError
	if errors.As(err, &gerr) {
		return err
	}
	return &domain.GenerationError{Pipeline: pipeline, Attempts: llm.MaxAttempts, Cause: err}
}
