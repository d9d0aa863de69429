package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/llm"
)

// scriptedReviewer returns canned native scores (or errors) in order,
// repeating the last entry once exhausted.
type scriptedReviewer struct {
	scores []float64
	errs   []error
	calls  int
}

func (s *scriptedReviewer) Review(_ context.Context, _ *domain.GeneratedArtifact) (*llm.ReviewAssessment, error) {
	i := s.calls
	s.calls++
	if i >= len(s.scores) {
		i = len(s.scores) - 1
	}
	if s.errs != nil && i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &llm.ReviewAssessment{NativeTotal: s.scores[i], Feedback: "scripted"}, nil
}

// echoRewriter returns a copy of the input, optionally failing.
type echoRewriter struct {
	err   error
	calls int
}

func (e *echoRewriter) Rewrite(_ context.Context, a *domain.GeneratedArtifact, _ string) (*domain.GeneratedArtifact, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	clone := *a
	return &clone, nil
}

func TestRefine(t *testing.T) {
	entity := EntityContext{Topic: "Psoriasis", Difficulty: domain.DifficultyBasic}

	t.Run("never clearing the threshold runs exactly max iterations", func(t *testing.T) {
		reviewer := &scriptedReviewer{scores: []float64{10, 14, 9, 12, 11}}
		loop := NewRefineLoop(reviewer, &echoRewriter{}, nil)

		result, err := loop.Refine(context.Background(), richArtifact(), entity, 5)
		require.NoError(t, err)

		assert.Equal(t, 5, result.TotalIterations)
		assert.False(t, result.ImprovementAchieved)
		assert.Len(t, result.Iterations, 5)

		// Best of the five is iteration 2 (14/25), not the 5th.
		assert.InDelta(t, domain.NormalizeReviewScore(14), result.FinalScore, 1e-9)
		require.NotNil(t, result.FinalQuestion)
	})

	t.Run("terminates on first iteration meeting the threshold", func(t *testing.T) {
		reviewer := &scriptedReviewer{scores: []float64{12, 20, 25}}
		loop := NewRefineLoop(reviewer, &echoRewriter{}, nil)

		result, err := loop.Refine(context.Background(), richArtifact(), entity, 5)
		require.NoError(t, err)

		assert.True(t, result.ImprovementAchieved)
		assert.Equal(t, 2, result.TotalIterations, "loop stops at the passing iteration")
		assert.InDelta(t, domain.NormalizeReviewScore(20), result.FinalScore, 1e-9)
	})

	t.Run("review failure counts as non-improving iteration", func(t *testing.T) {
		reviewer := &scriptedReviewer{
			scores: []float64{0, 19, 19},
			errs:   []error{errors.New("review service unavailable"), nil, nil},
		}
		loop := NewRefineLoop(reviewer, &echoRewriter{}, nil)

		result, err := loop.Refine(context.Background(), richArtifact(), entity, 3)
		require.NoError(t, err, "iteration failures never abort the loop")

		assert.True(t, result.ImprovementAchieved)
		assert.Equal(t, 2, result.TotalIterations)
		assert.NotEmpty(t, result.Iterations[0].Error)
	})

	t.Run("rewrite failure continues with previous best", func(t *testing.T) {
		reviewer := &scriptedReviewer{scores: []float64{10, 22}}
		rewriter := &echoRewriter{err: errors.New("rewrite down")}
		loop := NewRefineLoop(reviewer, rewriter, nil)

		result, err := loop.Refine(context.Background(), richArtifact(), entity, 2)
		require.NoError(t, err)
		assert.True(t, result.ImprovementAchieved)
		assert.Equal(t, 1, rewriter.calls)
	})

	t.Run("structural gate blocks threshold even on high scores", func(t *testing.T) {
		negated := richArtifact()
		negated.LeadIn = "Which of the following is NOT a feature of psoriasis?"

		reviewer := &scriptedReviewer{scores: []float64{25, 25, 25}}
		loop := NewRefineLoop(reviewer, &echoRewriter{}, nil)

		result, err := loop.Refine(context.Background(), negated, entity, 3)
		require.NoError(t, err)
		assert.False(t, result.ImprovementAchieved, "refinement does not ship structural violations")
		assert.Equal(t, 3, result.TotalIterations)
	})

	t.Run("rejects non-positive iteration cap", func(t *testing.T) {
		loop := NewRefineLoop(&scriptedReviewer{scores: []float64{0}}, &echoRewriter{}, nil)
		_, err := loop.Refine(context.Background(), richArtifact(), entity, 0)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("rejects nil draft", func(t *testing.T) {
		loop := NewRefineLoop(&scriptedReviewer{scores: []float64{0}}, &echoRewriter{}, nil)
		_, err := loop.Refine(context.Background(), nil, entity, 3)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}
