package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/structcheck"
)

func richArtifact() *domain.GeneratedArtifact {
	return &domain.GeneratedArtifact{
		Stem: "A 45-year-old woman presents with a 3-month history of well-demarcated erythematous plaques " +
			"with silvery scale over the extensor surfaces of both elbows and knees. Examination shows nail " +
			"pitting. Family history is notable for similar lesions in her father. Vital signs are normal.",
		LeadIn:       "Which of the following is the most likely diagnosis?",
		Options:      []string{"Psoriasis", "Atopic dermatitis", "Lichen planus", "Tinea corporis", "Seborrheic dermatitis"},
		CorrectIndex: 0,
		Explanation: "Psoriasis presents with silvery plaques on extensor surfaces and nail pitting. " +
			"Atopic dermatitis favors flexural surfaces; lichen planus shows violaceous papules; " +
			"tinea corporis has an active scaling border.",
	}
}

func TestScoreQuestion(t *testing.T) {
	t.Run("rich artifact scores well on every dimension", func(t *testing.T) {
		a := richArtifact()
		score := ScoreQuestion(a, structcheck.Inspect(a), domain.DifficultyIntermediate)

		assert.Greater(t, score.Overall, 70.0)
		require.Len(t, score.Dimensions, len(domain.RequiredDimensions), "overall is never computed from a partial set")
		for dim, v := range score.Dimensions {
			assert.GreaterOrEqual(t, v, 0.0, "%s", dim)
			assert.LessOrEqual(t, v, 100.0, "%s", dim)
		}
	})

	t.Run("negative lead-in drags board style down", func(t *testing.T) {
		a := richArtifact()
		a.LeadIn = "All of the following are features of psoriasis EXCEPT"
		bad := ScoreQuestion(a, structcheck.Inspect(a), domain.DifficultyIntermediate)

		good := ScoreQuestion(richArtifact(), structcheck.Inspect(richArtifact()), domain.DifficultyIntermediate)
		assert.Less(t, bad.Dimensions[domain.DimBoardStyle], good.Dimensions[domain.DimBoardStyle])
		assert.Contains(t, bad.Feedback, "negative lead-in")
	})

	t.Run("thin stem scores low on clinical detail", func(t *testing.T) {
		a := richArtifact()
		a.Stem = "Patient has a rash."
		score := ScoreQuestion(a, structcheck.Inspect(a), domain.DifficultyAdvanced)
		assert.Less(t, score.Dimensions[domain.DimClinicalDetail], 50.0)
		assert.Less(t, score.Dimensions[domain.DimComplexity], 50.0, "advanced tier punishes thin stems")
	})

	t.Run("missing explanation zeroes explanation quality", func(t *testing.T) {
		a := richArtifact()
		a.Explanation = ""
		score := ScoreQuestion(a, structcheck.Inspect(a), domain.DifficultyBasic)
		assert.Zero(t, score.Dimensions[domain.DimExplanationQuality])
	})

	t.Run("duplicate options reported in feedback", func(t *testing.T) {
		a := richArtifact()
		a.Options = []string{"Psoriasis", "psoriasis", "Lichen planus", "Tinea corporis", "Eczema"}
		score := ScoreQuestion(a, structcheck.Inspect(a), domain.DifficultyBasic)
		assert.Contains(t, score.Feedback, "duplicate options")
	})

	t.Run("clean artifact reports no concerns", func(t *testing.T) {
		a := richArtifact()
		score := ScoreQuestion(a, structcheck.Inspect(a), domain.DifficultyBasic)
		if score.Overall > 70 {
			assert.False(t, strings.Contains(score.Feedback, "weak board_style"), "feedback: %s", score.Feedback)
		}
	})
}

func TestBalancedLengths(t *testing.T) {
	assert.True(t, balancedLengths([]string{"Psoriasis", "Eczema", "Tinea"}))
	assert.False(t, balancedLengths([]string{"Yes", "A very long and conspicuously detailed correct answer choice"}))
	assert.False(t, balancedLengths([]string{"only one"}))
	assert.False(t, balancedLengths([]string{"", "x"}))
}
