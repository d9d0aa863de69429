package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscale/qgen-eval/internal/domain"
)

const fencedArtifact = "```json\n{\n" +
	`  "stem": "A 45-year-old presents with well-demarcated erythematous plaques with silvery scale on the extensor surfaces of both elbows and knees, present for three months.",` + "\n" +
	`  "lead_in": "Which of the following is the most likely diagnosis?",` + "\n" +
	`  "options": ["Psoriasis", "Atopic dermatitis", "Lichen planus", "Tinea corporis", "Seborrheic dermatitis"],` + "\n" +
	`  "correct_index": 0,` + "\n" +
	`  "explanation": "Extensor plaques with silvery scale are classic."` + "\n}\n```"

func TestDecodeArtifact(t *testing.T) {
	t.Run("decodes fenced array-form response", func(t *testing.T) {
		artifact, err := DecodeArtifact(fencedArtifact)
		require.NoError(t, err)
		assert.Equal(t, "Psoriasis", artifact.Options[0])
		assert.Equal(t, 0, artifact.CorrectIndex)
		assert.Len(t, artifact.Options, 5)
	})

	t.Run("decodes letter-keyed options and correct letter", func(t *testing.T) {
		raw := `{
			"stem": "A 60-year-old man has a slowly enlarging pearly papule with telangiectasia on the nasal ala, first noticed eight months ago during a routine visit.",
			"lead_in": "Which of the following is the most likely diagnosis?",
			"options": {"A": "Basal cell carcinoma", "B": "Squamous cell carcinoma", "C": "Melanoma", "D": "Sebaceous hyperplasia", "E": "Molluscum"},
			"correct_letter": "a",
			"explanation": "Pearly papule with telangiectasia."
		}`
		artifact, err := DecodeArtifact(raw)
		require.NoError(t, err)
		assert.Equal(t, 0, artifact.CorrectIndex)
		assert.Equal(t, "Basal cell carcinoma", artifact.Options[0])
	})

	t.Run("malformed JSON yields ParsingError", func(t *testing.T) {
		_, err := DecodeArtifact("the model apologizes and cannot answer")
		var perr *domain.ParsingError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, domain.CodeParsing, domain.ClassifyError(err))
	})

	t.Run("correct answer outside options yields ParsingError", func(t *testing.T) {
		raw := `{
			"stem": "A sufficiently long stem describing a patient presentation with many details that satisfy the artifact contract for validation purposes here.",
			"lead_in": "Which of the following is the most likely diagnosis?",
			"options": ["A only", "B only"],
			"correct_letter": "E",
			"explanation": "x"
		}`
		var perr *domain.ParsingError
		_, err := DecodeArtifact(raw)
		require.ErrorAs(t, err, &perr)
	})
}

func TestDecodeReview(t *testing.T) {
	t.Run("totals criteria on the native scale", func(t *testing.T) {
		review, err := DecodeReview(`{"clarity":5,"accuracy":4,"distractors":3,"difficulty_calibration":4,"explanation":4,"feedback":"ok"}`)
		require.NoError(t, err)
		assert.InDelta(t, 20.0, review.NativeTotal, 1e-9)
		assert.Equal(t, "ok", review.Feedback)
	})

	t.Run("criterion values are clamped", func(t *testing.T) {
		review, err := DecodeReview(`{"clarity":9,"accuracy":-2,"distractors":5,"difficulty_calibration":5,"explanation":5}`)
		require.NoError(t, err)
		assert.InDelta(t, 15.0, review.NativeTotal, 1e-9, "9 clamps to 5, -2 clamps to 0")
	})

	t.Run("malformed review yields ParsingError", func(t *testing.T) {
		var perr *domain.ParsingError
		_, err := DecodeReview("not json")
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "review", perr.Source)
	})
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences(`{"a":1}`))
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()

	t.Run("generation prompt yields a decodable artifact", func(t *testing.T) {
		resp, err := mock.Complete(context.Background(), Request{Prompt: "Topic: Melanoma\nDifficulty: Basic"})
		require.NoError(t, err)
		artifact, err := DecodeArtifact(resp.Content)
		require.NoError(t, err)
		assert.Contains(t, artifact.Options[0], "Melanoma")
	})

	t.Run("review prompt yields a decodable review", func(t *testing.T) {
		resp, err := mock.Complete(context.Background(), Request{System: "You are an exam item review service.", Prompt: "Review the following question"})
		require.NoError(t, err)
		review, err := DecodeReview(resp.Content)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, review.NativeTotal, domain.ReviewPassThreshold)
	})
}
