package scoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/llm"
)

// Reviewer is the review/scoring service port: it assesses a draft
// question on the reviewer's native 0-25 scale.
type Reviewer interface {
	Review(ctx context.Context, artifact *domain.GeneratedArtifact) (*llm.ReviewAssessment, error)
}

// Rewriter is the rewrite port: it produces an improved draft from the
// previous candidate and the reviewer's feedback.
type Rewriter interface {
	Rewrite(ctx context.Context, artifact *domain.GeneratedArtifact, feedback string) (*domain.GeneratedArtifact, error)
}

const reviewSystemPrompt = `You are an exam item review service for board-style ` +
	`multiple-choice questions. Score the submitted item on five criteria, each 0-5: ` +
	`clarity, accuracy, distractors, difficulty_calibration, explanation. ` +
	`Respond with JSON only: {"clarity":n,"accuracy":n,"distractors":n,` +
	`"difficulty_calibration":n,"explanation":n,"feedback":"...","suggested_fixes":"..."}`

const rewriteSystemPrompt = `You are an exam item editor. Rewrite the submitted ` +
	`multiple-choice question to address the reviewer feedback while keeping the topic ` +
	`and tested concept. Respond with JSON only: {"stem":"...","lead_in":"...",` +
	`"options":["...","...","...","...","..."],"correct_index":n,"explanation":"..."}`

// ModelReviewer implements Reviewer and Rewriter over a completion
// client.
type ModelReviewer struct {
	client llm.CompletionClient
}

// NewModelReviewer wraps a completion client as the review service.
func NewModelReviewer(client llm.CompletionClient) *ModelReviewer {
	return &ModelReviewer{client: client}
}

// Review submits the artifact for assessment and decodes the structured
// response. Decode failures surface as ParsingError so the refinement
// loop treats them as non-improving iterations.
func (r *ModelReviewer) Review(ctx context.Context, artifact *domain.GeneratedArtifact) (*llm.ReviewAssessment, error) {
	encoded, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("encode artifact for review: %w", err)
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		System:      reviewSystemPrompt,
		Prompt:      "Review the following question:\n" + string(encoded),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	return llm.DecodeReview(resp.Content)
}

// Rewrite submits the artifact and feedback for revision and decodes
// the improved draft.
func (r *ModelReviewer) Rewrite(ctx context.Context, artifact *domain.GeneratedArtifact, feedback string) (*domain.GeneratedArtifact, error) {
	encoded, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("encode artifact for rewrite: %w", err)
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		System:      rewriteSystemPrompt,
		Prompt:      fmt.Sprintf("Question:\n%s\n\nReviewer feedback:\n%s", encoded, feedback),
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	return llm.DecodeArtifact(resp.Content)
}
