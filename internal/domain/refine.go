package domain

import "time"

// Native and reporting scales for iterative review scores. Reviewers
// score drafts on a 0-25 rubric; results are normalized to 0-100.
const (
	// ReviewScoreMax is the top of the reviewer's native scale.
	ReviewScoreMax = 25.0

	// ReviewPassThreshold is the native score at or above which an
	// iteration is considered to have met the quality bar.
	ReviewPassThreshold = 18.0
)

// NormalizeReviewScore converts a native 0-25 review score to the 0-100
// reporting scale.
func NormalizeReviewScore(native float64) float64 {
	return clampScore(native * (100.0 / ReviewScoreMax))
}

// IterationRecord captures one draft/review/score cycle of the
// refinement loop.
type IterationRecord struct {
	// Iteration is the 1-based cycle number.
	Iteration int `json:"iteration"`

	// Candidate is the artifact produced in this cycle. Nil when the
	// cycle failed before producing one.
	Candidate *GeneratedArtifact `json:"candidate,omitempty"`

	// NativeScore is the reviewer's 0-25 score for the candidate.
	NativeScore float64 `json:"native_score"`

	// Score is NativeScore normalized to 0-100.
	Score float64 `json:"score"`

	// PassedThreshold reports whether this cycle met the quality bar.
	PassedThreshold bool `json:"passed_threshold"`

	// Error records a cycle failure. Failed cycles count as
	// non-improving iterations, never as loop aborts.
	Error string `json:"error,omitempty"`

	// DurationMS is the wall-clock time of the cycle.
	DurationMS int64 `json:"duration_ms"`
}

// IterativeScoringResult is the outcome of a bounded refinement loop.
// FinalQuestion is always the best-scoring candidate seen, which is not
// necessarily the last one produced.
type IterativeScoringResult struct {
	FinalQuestion *GeneratedArtifact `json:"final_question,omitempty"`

	// FinalScore is the best candidate's score on the 0-100 scale.
	FinalScore float64 `json:"final_score"`

	// ImprovementAchieved is true iff some iteration's score crossed
	// the pass threshold before the iteration cap.
	ImprovementAchieved bool `json:"improvement_achieved"`

	// TotalIterations is the number of cycles actually run,
	// always <= the configured maximum.
	TotalIterations int `json:"total_iterations"`

	Iterations []IterationRecord `json:"iterations"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
