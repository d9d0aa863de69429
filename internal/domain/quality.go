package domain

import (
	"errors"
	"fmt"
)

// QualityDimension identifies one rubric aspect of a scored question.
type QualityDimension string

const (
	// DimBoardStyle measures similarity to board-style item writing.
	DimBoardStyle QualityDimension = "board_style_similarity"

	// DimAccuracy measures medical accuracy of the stem and answer.
	DimAccuracy QualityDimension = "medical_accuracy"

	// DimClinicalDetail measures the richness of clinical clues.
	DimClinicalDetail QualityDimension = "clinical_detail"

	// DimDistractorQuality measures plausibility and homogeneity of the
	// incorrect options.
	DimDistractorQuality QualityDimension = "distractor_quality"

	// DimExplanationQuality measures the explanation's coverage.
	DimExplanationQuality QualityDimension = "explanation_quality"

	// DimComplexity measures cognitive demand relative to the requested
	// difficulty tier.
	DimComplexity QualityDimension = "complexity"
)

// qualityWeights is the fixed linear combination used for the overall
// score. The weights sum to 1.0; the overall score is never computed
// from a partial dimension set.
var qualityWeights = map[QualityDimension]float64{
	DimBoardStyle:         0.20,
	DimAccuracy:           0.25,
	DimClinicalDetail:     0.15,
	DimDistractorQuality:  0.15,
	DimExplanationQuality: 0.15,
	DimComplexity:         0.10,
}

// RequiredDimensions lists every dimension a complete score must carry.
var RequiredDimensions = []QualityDimension{
	DimBoardStyle,
	DimAccuracy,
	DimClinicalDetail,
	DimDistractorQuality,
	DimExplanationQuality,
	DimComplexity,
}

// ErrIncompleteDimensions indicates an overall score was requested from
// a partial dimension set.
var ErrIncompleteDimensions = errors.New("incomplete dimension set")

// QualityScore is the 0-100 composite assessment of one generated
// question.
type QualityScore struct {
	// Overall is the weighted combination of all dimensions, 0-100.
	Overall float64 `json:"overall" validate:"min=0,max=100"`

	// Dimensions holds every rubric aspect, each 0-100.
	Dimensions map[QualityDimension]float64 `json:"dimensions" validate:"required"`

	// Feedback is a short human-readable summary of weaknesses.
	Feedback string `json:"feedback,omitempty"`

	// Metadata carries scorer-specific annotations (heuristic versions,
	// structural check outcomes) that do not affect the score.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ComposeOverall computes the fixed-weight overall score from a full
// dimension set. It returns ErrIncompleteDimensions when any required
// dimension is missing, so callers can never report a composite built
// from partial data.
func ComposeOverall(dimensions map[QualityDimension]float64) (float64, error) {
	overall := 0.0
	for _, dim := range RequiredDimensions {
		v, ok := dimensions[dim]
		if !ok {
			return 0, fmt.Errorf("%w: missing %s", ErrIncompleteDimensions, dim)
		}
		overall += v * qualityWeights[dim]
	}
	return clampScore(overall), nil
}

// clampScore bounds a score to the reporting range [0, 100].
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
