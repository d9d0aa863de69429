package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/structcheck"
)

// artifactWire is the duck-typed question shape models emit. Options
// arrive as either an array or a letter-keyed map; the correct answer
// as an index or a letter. Both are pinned down here, at the decode
// boundary, so nothing downstream sees the raw shapes.
type artifactWire struct {
	Stem          string           `json:"stem"`
	LeadIn        string           `json:"lead_in"`
	Options       domain.OptionSet `json:"options"`
	CorrectIndex  *int             `json:"correct_index,omitempty"`
	CorrectLetter string           `json:"correct_letter,omitempty"`
	Explanation   string           `json:"explanation"`
}

// DecodeArtifact parses a model completion into the canonical artifact
// form. Markdown code fences are stripped first; models wrap JSON in
// them regardless of instructions. Failures return a ParsingError so
// they are recorded as non-fatal per-test errors.
func DecodeArtifact(content string) (*domain.GeneratedArtifact, error) {
	cleaned := stripCodeFences(content)

	var wire artifactWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, &domain.ParsingError{Source: "generation", Cause: err}
	}

	options := structcheck.EnsureFiveOptions(wire.Options)

	correct := -1
	switch {
	case wire.CorrectLetter != "":
		correct = domain.LetterToIndex(wire.CorrectLetter)
	case wire.CorrectIndex != nil:
		correct = *wire.CorrectIndex
	}
	if correct < 0 || correct >= len(options) {
		return nil, &domain.ParsingError{
			Source: "generation",
			Cause:  fmt.Errorf("correct answer %q/%v does not address any of %d options", wire.CorrectLetter, wire.CorrectIndex, len(options)),
		}
	}

	artifact := &domain.GeneratedArtifact{
		Stem:         wire.Stem,
		LeadIn:       wire.LeadIn,
		Options:      options,
		CorrectIndex: correct,
		Explanation:  wire.Explanation,
	}
	if err := artifact.Validate(); err != nil {
		return nil, &domain.ParsingError{Source: "generation", Cause: err}
	}
	return artifact, nil
}

// reviewWire is the structured assessment shape the review service
// emits: five criteria on a 0-5 native scale.
type reviewWire struct {
	Clarity        float64 `json:"clarity"`
	Accuracy       float64 `json:"accuracy"`
	Distractors    float64 `json:"distractors"`
	DifficultyCal  float64 `json:"difficulty_calibration"`
	Explanation    float64 `json:"explanation"`
	Feedback       string  `json:"feedback"`
	SuggestedFixes string  `json:"suggested_fixes,omitempty"`
}

// ReviewAssessment is the decoded multi-criterion review. NativeTotal
// is on the reviewer's 0-25 scale.
type ReviewAssessment struct {
	Criteria       map[string]float64 `json:"criteria"`
	NativeTotal    float64            `json:"native_total"`
	Feedback       string             `json:"feedback,omitempty"`
	SuggestedFixes string             `json:"suggested_fixes,omitempty"`
}

// DecodeReview parses a review completion. Criterion values are clamped
// to the 0-5 native range before totaling so a misbehaving reviewer
// cannot push a draft past the threshold.
func DecodeReview(content string) (*ReviewAssessment, error) {
	cleaned := stripCodeFences(content)

	var wire reviewWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, &domain.ParsingError{Source: "review", Cause: err}
	}

	criteria := map[string]float64{
		"clarity":                clampCriterion(wire.Clarity),
		"accuracy":               clampCriterion(wire.Accuracy),
		"distractors":            clampCriterion(wire.Distractors),
		"difficulty_calibration": clampCriterion(wire.DifficultyCal),
		"explanation":            clampCriterion(wire.Explanation),
	}
	total := 0.0
	for _, v := range criteria {
		total += v
	}

	return &ReviewAssessment{
		Criteria:       criteria,
		NativeTotal:    total,
		Feedback:       wire.Feedback,
		SuggestedFixes: wire.SuggestedFixes,
	}, nil
}

func clampCriterion(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// stripCodeFences removes a surrounding markdown code fence, if any.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "```json"))
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "```"))
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
