// Package scoring provides quality assessment for generated questions:
// a pure heuristic multi-dimension scorer used by batch evaluation, a
// review-service client, and the bounded draft/review/rewrite
// refinement loop used by the quality-gated generation path.
package scoring

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/structcheck"
)

// Stem length bands used by the detail and complexity heuristics.
const (
	stemRichLength    = 300
	stemMinimalLength = 120
)

// ScoreQuestion is the pure heuristic scorer: it maps an artifact and
// its structural report to a complete multi-dimension quality score.
// No dimension is ever omitted, so the overall composite is always
// computed from the full weighted set.
func ScoreQuestion(a *domain.GeneratedArtifact, report structcheck.Report, difficulty domain.Difficulty) domain.QualityScore {
	dims := map[domain.QualityDimension]float64{
		domain.DimBoardStyle:         scoreBoardStyle(report),
		domain.DimAccuracy:           scoreAccuracy(a),
		domain.DimClinicalDetail:     scoreClinicalDetail(a),
		domain.DimDistractorQuality:  scoreDistractors(a, report),
		domain.DimExplanationQuality: scoreExplanation(a),
		domain.DimComplexity:         scoreComplexity(a, difficulty),
	}

	// The dimension map is complete by construction, so composing the
	// overall cannot fail.
	overall, err := domain.ComposeOverall(dims)
	if err != nil {
		panic(fmt.Sprintf("scorer produced incomplete dimensions: %v", err))
	}

	return domain.QualityScore{
		Overall:    overall,
		Dimensions: dims,
		Feedback:   buildFeedback(dims, report),
		Metadata: map[string]string{
			"scorer":            "heuristic/v1",
			"structural_passed": fmt.Sprintf("%t", report.Passed()),
		},
	}
}

// scoreBoardStyle rewards artifacts that follow single-best-answer
// item-writing conventions.
func scoreBoardStyle(report structcheck.Report) float64 {
	score := 0.0
	if report.OptionCountOK {
		score += 30
	}
	if report.SingleBestAnswer {
		score += 20
	}
	if report.CoversOptions {
		score += 30
	}
	if report.LeadInGuard.OK {
		score += 20
	}
	return score
}

// scoreAccuracy is a structural proxy for accuracy: a heuristic scorer
// cannot verify medicine, so it checks that the explanation actually
// engages with the keyed answer.
func scoreAccuracy(a *domain.GeneratedArtifact) float64 {
	if a.Explanation == "" {
		return 40
	}
	score := 60.0
	correct := strings.ToLower(a.Options[a.CorrectIndex])
	if strings.Contains(strings.ToLower(a.Explanation), firstWords(correct, 2)) {
		score += 25
	}
	if len(a.Explanation) >= 80 {
		score += 15
	}
	return score
}

// scoreClinicalDetail rewards stems with concrete clinical content:
// enough length to carry a vignette and numeric findings (age, vitals,
// durations).
func scoreClinicalDetail(a *domain.GeneratedArtifact) float64 {
	score := 0.0
	switch {
	case len(a.Stem) >= stemRichLength:
		score += 60
	case len(a.Stem) >= stemMinimalLength:
		score += 40
	default:
		score += 15
	}
	if containsDigit(a.Stem) {
		score += 25
	}
	if strings.Contains(strings.ToLower(a.Stem), "history") || strings.Contains(strings.ToLower(a.Stem), "examination") {
		score += 15
	}
	return score
}

// scoreDistractors rewards homogeneous, non-duplicated, length-balanced
// option sets.
func scoreDistractors(a *domain.GeneratedArtifact, report structcheck.Report) float64 {
	score := 0.0
	if report.Homogeneous {
		score += 40
	}
	if len(report.DuplicateIndices) == 0 {
		score += 30
	}
	if balancedLengths(a.Options) {
		score += 30
	}
	return score
}

// scoreExplanation rewards explanations that refute distractors rather
// than only justifying the key.
func scoreExplanation(a *domain.GeneratedArtifact) float64 {
	if a.Explanation == "" {
		return 0
	}
	score := 40.0
	if len(a.Explanation) >= 120 {
		score += 30
	}
	lower := strings.ToLower(a.Explanation)
	for i, opt := range a.Options {
		if i == a.CorrectIndex {
			continue
		}
		if strings.Contains(lower, firstWords(strings.ToLower(opt), 2)) {
			score += 30
			break
		}
	}
	return clamp(score)
}

// scoreComplexity calibrates stem richness against the requested tier:
// an advanced question with a one-line stem scores low, a basic
// question is not penalized for brevity.
func scoreComplexity(a *domain.GeneratedArtifact, difficulty domain.Difficulty) float64 {
	rich := len(a.Stem) >= stemRichLength
	moderate := len(a.Stem) >= stemMinimalLength

	switch difficulty {
	case domain.DifficultyAdvanced:
		if rich {
			return 90
		}
		if moderate {
			return 55
		}
		return 25
	case domain.DifficultyIntermediate:
		if rich {
			return 85
		}
		if moderate {
			return 70
		}
		return 35
	default:
		if moderate {
			return 80
		}
		return 55
	}
}

// buildFeedback summarizes the weakest signals for human reviewers.
func buildFeedback(dims map[domain.QualityDimension]float64, report structcheck.Report) string {
	var notes []string
	if !report.LeadInGuard.OK {
		notes = append(notes, report.LeadInGuard.Reason)
	}
	if len(report.DuplicateIndices) > 0 {
		notes = append(notes, "duplicate options present")
	}
	for _, dim := range domain.RequiredDimensions {
		if dims[dim] < 50 {
			notes = append(notes, fmt.Sprintf("weak %s (%.0f)", dim, dims[dim]))
		}
	}
	if len(notes) == 0 {
		return "no structural or heuristic concerns"
	}
	return strings.Join(notes, "; ")
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// balancedLengths reports whether no option dwarfs the others; a
// conspicuously long option telegraphs the key.
func balancedLengths(options []string) bool {
	if len(options) < 2 {
		return false
	}
	minLen, maxLen := len(options[0]), len(options[0])
	for _, opt := range options[1:] {
		if len(opt) < minLen {
			minLen = len(opt)
		}
		if len(opt) > maxLen {
			maxLen = len(opt)
		}
	}
	if minLen == 0 {
		return false
	}
	return maxLen <= minLen*3
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
