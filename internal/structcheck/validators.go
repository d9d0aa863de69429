// Package structcheck provides pure, synchronous structural checks for
// generated question artifacts. In batch evaluation the checks are
// advisory signals recorded alongside results; in iterative refinement
// they act as hard gates. Callers decide which; the checks themselves
// never mutate their input beyond boundary normalization.
package structcheck

import (
	"strings"
	"unicode/utf8"

	"github.com/medscale/qgen-eval/internal/domain"
)

// MaxOptions is the canonical option count for board-style items.
const MaxOptions = 5

// MinStemLength is the character floor a stem must meet for the
// "cover the options" check. Shorter stems cannot carry enough clinical
// detail to be answerable without the options.
const MinStemLength = 120

// EnsureFiveOptions coerces either option shape into an ordered list of
// at most five well-formed entries. Empty or whitespace-only options
// are dropped; the result is never padded with synthetic content.
func EnsureFiveOptions(set domain.OptionSet) []string {
	ordered := set.Ordered()
	result := make([]string, 0, MaxOptions)
	for _, opt := range ordered {
		if strings.TrimSpace(opt) == "" {
			continue
		}
		result = append(result, opt)
		if len(result) == MaxOptions {
			break
		}
	}
	return result
}

// HasSingleBestAnswer reports whether the correct-answer indicator is a
// valid index in [0,4] or a letter in A..E for the given option count.
func HasSingleBestAnswer(correctIndex int, correctLetter string, optionCount int) bool {
	idx := correctIndex
	if correctLetter != "" {
		idx = domain.LetterToIndex(correctLetter)
	}
	return idx >= 0 && idx < MaxOptions && idx < optionCount
}

// OptionClass is the clinical class an option is heuristically assigned.
type OptionClass string

const (
	// ClassTest marks diagnostic test or imaging options.
	ClassTest OptionClass = "test"

	// ClassTreatment marks therapy and management options.
	ClassTreatment OptionClass = "treatment"

	// ClassDiagnosis marks disease-entity options.
	ClassDiagnosis OptionClass = "diagnosis"
)

var testKeywords = []string{
	"biopsy", "culture", "ct ", "mri", "x-ray", "radiograph", "ultrasound",
	"serology", "titer", "panel", "smear", "level", "test", "scope", "swab",
}

var treatmentKeywords = []string{
	"therapy", "administer", "prescribe", "topical", "oral", "injection",
	"surgery", "excision", "cream", "ointment", "dose", "mg", "antibiotic",
	"steroid", "immunotherapy", "phototherapy", "start",
}

// ClassifyOption assigns an option to one clinical class using keyword
// heuristics. Options matching no test or treatment keyword default to
// diagnosis, which is the dominant class in practice.
func ClassifyOption(option string) OptionClass {
	lower := strings.ToLower(option)
	for _, kw := range testKeywords {
		if strings.Contains(lower, kw) {
			return ClassTest
		}
	}
	for _, kw := range treatmentKeywords {
		if strings.Contains(lower, kw) {
			return ClassTreatment
		}
	}
	return ClassDiagnosis
}

// CheckHomogeneous reports whether all options share one clinical
// class. Heterogeneous option sets telegraph the answer and are flagged
// as a style defect.
func CheckHomogeneous(options []string) bool {
	if len(options) == 0 {
		return false
	}
	first := ClassifyOption(options[0])
	for _, opt := range options[1:] {
		if ClassifyOption(opt) != first {
			return false
		}
	}
	return true
}

// askPatterns are lead-in phrasings that pose a focused question. A
// lead-in matching none of these cannot be answered without reading the
// options.
var askPatterns = []string{
	"most likely",
	"best",
	"next step",
	"most appropriate",
	"initial",
}

// CheckCoverTheOptions is a proxy for "answerable without seeing the
// options": the lead-in must match an ask pattern AND the stem must
// meet the minimum length threshold. Both conditions are required.
func CheckCoverTheOptions(leadIn, stem string) bool {
	lower := strings.ToLower(leadIn)
	matched := false
	for _, p := range askPatterns {
		if strings.Contains(lower, p) {
			matched = true
			break
		}
	}
	// The floor counts characters, not bytes, so multibyte vignettes
	// are measured the same as ASCII ones.
	return matched && utf8.RuneCountInString(stem) >= MinStemLength
}

// GuardResult is the outcome of an advisory guard. Guards return a
// reason instead of throwing so callers can treat violations as quality
// signals rather than hard failures.
type GuardResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// negationMarkers disqualify a lead-in under single-best-answer style
// rules. Negative lead-ins test recognition of exceptions, which board
// style forbids.
var negationMarkers = []string{"except", "least", "not"}

// GuardNegativeLeadIn rejects lead-ins containing negation markers.
// Matching is word-boundary aware so "notably" does not trip the guard.
func GuardNegativeLeadIn(leadIn string) GuardResult {
	words := strings.FieldsFunc(strings.ToLower(leadIn), func(r rune) bool {
		return !('a' <= r && r <= 'z')
	})
	for _, w := range words {
		for _, marker := range negationMarkers {
			if w == marker {
				return GuardResult{OK: false, Reason: "negative lead-in: contains " + strings.ToUpper(marker)}
			}
		}
	}
	return GuardResult{OK: true}
}

// DetectDuplicateOptions returns the indices of options whose trimmed,
// case-folded text duplicates an earlier option. The earlier occurrence
// keeps its place; only repeats are reported.
func DetectDuplicateOptions(options []string) []int {
	seen := make(map[string]bool, len(options))
	var dups []int
	for i, opt := range options {
		key := strings.ToLower(strings.TrimSpace(opt))
		if seen[key] {
			dups = append(dups, i)
			continue
		}
		seen[key] = true
	}
	return dups
}

// Report bundles every advisory check outcome for one artifact. It is
// recorded alongside evaluation results and consulted as a hard gate by
// the refinement loop.
type Report struct {
	OptionCountOK    bool        `json:"option_count_ok"`
	SingleBestAnswer bool        `json:"single_best_answer"`
	Homogeneous      bool        `json:"homogeneous"`
	CoversOptions    bool        `json:"covers_options"`
	LeadInGuard      GuardResult `json:"lead_in_guard"`
	DuplicateIndices []int       `json:"duplicate_indices,omitempty"`
}

// Passed reports whether every check succeeded. Used by the refinement
// loop, where structural defects block shipping.
func (r Report) Passed() bool {
	return r.OptionCountOK &&
		r.SingleBestAnswer &&
		r.Homogeneous &&
		r.CoversOptions &&
		r.LeadInGuard.OK &&
		len(r.DuplicateIndices) == 0
}

// Inspect runs every structural check against a normalized artifact.
func Inspect(a *domain.GeneratedArtifact) Report {
	return Report{
		OptionCountOK:    len(a.Options) == MaxOptions,
		SingleBestAnswer: HasSingleBestAnswer(a.CorrectIndex, "", len(a.Options)),
		Homogeneous:      CheckHomogeneous(a.Options),
		CoversOptions:    CheckCoverTheOptions(a.LeadIn, a.Stem),
		LeadInGuard:      GuardNegativeLeadIn(a.LeadIn),
		DuplicateIndices: DetectDuplicateOptions(a.Options),
	}
}
