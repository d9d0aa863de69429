package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OptionLetters are the canonical answer labels in presentation order.
var OptionLetters = []string{"A", "B", "C", "D", "E"}

// OptionSet is the tagged union of the two option shapes generation
// strategies emit: an ordered list or a letter-keyed map. It exists so
// the duck-typed provider output is pinned down at the decode boundary;
// everything downstream of the validators sees only the canonical
// ordered-list form.
type OptionSet struct {
	// List holds ordered options when the source emitted an array.
	List []string

	// Keyed holds letter-keyed options when the source emitted a map.
	// Only consulted when List is nil.
	Keyed map[string]string
}

// UnmarshalJSON accepts either a JSON array of strings or an object
// keyed by answer letters.
func (o *OptionSet) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &o.List)
	}
	return json.Unmarshal(data, &o.Keyed)
}

// MarshalJSON always emits the canonical ordered-list form.
func (o OptionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Ordered())
}

// Ordered returns the options as an ordered slice. Keyed options are
// emitted in A..E order with case-insensitive key matching, so a
// provider emitting lowercase letters still normalizes; letters absent
// from the map are skipped rather than padded with synthetic content.
func (o OptionSet) Ordered() []string {
	if o.List != nil {
		return o.List
	}
	if o.Keyed == nil {
		return nil
	}
	folded := make(map[string]string, len(o.Keyed))
	for k, v := range o.Keyed {
		folded[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	ordered := make([]string, 0, len(folded))
	for _, letter := range OptionLetters {
		if v, ok := folded[letter]; ok {
			ordered = append(ordered, v)
		}
	}
	return ordered
}

// GeneratedArtifact is the normalized question produced by any
// pipeline. Strategy-native shapes are converted to this form at the
// executor boundary; no raw provider payloads leak upward.
type GeneratedArtifact struct {
	// Stem is the clinical vignette preceding the lead-in.
	Stem string `json:"stem" validate:"required,min=1"`

	// LeadIn is the question sentence the options answer.
	LeadIn string `json:"lead_in" validate:"required,min=1"`

	// Options are the canonical ordered answer choices.
	Options []string `json:"options" validate:"required,min=2,max=5"`

	// CorrectIndex locates the single best answer within Options.
	CorrectIndex int `json:"correct_index" validate:"min=0,max=4"`

	// Explanation justifies the correct answer and refutes distractors.
	Explanation string `json:"explanation"`

	// Pipeline records which strategy produced the artifact.
	Pipeline string `json:"pipeline,omitempty"`
}

// Validate checks the artifact against its structural contract.
func (a *GeneratedArtifact) Validate() error {
	if err := validate.Struct(a); err != nil {
		return err
	}
	if a.CorrectIndex >= len(a.Options) {
		return fmt.Errorf("correct_index %d out of range for %d options", a.CorrectIndex, len(a.Options))
	}
	return nil
}

// CorrectLetter returns the answer letter for the correct index, or ""
// when the index is out of the letter range.
func (a *GeneratedArtifact) CorrectLetter() string {
	if a.CorrectIndex < 0 || a.CorrectIndex >= len(OptionLetters) {
		return ""
	}
	return OptionLetters[a.CorrectIndex]
}

// LetterToIndex converts an answer letter in A..E (case-insensitive) to
// its option index. Returns -1 for anything else.
func LetterToIndex(letter string) int {
	upper := strings.ToUpper(strings.TrimSpace(letter))
	for i, l := range OptionLetters {
		if upper == l {
			return i
		}
	}
	return -1
}
