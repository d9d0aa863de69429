package domain

// OptionStrategy names how a blueprint wants distractors constructed.
type OptionStrategy string

const (
	// OptionsSameClass requires all options drawn from one clinical
	// class (all diagnoses, all treatments, or all tests).
	OptionsSameClass OptionStrategy = "same_class"

	// OptionsMechanism requires options that differ by underlying
	// mechanism rather than by entity.
	OptionsMechanism OptionStrategy = "mechanism"

	// OptionsNextStep requires management next-step options.
	OptionsNextStep OptionStrategy = "next_step"
)

// BlueprintConstraints pins the structural rules a blueprint imposes on
// generated questions.
type BlueprintConstraints struct {
	// OptionsCount is always 5 for board-style items.
	OptionsCount int `json:"options_count"`

	// SingleBestAnswer is always true; multi-select is not produced.
	SingleBestAnswer bool `json:"single_best_answer"`

	// Difficulty is the tier this blueprint targets.
	Difficulty Difficulty `json:"difficulty"`

	// BannedPhrases lists lead-in phrasings the blueprint forbids,
	// chiefly negation markers.
	BannedPhrases []string `json:"banned_phrases,omitempty"`
}

// BlueprintA11y carries accessibility metadata for image-based items.
type BlueprintA11y struct {
	// ImageRequired marks blueprints whose stem depends on an image.
	ImageRequired bool `json:"image_required"`

	// AltTextHint guides alt-text authoring for the required image.
	AltTextHint string `json:"alt_text_hint,omitempty"`
}

// QuestionBlueprint is a static template constraining a generated
// question's lead-in style, required clinical clues, and option
// strategy. Catalog entries are read-only; selection never mutates them.
type QuestionBlueprint struct {
	ID                 string               `json:"id"`
	LeadIn             string               `json:"lead_in"`
	CognitiveTarget    string               `json:"cognitive_target"`
	RequiredClues      []string             `json:"required_clues"`
	OptionalClues      []string             `json:"optional_clues,omitempty"`
	Constraints        BlueprintConstraints `json:"constraints"`
	OptionStrategy     OptionStrategy       `json:"option_strategy"`
	ExplanationOutline []string             `json:"explanation_outline,omitempty"`
	A11y               *BlueprintA11y       `json:"a11y,omitempty"`
}
