// Package blueprint provides the static question-template catalog and
// deterministic, seedable selection over it. Evaluation runs select
// with a seed for reproducibility; ad hoc generation selects randomly
// for variety.
package blueprint

import "github.com/medscale/qgen-eval/internal/domain"

// Catalog is the built-in blueprint set. Entries are read-only;
// selection never mutates them.
var Catalog = []domain.QuestionBlueprint{
	{
		ID:              "bp-basic-dx-classic",
		LeadIn:          "Which of the following is the most likely diagnosis?",
		CognitiveTarget: "recognition",
		RequiredClues:   []string{"age", "lesion morphology", "distribution"},
		OptionalClues:   []string{"duration", "family history"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyBasic,
			BannedPhrases:    []string{"except", "not", "least"},
		},
		OptionStrategy:     domain.OptionsSameClass,
		ExplanationOutline: []string{"correct answer rationale", "key distinguishing features"},
	},
	{
		ID:              "bp-basic-dx-image",
		LeadIn:          "Based on the image, which of the following is the most likely diagnosis?",
		CognitiveTarget: "visual recognition",
		RequiredClues:   []string{"lesion morphology", "anatomic site"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyBasic,
		},
		OptionStrategy:     domain.OptionsSameClass,
		ExplanationOutline: []string{"image findings", "correct answer rationale"},
		A11y:               &domain.BlueprintA11y{ImageRequired: true, AltTextHint: "describe lesion color, border, and scale"},
	},
	{
		ID:              "bp-basic-firstline",
		LeadIn:          "Which of the following is the best initial treatment?",
		CognitiveTarget: "management recall",
		RequiredClues:   []string{"confirmed diagnosis", "severity"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyBasic,
		},
		OptionStrategy:     domain.OptionsSameClass,
		ExplanationOutline: []string{"first-line rationale", "why alternatives are second-line"},
	},
	{
		ID:              "bp-int-workup",
		LeadIn:          "Which of the following is the most appropriate next step in diagnosis?",
		CognitiveTarget: "diagnostic reasoning",
		RequiredClues:   []string{"presenting complaint", "exam findings", "one ambiguous feature"},
		OptionalClues:   []string{"prior treatment failure"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyIntermediate,
		},
		OptionStrategy:     domain.OptionsNextStep,
		ExplanationOutline: []string{"why this step", "what each alternative would miss"},
	},
	{
		ID:              "bp-int-mechanism",
		LeadIn:          "Which of the following best explains the underlying mechanism?",
		CognitiveTarget: "pathophysiology",
		RequiredClues:   []string{"clinical presentation", "histologic hint"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyIntermediate,
		},
		OptionStrategy:     domain.OptionsMechanism,
		ExplanationOutline: []string{"mechanism chain", "distractor mechanisms"},
	},
	{
		ID:              "bp-int-image-workup",
		LeadIn:          "Given the image and history, which of the following is the most appropriate next step?",
		CognitiveTarget: "visual plus reasoning",
		RequiredClues:   []string{"image findings", "risk factors"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyIntermediate,
		},
		OptionStrategy:     domain.OptionsNextStep,
		ExplanationOutline: []string{"image findings", "next-step rationale"},
		A11y:               &domain.BlueprintA11y{ImageRequired: true},
	},
	{
		ID:              "bp-adv-atypical",
		LeadIn:          "Which of the following is the most likely diagnosis?",
		CognitiveTarget: "atypical presentation reasoning",
		RequiredClues:   []string{"atypical demographic", "misleading feature", "decisive clue"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyAdvanced,
		},
		OptionStrategy:     domain.OptionsSameClass,
		ExplanationOutline: []string{"why the misleading feature misleads", "decisive clue rationale"},
	},
	{
		ID:              "bp-adv-comorbid",
		LeadIn:          "Which of the following is the most appropriate management?",
		CognitiveTarget: "management under constraints",
		RequiredClues:   []string{"diagnosis", "comorbidity contraindicating first-line therapy"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyAdvanced,
		},
		OptionStrategy:     domain.OptionsSameClass,
		ExplanationOutline: []string{"contraindication", "second-line rationale"},
	},
	{
		ID:              "bp-adv-complication",
		LeadIn:          "Which of the following complications is this patient at greatest risk for?",
		CognitiveTarget: "prognostic reasoning",
		RequiredClues:   []string{"established diagnosis", "risk-modifying factor"},
		Constraints: domain.BlueprintConstraints{
			OptionsCount:     5,
			SingleBestAnswer: true,
			Difficulty:       domain.DifficultyAdvanced,
		},
		OptionStrategy:     domain.OptionsSameClass,
		ExplanationOutline: []string{"risk linkage", "surveillance implications"},
	},
}
