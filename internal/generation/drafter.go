// Package generation executes evaluation test cases: it selects a
// blueprint, runs the named pipeline strategy against the model, and
// normalizes whatever the strategy produced into a GeneratedArtifact
// before anything upstream sees it.
package generation

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"github.com/medscale/qgen-eval/internal/blueprint"
	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/llm"
)

const draftSystemPrompt = `You are a dermatology board-exam item writer. ` +
	`Produce one single-best-answer multiple-choice question. Respond with ` +
	`a single JSON object and nothing else: {"stem": string, "lead_in": ` +
	`string, "options": [5 strings], "correct_index": 0-4, "explanation": ` +
	`string}. The stem must be a realistic clinical vignette. Never use ` +
	`negative lead-ins (EXCEPT, NOT, LEAST).`

// DraftInput parameterizes one single-pass draft.
type DraftInput struct {
	Topic      string
	Difficulty domain.Difficulty
	Blueprint  *domain.QuestionBlueprint

	// Context carries optional background material gathered by a prior
	// call, included in the prompt when present.
	Context string
}

// Drafter produces one artifact per call from the completion model.
type Drafter struct {
	client llm.CompletionClient
	logger *slog.Logger
}

// NewDrafter builds a drafter over the given client.
func NewDrafter(client llm.CompletionClient, logger *slog.Logger) *Drafter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drafter{client: client, logger: logger}
}

// Draft requests one question and decodes it into the normalized
// artifact shape. Model-call retry lives inside the client; a failure
// here means all attempts were exhausted.
func (d *Drafter) Draft(ctx context.Context, in DraftInput) (*domain.GeneratedArtifact, error) {
	resp, err := d.client.Complete(ctx, llm.Request{
		System:      draftSystemPrompt,
		Prompt:      buildDraftPrompt(in),
		MaxTokens:   1600,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}

	artifact, err := llm.DecodeArtifact(resp.Content)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("question drafted",
		"topic", in.Topic,
		"difficulty", in.Difficulty,
		"output_tokens", resp.OutputTokens)
	return artifact, nil
}

// buildDraftPrompt renders the user message, folding in the blueprint's
// structural constraints when one was selected.
func buildDraftPrompt(in DraftInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nDifficulty: %s\n", in.Topic, in.Difficulty)

	if bp := in.Blueprint; bp != nil {
		fmt.Fprintf(&b, "Lead-in style: %s\nCognitive target: %s\n", bp.LeadIn, bp.CognitiveTarget)
		if len(bp.RequiredClues) > 0 {
			fmt.Fprintf(&b, "The vignette must include: %s\n", strings.Join(bp.RequiredClues, "; "))
		}
		switch bp.OptionStrategy {
		case domain.OptionsSameClass:
			b.WriteString("All five options must be drawn from one clinical class.\n")
		case domain.OptionsMechanism:
			b.WriteString("Options must differ by underlying mechanism.\n")
		case domain.OptionsNextStep:
			b.WriteString("Options must be management next steps.\n")
		}
		if bp.A11y != nil && bp.A11y.ImageRequired {
			fmt.Fprintf(&b, "Describe the lesion as if an image were shown (%s).\n", bp.A11y.AltTextHint)
		}
	}

	if in.Context != "" {
		fmt.Fprintf(&b, "Background material:\n%s\n", in.Context)
	}

	b.WriteString("Write the question now.")
	return b.String()
}

// seedForCase derives a deterministic blueprint-selection seed from a
// test case, so identical job configs evaluate identical blueprints.
// The job-level seed, when configured, is folded in first so two jobs
// that differ only by seed explore different blueprints.
func seedForCase(tc domain.TestCase) int64 {
	h := fnv.New64a()
	if tc.Seed != nil {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(*tc.Seed))
		h.Write(buf[:])
		h.Write([]byte{0})
	}
	h.Write([]byte(tc.Pipeline))
	h.Write([]byte{0})
	h.Write([]byte(tc.Topic))
	h.Write([]byte{0})
	h.Write([]byte(tc.Difficulty))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

// selectBlueprint picks the template for a test case under the case's
// own diversity constraints. Selection failures are tolerated: drafting
// proceeds unconstrained rather than failing the test, since no tier
// should ever be missing from a well-formed catalog.
func selectBlueprint(selector *blueprint.Selector, tc domain.TestCase) *domain.QuestionBlueprint {
	seed := seedForCase(tc)
	bp, err := selector.Select(blueprint.SelectInput{
		Topic:      tc.Topic,
		Difficulty: tc.Difficulty,
		Diversity:  tc.Diversity,
		Seed:       &seed,
	})
	if err != nil {
		return nil
	}
	return bp
}
