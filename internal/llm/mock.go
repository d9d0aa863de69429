package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient serves deterministic canned completions so the system runs
// end-to-end without credentials. Review prompts get a review-shaped
// response; everything else gets a question artifact.
type MockClient struct{}

// NewMockClient returns the canned-completion client.
func NewMockClient() *MockClient { return &MockClient{} }

// Complete returns a canned response matched to the prompt kind.
func (m *MockClient) Complete(_ context.Context, req Request) (*Response, error) {
	content := mockArtifactJSON(req.Prompt)
	if strings.Contains(req.System, "review") || strings.Contains(req.Prompt, "Review the following") {
		content = mockReviewJSON
	}
	return &Response{
		Content:      content,
		Model:        "mock",
		PromptTokens: 900,
		OutputTokens: 600,
	}, nil
}

// mockArtifactJSON builds a structurally valid question. The topic is
// echoed from the prompt so derived artifacts differ across test cases.
func mockArtifactJSON(prompt string) string {
	topic := "psoriasis"
	if i := strings.Index(prompt, "Topic: "); i >= 0 {
		rest := prompt[i+len("Topic: "):]
		if j := strings.IndexByte(rest, '\n'); j > 0 {
			topic = strings.TrimSpace(rest[:j])
		}
	}

	stem := fmt.Sprintf("A 45-year-old patient presents with a 3-month history of findings consistent with %s. "+
		"Examination reveals characteristic lesions with typical distribution, and the remainder of the physical "+
		"examination is unremarkable. Vital signs are within normal limits.", topic)

	return fmt.Sprintf(`{
  "stem": %q,
  "lead_in": "Which of the following is the most likely diagnosis?",
  "options": {"A": "%s", "B": "Atopic dermatitis", "C": "Lichen planus", "D": "Seborrheic dermatitis", "E": "Pityriasis rosea"},
  "correct_letter": "A",
  "explanation": "The presentation is classic for %s; each distractor lacks the distribution described."
}`, stem, topic, topic)
}

const mockReviewJSON = `{
  "clarity": 4,
  "accuracy": 4,
  "distractors": 4,
  "difficulty_calibration": 4,
  "explanation": 4,
  "feedback": "Solid draft; distractors could be more homogeneous."
}`
