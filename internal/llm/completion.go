// Package llm provides the external model clients the orchestrator
// treats as black boxes: a generation/review completion client with
// model-fallback retry, response decoding into canonical artifact
// shapes, and a mock client for development and tests.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// Request is one completion call to a model.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Response holds the raw completion content and token usage.
type Response struct {
	Content      string
	Model        string
	PromptTokens int
	OutputTokens int
}

// CompletionClient is the completion interface every model backend
// satisfies.
type CompletionClient interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Retry policy for provider calls. On failure of the primary model the
// remaining attempts run against the alternate configuration, with a
// short jittered backoff between attempts.
const (
	// MaxAttempts is the total provider-call bound per request,
	// primary model plus fallback retries.
	MaxAttempts = 3

	initialBackoff  = 500 * time.Millisecond
	backoffMultiple = 2
)

// AnthropicClient calls the Anthropic Messages API with model-fallback
// retry: attempt 1 uses the primary model, later attempts the fallback.
type AnthropicClient struct {
	client   *anthropic.Client
	primary  string
	fallback string
	logger   *slog.Logger
}

// NewAnthropicClient builds a client for the given primary and fallback
// models. The API key is read from the environment by the SDK option.
func NewAnthropicClient(primary, fallback string, logger *slog.Logger) *AnthropicClient {
	client := anthropic.NewClient(
		option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
	)
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{client: &client, primary: primary, fallback: fallback, logger: logger}
}

// Complete performs the call with bounded model-fallback retry. The
// error returned after exhaustion wraps the last provider failure;
// callers classify it into the evaluation taxonomy.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt > 1 {
			// Full jitter keeps concurrent batch workers from retrying in
			// lockstep against the same provider.
			delay := time.Duration(rand.Int64N(int64(backoff) + 1)) // #nosec G404 -- non-cryptographic jitter
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= backoffMultiple
		}

		model := c.primary
		if attempt > 1 && c.fallback != "" {
			model = c.fallback
		}

		resp, err := c.call(ctx, model, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Warn("anthropic call failed",
			"model", model,
			"attempt", attempt,
			"error", err)
	}

	return nil, fmt.Errorf("anthropic call failed after %d attempts: %w", MaxAttempts, lastErr)
}

func (c *AnthropicClient) call(ctx context.Context, model string, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in response from %s", model)
	}

	return &Response{
		Content:      text,
		Model:        model,
		PromptTokens: int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

// NewClientFromEnv selects the model backend the way deployments do:
// MOCK_GENERATOR=true yields the mock client, otherwise the Anthropic
// client with QGEN_MODEL / QGEN_FALLBACK_MODEL overrides.
func NewClientFromEnv(logger *slog.Logger) CompletionClient {
	if os.Getenv("MOCK_GENERATOR") == "true" {
		return NewMockClient()
	}
	primary := os.Getenv("QGEN_MODEL")
	if primary == "" {
		primary = "claude-sonnet-4-5"
	}
	fallback := os.Getenv("QGEN_FALLBACK_MODEL")
	if fallback == "" {
		fallback = "claude-haiku-4-5"
	}
	return NewAnthropicClient(primary, fallback, logger)
}
