// Package domain provides core types and business logic for exam-question
// pipeline evaluation. It defines evaluation jobs, test-case derivation,
// per-pipeline and per-category rollups, and the error records that capture
// partial failures. The types are designed to support reproducible,
// auditable evaluation runs with bounded resource usage.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an evaluation job.
// Transitions are monotonic (pending → queued → running → completed)
// except that failed is reachable from any non-terminal state.
type JobStatus string

const (
	// JobStatusPending indicates the job has been created but no batch
	// has been dispatched yet.
	JobStatusPending JobStatus = "pending"

	// JobStatusQueued indicates the first batch was successfully handed
	// to the task queue.
	JobStatusQueued JobStatus = "queued"

	// JobStatusRunning indicates at least one batch has started executing.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted indicates every derived test case has been
	// executed and results finalized. Terminal.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates an unrecoverable job-level error.
	// Per-test failures never produce this state. Terminal.
	JobStatusFailed JobStatus = "failed"
)

// String returns the string representation of the job status.
func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// rank orders the non-failed statuses for monotonicity checks.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusQueued:
		return 1
	case JobStatusRunning:
		return 2
	case JobStatusCompleted:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition. Failed is reachable from any non-terminal state;
// all other transitions must move forward.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	return next.rank() > s.rank()
}

// Difficulty identifies a question difficulty tier.
type Difficulty string

const (
	// DifficultyBasic targets recall-level questions.
	DifficultyBasic Difficulty = "Basic"

	// DifficultyIntermediate targets application-level questions.
	DifficultyIntermediate Difficulty = "Intermediate"

	// DifficultyAdvanced targets multi-step clinical reasoning questions.
	DifficultyAdvanced Difficulty = "Advanced"
)

// Difficulties lists all tiers in derivation order. Test-case derivation
// iterates this slice so the derived set is deterministic.
var Difficulties = []Difficulty{DifficultyBasic, DifficultyIntermediate, DifficultyAdvanced}

// Pipeline names accepted by job configuration. Unknown names are
// rejected at creation time, before any persistence write.
const (
	// PipelineFast is the single-pass generation strategy.
	PipelineFast = "fast"

	// PipelineThorough is the multi-agent draft/review/score strategy.
	PipelineThorough = "thorough"

	// PipelineHybrid chooses between fast and thorough per call based on
	// urgency and quality hints.
	PipelineHybrid = "hybrid"
)

// AllowedPipelines is the fixed allow-list used by config validation.
var AllowedPipelines = map[string]bool{
	PipelineFast:     true,
	PipelineThorough: true,
	PipelineHybrid:   true,
}

// Limits on job configuration counts.
const (
	// MaxCountPerDifficulty caps the repeat count for a single tier.
	MaxCountPerDifficulty = 50

	// MaxTotalCount caps the sum of all per-tier counts.
	MaxTotalCount = 50
)

// DefaultTopics is used when a job config supplies no topic list.
var DefaultTopics = []string{
	"Psoriasis",
	"Atopic dermatitis",
	"Melanoma",
	"Basal cell carcinoma",
	"Acne vulgaris",
}

// Common job errors returned by domain operations.
var (
	// ErrInvalidConfig indicates the job configuration failed validation.
	ErrInvalidConfig = errors.New("invalid job configuration")

	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal indicates a mutation was attempted on a job that has
	// already reached a terminal status.
	ErrJobTerminal = errors.New("job already terminal")
)

// DiversityOptions steers blueprint selection toward under-represented
// question shapes during evaluation runs.
type DiversityOptions struct {
	// RequireImage filters blueprint selection to image-based templates
	// when set, falling back to the full difficulty pool when none match.
	RequireImage bool `json:"require_image,omitempty"`
}

// JobConfig is the immutable configuration captured at job creation.
type JobConfig struct {
	// CountsByDifficulty maps each tier to its repeat count per
	// (pipeline, topic) pair. Each count must be in [0, 50] and the sum
	// must be in (0, 50].
	CountsByDifficulty map[Difficulty]int `json:"counts_by_difficulty" validate:"required,min=1"`

	// Pipelines names the generation strategies under evaluation.
	// Every entry must come from the fixed allow-list.
	Pipelines []string `json:"pipelines" validate:"required,min=1,dive,min=1"`

	// Topics lists the question topics to cover. Defaults to
	// DefaultTopics when empty.
	Topics []string `json:"topics,omitempty"`

	// Diversity steers blueprint selection for the run.
	Diversity DiversityOptions `json:"diversity,omitempty"`

	// Seed, when set, makes blueprint selection deterministic so runs
	// are reproducible.
	Seed *int64 `json:"seed,omitempty"`
}

// Validate checks the configuration against the creation-time contract.
// It returns an error wrapping ErrInvalidConfig before any state is
// persisted; the caller must not create a job from an invalid config.
func (c *JobConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	total := 0
	for tier, count := range c.CountsByDifficulty {
		if tier != DifficultyBasic && tier != DifficultyIntermediate && tier != DifficultyAdvanced {
			return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidConfig, tier)
		}
		if count < 0 || count > MaxCountPerDifficulty {
			return fmt.Errorf("%w: count for %s must be in [0, %d], got %d",
				ErrInvalidConfig, tier, MaxCountPerDifficulty, count)
		}
		total += count
	}
	if total == 0 {
		return fmt.Errorf("%w: at least one question must be requested", ErrInvalidConfig)
	}
	if total > MaxTotalCount {
		return fmt.Errorf("%w: total count %d exceeds maximum %d", ErrInvalidConfig, total, MaxTotalCount)
	}

	for _, p := range c.Pipelines {
		if !AllowedPipelines[p] {
			return fmt.Errorf("%w: unknown pipeline %q", ErrInvalidConfig, p)
		}
	}

	return nil
}

// TopicsOrDefault returns the configured topics, or DefaultTopics when
// the config omits them.
func (c *JobConfig) TopicsOrDefault() []string {
	if len(c.Topics) > 0 {
		return c.Topics
	}
	return DefaultTopics
}

// TestCase is one (pipeline, topic, difficulty) combination evaluated
// once. Test cases are derived from the job config and never persisted
// independently.
type TestCase struct {
	Pipeline   string     `json:"pipeline"`
	Topic      string     `json:"topic"`
	Difficulty Difficulty `json:"difficulty"`
	Category   string     `json:"category"`

	// Diversity carries the job's blueprint-selection steering so each
	// case is generated under the configured constraints.
	Diversity DiversityOptions `json:"diversity,omitempty"`

	// Seed carries the job's reproducibility seed; it is folded into
	// the per-case selection seed when set.
	Seed *int64 `json:"seed,omitempty"`
}

// DeriveTestCases expands a config into its deterministic test-case set:
// the cross product of pipelines × topics × per-difficulty repeat counts.
// The derived order is stable for a given config, so batch index ranges
// address the same cases on every invocation.
func DeriveTestCases(config *JobConfig) []TestCase {
	topics := config.TopicsOrDefault()

	var cases []TestCase
	for _, pipeline := range config.Pipelines {
		for _, topic := range topics {
			for _, tier := range Difficulties {
				for i := 0; i < config.CountsByDifficulty[tier]; i++ {
					cases = append(cases, TestCase{
						Pipeline:   pipeline,
						Topic:      topic,
						Difficulty: tier,
						Category:   CategoryForTopic(topic),
						Diversity:  config.Diversity,
						Seed:       config.Seed,
					})
				}
			}
		}
	}
	return cases
}

// topicCategories maps known topics to their taxonomy category. Topics
// outside the map fall into "General".
var topicCategories = map[string]string{
	"Psoriasis":            "Inflammatory",
	"Atopic dermatitis":    "Inflammatory",
	"Melanoma":             "Neoplastic",
	"Basal cell carcinoma": "Neoplastic",
	"Acne vulgaris":        "Follicular",
}

// CategoryForTopic resolves the rollup category for a topic.
func CategoryForTopic(topic string) string {
	if c, ok := topicCategories[topic]; ok {
		return c
	}
	return "General"
}

// JobProgress tracks completion of the derived test-case set.
// CompletedTests is mutated only through atomic store increments and
// never exceeds TotalTests.
type JobProgress struct {
	TotalTests        int        `json:"total_tests"`
	CompletedTests    int        `json:"completed_tests"`
	CurrentPipeline   string     `json:"current_pipeline,omitempty"`
	CurrentTopic      string     `json:"current_topic,omitempty"`
	CurrentDifficulty Difficulty `json:"current_difficulty,omitempty"`
}

// ErrorDetail carries the structured cause of a failed test.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// ErrorContext carries optional diagnostic context for a failed test.
type ErrorContext struct {
	AttemptNumber int    `json:"attempt_number,omitempty"`
	PartialResult string `json:"partial_result,omitempty"`
}

// ErrorEntry records one per-test partial failure. Entries are
// append-only: they are never mutated or removed once recorded.
type ErrorEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	Pipeline   string        `json:"pipeline"`
	Topic      string        `json:"topic"`
	Difficulty Difficulty    `json:"difficulty"`
	Error      ErrorDetail   `json:"error"`
	Context    *ErrorContext `json:"context,omitempty"`
}

// PipelineResult is the per-pipeline rollup. Averages cover successful
// tests only; a pipeline with zero successes reports zero averages
// rather than NaN.
type PipelineResult struct {
	TotalTests   int          `json:"total_tests"`
	SuccessCount int          `json:"success_count"`
	SuccessRate  float64      `json:"success_rate"`
	AvgLatencyMS float64      `json:"avg_latency_ms"`
	AvgQuality   float64      `json:"avg_quality"`
	Failures     []ErrorEntry `json:"failures,omitempty"`
}

// CategoryResult is the per-category rollup, maintained with a running
// mean so memory stays independent of the number of tests.
type CategoryResult struct {
	Category     string  `json:"category"`
	TotalTests   int     `json:"total_tests"`
	SuccessCount int     `json:"success_count"`
	AvgQuality   float64 `json:"avg_quality"`
}

// OverallMetrics aggregates across all pipelines once a job finishes.
type OverallMetrics struct {
	TotalTests         int     `json:"total_tests"`
	TotalSuccesses     int     `json:"total_successes"`
	OverallSuccessRate float64 `json:"overall_success_rate"`
	AvgLatencyMS       float64 `json:"avg_latency_ms"`
	AvgQuality         float64 `json:"avg_quality"`
	TotalDurationMS    int64   `json:"total_duration_ms"`
}

// JobResults accumulates rollups and partial-failure records for a job.
// Fields only ever grow; concurrent batch completions merge their
// contributions through the store, never by blind overwrite.
type JobResults struct {
	ByPipeline map[string]*PipelineResult `json:"by_pipeline"`
	ByCategory map[string]*CategoryResult `json:"by_category"`
	Overall    *OverallMetrics            `json:"overall,omitempty"`
	Errors     []ErrorEntry               `json:"errors,omitempty"`
}

// NewJobResults returns an empty results container with maps allocated.
func NewJobResults() *JobResults {
	return &JobResults{
		ByPipeline: make(map[string]*PipelineResult),
		ByCategory: make(map[string]*CategoryResult),
	}
}

// EvaluationJob is the root aggregate for one evaluation run. It is
// owned exclusively by the job manager; batch workers mutate it only
// through increment/merge store operations.
type EvaluationJob struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Config    JobConfig   `json:"config"`
	Progress  JobProgress `json:"progress"`
	Results   *JobResults `json:"results"`
	TaskIDs   []string    `json:"task_ids,omitempty"`
	CreatedBy string      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`

	// Error holds the job-level fatal error message when Status is
	// failed. Per-test failures live in Results.Errors instead.
	Error string `json:"error,omitempty"`
}

// NewEvaluationJob constructs a pending job with a fresh id and the
// derived test-case total. The config must already be validated.
func NewEvaluationJob(createdBy string, config JobConfig) *EvaluationJob {
	now := time.Now().UTC()
	return &EvaluationJob{
		ID:        uuid.New().String(),
		Status:    JobStatusPending,
		Config:    config,
		Progress:  JobProgress{TotalTests: len(DeriveTestCases(&config))},
		Results:   NewJobResults(),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
