// Package events carries the evaluation pipeline's observability side
// channel: a versioned envelope around domain events plus the sink port
// batch workers emit through. Emission is best-effort everywhere; a
// sink outage never fails a batch.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the evaluation pipeline.
const (
	// TypeJobCreated fires once per job, after the record persists.
	TypeJobCreated = "eval.job_created"

	// TypeBatchFolded fires when a batch's outcomes have been merged
	// into job state.
	TypeBatchFolded = "eval.batch_folded"

	// TypeTestFailed fires per recorded partial failure.
	TypeTestFailed = "eval.test_failed"

	// TypeJobCompleted fires when a job reaches a terminal status.
	TypeJobCompleted = "eval.job_completed"
)

// SchemaVersion is the current envelope payload schema version.
const SchemaVersion = "1.0.0"

// Envelope wraps one domain event with the metadata consumers need for
// routing and de-duplication. Payload schemas vary by Type and Version.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey lets at-least-once delivery collapse to
	// exactly-once processing downstream. Derived from the job, task,
	// and event type, not randomly generated.
	IdempotencyKey string `json:"idempotency_key"`

	// JobID and TaskID correlate the event with its evaluation job and
	// originating batch. TaskID is empty for job-level events.
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id,omitempty"`

	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope for the given event, encoding payload
// as JSON. An unencodable payload yields an envelope with a null
// payload rather than an error: the event metadata alone is still worth
// emitting.
func NewEnvelope(eventType, source, jobID, taskID string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return Envelope{
		ID:             uuid.New().String(),
		Type:           eventType,
		Source:         source,
		Version:        SchemaVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: fmt.Sprintf("%s:%s:%s", jobID, taskID, eventType),
		JobID:          jobID,
		TaskID:         taskID,
		Payload:        raw,
	}
}

// EventSink receives envelopes with best-effort delivery semantics.
// Implementations must treat duplicate idempotency keys as no-ops and
// return quickly; callers never fail their primary operation on a sink
// error.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpSink drops every event. Used in tests and when emission is
// disabled.
type NoOpSink struct{}

// Append always succeeds without side effects.
func (NoOpSink) Append(context.Context, Envelope) error { return nil }

// LogSink writes envelopes to structured logs, which is the default
// production sink until a downstream consumer exists.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds a sink over the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Append logs the envelope at info level.
func (s *LogSink) Append(_ context.Context, envelope Envelope) error {
	s.logger.Info("event emitted",
		"event_type", envelope.Type,
		"source", envelope.Source,
		"job_id", envelope.JobID,
		"task_id", envelope.TaskID,
		"idempotency_key", envelope.IdempotencyKey)
	return nil
}
