package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies evaluation failures for retry decisions and
// aggregate error reporting. Per-test codes are recorded in ErrorEntry
// records; only JobFatalError ever flips a job to failed.
type ErrorCode string

const (
	// CodeValidation indicates bad caller input, rejected before any
	// state mutation. Never retried.
	CodeValidation ErrorCode = "validation"

	// CodeTimeout indicates a per-test execution exceeded its ceiling.
	// Non-fatal at job level.
	CodeTimeout ErrorCode = "timeout"

	// CodeGeneration indicates a generation strategy exhausted its
	// model-fallback retries. Non-fatal at job level.
	CodeGeneration ErrorCode = "generation"

	// CodeParsing indicates a malformed structured response from a
	// generation or review call. Non-fatal at job level.
	CodeParsing ErrorCode = "parsing"

	// CodeQueueDispatch indicates the task queue rejected or failed a
	// batch submission. Triggers the synchronous fallback path.
	CodeQueueDispatch ErrorCode = "queue_dispatch"

	// CodeJobFatal indicates a job creation or persistence failure.
	// The only code that terminates a job.
	CodeJobFatal ErrorCode = "job_fatal"
)

// ValidationError reports invalid caller input. It is raised before any
// persistence write, so a job is never created from a bad config.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error returns the formatted validation failure.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Code returns the taxonomy code for validation failures.
func (e *ValidationError) Code() ErrorCode { return CodeValidation }

// TimeoutError reports a test execution that exceeded the per-test
// ceiling. The configured duration is carried for diagnostics.
type TimeoutError struct {
	Duration time.Duration `json:"duration"`
	Op       string        `json:"op"`
}

// Error returns the formatted timeout description.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Duration)
}

// Code returns the taxonomy code for timeouts.
func (e *TimeoutError) Code() ErrorCode { return CodeTimeout }

// GenerationError reports a generation strategy that exhausted its
// model-fallback retries. The attempt count and last underlying cause
// are preserved for the job's error log.
type GenerationError struct {
	Pipeline string `json:"pipeline"`
	Attempts int    `json:"attempts"`
	Cause    error  `json:"-"`
}

// Error returns the formatted generation failure with its cause.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("pipeline %s failed after %d attempts: %v", e.Pipeline, e.Attempts, e.Cause)
}

// Unwrap exposes the underlying provider error for errors.Is/As.
func (e *GenerationError) Unwrap() error { return e.Cause }

// Code returns the taxonomy code for exhausted generation retries.
func (e *GenerationError) Code() ErrorCode { return CodeGeneration }

// ParsingError reports a structured response that could not be decoded
// into the expected artifact or review shape.
type ParsingError struct {
	Source string `json:"source"`
	Cause  error  `json:"-"`
}

// Error returns the formatted parse failure with its source.
func (e *ParsingError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Source, e.Cause)
}

// Unwrap exposes the underlying decode error.
func (e *ParsingError) Unwrap() error { return e.Cause }

// Code returns the taxonomy code for parse failures.
func (e *ParsingError) Code() ErrorCode { return CodeParsing }

// QueueDispatchError reports a failed batch submission to the task
// queue. Dispatch errors are logged and trigger the synchronous
// fallback; they never fail the job.
type QueueDispatchError struct {
	TaskID string `json:"task_id"`
	Cause  error  `json:"-"`
}

// Error returns the formatted dispatch failure.
func (e *QueueDispatchError) Error() string {
	return fmt.Sprintf("queue dispatch of task %s failed: %v", e.TaskID, e.Cause)
}

// Unwrap exposes the underlying queue error.
func (e *QueueDispatchError) Unwrap() error { return e.Cause }

// Code returns the taxonomy code for dispatch failures.
func (e *QueueDispatchError) Code() ErrorCode { return CodeQueueDispatch }

// JobFatalError reports an unrecoverable job-level failure, such as the
// job store rejecting a write. It is the only error class that moves a
// job to the failed status; partial results recorded beforehand remain
// visible.
type JobFatalError struct {
	JobID string `json:"job_id"`
	Cause error  `json:"-"`
}

// Error returns the formatted fatal failure.
func (e *JobFatalError) Error() string {
	return fmt.Sprintf("job %s fatal error: %v", e.JobID, e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *JobFatalError) Unwrap() error { return e.Cause }

// Code returns the taxonomy code for job-level failures.
func (e *JobFatalError) Code() ErrorCode { return CodeJobFatal }

// coded is implemented by every taxonomy error type.
type coded interface{ Code() ErrorCode }

// ClassifyError returns the taxonomy code for err, or CodeGeneration
// when the error carries no explicit classification. Unclassified
// errors from strategy internals are treated as generation failures so
// they stay non-fatal.
func ClassifyError(err error) ErrorCode {
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeGeneration
}

// IsJobFatal reports whether err must terminate the owning job.
func IsJobFatal(err error) bool {
	return ClassifyError(err) == CodeJobFatal
}

// NewErrorEntry builds the append-only error record for a failed test.
func NewErrorEntry(tc TestCase, err error, attempt int) ErrorEntry {
	entry := ErrorEntry{
		Timestamp:  time.Now().UTC(),
		Pipeline:   tc.Pipeline,
		Topic:      tc.Topic,
		Difficulty: tc.Difficulty,
		Error: ErrorDetail{
			Message: err.Error(),
			Code:    string(ClassifyError(err)),
		},
	}
	if attempt > 0 {
		entry.Context = &ErrorContext{AttemptNumber: attempt}
	}
	return entry
}
