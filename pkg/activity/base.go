// Package activity holds the infrastructure shared by batch activity
// implementations: safe logging and heartbeats that tolerate
// non-activity contexts, and fire-and-forget event emission.
package activity

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/medscale/qgen-eval/pkg/events"
)

// Base carries the cross-cutting collaborators every batch activity
// needs. Embed it in activity structs.
type Base struct {
	sink events.EventSink
}

// NewBase builds activity infrastructure over the given sink. A nil
// sink disables emission.
func NewBase(sink events.EventSink) Base {
	return Base{sink: sink}
}

// EmitEventSafe appends the envelope with a short bounded retry and
// never returns an error: events serve observability, and losing one
// must not fail the batch that produced it.
func (b Base) EmitEventSafe(ctx context.Context, envelope events.Envelope) {
	if b.sink == nil {
		return
	}

	const attempts = 2
	const retryDelay = 200 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return
			}
		}
		if err := b.sink.Append(ctx, envelope); err != nil {
			lastErr = err
			continue
		}
		return
	}

	SafeLogError(ctx, "event emission failed",
		"event_type", envelope.Type,
		"job_id", envelope.JobID,
		"error", lastErr)
}

// SafeLog logs through the activity logger when one is available and is
// a no-op otherwise, so shared code runs unchanged under the Temporal
// worker, the synchronous fallback path, and tests.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat reports batch progress to the Temporal server when
// running inside an activity and is ignored everywhere else. Batches
// heartbeat between test cases so a hung provider call is detected
// before the dispatch deadline.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() { _ = recover() }()
	activity.RecordHeartbeat(ctx, details...)
}
