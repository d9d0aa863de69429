package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/medscale/qgen-eval/internal/dispatch"
)

func TestEvaluationBatchWorkflow(t *testing.T) {
	payload := dispatch.TaskPayload{
		JobID:      "job-1",
		TaskID:     "job-1-batch-0",
		StartIndex: 0,
		BatchSize:  2,
	}

	t.Run("invokes the batch activity with the payload", func(t *testing.T) {
		var ts testsuite.WorkflowTestSuite
		env := ts.NewTestWorkflowEnvironment()

		called := false
		env.RegisterActivityWithOptions(func(_ context.Context, p dispatch.TaskPayload) error {
			called = true
			assert.Equal(t, payload, p)
			return nil
		}, activity.RegisterOptions{Name: ProcessBatchActivityName})

		env.ExecuteWorkflow(EvaluationBatchWorkflow, payload)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		assert.True(t, called, "workflow must hand the payload to the batch handler")
	})

	t.Run("activity failure propagates to the workflow result", func(t *testing.T) {
		var ts testsuite.WorkflowTestSuite
		env := ts.NewTestWorkflowEnvironment()

		env.RegisterActivityWithOptions(func(context.Context, dispatch.TaskPayload) error {
			return temporal.NewNonRetryableApplicationError("job record lost", "JobFatal", nil)
		}, activity.RegisterOptions{Name: ProcessBatchActivityName})

		env.ExecuteWorkflow(EvaluationBatchWorkflow, payload)

		require.True(t, env.IsWorkflowCompleted())
		assert.Error(t, env.GetWorkflowError())
	})

	t.Run("rejects a payload without identifiers", func(t *testing.T) {
		var ts testsuite.WorkflowTestSuite
		env := ts.NewTestWorkflowEnvironment()

		env.ExecuteWorkflow(EvaluationBatchWorkflow, dispatch.TaskPayload{})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)

		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "Validation", appErr.Type())
	})
}
