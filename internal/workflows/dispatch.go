package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/heliconai/salesdesk/internal/activities"
	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/routing"
	"github.com/heliconai/salesdesk/internal/workers"
)

// taskContext is the per-turn material shared by every task in a batch.
type taskContext struct {
	input  TurnInput
	memory activities.FetchSessionMemoryOutput
}

func (tc taskContext) task(worker string) workers.Task {
	return workers.Task{
		Worker:    worker,
		SessionID: tc.input.SessionID,
		TurnID:    tc.input.TurnID,
		Input:     tc.input.Input,
		Images:    tc.input.Images,
		History:   tc.memory.History,
		Profile:   tc.memory.Profile,
		Stage:     tc.memory.Stage,
	}
}

func taskActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: perTaskTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        taskRetryInterval,
			BackoffCoefficient:     1.0,
			MaximumAttempts:        taskRetryAttempts,
			NonRetryableErrorTypes: []string{activities.WorkerErrorType},
		},
	}
}

// dispatch runs the decision's worker set and returns one TaskResult per
// worker. Parallel batches share a deadline; a worker blowing its own
// deadline or the batch deadline yields a timeout result instead of
// failing the batch.
func dispatch(ctx workflow.Context, decision routing.Decision, tc taskContext) []workers.TaskResult {
	if decision.Mode == routing.ModeSingle {
		return []workers.TaskResult{executeOne(ctx, decision.PrimaryWorker, tc)}
	}
	return executeBatch(ctx, decision.Workers, tc)
}

func executeOne(ctx workflow.Context, worker string, tc taskContext) workers.TaskResult {
	actx := workflow.WithActivityOptions(ctx, taskActivityOptions())
	var result workers.TaskResult
	err := workflow.ExecuteActivity(actx, constants.ExecuteWorkerActivity, tc.task(worker)).Get(ctx, &result)
	return classify(worker, result, err, false)
}

func executeBatch(ctx workflow.Context, workerSet []string, tc taskContext) []workers.TaskResult {
	if len(workerSet) > maxBatchWorkers {
		workflow.GetLogger(ctx).Warn("truncating oversized worker set",
			"dropped", workerSet[maxBatchWorkers:])
		workerSet = workerSet[:maxBatchWorkers]
	}

	bctx, cancelBatch := workflow.WithCancel(ctx)
	actx := workflow.WithActivityOptions(bctx, taskActivityOptions())

	futures := make([]workflow.Future, len(workerSet))
	for i, worker := range workerSet {
		futures[i] = workflow.ExecuteActivity(actx, constants.ExecuteWorkerActivity, tc.task(worker))
	}

	tctx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()
	timer := workflow.NewTimer(tctx, batchTimeout)

	results := make([]workers.TaskResult, len(workerSet))
	batchExpired := false
	completed := 0

	selector := workflow.NewSelector(ctx)
	for i := range futures {
		i := i
		selector.AddFuture(futures[i], func(f workflow.Future) {
			var result workers.TaskResult
			err := f.Get(ctx, &result)
			results[i] = classify(workerSet[i], result, err, batchExpired)
			completed++
		})
	}
	selector.AddFuture(timer, func(f workflow.Future) {
		if err := f.Get(ctx, nil); err != nil {
			// Timer cancelled: batch already drained.
			return
		}
		batchExpired = true
		cancelBatch()
		workflow.GetLogger(ctx).Warn("batch deadline expired, cancelling stragglers",
			"pending", len(workerSet)-completed)
	})

	for completed < len(futures) {
		selector.Select(ctx)
	}
	cancelBatch()
	return results
}

// classify folds an activity outcome into a TaskResult. Every failure
// mode maps to a result so the aggregator sees the whole batch.
func classify(worker string, result workers.TaskResult, err error, batchExpired bool) workers.TaskResult {
	if err == nil {
		if result.Worker == "" {
			result.Worker = worker
		}
		return result
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return workers.TimeoutResult(worker, workers.ScopeTask,
			fmt.Sprintf("worker %s exceeded %s", worker, perTaskTimeout))
	}
	var canceledErr *temporal.CanceledError
	if errors.As(err, &canceledErr) || temporal.IsCanceledError(err) {
		if batchExpired {
			return workers.TimeoutResult(worker, workers.ScopeBatch,
				fmt.Sprintf("batch exceeded %s", batchTimeout))
		}
		return workers.ErrorResult(worker, "task cancelled")
	}
	return workers.ErrorResult(worker, err.Error())
}
