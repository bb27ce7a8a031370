// Package workflows contains the Temporal workflow that drives one
// conversational turn: route, guard, dispatch, aggregate, remember.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/heliconai/salesdesk/internal/activities"
	"github.com/heliconai/salesdesk/internal/aggregation"
	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/guard"
	"github.com/heliconai/salesdesk/internal/routing"
	"github.com/heliconai/salesdesk/internal/workers"
)

func infraActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    200 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
}

// TurnWorkflow executes one turn end to end. It always completes: every
// failure mode folds into the TurnResult rather than failing the
// workflow, so callers get a reply (or an apology) either way.
func TurnWorkflow(ctx workflow.Context, input TurnInput) (TurnResult, error) {
	logger := workflow.GetLogger(ctx)
	start := workflow.Now(ctx)
	ictx := workflow.WithActivityOptions(ctx, infraActivityOptions())

	var mem activities.FetchSessionMemoryOutput
	if err := workflow.ExecuteActivity(ictx, constants.FetchSessionMemoryActivity,
		activities.FetchSessionMemoryInput{SessionID: input.SessionID, HistoryLimit: input.HistoryLimit},
	).Get(ctx, &mem); err != nil {
		logger.Warn("session memory unavailable, continuing without context", "error", err)
		mem = activities.FetchSessionMemoryOutput{Stage: "opening"}
	}

	var route activities.RouteTurnOutput
	var decision routing.Decision
	if err := workflow.ExecuteActivity(ictx, constants.RouteTurnActivity,
		activities.RouteTurnInput{
			SessionID: input.SessionID,
			TurnID:    input.TurnID,
			Input:     input.Input,
			Images:    input.Images,
			History:   mem.History,
			Stage:     mem.Stage,
		},
	).Get(ctx, &route); err != nil {
		logger.Warn("routing unavailable, using fallback worker", "error", err)
		decision = fallbackDecision(routing.Decision{}, "routing unavailable")
	} else {
		decision = route.Decision
	}

	var safety activities.CheckTurnSafetyOutput
	if err := workflow.ExecuteActivity(ictx, constants.CheckTurnSafetyActivity,
		activities.CheckTurnSafetyInput{SessionID: input.SessionID, ProposedWorkers: decision.Workers},
	).Get(ctx, &safety); err != nil {
		// Limits cannot be verified; restrict the turn to one call.
		logger.Warn("safety check unavailable, restricting turn to fallback worker", "error", err)
		safety = activities.CheckTurnSafetyOutput{Verdict: guard.Verdict{Safe: true, Action: guard.ActionContinue}}
		decision = fallbackDecision(decision, "safety check unavailable")
	}

	safetyPath := ""
	if !safety.Verdict.Safe {
		safetyPath = safety.Verdict.Reason
		switch safety.Verdict.Action {
		case guard.ActionTerminate:
			logger.Info("turn refused by guard",
				"session_id", input.SessionID, "reason", safety.Verdict.Reason)
			result := TurnResult{
				TurnID:     input.TurnID,
				Response:   LimitReachedMessage,
				Success:    false,
				Mode:       string(decision.Mode),
				Intent:     decision.Intent,
				Confidence: decision.Confidence,
				SafetyPath: safetyPath,
				Metadata: map[string]interface{}{
					"iteration_count": safety.IterationCount,
					"call_count":      safety.CallCount,
				},
				DurationMS: workflow.Now(ctx).Sub(start).Milliseconds(),
			}
			finishTurn(ctx, input, result, nil)
			return result, nil
		case guard.ActionFallback:
			logger.Info("rerouting turn to fallback worker",
				"session_id", input.SessionID, "reason", safety.Verdict.Reason,
				"original_workers", decision.Workers)
			decision = fallbackDecision(decision, "safety fallback: "+safety.Verdict.Reason)
		}
	}

	results := dispatch(ctx, decision, taskContext{input: input, memory: mem})

	var recorded activities.RecordDispatchOutput
	if err := workflow.ExecuteActivity(ictx, constants.RecordDispatchActivity,
		activities.RecordDispatchInput{SessionID: input.SessionID, Workers: decision.Workers},
	).Get(ctx, &recorded); err != nil {
		logger.Warn("failed to record dispatch", "error", err)
	}

	var agg aggregation.Result
	if err := workflow.ExecuteActivity(ictx, constants.AggregateResultsActivity,
		activities.AggregateResultsInput{Results: results, PrimaryWorker: decision.PrimaryWorker},
	).Get(ctx, &agg); err != nil {
		logger.Warn("aggregation unavailable", "error", err)
		agg = aggregation.Result{
			Content:  aggregation.ApologyMessage,
			Strategy: aggregation.StrategyAllFailed,
			Metadata: map[string]interface{}{"error": "aggregation_unavailable"},
		}
	}

	// Last resort before apologizing: one plain conversational attempt
	// with the raw input, unless that is exactly what just failed.
	if agg.Strategy == aggregation.StrategyAllFailed && !conversationOnly(decision.Workers) {
		logger.Info("all workers failed, trying fallback worker", "session_id", input.SessionID)
		fb := fallbackDecision(decision, "fallback after failed dispatch")
		fbResults := dispatch(ctx, fb, taskContext{input: input, memory: mem})
		var fbAgg aggregation.Result
		err := workflow.ExecuteActivity(ictx, constants.AggregateResultsActivity,
			activities.AggregateResultsInput{Results: fbResults, PrimaryWorker: fb.PrimaryWorker},
		).Get(ctx, &fbAgg)
		if err == nil && fbAgg.Strategy != aggregation.StrategyAllFailed {
			decision = fb
			results = fbResults
			agg = fbAgg
			agg.Metadata["fallback"] = true
		}
	}

	success := agg.Strategy != aggregation.StrategyAllFailed
	metadata := map[string]interface{}{
		"iteration_count": recorded.IterationCount,
		"call_count":      recorded.CallCount,
	}
	for k, v := range agg.Metadata {
		metadata[k] = v
	}
	if recorded.IterationCount >= guard.MaxIterations || recorded.CallCount >= guard.MaxWorkerCalls {
		metadata["limit_warning"] = true
	}

	result := TurnResult{
		TurnID:     input.TurnID,
		Response:   agg.Content,
		Success:    success,
		Mode:       string(decision.Mode),
		Intent:     decision.Intent,
		Workers:    decision.Workers,
		Strategy:   agg.Strategy,
		Confidence: decision.Confidence,
		SafetyPath: safetyPath,
		Metadata:   metadata,
		DurationMS: workflow.Now(ctx).Sub(start).Milliseconds(),
	}

	finishTurn(ctx, input, result, results)
	return result, nil
}

// finishTurn writes the exchange back to memory and persists the turn.
// Both are best effort; a failure is logged, never surfaced.
func finishTurn(ctx workflow.Context, input TurnInput, result TurnResult, results []workers.TaskResult) {
	logger := workflow.GetLogger(ctx)
	ictx := workflow.WithActivityOptions(ctx, infraActivityOptions())

	if err := workflow.ExecuteActivity(ictx, constants.UpdateSessionMemoryActivity,
		activities.UpdateSessionMemoryInput{
			SessionID:      input.SessionID,
			UserInput:      input.Input,
			Response:       result.Response,
			ProfileUpdates: profileUpdates(results),
		},
	).Get(ctx, nil); err != nil {
		logger.Warn("failed to update session memory", "error", err)
	}

	if err := workflow.ExecuteActivity(ictx, constants.PersistTurnActivity,
		activities.PersistTurnInput{
			TurnID:      input.TurnID,
			SessionID:   input.SessionID,
			Input:       input.Input,
			Response:    result.Response,
			Mode:        result.Mode,
			Intent:      result.Intent,
			Workers:     result.Workers,
			Strategy:    result.Strategy,
			Success:     result.Success,
			SafetyPath:  result.SafetyPath,
			Metadata:    result.Metadata,
			DurationMS:  result.DurationMS,
			CompletedAt: workflow.Now(ctx),
		},
	).Get(ctx, nil); err != nil {
		logger.Warn("failed to persist turn", "error", err)
	}
}

func conversationOnly(names []string) bool {
	return len(names) == 1 && names[0] == constants.DefaultWorker
}

// fallbackDecision reroutes a turn to the single default worker while
// keeping what is known about the original intent.
func fallbackDecision(base routing.Decision, reason string) routing.Decision {
	return routing.Decision{
		Mode:          routing.ModeSingle,
		PrimaryWorker: constants.DefaultWorker,
		Workers:       []string{constants.DefaultWorker},
		Confidence:    base.Confidence,
		Intent:        base.Intent,
		Reason:        reason,
	}
}

// profileUpdates collects profile facts workers attached to their
// results. Later workers win key conflicts; iteration order follows the
// batch, which is deterministic.
func profileUpdates(results []workers.TaskResult) map[string]interface{} {
	var updates map[string]interface{}
	for _, r := range results {
		if r.Failed() || r.Metadata == nil {
			continue
		}
		raw, ok := r.Metadata["updated_user_profile"].(map[string]interface{})
		if !ok {
			continue
		}
		if updates == nil {
			updates = make(map[string]interface{}, len(raw))
		}
		for k, v := range raw {
			updates[k] = v
		}
	}
	return updates
}
