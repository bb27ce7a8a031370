package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/heliconai/salesdesk/internal/activities"
	"github.com/heliconai/salesdesk/internal/aggregation"
	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/guard"
	"github.com/heliconai/salesdesk/internal/routing"
	"github.com/heliconai/salesdesk/internal/workers"
)

// recorder collects what the stubbed activities saw so tests can assert
// on the workflow's behavior rather than its wiring.
type recorder struct {
	mu             sync.Mutex
	executedTasks  []workers.Task
	recordedSets   [][]string
	persisted      []activities.PersistTurnInput
	memoryUpdates  []activities.UpdateSessionMemoryInput
	executeAttempt int
}

func (r *recorder) sawWorker(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.executedTasks {
		if t.Worker == name {
			return true
		}
	}
	return false
}

// stubSet is the per-test behavior of each activity. Nil fields get a
// benign default.
type stubSet struct {
	route     func(context.Context, activities.RouteTurnInput) (activities.RouteTurnOutput, error)
	safety    func(context.Context, activities.CheckTurnSafetyInput) (activities.CheckTurnSafetyOutput, error)
	execute   func(context.Context, workers.Task) (workers.TaskResult, error)
	aggregate func(context.Context, activities.AggregateResultsInput) (aggregation.Result, error)
}

func singleDecision(worker string) routing.Decision {
	return routing.Decision{
		Mode:          routing.ModeSingle,
		PrimaryWorker: worker,
		Workers:       []string{worker},
		Confidence:    0.8,
		Intent:        "general_chat",
		Reason:        "stub",
	}
}

func parallelDecision(workersList ...string) routing.Decision {
	return routing.Decision{
		Mode:          routing.ModeParallel,
		PrimaryWorker: workersList[0],
		Workers:       workersList,
		Confidence:    0.85,
		Intent:        "product_inquiry",
		Reason:        "stub",
	}
}

func newEnv(t *testing.T, stubs stubSet) (*testsuite.TestWorkflowEnvironment, *recorder) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	rec := &recorder{}

	if stubs.route == nil {
		stubs.route = func(_ context.Context, in activities.RouteTurnInput) (activities.RouteTurnOutput, error) {
			return activities.RouteTurnOutput{Decision: singleDecision(constants.WorkerConversation)}, nil
		}
	}
	if stubs.safety == nil {
		stubs.safety = func(_ context.Context, in activities.CheckTurnSafetyInput) (activities.CheckTurnSafetyOutput, error) {
			return activities.CheckTurnSafetyOutput{
				Verdict: guard.Verdict{Safe: true, Action: guard.ActionContinue},
			}, nil
		}
	}
	if stubs.execute == nil {
		stubs.execute = func(_ context.Context, task workers.Task) (workers.TaskResult, error) {
			return workers.TaskResult{Worker: task.Worker, Content: "reply from " + task.Worker}, nil
		}
	}
	if stubs.aggregate == nil {
		stubs.aggregate = func(_ context.Context, in activities.AggregateResultsInput) (aggregation.Result, error) {
			return aggregation.Aggregate(in.Results, in.PrimaryWorker), nil
		}
	}

	env.RegisterWorkflowWithOptions(TurnWorkflow, workflow.RegisterOptions{Name: constants.TurnWorkflow})

	register := func(name string, fn interface{}) {
		env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
	register(constants.FetchSessionMemoryActivity,
		func(_ context.Context, in activities.FetchSessionMemoryInput) (activities.FetchSessionMemoryOutput, error) {
			return activities.FetchSessionMemoryOutput{Stage: "opening"}, nil
		})
	register(constants.RouteTurnActivity, stubs.route)
	register(constants.CheckTurnSafetyActivity, stubs.safety)
	register(constants.RecordDispatchActivity,
		func(_ context.Context, in activities.RecordDispatchInput) (activities.RecordDispatchOutput, error) {
			rec.mu.Lock()
			rec.recordedSets = append(rec.recordedSets, in.Workers)
			n := len(rec.recordedSets)
			rec.mu.Unlock()
			return activities.RecordDispatchOutput{IterationCount: n, CallCount: len(in.Workers)}, nil
		})
	register(constants.ExecuteWorkerActivity,
		func(ctx context.Context, task workers.Task) (workers.TaskResult, error) {
			rec.mu.Lock()
			rec.executedTasks = append(rec.executedTasks, task)
			rec.executeAttempt++
			rec.mu.Unlock()
			return stubs.execute(ctx, task)
		})
	register(constants.AggregateResultsActivity, stubs.aggregate)
	register(constants.UpdateSessionMemoryActivity,
		func(_ context.Context, in activities.UpdateSessionMemoryInput) error {
			rec.mu.Lock()
			rec.memoryUpdates = append(rec.memoryUpdates, in)
			rec.mu.Unlock()
			return nil
		})
	register(constants.PersistTurnActivity,
		func(_ context.Context, in activities.PersistTurnInput) error {
			rec.mu.Lock()
			rec.persisted = append(rec.persisted, in)
			rec.mu.Unlock()
			return nil
		})

	return env, rec
}

func runTurn(t *testing.T, env *testsuite.TestWorkflowEnvironment, input TurnInput) TurnResult {
	t.Helper()
	env.ExecuteWorkflow(constants.TurnWorkflow, input)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result TurnResult
	require.NoError(t, env.GetWorkflowResult(&result))
	return result
}

func TestTurnWorkflowSingleHappyPath(t *testing.T) {
	env, rec := newEnv(t, stubSet{})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "hello"})

	assert.True(t, result.Success)
	assert.Equal(t, "reply from conversation", result.Response)
	assert.Equal(t, string(routing.ModeSingle), result.Mode)
	assert.Equal(t, []string{constants.WorkerConversation}, result.Workers)
	assert.Empty(t, result.SafetyPath)

	require.Len(t, rec.recordedSets, 1)
	assert.Equal(t, []string{constants.WorkerConversation}, rec.recordedSets[0])
	require.Len(t, rec.memoryUpdates, 1)
	assert.Equal(t, "hello", rec.memoryUpdates[0].UserInput)
	require.Len(t, rec.persisted, 1)
	assert.True(t, rec.persisted[0].Success)
}

func TestTurnWorkflowParallelFanOut(t *testing.T) {
	env, rec := newEnv(t, stubSet{
		route: func(_ context.Context, in activities.RouteTurnInput) (activities.RouteTurnOutput, error) {
			return activities.RouteTurnOutput{
				Decision: parallelDecision(constants.WorkerCalendar, constants.WorkerKnowledge),
			}, nil
		},
	})

	result := runTurn(t, env, TurnInput{
		SessionID: "sess-1", TurnID: "turn-1",
		Input: "compare your plans and book a demo next week",
	})

	assert.True(t, result.Success)
	assert.Equal(t, string(routing.ModeParallel), result.Mode)
	assert.True(t, rec.sawWorker(constants.WorkerCalendar))
	assert.True(t, rec.sawWorker(constants.WorkerKnowledge))
	assert.Equal(t, aggregation.StrategySequentialCombination, result.Strategy)
	assert.Contains(t, result.Response, "reply from calendar")
	assert.Contains(t, result.Response, "reply from knowledge")
}

func TestTurnWorkflowTimeoutIsolation(t *testing.T) {
	env, rec := newEnv(t, stubSet{
		route: func(_ context.Context, in activities.RouteTurnInput) (activities.RouteTurnOutput, error) {
			return activities.RouteTurnOutput{
				Decision: parallelDecision(constants.WorkerKnowledge, constants.WorkerCalendar),
			}, nil
		},
		execute: func(_ context.Context, task workers.Task) (workers.TaskResult, error) {
			if task.Worker == constants.WorkerCalendar {
				return workers.TaskResult{}, temporal.NewTimeoutError(enumspb.TIMEOUT_TYPE_START_TO_CLOSE, nil)
			}
			return workers.TaskResult{Worker: task.Worker, Content: "reply from " + task.Worker}, nil
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "plans and a demo"})

	assert.True(t, result.Success)
	assert.Equal(t, "reply from knowledge", result.Response)
	assert.Equal(t, true, result.Metadata["partial"])
	assert.True(t, rec.sawWorker(constants.WorkerCalendar))
}

func TestTurnWorkflowAllWorkersFail(t *testing.T) {
	env, _ := newEnv(t, stubSet{
		route: func(_ context.Context, in activities.RouteTurnInput) (activities.RouteTurnOutput, error) {
			return activities.RouteTurnOutput{
				Decision: parallelDecision(constants.WorkerKnowledge, constants.WorkerCalendar),
			}, nil
		},
		execute: func(_ context.Context, task workers.Task) (workers.TaskResult, error) {
			return workers.TaskResult{}, temporal.NewNonRetryableApplicationError(
				"upstream down", activities.WorkerErrorType, nil)
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "plans and a demo"})

	assert.False(t, result.Success)
	assert.Equal(t, aggregation.ApologyMessage, result.Response)
	assert.Equal(t, aggregation.StrategyAllFailed, result.Strategy)
}

func TestTurnWorkflowFallbackWorkerRecovers(t *testing.T) {
	env, rec := newEnv(t, stubSet{
		route: func(_ context.Context, in activities.RouteTurnInput) (activities.RouteTurnOutput, error) {
			return activities.RouteTurnOutput{
				Decision: parallelDecision(constants.WorkerKnowledge, constants.WorkerCalendar),
			}, nil
		},
		execute: func(_ context.Context, task workers.Task) (workers.TaskResult, error) {
			if task.Worker == constants.WorkerConversation {
				return workers.TaskResult{Worker: task.Worker, Content: "Let's take that step by step."}, nil
			}
			return workers.TaskResult{}, temporal.NewNonRetryableApplicationError(
				"upstream down", activities.WorkerErrorType, nil)
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "plans and a demo"})

	assert.True(t, result.Success)
	assert.Equal(t, "Let's take that step by step.", result.Response)
	assert.Equal(t, []string{constants.WorkerConversation}, result.Workers)
	assert.Equal(t, true, result.Metadata["fallback"])
	assert.True(t, rec.sawWorker(constants.WorkerKnowledge))
	assert.True(t, rec.sawWorker(constants.WorkerConversation))
}

func TestTurnWorkflowCapsOversizedFanOut(t *testing.T) {
	env, rec := newEnv(t, stubSet{
		route: func(_ context.Context, in activities.RouteTurnInput) (activities.RouteTurnOutput, error) {
			return activities.RouteTurnOutput{
				Decision: parallelDecision(
					constants.WorkerDocExtract, constants.WorkerCalendar,
					constants.WorkerKnowledge, constants.WorkerVision,
					constants.WorkerConversation),
			}, nil
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "everything at once"})

	assert.True(t, result.Success)
	assert.Len(t, rec.executedTasks, maxBatchWorkers)
	assert.False(t, rec.sawWorker(constants.WorkerConversation))
}

func TestTurnWorkflowRoutingOutageStillReplies(t *testing.T) {
	env, rec := newEnv(t, stubSet{
		route: func(_ context.Context, in activities.RouteTurnInput) (activities.RouteTurnOutput, error) {
			return activities.RouteTurnOutput{}, errors.New("redis: connection refused")
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "hello"})

	assert.True(t, result.Success)
	assert.Equal(t, "reply from conversation", result.Response)
	assert.Equal(t, []string{constants.WorkerConversation}, result.Workers)
	assert.True(t, rec.sawWorker(constants.WorkerConversation))
}

func TestTurnWorkflowAggregationOutageYieldsApology(t *testing.T) {
	env, _ := newEnv(t, stubSet{
		aggregate: func(_ context.Context, in activities.AggregateResultsInput) (aggregation.Result, error) {
			return aggregation.Result{}, errors.New("marshal failure")
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "hello"})

	assert.False(t, result.Success)
	assert.Equal(t, aggregation.ApologyMessage, result.Response)
	assert.Equal(t, aggregation.StrategyAllFailed, result.Strategy)
}

func TestTurnWorkflowHardLimitSkipsWorkers(t *testing.T) {
	env, rec := newEnv(t, stubSet{
		safety: func(_ context.Context, in activities.CheckTurnSafetyInput) (activities.CheckTurnSafetyOutput, error) {
			return activities.CheckTurnSafetyOutput{
				Verdict: guard.Verdict{
					Safe:   false,
					Reason: guard.ReasonMaxIterations,
					Action: guard.ActionTerminate,
				},
				IterationCount: guard.MaxIterations,
			}, nil
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "hello again"})

	assert.False(t, result.Success)
	assert.Equal(t, LimitReachedMessage, result.Response)
	assert.Equal(t, guard.ReasonMaxIterations, result.SafetyPath)
	assert.Empty(t, rec.executedTasks)
	assert.Empty(t, rec.recordedSets)
	// The refusal is still remembered and persisted.
	require.Len(t, rec.memoryUpdates, 1)
	require.Len(t, rec.persisted, 1)
	assert.False(t, rec.persisted[0].Success)
}

func TestTurnWorkflowLoopFallsBackToDefaultWorker(t *testing.T) {
	env, rec := newEnv(t, stubSet{
		route: func(_ context.Context, in activities.RouteTurnInput) (activities.RouteTurnOutput, error) {
			return activities.RouteTurnOutput{
				Decision: parallelDecision(constants.WorkerKnowledge, constants.WorkerCalendar),
			}, nil
		},
		safety: func(_ context.Context, in activities.CheckTurnSafetyInput) (activities.CheckTurnSafetyOutput, error) {
			return activities.CheckTurnSafetyOutput{
				Verdict: guard.Verdict{
					Safe:   false,
					Reason: guard.ReasonLoopDetected,
					Action: guard.ActionFallback,
				},
			}, nil
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "same thing again"})

	assert.True(t, result.Success)
	assert.Equal(t, guard.ReasonLoopDetected, result.SafetyPath)
	assert.Equal(t, []string{constants.WorkerConversation}, result.Workers)
	assert.True(t, rec.sawWorker(constants.WorkerConversation))
	assert.False(t, rec.sawWorker(constants.WorkerKnowledge))
	require.Len(t, rec.recordedSets, 1)
	assert.Equal(t, []string{constants.WorkerConversation}, rec.recordedSets[0])
}

func TestTurnWorkflowRetriesTransientWorkerFailure(t *testing.T) {
	attempts := 0
	env, _ := newEnv(t, stubSet{
		execute: func(_ context.Context, task workers.Task) (workers.TaskResult, error) {
			attempts++
			if attempts < 3 {
				return workers.TaskResult{}, errors.New("connection refused")
			}
			return workers.TaskResult{Worker: task.Worker, Content: "recovered"}, nil
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "hello"})

	assert.True(t, result.Success)
	assert.Equal(t, "recovered", result.Response)
	assert.Equal(t, 3, attempts)
}

func TestTurnWorkflowTransientFailureExhaustsRetries(t *testing.T) {
	attempts := 0
	env, _ := newEnv(t, stubSet{
		execute: func(_ context.Context, task workers.Task) (workers.TaskResult, error) {
			attempts++
			return workers.TaskResult{}, errors.New("connection refused")
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "hello"})

	assert.False(t, result.Success)
	assert.Equal(t, aggregation.ApologyMessage, result.Response)
	assert.Equal(t, taskRetryAttempts, attempts)
}

func TestTurnWorkflowCollectsProfileUpdates(t *testing.T) {
	env, rec := newEnv(t, stubSet{
		execute: func(_ context.Context, task workers.Task) (workers.TaskResult, error) {
			return workers.TaskResult{
				Worker:  task.Worker,
				Content: "Nice to meet you, Ada!",
				Metadata: map[string]interface{}{
					"updated_user_profile": map[string]interface{}{"name": "Ada"},
				},
			}, nil
		},
	})

	result := runTurn(t, env, TurnInput{SessionID: "sess-1", TurnID: "turn-1", Input: "I'm Ada"})

	assert.True(t, result.Success)
	require.Len(t, rec.memoryUpdates, 1)
	assert.Equal(t, "Ada", rec.memoryUpdates[0].ProfileUpdates["name"])
}
