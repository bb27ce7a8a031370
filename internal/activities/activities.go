// Package activities implements the Temporal activities behind the turn
// workflow. Workflow code stays deterministic; everything that touches
// the network, Redis, or Postgres lives here.
package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/heliconai/salesdesk/internal/aggregation"
	"github.com/heliconai/salesdesk/internal/db"
	"github.com/heliconai/salesdesk/internal/guard"
	"github.com/heliconai/salesdesk/internal/memory"
	"github.com/heliconai/salesdesk/internal/metrics"
	"github.com/heliconai/salesdesk/internal/routing"
	"github.com/heliconai/salesdesk/internal/session"
	"github.com/heliconai/salesdesk/internal/workers"
)

// WorkerErrorType marks activity errors the workflow must not retry:
// the worker answered, and the answer was a failure.
const WorkerErrorType = "WorkerError"

// Activities bundles the dependencies every activity needs.
type Activities struct {
	sessions   *session.Manager
	memory     *memory.Store
	registry   *workers.Registry
	dispatcher *workers.Client
	router     *routing.Config
	store      *db.Client

	classifierURL string
	httpClient    *http.Client
	logger        *zap.Logger
}

// Config assembles an Activities value.
type Config struct {
	Sessions      *session.Manager
	Memory        *memory.Store
	Registry      *workers.Registry
	Dispatcher    *workers.Client
	Router        *routing.Config
	Store         *db.Client // nil disables persistence
	ClassifierURL string     // empty disables the model classifier
	Logger        *zap.Logger
}

// New builds the activity set.
func New(cfg Config) *Activities {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		sessions:      cfg.Sessions,
		memory:        cfg.Memory,
		registry:      cfg.Registry,
		dispatcher:    cfg.Dispatcher,
		router:        cfg.Router,
		store:         cfg.Store,
		classifierURL: cfg.ClassifierURL,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		logger:        logger,
	}
}

// RouteTurn classifies one turn into a routing decision. Image-only
// turns short-circuit to document extraction; otherwise the rule table
// and, when configured, the model classifier vote and the result fans
// out per topic category.
func (a *Activities) RouteTurn(ctx context.Context, in RouteTurnInput) (RouteTurnOutput, error) {
	hasImage := len(in.Images) > 0
	if hasImage && len(bytes.TrimSpace([]byte(in.Input))) == 0 {
		d := routing.ImageOnlyDecision()
		metrics.RoutingDecisions.WithLabelValues(d.Intent, string(d.Mode)).Inc()
		return RouteTurnOutput{Decision: d}, nil
	}

	rule := a.router.MatchRules(in.Input)
	worker := rule.Worker
	confidence := rule.Confidence
	intent := rule.Intent.String()
	reason := "rule match"

	if a.classifierURL != "" {
		model := a.classify(ctx, in, rule)
		worker, confidence, intent, reason = routing.Combine(rule, model)
	}
	if in.Stage != "" {
		reason = fmt.Sprintf("%s; stage=%s", reason, in.Stage)
	}

	d := a.router.BuildDecision(in.Input, hasImage, worker, confidence, intent, reason)
	metrics.RoutingDecisions.WithLabelValues(d.Intent, string(d.Mode)).Inc()
	a.logger.Info("routed turn",
		zap.String("session_id", in.SessionID),
		zap.String("turn_id", in.TurnID),
		zap.String("intent", d.Intent),
		zap.String("mode", string(d.Mode)),
		zap.Strings("workers", d.Workers),
		zap.Float64("confidence", d.Confidence))
	return RouteTurnOutput{Decision: d}, nil
}

// classifierWindow is how many recent messages ride along with a
// classification request.
const classifierWindow = 3

// classify calls the external model classifier with the turn and a
// short history window. Any failure, malformed answer, or out-of-range
// confidence falls back to the rule match at half confidence so routing
// degrades to the rule table.
func (a *Activities) classify(ctx context.Context, in RouteTurnInput, rule routing.RuleMatch) routing.ClassifierResult {
	fallback := routing.ClassifierResult{
		Intent:     rule.Intent.String(),
		Worker:     rule.Worker,
		Confidence: 0.5,
		Reason:     "classifier fallback",
	}

	history := in.History
	if len(history) > classifierWindow {
		history = history[len(history)-classifierWindow:]
	}
	body, err := json.Marshal(map[string]interface{}{
		"input":   in.Input,
		"history": history,
	})
	if err != nil {
		return fallback
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.classifierURL, bytes.NewReader(body))
	if err != nil {
		return fallback
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		metrics.ClassifierFallbacks.Inc()
		a.logger.Warn("classifier unreachable", zap.Error(err))
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.ClassifierFallbacks.Inc()
		a.logger.Warn("classifier returned non-200", zap.Int("status", resp.StatusCode))
		return fallback
	}

	var result routing.ClassifierResult
	dec := json.NewDecoder(resp.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		metrics.ClassifierFallbacks.Inc()
		a.logger.Warn("classifier response undecodable", zap.Error(err))
		return fallback
	}
	if result.Worker == "" || result.Confidence < 0 || result.Confidence > 1 || !a.registry.Known(result.Worker) {
		metrics.ClassifierFallbacks.Inc()
		a.logger.Warn("classifier response rejected",
			zap.String("worker", result.Worker), zap.Float64("confidence", result.Confidence))
		return fallback
	}
	return result
}

// CheckTurnSafety evaluates the dispatch limits for a session. A
// session-window violation also latches the timed-out flag so later
// turns are refused until the session resets.
func (a *Activities) CheckTurnSafety(ctx context.Context, in CheckTurnSafetyInput) (CheckTurnSafetyOutput, error) {
	now := time.Now()
	st, err := a.sessions.Snapshot(ctx, in.SessionID, now)
	if err != nil {
		return CheckTurnSafetyOutput{}, fmt.Errorf("load session state: %w", err)
	}
	verdict := guard.Check(st, in.ProposedWorkers, now)
	if !verdict.Safe {
		metrics.SafetyViolations.WithLabelValues(verdict.Reason).Inc()
		a.logger.Warn("safety limit tripped",
			zap.String("session_id", in.SessionID),
			zap.String("reason", verdict.Reason),
			zap.String("action", string(verdict.Action)),
			zap.Int("iterations", st.IterationCount),
			zap.Int("calls", st.WorkerCallCount))
		if verdict.Reason == guard.ReasonTimeout && !st.TimedOut {
			if err := a.sessions.MarkTimedOut(ctx, in.SessionID, now); err != nil {
				a.logger.Warn("failed to latch session timeout", zap.Error(err))
			}
		}
	}
	return CheckTurnSafetyOutput{
		Verdict:        verdict,
		IterationCount: st.IterationCount,
		CallCount:      st.WorkerCallCount,
	}, nil
}

// RecordDispatch folds a dispatched worker set into the session's
// safety counters.
func (a *Activities) RecordDispatch(ctx context.Context, in RecordDispatchInput) (RecordDispatchOutput, error) {
	st, err := a.sessions.Record(ctx, in.SessionID, in.Workers, time.Now())
	if err != nil {
		return RecordDispatchOutput{}, fmt.Errorf("record dispatch: %w", err)
	}
	return RecordDispatchOutput{
		IterationCount: st.IterationCount,
		CallCount:      st.WorkerCallCount,
	}, nil
}

// ExecuteWorker carries one task to its worker endpoint. A failure the
// worker itself reported comes back as a non-retryable error; transport
// trouble comes back retryable so the activity retry policy can take
// another pass.
func (a *Activities) ExecuteWorker(ctx context.Context, task workers.Task) (workers.TaskResult, error) {
	start := time.Now()
	result, err := a.dispatcher.Execute(ctx, task)
	elapsed := time.Since(start)

	if err != nil {
		metrics.WorkerInvocations.WithLabelValues(task.Worker, "error").Inc()
		return workers.TaskResult{}, err
	}
	if result.Failed() {
		metrics.WorkerInvocations.WithLabelValues(result.Worker, "worker_error").Inc()
		return workers.TaskResult{}, temporal.NewNonRetryableApplicationError(
			result.Error.Message, WorkerErrorType, nil)
	}

	metrics.WorkerInvocations.WithLabelValues(result.Worker, "ok").Inc()
	metrics.WorkerDuration.WithLabelValues(result.Worker).Observe(float64(elapsed.Milliseconds()))
	return result, nil
}

// AggregateResults merges one batch into the turn's reply.
func (a *Activities) AggregateResults(_ context.Context, in AggregateResultsInput) (aggregation.Result, error) {
	return aggregation.Aggregate(in.Results, in.PrimaryWorker), nil
}

// FetchSessionMemory loads the conversational context carried to
// workers: recent history, the accumulated profile, and the derived
// conversation stage.
func (a *Activities) FetchSessionMemory(ctx context.Context, in FetchSessionMemoryInput) (FetchSessionMemoryOutput, error) {
	history, err := a.memory.LoadHistory(ctx, in.SessionID, in.HistoryLimit)
	if err != nil {
		return FetchSessionMemoryOutput{}, err
	}
	profile, err := a.memory.LoadProfile(ctx, in.SessionID)
	if err != nil {
		return FetchSessionMemoryOutput{}, err
	}
	return FetchSessionMemoryOutput{
		History: history,
		Profile: profile,
		Stage:   conversationStage(history, profile),
	}, nil
}

// conversationStage is a coarse read of how far the conversation has
// progressed, passed to workers as a hint.
func conversationStage(history []memory.Message, profile memory.Profile) string {
	if stage, ok := profile["stage"].(string); ok && stage != "" {
		return stage
	}
	switch {
	case len(history) == 0:
		return "opening"
	case len(profile) == 0:
		return "discovery"
	case len(history) < 10:
		return "qualification"
	default:
		return "engaged"
	}
}

// UpdateSessionMemory appends the completed exchange to history and
// merges any profile facts the workers extracted.
func (a *Activities) UpdateSessionMemory(ctx context.Context, in UpdateSessionMemoryInput) error {
	now := time.Now()
	err := a.memory.AppendHistory(ctx, in.SessionID,
		memory.Message{Role: "user", Content: in.UserInput, Timestamp: now},
		memory.Message{Role: "assistant", Content: in.Response, Timestamp: now},
	)
	if err != nil {
		return err
	}
	if len(in.ProfileUpdates) > 0 {
		if _, err := a.memory.MergeProfile(ctx, in.SessionID, in.ProfileUpdates); err != nil {
			return err
		}
	}
	return nil
}

// PersistTurn records the turn in Postgres. Failures are logged and
// swallowed so a database outage never fails a served turn.
func (a *Activities) PersistTurn(ctx context.Context, in PersistTurnInput) error {
	if a.store == nil {
		return nil
	}
	err := a.store.RecordTurn(ctx, db.TurnRecord{
		TurnID:      in.TurnID,
		SessionID:   in.SessionID,
		Input:       in.Input,
		Response:    in.Response,
		Mode:        in.Mode,
		Intent:      in.Intent,
		Workers:     in.Workers,
		Strategy:    in.Strategy,
		Success:     in.Success,
		SafetyPath:  in.SafetyPath,
		Metadata:    in.Metadata,
		DurationMS:  in.DurationMS,
		CompletedAt: in.CompletedAt,
	})
	if err != nil {
		a.logger.Warn("turn persistence failed",
			zap.String("turn_id", in.TurnID), zap.Error(err))
	}
	return nil
}
