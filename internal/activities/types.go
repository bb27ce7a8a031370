package activities

import (
	"time"

	"github.com/heliconai/salesdesk/internal/guard"
	"github.com/heliconai/salesdesk/internal/memory"
	"github.com/heliconai/salesdesk/internal/routing"
	"github.com/heliconai/salesdesk/internal/workers"
)

// RouteTurnInput asks the router to classify one turn. History carries
// the session's recent messages so the model classifier sees context;
// Stage is the derived conversation stage, folded into the decision
// reason.
type RouteTurnInput struct {
	SessionID string           `json:"session_id"`
	TurnID    string           `json:"turn_id"`
	Input     string           `json:"input"`
	Images    []string         `json:"images,omitempty"`
	History   []memory.Message `json:"history,omitempty"`
	Stage     string           `json:"stage,omitempty"`
}

// RouteTurnOutput carries the routing decision back to the workflow.
type RouteTurnOutput struct {
	Decision routing.Decision `json:"decision"`
}

// CheckTurnSafetyInput asks the guard whether a dispatch may proceed.
type CheckTurnSafetyInput struct {
	SessionID       string   `json:"session_id"`
	ProposedWorkers []string `json:"proposed_workers"`
}

// CheckTurnSafetyOutput is the guard's verdict plus the counters it saw,
// for logging and response metadata.
type CheckTurnSafetyOutput struct {
	Verdict        guard.Verdict `json:"verdict"`
	IterationCount int           `json:"iteration_count"`
	CallCount      int           `json:"call_count"`
}

// RecordDispatchInput folds a dispatched worker set into session state.
type RecordDispatchInput struct {
	SessionID string   `json:"session_id"`
	Workers   []string `json:"workers"`
}

// RecordDispatchOutput reports the counters after recording.
type RecordDispatchOutput struct {
	IterationCount int `json:"iteration_count"`
	CallCount      int `json:"call_count"`
}

// AggregateResultsInput merges one batch of task results. PrimaryWorker
// is the routing decision's primary, which steers the
// primary-with-context strategy.
type AggregateResultsInput struct {
	Results       []workers.TaskResult `json:"results"`
	PrimaryWorker string               `json:"primary_worker,omitempty"`
}

// FetchSessionMemoryInput loads conversational context for a turn.
type FetchSessionMemoryInput struct {
	SessionID    string `json:"session_id"`
	HistoryLimit int    `json:"history_limit,omitempty"`
}

// FetchSessionMemoryOutput is the context workers receive with a task.
type FetchSessionMemoryOutput struct {
	History []memory.Message `json:"history,omitempty"`
	Profile memory.Profile   `json:"profile,omitempty"`
	Stage   string           `json:"stage"`
}

// UpdateSessionMemoryInput writes a completed exchange back to memory.
type UpdateSessionMemoryInput struct {
	SessionID      string         `json:"session_id"`
	UserInput      string         `json:"user_input"`
	Response       string         `json:"response"`
	ProfileUpdates memory.Profile `json:"profile_updates,omitempty"`
}

// PersistTurnInput records a completed turn for analytics. Best effort;
// the workflow ignores persistence failures.
type PersistTurnInput struct {
	TurnID      string                 `json:"turn_id"`
	SessionID   string                 `json:"session_id"`
	Input       string                 `json:"input"`
	Response    string                 `json:"response"`
	Mode        string                 `json:"mode"`
	Intent      string                 `json:"intent"`
	Workers     []string               `json:"workers"`
	Strategy    string                 `json:"strategy"`
	Success     bool                   `json:"success"`
	SafetyPath  string                 `json:"safety_path,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	DurationMS  int64                  `json:"duration_ms"`
	CompletedAt time.Time              `json:"completed_at"`
}
