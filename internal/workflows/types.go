package workflows

import (
	"time"
)

// Execution limits for one turn.
const (
	// perTaskTimeout bounds a single worker call.
	perTaskTimeout = 30 * time.Second
	// batchTimeout bounds a whole parallel batch.
	batchTimeout = 60 * time.Second
	// taskRetryInterval and taskRetryAttempts govern retries of
	// transient worker failures.
	taskRetryInterval = 500 * time.Millisecond
	taskRetryAttempts = 3
	// maxBatchWorkers caps a parallel fan-out regardless of what the
	// router proposed.
	maxBatchWorkers = 4
)

// LimitReachedMessage is the reply for turns the guard refuses to
// dispatch.
const LimitReachedMessage = "We've covered a lot in this conversation. Please start a new session and I'll be happy to continue helping."

// TurnInput starts one turn of a conversation.
type TurnInput struct {
	SessionID    string   `json:"session_id"`
	TurnID       string   `json:"turn_id"`
	Input        string   `json:"input"`
	Images       []string `json:"images,omitempty"`
	HistoryLimit int      `json:"history_limit,omitempty"`
}

// TurnResult is the turn's final outcome.
type TurnResult struct {
	TurnID     string                 `json:"turn_id"`
	Response   string                 `json:"response"`
	Success    bool                   `json:"success"`
	Mode       string                 `json:"mode"`
	Intent     string                 `json:"intent"`
	Workers    []string               `json:"workers"`
	Strategy   string                 `json:"strategy,omitempty"`
	Confidence float64                `json:"confidence"`
	SafetyPath string                 `json:"safety_path,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
}
