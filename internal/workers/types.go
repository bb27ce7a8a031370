// Package workers defines the worker-facing task contract and the HTTP
// client that carries tasks to worker endpoints.
package workers

import (
	"github.com/heliconai/salesdesk/internal/memory"
)

// ErrorKind classifies a failed task for aggregation.
type ErrorKind string

const (
	// ErrKindTimeout covers per-task and batch deadline expiry.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindWorker covers errors reported by the worker itself.
	ErrKindWorker ErrorKind = "worker_error"
)

// ErrorScope says which deadline produced a timeout.
type ErrorScope string

const (
	ScopeTask  ErrorScope = "task"
	ScopeBatch ErrorScope = "batch"
)

// TaskError is the failure half of a TaskResult.
type TaskError struct {
	Kind    ErrorKind  `json:"kind"`
	Message string     `json:"message"`
	Scope   ErrorScope `json:"scope,omitempty"`
}

// TaskResult is what one worker contributed to a turn. A failed task
// still yields a result so the aggregator can account for it.
type TaskResult struct {
	Worker   string                 `json:"worker"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    *TaskError             `json:"error,omitempty"`
}

// Failed reports whether the task produced an error instead of content.
func (r TaskResult) Failed() bool {
	return r.Error != nil
}

// TimeoutResult builds the standard result for a task that missed its
// deadline.
func TimeoutResult(worker string, scope ErrorScope, message string) TaskResult {
	return TaskResult{
		Worker: worker,
		Error:  &TaskError{Kind: ErrKindTimeout, Message: message, Scope: scope},
	}
}

// ErrorResult builds the standard result for a worker-reported failure.
func ErrorResult(worker, message string) TaskResult {
	return TaskResult{
		Worker: worker,
		Error:  &TaskError{Kind: ErrKindWorker, Message: message},
	}
}

// Hints steer how a worker should treat the task. They are advisory;
// workers ignore hints they do not understand.
type Hints struct {
	Focus          string `json:"focus,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ProcessingMode string `json:"processing_mode,omitempty"`
}

// Task is one unit of work bound for a worker endpoint. It carries the
// turn input plus the conversational context the worker needs to answer
// without its own session store.
type Task struct {
	Worker    string           `json:"worker"`
	SessionID string           `json:"session_id"`
	TurnID    string           `json:"turn_id"`
	Input     string           `json:"input"`
	Images    []string         `json:"images,omitempty"`
	History   []memory.Message `json:"history,omitempty"`
	Profile   memory.Profile   `json:"profile,omitempty"`
	Stage     string           `json:"stage,omitempty"`
	Hints     Hints            `json:"hints,omitempty"`
}
