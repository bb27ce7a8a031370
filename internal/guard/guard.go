// Package guard enforces per-session safety limits on worker dispatch.
// Every limit check is pure: it reads a state snapshot and the proposed
// worker set and returns a verdict, so callers decide where in the turn
// to apply it.
package guard

import (
	"time"

	"github.com/heliconai/salesdesk/internal/session"
)

// Dispatch limits. A session that crosses one of these stops calling
// workers for the rest of its window.
const (
	MaxIterations  = 5
	MaxWorkerCalls = 20
	SessionWindow  = 120 * time.Second
	loopWindow     = 3
)

// Action tells the orchestrator how to proceed after a violation.
type Action string

const (
	// ActionContinue permits the dispatch as proposed.
	ActionContinue Action = "continue"
	// ActionFallback reroutes the turn to the default worker.
	ActionFallback Action = "fallback"
	// ActionTerminate ends the turn without invoking any worker.
	ActionTerminate Action = "terminate"
)

// Violation reason codes. These surface in responses and logs, so they
// are stable strings rather than enum ordinals.
const (
	ReasonMaxIterations = "max_iterations_exceeded"
	ReasonMaxCalls      = "max_calls_exceeded"
	ReasonTimeout       = "timeout"
	ReasonLoopDetected  = "agent_loop_detected"
)

// Verdict is the outcome of a safety check.
type Verdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
	Action Action `json:"action"`
}

func ok() Verdict {
	return Verdict{Safe: true, Action: ActionContinue}
}

func violation(reason string, action Action) Verdict {
	return Verdict{Safe: false, Reason: reason, Action: action}
}

// Check evaluates the safety rules in order against a state snapshot
// and the proposed worker set. The first violated rule wins; later
// rules are not consulted.
func Check(st *session.State, proposed []string, now time.Time) Verdict {
	if st.IterationCount >= MaxIterations {
		return violation(ReasonMaxIterations, ActionTerminate)
	}
	if st.WorkerCallCount >= MaxWorkerCalls {
		return violation(ReasonMaxCalls, ActionTerminate)
	}
	if st.TimedOut || st.Elapsed(now) > SessionWindow {
		return violation(ReasonTimeout, ActionTerminate)
	}
	if inLoop(st, proposed) {
		return violation(ReasonLoopDetected, ActionFallback)
	}
	return ok()
}

// inLoop reports whether the proposed worker set matches the last
// loopWindow dispatches exactly. Three identical consecutive sets plus
// a fourth identical proposal reads as a stuck conversation.
func inLoop(st *session.State, proposed []string) bool {
	if len(st.CallHistory) < loopWindow {
		return false
	}
	key := session.WorkerSetKey(proposed)
	recent := st.CallHistory[len(st.CallHistory)-loopWindow:]
	for _, rec := range recent {
		if session.WorkerSetKey(rec.Workers) != key {
			return false
		}
	}
	return true
}
