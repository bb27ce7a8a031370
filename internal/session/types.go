package session

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no state exists for a session.
	ErrNotFound = errors.New("session state not found")

	// ErrConflict is returned by CompareAndSwap when the stored version
	// no longer matches the caller's snapshot.
	ErrConflict = errors.New("session state version conflict")
)

// Reset windows. A session idle longer than IdleReset starts over; one
// older than MaxLifetime is discarded regardless of activity.
const (
	IdleReset   = 5 * time.Minute
	MaxLifetime = time.Hour
)

// State tracks per-session safety counters across turns. It is owned by
// the orchestrator: only the orchestrator mutates it, and turns of one
// session are strictly sequential, so access is single-writer by contract.
type State struct {
	SessionID       string       `json:"session_id"`
	Version         int64        `json:"version"`
	IterationCount  int          `json:"iteration_count"`
	WorkerCallCount int          `json:"worker_call_count"`
	CallHistory     []CallRecord `json:"call_history"`
	StartTime       time.Time    `json:"start_time"`
	LastActive      time.Time    `json:"last_active"`
	TimedOut        bool         `json:"timed_out"`
}

// CallRecord is one completed dispatch: when it ran and which workers ran.
type CallRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Workers   []string  `json:"workers"`
}

// maxCallHistory bounds the history kept for loop detection.
const maxCallHistory = 5

// NewState returns a fresh state for a session starting now.
func NewState(sessionID string, now time.Time) *State {
	return &State{
		SessionID:  sessionID,
		StartTime:  now,
		LastActive: now,
	}
}

// RecordDispatch folds one completed dispatch into the state: the
// iteration counter advances by one, the call counter by the worker-set
// size, and the worker set joins the bounded history.
func (s *State) RecordDispatch(workers []string, now time.Time) {
	s.IterationCount++
	s.WorkerCallCount += len(workers)
	s.CallHistory = append(s.CallHistory, CallRecord{Timestamp: now, Workers: sortedCopy(workers)})
	if len(s.CallHistory) > maxCallHistory {
		s.CallHistory = s.CallHistory[len(s.CallHistory)-maxCallHistory:]
	}
	s.LastActive = now
}

// Elapsed is the wall-clock age of the session.
func (s *State) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

// Expired reports whether the state should be discarded: idle past the
// reset window or older than the hard lifetime.
func (s *State) Expired(now time.Time) (expired bool, reason string) {
	if now.Sub(s.LastActive) > IdleReset {
		return true, "idle"
	}
	if now.Sub(s.StartTime) > MaxLifetime {
		return true, "lifetime"
	}
	return false, ""
}

// WorkerSetKey canonicalizes a worker set for loop comparison: sorted,
// deduplicated, joined.
func WorkerSetKey(workers []string) string {
	return strings.Join(sortedCopy(workers), ",")
}

func sortedCopy(workers []string) []string {
	seen := make(map[string]bool, len(workers))
	out := make([]string, 0, len(workers))
	for _, w := range workers {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}
