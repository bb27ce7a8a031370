// Package server exposes the thin HTTP surface for submitting turns
// and waits on their workflow results.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/metrics"
	"github.com/heliconai/salesdesk/internal/workflows"
)

// turnExecutionTimeout bounds a whole turn workflow, batch deadline and
// bookkeeping included.
const turnExecutionTimeout = 2 * time.Minute

// Service submits turns to Temporal and waits for their results.
type Service struct {
	temporal  client.Client
	taskQueue string
	logger    *zap.Logger
}

// TurnRequest is the submission payload.
type TurnRequest struct {
	SessionID    string   `json:"session_id"`
	Input        string   `json:"input"`
	Images       []string `json:"images,omitempty"`
	HistoryLimit int      `json:"history_limit,omitempty"`
}

// New builds a Service over an existing Temporal client.
func New(temporal client.Client, taskQueue string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{temporal: temporal, taskQueue: taskQueue, logger: logger}
}

// SubmitTurn starts a turn workflow and blocks for its result.
func (s *Service) SubmitTurn(ctx context.Context, req TurnRequest) (workflows.TurnResult, error) {
	if req.SessionID == "" {
		return workflows.TurnResult{}, fmt.Errorf("session_id is required")
	}
	if req.Input == "" && len(req.Images) == 0 {
		return workflows.TurnResult{}, fmt.Errorf("input or images required")
	}

	turnID := uuid.New().String()
	input := workflows.TurnInput{
		SessionID:    req.SessionID,
		TurnID:       turnID,
		Input:        req.Input,
		Images:       req.Images,
		HistoryLimit: req.HistoryLimit,
	}

	metrics.WorkflowsStarted.Inc()
	start := time.Now()

	run, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       "turn-" + turnID,
		TaskQueue:                s.taskQueue,
		WorkflowExecutionTimeout: turnExecutionTimeout,
	}, constants.TurnWorkflow, input)
	if err != nil {
		metrics.WorkflowsCompleted.WithLabelValues("unknown", "start_failed").Inc()
		return workflows.TurnResult{}, fmt.Errorf("start turn workflow: %w", err)
	}

	var result workflows.TurnResult
	if err := run.Get(ctx, &result); err != nil {
		metrics.WorkflowsCompleted.WithLabelValues("unknown", "failed").Inc()
		return workflows.TurnResult{}, fmt.Errorf("turn workflow: %w", err)
	}

	status := "ok"
	if !result.Success {
		status = "degraded"
	}
	metrics.WorkflowsCompleted.WithLabelValues(result.Mode, status).Inc()
	metrics.WorkflowDuration.WithLabelValues(result.Mode).Observe(time.Since(start).Seconds())

	s.logger.Info("turn completed",
		zap.String("session_id", req.SessionID),
		zap.String("turn_id", turnID),
		zap.String("mode", result.Mode),
		zap.Bool("success", result.Success),
		zap.Int64("duration_ms", result.DurationMS))
	return result, nil
}

// Handler returns the HTTP mux for turn submission.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/turns", s.handleTurn)
	return mux
}

func (s *Service) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.SubmitTurn(r.Context(), req)
	if err != nil {
		s.logger.Error("turn submission failed",
			zap.String("session_id", req.SessionID), zap.Error(err))
		if req.SessionID == "" || (req.Input == "" && len(req.Images) == 0) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
