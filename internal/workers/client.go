package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Client dispatches tasks to worker endpoints over HTTP. Deadlines are
// the caller's job: the request inherits whatever context it is given.
type Client struct {
	http     *http.Client
	registry *Registry
	logger   *zap.Logger
}

// workerResponse is the wire shape workers reply with.
type workerResponse struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	Error    string                 `json:"error"`
}

// NewClient builds a dispatch client over the given registry.
func NewClient(registry *Registry, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		// No client-side timeout; the activity deadline governs.
		http:     &http.Client{},
		registry: registry,
		logger:   logger,
	}
}

// Execute sends a task to its worker's /process endpoint and returns
// the worker's contribution. Transport failures and non-2xx statuses
// come back as errors so the caller can classify and retry them; a
// well-formed worker-reported error comes back inside the TaskResult.
func (c *Client) Execute(ctx context.Context, task Task) (TaskResult, error) {
	ep, substituted := c.registry.Resolve(task.Worker)
	if ep.BaseURL == "" {
		return TaskResult{}, fmt.Errorf("no endpoint registered for worker %q", task.Worker)
	}
	ctx, span := otel.Tracer("salesdesk/workers").Start(ctx, "worker.process",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("worker.name", ep.Name),
			attribute.String("session.id", task.SessionID),
		))
	defer span.End()
	if substituted {
		task.Worker = ep.Name
	}
	if task.Hints == (Hints{}) {
		task.Hints = ep.Hints
	}

	body, err := json.Marshal(task)
	if err != nil {
		return TaskResult{}, fmt.Errorf("encode task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return TaskResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return TaskResult{}, fmt.Errorf("worker %s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return TaskResult{}, fmt.Errorf("worker %s: read response: %w", ep.Name, err)
	}

	c.logger.Debug("worker call completed",
		zap.String("worker", ep.Name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TaskResult{}, fmt.Errorf("worker %s: status %d: %s", ep.Name, resp.StatusCode, truncate(string(data), 200))
	}

	var wr workerResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return TaskResult{}, fmt.Errorf("worker %s: decode response: %w", ep.Name, err)
	}
	if wr.Error != "" {
		return ErrorResult(ep.Name, wr.Error), nil
	}
	return TaskResult{Worker: ep.Name, Content: wr.Content, Metadata: wr.Metadata}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
