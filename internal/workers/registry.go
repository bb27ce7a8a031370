package workers

import (
	"sync"

	"go.uber.org/zap"

	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/metrics"
)

// Endpoint is a registered worker: where to reach it and the default
// hints dispatched alongside every task it receives.
type Endpoint struct {
	Name    string
	BaseURL string
	Hints   Hints
}

// defaultHints carries the per-worker processing defaults. Config can
// override the URL but not these; they describe what each worker is.
var defaultHints = map[string]Hints{
	constants.WorkerConversation: {
		Focus:          "dialogue",
		ExpectedOutput: "reply",
	},
	constants.WorkerKnowledge: {
		Focus:          "retrieval",
		ExpectedOutput: "grounded_answer",
	},
	constants.WorkerDocExtract: {
		Focus:          "extraction",
		ExpectedOutput: "structured_fields",
		ProcessingMode: "document",
	},
	constants.WorkerCalendar: {
		Focus:          "scheduling",
		ExpectedOutput: "booking_or_availability",
	},
	constants.WorkerVision: {
		Focus:          "image_understanding",
		ExpectedOutput: "description",
		ProcessingMode: "image",
	},
}

// Registry maps worker names to endpoints. Unknown names resolve to the
// conversation worker so a stale routing table degrades instead of
// failing the turn.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	logger    *zap.Logger
}

// NewRegistry builds a registry from worker name to base URL.
func NewRegistry(urls map[string]string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		endpoints: make(map[string]Endpoint, len(urls)),
		logger:    logger,
	}
	for name, url := range urls {
		r.Register(name, url)
	}
	return r
}

// Register adds or replaces a worker endpoint.
func (r *Registry) Register(name, baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = Endpoint{
		Name:    name,
		BaseURL: baseURL,
		Hints:   defaultHints[name],
	}
}

// Known reports whether a worker name has a registered endpoint.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.endpoints[name]
	return ok
}

// Names returns the registered worker names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	return names
}

// Resolve returns the endpoint for a worker, substituting the default
// worker when the name is unknown. The second return reports whether a
// substitution happened.
func (r *Registry) Resolve(name string) (Endpoint, bool) {
	r.mu.RLock()
	ep, ok := r.endpoints[name]
	r.mu.RUnlock()
	if ok {
		return ep, false
	}

	metrics.UnknownWorkerSubstitutions.Inc()
	r.logger.Warn("unknown worker requested, substituting default",
		zap.String("requested", name),
		zap.String("substitute", constants.DefaultWorker))

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[constants.DefaultWorker], true
}
