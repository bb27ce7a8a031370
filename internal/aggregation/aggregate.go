// Package aggregation merges the contributions of one dispatch batch
// into a single reply. Strategy choice depends only on which workers
// succeeded, so the same batch always merges the same way.
package aggregation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/metrics"
	"github.com/heliconai/salesdesk/internal/workers"
)

// Strategy names, recorded in response metadata.
const (
	StrategyPrimaryWithContext    = "primary_with_context"
	StrategySequentialCombination = "sequential_combination"
	StrategyParallelSynthesis     = "parallel_synthesis"
	StrategySimpleCombination     = "simple_combination"
	StrategyAllFailed             = "all_failed"
)

// ApologyMessage is the fixed reply when every worker in a batch fails.
const ApologyMessage = "I'm sorry, I couldn't process that request right now. Please try again in a moment."

// workerPriority orders contributions when merging. Lower is more
// authoritative.
var workerPriority = map[string]int{
	constants.WorkerDocExtract:   0,
	constants.WorkerCalendar:     1,
	constants.WorkerKnowledge:    2,
	constants.WorkerVision:       3,
	constants.WorkerConversation: 4,
}

// sequenceOrder fixes how sequential narratives read: extraction first,
// then the answer, then the booking, then conversational wrap-up. This
// is a narrative order, distinct from workerPriority.
var sequenceOrder = map[string]int{
	constants.WorkerDocExtract:   0,
	constants.WorkerKnowledge:    1,
	constants.WorkerCalendar:     2,
	constants.WorkerVision:       3,
	constants.WorkerConversation: 4,
}

// sequential connectors for multi-step replies, applied in order with
// the last connector reserved for the final segment.
var connectors = []string{"First", "Next", "Also", "Finally"}

// Result is the merged outcome of a batch.
type Result struct {
	Content       string                 `json:"content"`
	Strategy      string                 `json:"strategy"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	FailedWorkers []string               `json:"failed_workers,omitempty"`
}

// Aggregate merges a batch of task results. primaryWorker is the
// routing decision's primary, which decides whether an extraction
// result stands alone. Failed tasks contribute only to the failure
// accounting; content comes from successes alone.
func Aggregate(results []workers.TaskResult, primaryWorker string) Result {
	succeeded := make([]workers.TaskResult, 0, len(results))
	var failed []string
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r.Worker)
			continue
		}
		succeeded = append(succeeded, r)
	}
	sort.Strings(failed)

	if len(succeeded) == 0 {
		metrics.AggregationStrategies.WithLabelValues(StrategyAllFailed).Inc()
		return Result{
			Content:       ApologyMessage,
			Strategy:      StrategyAllFailed,
			Metadata:      map[string]interface{}{"error": "all_workers_failed"},
			FailedWorkers: failed,
		}
	}

	sortByPriority(succeeded)
	strategy := pickStrategy(succeeded)
	metrics.AggregationStrategies.WithLabelValues(strategy).Inc()

	res := Result{
		Strategy:      strategy,
		FailedWorkers: failed,
		Metadata: map[string]interface{}{
			"strategy":     strategy,
			"worker_count": len(succeeded),
		},
	}
	if len(failed) > 0 {
		res.Metadata["partial"] = true
	}

	switch strategy {
	case StrategyPrimaryWithContext:
		res.Content = primaryWithContext(succeeded, primaryWorker)
	case StrategySequentialCombination:
		res.Content = sequentialCombination(succeeded)
	case StrategyParallelSynthesis:
		res.Content = parallelSynthesis(succeeded)
	default:
		res.Content = simpleCombination(succeeded)
	}
	return res
}

// pickStrategy chooses how to merge based on which workers succeeded.
func pickStrategy(succeeded []workers.TaskResult) string {
	if len(succeeded) == 1 {
		return StrategySimpleCombination
	}
	names := make(map[string]bool, len(succeeded))
	for _, r := range succeeded {
		names[r.Worker] = true
	}
	switch {
	case names[constants.WorkerDocExtract]:
		return StrategyPrimaryWithContext
	case names[constants.WorkerCalendar]:
		return StrategySequentialCombination
	case names[constants.WorkerKnowledge] && names[constants.WorkerConversation]:
		return StrategyParallelSynthesis
	default:
		return StrategySimpleCombination
	}
}

// supplementLimit bounds how much companion text rides along with an
// authoritative extraction result.
const supplementLimit = 100

// primaryWithContext promotes the extraction result to the reply body.
// When extraction was the routed primary its structured output stands
// alone; when it rode along as a companion, the rest of the batch is
// folded in as truncated supporting context.
func primaryWithContext(succeeded []workers.TaskResult, primaryWorker string) string {
	primary := strings.TrimSpace(succeeded[0].Content)
	if primaryWorker == constants.WorkerDocExtract {
		return primary
	}
	extras := make([]string, 0, len(succeeded)-1)
	for _, r := range succeeded[1:] {
		if content := strings.TrimSpace(r.Content); content != "" {
			extras = append(extras, truncate(content, supplementLimit))
		}
	}
	if len(extras) == 0 {
		return primary
	}
	return primary + "\n\nSupplementary information: " + strings.Join(extras, " ")
}

// sequentialCombination presents multi-step outcomes as an ordered
// narrative, in sequenceOrder rather than authority order.
func sequentialCombination(succeeded []workers.TaskResult) string {
	ordered := make([]workers.TaskResult, len(succeeded))
	copy(ordered, succeeded)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(sequenceOrder, ordered[i].Worker) < rank(sequenceOrder, ordered[j].Worker)
	})

	segments := make([]string, 0, len(ordered))
	for _, r := range ordered {
		if content := strings.TrimSpace(r.Content); content != "" {
			segments = append(segments, content)
		}
	}
	if len(segments) == 1 {
		return segments[0]
	}
	parts := make([]string, 0, len(segments))
	for i, seg := range segments {
		parts = append(parts, fmt.Sprintf("%s, %s", connector(i, len(segments)), seg))
	}
	return strings.Join(parts, " ")
}

func rank(order map[string]int, worker string) int {
	if r, ok := order[worker]; ok {
		return r
	}
	return len(order)
}

func connector(i, total int) string {
	if i == total-1 && total > 1 {
		return connectors[len(connectors)-1]
	}
	if i >= len(connectors)-1 {
		return connectors[len(connectors)-2]
	}
	return connectors[i]
}

// parallelSynthesis joins complementary answers. Today this is a
// deterministic listing; a synthesis model can slot in behind the same
// signature.
func parallelSynthesis(succeeded []workers.TaskResult) string {
	return simpleCombination(succeeded)
}

// simpleCombination returns the highest-priority content verbatim and
// labels any secondary contributions by worker name.
func simpleCombination(succeeded []workers.TaskResult) string {
	parts := make([]string, 0, len(succeeded))
	for _, r := range succeeded {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}
		if len(parts) == 0 {
			parts = append(parts, content)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", r.Worker, content))
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// sortByPriority orders results by worker authority, then by name so
// unknown workers land in a stable position.
func sortByPriority(results []workers.TaskResult) {
	sort.SliceStable(results, func(i, j int) bool {
		pi, iok := workerPriority[results[i].Worker]
		pj, jok := workerPriority[results[j].Worker]
		if iok != jok {
			return iok
		}
		if pi != pj {
			return pi < pj
		}
		return results[i].Worker < results[j].Worker
	})
}
