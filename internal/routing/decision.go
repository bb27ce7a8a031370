package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/heliconai/salesdesk/internal/constants"
	"github.com/heliconai/salesdesk/internal/metrics"
)

// Mode selects between a single worker call and a bounded parallel fan-out.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeParallel Mode = "parallel"
)

// Decision is the router's output for one turn. Immutable once produced;
// the workers slice never contains duplicates and always contains the
// primary worker first.
type Decision struct {
	Mode          Mode     `json:"mode"`
	PrimaryWorker string   `json:"primary_worker"`
	Workers       []string `json:"workers"`
	Confidence    float64  `json:"confidence"`
	Intent        string   `json:"intent"`
	Reason        string   `json:"reason"`
}

// RuleMatch is the outcome of the rule-based classifier.
type RuleMatch struct {
	Intent          Intent
	Worker          string
	Confidence      float64
	MatchedKeywords []string
	MatchedPatterns []string
}

// ClassifierResult is the structured answer of the external model-based
// classifier, after strict decoding.
type ClassifierResult struct {
	Intent     string  `json:"intent"`
	Worker     string  `json:"worker"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ruleFloor is the confidence below which a rule match falls back to
// general conversation.
const ruleFloor = 0.3

// MatchRules scores the turn against every intent rule and returns the best
// match. Keyword hits weigh 1, pattern hits weigh 2; confidence is
// min(0.9, score*0.2 + priority*0.05). Anything at or below the floor
// resolves to general conversation.
func (c *Config) MatchRules(input string) RuleMatch {
	lowered := strings.ToLower(input)

	best := RuleMatch{
		Intent:     IntentGeneralChat,
		Worker:     constants.DefaultWorker,
		Confidence: ruleFloor,
	}

	for _, rule := range c.Rules {
		score := 0
		var keywords, patterns []string
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, kw) {
				score++
				keywords = append(keywords, kw)
			}
		}
		for _, re := range rule.Patterns {
			if re.MatchString(lowered) {
				score += 2
				patterns = append(patterns, re.String())
			}
		}
		if score == 0 {
			continue
		}
		confidence := score2confidence(score, rule.Priority)
		if confidence > best.Confidence {
			best = RuleMatch{
				Intent:          rule.Intent,
				Worker:          rule.Worker,
				Confidence:      confidence,
				MatchedKeywords: keywords,
				MatchedPatterns: patterns,
			}
		}
	}
	return best
}

func score2confidence(score, priority int) float64 {
	c := float64(score)*0.2 + float64(priority)*0.05
	if c > 0.9 {
		c = 0.9
	}
	return c
}

// Combine merges the rule-based and model-based classifications. Agreement
// on the worker boosts confidence; disagreement keeps the higher-confidence
// result and records both for observability.
func Combine(rule RuleMatch, model ClassifierResult) (worker string, confidence float64, intent string, reason string) {
	if rule.Worker == model.Worker {
		confidence = (rule.Confidence+model.Confidence)/2 + 0.1
		if confidence > 0.95 {
			confidence = 0.95
		}
		return rule.Worker, confidence, rule.Intent.String(),
			fmt.Sprintf("rule and classifier agree on %s (rule %.2f, classifier %.2f)", rule.Worker, rule.Confidence, model.Confidence)
	}
	if rule.Confidence > model.Confidence {
		return rule.Worker, rule.Confidence, rule.Intent.String(),
			fmt.Sprintf("rule match %s (%.2f) over classifier %s (%.2f)", rule.Worker, rule.Confidence, model.Worker, model.Confidence)
	}
	return model.Worker, model.Confidence, model.Intent,
		fmt.Sprintf("classifier %s (%.2f) over rule match %s (%.2f)", model.Worker, model.Confidence, rule.Worker, rule.Confidence)
}

// ImageOnlyDecision short-circuits turns that carry an image and no text:
// they are unambiguously a document-extraction request.
func ImageOnlyDecision() Decision {
	return Decision{
		Mode:          ModeSingle,
		PrimaryWorker: constants.WorkerDocExtract,
		Workers:       []string{constants.WorkerDocExtract},
		Confidence:    1.0,
		Intent:        IntentDocumentProcessing.String(),
		Reason:        "image-only turn",
	}
}

// MatchedCategories returns the topic categories the turn touches, in
// fixed order.
func (c *Config) MatchedCategories(input string) []string {
	lowered := strings.ToLower(input)
	var matched []string
	for _, name := range categoryOrder {
		for _, kw := range c.Categories[name] {
			if strings.Contains(lowered, kw) {
				matched = append(matched, name)
				break
			}
		}
	}
	return matched
}

// shouldParallel decides the execution mode: two or more topic categories,
// a combined-request pattern, or a long turn all trigger fan-out.
func (c *Config) shouldParallel(input string, categories []string) bool {
	if len(categories) >= 2 {
		return true
	}
	lowered := strings.ToLower(input)
	for _, re := range c.CombinedPatterns {
		if re.MatchString(lowered) {
			return true
		}
	}
	return len(strings.Fields(input)) > c.LongTurnWords
}

// BuildDecision assembles the final decision for a text turn once the
// primary worker has been chosen. Parallel mode unions the primary with the
// companions owned by each matched category and any image-implied worker,
// deduplicated and capped at MaxWorkers.
func (c *Config) BuildDecision(input string, hasImage bool, worker string, confidence float64, intent, reason string) Decision {
	categories := c.MatchedCategories(input)
	if !c.shouldParallel(input, categories) && !hasImage {
		return Decision{
			Mode:          ModeSingle,
			PrimaryWorker: worker,
			Workers:       []string{worker},
			Confidence:    clamp01(confidence),
			Intent:        intent,
			Reason:        reason,
		}
	}

	workers := []string{worker}
	for _, cat := range categories {
		workers = append(workers, categoryWorkers[cat])
	}
	workers = append(workers, c.imageImplied(input, hasImage)...)
	workers = dedup(workers)

	if len(workers) == 1 {
		// An image turn whose hints all collapsed onto the primary still
		// runs single; fan-out needs at least two distinct workers.
		return Decision{
			Mode:          ModeSingle,
			PrimaryWorker: worker,
			Workers:       workers,
			Confidence:    clamp01(confidence),
			Intent:        intent,
			Reason:        reason,
		}
	}
	if len(workers) > c.MaxWorkers {
		workers = workers[:c.MaxWorkers]
		metrics.ParallelTruncations.Inc()
	}
	return Decision{
		Mode:          ModeParallel,
		PrimaryWorker: worker,
		Workers:       workers,
		Confidence:    clamp01(confidence),
		Intent:        intent,
		Reason:        fmt.Sprintf("%s; parallel over %s", reason, strings.Join(categories, "+")),
	}
}

// imageImplied picks companion workers for image-bearing turns: an
// upload-flavored image (document keywords, or barely any text) implies
// document extraction, a conversational image implies vision. Vision
// keywords in the text imply vision regardless of the image flag.
func (c *Config) imageImplied(input string, hasImage bool) []string {
	lowered := strings.ToLower(input)
	trimmed := strings.TrimSpace(input)
	var implied []string

	if hasImage {
		uploadFlavored := containsAny(lowered, c.UploadKeywords) ||
			(len(trimmed) < 10 && !containsAny(lowered, c.ChatKeywords))
		if uploadFlavored {
			implied = append(implied, constants.WorkerDocExtract)
		}
		if containsAny(lowered, c.ChatKeywords) || len(trimmed) >= 10 {
			implied = append(implied, constants.WorkerVision)
		}
	}
	if containsAny(lowered, c.VisionKeywords) {
		implied = append(implied, constants.WorkerVision)
	}
	return implied
}

func containsAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func dedup(workers []string) []string {
	seen := make(map[string]bool, len(workers))
	out := workers[:0]
	for _, w := range workers {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SortedWorkers returns a sorted copy of the decision's worker set, for
// stable logging and loop-detection comparison.
func (d Decision) SortedWorkers() []string {
	out := make([]string, len(d.Workers))
	copy(out, d.Workers)
	sort.Strings(out)
	return out
}
