package routing

import (
	"fmt"
	"regexp"

	"github.com/heliconai/salesdesk/internal/constants"
)

// Intent is the closed set of user intents the router understands. A tagged
// enum (rather than free-form strings) keeps the intent→worker mapping
// exhaustive at compile time.
type Intent int

const (
	IntentGeneralChat Intent = iota
	IntentDocumentProcessing
	IntentPersonalInfo
	IntentCalendarManagement
	IntentSalesInquiry
	IntentProductInquiry
)

var intentNames = map[Intent]string{
	IntentGeneralChat:        "general_chat",
	IntentDocumentProcessing: "document_processing",
	IntentPersonalInfo:       "personal_info",
	IntentCalendarManagement: "calendar_management",
	IntentSalesInquiry:       "sales_inquiry",
	IntentProductInquiry:     "product_inquiry",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return fmt.Sprintf("intent(%d)", int(i))
}

// ParseIntent resolves an intent name from configuration or a classifier
// response. Unknown names are an error so mapping gaps surface at load time.
func ParseIntent(name string) (Intent, error) {
	for intent, n := range intentNames {
		if n == name {
			return intent, nil
		}
	}
	return IntentGeneralChat, fmt.Errorf("unknown intent %q", name)
}

// Rule scores one intent: keyword hits weigh 1, pattern hits weigh 2, and
// the resulting confidence is min(0.9, score*0.2 + priority*0.05).
type Rule struct {
	Intent   Intent
	Worker   string
	Priority int
	Keywords []string
	Patterns []*regexp.Regexp
}

// RuleSpec is the serializable form of a Rule, as it appears in
// features.yaml under routing.intents.
type RuleSpec struct {
	Intent   string   `mapstructure:"intent" yaml:"intent"`
	Worker   string   `mapstructure:"worker" yaml:"worker"`
	Priority int      `mapstructure:"priority" yaml:"priority"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
}

// CompileRules converts rule specs into scoring rules, compiling patterns.
// Invalid intents, workers, or patterns fail loudly: a broken routing table
// should stop startup, not silently misroute turns.
func CompileRules(specs []RuleSpec, knownWorkers map[string]bool) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		intent, err := ParseIntent(spec.Intent)
		if err != nil {
			return nil, err
		}
		if !knownWorkers[spec.Worker] {
			return nil, fmt.Errorf("intent %q maps to unknown worker %q", spec.Intent, spec.Worker)
		}
		rule := Rule{
			Intent:   intent,
			Worker:   spec.Worker,
			Priority: spec.Priority,
			Keywords: spec.Keywords,
		}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("intent %q pattern %q: %w", spec.Intent, p, err)
			}
			rule.Patterns = append(rule.Patterns, re)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// DefaultRuleSpecs is the built-in intent table, used when features.yaml
// does not override routing.intents. Ordered by descending priority; order
// breaks confidence ties deterministically.
func DefaultRuleSpecs() []RuleSpec {
	return []RuleSpec{
		{
			Intent:   "document_processing",
			Worker:   constants.WorkerDocExtract,
			Priority: 10,
			Keywords: []string{"business card", "name card", "contact info", "contact information", "scan", "extract", "job title"},
			Patterns: []string{`(?i)(scan|read|extract).*(card|contact)`, `(?i)this is .*card`},
		},
		{
			Intent:   "personal_info",
			Worker:   constants.WorkerConversation,
			Priority: 9,
			Keywords: []string{"my name", "my profile", "my info", "my details", "my company", "who am i"},
			Patterns: []string{`(?i)what('| i)?s my\b`, `(?i)do you (know|remember) (me|my)`},
		},
		{
			Intent:   "calendar_management",
			Worker:   constants.WorkerCalendar,
			Priority: 8,
			Keywords: []string{"meeting", "schedule", "appointment", "calendar", "book", "demo", "availability", "available", "reschedule", "next week", "tomorrow"},
			Patterns: []string{`(?i)book (a|an|the)\b`, `(?i)schedule (a|an|the)\b`, `(?i)are you (free|available)`},
		},
		{
			Intent:   "sales_inquiry",
			Worker:   constants.WorkerConversation,
			Priority: 8,
			Keywords: []string{"price", "pricing", "cost", "quote", "discount", "trial", "subscribe", "buy", "purchase", "monthly fee", "contract"},
			Patterns: []string{`(?i)how much\b`, `(?i)(free )?trial`},
		},
		{
			Intent:   "product_inquiry",
			Worker:   constants.WorkerKnowledge,
			Priority: 7,
			Keywords: []string{"product", "feature", "plan", "spec", "platform", "service", "compare", "comparison", "integration", "storefront", "template", "seo", "shipping", "checkout", "documentation", "how to", "setup"},
			Patterns: []string{`(?i)(how (do|to)|what is|explain)\b`, `(?i)difference between`},
		},
		{
			Intent:   "general_chat",
			Worker:   constants.WorkerConversation,
			Priority: 1,
			Keywords: []string{"hello", "hi", "hey", "thanks", "thank you", "goodbye", "bye", "help", "chat"},
			Patterns: []string{`(?i)^(hi|hello|hey)\b`},
		},
	}
}
