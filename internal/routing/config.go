package routing

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/heliconai/salesdesk/internal/constants"
)

// Topic categories used by the parallel-execution decision. A turn touching
// two or more categories fans out to the workers that own them.
const (
	CategoryTime    = "time"
	CategoryProduct = "product"
	CategoryContact = "contact"
)

// categoryOrder fixes iteration order so decisions are reproducible.
var categoryOrder = []string{CategoryTime, CategoryProduct, CategoryContact}

// categoryWorkers maps each topic category to its companion worker.
var categoryWorkers = map[string]string{
	CategoryTime:    constants.WorkerCalendar,
	CategoryProduct: constants.WorkerKnowledge,
	CategoryContact: constants.WorkerDocExtract,
}

// Config is the router's static configuration, loaded once at startup.
type Config struct {
	Rules []Rule

	// Topic category keyword sets for the parallel decision.
	Categories map[string][]string

	// Patterns that mark a turn as a combined request regardless of
	// category count.
	CombinedPatterns []*regexp.Regexp

	// Keyword sets that flavor image-bearing turns.
	VisionKeywords []string
	UploadKeywords []string
	ChatKeywords   []string

	// LongTurnWords is the word count past which a turn is considered
	// complex enough for parallel handling.
	LongTurnWords int

	// MaxWorkers caps the size of a parallel worker set, primary included.
	MaxWorkers int
}

// ConfigSpec is the serializable form of Config (features.yaml `routing`).
type ConfigSpec struct {
	Intents          []RuleSpec          `mapstructure:"intents" yaml:"intents"`
	Categories       map[string][]string `mapstructure:"categories" yaml:"categories"`
	CombinedPatterns []string            `mapstructure:"combined_patterns" yaml:"combined_patterns"`
	VisionKeywords   []string            `mapstructure:"vision_keywords" yaml:"vision_keywords"`
	UploadKeywords   []string            `mapstructure:"upload_keywords" yaml:"upload_keywords"`
	ChatKeywords     []string            `mapstructure:"chat_keywords" yaml:"chat_keywords"`
	LongTurnWords    int                 `mapstructure:"long_turn_words" yaml:"long_turn_words"`
	MaxWorkers       int                 `mapstructure:"max_workers" yaml:"max_workers"`
}

// DefaultSpec returns the built-in routing table.
func DefaultSpec() ConfigSpec {
	return ConfigSpec{
		Intents: DefaultRuleSpecs(),
		Categories: map[string][]string{
			CategoryTime:    {"meeting", "schedule", "appointment", "calendar", "book", "demo", "availability", "available", "time slot", "reschedule"},
			CategoryProduct: {"product", "feature", "plan", "pricing", "price", "spec", "service", "platform", "compare", "integration"},
			CategoryContact: {"business card", "name card", "contact", "company", "job title", "phone", "email"},
		},
		CombinedPatterns: []string{
			`(?i)compare\b.*\b(book|schedule)`,
			`(?i)(book|schedule)\b.*\b(pricing|plans?|products?)`,
			`(?i)card\b.*\b(book|schedule|meeting)`,
			`(?i)contact\b.*\b(schedule|meeting|appointment)`,
		},
		VisionKeywords: []string{"camera", "emotion", "expression", "wearing", "look like", "appearance", "can you see"},
		UploadKeywords: []string{"card", "scan", "upload", "contact", "extract"},
		ChatKeywords:   []string{"hello", "hi", "hey", "thanks", "goodbye", "chat"},
		LongTurnWords:  20,
		MaxWorkers:     4,
	}
}

// LoadSpecFile reads a routing table from a standalone YAML file, for
// deployments that manage the table separately from features.yaml.
func LoadSpecFile(path string) (ConfigSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConfigSpec{}, fmt.Errorf("read routing table: %w", err)
	}
	var spec ConfigSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return ConfigSpec{}, fmt.Errorf("parse routing table %s: %w", path, err)
	}
	return spec, nil
}

// Compile validates a spec and produces the runtime Config. Any field left
// empty in the spec falls back to the built-in default.
func Compile(spec ConfigSpec, knownWorkers map[string]bool) (*Config, error) {
	def := DefaultSpec()
	if len(spec.Intents) == 0 {
		spec.Intents = def.Intents
	}
	if len(spec.Categories) == 0 {
		spec.Categories = def.Categories
	}
	if len(spec.CombinedPatterns) == 0 {
		spec.CombinedPatterns = def.CombinedPatterns
	}
	if len(spec.VisionKeywords) == 0 {
		spec.VisionKeywords = def.VisionKeywords
	}
	if len(spec.UploadKeywords) == 0 {
		spec.UploadKeywords = def.UploadKeywords
	}
	if len(spec.ChatKeywords) == 0 {
		spec.ChatKeywords = def.ChatKeywords
	}
	if spec.LongTurnWords <= 0 {
		spec.LongTurnWords = def.LongTurnWords
	}
	if spec.MaxWorkers <= 0 {
		spec.MaxWorkers = def.MaxWorkers
	}

	rules, err := CompileRules(spec.Intents, knownWorkers)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Rules:          rules,
		Categories:     spec.Categories,
		VisionKeywords: spec.VisionKeywords,
		UploadKeywords: spec.UploadKeywords,
		ChatKeywords:   spec.ChatKeywords,
		LongTurnWords:  spec.LongTurnWords,
		MaxWorkers:     spec.MaxWorkers,
	}
	for _, p := range spec.CombinedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("combined pattern %q: %w", p, err)
		}
		cfg.CombinedPatterns = append(cfg.CombinedPatterns, re)
	}
	for name := range spec.Categories {
		if _, ok := categoryWorkers[name]; !ok {
			return nil, fmt.Errorf("unknown topic category %q", name)
		}
	}
	return cfg, nil
}

// DefaultConfig compiles the built-in table against the built-in worker set.
func DefaultConfig() *Config {
	cfg, err := Compile(DefaultSpec(), map[string]bool{
		constants.WorkerConversation: true,
		constants.WorkerKnowledge:    true,
		constants.WorkerDocExtract:   true,
		constants.WorkerCalendar:     true,
		constants.WorkerVision:       true,
	})
	if err != nil {
		// The built-in table is static; a compile failure is a programming
		// error, not a runtime condition.
		panic(err)
	}
	return cfg
}
