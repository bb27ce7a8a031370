package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliconai/salesdesk/internal/constants"
)

func TestMatchRulesGreeting(t *testing.T) {
	cfg := DefaultConfig()

	m := cfg.MatchRules("Hello there!")
	assert.Equal(t, IntentGeneralChat, m.Intent)
	assert.Equal(t, constants.WorkerConversation, m.Worker)
	assert.InDelta(t, 0.65, m.Confidence, 1e-9)
	assert.Contains(t, m.MatchedKeywords, "hello")
}

func TestMatchRulesCalendar(t *testing.T) {
	cfg := DefaultConfig()

	m := cfg.MatchRules("Can you book a demo for next week?")
	assert.Equal(t, IntentCalendarManagement, m.Intent)
	assert.Equal(t, constants.WorkerCalendar, m.Worker)
	assert.Equal(t, 0.9, m.Confidence)
}

func TestMatchRulesNoHitFallsToFloor(t *testing.T) {
	cfg := DefaultConfig()

	m := cfg.MatchRules("zxqv wrbl")
	assert.Equal(t, IntentGeneralChat, m.Intent)
	assert.Equal(t, constants.WorkerConversation, m.Worker)
	assert.Equal(t, ruleFloor, m.Confidence)
}

func TestMatchRulesTieGoesToHigherListedRule(t *testing.T) {
	cfg := DefaultConfig()

	// "meeting" and "price" score one keyword each at equal priority;
	// the earlier rule in the table wins.
	m := cfg.MatchRules("meeting price")
	assert.Equal(t, IntentCalendarManagement, m.Intent)
}

func TestCombineAgreementBoosts(t *testing.T) {
	rule := RuleMatch{Intent: IntentProductInquiry, Worker: constants.WorkerKnowledge, Confidence: 0.6}
	model := ClassifierResult{Intent: "product_inquiry", Worker: constants.WorkerKnowledge, Confidence: 0.8}

	worker, conf, intent, reason := Combine(rule, model)
	assert.Equal(t, constants.WorkerKnowledge, worker)
	assert.InDelta(t, 0.8, conf, 1e-9)
	assert.Equal(t, "product_inquiry", intent)
	assert.Contains(t, reason, "agree")
}

func TestCombineAgreementCaps(t *testing.T) {
	rule := RuleMatch{Intent: IntentCalendarManagement, Worker: constants.WorkerCalendar, Confidence: 0.9}
	model := ClassifierResult{Worker: constants.WorkerCalendar, Confidence: 0.9}

	_, conf, _, _ := Combine(rule, model)
	assert.Equal(t, 0.95, conf)
}

func TestCombineDisagreementKeepsStronger(t *testing.T) {
	rule := RuleMatch{Intent: IntentCalendarManagement, Worker: constants.WorkerCalendar, Confidence: 0.9}
	model := ClassifierResult{Intent: "product_inquiry", Worker: constants.WorkerKnowledge, Confidence: 0.5}

	worker, conf, intent, _ := Combine(rule, model)
	assert.Equal(t, constants.WorkerCalendar, worker)
	assert.Equal(t, 0.9, conf)
	assert.Equal(t, "calendar_management", intent)

	worker, conf, intent, _ = Combine(
		RuleMatch{Intent: IntentGeneralChat, Worker: constants.WorkerConversation, Confidence: 0.3},
		ClassifierResult{Intent: "product_inquiry", Worker: constants.WorkerKnowledge, Confidence: 0.7},
	)
	assert.Equal(t, constants.WorkerKnowledge, worker)
	assert.Equal(t, 0.7, conf)
	assert.Equal(t, "product_inquiry", intent)
}

func TestImageOnlyDecision(t *testing.T) {
	d := ImageOnlyDecision()
	assert.Equal(t, ModeSingle, d.Mode)
	assert.Equal(t, constants.WorkerDocExtract, d.PrimaryWorker)
	assert.Equal(t, []string{constants.WorkerDocExtract}, d.Workers)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestCombinedRequestFansOut(t *testing.T) {
	cfg := DefaultConfig()
	input := "compare your plans and book a demo next week"

	m := cfg.MatchRules(input)
	require.Equal(t, constants.WorkerCalendar, m.Worker)

	d := cfg.BuildDecision(input, false, m.Worker, m.Confidence, m.Intent.String(), "rule match")
	assert.Equal(t, ModeParallel, d.Mode)
	assert.Equal(t, constants.WorkerCalendar, d.PrimaryWorker)
	assert.Contains(t, d.Workers, constants.WorkerCalendar)
	assert.Contains(t, d.Workers, constants.WorkerKnowledge)
	assertDecisionInvariants(t, cfg, d)
}

func TestSimpleTurnStaysSingle(t *testing.T) {
	cfg := DefaultConfig()
	input := "thanks, that helps"

	m := cfg.MatchRules(input)
	d := cfg.BuildDecision(input, false, m.Worker, m.Confidence, m.Intent.String(), "rule match")
	assert.Equal(t, ModeSingle, d.Mode)
	assert.Equal(t, []string{constants.WorkerConversation}, d.Workers)
}

func TestLongTurnFansOut(t *testing.T) {
	cfg := DefaultConfig()
	input := "I have been evaluating several vendors over the past quarter and would like to understand in much greater depth how your offering differs before my team decides on anything"

	require.Greater(t, len(strings.Fields(input)), cfg.LongTurnWords)
	m := cfg.MatchRules(input)
	d := cfg.BuildDecision(input, false, m.Worker, m.Confidence, m.Intent.String(), "rule match")
	// Long turns trigger the parallel path even with one category;
	// with no companions the set can still collapse to single.
	assertDecisionInvariants(t, cfg, d)
}

func TestWorkerSetIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	// Touches all three categories plus a vision keyword.
	input := "see the contact for our product meeting, can you see it"

	d := cfg.BuildDecision(input, false, constants.WorkerConversation, 0.5, "general_chat", "test")
	assert.Equal(t, ModeParallel, d.Mode)
	assert.Len(t, d.Workers, cfg.MaxWorkers)
	assertDecisionInvariants(t, cfg, d)
}

func TestImageWithChatTextAddsVision(t *testing.T) {
	cfg := DefaultConfig()
	input := "hello, what do you think of this picture of our booth"

	d := cfg.BuildDecision(input, true, constants.WorkerConversation, 0.65, "general_chat", "rule match")
	assert.Equal(t, ModeParallel, d.Mode)
	assert.Equal(t, constants.WorkerConversation, d.PrimaryWorker)
	assert.Contains(t, d.Workers, constants.WorkerVision)
	assertDecisionInvariants(t, cfg, d)
}

func TestImageWithCardTextAddsExtraction(t *testing.T) {
	cfg := DefaultConfig()
	input := "here is my card"

	d := cfg.BuildDecision(input, true, constants.WorkerDocExtract, 0.9, "document_processing", "rule match")
	assert.Contains(t, d.Workers, constants.WorkerDocExtract)
	assertDecisionInvariants(t, cfg, d)
}

func TestCompileRejectsUnknownWorker(t *testing.T) {
	_, err := CompileRules([]RuleSpec{
		{Intent: "general_chat", Worker: "translator", Priority: 1},
	}, map[string]bool{constants.WorkerConversation: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "translator")
}

func TestCompileRejectsUnknownIntent(t *testing.T) {
	_, err := CompileRules([]RuleSpec{
		{Intent: "weather_report", Worker: constants.WorkerConversation},
	}, map[string]bool{constants.WorkerConversation: true})
	require.Error(t, err)
}

func TestCompileFillsDefaults(t *testing.T) {
	cfg, err := Compile(ConfigSpec{}, map[string]bool{
		constants.WorkerConversation: true,
		constants.WorkerKnowledge:    true,
		constants.WorkerDocExtract:   true,
		constants.WorkerCalendar:     true,
		constants.WorkerVision:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.LongTurnWords)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.NotEmpty(t, cfg.Rules)
}

// assertDecisionInvariants checks the structural guarantees every decision
// carries: primary first, no duplicates, bounded size.
func assertDecisionInvariants(t *testing.T, cfg *Config, d Decision) {
	t.Helper()
	require.NotEmpty(t, d.Workers)
	assert.Equal(t, d.PrimaryWorker, d.Workers[0])
	assert.LessOrEqual(t, len(d.Workers), cfg.MaxWorkers)
	seen := make(map[string]bool)
	for _, w := range d.Workers {
		assert.False(t, seen[w], "duplicate worker %s", w)
		seen[w] = true
	}
	if d.Mode == ModeSingle {
		assert.Len(t, d.Workers, 1)
	}
	assert.GreaterOrEqual(t, d.Confidence, 0.0)
	assert.LessOrEqual(t, d.Confidence, 1.0)
}
