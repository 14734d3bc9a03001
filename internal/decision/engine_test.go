package decision

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/streamwarden/internal/analyzer"
	"github.com/stellarlinkco/streamwarden/internal/config"
)

// scriptedOracle returns decision/parameter responses in order and counts
// calls.
type scriptedOracle struct {
	decisionResp string
	paramResp    string
	err          error
	calls        int
	prompts      []string
}

func (o *scriptedOracle) Complete(ctx context.Context, prompt string) (string, error) {
	o.calls++
	o.prompts = append(o.prompts, prompt)
	if o.err != nil {
		return "", o.err
	}
	if strings.Contains(prompt, "decision engine") {
		return o.decisionResp, nil
	}
	return o.paramResp, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Autonomous.PollAutomation = true
	return cfg
}

func toxicityResult(severity int, confidence float64, users ...string) *analyzer.Result {
	return &analyzer.Result{
		Patterns: []analyzer.Pattern{{
			Type:       analyzer.PatternToxicity,
			Severity:   severity,
			Confidence: confidence,
			Users:      users,
			Timestamp:  time.Now(),
		}},
		NeedsAttention: severity >= 6,
	}
}

func TestDecide_EmptyCandidatesSkipsOracle(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomous.SpamDetection = false
	cfg.Autonomous.ToxicityDetection = false
	cfg.Autonomous.Engagement = false
	cfg.Autonomous.PollAutomation = false

	o := &scriptedOracle{}
	e := NewEngine(o, cfg)

	decisions := e.Decide(context.Background(), toxicityResult(8, 0.9, "troll"))
	if len(decisions) != 0 {
		t.Errorf("decisions = %d, want 0", len(decisions))
	}
	if o.calls != 0 {
		t.Errorf("oracle calls = %d, want 0 (empty candidate set must not query)", o.calls)
	}
}

func TestDecide_CooldownExcludesAndReincludesTool(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomous.CooldownOverrides = map[string]int{"timeoutTwitchUser": 300} // 5 minutes

	e := NewEngine(&scriptedOracle{}, cfg)
	t0 := time.Now()
	e.now = func() time.Time { return t0 }
	e.stampCooldown("timeoutTwitchUser")

	contains := func(tools []Tool, name string) bool {
		for _, tool := range tools {
			if tool.Name == name {
				return true
			}
		}
		return false
	}

	e.now = func() time.Time { return t0.Add(4 * time.Minute) }
	if contains(e.candidateTools(), "timeoutTwitchUser") {
		t.Error("tool must be excluded at t0+4m with a 5m cooldown")
	}

	e.now = func() time.Time { return t0.Add(6 * time.Minute) }
	if !contains(e.candidateTools(), "timeoutTwitchUser") {
		t.Error("tool must be included again at t0+6m")
	}
}

func TestDecide_ConfigGatesFilterCategories(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomous.Engagement = false
	cfg.Autonomous.PollAutomation = false

	e := NewEngine(&scriptedOracle{}, cfg)
	for _, tool := range e.candidateTools() {
		if tool.Category != CategoryModeration {
			t.Errorf("tool %s (%s) should be gated out", tool.Name, tool.Category)
		}
	}
}

func TestDecide_UnresolvedTargetPatternDiscardsProposal(t *testing.T) {
	o := &scriptedOracle{
		decisionResp: `[{"action":"timeoutTwitchUser","parameters":{"username":"ghost"},"reason":"spam","confidence":0.8,"targetPattern":"spam"}]`,
	}
	e := NewEngine(o, testConfig())

	// Analysis only holds a toxicity pattern; the spam reference is ungrounded.
	decisions := e.Decide(context.Background(), toxicityResult(8, 0.9, "troll"))
	if len(decisions) != 0 {
		t.Errorf("ungrounded proposal must be discarded, got %d decisions", len(decisions))
	}
}

func TestDecide_GroundedProposalCarriesProvenanceAndDefaults(t *testing.T) {
	o := &scriptedOracle{
		decisionResp: `[{"action":"timeoutTwitchUser","parameters":{"username":"troll","duration":300},"reason":"toxic behavior","targetPattern":"toxicity"}]`,
	}
	e := NewEngine(o, testConfig())

	decisions := e.Decide(context.Background(), toxicityResult(8, 0.9, "troll"))
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	d := decisions[0]
	if d.ID == "" {
		t.Error("decision ID should be set")
	}
	if d.Confidence != 0.7 {
		t.Errorf("confidence = %v, want default 0.7", d.Confidence)
	}
	if len(d.Patterns) != 1 || d.Patterns[0].Type != analyzer.PatternToxicity {
		t.Errorf("provenance = %+v, want the toxicity pattern", d.Patterns)
	}
	if d.Parameters["username"] != "troll" {
		t.Errorf("username = %v, want troll", d.Parameters["username"])
	}
}

func TestDecide_UnknownToolDiscarded(t *testing.T) {
	o := &scriptedOracle{
		decisionResp: `[{"action":"launchFireworks","reason":"fun","confidence":0.9}]`,
	}
	e := NewEngine(o, testConfig())
	decisions := e.Decide(context.Background(), toxicityResult(8, 0.9, "troll"))
	if len(decisions) != 0 {
		t.Errorf("unknown tool must be discarded, got %d decisions", len(decisions))
	}
}

func TestDecide_ParameterSynthesisFallsBackToCanned(t *testing.T) {
	o := &scriptedOracle{
		decisionResp: `[{"action":"sendTwitchMessage","reason":"chat is quiet","confidence":0.8,"targetPattern":"quiet"}]`,
		paramResp:    "not json at all",
	}
	e := NewEngine(o, testConfig())

	result := &analyzer.Result{
		Patterns: []analyzer.Pattern{{Type: analyzer.PatternQuiet, Severity: 5, Confidence: 0.7, Timestamp: time.Now()}},
	}
	decisions := e.Decide(context.Background(), result)
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	msg, ok := decisions[0].Parameters["message"].(string)
	if !ok || msg == "" {
		t.Errorf("message parameter must never be unset, got %v", decisions[0].Parameters)
	}
}

func TestDecide_FallbackRulesOnOracleFailure(t *testing.T) {
	o := &scriptedOracle{err: fmt.Errorf("oracle down")}
	e := NewEngine(o, testConfig())

	decisions := e.Decide(context.Background(), toxicityResult(8, 0.8, "u1"))
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want exactly 1", len(decisions))
	}
	d := decisions[0]
	if d.Action != config.DefaultToxicityAction {
		t.Errorf("action = %q, want configured default %q", d.Action, config.DefaultToxicityAction)
	}
	if d.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", d.Confidence)
	}
	if d.Parameters["username"] != "u1" {
		t.Errorf("username = %v, want u1", d.Parameters["username"])
	}
}

func TestDecide_FallbackThresholdsAreExact(t *testing.T) {
	tests := []struct {
		name       string
		ptype      analyzer.PatternType
		severity   int
		confidence float64
		want       int
	}{
		{"toxicity below severity", analyzer.PatternToxicity, 6, 0.9, 0},
		{"toxicity below confidence", analyzer.PatternToxicity, 8, 0.6, 0},
		{"toxicity at thresholds", analyzer.PatternToxicity, 7, 0.7, 1},
		{"spam below severity", analyzer.PatternSpam, 5, 0.9, 0},
		{"spam at thresholds", analyzer.PatternSpam, 6, 0.7, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&scriptedOracle{err: fmt.Errorf("down")}, testConfig())
			result := &analyzer.Result{Patterns: []analyzer.Pattern{{
				Type: tt.ptype, Severity: tt.severity, Confidence: tt.confidence,
				Users: []string{"u1"}, Timestamp: time.Now(),
			}}}
			if got := len(e.Decide(context.Background(), result)); got != tt.want {
				t.Errorf("decisions = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecide_CooldownStampsOnProposal(t *testing.T) {
	// Two cycles 10 minutes apart both nominate createTwitchPoll, which
	// carries a 15-minute cooldown: only the first may produce a decision.
	o := &scriptedOracle{
		decisionResp: `[{"action":"createTwitchPoll","reason":"engage chat","confidence":0.8,"targetPattern":"quiet"}]`,
		paramResp:    `{"title":"Poll?","options":["A","B"],"duration":120}`,
	}
	e := NewEngine(o, testConfig())
	t0 := time.Now()
	e.now = func() time.Time { return t0 }

	result := &analyzer.Result{
		Patterns: []analyzer.Pattern{{Type: analyzer.PatternQuiet, Severity: 5, Confidence: 0.7, Timestamp: t0}},
	}

	first := e.Decide(context.Background(), result)
	e.now = func() time.Time { return t0.Add(10 * time.Minute) }
	second := e.Decide(context.Background(), result)

	total := 0
	for _, d := range append(first, second...) {
		if d.Action == "createTwitchPoll" {
			total++
		}
	}
	if total != 1 {
		t.Errorf("createTwitchPoll decisions across both cycles = %d, want 1", total)
	}
}

func TestCooldowns_ReportsRemaining(t *testing.T) {
	e := NewEngine(&scriptedOracle{}, testConfig())
	t0 := time.Now()
	e.now = func() time.Time { return t0 }
	e.stampCooldown("sendTwitchMessage") // 2 minute cooldown

	e.now = func() time.Time { return t0.Add(30 * time.Second) }
	cds := e.Cooldowns()
	if cds["sendTwitchMessage"] != 90*time.Second {
		t.Errorf("remaining = %v, want 90s", cds["sendTwitchMessage"])
	}
	if cds["banTwitchUser"] != 0 {
		t.Errorf("untouched tool remaining = %v, want 0", cds["banTwitchUser"])
	}
}
