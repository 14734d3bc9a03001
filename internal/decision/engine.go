// Package decision filters the tool set, asks the oracle for candidate
// actions, and grounds every proposal in an observed pattern before it can
// execute.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/streamwarden/internal/analyzer"
	"github.com/stellarlinkco/streamwarden/internal/config"
	"github.com/stellarlinkco/streamwarden/internal/oracle"
)

const (
	defaultConfidence  = 0.7
	fallbackConfidence = 0.6

	fallbackToxicitySeverity = 7
	fallbackSpamSeverity     = 6
	fallbackMinConfidence    = 0.7
)

const decisionPrompt = `You are the decision engine of an autonomous stream chat moderator.

Current analysis:
%s

Available tools (anything else is on cooldown or disabled):
%s
Configuration: spamDetection=%v toxicityDetection=%v engagement=%v pollAutomation=%v

Rules:
1. Propose zero or more actions, only from the tool list above
2. Every action must cite the pattern type that justifies it via targetPattern
3. Moderation actions need a username parameter
4. Be conservative: no action is better than a wrong action

Return strict JSON array (possibly empty):
[{"action":"timeoutTwitchUser","parameters":{"username":"name","duration":300},"reason":"...","confidence":0.8,"targetPattern":"spam"}]`

const parameterPrompt = `You are wording a %s action for a live stream.

Trigger: %s pattern, severity %d.
Chat context: sentiment %.1f (-1..1), activity %.1f (0..10).

Return a strict JSON object with exactly these keys, reworded to fit the moment:
%s`

// Engine holds the cooldown ledger and turns analysis results into grounded
// action decisions. Callers must serialize Decide with the cycle lock; the
// internal mutex only protects ledger reads from reporting paths.
type Engine struct {
	oracle oracle.Oracle
	cfg    *config.Config
	tools  []Tool

	mu     sync.Mutex
	ledger map[string]time.Time // tool -> last proposal time

	now func() time.Time
}

func NewEngine(o oracle.Oracle, cfg *config.Config) *Engine {
	return &Engine{
		oracle: o,
		cfg:    cfg,
		tools:  defaultTools(),
		ledger: make(map[string]time.Time),
		now:    time.Now,
	}
}

// proposal is the oracle's decision schema.
type proposal struct {
	Action        string         `json:"action"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Reason        string         `json:"reason"`
	Confidence    float64        `json:"confidence,omitempty"`
	TargetPattern string         `json:"targetPattern,omitempty"`
}

// Decide produces the cycle's action decisions. An empty candidate set
// short-circuits without an oracle call; oracle failure falls back to the
// deterministic rules.
func (e *Engine) Decide(ctx context.Context, result *analyzer.Result) []Decision {
	candidates := e.candidateTools()
	if len(candidates) == 0 {
		return nil
	}

	proposals, err := e.queryProposals(ctx, result, candidates)
	if err != nil {
		log.Printf("[decision] oracle decisioning failed, applying fallback rules: %v", err)
		return e.fallbackDecisions(result, candidates)
	}

	byName := make(map[string]Tool, len(candidates))
	for _, t := range candidates {
		byName[t.Name] = t
	}

	var decisions []Decision
	for _, prop := range proposals {
		tool, ok := byName[prop.Action]
		if !ok {
			log.Printf("[decision] discarding proposal for unavailable tool %q", prop.Action)
			continue
		}

		// Resolve provenance. A referenced but unresolved pattern kills the
		// proposal: ungrounded actions never execute.
		var provenance []analyzer.Pattern
		var target *analyzer.Pattern
		if prop.TargetPattern != "" {
			target = resolvePattern(result.Patterns, prop.TargetPattern)
			if target == nil {
				log.Printf("[decision] discarding %s: target pattern %q not in analysis", prop.Action, prop.TargetPattern)
				continue
			}
			provenance = []analyzer.Pattern{*target}
		}

		params := prop.Parameters
		if tool.NeedsWording {
			params = e.synthesizeParameters(ctx, tool, target, result)
		}
		if len(params) == 0 {
			params = cannedParameters(tool.Name, target)
		}

		confidence := prop.Confidence
		if confidence <= 0 {
			confidence = defaultConfidence
		}

		decisions = append(decisions, Decision{
			ID:         uuid.NewString(),
			Action:     tool.Name,
			Parameters: params,
			Reason:     prop.Reason,
			Confidence: confidence,
			Patterns:   provenance,
			Timestamp:  e.now(),
		})
		// Cooldown stamps on proposal, not on execution success. Losing the
		// occasional follow-up is the price of never rapid-firing a
		// high-risk action whose first attempt half-landed.
		e.stampCooldown(tool.Name)
	}
	return decisions
}

// candidateTools filters the registry by cooldown and configuration gates.
func (e *Engine) candidateTools() []Tool {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Tool
	for _, t := range e.tools {
		if !e.toolEnabled(t) {
			continue
		}
		if last, ok := e.ledger[t.Name]; ok && now.Sub(last) < e.cooldownFor(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (e *Engine) toolEnabled(t Tool) bool {
	auto := e.cfg.Autonomous
	switch t.Category {
	case CategoryModeration:
		return auto.SpamDetection || auto.ToxicityDetection
	case CategoryMessaging:
		return auto.Engagement
	case CategoryPoll:
		return auto.PollAutomation
	default:
		return false
	}
}

func (e *Engine) cooldownFor(t Tool) time.Duration {
	if secs, ok := e.cfg.Autonomous.CooldownOverrides[t.Name]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return t.Cooldown
}

func (e *Engine) stampCooldown(tool string) {
	e.mu.Lock()
	e.ledger[tool] = e.now()
	e.mu.Unlock()
}

// Cooldowns reports remaining cooldown per tool, for status/report output.
func (e *Engine) Cooldowns() map[string]time.Duration {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]time.Duration)
	for _, t := range e.tools {
		remaining := time.Duration(0)
		if last, ok := e.ledger[t.Name]; ok {
			if left := e.cooldownFor(t) - now.Sub(last); left > 0 {
				remaining = left
			}
		}
		out[t.Name] = remaining
	}
	return out
}

func (e *Engine) queryProposals(ctx context.Context, result *analyzer.Result, candidates []Tool) ([]proposal, error) {
	prompt := fmt.Sprintf(decisionPrompt,
		summarizeAnalysis(result),
		formatTools(candidates),
		e.cfg.Autonomous.SpamDetection,
		e.cfg.Autonomous.ToxicityDetection,
		e.cfg.Autonomous.Engagement,
		e.cfg.Autonomous.PollAutomation,
	)

	resp, err := e.oracle.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	body := extractJSONArray(resp)
	if body == "" || !gjson.Valid(body) {
		return nil, fmt.Errorf("decision response is not a JSON array")
	}

	var proposals []proposal
	if err := json.Unmarshal([]byte(body), &proposals); err != nil {
		return nil, fmt.Errorf("parse decision response: %w", err)
	}
	return proposals, nil
}

// synthesizeParameters runs the narrower wording call. Any failure
// substitutes the canned parameters; required parameters are never unset.
func (e *Engine) synthesizeParameters(ctx context.Context, tool Tool, target *analyzer.Pattern, result *analyzer.Result) map[string]any {
	canned := cannedParameters(tool.Name, target)

	ptype := "none"
	severity := 0
	if target != nil {
		ptype = string(target.Type)
		severity = target.Severity
	}
	shape, err := json.Marshal(canned)
	if err != nil {
		return canned
	}

	prompt := fmt.Sprintf(parameterPrompt, tool.Name, ptype, severity,
		result.OverallSentiment, result.ActivityLevel, string(shape))

	resp, err := e.oracle.Complete(ctx, prompt)
	if err != nil {
		log.Printf("[decision] parameter synthesis for %s failed, using canned parameters: %v", tool.Name, err)
		return canned
	}

	body := extractJSONObject(resp)
	var params map[string]any
	if body == "" || json.Unmarshal([]byte(body), &params) != nil || len(params) == 0 {
		log.Printf("[decision] unparseable parameters for %s, using canned parameters", tool.Name)
		return canned
	}
	for k, v := range canned {
		if _, ok := params[k]; !ok {
			params[k] = v
		}
	}
	return params
}

// fallbackDecisions applies the fixed rules when the oracle is unusable:
// one decision for the first qualifying toxicity pattern, one for the first
// qualifying spam pattern. No oracle calls, canned parameters only.
func (e *Engine) fallbackDecisions(result *analyzer.Result, candidates []Tool) []Decision {
	byName := make(map[string]Tool, len(candidates))
	for _, t := range candidates {
		byName[t.Name] = t
	}

	var decisions []Decision
	emit := func(action string, p analyzer.Pattern, reason string) {
		tool, ok := byName[action]
		if !ok {
			return
		}
		decisions = append(decisions, Decision{
			ID:         uuid.NewString(),
			Action:     tool.Name,
			Parameters: cannedParameters(tool.Name, &p),
			Reason:     reason,
			Confidence: fallbackConfidence,
			Patterns:   []analyzer.Pattern{p},
			Timestamp:  e.now(),
		})
		e.stampCooldown(tool.Name)
	}

	toxicityDone, spamDone := false, false
	for _, p := range result.Patterns {
		switch p.Type {
		case analyzer.PatternToxicity:
			if !toxicityDone && p.Confidence >= fallbackMinConfidence && p.Severity >= fallbackToxicitySeverity {
				emit(e.cfg.Autonomous.ToxicityAction, p, "Automatic moderation: severe toxicity detected")
				toxicityDone = true
			}
		case analyzer.PatternSpam:
			if !spamDone && p.Confidence >= fallbackMinConfidence && p.Severity >= fallbackSpamSeverity {
				emit("timeoutTwitchUser", p, "Automatic moderation: spam detected")
				spamDone = true
			}
		}
	}
	return decisions
}

func resolvePattern(patterns []analyzer.Pattern, ptype string) *analyzer.Pattern {
	want := analyzer.PatternType(strings.ToLower(strings.TrimSpace(ptype)))
	for i := range patterns {
		if patterns[i].Type == want {
			return &patterns[i]
		}
	}
	return nil
}

func summarizeAnalysis(result *analyzer.Result) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("sentiment=%.2f activity=%.1f needsAttention=%v\n",
		result.OverallSentiment, result.ActivityLevel, result.NeedsAttention))
	if len(result.Patterns) == 0 {
		sb.WriteString("patterns: none\n")
	}
	for _, p := range result.Patterns {
		sb.WriteString(fmt.Sprintf("pattern %s: severity=%d confidence=%.2f users=%v\n",
			p.Type, p.Severity, p.Confidence, p.Users))
	}
	return strings.TrimSpace(sb.String())
}

func extractJSONArray(raw string) string {
	return extractDelimited(raw, '[', ']')
}

func extractJSONObject(raw string) string {
	return extractDelimited(raw, '{', '}')
}

func extractDelimited(raw string, open, close byte) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
