// Package analyzer turns a chat batch into typed Patterns by fanning the
// batch out across independent oracle queries. Each query degrades on its
// own; the analyzer as a whole never fails.
package analyzer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/streamwarden/internal/bus"
	"github.com/stellarlinkco/streamwarden/internal/oracle"
)

const (
	// Toxicity/spam scores below this are treated as noise.
	materialityFloor = 4
	// Engagement needs a stricter bar: its actions are optional upside,
	// not punitive.
	engagementFloor = 6

	quietLevelMax      = 2
	excitementLevelMin = 8
)

type Analyzer struct {
	oracle oracle.Oracle
}

func New(o oracle.Oracle) *Analyzer {
	return &Analyzer{oracle: o}
}

// queryOutcome is one oracle query's contribution to the merged result.
type queryOutcome struct {
	patterns        []Pattern
	sentiment       float64
	sentimentSet    bool
	activity        float64
	activitySet     bool
	recommendations []string
	failed          bool
}

// Analyze runs the five analysis queries in parallel and merges their
// outcomes. rates is the per-user trailing-minute message count map used by
// the spam query. If every query fails the neutral result is returned; the
// caller is never blocked on oracle unavailability.
func (a *Analyzer) Analyze(ctx context.Context, msgs []bus.ChatMessage, rates map[string]int) *Result {
	if len(msgs) == 0 {
		return NeutralResult(0)
	}

	batch := formatBatch(msgs)
	now := time.Now()

	queries := []struct {
		name string
		run  func(ctx context.Context) queryOutcome
	}{
		{"toxicity", func(ctx context.Context) queryOutcome { return a.queryToxicity(ctx, batch, now) }},
		{"spam", func(ctx context.Context) queryOutcome { return a.querySpam(ctx, batch, rates, now) }},
		{"engagement", func(ctx context.Context) queryOutcome { return a.queryEngagement(ctx, batch, now) }},
		{"sentiment", func(ctx context.Context) queryOutcome { return a.querySentiment(ctx, batch) }},
		{"activity", func(ctx context.Context) queryOutcome { return a.queryActivity(ctx, batch, now) }},
	}

	outcomes := make([]queryOutcome, len(queries))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			out := q.run(gctx)
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	result := &Result{ActivityLevel: -1}
	for _, out := range outcomes {
		if out.failed {
			failed++
			continue
		}
		result.Patterns = append(result.Patterns, out.patterns...)
		result.Recommendations = append(result.Recommendations, out.recommendations...)
		if out.sentimentSet {
			result.OverallSentiment = out.sentiment
		}
		if out.activitySet {
			result.ActivityLevel = out.activity
		}
	}

	if failed == len(queries) {
		log.Printf("[analyzer] all oracle queries failed, returning neutral result")
		return NeutralResult(len(msgs))
	}

	if result.ActivityLevel < 0 {
		// Activity query degraded; fall back to the raw message count signal.
		result.ActivityLevel = NeutralResult(len(msgs)).ActivityLevel
	}

	result.NeedsAttention = needsAttention(result.Patterns)
	return result
}

// needsAttention is true iff any spam pattern has severity >=7, any toxicity
// pattern has severity >=6, or the batch holds two or more spam patterns
// (repeat offenders).
func needsAttention(patterns []Pattern) bool {
	spamCount := 0
	for _, p := range patterns {
		switch p.Type {
		case PatternSpam:
			spamCount++
			if p.Severity >= 7 {
				return true
			}
		case PatternToxicity:
			if p.Severity >= 6 {
				return true
			}
		}
	}
	return spamCount >= 2
}

func (a *Analyzer) queryToxicity(ctx context.Context, batch string, now time.Time) queryOutcome {
	obj, err := a.ask(ctx, "toxicity", fmt.Sprintf(toxicityPrompt, batch))
	if err != nil {
		return queryOutcome{failed: true}
	}

	var out queryOutcome
	severity := clampSeverity(obj.Get("severity").Float())
	if !obj.Get("detected").Bool() || int(obj.Get("severity").Float()) < materialityFloor {
		return out
	}

	users := stringList(obj.Get("users"))
	out.patterns = append(out.patterns, Pattern{
		Type:       PatternToxicity,
		Severity:   severity,
		Confidence: clampConfidence(obj.Get("confidence").Float()),
		Users:      users,
		Messages:   stringList(obj.Get("messages")),
		Timestamp:  now,
	})
	if len(users) > 0 {
		out.recommendations = append(out.recommendations, fmt.Sprintf("review moderation for: %v", users))
	}
	return out
}

func (a *Analyzer) querySpam(ctx context.Context, batch string, rates map[string]int, now time.Time) queryOutcome {
	obj, err := a.ask(ctx, "spam", fmt.Sprintf(spamPrompt, formatRates(rates), batch))
	if err != nil {
		return queryOutcome{failed: true}
	}

	var out queryOutcome
	severity := clampSeverity(obj.Get("severity").Float())
	if !obj.Get("detected").Bool() || int(obj.Get("severity").Float()) < materialityFloor {
		return out
	}

	confidence := clampConfidence(obj.Get("confidence").Float())
	messages := stringList(obj.Get("messages"))
	users := stringList(obj.Get("users"))

	// One pattern per offender, so repeat offenders in a single batch
	// register as independent spam patterns.
	if len(users) == 0 {
		out.patterns = append(out.patterns, Pattern{
			Type:       PatternSpam,
			Severity:   severity,
			Confidence: confidence,
			Messages:   messages,
			Timestamp:  now,
		})
	}
	for _, user := range users {
		out.patterns = append(out.patterns, Pattern{
			Type:       PatternSpam,
			Severity:   severity,
			Confidence: confidence,
			Users:      []string{user},
			Messages:   messages,
			Timestamp:  now,
			Metadata:   map[string]any{"ratePerMinute": rates[user]},
		})
	}
	if severity >= 6 {
		out.recommendations = append(out.recommendations, "consider enabling slow mode")
	}
	return out
}

func (a *Analyzer) queryEngagement(ctx context.Context, batch string, now time.Time) queryOutcome {
	obj, err := a.ask(ctx, "engagement", fmt.Sprintf(engagementPrompt, batch))
	if err != nil {
		return queryOutcome{failed: true}
	}

	var out queryOutcome
	score := int(obj.Get("score").Float())
	if score < engagementFloor {
		return out
	}

	confidence := clampConfidence(obj.Get("confidence").Float())
	users := stringList(obj.Get("users"))
	messages := stringList(obj.Get("messages"))

	if obj.Get("questions").Bool() {
		out.patterns = append(out.patterns, Pattern{
			Type:       PatternQuestion,
			Severity:   clampSeverity(float64(score)),
			Confidence: confidence,
			Users:      users,
			Messages:   messages,
			Timestamp:  now,
			Metadata:   map[string]any{"score": score},
		})
		out.recommendations = append(out.recommendations, "viewers have unanswered questions")
	}
	if obj.Get("requests").Bool() {
		out.patterns = append(out.patterns, Pattern{
			Type:       PatternRequest,
			Severity:   clampSeverity(float64(score)),
			Confidence: confidence,
			Users:      users,
			Messages:   messages,
			Timestamp:  now,
			Metadata:   map[string]any{"score": score},
		})
	}
	return out
}

func (a *Analyzer) querySentiment(ctx context.Context, batch string) queryOutcome {
	obj, err := a.ask(ctx, "sentiment", fmt.Sprintf(sentimentPrompt, batch))
	if err != nil {
		return queryOutcome{failed: true}
	}

	sentiment := obj.Get("sentiment").Float()
	if sentiment < -1 {
		sentiment = -1
	}
	if sentiment > 1 {
		sentiment = 1
	}
	return queryOutcome{sentiment: sentiment, sentimentSet: true}
}

func (a *Analyzer) queryActivity(ctx context.Context, batch string, now time.Time) queryOutcome {
	obj, err := a.ask(ctx, "activity", fmt.Sprintf(activityPrompt, batch))
	if err != nil {
		return queryOutcome{failed: true}
	}

	level := obj.Get("level").Float()
	if level < 0 {
		level = 0
	}
	if level > 10 {
		level = 10
	}

	out := queryOutcome{activity: level, activitySet: true}
	confidence := clampConfidence(obj.Get("confidence").Float())
	trend := obj.Get("trend").String()

	switch {
	case level <= quietLevelMax:
		out.patterns = append(out.patterns, Pattern{
			Type:       PatternQuiet,
			Severity:   5,
			Confidence: confidence,
			Timestamp:  now,
			Metadata:   map[string]any{"level": level, "trend": trend},
		})
		out.recommendations = append(out.recommendations, "chat is quiet, consider an engagement prompt or poll")
	case level >= excitementLevelMin:
		out.patterns = append(out.patterns, Pattern{
			Type:       PatternExcitement,
			Severity:   clampSeverity(level),
			Confidence: confidence,
			Timestamp:  now,
			Metadata:   map[string]any{"level": level, "trend": trend},
		})
	}
	return out
}

// ask sends one query and probes the response. Failures are logged and
// surfaced to the per-query degrade path only.
func (a *Analyzer) ask(ctx context.Context, query, prompt string) (gjson.Result, error) {
	resp, err := a.oracle.Complete(ctx, prompt)
	if err != nil {
		log.Printf("[analyzer] %s query error: %v", query, err)
		return gjson.Result{}, err
	}
	parsed, err := probeObject(query, resp)
	if err != nil {
		log.Printf("[analyzer] %v", err)
		return gjson.Result{}, err
	}
	return parsed, nil
}
