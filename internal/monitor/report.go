package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// GeneratePerformanceReport renders the human-readable performance view:
// current status, trailing-window success metrics, action rankings, per-tool
// cooldowns, and the learning recommendations.
func (m *Monitor) GeneratePerformanceReport() string {
	metrics := m.store.CalculateSuccessMetrics()
	insights := m.store.ComputeInsights()
	cooldowns := m.engine.Cooldowns()

	m.mu.Lock()
	running := m.running
	lastAnalysis := m.lastAnalysis
	actionsToday := m.actionsToday
	trends := patternTrendsLocked(m.patternHistory)
	m.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("# Performance Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n", m.now().Format(time.RFC3339)))

	status := "stopped"
	if running {
		status = "running"
	}
	sb.WriteString(fmt.Sprintf("Status: %s\n", status))
	if !lastAnalysis.IsZero() {
		sb.WriteString(fmt.Sprintf("Last analysis: %s\n", lastAnalysis.Format(time.RFC3339)))
	}
	sb.WriteString(fmt.Sprintf("Actions today: %d\n", actionsToday))
	if len(trends) > 0 {
		types := make([]string, 0, len(trends))
		for ptype := range trends {
			types = append(types, ptype)
		}
		sort.Strings(types)
		parts := make([]string, 0, len(types))
		for _, ptype := range types {
			parts = append(parts, fmt.Sprintf("%s x%d", ptype, trends[ptype]))
		}
		sb.WriteString(fmt.Sprintf("Patterns (last %s): %s\n", patternTrendSpan, strings.Join(parts, ", ")))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("## Last %d days\n", metrics.WindowDays))
	sb.WriteString(fmt.Sprintf("Actions: %d, successes: %d (%.0f%%)\n",
		metrics.TotalEntries, metrics.Successes, metrics.SuccessRate*100))
	if metrics.AverageRating > 0 {
		sb.WriteString(fmt.Sprintf("Average rating: %.1f/5\n", metrics.AverageRating))
	} else {
		sb.WriteString("Average rating: no ratings yet\n")
	}
	sb.WriteString("\n")

	if len(metrics.TopActions) > 0 {
		sb.WriteString("Top actions (>=2 samples):\n")
		for _, a := range metrics.TopActions {
			sb.WriteString(fmt.Sprintf("  %s: %.0f%% success, %d samples\n", a.Action, a.SuccessRate*100, a.Samples))
		}
	}
	if len(metrics.BottomActions) > 0 {
		sb.WriteString("Bottom actions (>=2 samples):\n")
		for _, a := range metrics.BottomActions {
			sb.WriteString(fmt.Sprintf("  %s: %.0f%% success, %d samples\n", a.Action, a.SuccessRate*100, a.Samples))
		}
	}
	sb.WriteString("\n## Tool cooldowns\n")

	tools := make([]string, 0, len(cooldowns))
	for tool := range cooldowns {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		remaining := cooldowns[tool]
		if remaining > 0 {
			sb.WriteString(fmt.Sprintf("  %s: %s remaining\n", tool, remaining.Round(time.Second)))
		} else {
			sb.WriteString(fmt.Sprintf("  %s: ready\n", tool))
		}
	}

	if len(insights.Recommendations) > 0 {
		sb.WriteString("\n## Recommendations\n")
		for _, rec := range insights.Recommendations {
			sb.WriteString(fmt.Sprintf("  - %s\n", rec))
		}
	}

	return sb.String()
}
