// Package monitor owns the autonomous loop: it drains the chat bus into the
// window, runs periodic analysis cycles, executes decisions through the
// injected executor, and keeps the live statistics. It is the single logical
// owner of all mutable loop state.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/streamwarden/internal/analyzer"
	"github.com/stellarlinkco/streamwarden/internal/bus"
	"github.com/stellarlinkco/streamwarden/internal/config"
	"github.com/stellarlinkco/streamwarden/internal/decision"
	"github.com/stellarlinkco/streamwarden/internal/executor"
	"github.com/stellarlinkco/streamwarden/internal/feedback"
	"github.com/stellarlinkco/streamwarden/internal/oracle"
	"github.com/stellarlinkco/streamwarden/internal/window"
)

const (
	recentActionsCap  = 50
	patternHistoryCap = 50
	patternTrendSpan  = 10 * time.Minute

	significantConfidence = 0.6
	significantSeverity   = 5
)

// LearningData is the learning summary exposed in the state snapshot.
type LearningData struct {
	SuccessfulPatterns []string          `json:"successfulPatterns,omitempty"`
	FailedPatterns     []string          `json:"failedPatterns,omitempty"`
	UserPreferences    map[string]string `json:"userPreferences,omitempty"`
}

// Statistics is the live counters block of the state snapshot.
type Statistics struct {
	ActionsToday      int     `json:"actionsToday"`
	SuccessRate       float64 `json:"successRate"`
	AverageConfidence float64 `json:"averageConfidence"`
	MostCommonAction  string  `json:"mostCommonAction,omitempty"`
}

// State is a read-only snapshot of the monitor.
type State struct {
	IsActive      bool                `json:"isActive"`
	LastAnalysis  time.Time           `json:"lastAnalysis"`
	RecentActions []decision.Decision `json:"recentActions,omitempty"`
	PatternTrends map[string]int      `json:"patternTrends,omitempty"` // type -> count over the trend span
	LearningData  LearningData        `json:"learningData"`
	Statistics    Statistics          `json:"statistics"`
}

// ForceResult is the diagnostic output of ForceAnalysis.
type ForceResult struct {
	Analysis  *analyzer.Result    `json:"analysis"`
	Patterns  []analyzer.Pattern  `json:"patterns"`
	Decisions []decision.Decision `json:"decisions"`
	Executed  int                 `json:"executed"`
}

type Monitor struct {
	cfg      *config.Config
	bus      *bus.ChatBus
	window   *window.Window
	analyzer *analyzer.Analyzer
	engine   *decision.Engine
	store    *feedback.Store
	exec     executor.Executor

	interval    time.Duration
	actionPause time.Duration
	now         func() time.Time

	// cycleMu serializes cycle execution: a timer tick and ForceAnalysis
	// must never run concurrently over the cooldown ledger, recentActions,
	// or statistics.
	cycleMu sync.Mutex

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	cancel         context.CancelFunc
	maintenance    *rcron.Cron
	lastAnalysis   time.Time
	recentActions  []decision.Decision
	patternHistory []analyzer.Pattern
	actionsToday   int
	today          string
	lastCycleConf  float64
}

func New(cfg *config.Config, o oracle.Oracle, exec executor.Executor, store *feedback.Store, b *bus.ChatBus) *Monitor {
	interval, err := time.ParseDuration(cfg.Autonomous.AnalysisInterval)
	if err != nil || interval <= 0 {
		interval, _ = time.ParseDuration(config.DefaultAnalysisInterval)
	}

	return &Monitor{
		cfg:         cfg,
		bus:         b,
		window:      window.New(config.DefaultWindowSize),
		analyzer:    analyzer.New(o),
		engine:      decision.NewEngine(o, cfg),
		store:       store,
		exec:        exec,
		interval:    interval,
		actionPause: config.DefaultActionPauseMs * time.Millisecond,
		now:         time.Now,
	}
}

// Ingest pushes one chat message into the window. Push-style, safe from any
// goroutine.
func (m *Monitor) Ingest(msg bus.ChatMessage) {
	m.window.Ingest(msg)
}

// Start transitions Stopped -> Running and begins the periodic cycle plus
// the recurring daily maintenance. No-op when already Running or globally
// disabled.
func (m *Monitor) Start(ctx context.Context) {
	if !m.cfg.Autonomous.Enabled {
		log.Printf("[monitor] start ignored: autonomous mode disabled")
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	m.running = true
	m.stopCh = stopCh
	m.cancel = cancel
	m.today = m.now().Format("2006-01-02")

	c := rcron.New(rcron.WithSeconds())
	if _, err := c.AddFunc(config.DefaultMaintenanceExpr, func() { m.runMaintenance() }); err != nil {
		log.Printf("[monitor] register maintenance warning: %v", err)
	}
	c.Start()
	m.maintenance = c
	m.mu.Unlock()

	if m.bus != nil {
		go m.drainLoop(runCtx, stopCh)
	}
	go m.cycleLoop(runCtx, stopCh)

	log.Printf("[monitor] started, analysis interval %s", m.interval)
}

// Stop halts the periodic timer, waits for any in-flight cycle to finish,
// and transitions to Stopped. Partially-applied action sequences are worse
// than a slightly late stop. No-op when already Stopped.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	cancel := m.cancel
	maintenance := m.maintenance
	m.stopCh = nil
	m.cancel = nil
	m.maintenance = nil
	m.mu.Unlock()

	close(stopCh)

	// An in-flight cycle holds cycleMu and its oracle/executor calls hold
	// the run context. Wait for the cycle before cancelling so
	// already-issued decisions still execute and get recorded.
	m.cycleMu.Lock()
	m.cycleMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if maintenance != nil {
		stopCtx := maintenance.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[monitor] maintenance stop timeout")
		}
	}

	// Best-effort final report.
	if m.store != nil {
		report := m.GeneratePerformanceReport()
		if err := m.store.WriteDailyReport(m.now(), report); err != nil {
			log.Printf("[monitor] final report warning: %v", err)
		}
	}
	log.Printf("[monitor] stopped")
}

func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) drainLoop(ctx context.Context, stopCh chan struct{}) {
	for {
		select {
		case msg := <-m.bus.Inbound:
			m.window.Ingest(msg)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) cycleLoop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A tick landing while the previous cycle still awaits the
			// oracle is skipped, not queued.
			if m.cycleMu.TryLock() {
				m.runCycle(ctx)
				m.cycleMu.Unlock()
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runCycle is one periodic pass. Caller holds cycleMu. No failure inside a
// cycle is fatal; everything degrades to logs.
func (m *Monitor) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[monitor] cycle recovered: %v", r)
		}
	}()

	if !m.IsRunning() {
		return
	}
	if m.window.Size() == 0 {
		return
	}
	m.rolloverIfNeeded()

	result := m.analyze(ctx)

	significant := filterSignificant(result)
	if len(significant) == 0 {
		return
	}

	filtered := *result
	filtered.Patterns = significant
	decisions := m.engine.Decide(ctx, &filtered)
	if len(decisions) == 0 {
		return
	}

	executed := m.executeSequentially(ctx, decisions)
	m.updateStatistics(executed)
}

// ForceAnalysis runs the full pipeline synchronously, bypassing the
// significance filter, and returns the intermediate results for diagnostics.
// Honors the same serialization as the periodic cycle. Globally disabled
// configuration makes this a silent no-op.
func (m *Monitor) ForceAnalysis(ctx context.Context) *ForceResult {
	if !m.cfg.Autonomous.Enabled {
		return &ForceResult{Analysis: analyzer.NeutralResult(0)}
	}

	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	m.rolloverIfNeeded()
	result := m.analyze(ctx)

	decisions := m.engine.Decide(ctx, result)
	executed := m.executeSequentially(ctx, decisions)
	m.updateStatistics(executed)

	return &ForceResult{
		Analysis:  result,
		Patterns:  result.Patterns,
		Decisions: decisions,
		Executed:  len(executed),
	}
}

func (m *Monitor) analyze(ctx context.Context) *analyzer.Result {
	msgs := m.window.Messages()
	rates := m.window.UserRates(m.now())
	result := m.analyzer.Analyze(ctx, msgs, rates)

	m.mu.Lock()
	m.lastAnalysis = m.now()
	m.patternHistory = append(m.patternHistory, result.Patterns...)
	m.prunePatternHistoryLocked()
	m.mu.Unlock()

	return result
}

// executeSequentially runs decisions strictly in order with the fixed
// inter-action pause, records successes, and skips failures. Decisions from
// one cycle can never interleave.
func (m *Monitor) executeSequentially(ctx context.Context, decisions []decision.Decision) []decision.Decision {
	var executed []decision.Decision
	for i, d := range decisions {
		if i > 0 {
			time.Sleep(m.actionPause)
		}

		res, err := m.exec.Execute(ctx, d.Action, d.Parameters)
		if err != nil {
			log.Printf("[monitor] execute %s error: %v", d.Action, err)
			continue
		}
		if !res.Success {
			log.Printf("[monitor] execute %s failed: %s", d.Action, res.Error)
			continue
		}

		if err := m.store.RecordAction(d); err != nil {
			log.Printf("[monitor] record action warning: %v", err)
		}
		executed = append(executed, d)

		m.mu.Lock()
		m.recentActions = append(m.recentActions, d)
		if len(m.recentActions) > recentActionsCap {
			m.recentActions = m.recentActions[len(m.recentActions)-recentActionsCap:]
		}
		m.mu.Unlock()
	}
	return executed
}

func (m *Monitor) updateStatistics(executed []decision.Decision) {
	if len(executed) == 0 {
		return
	}
	confSum := 0.0
	for _, d := range executed {
		confSum += d.Confidence
	}

	m.mu.Lock()
	m.actionsToday += len(executed)
	m.lastCycleConf = confSum / float64(len(executed))
	m.mu.Unlock()
}

// rolloverIfNeeded resets actionsToday when a cycle notices the date
// changed, covering a monitor that was stopped over midnight.
func (m *Monitor) rolloverIfNeeded() {
	today := m.now().Format("2006-01-02")
	m.mu.Lock()
	if m.today != today {
		m.today = today
		m.actionsToday = 0
	}
	m.mu.Unlock()
}

func (m *Monitor) prunePatternHistoryLocked() {
	cutoff := m.now().Add(-patternTrendSpan)
	kept := m.patternHistory[:0]
	for _, p := range m.patternHistory {
		if !p.Timestamp.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	if len(kept) > patternHistoryCap {
		kept = kept[len(kept)-patternHistoryCap:]
	}
	m.patternHistory = kept
}

// filterSignificant keeps patterns worth acting on: confident, and either
// severe or part of a batch flagged for attention.
func filterSignificant(result *analyzer.Result) []analyzer.Pattern {
	var out []analyzer.Pattern
	for _, p := range result.Patterns {
		if p.Confidence < significantConfidence {
			continue
		}
		if p.Severity >= significantSeverity || result.NeedsAttention {
			out = append(out, p)
		}
	}
	return out
}

// AddUserFeedback attaches a rating to the action nearest ts. Returns false
// when nothing matches within the window.
func (m *Monitor) AddUserFeedback(ts time.Time, rating int, comment, source string) bool {
	return m.store.AddUserFeedback(ts, rating, comment, source)
}

// RecordActionOutcome attaches an observed outcome to the action nearest ts.
func (m *Monitor) RecordActionOutcome(ts time.Time, effective bool, chatResponse string, sideEffects []string) bool {
	return m.store.RecordOutcome(ts, effective, chatResponse, sideEffects)
}

// GetState returns a read-only snapshot. actionsToday is the live counter;
// the other statistics are recomputed from the feedback window on each call.
func (m *Monitor) GetState() State {
	metrics := m.store.CalculateSuccessMetrics()
	insights := m.store.ComputeInsights()

	m.mu.Lock()
	defer m.mu.Unlock()

	recent := make([]decision.Decision, len(m.recentActions))
	copy(recent, m.recentActions)

	return State{
		IsActive:      m.running,
		LastAnalysis:  m.lastAnalysis,
		RecentActions: recent,
		PatternTrends: patternTrendsLocked(m.patternHistory),
		LearningData:  learningData(insights),
		Statistics: Statistics{
			ActionsToday:      m.actionsToday,
			SuccessRate:       metrics.SuccessRate,
			AverageConfidence: m.lastCycleConf,
			MostCommonAction:  mostCommon(recent),
		},
	}
}

func learningData(ins *feedback.Insights) LearningData {
	ld := LearningData{UserPreferences: make(map[string]string)}
	for _, ps := range ins.PatternStats {
		label := patternLabel(ps)
		switch {
		case ps.SuccessRate >= 0.6:
			ld.SuccessfulPatterns = append(ld.SuccessfulPatterns, label)
		case ps.SuccessRate < 0.4:
			ld.FailedPatterns = append(ld.FailedPatterns, label)
		}
	}
	for _, stat := range ins.ActionStats {
		if stat.RatingSamples == 0 {
			continue
		}
		switch {
		case stat.AvgRating >= 3.5:
			ld.UserPreferences[stat.Action] = "liked"
		case stat.AvgRating < 2.5:
			ld.UserPreferences[stat.Action] = "disliked"
		}
	}
	return ld
}

// patternTrendsLocked counts observed patterns by type over the retained
// trend span. Caller holds mu.
func patternTrendsLocked(history []analyzer.Pattern) map[string]int {
	if len(history) == 0 {
		return nil
	}
	trends := make(map[string]int)
	for _, p := range history {
		trends[string(p.Type)]++
	}
	return trends
}

func patternLabel(ps feedback.PatternStat) string {
	return ps.PatternType + "/band" + string(rune('0'+ps.SeverityBand))
}

func mostCommon(decisions []decision.Decision) string {
	counts := make(map[string]int)
	best, bestN := "", 0
	for _, d := range decisions {
		counts[d.Action]++
		if counts[d.Action] > bestN {
			best, bestN = d.Action, counts[d.Action]
		}
	}
	return best
}

// runMaintenance is the recurring midnight job: stats reset, insights
// rewrite, daily report, retention sweep.
func (m *Monitor) runMaintenance() {
	log.Printf("[monitor] running daily maintenance")

	m.mu.Lock()
	m.actionsToday = 0
	m.today = m.now().Format("2006-01-02")
	m.mu.Unlock()

	m.store.GenerateLearningInsights()

	report := m.GeneratePerformanceReport()
	day := m.now().AddDate(0, 0, -1)
	if err := m.store.WriteDailyReport(day, report); err != nil {
		log.Printf("[monitor] daily report warning: %v", err)
	}

	if err := m.store.Sweep(); err != nil {
		log.Printf("[monitor] retention sweep warning: %v", err)
	}
}
