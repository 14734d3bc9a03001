package feedback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/streamwarden/internal/analyzer"
	"github.com/stellarlinkco/streamwarden/internal/decision"
)

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), 30)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func testDecision(id, action string, ts time.Time) decision.Decision {
	return decision.Decision{
		ID:         id,
		Action:     action,
		Parameters: map[string]any{"username": "someone"},
		Reason:     "test",
		Confidence: 0.7,
		Timestamp:  ts,
	}
}

func TestAddUserFeedback_NoEntryWithinWindow(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)
	if err := s.RecordAction(testDecision("a1", "timeoutTwitchUser", now)); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}

	if s.AddUserFeedback(now.Add(2*time.Minute), 5, "", "chat") {
		t.Error("feedback 2m away must be rejected")
	}
	if got := len(s.entries[0].UserFeedback); got != 0 {
		t.Errorf("rejected feedback mutated entry: %d attachments", got)
	}
}

func TestAddUserFeedback_WindowBoundary(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)
	if err := s.RecordAction(testDecision("a1", "timeoutTwitchUser", now)); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}

	if !s.AddUserFeedback(now.Add(60*time.Second), 4, "", "chat") {
		t.Error("feedback exactly 60s away must match")
	}
	if s.AddUserFeedback(now.Add(61*time.Second), 4, "", "chat") {
		t.Error("feedback 61s away must be rejected")
	}
}

func TestAddUserFeedback_NearestEntryWins(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)
	s.RecordAction(testDecision("a1", "timeoutTwitchUser", now))
	s.RecordAction(testDecision("a2", "sendTwitchMessage", now.Add(90*time.Second)))

	// 50s from a1, 40s from a2.
	if !s.AddUserFeedback(now.Add(50*time.Second), 5, "", "chat") {
		t.Fatal("feedback within window must match")
	}
	if len(s.entries[0].UserFeedback) != 0 || len(s.entries[1].UserFeedback) != 1 {
		t.Errorf("feedback attached to wrong entry: a1=%d a2=%d",
			len(s.entries[0].UserFeedback), len(s.entries[1].UserFeedback))
	}
}

func TestAddUserFeedback_TieGoesToLaterEntry(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)
	s.RecordAction(testDecision("a1", "timeoutTwitchUser", now))
	s.RecordAction(testDecision("a2", "banTwitchUser", now.Add(60*time.Second)))

	// Exactly 30s from both; the more recently recorded entry wins.
	if !s.AddUserFeedback(now.Add(30*time.Second), 2, "", "chat") {
		t.Fatal("tied feedback must still match")
	}
	if len(s.entries[1].UserFeedback) != 1 {
		t.Error("tie must resolve to the later entry")
	}
}

func TestRecordOutcome_AppendsNotOverwrites(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)
	s.RecordAction(testDecision("a1", "timeoutTwitchUser", now))

	s.RecordOutcome(now.Add(5*time.Second), true, "chat calmed down", nil)
	s.RecordOutcome(now.Add(10*time.Second), false, "spam resumed", []string{"repeat offender"})
	s.AddUserFeedback(now.Add(15*time.Second), 4, "good call", "chat")
	s.AddUserFeedback(now.Add(20*time.Second), 2, "too harsh", "streamer")

	e := s.entries[0]
	if len(e.Outcomes) != 2 {
		t.Errorf("outcomes = %d, want 2", len(e.Outcomes))
	}
	if len(e.UserFeedback) != 2 {
		t.Errorf("user feedback = %d, want 2", len(e.UserFeedback))
	}
}

func TestCalculateSuccessMetrics_DenominatorIsAllEntries(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)

	// Ten executed actions; six get a positive rating, four get nothing.
	for i := 0; i < 10; i++ {
		ts := now.Add(time.Duration(-i*10) * time.Minute)
		s.RecordAction(testDecision(string(rune('a'+i)), "timeoutTwitchUser", ts))
		if i < 6 {
			if !s.AddUserFeedback(ts.Add(5*time.Second), 5, "", "chat") {
				t.Fatalf("feedback %d did not match", i)
			}
		}
	}

	m := s.CalculateSuccessMetrics()
	if m.TotalEntries != 10 {
		t.Fatalf("TotalEntries = %d, want 10", m.TotalEntries)
	}
	if m.Successes != 6 {
		t.Fatalf("Successes = %d, want 6", m.Successes)
	}
	if m.SuccessRate != 0.6 {
		t.Errorf("SuccessRate = %v, want 0.6 (missing feedback counts against)", m.SuccessRate)
	}
}

func TestCalculateSuccessMetrics_RankingNeedsTwoSamples(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)

	// timeoutTwitchUser: two sampled entries. banTwitchUser: one.
	s.RecordAction(testDecision("t1", "timeoutTwitchUser", now.Add(-30*time.Minute)))
	s.AddUserFeedback(now.Add(-30*time.Minute), 5, "", "chat")
	s.RecordAction(testDecision("t2", "timeoutTwitchUser", now.Add(-20*time.Minute)))
	s.AddUserFeedback(now.Add(-20*time.Minute), 4, "", "chat")
	s.RecordAction(testDecision("b1", "banTwitchUser", now.Add(-10*time.Minute)))
	s.AddUserFeedback(now.Add(-10*time.Minute), 5, "", "chat")

	m := s.CalculateSuccessMetrics()
	for _, stat := range append(m.TopActions, m.BottomActions...) {
		if stat.Action == "banTwitchUser" {
			t.Error("single-sample action must not be ranked")
		}
	}
	found := false
	for _, stat := range m.TopActions {
		if stat.Action == "timeoutTwitchUser" {
			found = true
			if stat.Samples != 2 {
				t.Errorf("Samples = %d, want 2", stat.Samples)
			}
		}
	}
	if !found {
		t.Error("two-sample action must be ranked")
	}
}

func TestConcurrentFeedbackAndAggregation(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)
	for i := 0; i < 5; i++ {
		s.RecordAction(testDecision(fmt.Sprintf("a%d", i), "timeoutTwitchUser", now.Add(time.Duration(-i)*time.Hour)))
	}

	// Out-of-band feedback keeps landing while metrics/insights recompute.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			ts := now.Add(time.Duration(-i%5) * time.Hour)
			s.AddUserFeedback(ts, 4, "", "chat")
			s.RecordOutcome(ts, true, "", nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.CalculateSuccessMetrics()
			s.ComputeInsights()
		}
	}()
	wg.Wait()

	m := s.CalculateSuccessMetrics()
	if m.Successes != 5 {
		t.Errorf("Successes = %d, want all 5 entries successful after the dust settles", m.Successes)
	}
}

func TestSuccessCriteria(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{"no samples", Entry{Timestamp: now}, false},
		{"rating 3 succeeds", Entry{Timestamp: now, UserFeedback: []UserFeedback{{Rating: 3}}}, true},
		{"rating 2 fails", Entry{Timestamp: now, UserFeedback: []UserFeedback{{Rating: 2}}}, false},
		{"effective outcome succeeds", Entry{Timestamp: now, Outcomes: []Outcome{{Effective: true}}}, true},
		{"ineffective outcome fails", Entry{Timestamp: now, Outcomes: []Outcome{{Effective: false}}}, false},
		{"mixed: one good rating is enough", Entry{Timestamp: now,
			UserFeedback: []UserFeedback{{Rating: 1}, {Rating: 4}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeInsights_Recommendations(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)

	// Two poorly rated poll creations.
	s.RecordAction(testDecision("p1", "createTwitchPoll", now.Add(-40*time.Minute)))
	s.AddUserFeedback(now.Add(-40*time.Minute), 1, "", "chat")
	s.RecordAction(testDecision("p2", "createTwitchPoll", now.Add(-30*time.Minute)))
	s.AddUserFeedback(now.Add(-30*time.Minute), 2, "", "chat")

	ins := s.ComputeInsights()

	var lowRating, insufficient bool
	for _, rec := range ins.Recommendations {
		if strings.Contains(rec, "reduce frequency of createTwitchPoll") {
			lowRating = true
		}
		if strings.Contains(rec, "insufficient feedback data") {
			insufficient = true
		}
	}
	if !lowRating {
		t.Errorf("expected low-rating recommendation, got %v", ins.Recommendations)
	}
	if !insufficient {
		t.Errorf("2 samples should flag insufficient data, got %v", ins.Recommendations)
	}
}

func TestComputeInsights_PatternBands(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, now)

	d := testDecision("p1", "timeoutTwitchUser", now.Add(-10*time.Minute))
	d.Patterns = []analyzer.Pattern{{Type: analyzer.PatternSpam, Severity: 7, Confidence: 0.8}}
	s.RecordAction(d)
	s.AddUserFeedback(now.Add(-10*time.Minute), 5, "", "chat")

	ins := s.ComputeInsights()
	if len(ins.PatternStats) != 1 {
		t.Fatalf("PatternStats = %d, want 1", len(ins.PatternStats))
	}
	ps := ins.PatternStats[0]
	if ps.PatternType != "spam" || ps.SeverityBand != 3 {
		t.Errorf("stat = %s band %d, want spam band 3", ps.PatternType, ps.SeverityBand)
	}
	if ps.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", ps.SuccessRate)
	}
}

func TestReloadReattachesFeedbackByActionID(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()

	s, err := NewStore(dir, 30)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.now = func() time.Time { return now }
	s.RecordAction(testDecision("a1", "timeoutTwitchUser", now.Add(-5*time.Minute)))
	s.RecordAction(testDecision("a2", "sendTwitchMessage", now.Add(-2*time.Minute)))
	if !s.AddUserFeedback(now.Add(-5*time.Minute), 4, "nice", "chat") {
		t.Fatal("feedback did not match")
	}
	if !s.RecordOutcome(now.Add(-2*time.Minute), true, "chat picked up", nil) {
		t.Fatal("outcome did not match")
	}

	reloaded, err := NewStore(dir, 30)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.EntryCount() != 2 {
		t.Fatalf("EntryCount = %d, want 2", reloaded.EntryCount())
	}
	var byID = map[string]*Entry{}
	for _, e := range reloaded.entries {
		byID[e.Action.ID] = e
	}
	if len(byID["a1"].UserFeedback) != 1 || byID["a1"].UserFeedback[0].Rating != 4 {
		t.Errorf("a1 feedback not reattached: %+v", byID["a1"].UserFeedback)
	}
	if len(byID["a2"].Outcomes) != 1 || !byID["a2"].Outcomes[0].Effective {
		t.Errorf("a2 outcome not reattached: %+v", byID["a2"].Outcomes)
	}
}

func TestSweepRemovesExpiredPartitions(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	s, err := NewStore(dir, 30)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.now = func() time.Time { return now }

	oldDay := now.UTC().AddDate(0, 0, -45).Format("2006-01-02")
	freshDay := now.UTC().Format("2006-01-02")
	for _, name := range []string{
		"actions-" + oldDay + ".jsonl",
		"report-" + oldDay + ".txt",
		"actions-" + freshDay + ".jsonl",
		"insights.json",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}
	if exists("actions-" + oldDay + ".jsonl") {
		t.Error("expired actions partition survived sweep")
	}
	if exists("report-" + oldDay + ".txt") {
		t.Error("expired report survived sweep")
	}
	if !exists("actions-" + freshDay + ".jsonl") {
		t.Error("fresh partition removed by sweep")
	}
	if !exists("insights.json") {
		t.Error("rolling insights document removed by sweep")
	}
}

func TestPartitionDate(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"actions-2026-08-31.jsonl", true},
		{"user-feedback-2026-08-30.jsonl", true},
		{"report-2026-08-29.txt", true},
		{"insights.json", false},
		{"actions.jsonl", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if _, ok := partitionDate(tt.name); ok != tt.ok {
			t.Errorf("partitionDate(%q) ok = %v, want %v", tt.name, ok, tt.ok)
		}
	}
}
