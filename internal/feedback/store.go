// Package feedback is the append-only record of executed decisions and the
// learning metrics derived from it. Durable state is date-partitioned JSONL
// under the data dir; an in-memory mirror serves matching and aggregation.
package feedback

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/streamwarden/internal/decision"
)

const (
	// Feedback must land within this distance of an executed action or be
	// rejected, never fabricated.
	matchWindow = 60 * time.Second

	metricsWindowDays = 7
)

type Store struct {
	dataDir       string
	retentionDays int

	mu      sync.Mutex
	entries []*Entry

	now func() time.Time
}

func NewStore(dataDir string, retentionDays int) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{
		dataDir:       dataDir,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	if err := s.loadRecent(); err != nil {
		log.Printf("[feedback] load recent entries warning: %v", err)
	}
	return s, nil
}

// RecordAction persists an executed decision as a new entry and appends an
// action log line. Only successfully executed decisions belong here.
func (s *Store) RecordAction(d decision.Decision) error {
	entry := &Entry{Timestamp: d.Timestamp, Action: d}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	if err := s.appendLine(s.dayFile("actions", entry.Timestamp), entry); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	log.Printf("[feedback] recorded action %s (%s)", d.Action, d.ID)
	return nil
}

// AddUserFeedback attaches a rating to the nearest entry within 60 seconds
// of ts. Returns false, mutating nothing, when no entry matches.
func (s *Store) AddUserFeedback(ts time.Time, rating int, comment, source string) bool {
	fb := UserFeedback{Rating: rating, Comment: comment, Source: source, At: s.now()}

	s.mu.Lock()
	entry := s.matchLocked(ts)
	if entry == nil {
		s.mu.Unlock()
		return false
	}
	entry.UserFeedback = append(entry.UserFeedback, fb)
	s.mu.Unlock()

	att := attachment{
		ActionID:  entry.Action.ID,
		ActionTS:  entry.Timestamp,
		Rating:    &fb,
		Timestamp: ts,
	}
	if err := s.appendLine(s.dayFile("user-feedback", fb.At), att); err != nil {
		log.Printf("[feedback] append user-feedback log warning: %v", err)
	}
	return true
}

// RecordOutcome attaches an observed outcome to the nearest entry within 60
// seconds of ts. Returns false, mutating nothing, when no entry matches.
func (s *Store) RecordOutcome(ts time.Time, effective bool, chatResponse string, sideEffects []string) bool {
	oc := Outcome{Effective: effective, ChatResponse: chatResponse, SideEffects: sideEffects, At: s.now()}

	s.mu.Lock()
	entry := s.matchLocked(ts)
	if entry == nil {
		s.mu.Unlock()
		return false
	}
	entry.Outcomes = append(entry.Outcomes, oc)
	s.mu.Unlock()

	att := attachment{
		ActionID:  entry.Action.ID,
		ActionTS:  entry.Timestamp,
		Outcome:   &oc,
		Timestamp: ts,
	}
	if err := s.appendLine(s.dayFile("feedback", oc.At), att); err != nil {
		log.Printf("[feedback] append feedback log warning: %v", err)
	}
	return true
}

// matchLocked finds the entry nearest to ts within the match window. On an
// exact distance tie the most recently recorded entry wins; the tie is
// logged as ambiguous.
func (s *Store) matchLocked(ts time.Time) *Entry {
	var best *Entry
	var bestDist time.Duration
	ambiguous := false

	for _, e := range s.entries {
		dist := ts.Sub(e.Timestamp)
		if dist < 0 {
			dist = -dist
		}
		if dist > matchWindow {
			continue
		}
		switch {
		case best == nil, dist < bestDist:
			best, bestDist, ambiguous = e, dist, false
		case dist == bestDist:
			// Entries are in record order, so the later one is the more
			// recently recorded.
			best, ambiguous = e, true
		}
	}

	if ambiguous {
		log.Printf("[feedback] ambiguous proximity match at %s, resolved to action %s", ts.Format(time.RFC3339), best.Action.ID)
	}
	return best
}

// EntryCount reports how many entries are mirrored in memory.
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// windowEntries snapshots the entries inside the trailing metrics window.
// Attachment slices are copied under the lock so aggregation never reads an
// entry a concurrent AddUserFeedback/RecordOutcome is appending to.
func (s *Store) windowEntries() []Entry {
	cutoff := s.now().AddDate(0, 0, -metricsWindowDays)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		snap := *e
		snap.UserFeedback = append([]UserFeedback(nil), e.UserFeedback...)
		snap.Outcomes = append([]Outcome(nil), e.Outcomes...)
		out = append(out, snap)
	}
	return out
}

// WriteInsights overwrites the rolling learning-insights document.
func (s *Store) WriteInsights(ins *Insights) error {
	data, err := json.MarshalIndent(ins, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dataDir, "insights.json"), data, 0644)
}

// WriteDailyReport writes the report document for the given UTC date.
func (s *Store) WriteDailyReport(day time.Time, text string) error {
	name := fmt.Sprintf("report-%s.txt", day.UTC().Format("2006-01-02"))
	return os.WriteFile(filepath.Join(s.dataDir, name), []byte(text), 0644)
}

// Sweep deletes day-partitioned files older than the retention horizon and
// prunes the in-memory mirror to the metrics window.
func (s *Store) Sweep() error {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)

	files, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("read data dir: %w", err)
	}
	for _, f := range files {
		day, ok := partitionDate(f.Name())
		if !ok {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dataDir, f.Name())); err != nil {
				log.Printf("[feedback] sweep remove %s warning: %v", f.Name(), err)
			} else {
				log.Printf("[feedback] swept %s", f.Name())
			}
		}
	}

	memCutoff := s.now().AddDate(0, 0, -metricsWindowDays)
	s.mu.Lock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.Timestamp.Before(memCutoff) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.mu.Unlock()
	return nil
}

// partitionDate parses "actions-2026-08-31.jsonl" style names.
func partitionDate(name string) (time.Time, bool) {
	base := name
	switch {
	case strings.HasSuffix(base, ".jsonl"):
		base = strings.TrimSuffix(base, ".jsonl")
	case strings.HasSuffix(base, ".txt"):
		base = strings.TrimSuffix(base, ".txt")
	default:
		return time.Time{}, false
	}
	i := strings.LastIndexByte(base, '-')
	if i < 0 || len(base)-i < 3 {
		return time.Time{}, false
	}
	// Date is the last three dash-separated fields.
	parts := strings.Split(base, "-")
	if len(parts) < 4 {
		return time.Time{}, false
	}
	dateStr := strings.Join(parts[len(parts)-3:], "-")
	day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func (s *Store) dayFile(kind string, at time.Time) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s-%s.jsonl", kind, at.UTC().Format("2006-01-02")))
}

func (s *Store) appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write log line: %w", err)
	}
	return nil
}

// loadRecent rebuilds the in-memory mirror from the trailing window's action
// logs and reattaches persisted feedback by action ID.
func (s *Store) loadRecent() error {
	byID := make(map[string]*Entry)

	for offset := metricsWindowDays; offset >= 0; offset-- {
		day := s.now().UTC().AddDate(0, 0, -offset)

		_ = s.eachLine(s.dayFile("actions", day), func(line []byte) {
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				return
			}
			// Attachments reload from their own logs.
			e.UserFeedback, e.Outcomes = nil, nil
			copied := e
			s.entries = append(s.entries, &copied)
			byID[e.Action.ID] = &copied
		})
	}

	attach := func(line []byte) {
		var att attachment
		if err := json.Unmarshal(line, &att); err != nil {
			return
		}
		entry, ok := byID[att.ActionID]
		if !ok {
			return
		}
		if att.Rating != nil {
			entry.UserFeedback = append(entry.UserFeedback, *att.Rating)
		}
		if att.Outcome != nil {
			entry.Outcomes = append(entry.Outcomes, *att.Outcome)
		}
	}
	for offset := metricsWindowDays; offset >= 0; offset-- {
		day := s.now().UTC().AddDate(0, 0, -offset)
		_ = s.eachLine(s.dayFile("user-feedback", day), attach)
		_ = s.eachLine(s.dayFile("feedback", day), attach)
	}

	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Timestamp.Before(s.entries[j].Timestamp)
	})
	if len(s.entries) > 0 {
		log.Printf("[feedback] reloaded %d entries from logs", len(s.entries))
	}
	return nil
}

func (s *Store) eachLine(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn([]byte(line))
	}
	return scanner.Err()
}
