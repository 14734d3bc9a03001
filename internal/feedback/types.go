package feedback

import (
	"time"

	"github.com/stellarlinkco/streamwarden/internal/decision"
)

// UserFeedback is one rating attached to an executed action.
type UserFeedback struct {
	Rating  int       `json:"rating"` // 1-5
	Comment string    `json:"comment,omitempty"`
	Source  string    `json:"source"`
	At      time.Time `json:"at"`
}

// Outcome is one observed-effect record attached to an executed action.
type Outcome struct {
	Effective    bool      `json:"effective"`
	ChatResponse string    `json:"chatResponse,omitempty"`
	SideEffects  []string  `json:"sideEffects,omitempty"`
	At           time.Time `json:"at"`
}

// Entry links an executed decision to later-arriving feedback. Attachments
// append; earlier state is never overwritten.
type Entry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       decision.Decision `json:"actionTaken"`
	UserFeedback []UserFeedback    `json:"userFeedback,omitempty"`
	Outcomes     []Outcome         `json:"outcome,omitempty"`
}

// Success is true when any rating reached 3 or any outcome was effective.
func (e *Entry) Success() bool {
	for _, f := range e.UserFeedback {
		if f.Rating >= 3 {
			return true
		}
	}
	for _, o := range e.Outcomes {
		if o.Effective {
			return true
		}
	}
	return false
}

// HasSample reports whether the entry carries any feedback or outcome at all.
func (e *Entry) HasSample() bool {
	return len(e.UserFeedback) > 0 || len(e.Outcomes) > 0
}

// ActionStat is a per-action aggregate over the metrics window.
type ActionStat struct {
	Action        string  `json:"action"`
	Total         int     `json:"total"`
	Samples       int     `json:"samples"` // entries with feedback or outcome
	Successes     int     `json:"successes"`
	SuccessRate   float64 `json:"successRate"`
	RatingSamples int     `json:"ratingSamples,omitempty"`
	AvgRating     float64 `json:"avgRating"`
	OutcomeSamples int    `json:"outcomeSamples,omitempty"`
	Effectiveness float64 `json:"effectiveness"`
}

// Metrics is the wholesale-recomputed success view of the trailing window.
type Metrics struct {
	WindowDays    int          `json:"windowDays"`
	TotalEntries  int          `json:"totalEntries"`
	Successes     int          `json:"successes"`
	SuccessRate   float64      `json:"successRate"`
	AverageRating float64      `json:"averageRating"`
	TopActions    []ActionStat `json:"topActions,omitempty"`    // >=2 samples
	BottomActions []ActionStat `json:"bottomActions,omitempty"` // >=2 samples
}

// PatternStat aggregates success by pattern type and severity band
// (floor(severity/2)).
type PatternStat struct {
	PatternType  string  `json:"patternType"`
	SeverityBand int     `json:"severityBand"`
	Samples      int     `json:"samples"`
	Successes    int     `json:"successes"`
	SuccessRate  float64 `json:"successRate"`
}

// Insights is the rolling learning document, overwritten per recomputation.
type Insights struct {
	GeneratedAt     time.Time     `json:"generatedAt"`
	TotalSamples    int           `json:"totalSamples"`
	PatternStats    []PatternStat `json:"patternStats,omitempty"`
	ActionStats     []ActionStat  `json:"actionStats,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

// attachment is the durable form of a feedback/outcome log line, carrying
// enough identity to reattach to its entry on reload.
type attachment struct {
	ActionID  string        `json:"actionId"`
	ActionTS  time.Time     `json:"actionTimestamp"`
	Rating    *UserFeedback `json:"userFeedback,omitempty"`
	Outcome   *Outcome      `json:"outcome,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
