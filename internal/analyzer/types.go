package analyzer

import "time"

type PatternType string

const (
	PatternSpam       PatternType = "spam"
	PatternToxicity   PatternType = "toxicity"
	PatternQuiet      PatternType = "quiet"
	PatternExcitement PatternType = "excitement"
	PatternQuestion   PatternType = "question"
	PatternRequest    PatternType = "request"
)

// Pattern is a structured, typed observation extracted from a batch of chat
// messages.
type Pattern struct {
	Type       PatternType    `json:"type"`
	Severity   int            `json:"severity"`   // 1-10
	Confidence float64        `json:"confidence"` // 0-1
	Users      []string       `json:"users,omitempty"`
	Messages   []string       `json:"messages,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result is one analysis cycle's output.
type Result struct {
	Patterns         []Pattern `json:"patterns"`
	OverallSentiment float64   `json:"overallSentiment"` // [-1, 1]
	ActivityLevel    float64   `json:"activityLevel"`    // [0, 10]
	NeedsAttention   bool      `json:"needsAttention"`
	Recommendations  []string  `json:"recommendations,omitempty"`
}

// NeutralResult is what the analyzer returns when every oracle query failed:
// nothing detected, activity bounded by how much chat there actually was.
func NeutralResult(messageCount int) *Result {
	activity := float64(messageCount)
	if activity > 10 {
		activity = 10
	}
	return &Result{
		Patterns:         nil,
		OverallSentiment: 0,
		ActivityLevel:    activity,
		NeedsAttention:   false,
	}
}
