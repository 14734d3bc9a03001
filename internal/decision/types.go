package decision

import (
	"time"

	"github.com/stellarlinkco/streamwarden/internal/analyzer"
)

// Decision is a concrete proposed invocation of an external capability.
// Immutable once executed.
type Decision struct {
	ID         string             `json:"id"`
	Action     string             `json:"action"`
	Parameters map[string]any     `json:"parameters,omitempty"`
	Reason     string             `json:"reason"`
	Confidence float64            `json:"confidence"`
	Patterns   []analyzer.Pattern `json:"patterns,omitempty"` // provenance
	Timestamp  time.Time          `json:"timestamp"`
}
