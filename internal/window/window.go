// Package window keeps the bounded recent-chat view the analyzer works from.
package window

import (
	"sync"
	"time"

	"github.com/stellarlinkco/streamwarden/internal/bus"
)

const (
	userHistoryHorizon = 10 * time.Minute
	rateWindow         = time.Minute
)

// Window is a bounded FIFO of chat messages plus per-user rolling timestamp
// history used for the spam rate signal. Oldest messages are evicted first.
type Window struct {
	mu       sync.Mutex
	capacity int
	messages []bus.ChatMessage
	byUser   map[string][]time.Time
}

func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = 100
	}
	return &Window{
		capacity: capacity,
		messages: make([]bus.ChatMessage, 0, capacity),
		byUser:   make(map[string][]time.Time),
	}
}

// Ingest appends a message, evicting the oldest beyond capacity, and records
// the sender timestamp pruned to the 10-minute horizon.
func (w *Window) Ingest(msg bus.ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.messages = append(w.messages, msg)
	if len(w.messages) > w.capacity {
		w.messages = w.messages[len(w.messages)-w.capacity:]
	}

	history := append(w.byUser[msg.Username], msg.Timestamp)
	cutoff := msg.Timestamp.Add(-userHistoryHorizon)
	for len(history) > 0 && history[0].Before(cutoff) {
		history = history[1:]
	}
	w.byUser[msg.Username] = history
}

// Messages returns a copy of the current window in arrival order.
func (w *Window) Messages() []bus.ChatMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]bus.ChatMessage, len(w.messages))
	copy(out, w.messages)
	return out
}

func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

// UserRate returns messages-per-minute for one user over the trailing minute.
func (w *Window) UserRate(username string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return countSince(w.byUser[username], now.Add(-rateWindow))
}

// UserRates returns the per-user trailing-minute message counts for every
// user with recent history. Fed into the spam analysis prompt.
func (w *Window) UserRates(now time.Time) map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-rateWindow)
	rates := make(map[string]int)
	for user, history := range w.byUser {
		if n := countSince(history, cutoff); n > 0 {
			rates[user] = n
		}
	}
	return rates
}

func countSince(history []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}
