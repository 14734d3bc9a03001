package window

import (
	"fmt"
	"testing"
	"time"

	"github.com/stellarlinkco/streamwarden/internal/bus"
)

func TestWindow_EvictsOldestBeyondCapacity(t *testing.T) {
	w := New(100)
	base := time.Now()

	for i := 0; i < 150; i++ {
		w.Ingest(bus.ChatMessage{
			Username:  "user",
			Content:   fmt.Sprintf("msg-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	if w.Size() != 100 {
		t.Fatalf("size = %d, want 100", w.Size())
	}

	msgs := w.Messages()
	if msgs[0].Content != "msg-50" {
		t.Errorf("oldest = %q, want msg-50", msgs[0].Content)
	}
	if msgs[99].Content != "msg-149" {
		t.Errorf("newest = %q, want msg-149", msgs[99].Content)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Fatalf("messages out of arrival order at %d", i)
		}
	}
}

func TestWindow_DefaultCapacity(t *testing.T) {
	w := New(0)
	for i := 0; i < 120; i++ {
		w.Ingest(bus.ChatMessage{Username: "u", Content: "x"})
	}
	if w.Size() != 100 {
		t.Errorf("size = %d, want 100", w.Size())
	}
}

func TestWindow_UserRate(t *testing.T) {
	w := New(100)
	now := time.Now()

	// Three messages inside the trailing minute, two before it.
	for _, offset := range []time.Duration{-5 * time.Minute, -90 * time.Second, -40 * time.Second, -20 * time.Second, -time.Second} {
		w.Ingest(bus.ChatMessage{Username: "chatty", Content: "hi", Timestamp: now.Add(offset)})
	}
	w.Ingest(bus.ChatMessage{Username: "other", Content: "hello", Timestamp: now})

	if got := w.UserRate("chatty", now); got != 3 {
		t.Errorf("UserRate(chatty) = %d, want 3", got)
	}
	if got := w.UserRate("silent", now); got != 0 {
		t.Errorf("UserRate(silent) = %d, want 0", got)
	}

	rates := w.UserRates(now)
	if rates["chatty"] != 3 {
		t.Errorf("rates[chatty] = %d, want 3", rates["chatty"])
	}
	if rates["other"] != 1 {
		t.Errorf("rates[other] = %d, want 1", rates["other"])
	}
}

func TestWindow_UserHistoryPrunedToHorizon(t *testing.T) {
	w := New(100)
	now := time.Now()

	w.Ingest(bus.ChatMessage{Username: "u", Content: "old", Timestamp: now.Add(-11 * time.Minute)})
	w.Ingest(bus.ChatMessage{Username: "u", Content: "new", Timestamp: now})

	w.mu.Lock()
	n := len(w.byUser["u"])
	w.mu.Unlock()
	if n != 1 {
		t.Errorf("history length = %d, want 1 (old entry pruned)", n)
	}
}
