package bus

import (
	"testing"
	"time"
)

func TestPublish_DropsOnFullBuffer(t *testing.T) {
	b := NewChatBus(2)
	msg := ChatMessage{Username: "u", Content: "hi", Timestamp: time.Now()}

	if !b.Publish(msg) || !b.Publish(msg) {
		t.Fatal("publishes within capacity must succeed")
	}
	if b.Publish(msg) {
		t.Error("publish to a full buffer must drop, not block")
	}

	<-b.Inbound
	if !b.Publish(msg) {
		t.Error("publish must succeed again after a drain")
	}
}

func TestNewChatBus_DefaultCapacity(t *testing.T) {
	b := NewChatBus(0)
	if cap(b.Inbound) != 100 {
		t.Errorf("cap = %d, want 100", cap(b.Inbound))
	}
}
