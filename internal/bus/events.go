package bus

import "time"

// ChatMessage is one inbound chat line from whatever transport feeds the bus.
type ChatMessage struct {
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatBus decouples chat transports from the monitor. Transports push,
// the monitor drains.
type ChatBus struct {
	Inbound chan ChatMessage
}

func NewChatBus(bufSize int) *ChatBus {
	if bufSize <= 0 {
		bufSize = 100
	}
	return &ChatBus{
		Inbound: make(chan ChatMessage, bufSize),
	}
}

// Publish pushes a message without blocking; a full buffer drops the line.
// Chat is ephemeral, so losing a line under backpressure beats stalling a transport.
func (b *ChatBus) Publish(msg ChatMessage) bool {
	select {
	case b.Inbound <- msg:
		return true
	default:
		return false
	}
}
