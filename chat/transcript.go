package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Transcript is an append-only, ordered list of messages.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

func NewTranscript() *Transcript {
	return &Transcript{
		messages: make([]Message, 0),
	}
}

func (t *Transcript) Append(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg.clone())
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Messages returns a copy of the transcript in append order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.clone()
	}
	return out
}

func (t *Transcript) Get(id uuid.UUID) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, m := range t.messages {
		if m.ID == id {
			return m.clone(), true
		}
	}
	return Message{}, false
}

// Last returns the most recent message with the given role.
func (t *Transcript) Last(role Role) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == role {
			return t.messages[i].clone(), true
		}
	}
	return Message{}, false
}
