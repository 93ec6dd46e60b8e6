package chat

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/bosley/voxchat/audio"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Origin tells whether a user message was typed or spoken.
type Origin string

const (
	OriginTyped  Origin = "typed"
	OriginSpoken Origin = "spoken"
)

// Message is a transcript entry. Once appended it is never changed.
type Message struct {
	ID        uuid.UUID
	Role      Role
	Text      string
	Origin    Origin // user messages only
	CreatedAt time.Time

	// Audio is set for spoken user messages and is kept for replay only.
	// The controller owns its bytes; readers must not modify them.
	Audio *audio.Clip

	// Suggestions are candidate follow-up inputs, assistant messages only.
	Suggestions []string
}

func (m Message) HasAudio() bool {
	return m.Audio != nil && !m.Audio.Empty()
}

func (m Message) clone() Message {
	m.Suggestions = slices.Clone(m.Suggestions)
	return m
}
