package voxserv

import (
	"time"

	"github.com/google/uuid"

	"github.com/bosley/voxchat/chat"
)

// MessageView is the wire form of a transcript entry. Audio bytes are served
// separately from /api/messages/{id}/audio.
type MessageView struct {
	ID          uuid.UUID `json:"id"`
	Role        chat.Role `json:"role"`
	Origin      string    `json:"origin,omitempty"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	HasAudio    bool      `json:"hasAudio"`
	MediaType   string    `json:"mediaType,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

type StateView struct {
	Messages    []MessageView `json:"messages"`
	IsLoading   bool          `json:"isLoading"`
	IsRecording bool          `json:"isRecording"`
	IsStarting  bool          `json:"isStarting"`
}

// Frame is a message sent over the websocket.
type Frame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type textRequest struct {
	Prompt string `json:"prompt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func viewOf(snap chat.Snapshot) StateView {
	msgs := make([]MessageView, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		v := MessageView{
			ID:          m.ID,
			Role:        m.Role,
			Origin:      string(m.Origin),
			Text:        m.Text,
			CreatedAt:   m.CreatedAt,
			HasAudio:    m.HasAudio(),
			Suggestions: m.Suggestions,
		}
		if v.HasAudio {
			v.MediaType = m.Audio.MediaType
		}
		msgs = append(msgs, v)
	}
	return StateView{
		Messages:    msgs,
		IsLoading:   snap.IsLoading,
		IsRecording: snap.IsRecording,
		IsStarting:  snap.IsStarting,
	}
}
