package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Usage captures provider token accounting when available.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// EventMetadata identifies the message a provider event belongs to, plus
// whatever inference context the transport can provide.
type EventMetadata struct {
	MessageID uuid.UUID `json:"message_id"`
	TopicID   string    `json:"topic_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.MessageID.String())
	if em.TopicID != "" {
		e.Str("topic_id", em.TopicID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Usage != nil {
		e.Int("input_tokens", em.Usage.InputTokens)
		e.Int("output_tokens", em.Usage.OutputTokens)
	}
}
