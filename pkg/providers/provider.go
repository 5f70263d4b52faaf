// Package providers defines the boundary between the streaming pipeline and
// concrete model backends. An Adapter turns a prompt into the flat event
// stream the stream processor consumes.
package providers

import (
	"context"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
)

// PromptMessage is one turn of flattened conversation history.
type PromptMessage struct {
	Role chat.Role
	Text string
}

// Request describes a single completion run.
type Request struct {
	Model    string
	Messages []PromptMessage
	Metadata events.EventMetadata
}

// Adapter streams completion events for a request. The returned channel is
// closed when the stream ends; the adapter signals failures with an error
// event rather than closing abruptly whenever it can.
type Adapter interface {
	Stream(ctx context.Context, req Request) (<-chan events.Event, error)
}

// FlattenHistory turns stored messages and their blocks into prompt turns,
// keeping only main text content.
func FlattenHistory(messages []*chat.Message, blocksByMessage map[chat.MessageID][]*chat.MessageBlock) []PromptMessage {
	prompt := make([]PromptMessage, 0, len(messages))
	for _, msg := range messages {
		text := ""
		for _, block := range blocksByMessage[msg.ID] {
			if block.Type() != chat.BlockTypeMainText {
				continue
			}
			if text != "" {
				text += "\n"
			}
			text += block.Content.String()
		}
		if text == "" {
			continue
		}
		prompt = append(prompt, PromptMessage{Role: msg.Role, Text: text})
	}
	return prompt
}
