// Package openai adapts the OpenAI chat completion API to the provider event
// stream.
package openai

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/providers"
)

const DefaultModel = go_openai.GPT4o

type Adapter struct {
	client *go_openai.Client
	model  string
	logger zerolog.Logger
}

type AdapterOption func(*Adapter)

func WithModel(model string) AdapterOption {
	return func(a *Adapter) { a.model = model }
}

func WithLogger(logger zerolog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = logger }
}

func NewAdapter(apiKey string, options ...AdapterOption) *Adapter {
	return NewAdapterFromClient(go_openai.NewClient(apiKey), options...)
}

func NewAdapterFromClient(client *go_openai.Client, options ...AdapterOption) *Adapter {
	a := &Adapter{
		client: client,
		model:  DefaultModel,
		logger: zerolog.Nop(),
	}
	for _, o := range options {
		o(a)
	}
	return a
}

func (a *Adapter) Stream(ctx context.Context, req providers.Request) (<-chan events.Event, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}

	apiMessages := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := go_openai.ChatMessageRoleUser
		if m.Role == chat.RoleAssistant {
			role = go_openai.ChatMessageRoleAssistant
		}
		apiMessages = append(apiMessages, go_openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Text,
		})
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, go_openai.ChatCompletionRequest{
		Model:    model,
		Messages: apiMessages,
		Stream:   true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "starting completion stream")
	}

	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer func() {
			if err := stream.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("closing completion stream")
			}
		}()

		completion := ""
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				a.emit(ctx, out, events.NewCompleteEvent(req.Metadata, events.CompletionStatusSuccess, ""))
				return
			}
			if err != nil {
				a.logger.Error().Err(err).Msg("completion stream receive failed")
				a.emit(ctx, out, events.NewErrorEvent(req.Metadata, err))
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			completion += delta
			if !a.emit(ctx, out, events.NewTextChunkEvent(req.Metadata, delta, completion)) {
				return
			}
		}
	}()
	return out, nil
}

func (a *Adapter) emit(ctx context.Context, out chan<- events.Event, e events.Event) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ providers.Adapter = &Adapter{}
