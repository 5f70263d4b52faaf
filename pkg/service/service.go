// Package service wires the conversation pipeline together: composing and
// storing user messages, scheduling assistant runs on the per-topic queue,
// streaming provider events into state, and persisting through the gateway.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/persist"
	"github.com/go-go-golems/parley/pkg/providers"
	"github.com/go-go-golems/parley/pkg/queue"
	"github.com/go-go-golems/parley/pkg/state"
	"github.com/go-go-golems/parley/pkg/streaming"
)

// ChatService is the front door of the conversation pipeline. All mutations
// of a topic's conversation go through it; reads return copies.
type ChatService struct {
	adapter providers.Adapter
	store   persist.Store
	state   *state.State
	gateway *persist.Gateway
	queue   *queue.TopicQueue

	model  string
	logger zerolog.Logger
}

type Option func(*options)

type options struct {
	notifier state.Notifier
	logger   zerolog.Logger
	window   time.Duration
	model    string
}

func WithNotifier(notifier state.Notifier) Option {
	return func(o *options) { o.notifier = notifier }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPersistWindow overrides the coalescing window for streaming content
// writes.
func WithPersistWindow(window time.Duration) Option {
	return func(o *options) { o.window = window }
}

func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

func New(adapter providers.Adapter, store persist.Store, opts ...Option) *ChatService {
	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	st := state.New(o.notifier)
	gatewayOpts := []persist.GatewayOption{persist.WithLogger(o.logger)}
	if o.window > 0 {
		gatewayOpts = append(gatewayOpts, persist.WithWindow(o.window))
	}

	return &ChatService{
		adapter: adapter,
		store:   store,
		state:   st,
		gateway: persist.NewGateway(store, st, gatewayOpts...),
		queue:   queue.NewTopicQueue(queue.WithLogger(o.logger)),
		model:   o.model,
		logger:  o.logger,
	}
}

// State exposes the in-memory stores for read access and collaborator status
// updates (for example setting a message to searching).
func (s *ChatService) State() *state.State { return s.state }

func (s *ChatService) CreateTopic(ctx context.Context, name string) (chat.TopicID, error) {
	topicID := chat.NewTopicID()
	if err := s.store.CreateTopic(ctx, topicID, name); err != nil {
		return "", err
	}
	if err := s.state.Messages.CreateTopic(topicID, name); err != nil {
		return "", err
	}
	s.logger.Info().Str("topic_id", string(topicID)).Str("name", name).Msg("topic created")
	return topicID, nil
}

// SendResult reports the two messages a send produced and the handle of the
// assistant run.
type SendResult struct {
	UserMessage      *chat.Message
	AssistantMessage *chat.Message
	Handle           *queue.Handle
}

// SendMessage stores the user's message, creates a pending assistant message
// answering it, and schedules the assistant run on the topic's queue. The
// call returns as soon as both messages are durable; streaming happens in the
// background.
func (s *ChatService) SendMessage(ctx context.Context, topicID chat.TopicID, text string, files []chat.FileAttachment) (*SendResult, error) {
	userMsg, blocks := chat.ComposeUserMessage(topicID, text, files)
	if len(blocks) == 0 {
		return nil, errors.New("empty message")
	}

	// The composed message already references its blocks, so the blocks go in
	// first and the message follows.
	for _, block := range blocks {
		if err := s.state.Blocks.Upsert(block); err != nil {
			return nil, err
		}
	}
	if err := s.state.Messages.AddMessage(userMsg); err != nil {
		return nil, err
	}
	if err := s.gateway.FlushNow(ctx, topicID, userMsg.ID); err != nil {
		return nil, errors.Wrap(err, "persisting user message")
	}

	assistant, handle, err := s.startRun(ctx, topicID, userMsg.ID)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistant,
		Handle:           handle,
	}, nil
}

// Resend schedules a fresh assistant run answering an already stored user
// message. The previous assistant message stays in the conversation.
func (s *ChatService) Resend(ctx context.Context, topicID chat.TopicID, askID chat.MessageID) (*SendResult, error) {
	userMsg, err := s.state.Messages.GetMessage(askID)
	if err != nil {
		return nil, err
	}
	if userMsg.Role != chat.RoleUser {
		return nil, errors.Errorf("message %s is not a user message", askID)
	}

	assistant, handle, err := s.startRun(ctx, topicID, askID)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistant,
		Handle:           handle,
	}, nil
}

func (s *ChatService) startRun(ctx context.Context, topicID chat.TopicID, askID chat.MessageID) (*chat.Message, *queue.Handle, error) {
	assistant := chat.NewAssistantMessage(topicID, askID)
	if err := s.state.Messages.AddMessage(assistant); err != nil {
		return nil, nil, err
	}
	if err := s.gateway.FlushNow(ctx, topicID, assistant.ID); err != nil {
		return nil, nil, errors.Wrap(err, "persisting assistant message")
	}

	handle, err := s.queue.Submit(topicID, func(jobCtx context.Context) error {
		return s.runAssistant(jobCtx, topicID, assistant.ID)
	})
	if err != nil {
		return nil, nil, err
	}

	// A job can fail without the processor reaching a terminal state, for
	// example on a panic or a state fault. The message must not stay stuck
	// in a non-terminal status.
	go func() {
		err := handle.Wait()
		if err == nil {
			return
		}
		msg, getErr := s.state.Messages.GetMessage(assistant.ID)
		if getErr != nil || msg.Status.Terminal() {
			return
		}
		s.failMessage(context.Background(), topicID, assistant.ID, err)
	}()

	return assistant, handle, nil
}

func (s *ChatService) runAssistant(ctx context.Context, topicID chat.TopicID, messageID chat.MessageID) error {
	prompt, err := s.promptBefore(topicID, messageID)
	if err != nil {
		return err
	}

	meta := events.EventMetadata{
		MessageID: parseMessageID(messageID),
		TopicID:   string(topicID),
		Model:     s.model,
	}
	stream, err := s.adapter.Stream(ctx, providers.Request{
		Model:    s.model,
		Messages: prompt,
		Metadata: meta,
	})
	if err != nil {
		s.failMessage(ctx, topicID, messageID, err)
		return err
	}

	p := streaming.NewProcessor(s.state, s.gateway, topicID, messageID,
		streaming.WithLogger(s.logger))
	return p.Run(ctx, stream)
}

// promptBefore flattens the topic's history up to, but excluding, the
// assistant message about to be generated.
func (s *ChatService) promptBefore(topicID chat.TopicID, messageID chat.MessageID) ([]providers.PromptMessage, error) {
	messages, err := s.state.Messages.GetMessages(topicID)
	if err != nil {
		return nil, err
	}

	history := make([]*chat.Message, 0, len(messages))
	blocksByMessage := make(map[chat.MessageID][]*chat.MessageBlock)
	for _, msg := range messages {
		if msg.ID == messageID {
			break
		}
		blocks, err := s.state.Blocks.GetMany(msg.BlockIDs)
		if err != nil {
			return nil, err
		}
		history = append(history, msg)
		blocksByMessage[msg.ID] = blocks
	}
	return providers.FlattenHistory(history, blocksByMessage), nil
}

// failMessage marks an assistant message as failed before any streaming
// happened, for example when the provider rejects the request outright.
func (s *ChatService) failMessage(ctx context.Context, topicID chat.TopicID, messageID chat.MessageID, cause error) {
	errBlock := chat.NewErrorBlock(messageID, cause.Error(), "")
	if err := s.state.AttachBlock(messageID, errBlock); err != nil {
		s.logger.Error().Err(err).Str("message_id", string(messageID)).Msg("attaching error block")
	}
	if err := s.state.Messages.SetStatus(messageID, chat.MessageStatusError); err != nil {
		s.logger.Error().Err(err).Str("message_id", string(messageID)).Msg("marking message failed")
	}
	if err := s.gateway.FlushNow(ctx, topicID, messageID); err != nil {
		s.logger.Error().Err(err).Str("message_id", string(messageID)).Msg("persisting failed message")
	}
}

// CancelGeneration cancels the topic's running assistant job, if any. Partial
// output is kept and finalized.
func (s *ChatService) CancelGeneration(topicID chat.TopicID) {
	s.queue.CancelActive(topicID)
}

// LoadTopic hydrates a topic from storage into the in-memory state and
// returns it.
func (s *ChatService) LoadTopic(ctx context.Context, topicID chat.TopicID) (*chat.Topic, error) {
	topic, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	var blockIDs []chat.BlockID
	for _, msg := range topic.Messages {
		blockIDs = append(blockIDs, msg.BlockIDs...)
	}
	blocks, err := s.store.GetBlocks(ctx, blockIDs)
	if err != nil {
		return nil, err
	}

	if err := s.state.Messages.LoadTopic(topic); err != nil {
		return nil, err
	}
	for _, block := range blocks {
		if err := s.state.Blocks.Upsert(block); err != nil {
			return nil, err
		}
	}
	return topic, nil
}

func (s *ChatService) ListTopics(ctx context.Context) ([]persist.TopicInfo, error) {
	return s.store.ListTopics(ctx)
}

// Message returns a copy of a single message.
func (s *ChatService) Message(id chat.MessageID) (*chat.Message, error) {
	return s.state.Messages.GetMessage(id)
}

// Messages returns copies of a topic's messages in conversation order.
func (s *ChatService) Messages(topicID chat.TopicID) ([]*chat.Message, error) {
	return s.state.Messages.GetMessages(topicID)
}

// Block returns a copy of a single block.
func (s *ChatService) Block(id chat.BlockID) (*chat.MessageBlock, error) {
	return s.state.Blocks.Get(id)
}

// Close drains the queue and the gateway. The store stays open; its owner
// closes it.
func (s *ChatService) Close() {
	s.queue.Close()
	s.gateway.Close()
}

func parseMessageID(id chat.MessageID) uuid.UUID {
	parsed, err := uuid.Parse(string(id))
	if err != nil {
		return uuid.New()
	}
	return parsed
}
