// Package notify fans message and block change notifications out to UI
// subscribers over an in-process pub/sub.
package notify

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/state"
)

const (
	MessagesTopic = "parley.messages"
	BlocksTopic   = "parley.blocks"
)

// Router publishes state changes to in-process subscribers. It implements
// state.Notifier, so wiring it into state.New is enough to get change
// notifications for every store mutation.
type Router struct {
	pubSub *gochannel.GoChannel
	logger zerolog.Logger
}

type RouterOption func(*Router)

func WithLogger(logger zerolog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

func NewRouter(options ...RouterOption) *Router {
	r := &Router{logger: zerolog.Nop()}
	for _, o := range options {
		o(r)
	}
	r.pubSub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, pubsubLogger{logger: r.logger})
	return r
}

func (r *Router) MessageChanged(msg *chat.Message) {
	r.publish(MessagesTopic, msg)
}

func (r *Router) BlockChanged(block *chat.MessageBlock) {
	r.publish(BlocksTopic, block)
}

func (r *Router) publish(topic string, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Str("topic", topic).Msg("encoding notification")
		return
	}
	if err := r.pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), b)); err != nil {
		r.logger.Error().Err(err).Str("topic", topic).Msg("publishing notification")
	}
}

// SubscribeMessages delivers every message change until ctx is cancelled.
func (r *Router) SubscribeMessages(ctx context.Context) (<-chan *message.Message, error) {
	return r.pubSub.Subscribe(ctx, MessagesTopic)
}

// SubscribeBlocks delivers every block change until ctx is cancelled.
func (r *Router) SubscribeBlocks(ctx context.Context) (<-chan *message.Message, error) {
	return r.pubSub.Subscribe(ctx, BlocksTopic)
}

func (r *Router) Close() error {
	return r.pubSub.Close()
}

var _ state.Notifier = &Router{}
