package persist

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/state"
	"github.com/go-go-golems/parley/pkg/throttle"
)

const flushTimeout = 10 * time.Second

// Gateway sits between the in-memory state and the Store. Structural changes
// (new messages, new blocks, status transitions) go to storage immediately;
// streaming content updates are coalesced per message so a fast token stream
// produces a bounded number of writes. Every flush snapshots the message and
// its blocks from state at flush time, so a dropped intermediate write is
// repaired by the next one.
type Gateway struct {
	store  Store
	state  *state.State
	co     *throttle.Coalescer
	logger zerolog.Logger
}

type GatewayOption func(*Gateway)

func WithWindow(window time.Duration) GatewayOption {
	return func(g *Gateway) { g.co = throttle.NewCoalescer(window) }
}

func WithLogger(logger zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

func NewGateway(store Store, st *state.State, options ...GatewayOption) *Gateway {
	g := &Gateway{
		store:  store,
		state:  st,
		co:     throttle.NewCoalescer(throttle.DefaultWindow),
		logger: zerolog.Nop(),
	}
	for _, o := range options {
		o(g)
	}
	return g
}

func (g *Gateway) CreateTopic(ctx context.Context, id chat.TopicID, name string) error {
	return g.store.CreateTopic(ctx, id, name)
}

// FlushThrottled schedules a coalesced write of the message and its blocks.
// Used on the streaming content path; the first call for an idle message
// writes immediately, bursts collapse into one trailing write per window.
func (g *Gateway) FlushThrottled(topicID chat.TopicID, messageID chat.MessageID) {
	g.co.Do(string(messageID), func() {
		if err := g.flush(topicID, messageID); err != nil {
			g.logger.Error().Err(err).
				Str("topic_id", string(topicID)).
				Str("message_id", string(messageID)).
				Msg("throttled flush failed")
		}
	})
}

// FlushNow cancels any pending coalesced write for the message and performs a
// fresh, unconditional write. Used for structural changes and stream end.
func (g *Gateway) FlushNow(ctx context.Context, topicID chat.TopicID, messageID chat.MessageID) error {
	g.co.Cancel(string(messageID))
	return g.flushCtx(ctx, topicID, messageID)
}

func (g *Gateway) flush(topicID chat.TopicID, messageID chat.MessageID) error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return g.flushCtx(ctx, topicID, messageID)
}

func (g *Gateway) flushCtx(ctx context.Context, topicID chat.TopicID, messageID chat.MessageID) error {
	blocks, err := g.state.MessageBlocks(messageID)
	if err != nil {
		return errors.Wrap(err, "snapshotting blocks")
	}
	messages, err := g.state.Messages.GetMessages(topicID)
	if err != nil {
		return errors.Wrap(err, "snapshotting messages")
	}

	if err := g.store.BulkUpsertBlocks(ctx, blocks); err != nil {
		return errors.Wrap(err, "writing blocks")
	}
	if err := g.store.ReplaceTopicMessages(ctx, topicID, messages); err != nil {
		return errors.Wrap(err, "writing messages")
	}
	return nil
}

// Cancel drops any pending coalesced write for the message without running it.
func (g *Gateway) Cancel(messageID chat.MessageID) {
	g.co.Cancel(string(messageID))
}

// Close drops pending coalesced writes and waits for in-flight ones.
func (g *Gateway) Close() {
	g.co.Close()
}
