package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/persist"
	"github.com/go-go-golems/parley/pkg/state"
)

type fixture struct {
	state   *state.State
	store   *persist.MemStore
	gateway *persist.Gateway
	topicID chat.TopicID
	msg     *chat.Message
	meta    events.EventMetadata
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := persist.NewMemStore()
	st := state.New(nil)
	gateway := persist.NewGateway(store, st, persist.WithWindow(20*time.Millisecond))
	t.Cleanup(gateway.Close)

	topicID := chat.NewTopicID()
	require.NoError(t, st.Messages.CreateTopic(topicID, "test"))
	require.NoError(t, store.CreateTopic(context.Background(), topicID, "test"))

	msg := chat.NewAssistantMessage(topicID, chat.NewMessageID())
	require.NoError(t, st.Messages.AddMessage(msg))

	return &fixture{
		state:   st,
		store:   store,
		gateway: gateway,
		topicID: topicID,
		msg:     msg,
		meta:    events.EventMetadata{MessageID: uuid.New(), TopicID: string(topicID)},
	}
}

func (f *fixture) run(t *testing.T, evts ...events.Event) error {
	t.Helper()
	stream := make(chan events.Event, len(evts))
	for _, e := range evts {
		stream <- e
	}
	close(stream)

	p := NewProcessor(f.state, f.gateway, f.topicID, f.msg.ID)
	return p.Run(context.Background(), stream)
}

func (f *fixture) blocks(t *testing.T) []*chat.MessageBlock {
	t.Helper()
	blocks, err := f.state.MessageBlocks(f.msg.ID)
	require.NoError(t, err)
	return blocks
}

func (f *fixture) message(t *testing.T) *chat.Message {
	t.Helper()
	msg, err := f.state.Messages.GetMessage(f.msg.ID)
	require.NoError(t, err)
	return msg
}

func TestTextChunksAccumulateIntoOneBlock(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewTextChunkEvent(f.meta, "Hel", "Hel"),
		events.NewTextChunkEvent(f.meta, "lo", "Hello"),
		events.NewCompleteEvent(f.meta, events.CompletionStatusSuccess, ""),
	))

	blocks := f.blocks(t)
	require.Len(t, blocks, 1)
	assert.Equal(t, chat.BlockTypeMainText, blocks[0].Type())
	assert.Equal(t, "Hello", blocks[0].Content.String())
	assert.Equal(t, chat.BlockStatusSuccess, blocks[0].Status)
	assert.Equal(t, chat.MessageStatusSuccess, f.message(t).Status)
}

func TestDeltasAccumulateWithoutCompletion(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewTextChunkEvent(f.meta, "Hel", ""),
		events.NewTextChunkEvent(f.meta, "lo", ""),
		events.NewCompleteEvent(f.meta, events.CompletionStatusSuccess, ""),
	))

	blocks := f.blocks(t)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Hello", blocks[0].Content.String())
}

func TestToolEventInterleavesTextBlocks(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewTextChunkEvent(f.meta, "Let me check.", "Let me check."),
		events.NewToolCallCompleteEvent(f.meta, events.ToolCall{
			ID: "call-1", Name: "weather", Result: `{"temp":21}`, Status: events.ToolCallStatusDone,
		}),
		events.NewTextChunkEvent(f.meta, "It is 21 degrees.", "It is 21 degrees."),
		events.NewCompleteEvent(f.meta, events.CompletionStatusSuccess, ""),
	))

	blocks := f.blocks(t)
	require.Len(t, blocks, 3)
	assert.Equal(t, chat.BlockTypeMainText, blocks[0].Type())
	assert.Equal(t, "Let me check.", blocks[0].Content.String())
	assert.Equal(t, chat.BlockStatusSuccess, blocks[0].Status)

	assert.Equal(t, chat.BlockTypeTool, blocks[1].Type())
	assert.Equal(t, "weather", blocks[1].Content.(*chat.ToolContent).Name)

	assert.Equal(t, chat.BlockTypeMainText, blocks[2].Type())
	assert.Equal(t, "It is 21 degrees.", blocks[2].Content.String())
}

func TestErrorKeepsPartialTextAndAppendsErrorBlock(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewTextChunkEvent(f.meta, "Once upon", "Once upon"),
		events.NewErrorEvent(f.meta, assert.AnError),
	))

	blocks := f.blocks(t)
	require.Len(t, blocks, 2)
	assert.Equal(t, "Once upon", blocks[0].Content.String())
	assert.Equal(t, chat.BlockStatusSuccess, blocks[0].Status)

	assert.Equal(t, chat.BlockTypeError, blocks[1].Type())
	assert.Equal(t, chat.BlockStatusError, blocks[1].Status)
	assert.Equal(t, chat.MessageStatusError, f.message(t).Status)
}

func TestEventsAfterErrorAreDropped(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewErrorEvent(f.meta, assert.AnError),
		events.NewTextChunkEvent(f.meta, "late", "late"),
		events.NewCompleteEvent(f.meta, events.CompletionStatusSuccess, ""),
	))

	blocks := f.blocks(t)
	require.Len(t, blocks, 1)
	assert.Equal(t, chat.BlockTypeError, blocks[0].Type())
	assert.Equal(t, chat.MessageStatusError, f.message(t).Status)
}

func TestCitationAndWebSearchBlocks(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewWebSearchGroundingEvent(f.meta, "go generics", []chat.SearchResult{
			{Title: "Go blog", URL: "https://go.dev/blog", Snippet: "generics landed"},
		}),
		events.NewTextChunkEvent(f.meta, "According to the Go blog...", "According to the Go blog..."),
		events.NewCitationDataEvent(f.meta, []chat.Citation{
			{Title: "Go blog", URL: "https://go.dev/blog"},
		}),
		events.NewCompleteEvent(f.meta, events.CompletionStatusSuccess, ""),
	))

	blocks := f.blocks(t)
	require.Len(t, blocks, 3)
	assert.Equal(t, chat.BlockTypeWebSearch, blocks[0].Type())
	assert.Equal(t, chat.BlockTypeMainText, blocks[1].Type())
	assert.Equal(t, chat.BlockTypeCitation, blocks[2].Type())
}

func TestCompleteWithErrorStatusFinalizesBlocksAsError(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewTextChunkEvent(f.meta, "partial", "partial"),
		events.NewCompleteEvent(f.meta, events.CompletionStatusError, "upstream closed"),
	))

	blocks := f.blocks(t)
	require.Len(t, blocks, 1)
	assert.Equal(t, chat.BlockStatusError, blocks[0].Status)
	assert.Equal(t, chat.MessageStatusError, f.message(t).Status)
}

func TestChannelCloseWithoutCompleteFinalizesAsSuccess(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewTextChunkEvent(f.meta, "partial answer", "partial answer"),
	))

	blocks := f.blocks(t)
	require.Len(t, blocks, 1)
	assert.Equal(t, "partial answer", blocks[0].Content.String())
	assert.Equal(t, chat.BlockStatusSuccess, blocks[0].Status)
	assert.Equal(t, chat.MessageStatusSuccess, f.message(t).Status)
}

func TestCancelKeepsPartialOutput(t *testing.T) {
	f := newFixture(t)

	stream := make(chan events.Event, 1)
	stream <- events.NewTextChunkEvent(f.meta, "partial", "partial")

	ctx, cancel := context.WithCancel(context.Background())
	p := NewProcessor(f.state, f.gateway, f.topicID, f.msg.ID)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, stream) }()

	require.Eventually(t, func() bool {
		blocks, err := f.state.MessageBlocks(f.msg.ID)
		return err == nil && len(blocks) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	blocks := f.blocks(t)
	require.Len(t, blocks, 1)
	assert.Equal(t, chat.BlockStatusSuccess, blocks[0].Status)
	assert.Equal(t, chat.MessageStatusSuccess, f.message(t).Status)
}

// streamingCounter watches block notifications and tracks how many blocks
// are in streaming at once, as a subscriber would observe them.
type streamingCounter struct {
	mu           sync.Mutex
	statuses     map[chat.BlockID]chat.BlockStatus
	maxStreaming int
}

func newStreamingCounter() *streamingCounter {
	return &streamingCounter{statuses: map[chat.BlockID]chat.BlockStatus{}}
}

func (c *streamingCounter) MessageChanged(*chat.Message) {}

func (c *streamingCounter) BlockChanged(block *chat.MessageBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[block.ID] = block.Status
	streaming := 0
	for _, st := range c.statuses {
		if st == chat.BlockStatusStreaming {
			streaming++
		}
	}
	if streaming > c.maxStreaming {
		c.maxStreaming = streaming
	}
}

func (c *streamingCounter) max() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxStreaming
}

func TestAtMostOneBlockStreamsAtATime(t *testing.T) {
	counter := newStreamingCounter()
	st := state.New(counter)
	store := persist.NewMemStore()
	gateway := persist.NewGateway(store, st, persist.WithWindow(20*time.Millisecond))
	t.Cleanup(gateway.Close)

	topicID := chat.NewTopicID()
	require.NoError(t, st.Messages.CreateTopic(topicID, "test"))
	require.NoError(t, store.CreateTopic(context.Background(), topicID, "test"))
	msg := chat.NewAssistantMessage(topicID, chat.NewMessageID())
	require.NoError(t, st.Messages.AddMessage(msg))
	meta := events.EventMetadata{MessageID: uuid.New(), TopicID: string(topicID)}

	stream := make(chan events.Event, 8)
	stream <- events.NewTextChunkEvent(meta, "Let me check.", "Let me check.")
	stream <- events.NewToolCallCompleteEvent(meta, events.ToolCall{
		ID: "call-1", Name: "weather", Result: `{"temp":21}`, Status: events.ToolCallStatusDone,
	})
	stream <- events.NewTextChunkEvent(meta, "It is ", "It is ")
	stream <- events.NewTextChunkEvent(meta, "21 degrees.", "It is 21 degrees.")
	stream <- events.NewCompleteEvent(meta, events.CompletionStatusSuccess, "")
	close(stream)

	p := NewProcessor(st, gateway, topicID, msg.ID)
	require.NoError(t, p.Run(context.Background(), stream))

	blocks, err := st.MessageBlocks(msg.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, 1, counter.max())
}

// ctxAwareStore refuses writes on a cancelled context, like any real
// database driver.
type ctxAwareStore struct {
	persist.Store
}

func (s *ctxAwareStore) BulkUpsertBlocks(ctx context.Context, blocks []*chat.MessageBlock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.BulkUpsertBlocks(ctx, blocks)
}

func (s *ctxAwareStore) ReplaceTopicMessages(ctx context.Context, id chat.TopicID, messages []*chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.ReplaceTopicMessages(ctx, id, messages)
}

func TestCancelFlushesFinalStateDespiteCancelledContext(t *testing.T) {
	mem := persist.NewMemStore()
	store := &ctxAwareStore{Store: mem}
	st := state.New(nil)
	gateway := persist.NewGateway(store, st, persist.WithWindow(20*time.Millisecond))
	t.Cleanup(gateway.Close)

	topicID := chat.NewTopicID()
	require.NoError(t, st.Messages.CreateTopic(topicID, "test"))
	require.NoError(t, mem.CreateTopic(context.Background(), topicID, "test"))
	msg := chat.NewAssistantMessage(topicID, chat.NewMessageID())
	require.NoError(t, st.Messages.AddMessage(msg))
	meta := events.EventMetadata{MessageID: uuid.New(), TopicID: string(topicID)}

	stream := make(chan events.Event, 1)
	stream <- events.NewTextChunkEvent(meta, "partial", "partial")

	ctx, cancel := context.WithCancel(context.Background())
	p := NewProcessor(st, gateway, topicID, msg.ID)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, stream) }()

	// Wait for the chunk's own flush so the cancel only races the final one.
	require.Eventually(t, func() bool {
		topic, err := mem.GetTopic(context.Background(), topicID)
		return err == nil && len(topic.Messages) == 1 && len(topic.Messages[0].BlockIDs) == 1
	}, time.Second, 5*time.Millisecond)

	// Cancel and close together: adapters close the stream in response to
	// ctx.Done, so both select cases race. Either way the final write must
	// reach the store.
	cancel()
	close(stream)
	require.NoError(t, <-done)

	topic, err := mem.GetTopic(context.Background(), topicID)
	require.NoError(t, err)
	require.Len(t, topic.Messages, 1)
	assert.Equal(t, chat.MessageStatusSuccess, topic.Messages[0].Status)

	blocks, err := mem.GetBlocks(context.Background(), topic.Messages[0].BlockIDs)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "partial", blocks[0].Content.String())
	assert.Equal(t, chat.BlockStatusSuccess, blocks[0].Status)
}

func TestFinalStateIsPersisted(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t,
		events.NewTextChunkEvent(f.meta, "Hello", "Hello"),
		events.NewCompleteEvent(f.meta, events.CompletionStatusSuccess, ""),
	))

	topic, err := f.store.GetTopic(context.Background(), f.topicID)
	require.NoError(t, err)
	require.Len(t, topic.Messages, 1)
	assert.Equal(t, chat.MessageStatusSuccess, topic.Messages[0].Status)

	blocks, err := f.store.GetBlocks(context.Background(), topic.Messages[0].BlockIDs)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Hello", blocks[0].Content.String())
	assert.Equal(t, chat.BlockStatusSuccess, blocks[0].Status)
}
