// Package streaming turns the flat event stream of a provider into the
// block-structured assistant message the rest of the client works with.
package streaming

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/persist"
	"github.com/go-go-golems/parley/pkg/state"
)

// Processor consumes the event stream of a single assistant message and
// assembles its blocks in order. Text chunks accumulate into an open main
// text block; any non-text event closes the open text block, so alternating
// text and tool results yield interleaved blocks instead of one merged text.
//
// A Processor is bound to one message and must not be reused. Events are
// handled on the Run goroutine only.
type Processor struct {
	topicID   chat.TopicID
	messageID chat.MessageID

	state   *state.State
	gateway *persist.Gateway
	logger  zerolog.Logger

	openBlockID chat.BlockID
	accumulated string
	started     bool
	done        bool
}

type ProcessorOption func(*Processor)

func WithLogger(logger zerolog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

func NewProcessor(st *state.State, gateway *persist.Gateway, topicID chat.TopicID, messageID chat.MessageID, options ...ProcessorOption) *Processor {
	p := &Processor{
		topicID:   topicID,
		messageID: messageID,
		state:     st,
		gateway:   gateway,
		logger:    zerolog.Nop(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Run consumes events until the stream completes, errors out, the channel
// closes, or ctx is cancelled. The message always leaves Run in a terminal
// status with a final unconditional write behind it.
func (p *Processor) Run(ctx context.Context, stream <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return p.finalizeInterrupted(ctx)
		case e, ok := <-stream:
			if !ok {
				if p.done {
					return nil
				}
				// Stream ended without a completion event. Treat it like an
				// interruption: keep what arrived.
				return p.finalizeInterrupted(ctx)
			}
			if p.done {
				p.logger.Debug().Str("type", string(e.Type())).Msg("event after stream end, dropped")
				continue
			}
			if err := events.Dispatch(ctx, p, e); err != nil {
				return err
			}
		}
	}
}

// markProcessing moves a pending message to processing on the first event.
// Collaborator-set statuses like searching are left alone.
func (p *Processor) markProcessing() error {
	if p.started {
		return nil
	}
	p.started = true
	msg, err := p.state.Messages.GetMessage(p.messageID)
	if err != nil {
		return err
	}
	if msg.Status == chat.MessageStatusPending {
		return p.state.Messages.SetStatus(p.messageID, chat.MessageStatusProcessing)
	}
	return nil
}

func (p *Processor) HandleTextChunk(ctx context.Context, e *events.EventTextChunk) error {
	if err := p.markProcessing(); err != nil {
		return err
	}

	if e.Completion != "" {
		p.accumulated = e.Completion
	} else {
		p.accumulated += e.Delta
	}

	if p.openBlockID != "" {
		_, err := p.state.Blocks.UpdateFields(p.openBlockID, state.BlockPatch{
			Content: &chat.MainTextContent{Text: p.accumulated},
		})
		if err != nil {
			return err
		}
		p.gateway.FlushThrottled(p.topicID, p.messageID)
		return nil
	}

	// New text run: a fresh block opens, which is a structural change.
	block := chat.NewMainTextBlock(p.messageID, p.accumulated,
		chat.WithBlockStatus(chat.BlockStatusStreaming))
	if err := p.state.AttachBlock(p.messageID, block); err != nil {
		return err
	}
	p.openBlockID = block.ID
	return p.gateway.FlushNow(ctx, p.topicID, p.messageID)
}

func (p *Processor) HandleToolCallComplete(ctx context.Context, e *events.EventToolCallComplete) error {
	content := &chat.ToolContent{
		ToolID: e.ToolCall.ID,
		Name:   e.ToolCall.Name,
	}
	status := chat.BlockStatusSuccess
	if e.ToolCall.Status == events.ToolCallStatusError {
		status = chat.BlockStatusError
		content.Error = e.ToolCall.Result
	} else {
		content.Result = e.ToolCall.Result
	}
	return p.appendStructural(ctx, chat.NewToolBlock(p.messageID, content,
		chat.WithBlockStatus(status)))
}

func (p *Processor) HandleImageGenerated(ctx context.Context, e *events.EventImageGenerated) error {
	return p.appendStructural(ctx, chat.NewImageBlock(p.messageID, &chat.ImageContent{
		URLs:     e.URLs,
		Metadata: e.ImageMetadata,
	}, chat.WithBlockStatus(chat.BlockStatusSuccess)))
}

func (p *Processor) HandleCitationData(ctx context.Context, e *events.EventCitationData) error {
	return p.appendStructural(ctx, chat.NewCitationBlock(p.messageID, e.Citations,
		chat.WithBlockStatus(chat.BlockStatusSuccess)))
}

func (p *Processor) HandleWebSearchGrounding(ctx context.Context, e *events.EventWebSearchGrounding) error {
	return p.appendStructural(ctx, chat.NewWebSearchBlock(p.messageID, &chat.WebSearchContent{
		Query:   e.Query,
		Results: e.Results,
	}, chat.WithBlockStatus(chat.BlockStatusSuccess)))
}

func (p *Processor) HandleError(ctx context.Context, e *events.EventError) error {
	if err := p.markProcessing(); err != nil {
		return err
	}
	p.done = true

	// What streamed before the failure is kept and finalized as-is.
	if err := p.closeOpenBlock(chat.BlockStatusSuccess); err != nil {
		return err
	}
	errBlock := chat.NewErrorBlock(p.messageID, e.ErrorString, "")
	if err := p.state.AttachBlock(p.messageID, errBlock); err != nil {
		return err
	}
	if err := p.state.Messages.SetStatus(p.messageID, chat.MessageStatusError); err != nil {
		return err
	}
	return p.gateway.FlushNow(ctx, p.topicID, p.messageID)
}

func (p *Processor) HandleComplete(ctx context.Context, e *events.EventComplete) error {
	if err := p.markProcessing(); err != nil {
		return err
	}
	p.done = true

	messageStatus := chat.MessageStatusSuccess
	blockStatus := chat.BlockStatusSuccess
	if e.Status == events.CompletionStatusError {
		messageStatus = chat.MessageStatusError
		blockStatus = chat.BlockStatusError
	}

	if err := p.finalizeBlocks(blockStatus); err != nil {
		return err
	}
	if err := p.state.Messages.SetStatus(p.messageID, messageStatus); err != nil {
		return err
	}
	return p.gateway.FlushNow(ctx, p.topicID, p.messageID)
}

// appendStructural closes the open text block, appends the given block, and
// writes through immediately.
func (p *Processor) appendStructural(ctx context.Context, block *chat.MessageBlock) error {
	if err := p.markProcessing(); err != nil {
		return err
	}
	if err := p.closeOpenBlock(chat.BlockStatusSuccess); err != nil {
		return err
	}
	if err := p.state.AttachBlock(p.messageID, block); err != nil {
		return err
	}
	return p.gateway.FlushNow(ctx, p.topicID, p.messageID)
}

// closeOpenBlock finalizes the open text block, if any. The next text chunk
// starts a new block.
func (p *Processor) closeOpenBlock(status chat.BlockStatus) error {
	if p.openBlockID == "" {
		return nil
	}
	_, err := p.state.Blocks.UpdateFields(p.openBlockID, state.BlockPatch{Status: &status})
	p.openBlockID = ""
	p.accumulated = ""
	return errors.Wrap(err, "closing open block")
}

// finalizeBlocks moves every non-terminal block of the message to status.
func (p *Processor) finalizeBlocks(status chat.BlockStatus) error {
	p.openBlockID = ""
	p.accumulated = ""

	blocks, err := p.state.MessageBlocks(p.messageID)
	if err != nil {
		return err
	}
	for _, block := range blocks {
		if block.Status.Terminal() {
			continue
		}
		if _, err := p.state.Blocks.UpdateFields(block.ID, state.BlockPatch{Status: &status}); err != nil {
			return err
		}
	}
	return nil
}

// finalizeInterrupted ends the message after a cancel or a truncated stream.
// Partial output is kept and the message lands in success. The final write
// must land even when the interruption is the caller's own cancellation, so
// it runs detached from ctx's cancel signal.
func (p *Processor) finalizeInterrupted(ctx context.Context) error {
	if p.done {
		return nil
	}
	p.done = true
	ctx = context.WithoutCancel(ctx)

	if err := p.finalizeBlocks(chat.BlockStatusSuccess); err != nil {
		return err
	}
	msg, err := p.state.Messages.GetMessage(p.messageID)
	if err != nil {
		return err
	}
	if !msg.Status.Terminal() {
		if err := p.state.Messages.SetStatus(p.messageID, chat.MessageStatusSuccess); err != nil {
			return err
		}
	}
	return p.gateway.FlushNow(ctx, p.topicID, p.messageID)
}

var _ events.Handler = &Processor{}
