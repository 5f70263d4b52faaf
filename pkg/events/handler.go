package events

import (
	"context"

	"github.com/pkg/errors"
)

// Handler consumes provider events, one method per variant so that adding an
// event type breaks every handler at compile time instead of silently being
// dropped.
type Handler interface {
	HandleTextChunk(ctx context.Context, e *EventTextChunk) error
	HandleToolCallComplete(ctx context.Context, e *EventToolCallComplete) error
	HandleImageGenerated(ctx context.Context, e *EventImageGenerated) error
	HandleCitationData(ctx context.Context, e *EventCitationData) error
	HandleWebSearchGrounding(ctx context.Context, e *EventWebSearchGrounding) error
	HandleError(ctx context.Context, e *EventError) error
	HandleComplete(ctx context.Context, e *EventComplete) error
}

// Dispatch routes a single event to the matching Handler method.
func Dispatch(ctx context.Context, h Handler, e Event) error {
	switch ev := e.(type) {
	case *EventTextChunk:
		return h.HandleTextChunk(ctx, ev)
	case *EventToolCallComplete:
		return h.HandleToolCallComplete(ctx, ev)
	case *EventImageGenerated:
		return h.HandleImageGenerated(ctx, ev)
	case *EventCitationData:
		return h.HandleCitationData(ctx, ev)
	case *EventWebSearchGrounding:
		return h.HandleWebSearchGrounding(ctx, ev)
	case *EventError:
		return h.HandleError(ctx, ev)
	case *EventComplete:
		return h.HandleComplete(ctx, ev)
	}
	return errors.Errorf("unhandled event type %q", e.Type())
}
