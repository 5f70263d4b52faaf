package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/parley/pkg/chat"
)

type EventType string

const (
	// Incremental assistant text.
	EventTypeTextChunk EventType = "text-chunk"
	// A tool invocation finished (successfully or not); tools are executed by
	// an external collaborator, the stream only sees the completed result.
	EventTypeToolCallComplete   EventType = "tool-call-complete"
	EventTypeImageGenerated     EventType = "image-generated"
	EventTypeCitationData       EventType = "citation-data"
	EventTypeWebSearchGrounding EventType = "web-search-grounding"
	// Mid-stream failure; no further events for this message are processed.
	EventTypeError EventType = "error"
	// End of stream, carrying the final message status.
	EventTypeComplete EventType = "complete"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw JSON the event was decoded from, if any (see NewEventFromJSON)
	payload []byte
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }
func (e *EventImpl) Payload() []byte         { return e.payload }

// SetPayload stores the raw JSON payload on the event implementation.
func (e *EventImpl) SetPayload(b []byte) { e.payload = b }

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventTextChunk struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion is the full text accumulated so far for the current text run.
	Completion string `json:"completion"`
}

func NewTextChunkEvent(metadata EventMetadata, delta string, completion string) *EventTextChunk {
	return &EventTextChunk{
		EventImpl:  EventImpl{Type_: EventTypeTextChunk, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventTextChunk{}

type ToolCallStatus string

const (
	ToolCallStatusDone  ToolCallStatus = "done"
	ToolCallStatusError ToolCallStatus = "error"
)

type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Result string         `json:"result"`
	Status ToolCallStatus `json:"status"`
}

func (tc ToolCall) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("id", tc.ID).Str("name", tc.Name).Str("status", string(tc.Status))
}

type EventToolCallComplete struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallCompleteEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCallComplete {
	return &EventToolCallComplete{
		EventImpl: EventImpl{Type_: EventTypeToolCallComplete, Metadata_: metadata},
		ToolCall:  toolCall,
	}
}

var _ Event = &EventToolCallComplete{}

type EventImageGenerated struct {
	EventImpl
	URLs          []string       `json:"urls"`
	ImageMetadata map[string]any `json:"image_metadata,omitempty"`
}

func NewImageGeneratedEvent(metadata EventMetadata, urls []string, imageMetadata map[string]any) *EventImageGenerated {
	return &EventImageGenerated{
		EventImpl:     EventImpl{Type_: EventTypeImageGenerated, Metadata_: metadata},
		URLs:          urls,
		ImageMetadata: imageMetadata,
	}
}

var _ Event = &EventImageGenerated{}

type EventCitationData struct {
	EventImpl
	Citations []chat.Citation `json:"citations"`
}

func NewCitationDataEvent(metadata EventMetadata, citations []chat.Citation) *EventCitationData {
	return &EventCitationData{
		EventImpl: EventImpl{Type_: EventTypeCitationData, Metadata_: metadata},
		Citations: citations,
	}
}

var _ Event = &EventCitationData{}

type EventWebSearchGrounding struct {
	EventImpl
	Query   string              `json:"query,omitempty"`
	Results []chat.SearchResult `json:"results"`
}

func NewWebSearchGroundingEvent(metadata EventMetadata, query string, results []chat.SearchResult) *EventWebSearchGrounding {
	return &EventWebSearchGrounding{
		EventImpl: EventImpl{Type_: EventTypeWebSearchGrounding, Metadata_: metadata},
		Query:     query,
		Results:   results,
	}
}

var _ Event = &EventWebSearchGrounding{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

type CompletionStatus string

const (
	CompletionStatusSuccess CompletionStatus = "success"
	CompletionStatusError   CompletionStatus = "error"
)

type EventComplete struct {
	EventImpl
	Status      CompletionStatus `json:"status"`
	ErrorString string           `json:"error_string,omitempty"`
}

func NewCompleteEvent(metadata EventMetadata, status CompletionStatus, errorString string) *EventComplete {
	return &EventComplete{
		EventImpl:   EventImpl{Type_: EventTypeComplete, Metadata_: metadata},
		Status:      status,
		ErrorString: errorString,
	}
}

var _ Event = &EventComplete{}

func (e EventTextChunk) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta)
}

func (e EventToolCallComplete) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Object("tool_call", e.ToolCall)
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString)
}

func (e EventComplete) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("status", string(e.Status))
	if e.ErrorString != "" {
		ev.Str("error", e.ErrorString)
	}
}

// NewEventFromJSON decodes a serialized provider event back into its typed
// representation.
func NewEventFromJSON(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeTextChunk:
		return toTypedEventOrErr[EventTextChunk](e)
	case EventTypeToolCallComplete:
		return toTypedEventOrErr[EventToolCallComplete](e)
	case EventTypeImageGenerated:
		return toTypedEventOrErr[EventImageGenerated](e)
	case EventTypeCitationData:
		return toTypedEventOrErr[EventCitationData](e)
	case EventTypeWebSearchGrounding:
		return toTypedEventOrErr[EventWebSearchGrounding](e)
	case EventTypeError:
		return toTypedEventOrErr[EventError](e)
	case EventTypeComplete:
		return toTypedEventOrErr[EventComplete](e)
	}

	return nil, errors.Errorf("unknown event type %q", e.Type_)
}

func toTypedEventOrErr[T any](e Event) (*T, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok {
		return nil, errors.Errorf("could not cast event of type %s", e.Type())
	}
	if setter, ok := any(ret).(interface{ SetPayload([]byte) }); ok {
		setter.SetPayload(e.Payload())
	}
	return ret, nil
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	if err := json.Unmarshal(e.Payload(), &ret); err != nil {
		return nil, false
	}
	return ret, true
}
