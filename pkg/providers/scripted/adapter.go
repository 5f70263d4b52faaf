// Package scripted provides a deterministic provider that replays a fixed
// event script. Used in tests and for offline demos.
package scripted

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/providers"
)

// Step produces the events for one request. The request metadata is handed in
// so the script can stamp its events with the right message id.
type Step func(meta events.EventMetadata) []events.Event

// Adapter replays one scripted response per request, in order. When the
// script runs out the last step repeats.
type Adapter struct {
	mu    sync.Mutex
	steps []Step
	next  int
	delay time.Duration
}

type AdapterOption func(*Adapter)

// WithDelay inserts a pause between emitted events, approximating a real
// token stream.
func WithDelay(delay time.Duration) AdapterOption {
	return func(a *Adapter) { a.delay = delay }
}

func NewAdapter(steps []Step, options ...AdapterOption) *Adapter {
	a := &Adapter{steps: steps}
	for _, o := range options {
		o(a)
	}
	return a
}

// TextResponse is a step that streams text word by word and completes.
func TextResponse(chunks ...string) Step {
	return func(meta events.EventMetadata) []events.Event {
		var out []events.Event
		completion := ""
		for _, chunk := range chunks {
			completion += chunk
			out = append(out, events.NewTextChunkEvent(meta, chunk, completion))
		}
		out = append(out, events.NewCompleteEvent(meta, events.CompletionStatusSuccess, ""))
		return out
	}
}

// Replay is a step that emits the given events verbatim.
func Replay(evts ...events.Event) Step {
	return func(events.EventMetadata) []events.Event { return evts }
}

func (a *Adapter) Stream(ctx context.Context, req providers.Request) (<-chan events.Event, error) {
	a.mu.Lock()
	var step Step
	if len(a.steps) > 0 {
		idx := a.next
		if idx >= len(a.steps) {
			idx = len(a.steps) - 1
		}
		step = a.steps[idx]
		a.next++
	}
	a.mu.Unlock()

	out := make(chan events.Event)
	go func() {
		defer close(out)
		if step == nil {
			return
		}
		for _, e := range step(req.Metadata) {
			if a.delay > 0 {
				select {
				case <-time.After(a.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ providers.Adapter = &Adapter{}
