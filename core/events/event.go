package events

import "swapchain/core/types"

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Typed is implemented by events that render to the canonical attribute map.
type Typed interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
// Implementations must not block the caller.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events produced while a call is being applied so they can
// be published only once the call commits.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// Reset drops everything buffered so far.
func (b *Buffer) Reset() { b.pending = b.pending[:0] }

// FlushTo forwards the buffered events to every emitter and clears the buffer.
func (b *Buffer) FlushTo(emitters ...Emitter) {
	for _, evt := range b.pending {
		for _, em := range emitters {
			if em != nil {
				em.Emit(evt)
			}
		}
	}
	b.Reset()
}

// Fanout emits every event to each of its members.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, em := range f {
		if em != nil {
			em.Emit(evt)
		}
	}
}

// Render converts an event into its attribute form. Events that do not
// implement Typed render with only their type.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if typed, ok := evt.(Typed); ok {
		return typed.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
