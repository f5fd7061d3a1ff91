// Package view defines the events the orchestrator emits towards a user
// interface, and the [Sink] that drivers implement to render them.
//
// Events are plain values so that they can be rendered on a terminal,
// serialised onto a websocket, or recorded in tests. The orchestrator emits
// them from its event loop, one at a time and in order.
package view

import (
	"sync"
)

// Kind discriminates an [Event].
type Kind string

const (
	// KindScreen makes Screen the only visible screen.
	KindScreen Kind = "screen"

	// KindUserMessage shows the player's submitted text.
	KindUserMessage Kind = "user_message"

	// KindLoading shows (Active) or removes the loading indicator of a stage.
	KindLoading Kind = "loading"

	// KindAssistantStart opens an empty assistant bubble decorated with the
	// avatar. Turn identifies the bubble in later events.
	KindAssistantStart Kind = "assistant_start"

	// KindAssistantChunk appends Text to the bubble identified by Turn.
	KindAssistantChunk Kind = "assistant_chunk"

	// KindAssistantEnd marks the bubble identified by Turn as complete.
	KindAssistantEnd Kind = "assistant_end"

	// KindApology shows the fixed apology line after a failed reply.
	KindApology Kind = "apology"

	// KindFade starts the closing cross-fade on the final screen.
	KindFade Kind = "fade"

	// KindSettings reports the model and speech selection of a stage.
	KindSettings Kind = "settings"

	// KindNotice tells one client that its last trigger was refused. Text
	// holds the reason. Drivers emit it; the orchestrator never does.
	KindNotice Kind = "notice"
)

// Event is one instruction to the user interface.
type Event struct {
	Kind   Kind   `json:"kind"`
	Screen string `json:"screen,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Turn   int    `json:"turn,omitempty"`
	Text   string `json:"text,omitempty"`
	Active bool   `json:"active,omitempty"`

	// Settings fields, set on KindSettings only.
	Model       string `json:"model,omitempty"`
	TTSEnabled  bool   `json:"tts_enabled,omitempty"`
	TTSProvider string `json:"tts_provider,omitempty"`
}

// Sink receives events. Emit must not block for long; drivers that do slow
// I/O should buffer.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Broadcast fans events out to a changing set of sinks. It is safe for
// concurrent use.
type Broadcast struct {
	mu    sync.RWMutex
	sinks map[int]Sink
	next  int
}

// NewBroadcast returns a Broadcast delivering to sinks.
func NewBroadcast(sinks ...Sink) *Broadcast {
	b := &Broadcast{sinks: make(map[int]Sink)}
	for _, s := range sinks {
		b.Add(s)
	}
	return b
}

// Add registers s and returns a function that removes it again.
func (b *Broadcast) Add(s Sink) (remove func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.sinks[id] = s
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.sinks, id)
		b.mu.Unlock()
	}
}

// Emit implements Sink.
func (b *Broadcast) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.Emit(e)
	}
}
