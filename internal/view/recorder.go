package view

import (
	"strings"
	"sync"
)

// Recorder is a Sink that keeps every event and derives UI state from them.
// Tests use it to assert on what a user would see. It is safe for concurrent
// use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = (*Recorder)(nil)

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Screen returns the currently visible screen, or "" if none was shown.
func (r *Recorder) Screen() string {
	cur := ""
	for _, e := range r.Events() {
		if e.Kind == KindScreen {
			cur = e.Screen
		}
	}
	return cur
}

// Screens returns the sequence of screens shown.
func (r *Recorder) Screens() []string {
	var out []string
	for _, e := range r.Events() {
		if e.Kind == KindScreen {
			out = append(out, e.Screen)
		}
	}
	return out
}

// Loading reports whether the loading indicator of stage is currently shown.
func (r *Recorder) Loading(stage string) bool {
	on := false
	for _, e := range r.Events() {
		if e.Kind == KindLoading && e.Stage == stage {
			on = e.Active
		}
	}
	return on
}

// Revealed returns the text disclosed so far in the bubble of turn.
func (r *Recorder) Revealed(turn int) string {
	var b strings.Builder
	for _, e := range r.Events() {
		if e.Kind == KindAssistantChunk && e.Turn == turn {
			b.WriteString(e.Text)
		}
	}
	return b.String()
}

// Ended reports how many times the bubble of turn was marked complete.
func (r *Recorder) Ended(turn int) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == KindAssistantEnd && e.Turn == turn {
			n++
		}
	}
	return n
}

// Last returns the most recent event of kind and whether one exists.
func (r *Recorder) Last(kind Kind) (Event, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return events[i], true
		}
	}
	return Event{}, false
}
