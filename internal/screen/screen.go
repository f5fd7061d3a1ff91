// Package screen owns the active screen of a playthrough.
//
// Exactly one screen is active. [Machine.Transition] closes the scope of the
// screen being left, which cancels every delayed task scheduled during that
// visit, then announces the new screen and runs its entry hooks in
// registration order with a fresh scope.
//
// Machine methods must be called from a task of the owning [eventloop.Loop].
package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/kurozu/internal/eventloop"
	"github.com/MrWong99/kurozu/internal/observe"
	"github.com/MrWong99/kurozu/internal/view"
)

// ErrUnknownScreen is returned for a screen id outside the known set.
var ErrUnknownScreen = errors.New("screen: unknown screen")

// ID identifies a screen.
type ID int

const (
	Opening ID = iota
	OpeningTransition
	QuizIntro
	Quiz1
	MiddleSuccess
	Quiz2
	FinalSuccess
	Ending
)

var names = [...]string{
	Opening:           "opening",
	OpeningTransition: "opening_transition",
	QuizIntro:         "quiz_intro",
	Quiz1:             "quiz1",
	MiddleSuccess:     "middle_success",
	Quiz2:             "quiz2",
	FinalSuccess:      "final_success",
	Ending:            "ending",
}

// All lists every screen in playthrough order.
var All = []ID{Opening, OpeningTransition, QuizIntro, Quiz1, MiddleSuccess, Quiz2, FinalSuccess, Ending}

// Valid reports whether id names a known screen.
func (id ID) Valid() bool { return id >= Opening && id <= Ending }

func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("screen(%d)", int(id))
	}
	return names[id]
}

// Parse converts a screen name as produced by String.
func Parse(s string) (ID, error) {
	for i, n := range names {
		if n == s {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScreen, s)
}

// Hook runs on entry to a screen. scope lives until the screen is left.
type Hook func(scope *eventloop.Scope)

// Machine is the screen state machine.
type Machine struct {
	loop    *eventloop.Loop
	sink    view.Sink
	metrics *observe.Metrics

	current ID
	started bool
	scope   *eventloop.Scope
	hooks   map[ID][]Hook
}

// Option configures a [Machine].
type Option func(*Machine)

// WithMetrics counts transitions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(mc *Machine) { mc.metrics = m }
}

// New returns a Machine that has not entered any screen yet.
func New(loop *eventloop.Loop, sink view.Sink, opts ...Option) *Machine {
	m := &Machine{
		loop:  loop,
		sink:  sink,
		hooks: make(map[ID][]Hook),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnEnter registers hook for id. Hooks for one screen run in the order they
// were registered.
func (m *Machine) OnEnter(id ID, hook Hook) {
	m.hooks[id] = append(m.hooks[id], hook)
}

// Transition leaves the current screen and enters target. Entering the
// screen that is already active re-runs its entry hooks with a new scope.
// An unknown target is logged and leaves the state untouched.
func (m *Machine) Transition(target ID) error {
	if !target.Valid() {
		slog.Warn("screen: transition to unknown screen ignored", "target", int(target), "current", m.current.String())
		return fmt.Errorf("%w: %d", ErrUnknownScreen, int(target))
	}

	from := m.current
	if m.scope != nil {
		m.scope.Close()
	}
	m.current = target
	m.started = true
	m.scope = m.loop.NewScope(target.String())

	slog.Debug("screen: transition", "from", from.String(), "to", target.String())
	m.sink.Emit(view.Event{Kind: view.KindScreen, Screen: target.String()})
	if m.metrics != nil {
		m.metrics.RecordTransition(context.Background(), target.String())
	}

	scope := m.scope
	for _, h := range m.hooks[target] {
		if scope.Closed() {
			// A hook moved on to another screen.
			break
		}
		h(scope)
	}
	return nil
}

// Current returns the active screen. Before the first transition it reports
// Opening.
func (m *Machine) Current() ID { return m.current }

// Started reports whether a screen has been entered.
func (m *Machine) Started() bool { return m.started }

// Scope returns the scope of the active screen, or nil before the first
// transition.
func (m *Machine) Scope() *eventloop.Scope { return m.scope }
