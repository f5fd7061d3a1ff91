package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MrWong99/kurozu/internal/screen"
	"github.com/MrWong99/kurozu/internal/session"
	"github.com/MrWong99/kurozu/pkg/types"
)

var (
	// ErrUnknownTrigger is returned for a trigger kind outside the table.
	ErrUnknownTrigger = errors.New("orchestrator: unknown trigger")

	// ErrNotAllowed is returned when a trigger's precondition does not hold
	// on the active screen.
	ErrNotAllowed = errors.New("orchestrator: trigger not allowed here")

	// ErrPrivileged is returned for debug triggers while debug is off.
	ErrPrivileged = errors.New("orchestrator: privileged trigger")

	// ErrBusy is returned when a stage still has a turn in flight.
	ErrBusy = errors.New("orchestrator: turn in progress")
)

// TriggerKind names a user-interface event.
type TriggerKind string

const (
	OpenDoor    TriggerKind = "open_door"
	Challenge   TriggerKind = "challenge"
	Submit      TriggerKind = "submit"
	NextQuiz    TriggerKind = "next_quiz"
	Finish      TriggerKind = "finish"
	Restart     TriggerKind = "restart"
	SelectModel TriggerKind = "select_model"
	ToggleTTS   TriggerKind = "toggle_tts"
	SelectVoice TriggerKind = "select_voice"

	// Privileged.
	Jump          TriggerKind = "jump"
	ForceComplete TriggerKind = "force_complete"
)

// Trigger is one user-interface event with its arguments. Fields a kind does
// not use are ignored.
type Trigger struct {
	Kind TriggerKind

	// Stage targets Submit, ToggleTTS, SelectVoice and ForceComplete. Zero
	// means the stage of the active quiz screen.
	Stage session.StageID

	// Text is the Submit input.
	Text string

	// Choice is the backend for SelectModel and SelectVoice.
	Choice types.ProviderChoice

	// Enabled is the ToggleTTS and ForceComplete value.
	Enabled bool

	// Screen is the Jump target.
	Screen screen.ID
}

// rule is one row of the transition table.
type rule struct {
	// on lists the screens the trigger is accepted on. Empty means any.
	on []screen.ID

	// require is an extra precondition, checked after on.
	require func(o *Orchestrator, t Trigger) error

	effect func(o *Orchestrator, t Trigger) error

	privileged bool
}

// table is the source of truth for what each trigger does.
var table = map[TriggerKind]rule{
	OpenDoor:  {on: []screen.ID{screen.Opening}, effect: goTo(screen.OpeningTransition)},
	Challenge: {on: []screen.ID{screen.QuizIntro}, effect: goTo(screen.Quiz1)},
	Submit:    {on: []screen.ID{screen.Quiz1, screen.Quiz2}, effect: submitText},
	NextQuiz: {
		on:      []screen.ID{screen.MiddleSuccess},
		require: completed(session.Stage1),
		effect:  goTo(screen.Quiz2),
	},
	Finish: {
		on:      []screen.ID{screen.FinalSuccess},
		require: completed(session.Stage2),
		effect:  goTo(screen.Ending),
	},
	Restart:     {on: []screen.ID{screen.Ending}, effect: restart},
	SelectModel: {effect: selectModel},
	ToggleTTS:   {effect: toggleTTS},
	SelectVoice: {effect: selectVoice},

	Jump:          {privileged: true, effect: jump},
	ForceComplete: {privileged: true, effect: forceComplete},
}

// apply looks t up in the table and runs it. Called on the loop.
func (o *Orchestrator) apply(t Trigger) error {
	r, ok := table[t.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, t.Kind)
	}
	if r.privileged && !o.cfg.Debug {
		slog.Warn("orchestrator: privileged trigger refused", "trigger", string(t.Kind))
		return fmt.Errorf("%w: %s", ErrPrivileged, t.Kind)
	}
	cur := o.screens.Current()
	if len(r.on) > 0 && !slices.Contains(r.on, cur) {
		return fmt.Errorf("%w: %s on %s", ErrNotAllowed, t.Kind, cur)
	}
	if r.require != nil {
		if err := r.require(o, t); err != nil {
			return err
		}
	}
	return r.effect(o, t)
}

// stageOf resolves the stage a trigger targets.
func (o *Orchestrator) stageOf(t Trigger) (session.StageID, error) {
	if t.Stage.Valid() {
		return t.Stage, nil
	}
	switch o.screens.Current() {
	case screen.Quiz1:
		return session.Stage1, nil
	case screen.Quiz2:
		return session.Stage2, nil
	}
	return 0, fmt.Errorf("%w: %s needs a stage outside the quiz screens", session.ErrUnknownStage, t.Kind)
}

func goTo(target screen.ID) func(*Orchestrator, Trigger) error {
	return func(o *Orchestrator, _ Trigger) error {
		return o.screens.Transition(target)
	}
}

func completed(stage session.StageID) func(*Orchestrator, Trigger) error {
	return func(o *Orchestrator, t Trigger) error {
		if !o.sessions.Completed(stage) {
			return fmt.Errorf("%w: %s before %s is complete", ErrNotAllowed, t.Kind, stage)
		}
		return nil
	}
}

func submitText(o *Orchestrator, t Trigger) error {
	stage, err := o.stageOf(Trigger{Kind: t.Kind})
	if err != nil {
		return err
	}
	if t.Stage.Valid() && t.Stage != stage {
		return fmt.Errorf("%w: submit to %s on %s", ErrNotAllowed, t.Stage, o.screens.Current())
	}
	return o.submit(stage, t.Text)
}

func restart(o *Orchestrator, _ Trigger) error {
	for _, id := range session.Stages {
		o.sessions.SetCompleted(id, false)
	}
	return o.screens.Transition(screen.Opening)
}

func selectModel(o *Orchestrator, t Trigger) error {
	o.sessions.SetProvider(t.Choice)
	for _, id := range session.Stages {
		o.emitSettings(id)
	}
	return nil
}

func toggleTTS(o *Orchestrator, t Trigger) error {
	stage, err := o.stageOf(t)
	if err != nil {
		return err
	}
	cfg := o.sessions.TTS(stage)
	cfg.Enabled = t.Enabled
	o.sessions.SetTTS(stage, cfg)
	o.emitSettings(stage)
	return nil
}

func selectVoice(o *Orchestrator, t Trigger) error {
	stage, err := o.stageOf(t)
	if err != nil {
		return err
	}
	cfg := o.sessions.TTS(stage)
	cfg.Provider = t.Choice
	o.sessions.SetTTS(stage, cfg)
	o.emitSettings(stage)
	return nil
}

func jump(o *Orchestrator, t Trigger) error {
	slog.Info("orchestrator: debug jump", "to", t.Screen.String())
	return o.screens.Transition(t.Screen)
}

func forceComplete(o *Orchestrator, t Trigger) error {
	if !t.Stage.Valid() {
		return fmt.Errorf("%w: %d", session.ErrUnknownStage, int(t.Stage))
	}
	o.sessions.SetCompleted(t.Stage, t.Enabled)
	return nil
}
