// Package orchestrator is the application context of a playthrough.
//
// An [Orchestrator] owns the screen state machine and both stage sessions and
// is the only component that mutates them. Drivers (terminal, websocket) feed
// it [Trigger] values through [Orchestrator.Fire]; the transition table in
// triggers.go decides whether a trigger is allowed on the active screen and
// what it does. Everything runs on one [eventloop.Loop], so replies, timers
// and playback callbacks never race each other.
//
// A submitted turn holds its stage's submission lock until the reply has been
// fully disclosed, has completed the stage, or has failed. A reply that
// arrives after its screen was left or its stage was reset is discarded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/kurozu/internal/completion"
	"github.com/MrWong99/kurozu/internal/eventloop"
	"github.com/MrWong99/kurozu/internal/observe"
	"github.com/MrWong99/kurozu/internal/reveal"
	"github.com/MrWong99/kurozu/internal/screen"
	"github.com/MrWong99/kurozu/internal/session"
	"github.com/MrWong99/kurozu/internal/view"
	"github.com/MrWong99/kurozu/pkg/audio"
	"github.com/MrWong99/kurozu/pkg/types"
)

// Apology is appended as the assistant turn when a reply could not be
// fetched.
const Apology = "エラーが発生しました。もう一度お試しください。"

// Default scripted lines.
const (
	DefaultStage1Opening = "元の高校に戻せ"
	DefaultStage2Opening = "附設のことなら何でも聞いてみろ！"
	DefaultClosingLine   = "まじかー！...まさか全問正解するとは...."
)

// Default presentation delays.
const (
	DefaultTransitionDelay = 2 * time.Second
	DefaultAutoSubmitDelay = 100 * time.Millisecond
	DefaultFadeCueDelay    = 100 * time.Millisecond
)

// Chatter fetches an assistant reply. The chat gateway implements it.
type Chatter interface {
	FetchReply(ctx context.Context, slot types.ProviderChoice, history []types.Message) (string, bool)
}

// Config holds the narrative content and timing of a playthrough.
type Config struct {
	// Instructions is the System text seeded into each stage.
	Instructions map[session.StageID]string

	// OpeningLines is auto-submitted on entry to each quiz screen. An empty
	// line leaves the stage waiting for the player.
	OpeningLines map[session.StageID]string

	// ClosingLine is spoken on the final screen when stage 2 has speech
	// enabled. Empty disables it.
	ClosingLine string

	// DoorCue is the encoded sound played on the opening transition and
	// during the closing fade. Empty plays nothing.
	DoorCue []byte

	TransitionDelay time.Duration
	AutoSubmitDelay time.Duration
	FadeCueDelay    time.Duration

	// Debug enables the privileged triggers.
	Debug bool
}

// DefaultConfig returns the scripted lines and timings of the narrative with
// empty instructions.
func DefaultConfig() Config {
	return Config{
		Instructions: map[session.StageID]string{},
		OpeningLines: map[session.StageID]string{
			session.Stage1: DefaultStage1Opening,
			session.Stage2: DefaultStage2Opening,
		},
		ClosingLine:     DefaultClosingLine,
		TransitionDelay: DefaultTransitionDelay,
		AutoSubmitDelay: DefaultAutoSubmitDelay,
		FadeCueDelay:    DefaultFadeCueDelay,
	}
}

// Deps are the collaborators of an Orchestrator. Chat, Reveal and Sink are
// required.
type Deps struct {
	Chat     Chatter
	Reveal   *reveal.Pipeline
	Sink     view.Sink
	Player   audio.Player
	Sessions *session.Manager
	Detector *completion.Detector
	Metrics  *observe.Metrics
}

// Orchestrator is the single owner of screen and session state.
type Orchestrator struct {
	loop     *eventloop.Loop
	cfg      Config
	chat     Chatter
	reveal   *reveal.Pipeline
	sink     view.Sink
	player   audio.Player
	sessions *session.Manager
	detector *completion.Detector
	metrics  *observe.Metrics
	screens  *screen.Machine

	// Loop-owned state.
	ctx  context.Context
	busy map[session.StageID]bool
	turn int
}

// New wires an Orchestrator onto loop. Call [Orchestrator.Start] once the
// loop runs.
func New(loop *eventloop.Loop, deps Deps, cfg Config) (*Orchestrator, error) {
	var errs []error
	if deps.Chat == nil {
		errs = append(errs, errors.New("chat gateway is required"))
	}
	if deps.Reveal == nil {
		errs = append(errs, errors.New("reveal pipeline is required"))
	}
	if deps.Sink == nil {
		errs = append(errs, errors.New("view sink is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	o := &Orchestrator{
		loop:     loop,
		cfg:      cfg,
		chat:     deps.Chat,
		reveal:   deps.Reveal,
		sink:     deps.Sink,
		player:   deps.Player,
		sessions: deps.Sessions,
		detector: deps.Detector,
		metrics:  deps.Metrics,
		ctx:      context.Background(),
		busy:     make(map[session.StageID]bool, len(session.Stages)),
	}
	if o.sessions == nil {
		o.sessions = session.New()
	}
	if o.detector == nil {
		o.detector = completion.New()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	o.screens = screen.New(loop, o.sink, screen.WithMetrics(o.metrics))
	o.screens.OnEnter(screen.OpeningTransition, o.enterOpeningTransition)
	o.screens.OnEnter(screen.Quiz1, o.enterQuiz(session.Stage1))
	o.screens.OnEnter(screen.Quiz2, o.enterQuiz(session.Stage2))
	o.screens.OnEnter(screen.FinalSuccess, o.enterFinalSuccess)
	return o, nil
}

// Start enters the opening screen. ctx bounds every backend call issued
// afterwards.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.loop.Do(ctx, func() {
		o.ctx = ctx
		for _, id := range session.Stages {
			o.emitSettings(id)
		}
		_ = o.screens.Transition(screen.Opening)
	})
}

// Fire applies t on the loop and returns the table's verdict. It is safe to
// call from any goroutine except loop tasks.
func (o *Orchestrator) Fire(ctx context.Context, t Trigger) error {
	var err error
	if doErr := o.loop.Do(ctx, func() { err = o.apply(t) }); doErr != nil {
		return fmt.Errorf("orchestrator: %s: %w", t.Kind, doErr)
	}
	return err
}

// StageSnapshot is a copy of one stage's state.
type StageSnapshot struct {
	History   []types.Message
	Completed bool
	TTS       session.TTSConfig
	Busy      bool
}

// Snapshot is a copy of the orchestrator state.
type Snapshot struct {
	Screen   screen.ID
	Provider types.ProviderChoice
	Stages   map[session.StageID]StageSnapshot
}

// Snapshot returns a consistent copy of the current state.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := o.loop.Do(ctx, func() {
		s = Snapshot{
			Screen:   o.screens.Current(),
			Provider: o.sessions.Provider(),
			Stages:   make(map[session.StageID]StageSnapshot, len(session.Stages)),
		}
		for _, id := range session.Stages {
			s.Stages[id] = StageSnapshot{
				History:   o.sessions.History(id),
				Completed: o.sessions.Completed(id),
				TTS:       o.sessions.TTS(id),
				Busy:      o.busy[id],
			}
		}
	})
	return s, err
}

// ── Screen entry ────────────────────────────────────────────────────────────

func (o *Orchestrator) enterOpeningTransition(scope *eventloop.Scope) {
	o.playCue()
	scope.After(o.cfg.TransitionDelay, func() {
		_ = o.screens.Transition(screen.QuizIntro)
	})
}

// enterQuiz reseeds the stage and schedules its scripted opening turn.
func (o *Orchestrator) enterQuiz(stage session.StageID) screen.Hook {
	return func(scope *eventloop.Scope) {
		if _, err := o.sessions.Reset(stage, o.cfg.Instructions[stage]); err != nil {
			slog.Error("orchestrator: reset stage", "stage", stage.String(), "err", err)
			return
		}
		if o.busy[stage] {
			o.sink.Emit(view.Event{Kind: view.KindLoading, Stage: stage.String(), Active: false})
		}
		o.busy[stage] = false
		o.emitSettings(stage)

		line := o.cfg.OpeningLines[stage]
		if line == "" {
			return
		}
		// Player input waits until the scripted turn is in.
		o.busy[stage] = true
		scope.After(o.cfg.AutoSubmitDelay, func() {
			o.busy[stage] = false
			if err := o.submit(stage, line); err != nil {
				slog.Warn("orchestrator: scripted opening not submitted", "stage", stage.String(), "err", err)
			}
		})
	}
}

// enterFinalSuccess speaks the closing line and fades once it has played.
func (o *Orchestrator) enterFinalSuccess(scope *eventloop.Scope) {
	tts := o.sessions.TTS(session.Stage2)
	if !tts.Enabled || o.cfg.ClosingLine == "" {
		return
	}
	o.turn++
	o.reveal.Reveal(o.ctx, scope, reveal.Turn{
		Stage:    session.Stage2.String(),
		ID:       o.turn,
		Text:     o.cfg.ClosingLine,
		Speak:    true,
		Voice:    tts.Provider,
		Terminal: true,
		OnFade:   func() { o.fade(scope) },
	})
}

func (o *Orchestrator) fade(scope *eventloop.Scope) {
	o.sink.Emit(view.Event{Kind: view.KindFade, Screen: screen.FinalSuccess.String()})
	scope.After(o.cfg.FadeCueDelay, o.playCue)
}

func (o *Orchestrator) playCue() {
	if o.player == nil || len(o.cfg.DoorCue) == 0 {
		return
	}
	if _, err := o.player.Play(o.cfg.DoorCue); err != nil {
		slog.Warn("orchestrator: door cue not played", "err", err)
	}
}

// ── Turns ───────────────────────────────────────────────────────────────────

// submit appends text as a User turn and fetches the reply in the
// background. Whitespace-only text is ignored.
func (o *Orchestrator) submit(stage session.StageID, text string) error {
	if o.busy[stage] {
		return fmt.Errorf("%w: %s", ErrBusy, stage)
	}
	if err := o.sessions.AppendUser(stage, text); err != nil {
		if errors.Is(err, session.ErrEmptyInput) {
			slog.Debug("orchestrator: empty input ignored", "stage", stage.String())
			return nil
		}
		return fmt.Errorf("orchestrator: submit %s: %w", stage, err)
	}

	o.busy[stage] = true
	history := o.sessions.History(stage)
	epoch := o.sessions.Epoch(stage)
	slot := o.sessions.Provider()
	scope := o.screens.Scope()

	o.sink.Emit(view.Event{Kind: view.KindUserMessage, Stage: stage.String(), Text: history[len(history)-1].Content})
	o.sink.Emit(view.Event{Kind: view.KindLoading, Stage: stage.String(), Active: true})

	ctx := o.ctx
	o.loop.Spawn(func() func() {
		reply, ok := o.chat.FetchReply(ctx, slot, history)
		return func() { o.onReply(scope, stage, epoch, reply, ok) }
	})
	return nil
}

func (o *Orchestrator) onReply(scope *eventloop.Scope, stage session.StageID, epoch uint64, reply string, ok bool) {
	if scope.Closed() || o.sessions.Epoch(stage) != epoch {
		slog.Debug("orchestrator: stale reply discarded", "stage", stage.String(), "scope", scope.Name())
		return
	}
	o.sink.Emit(view.Event{Kind: view.KindLoading, Stage: stage.String(), Active: false})

	if !ok {
		o.fail(stage)
		return
	}
	if err := o.sessions.AppendAssistant(stage, reply); err != nil {
		slog.Error("orchestrator: append reply", "stage", stage.String(), "err", err)
		o.busy[stage] = false
		return
	}

	if o.detector.Check(stage, reply) {
		o.complete(stage)
		return
	}

	tts := o.sessions.TTS(stage)
	o.turn++
	o.reveal.Reveal(o.ctx, scope, reveal.Turn{
		Stage: stage.String(),
		ID:    o.turn,
		Text:  reply,
		Speak: tts.Enabled,
		Voice: tts.Provider,
		OnDone: func() {
			o.busy[stage] = false
			o.metrics.RecordTurn(o.ctx, stage.String(), "revealed")
		},
	})
}

func (o *Orchestrator) fail(stage session.StageID) {
	if err := o.sessions.AppendAssistant(stage, Apology); err != nil {
		slog.Error("orchestrator: append apology", "stage", stage.String(), "err", err)
	}
	o.sink.Emit(view.Event{Kind: view.KindApology, Stage: stage.String(), Text: Apology})
	o.busy[stage] = false
	o.metrics.RecordTurn(o.ctx, stage.String(), "failed")
}

// complete marks stage done and moves on without revealing the reply.
func (o *Orchestrator) complete(stage session.StageID) {
	o.sessions.SetCompleted(stage, true)
	o.busy[stage] = false
	o.metrics.RecordTurn(o.ctx, stage.String(), "completed")
	slog.Info("orchestrator: stage completed", "stage", stage.String())

	next := screen.MiddleSuccess
	if stage == session.Stage2 {
		next = screen.FinalSuccess
	}
	_ = o.screens.Transition(next)
}

func (o *Orchestrator) emitSettings(stage session.StageID) {
	tts := o.sessions.TTS(stage)
	o.sink.Emit(view.Event{
		Kind:        view.KindSettings,
		Stage:       stage.String(),
		Model:       o.sessions.Provider().String(),
		TTSEnabled:  tts.Enabled,
		TTSProvider: tts.Provider.String(),
	})
}
