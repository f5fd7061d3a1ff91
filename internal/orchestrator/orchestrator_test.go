package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/kurozu/internal/eventloop"
	"github.com/MrWong99/kurozu/internal/gateway"
	"github.com/MrWong99/kurozu/internal/reveal"
	"github.com/MrWong99/kurozu/internal/screen"
	"github.com/MrWong99/kurozu/internal/session"
	"github.com/MrWong99/kurozu/internal/view"
	audiomock "github.com/MrWong99/kurozu/pkg/audio/mock"
	llmmock "github.com/MrWong99/kurozu/pkg/provider/llm/mock"
	"github.com/MrWong99/kurozu/pkg/provider/tts"
	ttsmock "github.com/MrWong99/kurozu/pkg/provider/tts/mock"
	"github.com/MrWong99/kurozu/pkg/types"
)

const (
	q1 = "You are Kurozu. Quiz one."
	q2 = "You are Kurozu. Quiz two."
)

type harness struct {
	orch    *Orchestrator
	loop    *eventloop.Loop
	rec     *view.Recorder
	chatA   *llmmock.Provider
	chatB   *llmmock.Provider
	speechA *ttsmock.Provider
	player  *audiomock.Player
}

type harnessOpt func(*Config, *[]gateway.SpeechOption)

func withConfig(fn func(*Config)) harnessOpt {
	return func(c *Config, _ *[]gateway.SpeechOption) { fn(c) }
}

func withSpeechTimeout(d time.Duration) harnessOpt {
	return func(_ *Config, s *[]gateway.SpeechOption) {
		*s = append(*s, gateway.WithSpeechTimeout(d))
	}
}

// newHarness builds an orchestrator with mock backends on a running loop.
// Scripted openers and the closing line are off unless an option sets them.
func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()

	h := &harness{
		loop:    eventloop.New(),
		rec:     &view.Recorder{},
		chatA:   &llmmock.Provider{Reply: "ok"},
		chatB:   &llmmock.Provider{Reply: "from b"},
		speechA: &ttsmock.Provider{Clip: []byte("mp3")},
		player:  &audiomock.Player{},
	}

	cfg := DefaultConfig()
	cfg.Instructions = map[session.StageID]string{session.Stage1: q1, session.Stage2: q2}
	cfg.OpeningLines = nil
	cfg.ClosingLine = ""
	cfg.TransitionDelay = 10 * time.Millisecond
	cfg.AutoSubmitDelay = time.Millisecond
	cfg.FadeCueDelay = time.Millisecond
	cfg.Debug = true
	var speechOpts []gateway.SpeechOption
	for _, o := range opts {
		o(&cfg, &speechOpts)
	}

	chat := gateway.NewChat(
		gateway.WithChatBackend(types.ProviderA, "mock-a", h.chatA, nil),
		gateway.WithChatBackend(types.ProviderB, "mock-b", h.chatB, nil),
	)
	speechOpts = append(speechOpts, gateway.WithSpeechBackend(types.ProviderA, "mock", h.speechA, tts.VoiceProfile{}, nil))
	speech := gateway.NewSpeech(speechOpts...)
	pipe := reveal.New(h.loop, speech, h.player, h.rec, reveal.WithIntervals(time.Millisecond, time.Millisecond))

	o, err := New(h.loop, Deps{Chat: chat, Reveal: pipe, Sink: h.rec, Player: h.player}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = o

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.loop.Done()
	})
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func (h *harness) fire(t *testing.T, tr Trigger) error {
	t.Helper()
	return h.orch.Fire(context.Background(), tr)
}

func (h *harness) mustFire(t *testing.T, tr Trigger) {
	t.Helper()
	if err := h.fire(t, tr); err != nil {
		t.Fatalf("Fire(%s): %v", tr.Kind, err)
	}
}

func (h *harness) snap(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.orch.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func (h *harness) idle(t *testing.T, stage session.StageID) {
	t.Helper()
	waitFor(t, stage.String()+" idle", func() bool { return !h.snap(t).Stages[stage].Busy })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func assertAlternates(t *testing.T, history []types.Message, instruction string) {
	t.Helper()
	if len(history) == 0 || history[0].Role != types.RoleSystem || history[0].Content != instruction {
		t.Fatalf("history[0] = %+v, want System(%q)", history, instruction)
	}
	for i, m := range history[1:] {
		want := types.RoleUser
		if i%2 == 1 {
			want = types.RoleAssistant
		}
		if m.Role != want {
			t.Errorf("history[%d].Role = %s, want %s", i+1, m.Role, want)
		}
	}
}

// ── Scenarios ───────────────────────────────────────────────────────────────

func TestSubmit_HelloOk(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})
	h.mustFire(t, Trigger{Kind: Submit, Text: "hello"})
	h.idle(t, session.Stage1)

	s := h.snap(t)
	want := []types.Message{
		{Role: types.RoleSystem, Content: q1},
		{Role: types.RoleUser, Content: "hello"},
		{Role: types.RoleAssistant, Content: "ok"},
	}
	got := s.Stages[session.Stage1].History
	if len(got) != len(want) {
		t.Fatalf("history = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if s.Screen != screen.Quiz1 {
		t.Errorf("screen = %s, want quiz1", s.Screen)
	}
	if h.rec.Loading("stage1") {
		t.Error("loading indicator still shown")
	}
	if h.chatB.CallCount() != 0 {
		t.Error("provider B was called with provider A selected")
	}
	if req := h.chatA.LastRequest(); len(req.Messages) != 2 {
		t.Errorf("request carried %d messages, want full history of 2", len(req.Messages))
	}
}

func TestSubmit_HistoryIsTwoNPlusOne(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz2})

	const n = 3
	for i := range n {
		h.mustFire(t, Trigger{Kind: Submit, Text: "question " + string(rune('a'+i))})
		h.idle(t, session.Stage2)
	}

	history := h.snap(t).Stages[session.Stage2].History
	if len(history) != 2*n+1 {
		t.Fatalf("len(history) = %d, want %d", len(history), 2*n+1)
	}
	assertAlternates(t, history, q2)
}

func TestSubmit_WhitespaceIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})

	if err := h.fire(t, Trigger{Kind: Submit, Text: "  \t\n "}); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if got := h.snap(t).Stages[session.Stage1].History; len(got) != 1 {
		t.Errorf("history = %+v, want only the System message", got)
	}
	if h.chatA.CallCount() != 0 {
		t.Errorf("chat calls = %d, want 0", h.chatA.CallCount())
	}
	if h.rec.Count(view.KindUserMessage) != 0 {
		t.Error("whitespace input was displayed")
	}
}

func TestSubmit_LockRejectsSecondTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chatA.Gate = make(chan struct{})
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})

	h.mustFire(t, Trigger{Kind: Submit, Text: "first"})
	if err := h.fire(t, Trigger{Kind: Submit, Text: "second"}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second submit error = %v, want ErrBusy", err)
	}
	close(h.chatA.Gate)
	h.idle(t, session.Stage1)

	history := h.snap(t).Stages[session.Stage1].History
	if len(history) != 3 || history[1].Content != "first" {
		t.Errorf("history = %+v, want one exchange for the first submit", history)
	}
	if h.chatA.CallCount() != 1 {
		t.Errorf("chat calls = %d, want 1", h.chatA.CallCount())
	}
}

func TestSubmit_FailureAppendsApologyOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chatA.Err = errors.New("connection refused")
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})

	h.mustFire(t, Trigger{Kind: Submit, Text: "hello"})
	h.idle(t, session.Stage1)

	history := h.snap(t).Stages[session.Stage1].History
	if len(history) != 3 || history[2].Content != Apology {
		t.Fatalf("history = %+v, want apology as the assistant turn", history)
	}
	if got := h.rec.Count(view.KindApology); got != 1 {
		t.Errorf("apology events = %d, want 1", got)
	}
	if h.rec.Loading("stage1") {
		t.Error("loading indicator left dangling")
	}
	var offs int
	for _, e := range h.rec.Events() {
		if e.Kind == view.KindLoading && !e.Active {
			offs++
		}
	}
	if offs != 1 {
		t.Errorf("loading removed %d times, want 1", offs)
	}

	// The lock is released, so the player can try again.
	h.chatA.Err = nil
	h.mustFire(t, Trigger{Kind: Submit, Text: "again"})
	h.idle(t, session.Stage1)
}

func TestSubmit_SelectedModelAppliesToLaterCalls(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})
	h.mustFire(t, Trigger{Kind: SelectModel, Choice: types.ProviderB})
	h.mustFire(t, Trigger{Kind: Submit, Text: "hello"})
	h.idle(t, session.Stage1)

	if h.chatB.CallCount() != 1 || h.chatA.CallCount() != 0 {
		t.Errorf("calls a=%d b=%d, want a=0 b=1", h.chatA.CallCount(), h.chatB.CallCount())
	}
	if ev, ok := h.rec.Last(view.KindSettings); !ok || ev.Model != "b" {
		t.Errorf("last settings = %+v, want model b", ev)
	}
}

func TestReply_StaleAfterScreenChangeIsDiscarded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chatA.Gate = make(chan struct{})
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})
	h.mustFire(t, Trigger{Kind: Submit, Text: "hello"})
	waitFor(t, "request in flight", func() bool { return h.chatA.CallCount() == 1 })

	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz2})
	close(h.chatA.Gate)
	time.Sleep(50 * time.Millisecond)

	history := h.snap(t).Stages[session.Stage1].History
	if len(history) != 2 {
		t.Errorf("stage1 history = %+v, want the late reply discarded", history)
	}
	if h.rec.Count(view.KindAssistantStart) != 0 {
		t.Error("late reply was revealed into a hidden screen")
	}
}

// ── Completion ──────────────────────────────────────────────────────────────

func TestCompletion_Stage1MovesToMiddleSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chatA.Reply = "見事だ。これでクイズ1は終了だ"
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})
	h.mustFire(t, Trigger{Kind: Submit, Text: "answer"})

	waitFor(t, "middle success", func() bool { return h.snap(t).Screen == screen.MiddleSuccess })
	if !h.snap(t).Stages[session.Stage1].Completed {
		t.Error("stage1 not completed")
	}
	if h.rec.Count(view.KindAssistantStart) != 0 {
		t.Error("sentinel reply was revealed")
	}
	h.mustFire(t, Trigger{Kind: NextQuiz})
	if got := h.snap(t).Screen; got != screen.Quiz2 {
		t.Errorf("screen after next_quiz = %s, want quiz2", got)
	}
}

func TestCompletion_Stage1SentinelIgnoredInStage2(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chatA.Reply = "これでクイズ1は終了だ"
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz2})
	h.mustFire(t, Trigger{Kind: Submit, Text: "answer"})
	h.idle(t, session.Stage2)

	s := h.snap(t)
	if s.Stages[session.Stage1].Completed || s.Stages[session.Stage2].Completed {
		t.Error("a foreign sentinel completed a stage")
	}
	if s.Screen != screen.Quiz2 {
		t.Errorf("screen = %s, want quiz2", s.Screen)
	}
	if h.rec.Revealed(1) != "これでクイズ1は終了だ" {
		t.Errorf("revealed %q, want the reply shown as a normal turn", h.rec.Revealed(1))
	}
}

func TestCompletion_Stage2MovesToFinalSuccessWithoutReveal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chatA.Reply = "...これでクイズ2は終了だ"
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz2})
	h.mustFire(t, Trigger{Kind: Submit, Text: "answer"})

	waitFor(t, "final success", func() bool { return h.snap(t).Screen == screen.FinalSuccess })
	if !h.snap(t).Stages[session.Stage2].Completed {
		t.Error("stage2 not completed")
	}
	for _, e := range h.rec.Events() {
		if e.Kind == view.KindAssistantStart || strings.Contains(e.Text, "これでクイズ2は終了だ") {
			t.Errorf("sentinel turn reached the view: %+v", e)
		}
	}
	if len(h.speechA.Texts()) != 0 {
		t.Error("sentinel turn was synthesized")
	}
}

// ── Screens ─────────────────────────────────────────────────────────────────

func TestOpeningChain(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) { c.DoorCue = []byte("door") }))
	if err := h.fire(t, Trigger{Kind: Challenge}); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("challenge on opening error = %v, want ErrNotAllowed", err)
	}

	h.mustFire(t, Trigger{Kind: OpenDoor})
	waitFor(t, "quiz intro", func() bool { return h.snap(t).Screen == screen.QuizIntro })
	if h.player.PlayCount() != 1 {
		t.Errorf("door cue played %d times, want 1", h.player.PlayCount())
	}

	h.mustFire(t, Trigger{Kind: Challenge})
	want := []string{"opening", "opening_transition", "quiz_intro", "quiz1"}
	got := h.rec.Screens()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("screens = %v, want %v", got, want)
	}
}

func TestQuizEntry_AutoSubmitsOpeningLine(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) {
		c.OpeningLines = map[session.StageID]string{session.Stage1: DefaultStage1Opening}
	}))
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})

	waitFor(t, "scripted exchange", func() bool { return len(h.snap(t).Stages[session.Stage1].History) == 3 })
	history := h.snap(t).Stages[session.Stage1].History
	if history[1].Role != types.RoleUser || history[1].Content != DefaultStage1Opening {
		t.Errorf("history[1] = %+v, want the scripted opener", history[1])
	}
}

func TestQuizEntry_TypedAheadInputWaitsForOpeningLine(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) {
		c.OpeningLines = map[session.StageID]string{session.Stage1: DefaultStage1Opening}
		c.AutoSubmitDelay = 50 * time.Millisecond
	}))
	h.chatA.Gate = make(chan struct{})
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})

	err := h.fire(t, Trigger{Kind: Submit, Text: "typed-ahead answer"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("submit before the opening line: err = %v, want ErrBusy", err)
	}
	if got := err.Error(); got != "orchestrator: turn in progress: stage1" {
		t.Errorf("error text = %q", got)
	}

	waitFor(t, "scripted request", func() bool { return h.chatA.CallCount() == 1 })
	close(h.chatA.Gate)
	h.idle(t, session.Stage1)

	history := h.snap(t).Stages[session.Stage1].History
	if len(history) != 3 || history[1].Content != DefaultStage1Opening {
		t.Fatalf("history = %+v, want the scripted opener as the only user turn", history)
	}

	h.mustFire(t, Trigger{Kind: Submit, Text: "real answer"})
	h.idle(t, session.Stage1)
	if history := h.snap(t).Stages[session.Stage1].History; len(history) != 5 || history[3].Content != "real answer" {
		t.Errorf("history = %+v, want the player's answer after the opener", history)
	}
}

func TestQuizEntry_ResetsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})
	h.mustFire(t, Trigger{Kind: Submit, Text: "hello"})
	h.idle(t, session.Stage1)

	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})
	history := h.snap(t).Stages[session.Stage1].History
	if len(history) != 1 || history[0] != (types.Message{Role: types.RoleSystem, Content: q1}) {
		t.Errorf("history after re-entry = %+v, want [System(q1)]", history)
	}
}

func TestFinalSuccess_SpeechTimeoutStillFadesOnce(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h := newHarness(t,
		withConfig(func(c *Config) { c.ClosingLine = DefaultClosingLine }),
		withSpeechTimeout(30*time.Millisecond),
	)
	h.speechA.Hang = true
	h.speechA.Release = release

	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.FinalSuccess})
	waitFor(t, "fade", func() bool { return h.rec.Count(view.KindFade) == 1 })
	time.Sleep(50 * time.Millisecond)

	if got := h.rec.Count(view.KindFade); got != 1 {
		t.Errorf("fade events = %d, want 1", got)
	}
	if got := h.rec.Revealed(1); got != DefaultClosingLine {
		t.Errorf("revealed %q, want the closing line", got)
	}
}

func TestFinalSuccess_NoClosingLineWithoutSpeech(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) { c.ClosingLine = DefaultClosingLine }))
	h.mustFire(t, Trigger{Kind: ToggleTTS, Stage: session.Stage2, Enabled: false})
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.FinalSuccess})
	time.Sleep(20 * time.Millisecond)

	if h.rec.Count(view.KindAssistantStart) != 0 || h.rec.Count(view.KindFade) != 0 {
		t.Error("closing line played with stage2 speech disabled")
	}
}

func TestFinishAndRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.FinalSuccess})
	if err := h.fire(t, Trigger{Kind: Finish}); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("finish before completion error = %v, want ErrNotAllowed", err)
	}
	h.mustFire(t, Trigger{Kind: ForceComplete, Stage: session.Stage2, Enabled: true})
	h.mustFire(t, Trigger{Kind: Finish})
	h.mustFire(t, Trigger{Kind: Restart})

	s := h.snap(t)
	if s.Screen != screen.Opening || s.Stages[session.Stage2].Completed {
		t.Errorf("after restart: screen=%s completed2=%v, want opening and false", s.Screen, s.Stages[session.Stage2].Completed)
	}
}

func TestPrivilegedTriggersNeedDebug(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) { c.Debug = false }))
	if err := h.fire(t, Trigger{Kind: Jump, Screen: screen.Quiz2}); !errors.Is(err, ErrPrivileged) {
		t.Errorf("jump error = %v, want ErrPrivileged", err)
	}
	if err := h.fire(t, Trigger{Kind: "dance"}); !errors.Is(err, ErrUnknownTrigger) {
		t.Errorf("unknown trigger error = %v, want ErrUnknownTrigger", err)
	}
}

func TestSpeechSettingsPerStage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz1})
	h.mustFire(t, Trigger{Kind: SelectVoice, Choice: types.ProviderB})
	h.mustFire(t, Trigger{Kind: ToggleTTS, Enabled: false})

	s := h.snap(t)
	if got := s.Stages[session.Stage1].TTS; got.Enabled || got.Provider != types.ProviderB {
		t.Errorf("stage1 tts = %+v, want disabled on b", got)
	}
	if got := s.Stages[session.Stage2].TTS; !got.Enabled || got.Provider != types.ProviderA {
		t.Errorf("stage2 tts = %+v, want untouched default", got)
	}
	if err := h.fire(t, Trigger{Kind: Jump, Screen: screen.Ending}); err != nil {
		t.Fatal(err)
	}
	if err := h.fire(t, Trigger{Kind: ToggleTTS}); !errors.Is(err, session.ErrUnknownStage) {
		t.Errorf("toggle outside quiz error = %v, want ErrUnknownStage", err)
	}
}

func TestSpokenTurnUsesSpeech(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chatA.Reply = "附設へようこそ"
	h.mustFire(t, Trigger{Kind: Jump, Screen: screen.Quiz2})
	h.mustFire(t, Trigger{Kind: Submit, Text: "hi"})
	h.idle(t, session.Stage2)

	if h.player.PlayCount() != 1 {
		t.Errorf("PlayCount = %d, want 1", h.player.PlayCount())
	}
	if h.rec.Revealed(1) != "附設へようこそ" {
		t.Errorf("revealed %q", h.rec.Revealed(1))
	}
}
