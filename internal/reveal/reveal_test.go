package reveal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/kurozu/internal/eventloop"
	"github.com/MrWong99/kurozu/internal/gateway"
	"github.com/MrWong99/kurozu/internal/pronounce"
	"github.com/MrWong99/kurozu/internal/view"
	audiomock "github.com/MrWong99/kurozu/pkg/audio/mock"
	"github.com/MrWong99/kurozu/pkg/provider/tts"
	ttsmock "github.com/MrWong99/kurozu/pkg/provider/tts/mock"
	"github.com/MrWong99/kurozu/pkg/types"
)

func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	l := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
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

func speechWith(p tts.Provider, timeout time.Duration) *gateway.Speech {
	return gateway.NewSpeech(
		gateway.WithSpeechTimeout(timeout),
		gateway.WithSpeechBackend(types.ProviderA, "mock", p, tts.VoiceProfile{}, nil),
	)
}

type fixture struct {
	loop   *eventloop.Loop
	rec    *view.Recorder
	player *audiomock.Player
	pipe   *Pipeline
	scope  *eventloop.Scope
}

func newFixture(t *testing.T, speech Synthesizer, player *audiomock.Player, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{loop: startLoop(t), rec: &view.Recorder{}, player: player}
	opts = append([]Option{WithIntervals(time.Millisecond, time.Millisecond)}, opts...)
	f.pipe = New(f.loop, speech, player, f.rec, opts...)
	if err := f.loop.Do(context.Background(), func() { f.scope = f.loop.NewScope("test") }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	return f
}

func (f *fixture) reveal(t *testing.T, turn Turn) {
	t.Helper()
	if err := f.loop.Do(context.Background(), func() {
		f.pipe.Reveal(context.Background(), f.scope, turn)
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestReveal_SilentDisclosesEveryRune(t *testing.T) {
	t.Parallel()

	f := newFixture(t, speechWith(&ttsmock.Provider{Clip: []byte("x")}, time.Second), &audiomock.Player{})
	var done atomic.Int32
	f.reveal(t, Turn{Stage: "stage1", ID: 1, Text: "こんにちは", OnDone: func() { done.Add(1) }})

	waitFor(t, "end of disclosure", func() bool { return f.rec.Ended(1) == 1 })
	if got := f.rec.Revealed(1); got != "こんにちは" {
		t.Errorf("revealed %q, want %q", got, "こんにちは")
	}
	if got := f.rec.Count(view.KindAssistantChunk); got != 5 {
		t.Errorf("chunks = %d, want one per rune (5)", got)
	}
	if f.player.PlayCount() != 0 {
		t.Errorf("PlayCount = %d, want 0", f.player.PlayCount())
	}
	if done.Load() != 1 {
		t.Errorf("OnDone called %d times, want 1", done.Load())
	}
	if ev := f.rec.Events()[0]; ev.Kind != view.KindAssistantStart || ev.Turn != 1 {
		t.Errorf("first event = %+v, want assistant_start for turn 1", ev)
	}
}

func TestReveal_SpokenPlaysPreparedInputAndShowsOriginal(t *testing.T) {
	t.Parallel()

	speech := &ttsmock.Provider{Clip: []byte("mp3")}
	table := pronounce.NewTable([]pronounce.Rule{{Key: "附設", Reading: "ふせつ"}})
	f := newFixture(t, speechWith(speech, time.Second), &audiomock.Player{}, WithPronunciation(table))

	f.reveal(t, Turn{Stage: "stage2", ID: 7, Text: "附設へようこそ", Speak: true, Voice: types.ProviderA})

	waitFor(t, "end of disclosure", func() bool { return f.rec.Ended(7) == 1 })
	if got := f.rec.Revealed(7); got != "附設へようこそ" {
		t.Errorf("revealed %q, want the unmodified text", got)
	}
	if got := speech.Texts(); len(got) != 1 || got[0] != "ふせつへようこそ" {
		t.Errorf("synthesis input = %q, want the prepared text", got)
	}
	if f.player.PlayCount() != 1 {
		t.Errorf("PlayCount = %d, want 1", f.player.PlayCount())
	}
}

func TestReveal_SynthesisTimeoutStillDisclosesAndFadesOnce(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	speech := &ttsmock.Provider{Clip: []byte("late"), Hang: true, Release: release}
	f := newFixture(t, speechWith(speech, 30*time.Millisecond), &audiomock.Player{})

	var fades atomic.Int32
	f.reveal(t, Turn{
		Stage: "stage2", ID: 3, Text: "まじかー！",
		Speak: true, Terminal: true,
		OnFade: func() { fades.Add(1) },
	})

	waitFor(t, "end of disclosure", func() bool { return f.rec.Ended(3) == 1 })
	waitFor(t, "fade", func() bool { return fades.Load() == 1 })
	time.Sleep(50 * time.Millisecond)

	if got := f.rec.Revealed(3); got != "まじかー！" {
		t.Errorf("revealed %q, want full text", got)
	}
	if fades.Load() != 1 {
		t.Errorf("fade fired %d times, want 1", fades.Load())
	}
	if f.player.PlayCount() != 0 {
		t.Errorf("PlayCount = %d, want 0 after timeout", f.player.PlayCount())
	}
}

func TestReveal_TerminalFadesOnPlaybackEnd(t *testing.T) {
	t.Parallel()

	player := &audiomock.Player{Manual: true}
	f := newFixture(t, speechWith(&ttsmock.Provider{Clip: []byte("mp3")}, time.Second), player)

	var fades atomic.Int32
	f.reveal(t, Turn{Stage: "stage2", ID: 1, Text: "終", Speak: true, Terminal: true, OnFade: func() { fades.Add(1) }})

	waitFor(t, "playback start", func() bool { return player.PlayCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if fades.Load() != 0 {
		t.Fatal("fade fired before playback ended")
	}

	player.Finish(errors.New("device lost"))
	waitFor(t, "fade", func() bool { return fades.Load() == 1 })
}

func TestReveal_PlayErrorFallsBackToText(t *testing.T) {
	t.Parallel()

	player := &audiomock.Player{PlayErr: errors.New("no device")}
	f := newFixture(t, speechWith(&ttsmock.Provider{Clip: []byte("mp3")}, time.Second), player)

	var fades atomic.Int32
	f.reveal(t, Turn{Stage: "stage2", ID: 2, Text: "ok", Speak: true, Terminal: true, OnFade: func() { fades.Add(1) }})

	waitFor(t, "end of disclosure", func() bool { return f.rec.Ended(2) == 1 })
	waitFor(t, "fade", func() bool { return fades.Load() == 1 })
}

type gatedSpeech struct{ release chan struct{} }

func (g gatedSpeech) Synthesize(context.Context, types.ProviderChoice, string) ([]byte, bool) {
	<-g.release
	return []byte("mp3"), true
}

func TestReveal_LateSynthesisAfterScopeClosedIsDropped(t *testing.T) {
	t.Parallel()

	speech := gatedSpeech{release: make(chan struct{})}
	player := &audiomock.Player{}
	f := newFixture(t, speech, player)

	f.reveal(t, Turn{Stage: "stage1", ID: 1, Text: "遅い", Speak: true})
	if err := f.loop.Do(context.Background(), f.scope.Close); err != nil {
		t.Fatalf("Do: %v", err)
	}
	close(speech.release)
	time.Sleep(50 * time.Millisecond)

	if got := f.rec.Count(view.KindAssistantChunk); got != 0 {
		t.Errorf("chunks = %d after scope closed, want 0", got)
	}
	if player.PlayCount() != 0 {
		t.Errorf("PlayCount = %d after scope closed, want 0", player.PlayCount())
	}
}

func TestReveal_EmptyTextEndsImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, speechWith(&ttsmock.Provider{}, time.Second), &audiomock.Player{})
	f.reveal(t, Turn{Stage: "stage1", ID: 9})

	if f.rec.Ended(9) != 1 {
		t.Errorf("Ended = %d, want 1", f.rec.Ended(9))
	}
}
