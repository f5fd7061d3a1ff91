// Package reveal displays one assistant turn: it optionally synthesizes the
// text, starts playback, and discloses the original text one rune at a time
// from the same instant.
//
// Synchronisation is start-aligned only. The disclosure interval is fixed and
// no attempt is made to match the length of the clip. When synthesis fails or
// times out the text is disclosed immediately at the slower silent interval,
// so a missing voice never holds the player up.
//
// All methods must be called from a task of the owning [eventloop.Loop].
package reveal

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/kurozu/internal/eventloop"
	"github.com/MrWong99/kurozu/internal/pronounce"
	"github.com/MrWong99/kurozu/internal/view"
	"github.com/MrWong99/kurozu/pkg/audio"
	"github.com/MrWong99/kurozu/pkg/types"
)

// Default disclosure intervals per rune.
const (
	DefaultSpokenInterval = 150 * time.Millisecond
	DefaultSilentInterval = 180 * time.Millisecond
)

// Synthesizer produces a clip for text or reports failure. The speech
// gateway implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, slot types.ProviderChoice, text string) ([]byte, bool)
}

// Turn is one assistant turn to display.
type Turn struct {
	// Stage labels the chat the bubble belongs to.
	Stage string

	// ID identifies the bubble in view events.
	ID int

	// Text is shown exactly as given. Only the synthesis input is passed
	// through the pronunciation table.
	Text string

	// Speak requests synthesis with the backend in Voice.
	Speak bool
	Voice types.ProviderChoice

	// Terminal marks the closing line of the narrative. OnFade is called
	// once when its playback ends or fails, or straight away when there is
	// nothing to play.
	Terminal bool
	OnFade   func()

	// OnDone is called on the loop once the whole text is disclosed.
	OnDone func()
}

// Pipeline reveals turns. It holds no per-turn state, so turns never
// interfere with each other.
type Pipeline struct {
	loop   *eventloop.Loop
	speech Synthesizer
	player audio.Player
	sink   view.Sink
	table  *pronounce.Table
	spoken time.Duration
	silent time.Duration
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithPronunciation sets the table applied to synthesis input. Default: the
// built-in table.
func WithPronunciation(t *pronounce.Table) Option {
	return func(p *Pipeline) { p.table = t }
}

// WithIntervals sets the per-rune disclosure interval with and without
// speech.
func WithIntervals(spoken, silent time.Duration) Option {
	return func(p *Pipeline) {
		if spoken > 0 {
			p.spoken = spoken
		}
		if silent > 0 {
			p.silent = silent
		}
	}
}

// New returns a Pipeline that emits to sink and plays on player.
func New(loop *eventloop.Loop, speech Synthesizer, player audio.Player, sink view.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		loop:   loop,
		speech: speech,
		player: player,
		sink:   sink,
		spoken: DefaultSpokenInterval,
		silent: DefaultSilentInterval,
	}
	for _, o := range opts {
		o(p)
	}
	if p.table == nil {
		p.table = pronounce.Default()
	}
	return p
}

// Reveal displays t within scope. Everything scheduled for the turn is
// dropped once scope closes, including a synthesis result that arrives late.
func (p *Pipeline) Reveal(ctx context.Context, scope *eventloop.Scope, t Turn) {
	p.sink.Emit(view.Event{Kind: view.KindAssistantStart, Stage: t.Stage, Turn: t.ID})

	fade := once(t.OnFade)
	if !t.Speak {
		p.disclose(scope, t, p.silent)
		if t.Terminal {
			fade()
		}
		return
	}

	input := p.table.Prepare(t.Text)
	p.loop.Spawn(func() func() {
		clip, ok := p.speech.Synthesize(ctx, t.Voice, input)
		return scope.Guard(func() {
			if !ok {
				p.disclose(scope, t, p.silent)
				if t.Terminal {
					fade()
				}
				return
			}
			p.play(scope, t, clip, fade)
		})
	})
}

// play starts the clip and the disclosure together.
func (p *Pipeline) play(scope *eventloop.Scope, t Turn, clip []byte, fade func()) {
	finished, err := p.player.Play(clip)
	if err != nil {
		slog.Warn("reveal: playback failed; showing text only", "stage", t.Stage, "turn", t.ID, "err", err)
		p.disclose(scope, t, p.silent)
		if t.Terminal {
			fade()
		}
		return
	}
	p.disclose(scope, t, p.spoken)
	if !t.Terminal {
		return
	}
	p.loop.Spawn(func() func() {
		if err := <-finished; err != nil {
			slog.Debug("reveal: closing line ended early", "err", err)
		}
		return scope.Guard(fade)
	})
}

// disclose emits the first rune now and the rest every interval.
func (p *Pipeline) disclose(scope *eventloop.Scope, t Turn, interval time.Duration) {
	runes := []rune(t.Text)
	i := 0
	var step func()
	step = func() {
		if i < len(runes) {
			p.sink.Emit(view.Event{Kind: view.KindAssistantChunk, Stage: t.Stage, Turn: t.ID, Text: string(runes[i])})
			i++
		}
		if i < len(runes) {
			scope.After(interval, step)
			return
		}
		p.sink.Emit(view.Event{Kind: view.KindAssistantEnd, Stage: t.Stage, Turn: t.ID})
		if t.OnDone != nil {
			t.OnDone()
		}
	}
	step()
}

// once returns a function that calls fn on its first invocation only. It is
// only ever called on the loop, so a plain flag suffices.
func once(fn func()) func() {
	fired := false
	return func() {
		if fired || fn == nil {
			return
		}
		fired = true
		fn()
	}
}
