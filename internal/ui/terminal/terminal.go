// Package terminal drives the orchestrator from a line-oriented console.
//
// Plain lines are submitted as answers on the active quiz screen. Lines
// starting with a slash are commands; /help lists them. Events are rendered
// as they arrive, with assistant text streamed character by character.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/kurozu/internal/orchestrator"
	"github.com/MrWong99/kurozu/internal/screen"
	"github.com/MrWong99/kurozu/internal/session"
	"github.com/MrWong99/kurozu/internal/view"
	"github.com/MrWong99/kurozu/pkg/types"
)

// ErrUnknownCommand is returned by [ParseLine] for an unrecognised slash
// command.
var ErrUnknownCommand = errors.New("terminal: unknown command")

// errUsage wraps argument errors of a known command.
var errUsage = errors.New("terminal: usage")

// Firer applies triggers. *orchestrator.Orchestrator implements it.
type Firer interface {
	Fire(ctx context.Context, t orchestrator.Trigger) error
}

// screenTitles are the headings printed on screen changes.
var screenTitles = map[string]string{
	screen.Opening.String():           "── 附設高校 正門 ── (/open で扉を開ける)",
	screen.OpeningTransition.String(): "── 扉が開く… ──",
	screen.QuizIntro.String():         "── 挑戦者よ ── (/challenge で挑む)",
	screen.Quiz1.String():             "── クイズ1 ──",
	screen.MiddleSuccess.String():     "── クイズ1 突破 ── (/next で次へ)",
	screen.Quiz2.String():             "── クイズ2 ──",
	screen.FinalSuccess.String():      "── 全問正解 ── (/finish で終わる)",
	screen.Ending.String():            "── おわり ── (/restart で最初から)",
}

const helpText = `commands:
  <text>                      answer on the active quiz
  /open                       open the door
  /challenge                  start quiz 1
  /next                       continue to quiz 2
  /finish                     leave the final screen
  /restart                    back to the opening
  /model a|b                  chat backend
  /tts on|off [stage]         speech on the active or given stage
  /voice a|b [stage]          speech backend
  /jump <screen>              debug: show a screen
  /complete <stage> [on|off]  debug: set a stage's completion flag
  /help                       this text
  /quit                       exit`

// Driver renders events to a writer and reads commands from a reader.
type Driver struct {
	in   io.Reader
	orch Firer

	mu        sync.Mutex
	out       io.Writer
	streaming bool
}

var _ view.Sink = (*Driver)(nil)

// New returns a Driver reading from in and writing to out. Call [Driver.Bind]
// before [Driver.Run].
func New(in io.Reader, out io.Writer) *Driver {
	return &Driver{in: in, out: out}
}

// Bind sets the orchestrator that receives triggers.
func (d *Driver) Bind(orch Firer) { d.orch = orch }

// Emit implements [view.Sink].
func (d *Driver) Emit(e view.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streaming && e.Kind != view.KindAssistantChunk {
		if e.Kind != view.KindAssistantEnd {
			fmt.Fprintln(d.out)
		}
	}
	switch e.Kind {
	case view.KindScreen:
		title, ok := screenTitles[e.Screen]
		if !ok {
			title = "── " + e.Screen + " ──"
		}
		fmt.Fprintf(d.out, "\n%s\n", title)
	case view.KindUserMessage:
		fmt.Fprintf(d.out, "あなた> %s\n", e.Text)
	case view.KindLoading:
		if e.Active {
			fmt.Fprintln(d.out, "  …")
		}
	case view.KindAssistantStart:
		fmt.Fprint(d.out, "クロズ> ")
		d.streaming = true
		return
	case view.KindAssistantChunk:
		fmt.Fprint(d.out, e.Text)
		return
	case view.KindAssistantEnd:
		fmt.Fprintln(d.out)
	case view.KindApology:
		fmt.Fprintf(d.out, "クロズ> %s\n", e.Text)
	case view.KindFade:
		fmt.Fprintln(d.out, "  (画面が暗くなっていく…)")
	case view.KindSettings:
		tts := "off"
		if e.TTSEnabled {
			tts = "on/" + e.TTSProvider
		}
		fmt.Fprintf(d.out, "  [%s] model=%s tts=%s\n", e.Stage, e.Model, tts)
	case view.KindNotice:
		fmt.Fprintf(d.out, "  ! %s\n", e.Text)
	}
	d.streaming = false
}

func (d *Driver) notice(msg string) {
	d.Emit(view.Event{Kind: view.KindNotice, Text: msg})
}

// Run reads lines until ctx is done, the input ends, or /quit is entered.
// It returns nil in all three cases; refused triggers are shown as notices.
func (d *Driver) Run(ctx context.Context) error {
	if d.orch == nil {
		return errors.New("terminal: driver not bound to an orchestrator")
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(d.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			slog.Warn("terminal: input read failed", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := d.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (d *Driver) handle(ctx context.Context, line string) (quit bool) {
	if strings.TrimSpace(line) == "/help" {
		d.mu.Lock()
		fmt.Fprintln(d.out, helpText)
		d.mu.Unlock()
		return false
	}
	t, quit, err := ParseLine(line)
	switch {
	case quit:
		return true
	case err != nil:
		d.notice(err.Error())
		return false
	case t.Kind == "":
		return false
	}
	if err := d.orch.Fire(ctx, t); err != nil {
		d.notice(err.Error())
	}
	return false
}

// ParseLine converts one input line into a trigger. A zero Kind with a nil
// error means the line carries nothing to do, such as an empty line.
func ParseLine(line string) (t orchestrator.Trigger, quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return t, false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return orchestrator.Trigger{Kind: orchestrator.Submit, Text: line}, false, nil
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return t, true, nil
	case "/open":
		t.Kind = orchestrator.OpenDoor
	case "/challenge":
		t.Kind = orchestrator.Challenge
	case "/next":
		t.Kind = orchestrator.NextQuiz
	case "/finish":
		t.Kind = orchestrator.Finish
	case "/restart":
		t.Kind = orchestrator.Restart
	case "/model":
		t.Kind = orchestrator.SelectModel
		if len(args) != 1 {
			return t, false, fmt.Errorf("%w: /model a|b", errUsage)
		}
		if t.Choice, err = types.ParseProviderChoice(args[0]); err != nil {
			return t, false, err
		}
	case "/tts":
		t.Kind = orchestrator.ToggleTTS
		if len(args) < 1 || len(args) > 2 {
			return t, false, fmt.Errorf("%w: /tts on|off [stage]", errUsage)
		}
		if t.Enabled, err = onOff(args[0]); err != nil {
			return t, false, err
		}
		if t.Stage, err = optionalStage(args[1:]); err != nil {
			return t, false, err
		}
	case "/voice":
		t.Kind = orchestrator.SelectVoice
		if len(args) < 1 || len(args) > 2 {
			return t, false, fmt.Errorf("%w: /voice a|b [stage]", errUsage)
		}
		if t.Choice, err = types.ParseProviderChoice(args[0]); err != nil {
			return t, false, err
		}
		if t.Stage, err = optionalStage(args[1:]); err != nil {
			return t, false, err
		}
	case "/jump":
		t.Kind = orchestrator.Jump
		if len(args) != 1 {
			return t, false, fmt.Errorf("%w: /jump <screen>", errUsage)
		}
		if t.Screen, err = screen.Parse(args[0]); err != nil {
			return t, false, err
		}
	case "/complete":
		t.Kind = orchestrator.ForceComplete
		if len(args) < 1 || len(args) > 2 {
			return t, false, fmt.Errorf("%w: /complete <stage> [on|off]", errUsage)
		}
		if t.Stage, err = session.ParseStage(args[0]); err != nil {
			return t, false, err
		}
		t.Enabled = true
		if len(args) == 2 {
			if t.Enabled, err = onOff(args[1]); err != nil {
				return t, false, err
			}
		}
	default:
		return t, false, fmt.Errorf("%w: %s (try /help)", ErrUnknownCommand, cmd)
	}
	return t, false, nil
}

func onOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on or off, got %q", errUsage, s)
}

func optionalStage(args []string) (session.StageID, error) {
	if len(args) == 0 {
		return 0, nil
	}
	return session.ParseStage(args[0])
}
