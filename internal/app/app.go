// Package app wires the Kurozu subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the event loop together with the drivers, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithPlayer,
// WithMetrics, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kurozu/internal/assets"
	"github.com/MrWong99/kurozu/internal/completion"
	"github.com/MrWong99/kurozu/internal/config"
	"github.com/MrWong99/kurozu/internal/eventloop"
	"github.com/MrWong99/kurozu/internal/gateway"
	"github.com/MrWong99/kurozu/internal/health"
	"github.com/MrWong99/kurozu/internal/observe"
	"github.com/MrWong99/kurozu/internal/orchestrator"
	"github.com/MrWong99/kurozu/internal/pronounce"
	"github.com/MrWong99/kurozu/internal/resilience"
	"github.com/MrWong99/kurozu/internal/reveal"
	"github.com/MrWong99/kurozu/internal/session"
	"github.com/MrWong99/kurozu/internal/ui/terminal"
	"github.com/MrWong99/kurozu/internal/ui/web"
	"github.com/MrWong99/kurozu/internal/view"
	"github.com/MrWong99/kurozu/pkg/audio"
	"github.com/MrWong99/kurozu/pkg/audio/oto"
	"github.com/MrWong99/kurozu/pkg/provider/llm"
	"github.com/MrWong99/kurozu/pkg/provider/tts"
	"github.com/MrWong99/kurozu/pkg/types"
)

// ChatBackend is one built chat provider and its configured name.
type ChatBackend struct {
	Name     string
	Provider llm.Provider
}

// SpeechBackend is one built speech provider with its default voice.
type SpeechBackend struct {
	Name     string
	Provider tts.Provider
	Voice    tts.VoiceProfile
}

// Providers holds the backends per slot. A missing slot is unconfigured;
// requests routed to it fail and the player sees the usual fallbacks.
// Populated by main.go via the config registry.
type Providers struct {
	Chat   map[types.ProviderChoice]ChatBackend
	Speech map[types.ProviderChoice]SpeechBackend
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	bundle    *assets.Bundle

	// Subsystems, initialised in New and torn down in Shutdown.
	loop     *eventloop.Loop
	metrics  *observe.Metrics
	hub      *view.Broadcast
	chat     *gateway.Chat
	speech   *gateway.Speech
	player   audio.Player
	orch     *orchestrator.Orchestrator
	term     *terminal.Driver
	server   *http.Server
	listener net.Listener
	checks   []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPlayer injects the audio player instead of opening the output device.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithMetrics injects the metric instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTerminal runs d as a driver. Run returns once d stops reading.
func WithTerminal(d *terminal.Driver) Option {
	return func(a *App) { a.term = d }
}

// WithChecks adds readiness checks to /readyz.
func WithChecks(checks ...health.Checker) Option {
	return func(a *App) { a.checks = append(a.checks, checks...) }
}

// WithListener serves HTTP on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (built via the config registry) and bundle holds the loaded
// assets.
func New(cfg *config.Config, providers *Providers, bundle *assets.Bundle, opts ...Option) (*App, error) {
	if err := bundle.Check(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		bundle:    bundle,
		loop:      eventloop.New(),
		hub:       view.NewBroadcast(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Gateways ──────────────────────────────────────────────────────
	a.initGateways()

	// ── 2. Audio ─────────────────────────────────────────────────────────
	a.initPlayer()

	// ── 3. Orchestrator ──────────────────────────────────────────────────
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	// ── 4. Drivers ───────────────────────────────────────────────────────
	if a.term != nil {
		a.hub.Add(a.term)
		a.term.Bind(a.orch)
	}
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

func (a *App) breaker(name string) *resilience.Breaker {
	return resilience.New(resilience.Config{
		Name:      name,
		Threshold: a.cfg.Resilience.Threshold,
		Cooldown:  a.cfg.Resilience.Cooldown,
	})
}

// initGateways wraps every configured backend in a breaker.
func (a *App) initGateways() {
	chatOpts := []gateway.ChatOption{
		gateway.WithChatTimeout(a.cfg.Chat.Timeout),
		gateway.WithMaxTokens(a.cfg.Chat.MaxTokens),
		gateway.WithChatMetrics(a.metrics),
	}
	if t := a.cfg.Chat.Temperature; t != nil {
		chatOpts = append(chatOpts, gateway.WithTemperature(*t))
	}
	for slot, b := range a.providers.Chat {
		if b.Provider == nil {
			continue
		}
		chatOpts = append(chatOpts, gateway.WithChatBackend(slot, b.Name, b.Provider, a.breaker("chat/"+slot.String())))
	}
	a.chat = gateway.NewChat(chatOpts...)

	speechOpts := []gateway.SpeechOption{
		gateway.WithSpeechTimeout(a.cfg.Speech.Timeout),
		gateway.WithSpeechMetrics(a.metrics),
	}
	for slot, b := range a.providers.Speech {
		if b.Provider == nil {
			continue
		}
		speechOpts = append(speechOpts, gateway.WithSpeechBackend(slot, b.Name, b.Provider, b.Voice, a.breaker("speech/"+slot.String())))
	}
	a.speech = gateway.NewSpeech(speechOpts...)

	for _, slot := range []types.ProviderChoice{types.ProviderA, types.ProviderB} {
		if !a.chat.Configured(slot) {
			slog.Warn("chat backend not configured, requests will show the apology", "slot", slot.String())
		}
	}
}

// initPlayer opens the output device unless a player was injected. A
// machine without audio keeps running with silent reveals.
func (a *App) initPlayer() {
	if a.player == nil {
		p, err := oto.New(a.cfg.Speech.SampleRate)
		if err != nil {
			slog.Warn("audio device unavailable, speech disabled", "err", err)
			a.player = audio.Silent{}
		} else {
			a.player = p
		}
	}
	a.closers = append(a.closers, a.player.Close)
}

func (a *App) initOrchestrator() error {
	table := pronounce.Default()
	if len(a.cfg.Pronunciation) > 0 {
		table = pronounce.NewTable(a.cfg.Pronunciation)
	}
	pipeline := reveal.New(a.loop, a.speech, a.player, a.hub,
		reveal.WithPronunciation(table),
		reveal.WithIntervals(a.cfg.Reveal.SpokenInterval, a.cfg.Reveal.SilentInterval),
	)

	sessions := session.New()
	var detOpts []completion.Option
	for stage, sc := range map[session.StageID]config.StageConfig{
		session.Stage1: a.cfg.Stages.Stage1,
		session.Stage2: a.cfg.Stages.Stage2,
	} {
		ttsCfg := session.TTSConfig{Enabled: sc.TTSEnabled == nil || *sc.TTSEnabled}
		if sc.TTSProvider != "" {
			p, err := types.ParseProviderChoice(sc.TTSProvider)
			if err != nil {
				return err
			}
			ttsCfg.Provider = p
		}
		sessions.SetTTS(stage, ttsCfg)
		if sc.Sentinel != "" {
			detOpts = append(detOpts, completion.WithSentinel(stage, sc.Sentinel))
		}
	}

	orch, err := orchestrator.New(a.loop, orchestrator.Deps{
		Chat:     a.chat,
		Reveal:   pipeline,
		Sink:     a.hub,
		Player:   a.player,
		Sessions: sessions,
		Detector: completion.New(detOpts...),
		Metrics:  a.metrics,
	}, a.orchestratorConfig())
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// orchestratorConfig overlays the configured narrative on the defaults.
func (a *App) orchestratorConfig() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.Instructions = a.bundle.Instructions
	oc.DoorCue = a.bundle.DoorCue
	oc.Debug = a.cfg.Debug
	if l := a.cfg.Stages.Stage1.OpeningLine; l != nil {
		oc.OpeningLines[session.Stage1] = *l
	}
	if l := a.cfg.Stages.Stage2.OpeningLine; l != nil {
		oc.OpeningLines[session.Stage2] = *l
	}
	if l := a.cfg.Stages.ClosingLine; l != nil {
		oc.ClosingLine = *l
	}
	t := a.cfg.Timing
	if t.TransitionDelay > 0 {
		oc.TransitionDelay = t.TransitionDelay
	}
	if t.AutoSubmitDelay > 0 {
		oc.AutoSubmitDelay = t.AutoSubmitDelay
	}
	if t.FadeCueDelay > 0 {
		oc.FadeCueDelay = t.FadeCueDelay
	}
	return oc
}

// initHTTP builds the web driver, probes, and metrics endpoint. Nothing is
// served without a listen address or injected listener.
func (a *App) initHTTP() error {
	if a.listener == nil {
		if a.cfg.Server.ListenAddr == "" {
			return nil
		}
		l, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return err
		}
		a.listener = l
	}

	mux := http.NewServeMux()
	checks := append([]health.Checker{
		health.Func("assets", a.bundle.Check),
		health.Func("chat", func() error {
			if !a.chat.Configured(types.ProviderA) {
				return gateway.ErrNotConfigured
			}
			return nil
		}),
		{Name: "eventloop", Check: func(ctx context.Context) error {
			return a.loop.Do(ctx, func() {})
		}},
	}, a.checks...)
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	web.New(a.orch, a.hub, web.WithAvatar(a.bundle.Avatar, a.bundle.AvatarType)).Register(mux)

	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.closers = append(a.closers, a.server.Close)
	return nil
}

// Orchestrator returns the wired orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Broadcast returns the event hub every driver subscribes to.
func (a *App) Broadcast() *view.Broadcast { return a.hub }

// Addr returns the HTTP address, or nil when HTTP is disabled.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the event loop, enters the opening screen, and serves the
// drivers. It blocks until ctx is cancelled or the terminal driver quits,
// and returns nil in both cases.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.loop.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.orch.Start(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: start: %w", err)
		}
		return nil
	})

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.listener.Addr().String())
			if err := a.server.Serve(a.listener); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	if a.term != nil {
		g.Go(func() error {
			defer cancel()
			return a.term.Run(ctx)
		})
	}

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "err", err)
			}
		}
	})
	return shutdownErr
}
