// Command kurozu runs the two-stage quiz narrative.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/kurozu/internal/app"
	"github.com/MrWong99/kurozu/internal/assets"
	"github.com/MrWong99/kurozu/internal/config"
	"github.com/MrWong99/kurozu/internal/credential"
	"github.com/MrWong99/kurozu/internal/health"
	"github.com/MrWong99/kurozu/internal/observe"
	"github.com/MrWong99/kurozu/internal/ui/terminal"
	"github.com/MrWong99/kurozu/pkg/provider/llm"
	"github.com/MrWong99/kurozu/pkg/provider/llm/gemini"
	oaichat "github.com/MrWong99/kurozu/pkg/provider/llm/openai"
	"github.com/MrWong99/kurozu/pkg/provider/tts"
	"github.com/MrWong99/kurozu/pkg/provider/tts/google"
	oaispeech "github.com/MrWong99/kurozu/pkg/provider/tts/openai"
	"github.com/MrWong99/kurozu/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable the screen jump and force-complete commands")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kurozu: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kurozu: %v\n", err)
		}
		return 1
	}
	if *debug {
		cfg.Debug = true
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	playthroughID := uuid.New().String()
	logger, closeLog := newLogger(cfg.Server)
	defer closeLog()
	slog.SetDefault(logger.With("playthrough_id", playthroughID))

	slog.Info("kurozu starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"debug", cfg.Debug,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		PlaythroughID:  playthroughID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Credentials ───────────────────────────────────────────────────────────
	var prompter credential.Prompter
	if cfg.Credentials.PromptEnabled() {
		if p, ok := credential.NewTerminalPrompter(); ok {
			prompter = p
		}
	}
	creds, err := credential.Resolve(ctx, credential.Options{
		PrimaryEnv:   cfg.Credentials.PrimaryEnv,
		SecondaryEnv: cfg.Credentials.SecondaryEnv,
		EnvFiles:     cfg.Credentials.EnvFiles,
		KeyFiles:     cfg.Credentials.KeyFiles,
	}, prompter)
	if err != nil {
		slog.Error("failed to resolve credentials", "err", err)
		return 1
	}
	applyCredentials(cfg, creds)

	// ── Assets ────────────────────────────────────────────────────────────────
	bundle, err := assets.Load(assets.Paths{
		Stage1Instructions: cfg.Assets.Stage1Instructions,
		Stage2Instructions: cfg.Assets.Stage2Instructions,
		Avatar:             cfg.Assets.Avatar,
		DoorCue:            cfg.Assets.DoorCue,
	})
	if err != nil {
		slog.Error("failed to load assets", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	opts := []app.Option{
		app.WithChecks(health.Func("credentials", func() error {
			if creds.Primary == "" {
				return credential.ErrCredentialMissing
			}
			return nil
		})),
	}
	if cfg.Server.TerminalEnabled() {
		opts = append(opts, app.WithTerminal(terminal.New(os.Stdin, os.Stdout)))
	}
	application, err := app.New(cfg, providers, bundle, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready, press Ctrl+C to quit")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// applyCredentials fills every provider entry without an explicit key from
// the secret its credential reference names.
func applyCredentials(cfg *config.Config, creds credential.Set) {
	for _, e := range []*config.ProviderEntry{
		&cfg.Providers.Chat.A, &cfg.Providers.Chat.B,
		&cfg.Providers.Speech.A, &cfg.Providers.Speech.B,
	} {
		if e.APIKey == "" {
			e.APIKey = creds.Get(string(e.Credential))
		}
	}
}

// registerBuiltinProviders wires the provider factories shipped with Kurozu
// into reg. Timeouts come from cfg so that the HTTP clients never outlive
// the gateway deadlines.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []oaichat.Option{oaichat.WithTimeout(cfg.Chat.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, oaichat.WithBaseURL(entry.BaseURL))
		}
		return oaichat.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterChat("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []gemini.Option{gemini.WithTimeout(cfg.Chat.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Speech ────────────────────────────────────────────────────────────────

	reg.RegisterSpeech("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []oaispeech.Option{oaispeech.WithTimeout(cfg.Speech.Timeout)}
		if entry.Model != "" {
			opts = append(opts, oaispeech.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaispeech.WithBaseURL(entry.BaseURL))
		}
		if v := config.OptString(entry.Options, "voice"); v != "" {
			opts = append(opts, oaispeech.WithVoice(v))
		}
		if s := config.OptFloat(entry.Options, "speed"); s > 0 {
			opts = append(opts, oaispeech.WithSpeed(s))
		}
		return oaispeech.New(entry.APIKey, opts...)
	})

	reg.RegisterSpeech("google", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []google.Option{google.WithTimeout(cfg.Speech.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, google.WithLanguage(lang))
		}
		if v := config.OptString(entry.Options, "voice"); v != "" {
			opts = append(opts, google.WithVoice(v))
		}
		return google.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"chat", "speech"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every configured slot. A slot whose key is
// missing stays unconfigured; its requests fail like any backend error.
// Chat slot A is required.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{
		Chat:   make(map[types.ProviderChoice]app.ChatBackend, 2),
		Speech: make(map[types.ProviderChoice]app.SpeechBackend, 2),
	}
	slots := []struct {
		slot   types.ProviderChoice
		chat   config.ProviderEntry
		speech config.ProviderEntry
	}{
		{types.ProviderA, cfg.Providers.Chat.A, cfg.Providers.Speech.A},
		{types.ProviderB, cfg.Providers.Chat.B, cfg.Providers.Speech.B},
	}

	for _, s := range slots {
		if e := s.chat; e.Name != "" {
			if e.APIKey == "" {
				if s.slot == types.ProviderA {
					return nil, fmt.Errorf("create chat provider %q: %w", e.Name, credential.ErrCredentialMissing)
				}
				slog.Warn("chat slot left unconfigured, no key", "slot", s.slot.String(), "name", e.Name)
			} else if p, err := reg.CreateChat(e); err != nil {
				return nil, fmt.Errorf("create chat provider %q: %w", e.Name, err)
			} else {
				ps.Chat[s.slot] = app.ChatBackend{Name: e.Name, Provider: p}
				slog.Info("provider created", "kind", "chat", "slot", s.slot.String(), "name", e.Name, "model", e.Model)
			}
		}

		if e := s.speech; e.Name != "" {
			if e.APIKey == "" {
				slog.Warn("speech slot left unconfigured, no key", "slot", s.slot.String(), "name", e.Name)
				continue
			}
			p, err := reg.CreateSpeech(e)
			if err != nil {
				return nil, fmt.Errorf("create speech provider %q: %w", e.Name, err)
			}
			ps.Speech[s.slot] = app.SpeechBackend{
				Name:     e.Name,
				Provider: p,
				Voice: tts.VoiceProfile{
					ID:          config.OptString(e.Options, "voice"),
					SpeedFactor: config.OptFloat(e.Options, "speed"),
				},
			}
			slog.Info("provider created", "kind", "speech", "slot", s.slot.String(), "name", e.Name)
		}
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         Kurozu · startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	for _, slot := range []types.ProviderChoice{types.ProviderA, types.ProviderB} {
		entry := cfg.Providers.Chat.A
		if slot == types.ProviderB {
			entry = cfg.Providers.Chat.B
		}
		_, ok := ps.Chat[slot]
		printProvider(w, "Chat "+slot.String(), entry.Name, entry.Model, ok)
	}
	for _, slot := range []types.ProviderChoice{types.ProviderA, types.ProviderB} {
		b, ok := ps.Speech[slot]
		printProvider(w, "Speech "+slot.String(), b.Name, "", ok)
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Terminal", onOff(cfg.Server.TerminalEnabled()))
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Debug", onOff(cfg.Debug))
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string, ok bool) {
	value := name
	switch {
	case !ok || name == "":
		value = "(not configured)"
	case model != "":
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a colourised stderr logger, or a JSON logger on a
// rotating file when srv.LogFile is set. The returned func closes the file.
func newLogger(srv config.ServerConfig) (*slog.Logger, func()) {
	var lvl slog.Level
	switch srv.LogLevel {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	if srv.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   srv.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		return slog.New(slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: lvl})), func() { _ = lj.Close() }
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	})), func() {}
}
