package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/kurozu/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"chat":   {"openai", "gemini"},
	"speech": {"openai", "google"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultPrimaryEnv   = "OPENAI_API_KEY"
	DefaultSecondaryEnv = "GOOGLE_API_KEY"
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1000
	DefaultChatTimeout  = 60 * time.Second
	DefaultSpeechTimeout = 10 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default. Provider slots
// default to OpenAI on slot A and Gemini / Google Cloud TTS on slot B.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	defaultEntry(&cfg.Providers.Chat.A, "openai", "gpt-4o", CredentialPrimary)
	defaultEntry(&cfg.Providers.Chat.B, "gemini", "gemini-2.0-flash", CredentialSecondary)
	defaultEntry(&cfg.Providers.Speech.A, "openai", "tts-1", CredentialPrimary)
	defaultEntry(&cfg.Providers.Speech.B, "google", "", CredentialSecondary)

	if cfg.Credentials.PrimaryEnv == "" {
		cfg.Credentials.PrimaryEnv = DefaultPrimaryEnv
	}
	if cfg.Credentials.SecondaryEnv == "" {
		cfg.Credentials.SecondaryEnv = DefaultSecondaryEnv
	}

	if cfg.Assets.Stage1Instructions == "" {
		cfg.Assets.Stage1Instructions = "assets/instructions/quiz1.txt"
	}
	if cfg.Assets.Stage2Instructions == "" {
		cfg.Assets.Stage2Instructions = "assets/instructions/quiz2.txt"
	}

	if cfg.Chat.Temperature == nil {
		t := DefaultTemperature
		cfg.Chat.Temperature = &t
	}
	if cfg.Chat.MaxTokens == 0 {
		cfg.Chat.MaxTokens = DefaultMaxTokens
	}
	if cfg.Chat.Timeout == 0 {
		cfg.Chat.Timeout = DefaultChatTimeout
	}
	if cfg.Speech.Timeout == 0 {
		cfg.Speech.Timeout = DefaultSpeechTimeout
	}

	if cfg.Stages.Stage1.TTSProvider == "" {
		cfg.Stages.Stage1.TTSProvider = types.ProviderA.String()
	}
	if cfg.Stages.Stage2.TTSProvider == "" {
		cfg.Stages.Stage2.TTSProvider = types.ProviderA.String()
	}
}

// defaultEntry fills an untouched slot. A slot with a name keeps its own
// values except for a missing credential reference.
func defaultEntry(e *ProviderEntry, name, model string, cred CredentialRef) {
	if e.Name == "" {
		e.Name = name
		if e.Model == "" {
			e.Model = model
		}
	}
	if e.Credential == "" {
		e.Credential = cred
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	for _, s := range []struct {
		kind, path string
		entry      ProviderEntry
	}{
		{"chat", "providers.chat.a", cfg.Providers.Chat.A},
		{"chat", "providers.chat.b", cfg.Providers.Chat.B},
		{"speech", "providers.speech.a", cfg.Providers.Speech.A},
		{"speech", "providers.speech.b", cfg.Providers.Speech.B},
	} {
		validateProviderName(s.kind, s.entry.Name)
		if s.entry.Credential != "" && !s.entry.Credential.IsValid() {
			errs = append(errs, fmt.Errorf("%s.credential %q is invalid; valid values: primary, secondary", s.path, s.entry.Credential))
		}
		if s.kind == "chat" && s.entry.Name != "" && s.entry.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", s.path))
		}
	}
	if cfg.Providers.Chat.A.Name == "" {
		errs = append(errs, errors.New("providers.chat.a.name is required"))
	}

	// Assets
	if cfg.Assets.Stage1Instructions == "" || cfg.Assets.Stage2Instructions == "" {
		errs = append(errs, errors.New("assets.stage1_instructions and assets.stage2_instructions are required"))
	}

	// Chat
	if t := cfg.Chat.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Chat.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("chat.max_tokens %d must not be negative", cfg.Chat.MaxTokens))
	}
	if cfg.Chat.Timeout < 0 || cfg.Speech.Timeout < 0 {
		errs = append(errs, errors.New("chat.timeout and speech.timeout must not be negative"))
	}

	// Reveal and timing
	for name, d := range map[string]time.Duration{
		"reveal.spoken_interval":   cfg.Reveal.SpokenInterval,
		"reveal.silent_interval":   cfg.Reveal.SilentInterval,
		"timing.transition_delay":  cfg.Timing.TransitionDelay,
		"timing.auto_submit_delay": cfg.Timing.AutoSubmitDelay,
		"timing.fade_cue_delay":    cfg.Timing.FadeCueDelay,
		"resilience.cooldown":      cfg.Resilience.Cooldown,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %v must not be negative", name, d))
		}
	}

	// Stages
	for path, st := range map[string]StageConfig{"stages.stage1": cfg.Stages.Stage1, "stages.stage2": cfg.Stages.Stage2} {
		if st.TTSProvider != "" {
			if _, err := types.ParseProviderChoice(st.TTSProvider); err != nil {
				errs = append(errs, fmt.Errorf("%s.tts_provider %q is invalid; valid values: a, b", path, st.TTSProvider))
			}
		}
	}
	if s1, s2 := cfg.Stages.Stage1.Sentinel, cfg.Stages.Stage2.Sentinel; s1 != "" && s1 == s2 {
		errs = append(errs, errors.New("stages.stage1.sentinel and stages.stage2.sentinel must differ"))
	}

	// Pronunciation
	for i, r := range cfg.Pronunciation {
		if r.Key == "" {
			errs = append(errs, fmt.Errorf("pronunciation[%d].key is required", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
