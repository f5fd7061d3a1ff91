// Package config provides the configuration schema, loader, and provider
// registry for Kurozu.
package config

import (
	"time"

	"github.com/MrWong99/kurozu/internal/pronounce"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CredentialRef names which resolved secret a provider authenticates with.
type CredentialRef string

const (
	// CredentialPrimary is the required key (OpenAI by default).
	CredentialPrimary CredentialRef = "primary"

	// CredentialSecondary is the optional key (Google by default).
	CredentialSecondary CredentialRef = "secondary"
)

// IsValid reports whether c is a recognised credential reference.
func (c CredentialRef) IsValid() bool {
	return c == CredentialPrimary || c == CredentialSecondary
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Assets      AssetsConfig      `yaml:"assets"`
	Chat        ChatConfig        `yaml:"chat"`
	Speech      SpeechConfig      `yaml:"speech"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Reveal      RevealConfig      `yaml:"reveal"`
	Timing      TimingConfig      `yaml:"timing"`
	Stages      StagesConfig      `yaml:"stages"`

	// Pronunciation is the ordered reading table applied to speech input.
	// Empty selects the built-in table.
	Pronunciation []pronounce.Rule `yaml:"pronunciation"`

	// Debug exposes the privileged screen jumps.
	Debug bool `yaml:"debug"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the web driver, health, and metrics
	// endpoints (e.g., "127.0.0.1:8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, sends JSON logs to a rotating file instead of
	// stderr so they do not interleave with the terminal driver.
	LogFile string `yaml:"log_file"`

	// Terminal enables the interactive terminal driver. Default: true.
	Terminal *bool `yaml:"terminal"`
}

// TerminalEnabled reports whether the terminal driver should run.
func (s ServerConfig) TerminalEnabled() bool {
	return s.Terminal == nil || *s.Terminal
}

// ProvidersConfig declares the backends behind both provider slots.
type ProvidersConfig struct {
	Chat   SlotPair `yaml:"chat"`
	Speech SlotPair `yaml:"speech"`
}

// SlotPair configures provider slot A and slot B of one kind.
type SlotPair struct {
	A ProviderEntry `yaml:"a"`
	B ProviderEntry `yaml:"b"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "gemini", "google"). Empty leaves the slot unconfigured.
	Name string `yaml:"name"`

	// Credential selects the resolved secret used as API key.
	Credential CredentialRef `yaml:"credential"`

	// APIKey is filled in from Credential at startup. Setting it in the file
	// overrides the credential lookup.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values such as "voice" or "speed".
	Options map[string]any `yaml:"options"`
}

// CredentialsConfig tells the credential resolver where to look.
type CredentialsConfig struct {
	// PrimaryEnv and SecondaryEnv name the environment variables holding the
	// two secrets.
	PrimaryEnv   string `yaml:"primary_env"`
	SecondaryEnv string `yaml:"secondary_env"`

	// EnvFiles are dotenv files loaded before the environment is read.
	// Variables already set in the process win.
	EnvFiles []string `yaml:"env_files"`

	// KeyFiles are secrets files of KEY = "value" lines, consulted after the
	// environment.
	KeyFiles []string `yaml:"key_files"`

	// Prompt asks for missing keys on the terminal. Default: true.
	Prompt *bool `yaml:"prompt"`
}

// PromptEnabled reports whether the masked key prompt may be shown.
func (c CredentialsConfig) PromptEnabled() bool {
	return c.Prompt == nil || *c.Prompt
}

// AssetsConfig lists the static files loaded once at startup.
type AssetsConfig struct {
	Stage1Instructions string `yaml:"stage1_instructions"`
	Stage2Instructions string `yaml:"stage2_instructions"`
	Avatar             string `yaml:"avatar"`
	DoorCue            string `yaml:"door_cue"`
}

// ChatConfig tunes chat completion requests.
type ChatConfig struct {
	// Temperature is the sampling temperature. Default: 0.7.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens caps the reply length. Default: 1000.
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds one request. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// SpeechConfig tunes speech synthesis.
type SpeechConfig struct {
	// Timeout bounds one synthesis call. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// SampleRate of the playback device. Default: 24000.
	SampleRate int `yaml:"sample_rate"`
}

// ResilienceConfig tunes the per-backend circuit breakers.
type ResilienceConfig struct {
	// Threshold is the number of consecutive failures that opens a breaker.
	// Default: 3.
	Threshold int `yaml:"threshold"`

	// Cooldown is how long an open breaker rejects calls. Default: 20s.
	Cooldown time.Duration `yaml:"cooldown"`
}

// RevealConfig sets the per-rune disclosure pace.
type RevealConfig struct {
	// SpokenInterval applies when a clip plays. Default: 150ms.
	SpokenInterval time.Duration `yaml:"spoken_interval"`

	// SilentInterval applies without audio. Default: 180ms.
	SilentInterval time.Duration `yaml:"silent_interval"`
}

// TimingConfig holds presentation delays.
type TimingConfig struct {
	// TransitionDelay is the pause on the door animation. Default: 2s.
	TransitionDelay time.Duration `yaml:"transition_delay"`

	// AutoSubmitDelay precedes the scripted opening turn. Default: 100ms.
	AutoSubmitDelay time.Duration `yaml:"auto_submit_delay"`

	// FadeCueDelay precedes the door cue during the fade. Default: 100ms.
	FadeCueDelay time.Duration `yaml:"fade_cue_delay"`
}

// StagesConfig holds per-stage narrative settings.
type StagesConfig struct {
	Stage1 StageConfig `yaml:"stage1"`
	Stage2 StageConfig `yaml:"stage2"`

	// ClosingLine is spoken on the final screen. Nil selects the built-in
	// line; an empty string disables it.
	ClosingLine *string `yaml:"closing_line"`
}

// StageConfig configures one stage.
type StageConfig struct {
	// OpeningLine is auto-submitted on entry. Nil selects the built-in line;
	// an empty string disables it.
	OpeningLine *string `yaml:"opening_line"`

	// Sentinel is the phrase that completes the stage. Empty selects the
	// built-in phrase.
	Sentinel string `yaml:"sentinel"`

	// TTSEnabled is the initial speech toggle. Default: true.
	TTSEnabled *bool `yaml:"tts_enabled"`

	// TTSProvider is the initial speech slot ("a" or "b"). Default: "a".
	TTSProvider string `yaml:"tts_provider"`
}
