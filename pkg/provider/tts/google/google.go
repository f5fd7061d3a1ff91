// Package google provides a TTS provider backed by the Google Cloud
// Text-to-Speech REST API (text:synthesize), authenticated with an API key.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/kurozu/pkg/provider/tts"
)

const (
	// DefaultBaseURL is the default Cloud Text-to-Speech endpoint.
	DefaultBaseURL = "https://texttospeech.googleapis.com/v1"

	defaultLanguage = "ja-JP"
	defaultVoice    = "ja-JP-Neural2-C"
)

// Provider implements tts.Provider using Google Cloud Text-to-Speech.
type Provider struct {
	apiKey     string
	baseURL    string
	language   string
	voice      string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithLanguage sets the BCP-47 language code. Default: "ja-JP".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithVoice sets the default voice name. Default: "ja-JP-Neural2-C".
func WithVoice(name string) Option {
	return func(p *Provider) { p.voice = name }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient = &http.Client{Timeout: d} }
}

// New constructs a Google TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google tts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		language:   defaultLanguage,
		voice:      defaultVoice,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
}

// Synthesize implements tts.Provider. The clip is MP3-encoded.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	body := synthesizeRequest{
		Input:       synthesisInput{Text: text},
		Voice:       voiceSelection{LanguageCode: p.language, Name: p.voice},
		AudioConfig: audioConfig{AudioEncoding: "MP3", SpeakingRate: voice.SpeedFactor},
	}
	if voice.ID != "" {
		body.Voice.Name = voice.ID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("google tts: encode request: %w", err)
	}

	endpoint := p.baseURL + "/text:synthesize?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("google tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google tts: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google tts: read response: %w", err)
	}

	if e := gjson.GetBytes(raw, "error"); e.Exists() {
		return nil, fmt.Errorf("google tts: %s (%d): %s",
			e.Get("status").String(), e.Get("code").Int(), e.Get("message").String())
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("google tts: unexpected status %d", resp.StatusCode)
	}

	content := gjson.GetBytes(raw, "audioContent")
	if !content.Exists() {
		return nil, fmt.Errorf("google tts: audioContent missing from response")
	}
	clip, err := base64.StdEncoding.DecodeString(content.String())
	if err != nil {
		return nil, fmt.Errorf("google tts: decode audioContent: %w", err)
	}
	return clip, nil
}
