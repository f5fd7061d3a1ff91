// Package openai provides a TTS provider backed by the OpenAI audio/speech
// endpoint. The endpoint answers with an MP3 clip.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/kurozu/pkg/provider/tts"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "ash"
)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	speed  float64
}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*options)

type options struct {
	baseURL    string
	model      string
	voice      string
	speed      float64
	timeout    time.Duration
	maxRetries int
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithModel selects the speech model. Default: "tts-1".
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithVoice selects the default voice. Default: "ash".
func WithVoice(voice string) Option {
	return func(o *options) { o.voice = voice }
}

// WithSpeed sets the default speaking rate. Default: 1.0.
func WithSpeed(speed float64) Option {
	return func(o *options) { o.speed = speed }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxRetries sets how many times the SDK retries a failed request.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	o := &options{model: defaultModel, voice: defaultVoice, speed: 1.0, maxRetries: -1}
	for _, opt := range opts {
		opt(o)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: o.timeout}))
	}
	if o.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(o.maxRetries))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  o.model,
		voice:  o.voice,
		speed:  o.speed,
	}, nil
}

// Synthesize implements tts.Provider. The returned bytes are the raw MP3
// body of the response.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("openai tts: empty input")
	}

	params := p.buildParams(text, voice)
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai tts: status %d: %s: %w", apiErr.StatusCode, apiErr.Message, err)
		}
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(clip) == 0 {
		return nil, fmt.Errorf("openai tts: empty audio body")
	}
	return clip, nil
}

// buildParams fills the request with the provider defaults overridden by voice.
func (p *Provider) buildParams(text string, voice tts.VoiceProfile) oai.AudioSpeechNewParams {
	v := p.voice
	if voice.ID != "" {
		v = voice.ID
	}
	speed := p.speed
	if voice.SpeedFactor > 0 {
		speed = voice.SpeedFactor
	}
	return oai.AudioSpeechNewParams{
		Model: oai.SpeechModel(p.model),
		Voice: oai.AudioSpeechNewParamsVoice(v),
		Input: text,
		Speed: param.NewOpt(speed),
	}
}
