package gateway

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/kurozu/internal/observe"
	"github.com/MrWong99/kurozu/internal/resilience"
	"github.com/MrWong99/kurozu/pkg/provider/tts"
	"github.com/MrWong99/kurozu/pkg/types"
)

// DefaultSpeechTimeout bounds one synthesis call.
const DefaultSpeechTimeout = 10 * time.Second

type speechBackend struct {
	name     string
	provider tts.Provider
	voice    tts.VoiceProfile
	breaker  *resilience.Breaker
}

// Speech is the speech synthesis gateway. It is safe for concurrent use.
type Speech struct {
	backends map[types.ProviderChoice]speechBackend
	timeout  time.Duration
	metrics  *observe.Metrics
}

// SpeechOption configures a [Speech].
type SpeechOption func(*Speech)

// WithSpeechTimeout bounds one call. Default: 10s.
func WithSpeechTimeout(d time.Duration) SpeechOption {
	return func(s *Speech) { s.timeout = d }
}

// WithSpeechMetrics records calls on m. Default: [observe.DefaultMetrics].
func WithSpeechMetrics(m *observe.Metrics) SpeechOption {
	return func(s *Speech) { s.metrics = m }
}

// WithSpeechBackend installs provider in slot with a default voice. breaker
// may be nil.
func WithSpeechBackend(slot types.ProviderChoice, name string, provider tts.Provider, voice tts.VoiceProfile, breaker *resilience.Breaker) SpeechOption {
	return func(s *Speech) {
		s.backends[slot] = speechBackend{name: name, provider: provider, voice: voice, breaker: breaker}
	}
}

// NewSpeech returns a speech gateway. Slots without a backend behave like
// [tts.Unconfigured].
func NewSpeech(opts ...SpeechOption) *Speech {
	s := &Speech{
		backends: make(map[types.ProviderChoice]speechBackend, 2),
		timeout:  DefaultSpeechTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Synthesize returns an encoded clip for text. ok is false on any failure,
// including the timeout, and the call returns no later than the timeout
// even if the backend ignores cancellation.
func (s *Speech) Synthesize(ctx context.Context, slot types.ProviderChoice, text string) (clip []byte, ok bool) {
	ctx, span := observe.StartSpan(ctx, "gateway.speech",
		attribute.String("provider", slot.String()),
		attribute.Int("runes", len([]rune(text))),
	)
	start := time.Now()

	clip, err := s.synthesize(ctx, slot, text)
	observe.EndSpan(span, err)

	reason := Classify(err)
	s.metrics.RecordProviderCall(ctx, "speech", slot.String(), reason, time.Since(start))
	if err != nil {
		observe.Logger(ctx).Warn("speech synthesis failed; continuing without audio",
			"provider", slot.String(), "reason", reason, "err", err)
		return nil, false
	}
	return clip, true
}

type synthResult struct {
	clip []byte
	err  error
}

func (s *Speech) synthesize(ctx context.Context, slot types.ProviderChoice, text string) ([]byte, error) {
	b, ok := s.backends[slot]
	if !ok {
		b = speechBackend{name: "none", provider: tts.Unconfigured{Name: slot.String()}}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan synthResult, 1)
	go func() {
		var clip []byte
		call := func() error {
			var err error
			clip, err = b.provider.Synthesize(ctx, text, b.voice)
			return err
		}
		var err error
		if b.breaker != nil {
			err = b.breaker.Execute(call)
		} else {
			err = call()
		}
		done <- synthResult{clip: clip, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("speech %s (%s): %w", slot, b.name, r.err)
		}
		if len(r.clip) == 0 {
			return nil, fmt.Errorf("speech %s (%s): empty clip", slot, b.name)
		}
		return r.clip, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("speech %s (%s): %w", slot, b.name, ctx.Err())
	}
}
