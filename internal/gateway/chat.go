package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/kurozu/internal/observe"
	"github.com/MrWong99/kurozu/internal/resilience"
	"github.com/MrWong99/kurozu/pkg/provider/llm"
	"github.com/MrWong99/kurozu/pkg/types"
)

// Default chat request parameters.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultChatTimeout = 60 * time.Second
)

// backend is one installed provider slot.
type chatBackend struct {
	name     string
	provider llm.Provider
	breaker  *resilience.Breaker
}

// Chat is the response gateway. It is safe for concurrent use.
type Chat struct {
	backends    map[types.ProviderChoice]chatBackend
	temperature float64
	maxTokens   int
	timeout     time.Duration
	metrics     *observe.Metrics
}

// ChatOption configures a [Chat].
type ChatOption func(*Chat)

// WithTemperature sets the sampling temperature. Default: 0.7.
func WithTemperature(t float64) ChatOption {
	return func(c *Chat) { c.temperature = t }
}

// WithMaxTokens caps reply length. Default: 1000.
func WithMaxTokens(n int) ChatOption {
	return func(c *Chat) { c.maxTokens = n }
}

// WithChatTimeout bounds one request. Default: 60s.
func WithChatTimeout(d time.Duration) ChatOption {
	return func(c *Chat) { c.timeout = d }
}

// WithChatMetrics records calls on m. Default: [observe.DefaultMetrics].
func WithChatMetrics(m *observe.Metrics) ChatOption {
	return func(c *Chat) { c.metrics = m }
}

// WithChatBackend installs provider in slot. name labels the backend in logs.
// breaker may be nil to call the backend unguarded.
func WithChatBackend(slot types.ProviderChoice, name string, provider llm.Provider, breaker *resilience.Breaker) ChatOption {
	return func(c *Chat) {
		c.backends[slot] = chatBackend{name: name, provider: provider, breaker: breaker}
	}
}

// NewChat returns a response gateway. Slots without a backend fail every
// call with reason "not_configured".
func NewChat(opts ...ChatOption) *Chat {
	c := &Chat{
		backends:    make(map[types.ProviderChoice]chatBackend, 2),
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		timeout:     DefaultChatTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Configured reports whether slot has a backend.
func (c *Chat) Configured(slot types.ProviderChoice) bool {
	_, ok := c.backends[slot]
	return ok
}

// FetchReply sends the full history to the backend in slot and returns the
// reply text. ok is false on any failure; the cause has been logged.
func (c *Chat) FetchReply(ctx context.Context, slot types.ProviderChoice, history []types.Message) (reply string, ok bool) {
	ctx, span := observe.StartSpan(ctx, "gateway.chat",
		attribute.String("provider", slot.String()),
		attribute.Int("messages", len(history)),
	)
	start := time.Now()

	reply, err := c.fetch(ctx, slot, history)
	observe.EndSpan(span, err)

	reason := Classify(err)
	c.metrics.RecordProviderCall(ctx, "chat", slot.String(), reason, time.Since(start))
	if err != nil {
		c.logFailure(ctx, slot, reason, err)
		return "", false
	}
	return reply, true
}

func (c *Chat) fetch(ctx context.Context, slot types.ProviderChoice, history []types.Message) (string, error) {
	b, ok := c.backends[slot]
	if !ok {
		return "", fmt.Errorf("chat %s: %w", slot, ErrNotConfigured)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		Messages:    history,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var resp *llm.CompletionResponse
	call := func() error {
		var err error
		resp, err = b.provider.Complete(ctx, req)
		return err
	}

	var err error
	if b.breaker != nil {
		err = b.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("chat %s (%s): %w", slot, b.name, err)
	}
	if resp == nil {
		return "", fmt.Errorf("chat %s (%s): nil response: %w", slot, b.name, llm.ErrMalformedResponse)
	}
	return resp.Content, nil
}

// logFailure logs err with a message specific to its reason, so that a
// backend-reported error is distinguishable from a format problem.
func (c *Chat) logFailure(ctx context.Context, slot types.ProviderChoice, reason string, err error) {
	log := observe.Logger(ctx).With("provider", slot.String(), "reason", reason)
	if b, ok := c.backends[slot]; ok {
		log = log.With("backend", b.name)
	}

	var pe *llm.ProviderError
	switch {
	case errors.As(err, &pe):
		log.Error("chat backend reported an error",
			"code", pe.Code, "status", pe.Status, "message", pe.Message)
	case reason == ReasonMalformed:
		log.Error("chat response format error", "err", err)
	case reason == ReasonNotConfigured, reason == ReasonCircuitOpen:
		log.Warn("chat backend unavailable", "err", err)
	default:
		log.Error("chat request failed", "err", err)
	}
}
