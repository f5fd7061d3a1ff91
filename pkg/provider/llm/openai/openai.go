// Package openai provides an LLM provider backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/kurozu/pkg/provider/llm"
	"github.com/MrWong99/kurozu/pkg/types"
)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how many times the SDK retries a failed request.
// Negative values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI chat Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, &llm.ProviderError{
				Provider: "openai",
				Code:     apiErr.StatusCode,
				Status:   apiErr.Type,
				Message:  apiErr.Message,
			}
		}
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices: %w", llm.ErrMalformedResponse)
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, fmt.Errorf("openai: empty message content: %w", llm.ErrMalformedResponse)
	}
	return &llm.CompletionResponse{Content: content}, nil
}

// buildParams converts a CompletionRequest into OpenAI SDK params. The history
// is forwarded verbatim, one message param per turn.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: no messages")
	}

	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    messages,
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

// convertMessage converts a types.Message to an OpenAI SDK message param.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case types.RoleUser:
		return oai.UserMessage(m.Content), nil

	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Content)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
