// Package gemini provides an LLM provider backed by the Gemini
// generateContent REST endpoint.
//
// The API key travels as the "key" query parameter. The System message of a
// history becomes the request's systemInstruction and every remaining turn is
// forwarded, with the assistant role renamed to "model".
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/kurozu/pkg/provider/llm"
	"github.com/MrWong99/kurozu/pkg/types"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// replyPath is the gjson path of the reply text in a generateContent response.
	replyPath = "candidates.0.content.parts.0.text"
)

// Provider implements llm.Provider using the Gemini REST API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTimeout sets a per-request HTTP timeout on the default client.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient = &http.Client{Timeout: d}
	}
}

// New constructs a Gemini Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini: model must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ── Wire format ──────────────────────────────────────────────────────────────

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// buildRequest converts a CompletionRequest into the Gemini request body.
func buildRequest(req llm.CompletionRequest) (*geminiRequest, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("gemini: no messages")
	}

	out := &geminiRequest{
		GenerationConfig: &geminiGenConfig{
			Temperature:     &req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	msgs := req.Messages
	if msgs[0].Role == types.RoleSystem {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msgs[0].Content}}}
		msgs = msgs[1:]
	}

	out.Contents = make([]geminiContent, 0, len(msgs))
	for i, m := range msgs {
		var role string
		switch m.Role {
		case types.RoleUser:
			role = "user"
		case types.RoleAssistant:
			role = "model"
		default:
			return nil, fmt.Errorf("gemini: unexpected %q message at position %d", m.Role, i)
		}
		out.Contents = append(out.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	return out, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body, err := buildRequest(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(p.model), url.QueryEscape(p.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	return parseResponse(resp.StatusCode, raw)
}

// parseResponse extracts the reply text. A reported error object takes
// precedence over the HTTP status; a missing text field is malformed.
func parseResponse(status int, raw []byte) (*llm.CompletionResponse, error) {
	if !gjson.ValidBytes(raw) {
		if status >= http.StatusBadRequest {
			return nil, &llm.ProviderError{Provider: "gemini", Code: status, Message: http.StatusText(status)}
		}
		return nil, fmt.Errorf("gemini: response is not JSON: %w", llm.ErrMalformedResponse)
	}

	if e := gjson.GetBytes(raw, "error"); e.Exists() {
		code := int(e.Get("code").Int())
		if code == 0 {
			code = status
		}
		return nil, &llm.ProviderError{
			Provider: "gemini",
			Code:     code,
			Status:   e.Get("status").String(),
			Message:  e.Get("message").String(),
		}
	}
	if status >= http.StatusBadRequest {
		return nil, &llm.ProviderError{Provider: "gemini", Code: status, Message: http.StatusText(status)}
	}

	text := gjson.GetBytes(raw, replyPath)
	if !text.Exists() || text.Type != gjson.String {
		return nil, fmt.Errorf("gemini: %s missing: %w", replyPath, llm.ErrMalformedResponse)
	}
	return &llm.CompletionResponse{Content: text.String()}, nil
}
