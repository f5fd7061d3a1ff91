// Package llm defines the Provider interface for chat-completion backends.
//
// A provider wraps one remote model API (OpenAI chat completions, Gemini
// generateContent) behind a single request/response call so that the
// response gateway can select a backend by [types.ProviderChoice] without
// coupling to any SDK or wire format.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation.
package llm

import (
	"context"

	"github.com/MrWong99/kurozu/pkg/types"
)

// CompletionRequest carries everything a backend needs to produce a reply.
type CompletionRequest struct {
	// Messages is the full conversation history. The first message is the
	// System instruction; the last is the User turn that drives the reply.
	// Backends must forward the whole sequence, not a trailing window.
	Messages []types.Message

	// Temperature controls output randomness.
	Temperature float64

	// MaxTokens caps the number of generated tokens. Zero leaves the choice
	// to the backend.
	MaxTokens int
}

// CompletionResponse is the reply produced by a backend.
type CompletionResponse struct {
	// Content is the reply text taken from the first candidate/choice.
	Content string
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and blocks until the backend answers or ctx is done.
	//
	// A well-formed reply that lacks the expected text field returns an error
	// wrapping [ErrMalformedResponse]. An error object reported by the backend
	// itself is returned as a [*ProviderError]. Transport failures are
	// returned wrapped as-is.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
