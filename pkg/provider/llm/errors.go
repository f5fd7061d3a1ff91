package llm

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a backend answers successfully but the
// reply text cannot be found at the expected field path.
var ErrMalformedResponse = errors.New("llm: malformed response")

// ProviderError is an error object reported by the backend in its response
// body (for example Gemini's {"error": {...}} envelope or an OpenAI API error).
type ProviderError struct {
	// Provider is the backend name, e.g. "openai" or "gemini".
	Provider string

	// Code is the HTTP or backend-specific numeric code. Zero if absent.
	Code int

	// Status is the symbolic status or error type, e.g. "INVALID_ARGUMENT".
	Status string

	// Message is the human-readable message reported by the backend.
	Message string
}

// Error implements error.
func (e *ProviderError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("llm: %s reported error %d (%s): %s", e.Provider, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("llm: %s reported error %d: %s", e.Provider, e.Code, e.Message)
}
