// Package gateway puts the chat and speech backends behind two calls that
// never fail loudly.
//
// [Chat.FetchReply] and [Speech.Synthesize] select a backend by
// [types.ProviderChoice], guard it with a per-backend breaker, bound the call
// with a timeout, and convert every error into a plain failure result after
// logging and counting it with a reason. Callers only ever see "reply" or
// "no reply", "clip" or "no clip"; nothing propagates past this package.
package gateway

import (
	"context"
	"errors"

	"github.com/MrWong99/kurozu/internal/resilience"
	"github.com/MrWong99/kurozu/pkg/provider/llm"
	"github.com/MrWong99/kurozu/pkg/provider/tts"
)

// ErrNotConfigured is reported when no backend is installed for a slot.
var ErrNotConfigured = errors.New("gateway: no backend for provider slot")

// Failure reasons used in logs and metrics.
const (
	ReasonNotConfigured = "not_configured"
	ReasonCircuitOpen   = "circuit_open"
	ReasonTimeout       = "timeout"
	ReasonCanceled      = "canceled"
	ReasonProviderError = "provider_error"
	ReasonMalformed     = "malformed"
	ReasonNetwork       = "network"
)

// Classify maps an error from a backend call to a failure reason. Anything
// not recognised is treated as a transport failure.
func Classify(err error) string {
	var pe *llm.ProviderError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured), errors.Is(err, tts.ErrNotConfigured):
		return ReasonNotConfigured
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.As(err, &pe):
		return ReasonProviderError
	case errors.Is(err, llm.ErrMalformedResponse):
		return ReasonMalformed
	default:
		return ReasonNetwork
	}
}
