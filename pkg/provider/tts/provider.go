// Package tts defines the Provider interface for speech synthesis backends.
//
// A provider turns one complete utterance into one encoded audio clip (MP3).
// The speech gateway bounds every call with a timeout and selects a backend
// by [types.ProviderChoice]; a slot without a working backend is filled with
// [Unconfigured], which fails every call instead of panicking.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by backends that have no credentials or no
// implementation for the selected slot.
var ErrNotConfigured = errors.New("tts: provider not configured")

// VoiceProfile selects the voice used for one synthesis call. Zero fields
// fall back to the backend's configured defaults.
type VoiceProfile struct {
	// ID is the backend-specific voice identifier, e.g. "ash" or "ja-JP-Neural2-C".
	ID string

	// SpeedFactor scales speaking rate. 1.0 is normal speed.
	SpeedFactor float64
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize converts text into one encoded audio clip. It blocks until
	// the clip is complete or ctx is done.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)
}

// Unconfigured is a Provider that fails every call with [ErrNotConfigured].
type Unconfigured struct {
	// Name labels the missing backend in error messages.
	Name string
}

var _ Provider = Unconfigured{}

// Synthesize implements Provider.
func (u Unconfigured) Synthesize(context.Context, string, VoiceProfile) ([]byte, error) {
	if u.Name == "" {
		return nil, ErrNotConfigured
	}
	return nil, fmt.Errorf("tts: %s backend: %w", u.Name, ErrNotConfigured)
}
