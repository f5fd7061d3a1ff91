package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/kurozu/pkg/provider/llm"
	"github.com/MrWong99/kurozu/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	chat   map[string]func(ProviderEntry) (llm.Provider, error)
	speech map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		chat:   make(map[string]func(ProviderEntry) (llm.Provider, error)),
		speech: make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterChat registers a chat provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterChat(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[name] = factory
}

// RegisterSpeech registers a speech provider factory under name.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// CreateChat instantiates a chat provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateChat(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.chat[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: chat/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSpeech instantiates a speech provider using the factory registered
// under entry.Name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names of kind ("chat" or "speech").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch kind {
	case "chat":
		for n := range r.chat {
			out = append(out, n)
		}
	case "speech":
		for n := range r.speech {
			out = append(out, n)
		}
	}
	return out
}

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptFloat extracts a numeric value from a provider Options map. YAML
// integers are accepted. Returns 0 when absent.
func OptFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
