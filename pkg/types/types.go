// Package types defines the shared types used across Kurozu packages.
//
// They are the common vocabulary between the provider packages, the gateways,
// and the orchestrator. Each package keeps its own domain types; only the
// cross-cutting ones live here to avoid circular imports.
package types

import "fmt"

// Role identifies the author of a [Message] in a conversation history.
type Role string

const (
	// RoleSystem carries the stage instruction text. It only ever appears as
	// the first message of a history.
	RoleSystem Role = "system"

	// RoleUser carries text typed (or auto-submitted) by the player.
	RoleUser Role = "user"

	// RoleAssistant carries a reply produced by a chat provider.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is one of the three known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single turn in a conversation history. Messages are values;
// once appended to a history they are never modified.
type Message struct {
	Role    Role
	Content string
}

// ProviderChoice selects which of the two configured backends serves a
// request. The same enum selects both the chat backend and the speech
// backend; the meaning of each slot is decided by configuration.
type ProviderChoice int

const (
	// ProviderA is the primary backend (OpenAI by default).
	ProviderA ProviderChoice = iota

	// ProviderB is the secondary backend (Gemini for chat, Google Cloud
	// Text-to-Speech for speech by default).
	ProviderB
)

// String returns the lower-case slot label ("a" or "b").
func (p ProviderChoice) String() string {
	switch p {
	case ProviderA:
		return "a"
	case ProviderB:
		return "b"
	default:
		return fmt.Sprintf("ProviderChoice(%d)", int(p))
	}
}

// ParseProviderChoice converts a slot label into a [ProviderChoice]. Both
// "a"/"b" and "A"/"B" are accepted.
func ParseProviderChoice(s string) (ProviderChoice, error) {
	switch s {
	case "a", "A":
		return ProviderA, nil
	case "b", "B":
		return ProviderB, nil
	}
	return 0, fmt.Errorf("types: unknown provider choice %q", s)
}
