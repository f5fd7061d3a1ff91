// Package session owns the two per-stage conversation histories together
// with the player's backend selections.
//
// Each stage history starts with exactly one System message carrying the
// stage instruction text. After it, roles strictly alternate User, Assistant,
// User, ... and the [Manager] enforces this by construction: appending out of
// turn fails with [ErrOutOfTurn] and leaves the history untouched. Histories
// are only ever handed out as copies.
//
// All methods are safe for concurrent use.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/kurozu/pkg/types"
)

var (
	// ErrEmptyInput is returned by [Manager.AppendUser] when the text is empty
	// after trimming whitespace.
	ErrEmptyInput = errors.New("session: empty input")

	// ErrOutOfTurn is returned when an append would break role alternation.
	ErrOutOfTurn = errors.New("session: message out of turn")

	// ErrUnknownStage is returned for a stage identifier other than
	// [Stage1] or [Stage2].
	ErrUnknownStage = errors.New("session: unknown stage")

	// ErrNotSeeded is returned when appending to a stage that was never reset.
	ErrNotSeeded = errors.New("session: stage not seeded")
)

// StageID identifies one of the two quiz stages.
type StageID int

const (
	// Stage1 is the first quiz.
	Stage1 StageID = iota + 1

	// Stage2 is the second quiz.
	Stage2
)

// Stages lists both stages in play order.
var Stages = []StageID{Stage1, Stage2}

// String returns "stage1" or "stage2".
func (s StageID) String() string {
	switch s {
	case Stage1:
		return "stage1"
	case Stage2:
		return "stage2"
	default:
		return fmt.Sprintf("StageID(%d)", int(s))
	}
}

// ParseStage converts "stage1"/"stage2" (or "1"/"2") into a StageID.
func ParseStage(s string) (StageID, error) {
	switch s {
	case "stage1", "1":
		return Stage1, nil
	case "stage2", "2":
		return Stage2, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, s)
}

// Valid reports whether s is a known stage.
func (s StageID) Valid() bool { return s == Stage1 || s == Stage2 }

// TTSConfig is the speech setting of one stage.
type TTSConfig struct {
	// Enabled turns synthesis on for assistant turns of the stage.
	Enabled bool

	// Provider selects the speech backend.
	Provider types.ProviderChoice
}

// stage is the mutable state of one stage.
type stage struct {
	messages  []types.Message
	completed bool
	tts       TTSConfig
	// epoch increments on every reset so that late replies for a discarded
	// history can be recognised.
	epoch uint64
}

// Manager holds both stage sessions and the global chat backend choice.
type Manager struct {
	mu       sync.Mutex
	stages   map[StageID]*stage
	provider types.ProviderChoice
}

// New returns a Manager with both stages unseeded, TTS enabled on
// [types.ProviderA], and chat on [types.ProviderA].
func New() *Manager {
	m := &Manager{stages: make(map[StageID]*stage, len(Stages))}
	for _, id := range Stages {
		m.stages[id] = &stage{tts: TTSConfig{Enabled: true, Provider: types.ProviderA}}
	}
	return m
}

func (m *Manager) get(id StageID) (*stage, error) {
	st, ok := m.stages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, int(id))
	}
	return st, nil
}

// Reset discards the stage history and reseeds it with a single System
// message holding instruction. The completion flag and TTS setting are kept.
// It returns the new epoch of the stage.
func (m *Manager) Reset(id StageID, instruction string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.get(id)
	if err != nil {
		return 0, err
	}
	st.messages = []types.Message{{Role: types.RoleSystem, Content: instruction}}
	st.epoch++
	return st.epoch, nil
}

// AppendUser appends a User message with the trimmed text. Whitespace-only
// text returns [ErrEmptyInput] without mutating the history.
func (m *Manager) AppendUser(id StageID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	return m.append(id, types.Message{Role: types.RoleUser, Content: text})
}

// AppendAssistant appends an Assistant message. It fails with [ErrOutOfTurn]
// unless the last message is a User message.
func (m *Manager) AppendAssistant(id StageID, text string) error {
	return m.append(id, types.Message{Role: types.RoleAssistant, Content: text})
}

func (m *Manager) append(id StageID, msg types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.get(id)
	if err != nil {
		return err
	}
	if len(st.messages) == 0 {
		return fmt.Errorf("%w: %s", ErrNotSeeded, id)
	}
	last := st.messages[len(st.messages)-1].Role
	switch msg.Role {
	case types.RoleUser:
		if last == types.RoleUser {
			return fmt.Errorf("%w: %s expects an assistant reply", ErrOutOfTurn, id)
		}
	case types.RoleAssistant:
		if last != types.RoleUser {
			return fmt.Errorf("%w: %s has no pending user turn", ErrOutOfTurn, id)
		}
	}
	st.messages = append(st.messages, msg)
	return nil
}

// History returns a copy of the stage history.
func (m *Manager) History(id StageID) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.get(id)
	if err != nil {
		return nil
	}
	out := make([]types.Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// Epoch returns the number of times the stage has been reset.
func (m *Manager) Epoch(id StageID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, err := m.get(id); err == nil {
		return st.epoch
	}
	return 0
}

// Completed reports whether the stage's completion sentinel has been seen.
func (m *Manager) Completed(id StageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, err := m.get(id); err == nil {
		return st.completed
	}
	return false
}

// SetCompleted sets the completion flag of the stage.
func (m *Manager) SetCompleted(id StageID, done bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, err := m.get(id); err == nil {
		st.completed = done
	}
}

// TTS returns the speech setting of the stage.
func (m *Manager) TTS(id StageID) TTSConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, err := m.get(id); err == nil {
		return st.tts
	}
	return TTSConfig{}
}

// SetTTS replaces the speech setting of the stage.
func (m *Manager) SetTTS(id StageID, cfg TTSConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, err := m.get(id); err == nil {
		st.tts = cfg
	}
}

// Provider returns the chat backend used for new requests.
func (m *Manager) Provider() types.ProviderChoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

// SetProvider changes the chat backend. Requests already sent are unaffected.
func (m *Manager) SetProvider(p types.ProviderChoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider = p
}
