// Package assets loads the static files a playthrough needs, once, at
// startup: the two stage instruction documents, the avatar that decorates
// every assistant turn, and the door sound cue.
//
// Instructions are required and a missing file fails the load. The avatar
// and the cue are optional; without them turns are shown undecorated and the
// cue is silent.
package assets

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/MrWong99/kurozu/internal/session"
)

// ErrEmptyInstructions is returned when an instruction file holds only
// whitespace.
var ErrEmptyInstructions = errors.New("assets: instruction file is empty")

// Paths locates the asset files. Empty optional paths are skipped.
type Paths struct {
	Stage1Instructions string
	Stage2Instructions string
	Avatar             string
	DoorCue            string
}

// Bundle is the loaded, immutable asset set.
type Bundle struct {
	Instructions map[session.StageID]string

	Avatar     []byte
	AvatarType string

	DoorCue []byte
}

// Load reads every asset named in p.
func Load(p Paths) (*Bundle, error) {
	b := &Bundle{Instructions: make(map[session.StageID]string, 2)}

	var errs []error
	for stage, path := range map[session.StageID]string{
		session.Stage1: p.Stage1Instructions,
		session.Stage2: p.Stage2Instructions,
	} {
		text, err := readInstructions(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", stage, err))
			continue
		}
		b.Instructions[stage] = text
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}

	var err error
	if b.Avatar, err = readOptional(p.Avatar); err != nil {
		return nil, fmt.Errorf("assets: avatar: %w", err)
	}
	if len(b.Avatar) > 0 {
		b.AvatarType = http.DetectContentType(b.Avatar)
	}
	if b.DoorCue, err = readOptional(p.DoorCue); err != nil {
		return nil, fmt.Errorf("assets: door cue: %w", err)
	}

	slog.Info("assets loaded",
		"stage1_instructions", len(b.Instructions[session.Stage1]),
		"stage2_instructions", len(b.Instructions[session.Stage2]),
		"avatar", len(b.Avatar) > 0,
		"door_cue", len(b.DoorCue) > 0,
	)
	return b, nil
}

func readInstructions(path string) (string, error) {
	if path == "" {
		return "", errors.New("no instruction file configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyInstructions, path)
	}
	return text, nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

// Check reports whether the bundle can seed both stages. It backs the
// readiness probe.
func (b *Bundle) Check() error {
	if b == nil {
		return errors.New("assets: not loaded")
	}
	for _, id := range session.Stages {
		if b.Instructions[id] == "" {
			return fmt.Errorf("assets: %s instructions missing", id)
		}
	}
	return nil
}
