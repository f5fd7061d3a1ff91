// Package mock provides an in-memory test double for [audio.Player].
//
// By default every clip finishes as soon as it starts. Set Manual to keep
// clips playing until the test calls [Player.Finish].
package mock

import (
	"sync"

	"github.com/MrWong99/kurozu/pkg/audio"
)

// Player is a mock implementation of [audio.Player]. It is safe for
// concurrent use.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned synchronously by Play.
	PlayErr error

	// EndErr is delivered on the completion channel of auto-finished clips.
	EndErr error

	// Manual keeps clips playing until Finish is called.
	Manual bool

	// Clips records every clip passed to Play, in order.
	Clips [][]byte

	// CloseCalls counts Close invocations.
	CloseCalls int

	pending chan error
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(clip []byte) (<-chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Clips = append(p.Clips, clip)
	if p.PlayErr != nil {
		return nil, p.PlayErr
	}
	if p.pending != nil {
		p.pending <- audio.ErrSuperseded
		close(p.pending)
		p.pending = nil
	}
	if !p.Manual {
		return audio.Finished(p.EndErr), nil
	}
	ch := make(chan error, 1)
	p.pending = ch
	return ch, nil
}

// Finish completes the clip currently playing with err. It reports false when
// nothing is playing.
func (p *Player) Finish(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return false
	}
	p.pending <- err
	close(p.pending)
	p.pending = nil
	return true
}

// PlayCount returns the number of Play invocations.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Clips)
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	return nil
}
