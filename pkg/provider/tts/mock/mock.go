// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Clip: []byte("mp3")}
//	clip, _ := p.Synthesize(ctx, "text", tts.VoiceProfile{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kurozu/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by Synthesize when Err is nil.
	Clip []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Hang makes Synthesize ignore ctx and block until Release is closed.
	// Use it to prove that callers enforce their own deadline.
	Hang bool

	// Release unblocks a hanging Synthesize when closed.
	Release chan struct{}

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Clip or Err.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	hang, release := p.Hang, p.Release
	clip, err := p.Clip, p.Err
	p.mu.Unlock()

	if hang {
		if release != nil {
			<-release
		} else {
			select {}
		}
	}
	if err != nil {
		return nil, err
	}
	return clip, nil
}

// Texts returns the text of every recorded call.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}
