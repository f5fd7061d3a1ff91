// Package oto implements audio.Player on the local sound device using
// ebitengine/oto. Clips are MP3, decoded and resampled to the device rate
// before playback.
package oto

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/kurozu/pkg/audio"
)

// DefaultSampleRate matches the rate of OpenAI speech output, so the common
// case needs no resampling.
const DefaultSampleRate = 24000

// pollInterval is how often a playing clip is checked for completion. oto
// exposes no end-of-stream callback.
const pollInterval = 20 * time.Millisecond

// Player plays clips on the default output device. Only one oto context may
// exist per process, so construct one Player and share it.
type Player struct {
	ctx        *oto.Context
	sampleRate int

	mu      sync.Mutex
	current *playback
	closed  bool
}

var _ audio.Player = (*Player)(nil)

// playback tracks one clip on the device.
type playback struct {
	player *oto.Player
	done   chan error
	once   sync.Once
	stop   chan struct{}
}

// finish reports err exactly once and releases the device player.
func (pb *playback) finish(err error) {
	pb.once.Do(func() {
		close(pb.stop)
		pb.player.Pause()
		if cerr := pb.player.Close(); cerr != nil {
			slog.Debug("oto: close player", "err", cerr)
		}
		pb.done <- err
		close(pb.done)
	})
}

// New opens the output device at sampleRate (stereo, signed 16-bit). A
// non-positive rate selects [DefaultSampleRate].
func New(sampleRate int) (*Player, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: open device: %w", err)
	}
	<-ready
	return &Player{ctx: ctx, sampleRate: sampleRate}, nil
}

// Play implements audio.Player.
func (p *Player) Play(clip []byte) (<-chan error, error) {
	pcm, err := audio.DecodeMP3(clip)
	if err != nil {
		return nil, err
	}
	data := audio.ResampleStereo16(pcm.Data, pcm.SampleRate, p.sampleRate)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("oto: player closed")
	}
	if prev := p.current; prev != nil {
		prev.finish(audio.ErrSuperseded)
	}
	pb := &playback{
		player: p.ctx.NewPlayer(bytes.NewReader(data)),
		done:   make(chan error, 1),
		stop:   make(chan struct{}),
	}
	p.current = pb
	pb.player.Play()
	p.mu.Unlock()

	go p.watch(pb)
	return pb.done, nil
}

// watch reports completion once the device has drained the clip.
func (p *Player) watch(pb *playback) {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-pb.stop:
			return
		case <-t.C:
			if pb.player.IsPlaying() {
				continue
			}
			pb.finish(pb.player.Err())
			p.mu.Lock()
			if p.current == pb {
				p.current = nil
			}
			p.mu.Unlock()
			return
		}
	}
}

// Close implements audio.Player.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.current != nil {
		p.current.finish(audio.ErrSuperseded)
		p.current = nil
	}
	return p.ctx.Suspend()
}
