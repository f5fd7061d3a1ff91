// Package audio defines the playback abstraction used by the reveal pipeline
// together with the PCM helpers its device implementation needs.
//
// A [Player] owns a single output device and plays at most one clip at a
// time. Starting a new clip supersedes the one still playing, whose
// completion channel then reports [ErrSuperseded].
package audio

import "errors"

// ErrSuperseded is delivered on a clip's completion channel when a newer clip
// replaced it before it finished.
var ErrSuperseded = errors.New("audio: playback superseded")

// Player plays encoded clips on one output device.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play decodes clip and starts playback immediately. A decode or device
	// failure is returned synchronously and nothing is played.
	//
	// The returned channel receives exactly one value and is then closed: nil
	// when the clip played to its end, [ErrSuperseded] when a later Play
	// replaced it, or the device error that interrupted it.
	Play(clip []byte) (<-chan error, error)

	// Close stops any playback and releases the device.
	Close() error
}

// Finished returns a completion channel that already holds err. Players use
// it to report clips that end before they begin.
func Finished(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}

// ErrNoDevice is returned by [Silent] for every clip.
var ErrNoDevice = errors.New("audio: no output device")

// Silent is a Player for headless runs. Every Play fails with [ErrNoDevice],
// so callers fall back to their silent path.
type Silent struct{}

var _ Player = Silent{}

// Play implements Player.
func (Silent) Play([]byte) (<-chan error, error) { return nil, ErrNoDevice }

// Close implements Player.
func (Silent) Close() error { return nil }
