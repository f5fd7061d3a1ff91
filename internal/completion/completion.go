// Package completion recognises the end of a quiz stage from the assistant's
// own reply text.
//
// Each stage has one literal sentinel phrase. A reply completes a stage only
// when it contains that stage's sentinel; the other stage's sentinel is
// ignored.
package completion

import (
	"strings"

	"github.com/MrWong99/kurozu/internal/session"
)

// Default sentinel phrases.
const (
	Stage1Sentinel = "これでクイズ1は終了だ"
	Stage2Sentinel = "これでクイズ2は終了だ"
)

// Detector matches replies against per-stage sentinels. It is immutable and
// safe for concurrent use.
type Detector struct {
	sentinels map[session.StageID]string
}

// Option configures a Detector.
type Option func(*Detector)

// WithSentinel overrides the sentinel of one stage. An empty phrase disables
// completion detection for that stage.
func WithSentinel(stage session.StageID, phrase string) Option {
	return func(d *Detector) {
		d.sentinels[stage] = phrase
	}
}

// New returns a Detector with the default sentinels.
func New(opts ...Option) *Detector {
	d := &Detector{sentinels: map[session.StageID]string{
		session.Stage1: Stage1Sentinel,
		session.Stage2: Stage2Sentinel,
	}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Check reports whether reply contains the sentinel of stage.
func (d *Detector) Check(stage session.StageID, reply string) bool {
	s := d.sentinels[stage]
	return s != "" && strings.Contains(reply, s)
}

// Sentinel returns the phrase configured for stage.
func (d *Detector) Sentinel(stage session.StageID) string {
	return d.sentinels[stage]
}
