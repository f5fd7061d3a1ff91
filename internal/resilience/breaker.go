// Package resilience protects the gateways from hammering a backend that keeps
// failing.
//
// A [Breaker] counts consecutive failures of one backend. Once the count
// reaches the configured threshold it opens and rejects calls with
// [ErrCircuitOpen] for a cool-down period; afterwards a single probe call is
// let through, whose outcome closes or re-opens the breaker. A rejected call
// fails immediately, which the gateways report like any other failure, so the
// player sees the apology line without waiting on a dead backend.
//
// All methods are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cool-down has elapsed.
	StateOpen

	// StateProbing lets exactly one call through to test the backend.
	StateProbing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker].
type Config struct {
	// Name labels the breaker in logs, e.g. "chat/a".
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long the breaker stays open. Default: 20s.
	Cooldown time.Duration

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// Breaker is a consecutive-failure circuit breaker for one backend.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New returns a closed Breaker. Zero config fields take their defaults.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 20 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		now:       cfg.Now,
	}
}

// Execute runs fn unless the breaker rejects the call, in which case it
// returns [ErrCircuitOpen] without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// acquire decides whether a call may proceed.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = StateProbing
		b.probing = true
		slog.Info("breaker probing backend", "name", b.name)
		return nil
	case StateProbing:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

// record updates the failure count with the outcome of a call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			slog.Info("breaker closed", "name", b.name)
		}
		b.state = StateClosed
		b.failures = 0
		b.probing = false
		return
	}

	b.failures++
	if b.state == StateProbing || b.failures >= b.threshold {
		if b.state != StateOpen {
			slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
		}
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateProbing]; the switch itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateProbing
	}
	return b.state
}
