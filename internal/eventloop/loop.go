// Package eventloop runs application state changes on one logical thread.
//
// Every mutation of orchestrator state happens inside a task executed by
// [Loop.Run]. Blocking work (network calls, synthesis, playback) runs on
// ordinary goroutines started with [Loop.Spawn] and hands its continuation
// back to the loop, so callbacks never race each other.
//
// Delayed tasks belong to a [Scope]. Closing the scope cancels every task it
// still holds; a timer that already fired but whose task has not yet run is
// dropped as well, so nothing scheduled for a scope can run after Close.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned when work is handed to a loop that has finished.
var ErrStopped = errors.New("eventloop: stopped")

// Loop is a FIFO task queue drained by a single goroutine. The queue is
// unbounded so that posting from inside a task never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// New returns a Loop that is ready to accept tasks. Tasks posted before
// [Loop.Run] starts are kept and run in order once it does.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It reports false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from inside a loop task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spawn runs work on a new goroutine and posts the continuation it returns
// back onto the loop. A nil continuation is skipped.
func (l *Loop) Spawn(work func() func()) {
	go func() {
		next := work()
		if next == nil {
			return
		}
		if !l.Post(next) {
			slog.Debug("eventloop: continuation dropped after stop")
		}
	}()
}

// Run drains the queue until ctx is cancelled. Tasks still queued at that
// point are discarded. Run returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.run(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// run executes one task, keeping the loop alive if it panics.
func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("eventloop: task panicked", "panic", r)
		}
	}()
	fn()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// ── Scopes ──────────────────────────────────────────────────────────────────

// Scope groups delayed tasks that share a lifetime, typically one visit to a
// screen. Methods must be called from loop tasks.
type Scope struct {
	loop   *Loop
	name   string
	timers map[*time.Timer]struct{}
	closed bool
}

// NewScope returns an open scope on l. name appears in debug logs.
func (l *Loop) NewScope(name string) *Scope {
	return &Scope{loop: l, name: name, timers: make(map[*time.Timer]struct{})}
}

// After schedules fn to run on the loop after d, unless the scope is closed
// first. It reports false if the scope is already closed.
func (s *Scope) After(d time.Duration, fn func()) bool {
	if s.closed {
		return false
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.loop.Post(func() {
			if s.closed {
				return
			}
			delete(s.timers, t)
			fn()
		})
	})
	s.timers[t] = struct{}{}
	return true
}

// Guard wraps fn so that it becomes a no-op once the scope is closed. Use it
// for continuations of work started inside the scope.
func (s *Scope) Guard(fn func()) func() {
	return func() {
		if s.closed {
			slog.Debug("eventloop: stale continuation dropped", "scope", s.name)
			return
		}
		fn()
	}
}

// Close cancels all pending tasks. Closing twice is a no-op.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool { return s.closed }

// Pending returns the number of delayed tasks not yet run.
func (s *Scope) Pending() int { return len(s.timers) }

// Name returns the scope label.
func (s *Scope) Name() string { return s.name }
