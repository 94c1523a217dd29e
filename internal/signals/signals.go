// Package signals provides the cooperative cancellation primitives used by
// the NDP backend: a process-wide stopping signal and the edge/level
// triggered flags that process listeners are built from.
package signals

import (
	"sync"
	"time"
)

// Stopping is the process-wide shutdown signal. It is set exactly once (on
// SIGTERM or fatal error) and never cleared. Every blocking wait in the
// backend checks it so shutdown latency stays bounded.
type Stopping struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopping creates an unset stopping signal.
func NewStopping() *Stopping {
	return &Stopping{ch: make(chan struct{})}
}

// Set marks the signal. Safe to call more than once.
func (s *Stopping) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has been set.
func (s *Stopping) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Chan returns a channel closed when the signal is set.
func (s *Stopping) Chan() <-chan struct{} { return s.ch }

// Flag is a level-triggered signal: once set it stays set and every waiter
// observes it. Used for "result available" style conditions.
type Flag struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewFlag creates an unset flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Set marks the flag. Further Set calls are no-ops.
func (f *Flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set {
		f.set = true
		close(f.ch)
	}
}

// IsSet reports whether the flag is set.
func (f *Flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Chan returns a channel closed when the flag is set.
func (f *Flag) Chan() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

// Edge is an edge-triggered signal: Fire marks it, a successful Wait (or
// Clear) consumes the mark. Fires while already marked coalesce. Used for
// "has new progress" style conditions where the consumer drains state after
// each wakeup.
type Edge struct {
	mu    sync.Mutex
	ch    chan struct{}
	fired bool
}

// NewEdge creates an unfired edge signal.
func NewEdge() *Edge {
	return &Edge{ch: make(chan struct{}, 1)}
}

// Fire marks the edge. Coalesces with an existing unconsumed mark.
func (e *Edge) Fire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fired {
		return
	}
	e.fired = true
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Clear consumes any pending mark without waiting.
func (e *Edge) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired = false
	select {
	case <-e.ch:
	default:
	}
}

// Wait blocks until the edge fires, the timeout elapses, or stop is set.
// It returns (true, false) when the edge fired, (false, false) on timeout,
// and (false, true) when the stopping signal interrupted the wait. A fired
// edge is consumed by the successful wait.
func (e *Edge) Wait(timeout time.Duration, stop *Stopping) (fired, stopped bool) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var stopCh <-chan struct{}
	if stop != nil {
		stopCh = stop.Chan()
	}

	select {
	case <-e.ch:
		e.mu.Lock()
		e.fired = false
		e.mu.Unlock()
		return true, false
	case <-timeoutCh:
		return false, false
	case <-stopCh:
		return false, true
	}
}
