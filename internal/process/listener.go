package process

import (
	"time"

	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/signals"
)

// Listener is one subscription to a process's status changes. Progress is
// edge-triggered (a successful wait consumes the mark); the result is
// level-triggered (set once, stays set).
type Listener struct {
	hasProgress *signals.Edge
	hasResult   *signals.Flag
}

func newListener() *Listener {
	return &Listener{
		hasProgress: signals.NewEdge(),
		hasResult:   signals.NewFlag(),
	}
}

// notify is called by the handle after every status change.
func (l *Listener) notify(result bool) {
	l.hasProgress.Fire()
	if result {
		l.hasResult.Set()
	}
}

// HasResult reports whether the process has finished.
func (l *Listener) HasResult() bool { return l.hasResult.IsSet() }

// ClearProgress drops any unconsumed progress mark, typically after the
// consumer has drained the status snapshot.
func (l *Listener) ClearProgress() { l.hasProgress.Clear() }

// WaitProgress blocks until new progress arrives or the timeout elapses.
// It returns true when progress fired and false on timeout. When the
// process-wide stopping signal is set it fails with a stop error instead,
// so pollers unwind during shutdown.
func (l *Listener) WaitProgress(timeout time.Duration, stop *signals.Stopping) (bool, error) {
	fired, stopped := l.hasProgress.Wait(timeout, stop)
	if stopped {
		return false, ndperr.Stopped(ndperr.ReasonTimeout)
	}
	return fired, nil
}

// WaitResult blocks until the process finishes. It never times out; only
// the stopping signal interrupts it.
func (l *Listener) WaitResult(stop *signals.Stopping) error {
	var stopCh <-chan struct{}
	if stop != nil {
		stopCh = stop.Chan()
	}
	select {
	case <-l.hasResult.Chan():
		return nil
	case <-stopCh:
		return ndperr.Stopped(ndperr.ReasonTimeout)
	}
}

// ResultChan exposes the level-triggered result channel for select loops
// that multiplex several listeners.
func (l *Listener) ResultChan() <-chan struct{} { return l.hasResult.Chan() }
