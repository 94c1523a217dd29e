// Package process implements the durable process lifecycle: spawn,
// progress/result updates, listeners, heartbeats and expiry.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/pkg/models"
)

// Runner executes a process body. The returned content becomes the success
// result; a returned error becomes a failure (or a stopped result when the
// error is a stop error).
type Runner interface {
	Run(ctx context.Context, h *Handle) (json.RawMessage, error)
}

// Sigtermer overrides the default sigterm behavior. The default assigns
// Stopped{stopped} and lets the run context unwind.
type Sigtermer interface {
	OnSigterm(ctx context.Context, h *Handle)
}

// Restartable marks a runner that can survive a sigterm and resume on the
// next supervisor. No supervisor calls it yet; sigterm always stops.
type Restartable interface {
	OnRestart(ctx context.Context, h *Handle) error
}

// Handle is the in-memory face of one process: the live status record, its
// listeners, and the signals its runner watches. All status mutation goes
// through sendUpdate, which enforces result monotonicity.
type Handle struct {
	uri ids.ProcessURI

	mu        sync.Mutex
	status    *models.ProcessStatus
	listeners map[*Listener]struct{}

	// sigterm is set when the supervisor shuts down; runners may watch it.
	sigterm *signals.Flag
	// finished is set once the result is assigned.
	finished *signals.Flag

	store kv.Store
	log   *slog.Logger
	now   func() time.Time
}

func newHandle(uri ids.ProcessURI, status *models.ProcessStatus, store kv.Store, now func() time.Time) *Handle {
	return &Handle{
		uri:       uri,
		status:    status,
		listeners: make(map[*Listener]struct{}),
		sigterm:   signals.NewFlag(),
		finished:  signals.NewFlag(),
		store:     store,
		log:       slog.With("component", "process", "uri", uri.String()),
		now:       now,
	}
}

// URI returns the process's hierarchical identifier.
func (h *Handle) URI() ids.ProcessURI { return h.uri }

// Status returns a snapshot copy of the current status.
func (h *Handle) Status() *models.ProcessStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status.Clone()
}

// Finished reports whether a terminal result has been assigned.
func (h *Handle) Finished() bool { return h.finished.IsSet() }

// Sigterm returns the flag set when the supervisor delivers SIGTERM.
func (h *Handle) Sigterm() *signals.Flag { return h.sigterm }

// Listen registers a new listener. The caller must Unlisten when done.
// A listener registered after the result was assigned sees it immediately.
func (h *Handle) Listen() *Listener {
	l := newListener()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[l] = struct{}{}
	if h.status.Result != nil {
		l.notify(true)
	}
	return l
}

// Unlisten removes a listener.
func (h *Handle) Unlisten(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, l)
}

// SendProgress appends one progress item and notifies listeners.
func (h *Handle) SendProgress(ctx context.Context, progress json.RawMessage) error {
	return h.sendUpdate(ctx, []json.RawMessage{progress}, nil)
}

// SendResult assigns the terminal result. Fails when one is already set.
func (h *Handle) SendResult(ctx context.Context, result *models.ProcessResult) error {
	return h.sendUpdate(ctx, nil, result)
}

// sendUpdate is the single mutation path: it rejects updates after a
// result, stamps updatedAt, persists the status, and notifies listeners
// only when the status content actually changed.
func (h *Handle) sendUpdate(ctx context.Context, progress []json.RawMessage, result *models.ProcessResult) error {
	h.mu.Lock()
	if h.status.Result != nil {
		h.mu.Unlock()
		return ndperr.UpdateAfterResultError(h.uri.String())
	}
	changed := len(progress) > 0 || result != nil
	h.status.Progress = append(h.status.Progress, progress...)
	h.status.Result = result
	h.status.UpdatedAt = h.now().UTC()
	snapshot := h.status.Clone()
	var notified []*Listener
	if changed {
		for l := range h.listeners {
			notified = append(notified, l)
		}
	}
	h.mu.Unlock()

	if err := kv.SetTyped(ctx, h.store, kv.ProcessStatusKey(h.uri.String()), snapshot, kv.TTLStatus); err != nil {
		return fmt.Errorf("process: persist status: %w", err)
	}
	for _, l := range notified {
		l.notify(result != nil)
	}
	if result != nil {
		h.finished.Set()
	}
	return nil
}

// Touch refreshes updatedAt without notifying listeners. The heartbeat
// uses it so an active process is never mistaken for an expired one.
func (h *Handle) Touch(ctx context.Context) error {
	h.mu.Lock()
	if h.status.Result != nil {
		h.mu.Unlock()
		return nil
	}
	h.status.UpdatedAt = h.now().UTC()
	snapshot := h.status.Clone()
	h.mu.Unlock()
	return kv.SetTyped(ctx, h.store, kv.ProcessStatusKey(h.uri.String()), snapshot, kv.TTLStatus)
}

// stop assigns a stopped result unless a result already exists. Used by
// sigkill, sigterm and expiry; losing the race to a real result is fine.
func (h *Handle) stop(ctx context.Context, reason models.StopReason) {
	err := h.SendResult(ctx, models.NewStopped(reason))
	if err == nil {
		return
	}
	if e, ok := ndperr.As(err); ok && e.Name == ndperr.BadProcessUpdateAfterResult {
		return
	}
	h.log.Warn("failed to assign stopped result", "error", err)
}

// deliverSigterm runs the shutdown protocol for this process: the custom
// OnSigterm when the runner provides one, otherwise assign Stopped{stopped}.
func (h *Handle) deliverSigterm(ctx context.Context, runner Runner) {
	h.sigterm.Set()
	if st, ok := runner.(Sigtermer); ok {
		st.OnSigterm(ctx, h)
		return
	}
	h.stop(ctx, models.StopReasonStopped)
}
