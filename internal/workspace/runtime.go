package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/pkg/models"
)

// reacquireInterval is how long a non-leader replica waits before trying
// for a workspace lock again.
const reacquireInterval = kv.TTLLockSecs * time.Second / 2

// Runtime runs supervisors for a set of workspaces on this replica,
// re-attempting lock acquisition whenever leadership is lost elsewhere.
type Runtime struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup
}

// NewRuntime creates a supervisor runtime.
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{
		cfg:    cfg,
		log:    slog.With("component", "workspace"),
		active: make(map[string]bool),
	}
}

// Serve keeps one acquisition loop alive per workspace. Calling it again
// for a workspace that already has a loop is a no-op.
func (r *Runtime) Serve(ctx context.Context, workspaces ...string) {
	for _, w := range workspaces {
		r.mu.Lock()
		if r.active[w] {
			r.mu.Unlock()
			continue
		}
		r.active[w] = true
		r.mu.Unlock()

		r.wg.Add(1)
		go func(workspace string) {
			defer r.wg.Done()
			r.serveOne(ctx, workspace)
		}(w)
	}
}

// Submit pushes a request for a workspace and makes sure an acquisition
// loop exists for it, so an unsupervised workspace gets a supervisor as a
// side effect of being addressed.
func (r *Runtime) Submit(ctx context.Context, workspace string, req models.WorkspaceRequest) (*Channel, error) {
	ch, err := Submit(ctx, r.cfg.Store, workspace, req)
	if err != nil {
		return nil, err
	}
	r.Serve(ctx, workspace)
	return ch, nil
}

// Wait blocks until every serve loop has exited.
func (r *Runtime) Wait() { r.wg.Wait() }

func (r *Runtime) serveOne(ctx context.Context, workspace string) {
	stop := r.cfg.Stop
	for stop == nil || !stop.IsSet() {
		sup, err := EnsureSupervisor(ctx, r.cfg, workspace)
		if err != nil {
			r.log.Error("supervisor acquisition failed", "workspace", workspace, "error", err)
		} else if sup != nil {
			sup.Run(ctx)
		}
		if stop != nil {
			select {
			case <-stop.Chan():
				return
			case <-time.After(reacquireInterval):
			}
		} else {
			time.Sleep(reacquireInterval)
		}
	}
}
