package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/pkg/models"
)

// pollTimeoutSecs is the supervisor's per-iteration request wait.
const pollTimeoutSecs = 10

// Supervisor is the cluster-singleton request loop of one workspace. The
// replica that wins workspace:lock:{w} runs it; everyone else backs off
// until the lock frees up.
type Supervisor struct {
	ctx  *Context
	lock kv.Lock
	log  *slog.Logger

	cron *cron.Cron
	wg   sync.WaitGroup
}

// EnsureSupervisor attempts to become the supervisor of a workspace. It
// returns (nil, nil) when another replica already holds the lock; callers
// simply proceed, the holder will consume their request.
func EnsureSupervisor(ctx context.Context, cfg Config, workspace string) (*Supervisor, error) {
	wctx, err := NewContext(cfg, workspace)
	if err != nil {
		return nil, err
	}
	lock, err := cfg.Store.AcquireLock(ctx, kv.WorkspaceLockKey(workspace), kv.TTLLockSecs)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, nil
	}
	s := &Supervisor{
		ctx:  wctx,
		lock: lock,
		log:  slog.With("component", "supervisor", "workspace", workspace),
		cron: cron.New(),
	}
	return s, nil
}

// Context exposes the supervised workspace context.
func (s *Supervisor) Context() *Context { return s.ctx }

// Run drives the request loop until the stopping signal is set or the lock
// is lost. On exit it sigterms every process in the context, waits for the
// in-flight dispatches, and releases the lock.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Info("supervisor started")
	s.ctx.cfg.Metrics.SupervisorUp()

	// Expiry janitor: once a minute, deliver Stopped{timeout} to every
	// active process whose heartbeat has gone stale.
	s.cron.AddFunc("* * * * *", func() {
		if n := s.ctx.Manager.SweepExpired(ctx); n > 0 {
			s.log.Info("expired processes swept", "count", n)
		}
	})
	s.cron.Start()

	defer s.shutdown(ctx)

	lastRefresh := time.Now()
	stop := s.ctx.cfg.Stop
	for stop == nil || !stop.IsSet() {
		if time.Since(lastRefresh) >= kv.LockRefreshAge {
			if err := s.lock.Refresh(ctx); err != nil {
				s.log.Warn("lock refresh failed, stepping down", "error", err)
				return
			}
			lastRefresh = time.Now()
		}

		key := kv.RequestQueueKey(s.ctx.workspace)
		raw, ok, err := s.ctx.cfg.Store.BLPop(ctx, key, pollTimeoutSecs)
		if err != nil {
			s.log.Error("request poll failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		wrapped, ok := kv.DecodeTyped[models.WrappedRequest](raw, key)
		if !ok {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ctx.Dispatch(ctx, wrapped)
		}()
	}
}

func (s *Supervisor) shutdown(ctx context.Context) {
	s.cron.Stop()
	s.ctx.Manager.SigtermAll(ctx)
	s.wg.Wait()
	if err := s.lock.Release(ctx); err != nil {
		s.log.Warn("lock release failed", "error", err)
	}
	s.ctx.cfg.Metrics.SupervisorDown()
	s.log.Info("supervisor stopped")
}
