package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/pkg/models"
)

const (
	// HeartbeatInterval is how often a running process touches updatedAt.
	HeartbeatInterval = 2 * time.Minute
	// ExpiryWindow is how stale an active process's updatedAt may get
	// before a supervisor treats it as expired.
	ExpiryWindow = 10 * time.Minute
)

// Spawn describes one process to start.
type Spawn struct {
	URI       ids.ProcessURI
	Name      string
	Arguments json.RawMessage
	// Schema validates Arguments when non-nil.
	Schema *jsonschema.Schema
	Runner Runner
}

// Manager owns the live processes of one workspace context. It is the only
// writer of their statuses; everything else reads snapshots.
type Manager struct {
	store kv.Store
	stop  *signals.Stopping
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	procs   map[string]*Handle
	runners map[string]Runner
	wg      sync.WaitGroup
}

// NewManager creates a process manager over the given KV backend.
func NewManager(store kv.Store, stop *signals.Stopping) *Manager {
	return &Manager{
		store:   store,
		stop:    stop,
		log:     slog.With("component", "process"),
		now:     time.Now,
		procs:   make(map[string]*Handle),
		runners: make(map[string]Runner),
	}
}

// SpawnProcess runs the spawn sequence: duplicate check, argument
// validation, persistence of definition and initial status, then the
// background run of the runner. The returned handle is live immediately.
func (m *Manager) SpawnProcess(ctx context.Context, spawn Spawn) (*Handle, error) {
	uri := spawn.URI.String()

	exists, err := m.store.Exists(ctx, kv.ProcessStatusKey(uri))
	if err != nil {
		return nil, fmt.Errorf("process: duplicate check %s: %w", uri, err)
	}
	if exists {
		return nil, ndperr.DuplicateProcessError(uri)
	}

	if spawn.Schema != nil {
		if err := validateJSON(spawn.Schema, spawn.Arguments); err != nil {
			return nil, ndperr.BadToolArgumentsError(spawn.Name, err)
		}
	}

	now := m.now().UTC()
	status := &models.ProcessStatus{
		Name:      spawn.Name,
		Arguments: spawn.Arguments,
		CreatedAt: now,
		UpdatedAt: now,
	}
	def := &models.ProcessDefinition{
		Name:      spawn.Name,
		URI:       uri,
		Arguments: spawn.Arguments,
		CreatedAt: now,
	}
	if err := kv.SetTyped(ctx, m.store, kv.ProcessExecutorKey(uri), def, kv.TTLExecutor); err != nil {
		return nil, fmt.Errorf("process: persist executor %s: %w", uri, err)
	}
	if err := kv.SetTyped(ctx, m.store, kv.ProcessStatusKey(uri), status, kv.TTLStatus); err != nil {
		return nil, fmt.Errorf("process: persist status %s: %w", uri, err)
	}

	h := newHandle(spawn.URI, status, m.store, m.now)

	m.mu.Lock()
	m.procs[uri] = h
	m.runners[uri] = spawn.Runner
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(h, spawn.Runner)
	return h, nil
}

// run executes the runner to completion and converts its outcome into the
// terminal result. A heartbeat keeps updatedAt fresh for the duration.
func (m *Manager) run(h *Handle, runner Runner) {
	defer m.wg.Done()

	ctx := context.Background()
	hb := startHeartbeat(h, HeartbeatInterval)
	defer hb.stopWait()

	content, err := runner.Run(ctx, h)
	switch {
	case err == nil:
		if content == nil {
			content = json.RawMessage("null")
		}
		err = h.SendResult(ctx, models.NewSuccess(content))
		if err != nil {
			m.logResultError(h, err)
		}
	case ndperr.IsStopped(err):
		h.stop(ctx, models.StopReason(ndperr.StopReason(err)))
	default:
		envelope, encodeErr := json.Marshal(ndperr.Encode(err, false))
		if encodeErr != nil {
			envelope = json.RawMessage(`{"code":500,"message":"unencodable error"}`)
		}
		if err := h.SendResult(ctx, models.NewFailure(envelope)); err != nil {
			m.logResultError(h, err)
		}
	}
}

func (m *Manager) logResultError(h *Handle, err error) {
	if e, ok := ndperr.As(err); ok && e.Name == ndperr.BadProcessUpdateAfterResult {
		// Sigkill or expiry won the race; the earlier result stands.
		return
	}
	m.log.Error("failed to assign process result", "uri", h.URI().String(), "error", err)
}

// Get returns the live handle for a URI.
func (m *Manager) Get(uri string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.procs[uri]
	return h, ok
}

// List returns a snapshot of all live handles.
func (m *Manager) List() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Handle, 0, len(m.procs))
	for _, h := range m.procs {
		out = append(out, h)
	}
	return out
}

// Remove forgets a handle. The persisted status stays in KV.
func (m *Manager) Remove(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, uri)
	delete(m.runners, uri)
}

// StatusOf reads a process status, preferring the live handle and falling
// back to the persisted record.
func (m *Manager) StatusOf(ctx context.Context, uri string) (*models.ProcessStatus, error) {
	if h, ok := m.Get(uri); ok {
		return h.Status(), nil
	}
	status, ok, err := kv.GetTyped[models.ProcessStatus](ctx, m.store, kv.ProcessStatusKey(uri))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ndperr.ProcessNotFoundError(uri)
	}
	return &status, nil
}

// SendSigkill force-stops a process: its result becomes Stopped{stopped}
// and every listener is released.
func (m *Manager) SendSigkill(ctx context.Context, uri string) error {
	h, ok := m.Get(uri)
	if !ok {
		return ndperr.ProcessNotFoundError(uri)
	}
	h.stop(ctx, models.StopReasonStopped)
	return nil
}

// Update applies an externally-pushed update: progress items and an
// optional result.
func (m *Manager) Update(ctx context.Context, uri string, progress []json.RawMessage, result *models.ProcessResult) error {
	h, ok := m.Get(uri)
	if !ok {
		return ndperr.ProcessNotFoundError(uri)
	}
	return h.sendUpdate(ctx, progress, result)
}

// SigtermAll delivers the shutdown protocol to every active process and
// waits for their run goroutines to settle. Called by the supervisor
// before it releases the workspace lock.
func (m *Manager) SigtermAll(ctx context.Context) {
	m.mu.Lock()
	type pair struct {
		h *Handle
		r Runner
	}
	var active []pair
	for uri, h := range m.procs {
		if !h.Finished() {
			active = append(active, pair{h, m.runners[uri]})
		}
	}
	m.mu.Unlock()

	for _, p := range active {
		p.h.deliverSigterm(ctx, p.r)
	}
	m.wg.Wait()
}

// SweepExpired assigns Stopped{timeout} to every active process whose
// updatedAt is older than the expiry window.
func (m *Manager) SweepExpired(ctx context.Context) int {
	cutoff := m.now().UTC().Add(-ExpiryWindow)
	expired := 0
	for _, h := range m.List() {
		s := h.Status()
		if s.Active() && s.UpdatedAt.Before(cutoff) {
			m.log.Warn("process expired", "uri", h.URI().String(), "updatedAt", s.UpdatedAt)
			h.stop(ctx, models.StopReasonTimeout)
			expired++
		}
	}
	return expired
}

// RegisterSecret mints a short-lived secret granting its holder push rights
// for the process.
func (m *Manager) RegisterSecret(ctx context.Context, uri string) (string, error) {
	secret := ids.NewSecret()
	ref := models.RegisteredProcess{URI: uri}
	if err := kv.SetTyped(ctx, m.store, kv.SecretProcessKey(secret), ref, kv.TTLSecret); err != nil {
		return "", fmt.Errorf("process: register secret: %w", err)
	}
	return secret, nil
}

// ResolveSecret maps a secret back to its process URI.
func (m *Manager) ResolveSecret(ctx context.Context, secret string) (string, bool, error) {
	ref, ok, err := kv.GetTyped[models.RegisteredProcess](ctx, m.store, kv.SecretProcessKey(secret))
	if err != nil || !ok {
		return "", false, err
	}
	return ref.URI, true, nil
}

// validateJSON runs a compiled schema against raw JSON arguments.
func validateJSON(schema *jsonschema.Schema, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}
