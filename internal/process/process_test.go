package process

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/pkg/models"
)

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, h *Handle) (json.RawMessage, error)

func (f runnerFunc) Run(ctx context.Context, h *Handle) (json.RawMessage, error) { return f(ctx, h) }

// blockingRunner runs until released or sigtermed.
type blockingRunner struct {
	release chan struct{}
}

func (r *blockingRunner) Run(_ context.Context, h *Handle) (json.RawMessage, error) {
	select {
	case <-r.release:
		return json.RawMessage(`"done"`), nil
	case <-h.Sigterm().Chan():
		return nil, ndperr.Stopped(ndperr.ReasonStopped)
	}
}

func testURI(t *testing.T) ids.ProcessURI {
	t.Helper()
	u, err := ids.ParseProcessURI("ndp://internal/main/" + ids.NewProcessID())
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func newTestManager() (*Manager, *kv.MemoryStore, *signals.Stopping) {
	stop := signals.NewStopping()
	mem := kv.NewMemoryStore(stop)
	return NewManager(mem, stop), mem, stop
}

func waitResult(t *testing.T, h *Handle) *models.ProcessResult {
	t.Helper()
	l := h.Listen()
	defer h.Unlisten(l)
	if err := l.WaitResult(nil); err != nil {
		t.Fatal(err)
	}
	return h.Status().Result
}

func TestSpawnSuccess(t *testing.T) {
	ctx := context.Background()
	m, mem, _ := newTestManager()
	uri := testURI(t)

	h, err := m.SpawnProcess(ctx, Spawn{
		URI:       uri,
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
		Runner: runnerFunc(func(ctx context.Context, h *Handle) (json.RawMessage, error) {
			if err := h.SendProgress(ctx, json.RawMessage(`{"received_text":"hi"}`)); err != nil {
				return nil, err
			}
			return json.RawMessage(`{"content":"hi"}`), nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	result := waitResult(t, h)
	if result == nil || result.Kind != models.ResultSuccess {
		t.Fatalf("result = %+v", result)
	}

	// Status and executor records are persisted.
	status, ok, _ := kv.GetTyped[models.ProcessStatus](ctx, mem, kv.ProcessStatusKey(uri.String()))
	if !ok || status.Result == nil || len(status.Progress) != 1 {
		t.Fatalf("persisted status = %+v, %v", status, ok)
	}
	if ok, _ := mem.Exists(ctx, kv.ProcessExecutorKey(uri.String())); !ok {
		t.Fatal("executor record missing")
	}
}

func TestSpawnDuplicate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	uri := testURI(t)

	noop := runnerFunc(func(context.Context, *Handle) (json.RawMessage, error) { return nil, nil })
	if _, err := m.SpawnProcess(ctx, Spawn{URI: uri, Name: "echo", Runner: noop}); err != nil {
		t.Fatal(err)
	}
	_, err := m.SpawnProcess(ctx, Spawn{URI: uri, Name: "echo", Runner: noop})
	e, ok := ndperr.As(err)
	if !ok || e.Name != ndperr.BadProcessDuplicate {
		t.Fatalf("err = %v", err)
	}
}

func TestSpawnBadArguments(t *testing.T) {
	ctx := context.Background()
	m, mem, _ := newTestManager()
	uri := testURI(t)

	schema := jsonschema.MustCompileString("echo.json", `{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
	_, err := m.SpawnProcess(ctx, Spawn{
		URI:       uri,
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":42}`),
		Schema:    schema,
		Runner:    runnerFunc(func(context.Context, *Handle) (json.RawMessage, error) { return nil, nil }),
	})
	e, ok := ndperr.As(err)
	if !ok || e.Name != ndperr.BadToolArguments || e.Kind != ndperr.KindAction {
		t.Fatalf("err = %v", err)
	}
	// Rejected spawns leave no status behind.
	if ok, _ := mem.Exists(ctx, kv.ProcessStatusKey(uri.String())); ok {
		t.Fatal("status should not exist for rejected spawn")
	}
}

func TestResultMonotonic(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	uri := testURI(t)

	release := make(chan struct{})
	h, err := m.SpawnProcess(ctx, Spawn{URI: uri, Name: "blocker", Runner: &blockingRunner{release: release}})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SendResult(ctx, models.NewSuccess(json.RawMessage(`"first"`))); err != nil {
		t.Fatal(err)
	}

	err = h.SendResult(ctx, models.NewStopped(models.StopReasonStopped))
	e, ok := ndperr.As(err)
	if !ok || e.Name != ndperr.BadProcessUpdateAfterResult {
		t.Fatalf("second result err = %v", err)
	}
	if err := h.SendProgress(ctx, json.RawMessage(`{}`)); err == nil {
		t.Fatal("progress after result should fail")
	}
	if got := h.Status().Result; got.Kind != models.ResultSuccess {
		t.Fatalf("result overwritten: %+v", got)
	}
	close(release)
}

func TestListenerProgressAndResult(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	uri := testURI(t)

	release := make(chan struct{})
	h, _ := m.SpawnProcess(ctx, Spawn{URI: uri, Name: "blocker", Runner: &blockingRunner{release: release}})
	l := h.Listen()
	defer h.Unlisten(l)

	if fired, err := l.WaitProgress(10*time.Millisecond, nil); err != nil || fired {
		t.Fatalf("WaitProgress before any update = %v, %v", fired, err)
	}

	go h.SendProgress(ctx, json.RawMessage(`{"n":1}`))
	fired, err := l.WaitProgress(time.Second, nil)
	if err != nil || !fired {
		t.Fatalf("WaitProgress = %v, %v", fired, err)
	}
	if l.HasResult() {
		t.Fatal("result flag set before result")
	}

	close(release)
	if err := l.WaitResult(nil); err != nil {
		t.Fatal(err)
	}
	if !l.HasResult() {
		t.Fatal("result flag should be level-triggered")
	}
}

func TestListenerStopSignal(t *testing.T) {
	m, _, stop := newTestManager()
	uri := testURI(t)
	release := make(chan struct{})
	defer close(release)
	h, _ := m.SpawnProcess(context.Background(), Spawn{URI: uri, Name: "blocker", Runner: &blockingRunner{release: release}})
	l := h.Listen()
	defer h.Unlisten(l)

	stop.Set()
	if _, err := l.WaitProgress(time.Hour, stop); !ndperr.IsStopped(err) {
		t.Fatalf("WaitProgress under stop = %v", err)
	}
	if err := l.WaitResult(stop); !ndperr.IsStopped(err) {
		t.Fatalf("WaitResult under stop = %v", err)
	}
}

func TestLateListenerSeesResult(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	uri := testURI(t)

	h, _ := m.SpawnProcess(ctx, Spawn{URI: uri, Name: "quick", Runner: runnerFunc(
		func(context.Context, *Handle) (json.RawMessage, error) { return json.RawMessage(`1`), nil })})
	waitResult(t, h)

	late := h.Listen()
	defer h.Unlisten(late)
	if !late.HasResult() {
		t.Fatal("listener registered after result should see it")
	}
}

func TestSendSigkill(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	uri := testURI(t)

	release := make(chan struct{})
	defer close(release)
	h, _ := m.SpawnProcess(ctx, Spawn{URI: uri, Name: "blocker", Runner: &blockingRunner{release: release}})

	if err := m.SendSigkill(ctx, uri.String()); err != nil {
		t.Fatal(err)
	}
	result := waitResult(t, h)
	if result.Kind != models.ResultStopped || result.Stopped.Reason != models.StopReasonStopped {
		t.Fatalf("result = %+v", result)
	}

	err := m.SendSigkill(ctx, "ndp://internal/main/"+ids.NewProcessID())
	if e, ok := ndperr.As(err); !ok || e.Name != ndperr.BadProcessNotFound {
		t.Fatalf("sigkill unknown = %v", err)
	}
}

func TestSigtermAll(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	release := make(chan struct{})
	defer close(release)
	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := m.SpawnProcess(ctx, Spawn{URI: testURI(t), Name: "blocker", Runner: &blockingRunner{release: release}})
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}

	done := make(chan struct{})
	go func() {
		m.SigtermAll(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SigtermAll did not settle")
	}
	for _, h := range handles {
		result := h.Status().Result
		if result == nil || result.Kind != models.ResultStopped {
			t.Fatalf("result after sigterm = %+v", result)
		}
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	now := time.Now()
	m.now = func() time.Time { return now }

	release := make(chan struct{})
	defer close(release)
	h, _ := m.SpawnProcess(ctx, Spawn{URI: testURI(t), Name: "blocker", Runner: &blockingRunner{release: release}})

	if n := m.SweepExpired(ctx); n != 0 {
		t.Fatalf("fresh process swept: %d", n)
	}

	now = now.Add(ExpiryWindow + time.Minute)
	if n := m.SweepExpired(ctx); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	result := waitResult(t, h)
	if result.Kind != models.ResultStopped || result.Stopped.Reason != models.StopReasonTimeout {
		t.Fatalf("result = %+v", result)
	}
}

func TestUpdateExternal(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	uri := testURI(t)

	release := make(chan struct{})
	defer close(release)
	h, _ := m.SpawnProcess(ctx, Spawn{URI: uri, Name: "blocker", Runner: &blockingRunner{release: release}})

	err := m.Update(ctx, uri.String(), []json.RawMessage{json.RawMessage(`{"step":1}`)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Status(); len(got.Progress) != 1 {
		t.Fatalf("progress = %v", got.Progress)
	}

	if err := m.Update(ctx, uri.String(), nil, models.NewSuccess(json.RawMessage(`"ext"`))); err != nil {
		t.Fatal(err)
	}
	if result := waitResult(t, h); result.Kind != models.ResultSuccess {
		t.Fatalf("result = %+v", result)
	}
}

func TestSecretRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	uri := testURI(t)

	secret, err := m.RegisterSecret(ctx, uri.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(secret) != 36 || strings.ToLower(secret) != secret {
		t.Fatalf("secret format: %q", secret)
	}
	got, ok, err := m.ResolveSecret(ctx, secret)
	if err != nil || !ok || got != uri.String() {
		t.Fatalf("ResolveSecret = %q, %v, %v", got, ok, err)
	}
	if _, ok, _ := m.ResolveSecret(ctx, ids.NewSecret()); ok {
		t.Fatal("unknown secret should miss")
	}
}
