package chatbot

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/llm/providers"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/process"
	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/internal/thread"
	"github.com/workmesh/ndp/internal/tools"
	"github.com/workmesh/ndp/pkg/models"
)

const testWorkspace = "internal/main"

func testModel() llm.ModelInfo {
	return llm.ModelInfo{
		Name:          "test-model",
		APIModel:      "test-model-v1",
		Dialect:       llm.DialectAnthropic,
		Think:         llm.ThinkHidden,
		NativeTools:   true,
		ContextTokens: 100000,
		RecentTokens:  50000,
	}
}

// scriptAdapter returns one scripted completion per call and records the
// requests it saw.
type scriptAdapter struct {
	script   []func(req *providers.Request) ([]llm.Part, error)
	requests []*providers.Request
}

func (a *scriptAdapter) Dialect() llm.Dialect { return llm.DialectAnthropic }

func (a *scriptAdapter) Complete(ctx context.Context, req *providers.Request) ([]llm.Part, error) {
	a.requests = append(a.requests, req)
	if len(a.script) == 0 {
		return []llm.Part{llm.NewText("out of script")}, nil
	}
	step := a.script[0]
	a.script = a.script[1:]
	return step(req)
}

type fixture struct {
	store   kv.Store
	stop    *signals.Stopping
	adapter *scriptAdapter
	cfg     Config
}

func newFixture(t *testing.T, script ...func(req *providers.Request) ([]llm.Part, error)) *fixture {
	t.Helper()
	stop := signals.NewStopping()
	store := kv.NewMemoryStore(stop)
	adapter := &scriptAdapter{script: script}
	registry := providers.NewRegistry(stop, true)
	registry.Register(adapter)

	toolReg := tools.NewRegistry()
	if err := toolReg.Register(tools.Echo()); err != nil {
		t.Fatalf("register echo: %v", err)
	}

	return &fixture{
		store:   store,
		stop:    stop,
		adapter: adapter,
		cfg: Config{
			Store:          store,
			Threads:        thread.NewStore(store),
			Providers:      registry,
			Tools:          toolReg,
			Manager:        process.NewManager(store, stop),
			Counter:        llm.NewTokenCounter(),
			Models:         map[string]llm.ModelInfo{"test-model": testModel()},
			DefaultPersona: models.Persona{Model: "test-model", DefaultEnabled: true},
			Stop:           stop,
		},
	}
}

func (f *fixture) seedThread(t *testing.T, text string) string {
	t.Helper()
	info, err := f.cfg.Threads.Create(context.Background(), testWorkspace, "test")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := f.cfg.Threads.Append(context.Background(), info.URI, "user-1",
		[]models.BotMessagePart{models.NewTextPart(text)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	return info.URI
}

// runTurn spawns the chatbot as a process and waits for its result.
func (f *fixture) runTurn(t *testing.T, req *models.ChatbotSpawnRequest, replies *ReplyService) *models.ProcessResult {
	t.Helper()
	ctx := context.Background()
	if replies == nil {
		replies = NewReplyService(req.ClientTools)
	}
	bot := New(f.cfg, testWorkspace, req, replies)
	uri, err := ids.ParseProcessURI("ndp://internal/main/" + ids.NewProcessID())
	if err != nil {
		t.Fatalf("uri: %v", err)
	}
	h, err := f.cfg.Manager.SpawnProcess(ctx, process.Spawn{URI: uri, Name: ProcessName, Runner: bot})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	l := h.Listen()
	defer h.Unlisten(l)
	if err := l.WaitResult(f.stop); err != nil {
		t.Fatalf("wait result: %v", err)
	}
	return h.Status().Result
}

func decodeOutcome(t *testing.T, result *models.ProcessResult) Outcome {
	t.Helper()
	if result == nil || result.Kind != models.ResultSuccess {
		t.Fatalf("result = %+v, want success", result)
	}
	var out Outcome
	if err := json.Unmarshal(result.Success.Content, &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	return out
}

func TestTextOnlyReply(t *testing.T) {
	f := newFixture(t, func(req *providers.Request) ([]llm.Part, error) {
		return []llm.Part{llm.NewText("boop")}, nil
	})
	uri := f.seedThread(t, "Answer with 'boop' and nothing else.")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{BotID: "bot-1", ThreadURIs: []string{uri}}, nil)
	out := decodeOutcome(t, result)

	if len(out.Parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(out.Parts))
	}
	p := out.Parts[0]
	if p.Kind != models.PartText || !strings.HasPrefix(strings.ToLower(p.Text.Body), "boop") {
		t.Fatalf("part = %+v, want text starting with boop", p)
	}
	for _, part := range out.Parts {
		if part.Kind == models.PartTool {
			t.Fatalf("unexpected committed tool part %+v", part)
		}
	}

	// The reply lands in the thread under the bot's identity.
	msgs, err := f.cfg.Threads.Messages(context.Background(), uri)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.AuthorID != "bot-1" || last.Parts[0].Text.Body != "boop" {
		t.Fatalf("thread tail = %+v, want bot reply", last)
	}
}

func TestToolRoundTrip(t *testing.T) {
	f := newFixture(t,
		func(req *providers.Request) ([]llm.Part, error) {
			return []llm.Part{llm.NewToolCalls(llm.ToolCall{
				ID:        "call_1",
				Name:      "echo",
				Arguments: json.RawMessage(`{"text":"hi"}`),
			})}, nil
		},
		func(req *providers.Request) ([]llm.Part, error) {
			// The echo result must be visible as a paired tool message.
			last := req.Messages[len(req.Messages)-1]
			if last.Role != llm.RoleTool {
				return nil, ndperr.New(500, "TestError.unpaired", ndperr.KindRuntime, "no tool result in history")
			}
			return []llm.Part{llm.NewText("done")}, nil
		},
	)
	uri := f.seedThread(t, "echo hi")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{BotID: "bot-1", ThreadURIs: []string{uri}}, nil)
	out := decodeOutcome(t, result)

	var toolParts, textParts int
	for _, p := range out.Parts {
		switch p.Kind {
		case models.PartTool:
			toolParts++
			if p.Tool.Name != "echo" {
				t.Fatalf("tool part name = %q", p.Tool.Name)
			}
		case models.PartText:
			textParts++
		}
	}
	if toolParts != 1 || textParts != 1 {
		t.Fatalf("toolParts=%d textParts=%d, want 1 and 1", toolParts, textParts)
	}
	if len(f.adapter.requests) != 2 {
		t.Fatalf("completions = %d, want 2", len(f.adapter.requests))
	}
}

func TestLastStepWithholdsTools(t *testing.T) {
	call := func(req *providers.Request) ([]llm.Part, error) {
		return []llm.Part{llm.NewToolCalls(llm.ToolCall{
			Name:      "echo",
			Arguments: json.RawMessage(`{"text":"again"}`),
		})}, nil
	}
	// Keeps calling tools; the fifth completion must be toolless and the
	// script's final answer ends the loop.
	f := newFixture(t, call, call, call, call, func(req *providers.Request) ([]llm.Part, error) {
		if len(req.Tools) != 0 || req.ToolChoice != providers.ToolChoiceNone {
			return nil, ndperr.New(500, "TestError.tools_offered", ndperr.KindRuntime, "tools offered on final step")
		}
		return []llm.Part{llm.NewText("forced answer")}, nil
	})
	uri := f.seedThread(t, "loop forever")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{BotID: "bot-1", ThreadURIs: []string{uri}}, nil)
	decodeOutcome(t, result)

	if len(f.adapter.requests) != MaxSteps {
		t.Fatalf("completions = %d, want %d", len(f.adapter.requests), MaxSteps)
	}
}

func TestMissingToolEndsTurn(t *testing.T) {
	f := newFixture(t, func(req *providers.Request) ([]llm.Part, error) {
		return []llm.Part{llm.NewToolCalls(llm.ToolCall{Name: "no_such_tool"})}, nil
	})
	uri := f.seedThread(t, "use the mystery tool")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{BotID: "bot-1", ThreadURIs: []string{uri}}, nil)
	if result.Kind != models.ResultFailure {
		t.Fatalf("result = %+v, want failure", result)
	}
	e, err := ndperr.DecodeJSON(result.Failure.Error)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if e.Code != 404 {
		t.Fatalf("code = %d, want 404", e.Code)
	}
}

func TestBadArgumentsFedBackToModel(t *testing.T) {
	f := newFixture(t,
		func(req *providers.Request) ([]llm.Part, error) {
			return []llm.Part{llm.NewToolCalls(llm.ToolCall{
				Name:      "echo",
				Arguments: json.RawMessage(`{"wrong":"field"}`),
			})}, nil
		},
		func(req *providers.Request) ([]llm.Part, error) {
			return []llm.Part{llm.NewText("corrected")}, nil
		},
	)
	uri := f.seedThread(t, "echo badly")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{BotID: "bot-1", ThreadURIs: []string{uri}}, nil)
	out := decodeOutcome(t, result)
	if len(f.adapter.requests) != 2 {
		t.Fatalf("completions = %d, want 2 (error fed back)", len(f.adapter.requests))
	}
	found := false
	for _, p := range out.Parts {
		if p.Kind == models.PartText && p.Text.Body == "corrected" {
			found = true
		}
	}
	if !found {
		t.Fatalf("corrected answer missing from %+v", out.Parts)
	}
}

func TestClientStopInterruptsCompletion(t *testing.T) {
	replies := NewReplyService(nil)
	f := newFixture(t, func(req *providers.Request) ([]llm.Part, error) {
		replies.Stop().Set()
		if err := req.OnPartial([]llm.Part{llm.NewText("part")}); err != nil {
			return nil, err
		}
		return []llm.Part{llm.NewText("never")}, nil
	})
	uri := f.seedThread(t, "stop me")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{BotID: "bot-1", ThreadURIs: []string{uri}}, replies)
	if result.Kind != models.ResultStopped || result.Stopped.Reason != models.StopReasonStopped {
		t.Fatalf("result = %+v, want stopped", result)
	}
}

func TestClientToolBecomesAction(t *testing.T) {
	decl := models.ToolDecl{Name: "open_url", Description: "open a url client-side"}
	f := newFixture(t,
		func(req *providers.Request) ([]llm.Part, error) {
			// The client tool must be offered alongside server tools.
			offered := false
			for _, spec := range req.Tools {
				if spec.Name == "open_url" {
					offered = true
				}
			}
			if !offered {
				return nil, ndperr.New(500, "TestError.not_offered", ndperr.KindRuntime, "client tool not offered")
			}
			return []llm.Part{llm.NewToolCalls(llm.ToolCall{
				Name:      "open_url",
				Arguments: json.RawMessage(`{"url":"https://example.com"}`),
			})}, nil
		},
		func(req *providers.Request) ([]llm.Part, error) {
			return []llm.Part{llm.NewText("opened")}, nil
		},
	)
	uri := f.seedThread(t, "open example.com")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{
		BotID:       "bot-1",
		ThreadURIs:  []string{uri},
		ClientTools: []models.ToolDecl{decl},
	}, nil)
	out := decodeOutcome(t, result)

	if len(out.Actions) != 1 || out.Actions[0].Name != "open_url" {
		t.Fatalf("actions = %+v, want one open_url", out.Actions)
	}
}

func TestStateCarriesAcrossTurns(t *testing.T) {
	f := newFixture(t,
		func(req *providers.Request) ([]llm.Part, error) {
			return []llm.Part{llm.NewText("boop")}, nil
		},
		func(req *providers.Request) ([]llm.Part, error) {
			// Second turn must see the first exchange in its history.
			var sawBoop bool
			for _, m := range req.Messages {
				for _, p := range m.Parts {
					if p.Kind == llm.PartText && strings.Contains(p.Text.Body, "boop") {
						sawBoop = true
					}
				}
			}
			if !sawBoop {
				return nil, ndperr.New(500, "TestError.amnesia", ndperr.KindRuntime, "first turn missing from history")
			}
			return []llm.Part{llm.NewText("fizzbuzz")}, nil
		},
	)
	uri := f.seedThread(t, "Answer with 'boop'")

	first := f.runTurn(t, &models.ChatbotSpawnRequest{BotID: "bot-1", ThreadURIs: []string{uri}}, nil)
	decodeOutcome(t, first)

	if _, err := f.cfg.Threads.Append(context.Background(), uri, "user-1",
		[]models.BotMessagePart{models.NewTextPart("Answer with 'fizzbuzz'")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	second := f.runTurn(t, &models.ChatbotSpawnRequest{BotID: "bot-1", ThreadURIs: []string{uri}}, nil)
	out := decodeOutcome(t, second)
	if len(out.Parts) != 1 || !strings.HasPrefix(out.Parts[0].Text.Body, "fizzbuzz") {
		t.Fatalf("second reply = %+v, want fizzbuzz", out.Parts)
	}

	state, err := LoadBotState(context.Background(), f.store, testWorkspace, "bot-1")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if len(state.LLMState) == 0 {
		t.Fatal("llm state not persisted")
	}
	if state.Cursors[uri] == "" {
		t.Fatal("cursor not advanced")
	}
}

func TestPersonaRulesFilterTools(t *testing.T) {
	f := newFixture(t, func(req *providers.Request) ([]llm.Part, error) {
		for _, spec := range req.Tools {
			if spec.Name == "echo" {
				return nil, ndperr.New(500, "TestError.leak", ndperr.KindRuntime, "disabled tool offered")
			}
		}
		return []llm.Part{llm.NewText("ok")}, nil
	})
	uri := f.seedThread(t, "hello")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{
		BotID:      "bot-1",
		ThreadURIs: []string{uri},
		Persona: &models.Persona{
			DefaultEnabled: true,
			Rules: []models.CapabilityTools{
				{Action: models.ToolRuleDisable, Tools: []string{"echo"}},
			},
		},
	}, nil)
	decodeOutcome(t, result)
}

func TestUnknownModelFails(t *testing.T) {
	f := newFixture(t)
	uri := f.seedThread(t, "hello")

	result := f.runTurn(t, &models.ChatbotSpawnRequest{
		BotID:      "bot-1",
		ThreadURIs: []string{uri},
		Persona:    &models.Persona{Model: "ghost-model"},
	}, nil)
	if result.Kind != models.ResultFailure {
		t.Fatalf("result = %+v, want failure", result)
	}
}
