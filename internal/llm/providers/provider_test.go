package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/signals"
)

func nativeModel() llm.ModelInfo {
	return llm.ModelInfo{
		Name: "native", APIModel: "native-1", Dialect: llm.DialectOpenAI,
		Think: llm.ThinkHidden, NativeTools: true,
		ContextTokens: 1 << 20, RecentTokens: 1 << 19, MaxOutputTokens: 1024,
	}
}

func xmlModel() llm.ModelInfo {
	m := nativeModel()
	m.Name, m.NativeTools = "xml-only", false
	return m
}

// fakeAdapter scripts Complete responses for registry tests.
type fakeAdapter struct {
	dialect  llm.Dialect
	calls    int
	complete func(calls int, req *Request) ([]llm.Part, error)
}

func (f *fakeAdapter) Dialect() llm.Dialect { return f.dialect }

func (f *fakeAdapter) Complete(_ context.Context, req *Request) ([]llm.Part, error) {
	f.calls++
	return f.complete(f.calls, req)
}

func TestGetCompletionSuccess(t *testing.T) {
	stop := signals.NewStopping()
	reg := NewRegistry(stop, true)
	reg.Register(&fakeAdapter{
		dialect: llm.DialectOpenAI,
		complete: func(int, *Request) ([]llm.Part, error) {
			return []llm.Part{llm.NewText("hello")}, nil
		},
	})

	parts, err := reg.GetCompletion(context.Background(), &Request{Model: nativeModel()})
	if err != nil {
		t.Fatalf("GetCompletion: %v", err)
	}
	if len(parts) != 1 || parts[0].Text.Body != "hello" {
		t.Errorf("parts: %+v", parts)
	}
}

func TestGetCompletionMissingAdapter(t *testing.T) {
	reg := NewRegistry(signals.NewStopping(), true)
	_, err := reg.GetCompletion(context.Background(), &Request{Model: nativeModel()})
	if err == nil {
		t.Fatal("expected error for unregistered dialect")
	}
}

func TestGetCompletionNonRetryableFailsOnce(t *testing.T) {
	reg := NewRegistry(signals.NewStopping(), true)
	adapter := &fakeAdapter{
		dialect: llm.DialectOpenAI,
		complete: func(int, *Request) ([]llm.Part, error) {
			return nil, &ProviderError{Reason: FailInvalidRequest, Provider: "openai", Message: "bad request"}
		},
	}
	reg.Register(adapter)

	_, err := reg.GetCompletion(context.Background(), &Request{Model: nativeModel()})
	if err == nil {
		t.Fatal("expected failure")
	}
	if adapter.calls != 1 {
		t.Errorf("calls = %d, non-retryable failures must not retry", adapter.calls)
	}
	if _, ok := ndperr.As(err); !ok {
		t.Errorf("error should surface as a structured error, got %T: %v", err, err)
	}
}

func TestGetCompletionStopInterruptsRetry(t *testing.T) {
	stop := signals.NewStopping()
	reg := NewRegistry(stop, true)
	adapter := &fakeAdapter{
		dialect: llm.DialectOpenAI,
		complete: func(int, *Request) ([]llm.Part, error) {
			stop.Set() // stop arrives while the request is in flight
			return nil, &ProviderError{Reason: FailRateLimit, Provider: "openai"}
		},
	}
	reg.Register(adapter)

	_, err := reg.GetCompletion(context.Background(), &Request{Model: nativeModel()})
	if !ndperr.IsStopped(err) {
		t.Fatalf("err = %v, want stopped", err)
	}
	if adapter.calls != 1 {
		t.Errorf("calls = %d, stop must interrupt the retry sleep", adapter.calls)
	}
}

func TestGetCompletionStoppedPassesThrough(t *testing.T) {
	reg := NewRegistry(signals.NewStopping(), true)
	reg.Register(&fakeAdapter{
		dialect: llm.DialectOpenAI,
		complete: func(int, *Request) ([]llm.Part, error) {
			return nil, ndperr.Stopped(ndperr.ReasonStopped)
		},
	})

	_, err := reg.GetCompletion(context.Background(), &Request{Model: nativeModel()})
	if !ndperr.IsStopped(err) {
		t.Fatalf("err = %v, want stopped passthrough", err)
	}
}

func TestFinalizeToolCall(t *testing.T) {
	t.Run("empty arguments become an object", func(t *testing.T) {
		parts := finalizeToolCall("c1", "echo", "")
		if len(parts) != 1 || parts[0].Kind != llm.PartToolCalls {
			t.Fatalf("parts: %+v", parts)
		}
		call := parts[0].ToolCalls.Calls[0]
		if call.ID != "c1" || call.Name != "echo" || string(call.Arguments) != "{}" {
			t.Errorf("call: %+v", call)
		}
	})

	t.Run("broken JSON becomes invalid part", func(t *testing.T) {
		parts := finalizeToolCall("c1", "echo", "{broken")
		if len(parts) != 1 || parts[0].Kind != llm.PartInvalid {
			t.Fatalf("parts: %+v", parts)
		}
	})

	t.Run("parallel pseudo-tool expands", func(t *testing.T) {
		raw := `{"tool_uses":[
			{"recipient_name":"functions.search","parameters":{"q":"one"}},
			{"recipient_name":"echo","parameters":{"text":"two"}}
		]}`
		parts := finalizeToolCall("c1", parallelToolName, raw)
		if len(parts) != 1 || parts[0].Kind != llm.PartToolCalls {
			t.Fatalf("parts: %+v", parts)
		}
		calls := parts[0].ToolCalls.Calls
		if len(calls) != 2 {
			t.Fatalf("calls: %+v", calls)
		}
		if calls[0].Name != "search" {
			t.Errorf("namespace must be stripped, got %q", calls[0].Name)
		}
		if calls[1].Name != "echo" || string(calls[1].Arguments) != `{"text":"two"}` {
			t.Errorf("second call: %+v", calls[1])
		}
	})

	t.Run("unparsable parallel payload becomes invalid part", func(t *testing.T) {
		parts := finalizeToolCall("c1", parallelToolName, `{"nope":true}`)
		if len(parts) != 1 || parts[0].Kind != llm.PartInvalid {
			t.Fatalf("parts: %+v", parts)
		}
	})
}

func TestSystemTextToolProtocol(t *testing.T) {
	tools := []llm.ToolSpec{{Name: "search", Description: "web search"}}

	native := systemText(&Request{Model: nativeModel(), System: "be helpful", Tools: tools})
	if strings.Contains(native, "<tool_call") {
		t.Error("native-tool models must not receive the XML protocol")
	}

	xml := systemText(&Request{Model: xmlModel(), System: "be helpful", Tools: tools})
	if !strings.Contains(xml, "<tool_call") || !strings.Contains(xml, "search") {
		t.Errorf("XML protocol missing:\n%s", xml)
	}

	none := systemText(&Request{Model: xmlModel(), System: "be helpful", Tools: tools, ToolChoice: ToolChoiceNone})
	if strings.Contains(none, "<tool_call") {
		t.Error("tool choice none must withhold the XML protocol")
	}
}

func TestEmitterThreshold(t *testing.T) {
	var partials [][]llm.Part
	req := &Request{
		Model: nativeModel(),
		OnPartial: func(parts []llm.Part) error {
			partials = append(partials, parts)
			return nil
		},
	}
	e := newEmitter(req)

	if err := e.AddText("short"); err != nil {
		t.Fatal(err)
	}
	if len(partials) != 0 {
		t.Fatalf("emitted below threshold: %d", len(partials))
	}

	if err := e.AddText(strings.Repeat("x", StreamThreshold)); err != nil {
		t.Fatal(err)
	}
	if len(partials) != 1 {
		t.Fatalf("partials = %d, want 1 after crossing threshold", len(partials))
	}

	parts, err := e.Final()
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 || parts[0].Kind != llm.PartText {
		t.Errorf("final parts: %+v", parts)
	}
}

func TestEmitterBoundariesForceEmit(t *testing.T) {
	var partials [][]llm.Part
	req := &Request{
		Model: nativeModel(),
		OnPartial: func(parts []llm.Part) error {
			partials = append(partials, parts)
			return nil
		},
	}
	e := newEmitter(req)

	if err := e.AddThink("brief"); err != nil {
		t.Fatal(err)
	}
	e.SetThinkSignature("sig")
	if err := e.EndThink(); err != nil {
		t.Fatal(err)
	}
	if len(partials) != 1 {
		t.Fatalf("end of reasoning must force a partial, got %d", len(partials))
	}

	if err := e.AddParts(finalizeToolCall("c1", "search", `{"q":1}`)); err != nil {
		t.Fatal(err)
	}
	if len(partials) != 2 {
		t.Fatalf("a completed tool call must force a partial, got %d", len(partials))
	}

	parts, err := e.Final()
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("final parts: %+v", parts)
	}
	if parts[0].Kind != llm.PartThink || parts[0].Think.Signature != "sig" {
		t.Errorf("think part: %+v", parts[0])
	}
	if parts[1].Kind != llm.PartToolCalls {
		t.Errorf("tool part: %+v", parts[1])
	}
}

func TestEmitterCallbackErrorAborts(t *testing.T) {
	wantErr := errors.New("client went away")
	e := newEmitter(&Request{
		Model:     nativeModel(),
		OnPartial: func([]llm.Part) error { return wantErr },
	})
	err := e.AddText(strings.Repeat("x", StreamThreshold))
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want callback error", err)
	}
}

func TestEmitterParsesXMLToolsForNonNativeModels(t *testing.T) {
	req := &Request{
		Model: xmlModel(),
		Tools: []llm.ToolSpec{{Name: "search"}},
	}
	e := newEmitter(req)
	if err := e.AddText(`on it <tool_call name="search">{"q":"go"}</tool_call>`); err != nil {
		t.Fatal(err)
	}
	parts, err := e.Final()
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 || parts[1].Kind != llm.PartToolCalls {
		t.Fatalf("parts: %+v", parts)
	}
}

func TestEmitterExtractsDeepseekThink(t *testing.T) {
	model := nativeModel()
	model.Think = llm.ThinkDeepseek
	e := newEmitter(&Request{Model: model})
	if err := e.AddText("<think>working it out</think>the answer"); err != nil {
		t.Fatal(err)
	}
	parts, err := e.Final()
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 || parts[0].Kind != llm.PartThink || parts[1].Kind != llm.PartText {
		t.Fatalf("parts: %+v", parts)
	}
	if parts[0].Think.Text != "working it out" || parts[1].Text.Body != "the answer" {
		t.Errorf("parts: %+v %+v", parts[0].Think, parts[1].Text)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  string
		want FailReason
	}{
		{"Overloaded: please retry", FailOverloaded},
		{"429 Too Many Requests", FailRateLimit},
		{"RESOURCE_EXHAUSTED: quota", FailRateLimit},
		{"context deadline exceeded", FailTimeout},
		{"invalid api key provided", FailAuth},
		{"internal server error", FailServerError},
		{"something odd happened", FailUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			if got := ClassifyError(errors.New(tt.err)); got != tt.want {
				t.Errorf("ClassifyError(%q) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryInPlacePolicy(t *testing.T) {
	retryable := &ProviderError{Reason: FailRateLimit}
	if !RetryInPlace(retryable) {
		t.Error("rate limits retry in place")
	}
	if !RetryInPlace(&ProviderError{Reason: FailOverloaded}) {
		t.Error("overloads retry in place")
	}
	for _, reason := range []FailReason{FailTimeout, FailAuth, FailServerError, FailInvalidRequest, FailUnknown} {
		if RetryInPlace(&ProviderError{Reason: reason}) {
			t.Errorf("%s must not retry in place", reason)
		}
	}
}

func TestProviderErrorWithStatus(t *testing.T) {
	err := NewProviderError("anthropic", "m", errors.New("http error")).WithStatus(529)
	if err.Reason != FailOverloaded {
		t.Errorf("529 should classify as overloaded, got %s", err.Reason)
	}
	if !strings.Contains(err.Error(), "anthropic") || !strings.Contains(err.Error(), "529") {
		t.Errorf("error text: %s", err.Error())
	}
}

func TestWireRendering(t *testing.T) {
	if got := wireText(&llm.TextPart{Body: "hi", Section: llm.DefaultSection}); got != "hi" {
		t.Errorf("default section text = %q", got)
	}
	if got := wireText(&llm.TextPart{Body: "hi", Section: "summary"}); got != "<summary>hi</summary>" {
		t.Errorf("named section text = %q", got)
	}
	call := llm.ToolCall{Name: "search", Arguments: json.RawMessage(`{"q":1}`)}
	if got := wireToolCall(call); got != `<tool_call name="search">{"q":1}</tool_call>` {
		t.Errorf("tool call text = %q", got)
	}
}
