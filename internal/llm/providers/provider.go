// Package providers implements the three model dialect adapters. Each
// adapter turns the shared message model into provider-specific request
// params, consumes the batch or streaming response, and parses the native
// completion back into parts.
package providers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/retry"
	"github.com/workmesh/ndp/internal/signals"
)

const (
	// RequestTimeout bounds one completion request end to end.
	RequestTimeout = 300 * time.Second

	// StreamThreshold is the minimum number of accumulated characters
	// between partial parses. A latency/UX trade-off, tunable.
	StreamThreshold = 40
)

// ToolChoice values accepted in requests; any other value names a tool the
// model is forced to call.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// Request carries everything an adapter needs for one completion.
type Request struct {
	// Model is the catalog entry being called.
	Model llm.ModelInfo

	// System is the full system text: protocol instructions plus the
	// persona's system message. Adapters append the XML tool protocol
	// when the model lacks native tool support.
	System string

	// Messages is the rendered conversation.
	Messages []llm.Message

	// Tools offered for this request.
	Tools []llm.ToolSpec

	// ToolChoice is "auto", "none", or a tool name.
	ToolChoice string

	// Temperature overrides the model default when non-nil.
	Temperature *float64

	// MaxTokens caps the completion; zero means the model default.
	MaxTokens int

	// ResponseSchema constrains the answer to a JSON schema, for dialects
	// that support structured output.
	ResponseSchema json.RawMessage

	// XMLSections are extra section tags to recognize in free-form text.
	XMLSections []string

	// OnPartial enables streaming: it receives a partial parse every
	// StreamThreshold accumulated characters and at section boundaries.
	// Returning an error cancels the completion.
	OnPartial func(parts []llm.Part) error
}

// Adapter is one dialect implementation.
type Adapter interface {
	// Dialect identifies which models this adapter serves.
	Dialect() llm.Dialect

	// Complete issues one request and returns the parsed parts. It does
	// not retry; the Registry owns the retry policy.
	Complete(ctx context.Context, req *Request) ([]llm.Part, error)
}

// Registry holds the configured adapters and applies the shared request
// policy: per-request timeout, fixed-schedule retry on rate limits, and
// cancellation through the stopping signal.
type Registry struct {
	adapters map[llm.Dialect]Adapter
	schedule retry.Schedule
	stop     *signals.Stopping

	// observer, when set, receives one callback per finished completion.
	observer func(model llm.ModelInfo, elapsed time.Duration, outcome string)
}

// NewRegistry creates a registry. Dev mode shortens the retry schedule.
func NewRegistry(stop *signals.Stopping, dev bool) *Registry {
	schedule := retry.LLMSchedule
	if dev {
		schedule = retry.LLMScheduleDev
	}
	return &Registry{
		adapters: make(map[llm.Dialect]Adapter),
		schedule: schedule,
		stop:     stop,
	}
}

// Register installs an adapter for its dialect.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Dialect()] = a
}

// Observe installs a per-completion callback. Outcome is "ok", "error",
// or "stopped". Must be called before the registry serves requests.
func (r *Registry) Observe(fn func(model llm.ModelInfo, elapsed time.Duration, outcome string)) {
	r.observer = fn
}

func (r *Registry) observe(model llm.ModelInfo, started time.Time, err error) {
	if r.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case ndperr.IsStopped(err):
		outcome = "stopped"
	case err != nil:
		outcome = "error"
	}
	r.observer(model, time.Since(started), outcome)
}

// Adapter returns the adapter for a dialect.
func (r *Registry) Adapter(d llm.Dialect) (Adapter, bool) {
	a, ok := r.adapters[d]
	return a, ok
}

// GetCompletion runs one completion with the shared policy. Rate-limited
// failures retry on the fixed schedule; any other failure is fatal and
// surfaces as an LLM network error. Stop errors raised by the streaming
// callback pass through untouched.
func (r *Registry) GetCompletion(ctx context.Context, req *Request) (out []llm.Part, outErr error) {
	adapter, ok := r.adapters[req.Model.Dialect]
	if !ok {
		return nil, ndperr.New(500, "LlmError.no_adapter", ndperr.KindRuntime,
			"no adapter for dialect "+string(req.Model.Dialect))
	}
	started := time.Now()
	defer func() { r.observe(req.Model, started, outErr) }()

	parts, result := retry.DoWithValue(ctx, r.schedule, r.stop, func() ([]llm.Part, error) {
		callCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
		defer cancel()
		parts, err := adapter.Complete(callCtx, req)
		if err == nil {
			return parts, nil
		}
		if ndperr.IsStopped(err) || !RetryInPlace(err) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	})
	if result.Err == nil {
		return parts, nil
	}
	if r.stop != nil && r.stop.IsSet() {
		return nil, ndperr.Stopped(ndperr.ReasonStopped)
	}
	err := result.Err
	var perm *retry.PermanentError
	if pe, ok := err.(*retry.PermanentError); ok {
		perm = pe
		err = perm.Err
	}
	if ndperr.IsStopped(err) {
		return nil, err
	}
	if e, isNdp := ndperr.As(err); isNdp {
		return nil, e
	}
	return nil, ndperr.NetworkError(string(req.Model.Dialect), err)
}

// parallelToolName is the pseudo-tool some models emit to batch calls.
const parallelToolName = "multi_tool_use.parallel"

// finalizeToolCall turns a raw native call into a part. Broken argument
// JSON produces an invalid part rather than failing the completion, and
// the parallel pseudo-tool expands into one call per sub-invocation.
func finalizeToolCall(id, name, rawArgs string) []llm.Part {
	if rawArgs == "" {
		rawArgs = "{}"
	}
	if !json.Valid([]byte(rawArgs)) {
		return []llm.Part{llm.NewInvalid(rawArgs, "tool call "+name+" arguments are not valid JSON")}
	}
	if name == parallelToolName {
		return expandParallel(rawArgs)
	}
	return []llm.Part{llm.NewToolCalls(llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(rawArgs)})}
}

// expandParallel unpacks multi_tool_use.parallel into individual calls.
// Sub-invocation names arrive namespaced ("functions.fn"); only the final
// segment is the tool name.
func expandParallel(rawArgs string) []llm.Part {
	var payload struct {
		ToolUses []struct {
			RecipientName string          `json:"recipient_name"`
			Parameters    json.RawMessage `json:"parameters"`
		} `json:"tool_uses"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &payload); err != nil || len(payload.ToolUses) == 0 {
		return []llm.Part{llm.NewInvalid(rawArgs, "unparsable multi_tool_use.parallel invocation")}
	}
	calls := make([]llm.ToolCall, 0, len(payload.ToolUses))
	for _, use := range payload.ToolUses {
		name := use.RecipientName
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		calls = append(calls, llm.ToolCall{Name: name, Arguments: use.Parameters})
	}
	return []llm.Part{llm.NewToolCalls(calls...)}
}

// wireText renders a text part for the wire, restoring the section tag
// the part was parsed out of.
func wireText(t *llm.TextPart) string {
	if t.Section != "" && t.Section != llm.DefaultSection {
		return "<" + t.Section + ">" + t.Body + "</" + t.Section + ">"
	}
	return t.Body
}

// wireToolCall renders a tool call as XML protocol text, for replaying
// history to models without native tool support.
func wireToolCall(call llm.ToolCall) string {
	args := "{}"
	if len(call.Arguments) > 0 {
		args = string(call.Arguments)
	}
	return `<tool_call name="` + call.Name + `">` + args + `</tool_call>`
}

// resultText flattens the textual contents of a tool result.
func resultText(contents []llm.Content) string {
	var texts []string
	for _, c := range contents {
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// callID returns the wire id of a tool call, falling back to the process
// id when the provider never assigned one.
func callID(call llm.ToolCall) string {
	if call.ID != "" {
		return call.ID
	}
	return call.ProcessID
}

// resultCallID returns the wire id a tool result pairs with.
func resultCallID(res *llm.ToolResultPart) string {
	if res.CallID != "" {
		return res.CallID
	}
	return res.ProcessID
}

// systemText assembles the final system prompt for a request: caller
// system text, section instructions, and the XML tool protocol for models
// without native tool support.
func systemText(req *Request) string {
	sections := []string{req.System}
	if s := llm.SectionInstructions(req.XMLSections); s != "" {
		sections = append(sections, s)
	}
	if !req.Model.NativeTools && len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		sections = append(sections, llm.XMLToolProtocol(req.Tools))
	}
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}
