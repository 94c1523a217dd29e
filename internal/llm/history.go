package llm

import (
	"encoding/json"
	"fmt"

	"github.com/workmesh/ndp/internal/ndperr"
)

func contextLimit(model ModelInfo, tokens int) error {
	return ndperr.ContextLimitError(model.Name, tokens, model.ContextTokens)
}

// Role attributes a history message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
	RoleTool Role = "tool"
)

// Origin classifies who is adding a part to the history. User text starts
// a new task; service text joins the current one.
type Origin string

const (
	OriginUser    Origin = "user"
	OriginService Origin = "service"
	OriginBot     Origin = "bot"
)

// EmbedsName marks the synthetic tool-result part that carries pending
// media into the next user message.
const EmbedsName = "tool-result-embeds"

// stillRunningText is the synthesized result body for tool calls that have
// not resolved by the time the next request must be built.
const stillRunningText = "still running"

// expiredSentinel replaces non-error tool result contents in legacy
// rendering.
const expiredSentinel = `{"expired": "tool result dropped from context"}`

// Message is one history message: a role and its parts.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Run is a sealed task: its messages plus precomputed token totals for the
// two render modes.
type Run struct {
	Messages        []Message `json:"messages"`
	NumTokens       int       `json:"numTokens"`
	NumTokensLegacy int       `json:"numTokensLegacy"`
}

// History is the model-facing conversation state: sealed runs, the
// in-progress run, media waiting to be injected, and tool calls waiting
// for results.
type History struct {
	model   ModelInfo
	counter *TokenCounter

	runs         []Run
	current      []Message
	pendingMedia []Content
	pendingTools []ToolCall

	// hasNativeToolCalls is sticky: once a native tool call enters the
	// history, reuse on a model without native tools is impossible.
	hasNativeToolCalls bool
}

// NewHistory creates an empty history for a model.
func NewHistory(model ModelInfo, counter *TokenCounter) *History {
	if counter == nil {
		counter = NewTokenCounter()
	}
	return &History{model: model, counter: counter}
}

// Model returns the model this history is bound to.
func (h *History) Model() ModelInfo { return h.model }

// PendingTools returns the unresolved tool calls, oldest first.
func (h *History) PendingTools() []ToolCall {
	return append([]ToolCall(nil), h.pendingTools...)
}

// AddPart classifies a part and appends it to the current run.
//
// Rules: user text begins a new task (pending and current are flushed
// first); service text only flushes pending; a tool result pairs with its
// pending call for native-tool models and renders as a user-visible XML
// block otherwise; bot parts append under the bot role, registering any
// tool calls as pending.
func (h *History) AddPart(origin Origin, p Part) {
	switch {
	case p.Kind == PartText && origin == OriginUser:
		h.FlushPending()
		h.FlushTask()
		h.append(RoleUser, p)

	case p.Kind == PartText && origin == OriginService:
		h.FlushPending()
		h.append(RoleUser, p)

	case p.Kind == PartToolResult:
		h.addToolResult(p)

	case p.Kind == PartToolCalls:
		if h.model.NativeTools {
			h.pendingTools = append(h.pendingTools, p.ToolCalls.Calls...)
			h.hasNativeToolCalls = true
		}
		h.append(RoleBot, p)

	default:
		// think, bot text, invalid
		h.append(RoleBot, p)
	}
}

func (h *History) addToolResult(p Part) {
	result := *p.ToolResult

	// Media never stays inside the result; it is injected as the next
	// user message instead.
	var kept []Content
	for _, c := range result.Contents {
		if c.Media != nil {
			h.pendingMedia = append(h.pendingMedia, c)
			continue
		}
		kept = append(kept, c)
	}
	result.Contents = kept

	if h.model.NativeTools && h.takePendingTool(result.ProcessID) {
		h.append(RoleTool, Part{Kind: PartToolResult, ToolResult: &result})
		return
	}

	// No native pairing: render as a user-visible block.
	body := fmt.Sprintf("<tool-result name=%q>%s</tool-result>", result.Name, joinContents(result.Contents))
	h.append(RoleUser, NewText(body))
}

func (h *History) takePendingTool(processID string) bool {
	for i, call := range h.pendingTools {
		if call.ProcessID == processID && processID != "" {
			h.pendingTools = append(h.pendingTools[:i], h.pendingTools[i+1:]...)
			return true
		}
	}
	return false
}

// append merges consecutive same-role parts into one message, which keeps
// the rendered conversation strictly role-alternating.
func (h *History) append(role Role, p Part) {
	if n := len(h.current); n > 0 && h.current[n-1].Role == role && role != RoleTool {
		h.current[n-1].Parts = append(h.current[n-1].Parts, p)
		return
	}
	h.current = append(h.current, Message{Role: role, Parts: []Part{p}})
}

// FlushPending prepares the current run for the next request: unresolved
// tool calls get synthesized "still running" results (native-tool models
// demand a result message after every call message), and pending media
// drains into a single optional-mode user message.
func (h *History) FlushPending() {
	if h.model.NativeTools {
		for _, call := range h.pendingTools {
			h.append(RoleTool, Part{Kind: PartToolResult, ToolResult: &ToolResultPart{
				ProcessID: call.ProcessID,
				CallID:    call.ID,
				Name:      call.Name,
				Contents:  []Content{{Mode: ModeOptional, Text: stillRunningText}},
			}})
		}
		h.pendingTools = nil
	}
	if len(h.pendingMedia) > 0 {
		contents := make([]Content, len(h.pendingMedia))
		for i, c := range h.pendingMedia {
			c.Mode = ModeOptional
			contents[i] = c
		}
		h.pendingMedia = nil
		h.append(RoleUser, Part{Kind: PartToolResult, ToolResult: &ToolResultPart{
			Name:     EmbedsName,
			Contents: contents,
		}})
	}
}

// FlushTask seals the current run with its precomputed token totals.
func (h *History) FlushTask() {
	if len(h.current) == 0 {
		return
	}
	run := Run{Messages: h.current}
	for _, msg := range run.Messages {
		run.NumTokens += h.countMessage(msg, renderHistory)
		run.NumTokensLegacy += h.countMessage(msg, renderLegacy)
	}
	h.runs = append(h.runs, run)
	h.current = nil
}

// Reuse clones the history for a different model. It fails when the new
// model cannot faithfully carry the existing conversation.
func (h *History) Reuse(next ModelInfo) (*History, error) {
	if err := h.model.CompatibleWith(next, h.hasNativeToolCalls); err != nil {
		return nil, err
	}
	clone := &History{
		model:              next,
		counter:            h.counter,
		runs:               append([]Run(nil), h.runs...),
		current:            append([]Message(nil), h.current...),
		pendingMedia:       append([]Content(nil), h.pendingMedia...),
		pendingTools:       append([]ToolCall(nil), h.pendingTools...),
		hasNativeToolCalls: h.hasNativeToolCalls,
	}
	return clone, nil
}

// renderMode selects the retention class filter.
type renderMode int

const (
	renderCurrent renderMode = iota
	renderHistory
	renderLegacy
)

// keeps reports whether a content item survives the render mode, per the
// retention table: current keeps everything, history drops temp, legacy
// drops temp and optional.
func (m renderMode) keeps(mode Mode) bool {
	switch m {
	case renderCurrent:
		return true
	case renderHistory:
		return mode != ModeTemp
	default:
		return mode == ModeRequired
	}
}

// Render materializes the conversation for a request. Recent runs render
// in history mode; once the recent-token window is exceeded, older runs
// render in legacy mode. The overall total (plus the reserved token count
// for system text and output) must fit the model's request budget or the
// render fails with a context-limit error.
func (h *History) Render(reservedTokens int) ([]Message, error) {
	type renderedRun struct {
		messages []Message
		tokens   int
	}

	currentTokens := 0
	for _, msg := range h.current {
		currentTokens += h.countMessage(msg, renderCurrent)
	}

	recentBudget := h.model.RecentTokens
	window := currentTokens
	total := currentTokens + reservedTokens

	older := make([]renderedRun, 0, len(h.runs))
	for i := len(h.runs) - 1; i >= 0; i-- {
		run := h.runs[i]
		mode := renderHistory
		tokens := run.NumTokens
		if window+run.NumTokens > recentBudget {
			mode = renderLegacy
			tokens = run.NumTokensLegacy
		} else {
			window += run.NumTokens
		}
		total += tokens
		older = append(older, renderedRun{messages: renderMessages(run.Messages, mode), tokens: tokens})
	}

	if total > h.model.ContextTokens {
		return nil, contextLimit(h.model, total)
	}

	var out []Message
	for i := len(older) - 1; i >= 0; i-- {
		out = append(out, older[i].messages...)
	}
	out = append(out, renderMessages(h.current, renderCurrent)...)
	return out, nil
}

func renderMessages(msgs []Message, mode renderMode) []Message {
	var out []Message
	for _, msg := range msgs {
		var parts []Part
		for _, p := range msg.Parts {
			if rendered, ok := renderPart(p, mode); ok {
				parts = append(parts, rendered)
			}
		}
		if len(parts) > 0 {
			out = append(out, Message{Role: msg.Role, Parts: parts})
		}
	}
	return out
}

func renderPart(p Part, mode renderMode) (Part, bool) {
	switch p.Kind {
	case PartThink:
		// Reasoning is dropped from legacy context.
		if mode == renderLegacy {
			return Part{}, false
		}
		return p, true
	case PartToolResult:
		result := *p.ToolResult
		if mode == renderLegacy && !result.IsError {
			result.Contents = []Content{{Mode: ModeRequired, Text: expiredSentinel}}
			return Part{Kind: PartToolResult, ToolResult: &result}, true
		}
		var kept []Content
		for _, c := range result.Contents {
			if mode.keeps(c.Mode) {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			return Part{}, false
		}
		result.Contents = kept
		return Part{Kind: PartToolResult, ToolResult: &result}, true
	default:
		return p, true
	}
}

// countMessage totals a message's tokens under a render mode.
func (h *History) countMessage(msg Message, mode renderMode) int {
	n := 0
	for _, p := range msg.Parts {
		rendered, ok := renderPart(p, mode)
		if !ok {
			continue
		}
		switch rendered.Kind {
		case PartThink:
			n += h.counter.Count(rendered.Think.Text)
		case PartText:
			n += h.counter.Count(rendered.Text.Body)
		case PartToolCalls:
			for _, call := range rendered.ToolCalls.Calls {
				n += h.counter.Count(call.Name) + h.counter.Count(string(call.Arguments))
			}
		case PartToolResult:
			for _, c := range rendered.ToolResult.Contents {
				n += h.counter.CountContent(c)
			}
		case PartInvalid:
			n += h.counter.Count(rendered.Invalid.Raw)
		}
	}
	return n
}

func joinContents(contents []Content) string {
	out := ""
	for _, c := range contents {
		if c.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += c.Text
		}
	}
	return out
}

// historyState is the serialized form stored as opaque llmState.
type historyState struct {
	Model              string    `json:"model"`
	Think              ThinkMode `json:"think"`
	NativeTools        bool      `json:"nativeTools"`
	HasNativeToolCalls bool      `json:"hasNativeToolCalls"`
	Runs               []Run     `json:"runs,omitempty"`
	Current            []Message `json:"current,omitempty"`
	PendingMedia       []Content `json:"pendingMedia,omitempty"`
	PendingTools       []ToolCall `json:"pendingTools,omitempty"`
}

// MarshalState serializes the history for bot-state persistence.
func (h *History) MarshalState() (json.RawMessage, error) {
	return json.Marshal(historyState{
		Model:              h.model.Name,
		Think:              h.model.Think,
		NativeTools:        h.model.NativeTools,
		HasNativeToolCalls: h.hasNativeToolCalls,
		Runs:               h.runs,
		Current:            h.current,
		PendingMedia:       h.pendingMedia,
		PendingTools:       h.pendingTools,
	})
}

// RestoreHistory deserializes a saved history for the given model. The
// compatibility rules of Reuse apply; an incompatible saved state fails
// and the caller starts fresh.
func RestoreHistory(model ModelInfo, state json.RawMessage, counter *TokenCounter) (*History, error) {
	var s historyState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("llm: decode saved state: %w", err)
	}
	saved := ModelInfo{Name: s.Model, Think: s.Think, NativeTools: s.NativeTools}
	if err := saved.CompatibleWith(model, s.HasNativeToolCalls); err != nil {
		return nil, err
	}
	if counter == nil {
		counter = NewTokenCounter()
	}
	return &History{
		model:              model,
		counter:            counter,
		runs:               s.Runs,
		current:            s.Current,
		pendingMedia:       s.PendingMedia,
		pendingTools:       s.PendingTools,
		hasNativeToolCalls: s.HasNativeToolCalls,
	}, nil
}
