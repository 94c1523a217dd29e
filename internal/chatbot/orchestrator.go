// Package chatbot implements the multi-step reply orchestrator: it loads a
// bot's durable state, feeds new thread messages into the model history,
// runs up to MaxSteps completion/tool rounds, and commits the reply back to
// the thread.
package chatbot

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

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

// MaxSteps bounds the completion/tool rounds of one turn. Tools are
// withheld on the last step, forcing a final answer, so the loop cannot
// diverge.
const MaxSteps = 5

// ProcessName is the registered name of chatbot processes.
const ProcessName = "chatbot"

// protocolInstructions is the static preamble of every system message.
const protocolInstructions = "You are a conversational assistant operating inside a shared workspace. " +
	"Reply to the newest user messages. Use the available tools when they help; " +
	"answer directly when they do not. Keep replies concise."

// Config carries the workspace-level collaborators one chatbot run needs.
type Config struct {
	Store     kv.Store
	Threads   *thread.Store
	Providers *providers.Registry
	Tools     *tools.Registry
	Manager   *process.Manager
	Counter   *llm.TokenCounter

	// Models is the model catalog, keyed by catalog name.
	Models map[string]llm.ModelInfo
	// DefaultPersona applies beneath saved and requested personas.
	DefaultPersona models.Persona

	Stop *signals.Stopping
}

// Outcome is the success content of a finished chatbot process: the
// committed reply parts and any client actions raised along the way.
type Outcome struct {
	Parts   []models.BotMessagePart `json:"parts,omitempty"`
	Actions []models.ClientAction   `json:"actions,omitempty"`
}

// Chatbot is one chatbot turn, run as a process.
type Chatbot struct {
	cfg       Config
	workspace string
	req       *models.ChatbotSpawnRequest
	replies   *ReplyService
	log       *slog.Logger
}

// New builds a chatbot runner for one spawn request. The reply service is
// shared with the dispatcher that streams it back to the client.
func New(cfg Config, workspace string, req *models.ChatbotSpawnRequest, replies *ReplyService) *Chatbot {
	return &Chatbot{
		cfg:       cfg,
		workspace: workspace,
		req:       req,
		replies:   replies,
		log:       slog.With("component", "chatbot", "bot", req.BotID),
	}
}

// OnSigterm relays a sigterm into the client stop flag so the in-flight
// completion and tool waits unwind, then lets the run assign its own result.
func (c *Chatbot) OnSigterm(ctx context.Context, h *process.Handle) {
	c.replies.Stop().Set()
}

// Run executes the turn. The returned content is the encoded Outcome.
func (c *Chatbot) Run(ctx context.Context, h *process.Handle) (json.RawMessage, error) {
	state, err := LoadBotState(ctx, c.cfg.Store, c.workspace, c.req.BotID)
	if err != nil {
		return nil, err
	}
	persona := c.effectivePersona(state)

	model, ok := c.cfg.Models[persona.Model]
	if !ok {
		return nil, ndperr.New(404, "LlmError.unknown_model", ndperr.KindNormal,
			"no model named "+persona.Model+" in the catalog")
	}

	history := c.restoreHistory(model, state)
	if err := c.ingestThreads(ctx, history, state); err != nil {
		return nil, err
	}

	if err := c.steps(ctx, h, history, persona); err != nil {
		return nil, err
	}

	outcome := Outcome{Parts: c.replies.Committed(), Actions: c.replies.Actions()}
	if err := c.commitReply(ctx, history, state, outcome.Parts); err != nil {
		return nil, err
	}

	state.Persona = *persona
	if raw, err := history.MarshalState(); err == nil {
		state.LLMState = raw
	} else {
		c.log.Warn("history state not saved", "error", err)
	}
	if err := SaveBotState(ctx, c.cfg.Store, c.workspace, c.req.BotID, state); err != nil {
		return nil, err
	}

	return json.Marshal(outcome)
}

// effectivePersona layers the saved persona over the workspace default,
// then the requested one over both.
func (c *Chatbot) effectivePersona(state *models.BotState) *models.Persona {
	base := c.cfg.DefaultPersona.Merge(&state.Persona)
	return base.Merge(c.req.Persona)
}

// restoreHistory revives the saved conversation when the model can carry
// it; any incompatibility or decode failure starts fresh.
func (c *Chatbot) restoreHistory(model llm.ModelInfo, state *models.BotState) *llm.History {
	if len(state.LLMState) > 0 {
		history, err := llm.RestoreHistory(model, state.LLMState, c.cfg.Counter)
		if err == nil {
			return history
		}
		c.log.Info("starting fresh history", "reason", err)
	}
	return llm.NewHistory(model, c.cfg.Counter)
}

// ingestThreads inserts every new message across the request's threads into
// the history in (timestamp, messageId) order and advances the cursors.
func (c *Chatbot) ingestThreads(ctx context.Context, history *llm.History, state *models.BotState) error {
	cursors := make([]models.Cursor, 0, len(c.req.ThreadURIs))
	for _, uri := range c.req.ThreadURIs {
		cursors = append(cursors, models.Cursor{ThreadURI: uri, LastMessageID: state.Cursors[uri]})
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].String() < cursors[j].String() })

	msgs, err := c.cfg.Threads.ListMessages(ctx, cursors)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.AuthorID != c.req.BotID {
			for _, part := range m.Parts {
				if part.Kind == models.PartText && part.Text != nil {
					history.AddPart(llm.OriginUser, llm.NewText(part.Text.Body))
				}
			}
		}
		state.Cursors[m.ThreadURI] = m.ID
	}
	return nil
}

// steps runs the completion/tool loop.
func (c *Chatbot) steps(ctx context.Context, h *process.Handle, history *llm.History, persona *models.Persona) error {
	for step := 0; step < MaxSteps; step++ {
		specs := c.activeTools(persona)
		req := &providers.Request{
			Model:       history.Model(),
			System:      c.systemText(persona),
			Tools:       specs,
			ToolChoice:  providers.ToolChoiceAuto,
			Temperature: persona.Temperature,
			OnPartial:   c.putReply,
		}
		if step == MaxSteps-1 {
			req.Tools = nil
			req.ToolChoice = providers.ToolChoiceNone
		}

		history.FlushPending()
		rendered, err := history.Render(history.Model().MaxOutputTokens)
		if err != nil {
			return err
		}
		req.Messages = rendered

		parts, err := c.cfg.Providers.GetCompletion(ctx, req)
		if err != nil {
			return err
		}

		calls := c.assignProcessIDs(parts)
		for _, p := range parts {
			history.AddPart(llm.OriginBot, p)
		}
		c.replies.Commit(renderParts(parts))

		if len(calls) == 0 {
			return nil
		}
		if err := c.runTools(ctx, h, history, calls); err != nil {
			return err
		}
	}
	return nil
}

// putReply streams the partial parse to the client, aborting the completion
// when the client stop flag is set.
func (c *Chatbot) putReply(parts []llm.Part) error {
	if c.replies.Stop().IsSet() {
		return ndperr.Stopped(ndperr.ReasonStopped)
	}
	c.replies.PutProvisional(renderParts(parts))
	return nil
}

// assignProcessIDs gives every tool call its spawn process id up front, so
// the history's pending calls pair with the results by process id. The
// provider call id is used when it happens to be a valid process id.
func (c *Chatbot) assignProcessIDs(parts []llm.Part) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, p := range parts {
		if p.Kind != llm.PartToolCalls {
			continue
		}
		for i := range p.ToolCalls.Calls {
			call := &p.ToolCalls.Calls[i]
			if ids.ValidProcessID(call.ID) {
				call.ProcessID = call.ID
			} else {
				call.ProcessID = ids.NewProcessID()
			}
			calls = append(calls, *call)
		}
	}
	return calls
}

// runTools spawns every call and feeds the results back into the history.
// A name that is neither a registered tool nor a declared client tool is a
// user-visible error that ends the turn.
func (c *Chatbot) runTools(ctx context.Context, h *process.Handle, history *llm.History, calls []llm.ToolCall) error {
	type spawned struct {
		call     llm.ToolCall
		handle   *process.Handle
		listener *process.Listener
	}
	var running []spawned

	for _, call := range calls {
		if decl, ok := c.replies.ClientTool(call.Name); ok {
			c.dispatchClientAction(history, call, decl)
			continue
		}
		prov, err := c.cfg.Tools.Lookup(call.Name)
		if err != nil {
			return err
		}
		childURI, err := h.URI().Child(call.ProcessID)
		if err != nil {
			return err
		}
		child, err := c.cfg.Manager.SpawnProcess(ctx, process.Spawn{
			URI:       childURI,
			Name:      call.Name,
			Arguments: call.Arguments,
			Schema:    prov.Compiled(),
			Runner:    prov.Factory(call.Arguments),
		})
		if err != nil {
			// Spawn-time validation failures go back to the model so it
			// can correct the call on the next step.
			history.AddPart(llm.OriginService, errorResult(call, err))
			continue
		}
		running = append(running, spawned{call: call, handle: child, listener: child.Listen()})
	}

	for _, s := range running {
		if err := c.waitResult(s.listener); err != nil {
			for _, rest := range running {
				rest.handle.Unlisten(rest.listener)
			}
			return err
		}
		s.handle.Unlisten(s.listener)
		history.AddPart(llm.OriginService, resultPart(s.call, s.handle.Status().Result))
	}
	return nil
}

// waitResult blocks until the listener fires, the global stopping signal
// is set, or the client stop flag is set.
func (c *Chatbot) waitResult(l *process.Listener) error {
	var stopCh <-chan struct{}
	if c.cfg.Stop != nil {
		stopCh = c.cfg.Stop.Chan()
	}
	select {
	case <-l.ResultChan():
		return nil
	case <-stopCh:
		return ndperr.Stopped(ndperr.ReasonStopped)
	case <-c.replies.Stop().Chan():
		return ndperr.Stopped(ndperr.ReasonStopped)
	}
}

// dispatchClientAction forwards a client-tool call to the reply service
// and records an optimistic result so the model is not left with a pending
// call it can never resolve server-side.
func (c *Chatbot) dispatchClientAction(history *llm.History, call llm.ToolCall, decl models.ToolDecl) {
	c.replies.AddAction(models.ClientAction{
		CallID:    call.ProcessID,
		Name:      decl.Name,
		Arguments: call.Arguments,
	})
	history.AddPart(llm.OriginService, llm.Part{Kind: llm.PartToolResult, ToolResult: &llm.ToolResultPart{
		ProcessID: call.ProcessID,
		CallID:    call.ID,
		Name:      call.Name,
		Contents:  []llm.Content{{Mode: llm.ModeOptional, Text: "forwarded to the client for execution"}},
	}})
}

// commitReply appends the committed parts to the primary thread as the
// bot's message and advances the cursor past it.
func (c *Chatbot) commitReply(ctx context.Context, history *llm.History, state *models.BotState, parts []models.BotMessagePart) error {
	if len(parts) == 0 || len(c.req.ThreadURIs) == 0 {
		return nil
	}
	primary := c.req.ThreadURIs[0]
	msg, err := c.cfg.Threads.Append(ctx, primary, c.req.BotID, parts)
	if err != nil {
		return err
	}
	state.Cursors[primary] = msg.ID
	return nil
}

// activeTools selects the registered and client tools the persona permits.
func (c *Chatbot) activeTools(persona *models.Persona) []llm.ToolSpec {
	var specs []llm.ToolSpec
	for _, spec := range c.cfg.Tools.Specs() {
		if persona.Allows(spec.Name) {
			specs = append(specs, spec)
		}
	}
	for _, decl := range c.replies.ClientTools() {
		if persona.Allows(decl.Name) {
			specs = append(specs, llm.ToolSpec{Name: decl.Name, Description: decl.Description, Schema: decl.Schema})
		}
	}
	return specs
}

// systemText composes the system message: protocol preamble plus the
// persona's own instructions.
func (c *Chatbot) systemText(persona *models.Persona) string {
	text := protocolInstructions
	if persona.System != "" {
		text += "\n\n" + persona.System
	}
	return text
}

// renderParts converts completion parts into client-facing message parts.
// Think and invalid parts are never surfaced; tool results have their own
// path through the history.
func renderParts(parts []llm.Part) []models.BotMessagePart {
	var out []models.BotMessagePart
	for _, p := range parts {
		switch p.Kind {
		case llm.PartText:
			out = append(out, models.BotMessagePart{Kind: models.PartText, Text: &models.MessageText{
				Body:    p.Text.Body,
				Section: p.Text.Section,
			}})
		case llm.PartToolCalls:
			for _, call := range p.ToolCalls.Calls {
				out = append(out, models.NewToolPart(callOrProcessID(call), call.Name, call.Arguments))
			}
		}
	}
	return out
}

func callOrProcessID(call llm.ToolCall) string {
	if call.ID != "" {
		return call.ID
	}
	return call.ProcessID
}

// resultPart converts a terminal process result into the tool-result part
// fed back to the model.
func resultPart(call llm.ToolCall, result *models.ProcessResult) llm.Part {
	res := &llm.ToolResultPart{ProcessID: call.ProcessID, CallID: call.ID, Name: call.Name}
	switch {
	case result == nil:
		res.Contents = []llm.Content{{Mode: llm.ModeOptional, Text: "no result"}}
		res.IsError = true
	case result.Kind == models.ResultSuccess:
		res.Contents = tools.DecodeOutput(result.Success.Content)
	case result.Kind == models.ResultStopped:
		res.Contents = []llm.Content{{Mode: llm.ModeOptional, Text: "stopped before completing"}}
		res.IsError = true
	default:
		res.IsError = true
		text := "tool failed"
		if e, err := ndperr.DecodeJSON(result.Failure.Error); err == nil {
			text = e.Error()
		}
		res.Contents = []llm.Content{{Mode: llm.ModeRequired, Text: text}}
	}
	return llm.Part{Kind: llm.PartToolResult, ToolResult: res}
}

// errorResult renders a spawn failure as an error tool result.
func errorResult(call llm.ToolCall, err error) llm.Part {
	return llm.Part{Kind: llm.PartToolResult, ToolResult: &llm.ToolResultPart{
		ProcessID: call.ProcessID,
		CallID:    call.ID,
		Name:      call.Name,
		IsError:   true,
		Contents:  []llm.Content{{Mode: llm.ModeRequired, Text: ndperr.Wrap(err).Error()}},
	}}
}
