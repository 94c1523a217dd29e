// Package llm implements the model-facing conversation layer: the part
// model shared by all dialects, the run-structured history with token
// budgeting, and the completion proxy.
package llm

import "encoding/json"

// PartKind discriminates the closed variant of completion parts.
type PartKind string

const (
	// PartThink is model reasoning, possibly carrying an opaque signature.
	PartThink PartKind = "think"
	// PartText is visible text, attributed to a named section.
	PartText PartKind = "text"
	// PartToolCalls is a batch of tool invocations issued by the model.
	PartToolCalls PartKind = "toolCalls"
	// PartToolResult is the outcome of one tool invocation.
	PartToolResult PartKind = "toolResult"
	// PartInvalid carries content the adapter could not parse. It never
	// fails the completion; callers decide how to surface it.
	PartInvalid PartKind = "invalid"
)

// Part is one piece of a completion or of a history message. Exactly one
// payload is non-nil for a given Kind.
type Part struct {
	Kind PartKind `json:"kind"`

	Think      *ThinkPart      `json:"think,omitempty"`
	Text       *TextPart       `json:"text,omitempty"`
	ToolCalls  *ToolCallsPart  `json:"toolCalls,omitempty"`
	ToolResult *ToolResultPart `json:"toolResult,omitempty"`
	Invalid    *InvalidPart    `json:"invalid,omitempty"`
}

// ThinkPart is model reasoning. For providers with signed reasoning
// (anthropic, gemini) the signature must be carried back byte-exactly on
// the next turn; it is opaque to everything but the adapter.
type ThinkPart struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// TextPart is visible text. Section names the XML section it was parsed
// from; "text" is the default section.
type TextPart struct {
	Body    string `json:"body"`
	Section string `json:"section,omitempty"`
}

// ToolCall is one invocation within a ToolCalls part.
type ToolCall struct {
	// ID is the provider-assigned call id, when there is one.
	ID string `json:"id,omitempty"`
	// Name is the tool name after auto-correction (see providers).
	Name string `json:"name"`
	// Arguments is the parsed JSON argument object.
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// ProcessID is assigned by the orchestrator when the call is spawned.
	// Non-final streaming partials never carry one.
	ProcessID string `json:"processId,omitempty"`
}

// ToolCallsPart is a batch of tool invocations.
type ToolCallsPart struct {
	Calls []ToolCall `json:"calls"`
}

// ToolResultPart is the outcome of one tool invocation, matched to its
// call by process id. CallID carries the provider-assigned call id, which
// dialects with native pairing need on the wire.
type ToolResultPart struct {
	ProcessID string    `json:"processId"`
	CallID    string    `json:"callId,omitempty"`
	Name      string    `json:"name,omitempty"`
	Contents  []Content `json:"contents,omitempty"`
	IsError   bool      `json:"isError,omitempty"`
}

// InvalidPart retains content that failed to parse: a native tool call
// with broken argument JSON, or an XML section body that would not parse.
type InvalidPart struct {
	Raw    string `json:"raw"`
	Reason string `json:"reason,omitempty"`
}

// Mode is the retention class of a content item. Rendering in history mode
// drops temp contents; rendering in legacy mode drops temp and optional.
type Mode string

const (
	ModeRequired Mode = "required"
	ModeOptional Mode = "optional"
	ModeTemp     Mode = "temp"
)

// Content is one retained item inside a tool result or a pending-media
// message.
type Content struct {
	Mode  Mode   `json:"mode"`
	Text  string `json:"text,omitempty"`
	Media *Media `json:"media,omitempty"`
}

// Media is a binary blob a tool returned, typically an image. Blobs are
// re-injected as the next user message rather than inside tool results.
type Media struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// NewThink builds a reasoning part.
func NewThink(text, signature string) Part {
	return Part{Kind: PartThink, Think: &ThinkPart{Text: text, Signature: signature}}
}

// NewText builds a text part in the default section.
func NewText(body string) Part {
	return Part{Kind: PartText, Text: &TextPart{Body: body, Section: DefaultSection}}
}

// NewSectionText builds a text part in a named section.
func NewSectionText(section, body string) Part {
	return Part{Kind: PartText, Text: &TextPart{Body: body, Section: section}}
}

// NewToolCalls builds a tool-call batch part.
func NewToolCalls(calls ...ToolCall) Part {
	return Part{Kind: PartToolCalls, ToolCalls: &ToolCallsPart{Calls: calls}}
}

// NewToolResult builds a tool result part.
func NewToolResult(processID, name string, contents []Content, isErr bool) Part {
	return Part{Kind: PartToolResult, ToolResult: &ToolResultPart{
		ProcessID: processID, Name: name, Contents: contents, IsError: isErr,
	}}
}

// NewInvalid builds an invalid part.
func NewInvalid(raw, reason string) Part {
	return Part{Kind: PartInvalid, Invalid: &InvalidPart{Raw: raw, Reason: reason}}
}
