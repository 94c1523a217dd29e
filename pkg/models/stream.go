package models

import "encoding/json"

// WorkspaceStreamKind discriminates response channel items.
type WorkspaceStreamKind string

const (
	StreamValue WorkspaceStreamKind = "value"
	StreamError WorkspaceStreamKind = "error"
	StreamClose WorkspaceStreamKind = "close"
)

// WorkspaceStream is one item on a response channel. A channel carries zero
// or more value items and terminates with exactly one close or error
// sentinel.
type WorkspaceStream struct {
	Kind WorkspaceStreamKind `json:"kind"`

	// Value holds the wrapped payload for kind "value".
	Value json.RawMessage `json:"value,omitempty"`
	// Error holds the encoded error envelope for kind "error".
	Error json.RawMessage `json:"error,omitempty"`
}

// NewStreamValue wraps an already-encoded payload.
func NewStreamValue(value json.RawMessage) WorkspaceStream {
	return WorkspaceStream{Kind: StreamValue, Value: value}
}

// NewStreamError wraps an encoded error envelope.
func NewStreamError(envelope json.RawMessage) WorkspaceStream {
	return WorkspaceStream{Kind: StreamError, Error: envelope}
}

// NewStreamClose is the end-of-stream sentinel.
func NewStreamClose() WorkspaceStream {
	return WorkspaceStream{Kind: StreamClose}
}

// ReplyStatus distinguishes provisional from final chatbot replies.
type ReplyStatus string

const (
	ReplyPartial ReplyStatus = "partial"
	ReplyDone    ReplyStatus = "done"
)

// ChatbotReply is the value payload a chatbot/spawn dispatch streams:
// provisional replies while the orchestrator runs, then one final done
// reply carrying the committed parts.
type ChatbotReply struct {
	Status  ReplyStatus      `json:"status"`
	Parts   []BotMessagePart `json:"parts,omitempty"`
	Actions []ClientAction   `json:"actions,omitempty"`
	// URI is the spawned chatbot process, present on the first reply so
	// clients can target sigkill.
	URI string `json:"uri,omitempty"`
}

// ProcessEvent is the value payload a process/spawn dispatch streams: one
// event per progress edge, then one carrying the terminal result.
type ProcessEvent struct {
	URI      string          `json:"uri,omitempty"`
	Progress json.RawMessage `json:"progress,omitempty"`
	Result   *ProcessResult  `json:"result,omitempty"`
}
