package models

import "encoding/json"

// WorkspaceRequestKind discriminates the closed variant of workspace
// requests a supervisor dispatches.
type WorkspaceRequestKind string

const (
	RequestChatbotSpawn   WorkspaceRequestKind = "chatbot/spawn"
	RequestProcessSpawn   WorkspaceRequestKind = "process/spawn"
	RequestProcessSigkill WorkspaceRequestKind = "process/sigkill"
	RequestProcessUpdate  WorkspaceRequestKind = "process/update"
)

// WorkspaceRequest is a request pushed onto a workspace's request queue.
// Exactly one payload is non-nil for a given Kind; a request whose Kind is
// unknown to the dispatcher produces a stream error, not a crash.
type WorkspaceRequest struct {
	Kind WorkspaceRequestKind `json:"kind"`

	ChatbotSpawn   *ChatbotSpawnRequest   `json:"chatbotSpawn,omitempty"`
	ProcessSpawn   *ProcessSpawnRequest   `json:"processSpawn,omitempty"`
	ProcessSigkill *ProcessSigkillRequest `json:"processSigkill,omitempty"`
	ProcessUpdate  *ProcessUpdateRequest  `json:"processUpdate,omitempty"`
}

// ToolDecl declares a client-side tool offered for the duration of one
// request: the model may call it, and the call is forwarded back to the
// client as an action instead of executing server-side.
type ToolDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ChatbotSpawnRequest starts one chatbot turn.
type ChatbotSpawnRequest struct {
	BotID      string   `json:"botId"`
	Persona    *Persona `json:"persona,omitempty"`
	ThreadURIs []string `json:"threadUris"`
	// ClientTools are declared per request and bridged through the
	// client-reply service.
	ClientTools []ToolDecl `json:"clientTools,omitempty"`
	// RecvTimeoutHint tells the server how patient the client's receive
	// loop is, in seconds. Zero means default.
	RecvTimeoutHint int `json:"recvTimeoutHint,omitempty"`
}

// ProcessSpawnRequest runs a registered tool as a standalone process.
type ProcessSpawnRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// ProcessID fixes the spawned id when set; otherwise one is generated.
	ProcessID string `json:"processId,omitempty"`
}

// ProcessSigkillRequest force-stops a process by URI.
type ProcessSigkillRequest struct {
	URI string `json:"uri"`
}

// ProcessUpdateRequest pushes progress, a result, or client actions into a
// process from outside the supervisor replica. The secret must map to the
// target process or to a registered service.
type ProcessUpdateRequest struct {
	Secret   string            `json:"secret,omitempty"`
	URI      string            `json:"uri"`
	Progress []json.RawMessage `json:"progress,omitempty"`
	Result   *ProcessResult    `json:"result,omitempty"`
	Actions  []ClientAction    `json:"actions,omitempty"`
}

// WrappedRequest pairs a request with the response channel its caller is
// watching.
type WrappedRequest struct {
	ChannelID string           `json:"channelId"`
	Request   WorkspaceRequest `json:"request"`
}
