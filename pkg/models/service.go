package models

import (
	"encoding/json"
	"time"
)

// RegisteredService is a remote service registered with a workspace. The
// secret grants its holder push rights for process updates; both expire
// after one workday.
type RegisteredService struct {
	Workspace string     `json:"workspace"`
	ServiceID string     `json:"serviceId"`
	Tools     []ToolDecl `json:"tools,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ServiceRef is the value stored under a service secret.
type ServiceRef struct {
	Workspace string `json:"workspace"`
	ServiceID string `json:"serviceId"`
}

// RegisteredProcess is the value stored under a process secret.
type RegisteredProcess struct {
	URI string `json:"uri"`
}

// ClientAction is a tool invocation forwarded to a client-side service
// rather than executed server-side.
type ClientAction struct {
	ServiceID string          `json:"serviceId,omitempty"`
	CallID    string          `json:"callId,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// BotState is the durable per-(workspace, bot) record: the effective
// persona, the opaque provider conversation state, and the per-thread
// cursors. Expires after a week of inactivity.
type BotState struct {
	Persona Persona `json:"persona"`
	// LLMState is opaque to everything but the history layer.
	LLMState json.RawMessage `json:"llmState,omitempty"`
	// Cursors maps thread URI to the last seen message id.
	Cursors   map[string]string `json:"cursors,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
