package models

import (
	"encoding/json"
	"time"
)

// ThreadInfo is the metadata record of a message thread.
type ThreadInfo struct {
	URI       string    `json:"uri"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one entry of a thread's append-only log. IDs are time-ordered:
// lexicographic comparison of message ids agrees with temporal order, which
// is what makes cursors work.
type Message struct {
	ID        string           `json:"id"`
	AuthorID  string           `json:"authorId"`
	Timestamp time.Time        `json:"timestamp"`
	Parts     []BotMessagePart `json:"parts"`
}

// Cursor pins the last seen message of a thread.
type Cursor struct {
	ThreadURI     string `json:"threadUri"`
	LastMessageID string `json:"lastMessageId,omitempty"`
}

// String renders the cursor as threadUri + lastMessageId, so cursors for
// the same thread sort in message order.
func (c Cursor) String() string {
	return c.ThreadURI + c.LastMessageID
}

// BotMessagePartKind discriminates the closed variant of reply parts.
type BotMessagePartKind string

const (
	PartText BotMessagePartKind = "text"
	PartTool BotMessagePartKind = "tool"
)

// BotMessagePart is one rendered piece of a bot reply: either visible text
// or a tool invocation. Exactly one payload is non-nil for a given Kind.
type BotMessagePart struct {
	Kind BotMessagePartKind `json:"kind"`

	Text *MessageText `json:"text,omitempty"`
	Tool *MessageTool `json:"tool,omitempty"`
}

// MessageText is a visible text section of a reply. Section distinguishes
// tagged free-form sections ("text" is the default).
type MessageText struct {
	Body    string `json:"body"`
	Section string `json:"section,omitempty"`
}

// MessageTool is a tool invocation surfaced to the client.
type MessageTool struct {
	CallID    string          `json:"callId,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// NewTextPart builds a text part in the default section.
func NewTextPart(body string) BotMessagePart {
	return BotMessagePart{Kind: PartText, Text: &MessageText{Body: body}}
}

// NewToolPart builds a tool-call part.
func NewToolPart(callID, name string, args json.RawMessage) BotMessagePart {
	return BotMessagePart{Kind: PartTool, Tool: &MessageTool{CallID: callID, Name: name, Arguments: args}}
}
