// Package models provides the shared domain types for the NDP backend.
package models

import (
	"encoding/json"
	"time"
)

// ProcessResultKind identifies the terminal outcome of a process.
type ProcessResultKind string

const (
	ResultSuccess ProcessResultKind = "success"
	ResultStopped ProcessResultKind = "stopped"
	ResultFailure ProcessResultKind = "failure"
)

// StopReason distinguishes a deliberate stop from an expiry.
type StopReason string

const (
	StopReasonStopped StopReason = "stopped"
	StopReasonTimeout StopReason = "timeout"
)

// ProcessResult is the closed variant of terminal process outcomes.
// Exactly one payload is non-nil for a given Kind.
type ProcessResult struct {
	Kind ProcessResultKind `json:"kind"`

	Success *SuccessResult `json:"success,omitempty"`
	Stopped *StoppedResult `json:"stopped,omitempty"`
	Failure *FailureResult `json:"failure,omitempty"`
}

// SuccessResult carries the process's return value.
type SuccessResult struct {
	Content json.RawMessage `json:"content"`
}

// StoppedResult records why the process was stopped.
type StoppedResult struct {
	Reason StopReason `json:"reason"`
}

// FailureResult carries the error envelope produced by the process.
// The payload is the cross-replica error envelope; decode it with the
// envelope codec rather than inspecting the raw JSON.
type FailureResult struct {
	Error json.RawMessage `json:"error"`
}

// NewSuccess builds a success result from an already-encoded content value.
func NewSuccess(content json.RawMessage) *ProcessResult {
	return &ProcessResult{Kind: ResultSuccess, Success: &SuccessResult{Content: content}}
}

// NewStopped builds a stopped result.
func NewStopped(reason StopReason) *ProcessResult {
	return &ProcessResult{Kind: ResultStopped, Stopped: &StoppedResult{Reason: reason}}
}

// NewFailure builds a failure result from an encoded error envelope.
func NewFailure(envelope json.RawMessage) *ProcessResult {
	return &ProcessResult{Kind: ResultFailure, Failure: &FailureResult{Error: envelope}}
}

// ProcessStatus is the durable status record of a process.
//
// Result is monotonic: once non-nil it is never overwritten; the process
// layer rejects any later update. Every mutation sets UpdatedAt; a process
// whose UpdatedAt is older than the expiry window while still active is
// considered expired by its supervisor.
type ProcessStatus struct {
	Name      string            `json:"name"`
	Arguments json.RawMessage   `json:"arguments,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Progress  []json.RawMessage `json:"progress,omitempty"`
	Result    *ProcessResult    `json:"result,omitempty"`
}

// Active reports whether the process has not yet reached a terminal result.
func (s *ProcessStatus) Active() bool {
	return s != nil && s.Result == nil
}

// Clone returns a deep snapshot so external holders never observe torn
// writes to the live status.
func (s *ProcessStatus) Clone() *ProcessStatus {
	if s == nil {
		return nil
	}
	out := *s
	if s.Progress != nil {
		out.Progress = make([]json.RawMessage, len(s.Progress))
		for i, p := range s.Progress {
			out.Progress[i] = append(json.RawMessage(nil), p...)
		}
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return &out
}

// ProcessDefinition is the persisted executor record for a spawned process.
type ProcessDefinition struct {
	Name      string          `json:"name"`
	URI       string          `json:"uri"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
