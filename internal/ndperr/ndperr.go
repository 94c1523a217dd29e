// Package ndperr defines the structured error model shared across replicas.
//
// Every error that crosses a workspace response channel is encoded as an
// Envelope carrying an HTTP-ish code, a message, and a data block with a
// reporting guid, a kind, optional extra payload, and a stack trace. The
// kind drives client behavior:
//
//   - action:    silent (user cancellation, validation the user caused)
//   - normal:    surfaced directly to the user
//   - retryable: the client may retry the request
//   - runtime:   surfaced with the guid for incident reporting
package ndperr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies an error for cross-replica propagation.
type Kind string

const (
	// KindAction marks user-caused or user-cancelled failures. Never shown
	// as a system error.
	KindAction Kind = "action"
	// KindNormal marks failures surfaced directly to the user.
	KindNormal Kind = "normal"
	// KindRetryable marks transient failures the client may retry.
	KindRetryable Kind = "retryable"
	// KindRuntime marks unexpected failures surfaced with a reporting guid.
	KindRuntime Kind = "runtime"
)

// Error is a structured NDP error.
type Error struct {
	Code    int            `json:"code"`
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Kind    Kind           `json:"kind"`
	GUID    string         `json:"guid"`
	Extra   map[string]any `json:"extra,omitempty"`
	Stack   string         `json:"stack,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Name
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithExtra attaches a key/value pair to the error's extra payload.
func (e *Error) WithExtra(key string, value any) *Error {
	if e.Extra == nil {
		e.Extra = map[string]any{}
	}
	e.Extra[key] = value
	return e
}

// WithCause records the underlying error for %w-style unwrapping.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	if e.Message == "" && err != nil {
		e.Message = err.Error()
	}
	return e
}

// New builds an Error with a fresh guid and a captured stack trace.
func New(code int, name string, kind Kind, message string) *Error {
	return &Error{
		Code:    code,
		Name:    name,
		Message: message,
		Kind:    kind,
		GUID:    uuid.NewString(),
		Stack:   captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])
	// Drop the two frames belonging to this package.
	lines := strings.Split(stack, "\n")
	if len(lines) > 5 {
		return lines[0] + "\n" + strings.Join(lines[5:], "\n")
	}
	return stack
}

// BadTool names for tool validation failures.
const (
	BadToolArguments = "BadTool.bad_arguments"
	BadToolProgress  = "BadTool.bad_progress"
	BadToolReturn    = "BadTool.bad_return"
	BadToolNotFound  = "BadTool.not_found"
)

// BadToolArgumentsError reports arguments that failed schema validation. The
// process is not created.
func BadToolArgumentsError(tool string, cause error) *Error {
	return New(400, BadToolArguments, KindAction,
		fmt.Sprintf("invalid arguments for tool %q", tool)).WithCause(cause)
}

// BadToolProgressError reports a progress update that failed schema validation.
func BadToolProgressError(tool string, cause error) *Error {
	return New(400, BadToolProgress, KindAction,
		fmt.Sprintf("invalid progress for tool %q", tool)).WithCause(cause)
}

// BadToolReturnError reports a return value that failed schema validation.
func BadToolReturnError(tool string, cause error) *Error {
	return New(400, BadToolReturn, KindAction,
		fmt.Sprintf("invalid return value for tool %q", tool)).WithCause(cause)
}

// BadToolNotFoundError reports a tool name with no registered provider.
func BadToolNotFoundError(tool string) *Error {
	return New(404, BadToolNotFound, KindNormal, fmt.Sprintf("unknown tool %q", tool))
}

// BadProcess names for process lifecycle failures.
const (
	BadProcessDuplicate         = "BadProcess.duplicate"
	BadProcessNotFound          = "BadProcess.not_found"
	BadProcessUpdateAfterResult = "BadProcess.update_after_result"
)

// DuplicateProcessError reports a spawn at an already-used URI.
func DuplicateProcessError(uri string) *Error {
	return New(500, BadProcessDuplicate, KindRuntime,
		fmt.Sprintf("process already exists at %s", uri))
}

// ProcessNotFoundError reports a reference to a missing process.
func ProcessNotFoundError(uri string) *Error {
	return New(404, BadProcessNotFound, KindNormal,
		fmt.Sprintf("no process at %s", uri))
}

// UpdateAfterResultError reports a status mutation on a finished process.
// Results are monotonic: once assigned they are never overwritten.
func UpdateAfterResultError(uri string) *Error {
	return New(500, BadProcessUpdateAfterResult, KindRuntime,
		fmt.Sprintf("process %s already has a result", uri))
}

// LlmError names for completion failures.
const (
	LlmContextLimitExceeded = "LlmError.context_limit_exceeded"
	LlmNetworkError         = "LlmError.network_error"
	LlmBadCompletion        = "LlmError.bad_completion"
)

// ContextLimitError reports a conversation that no longer fits the model's
// request budget. Not retryable.
func ContextLimitError(model string, tokens, budget int) *Error {
	return New(500, LlmContextLimitExceeded, KindRuntime,
		fmt.Sprintf("conversation needs %d tokens but %s allows %d", tokens, model, budget))
}

// NetworkError reports an exhausted retry budget against a provider.
func NetworkError(provider string, cause error) *Error {
	return New(500, LlmNetworkError, KindRetryable,
		fmt.Sprintf("%s request failed", provider)).WithCause(cause)
}

// BadCompletionError reports a completion the adapter could not parse.
func BadCompletionError(provider string, cause error) *Error {
	return New(500, LlmBadCompletion, KindRetryable,
		fmt.Sprintf("%s returned an unusable completion", provider)).WithCause(cause)
}

// StoppedReason distinguishes the two stop paths.
type StoppedReason string

const (
	// ReasonStopped marks an explicit stop (sigkill, client stop, shutdown).
	ReasonStopped StoppedReason = "stopped"
	// ReasonTimeout marks a stop caused by a deadline or expiry.
	ReasonTimeout StoppedReason = "timeout"
)

// StoppedName is the error name of stop errors.
const StoppedName = "StoppedError"

// Stopped reports cancellation. Kind action: never rendered as a system
// failure.
func Stopped(reason StoppedReason) *Error {
	return New(418, StoppedName, KindAction, string(reason)).
		WithExtra("reason", string(reason))
}

// IsStopped reports whether err is (or wraps) a stop error.
func IsStopped(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Name == StoppedName
}

// StopReason extracts the stop reason, defaulting to ReasonStopped.
func StopReason(err error) StoppedReason {
	var e *Error
	if errors.As(err, &e) && e.Name == StoppedName {
		if r, ok := e.Extra["reason"].(string); ok && r == string(ReasonTimeout) {
			return ReasonTimeout
		}
	}
	return ReasonStopped
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Wrap coerces an arbitrary error into an *Error. Existing *Errors pass
// through unchanged; everything else becomes a runtime error.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return New(500, "RuntimeError", KindRuntime, err.Error()).WithCause(err)
}
