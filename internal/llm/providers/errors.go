package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailReason categorizes why a provider request failed. It drives the
// retry decision: only rate-limit style failures are retried in place.
type FailReason string

const (
	// FailRateLimit indicates rate limiting (HTTP 429).
	FailRateLimit FailReason = "rate_limit"

	// FailOverloaded indicates vendor-side overload responses, which
	// behave like rate limits for retry purposes.
	FailOverloaded FailReason = "overloaded"

	// FailTimeout indicates a request timeout.
	FailTimeout FailReason = "timeout"

	// FailAuth indicates authentication failure (HTTP 401, 403).
	FailAuth FailReason = "auth"

	// FailServerError indicates server-side issues (HTTP 5xx).
	FailServerError FailReason = "server_error"

	// FailInvalidRequest indicates client-side issues (HTTP 400).
	FailInvalidRequest FailReason = "invalid_request"

	// FailUnknown indicates an unclassified error.
	FailUnknown FailReason = "unknown"
)

// RetryInPlace reports whether the reason warrants retrying the same
// request on the fixed delay schedule.
func (r FailReason) RetryInPlace() bool {
	return r == FailRateLimit || r == FailOverloaded
}

// ProviderError is a structured error from a model provider, carrying the
// context the retry loop and logs need.
type ProviderError struct {
	// Reason categorizes the error for retry logic.
	Reason FailReason

	// Provider is the dialect name ("anthropic", "openai", "google").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps and classifies a provider failure.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus adds the HTTP status and reclassifies.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != FailUnknown {
		e.Reason = reason
	}
	return e
}

// ClassifyError inspects an error's text and returns a FailReason.
// Providers surface failures inconsistently, so this is string matching
// over the vendor vocabulary, same as the status codes they stand for.
func ClassifyError(err error) FailReason {
	if err == nil {
		return FailUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "overloaded"):
		return FailOverloaded
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "resource_exhausted"),
		strings.Contains(errStr, "429"):
		return FailRateLimit
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"):
		return FailTimeout
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "invalid_api_key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return FailAuth
	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return FailServerError
	default:
		return FailUnknown
	}
}

func classifyStatusCode(status int) FailReason {
	switch {
	case status == http.StatusTooManyRequests:
		return FailRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailAuth
	case status == http.StatusBadRequest:
		return FailInvalidRequest
	case status == 529: // anthropic "overloaded"
		return FailOverloaded
	case status >= 500:
		return FailServerError
	default:
		return FailUnknown
	}
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// RetryInPlace reports whether an arbitrary error should be retried on the
// fixed schedule.
func RetryInPlace(err error) bool {
	if providerErr, ok := AsProviderError(err); ok {
		return providerErr.Reason.RetryInPlace()
	}
	return ClassifyError(err).RetryInPlace()
}
