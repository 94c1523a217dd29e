// Package retry provides fixed-schedule retrying for network operations.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/workmesh/ndp/internal/signals"
)

// Schedule is the list of delays between attempts. Attempts = len + 1.
type Schedule []time.Duration

// LLMSchedule is the delay schedule for rate-limited model calls.
var LLMSchedule = Schedule{2 * time.Second, 30 * time.Second, 60 * time.Second}

// LLMScheduleDev is the shortened schedule used in dev mode.
var LLMScheduleDev = Schedule{30 * time.Second}

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
}

// Do executes op, retrying once per schedule entry after retryable errors.
// A nil or permanent error returns immediately. The sleep between attempts
// is interrupted by context cancellation and by the stopping signal; stop
// may be nil.
func Do(ctx context.Context, schedule Schedule, stop *signals.Stopping, op func() error) Result {
	result := Result{}
	var stopCh <-chan struct{}
	if stop != nil {
		stopCh = stop.Chan()
	}

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}

		err := op()
		if err == nil {
			result.Err = nil
			return result
		}
		result.Err = err

		if IsPermanent(err) || attempt >= len(schedule) {
			return result
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		case <-stopCh:
			return result
		case <-time.After(schedule[attempt]):
		}
	}
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, schedule Schedule, stop *signals.Stopping, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, schedule, stop, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// IsRetryable checks if an error is retryable (not permanent and not nil).
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}
