package helpers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"screener-engine/src/logger"
)

// ErrNotFound is returned by stores for unknown keys.
var ErrNotFound = errors.New("not found")

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type ScreenerError struct {
	Message string
	Cause   error
}

func (e *ScreenerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ScreenerError) Unwrap() error {
	return e.Cause
}

// Helper to define distinct error types for type assertions if needed
type ConfigurationError struct{ ScreenerError }
type DatabaseError struct{ ScreenerError }
type ValidationError struct{ ScreenerError }

// BatchError reports a refresh pass that failed and released its claim.
type BatchError struct {
	ScreenerError
	Symbols []string
}

// -----------------------------------------------------------------------------

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{ScreenerError{Message: message, Cause: cause}}
}

func NewDatabaseError(message string, cause error) *DatabaseError {
	return &DatabaseError{ScreenerError{Message: message, Cause: cause}}
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{ScreenerError{Message: message, Cause: cause}}
}

func NewBatchError(symbols []string, cause error) *BatchError {
	return &BatchError{
		ScreenerError: ScreenerError{
			Message: fmt.Sprintf("refresh of %d instruments failed", len(symbols)),
			Cause:   cause,
		},
		Symbols: symbols,
	}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times
// with exponential backoff. It gives up early when ctx is done.
func RetryWithBackoff(ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt == maxRetries-1 || !Retryable(err) {
			break
		}

		delay := baseDelay * (1 << attempt)
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// -----------------------------------------------------------------------------

// Retryable reports whether err looks transient. Validation failures and
// missing keys never get better on retry.
func Retryable(err error) bool {
	var verr *ValidationError
	if errors.As(err, &verr) || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{"syntax error", "no such table", "does not exist"} {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	return true
}
