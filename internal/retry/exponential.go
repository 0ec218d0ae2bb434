package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ExponentialBackoffStrategy implements retry with exponential backoff
type ExponentialBackoffStrategy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy
func NewExponentialBackoffStrategy(maxRetries int, initialDelay, maxDelay time.Duration) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// Execute runs the operation with exponential backoff retry logic
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, operation Operation) error {
	var lastErr error
	delay := s.initialDelay

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				slog.Info("Operation succeeded after retry",
					"attempt", attempt+1,
					"total_attempts", s.maxRetries+1)
			}
			return nil
		}

		lastErr = err

		// Domain errors (invariant violations, malformed events) are not
		// transient: retrying them only burns the delivery timeout.
		if !isRecoverableError(err) {
			return err
		}

		if attempt >= s.maxRetries {
			break
		}

		slog.Warn("Operation failed, retrying with exponential backoff",
			"attempt", attempt+1,
			"max_attempts", s.maxRetries+1,
			"retry_in", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

// Name returns the strategy name
func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}

// isRecoverableError reports whether an error is worth retrying: connection
// trouble and Postgres states that resolve on their own.
func isRecoverableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	recoverablePatterns := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"broken pipe",
		"i/o timeout",
		"eof",
		"dial tcp",
		"conn closed",
		"conn busy",
		"deadlock detected",
		"too many clients",
		"the database system is starting up",
		"sqlstate 40001", // serialization failure
		"sqlstate 40p01", // deadlock
	}

	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
