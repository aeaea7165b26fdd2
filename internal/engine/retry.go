package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// IsRetryableError classifies whether a failed attempt may be retried.
// Every error is retryable unless the run was cancelled or the error carries
// a non-retryable FlowError code (see schema.Permanent).
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation means the caller is shutting the run down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrPoolShutdown) {
		return false
	}

	// Per-attempt timeouts surface as DeadlineExceeded and are retried.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}

	return true
}

// ComputeBackoff calculates the delay before the retry that follows the
// zero-based failed attempt. MaxDelay caps every strategy including Custom.
func ComputeBackoff(policy schema.RetryPolicy, attempt int) time.Duration {
	var delay time.Duration
	switch {
	case policy.Custom != nil:
		delay = policy.Custom(attempt)
	case policy.Backoff == schema.BackoffNone:
		return 0
	case policy.Backoff == schema.BackoffExponential:
		// 2^attempt * base, saturating instead of overflowing.
		if attempt >= 62 || policy.Delay > time.Duration(math.MaxInt64>>uint(attempt)) {
			delay = time.Duration(math.MaxInt64)
		} else {
			delay = policy.Delay << uint(attempt)
		}
	case policy.Backoff == schema.BackoffLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default: // constant or empty
		delay = policy.Delay
	}

	if delay < 0 {
		delay = 0
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for the computed backoff duration or returns early if the context is cancelled.
// Returns an error if the context was cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AttemptFunc runs one attempt. attempt is 1-based.
type AttemptFunc func(ctx context.Context, attempt int) error

// RetryHook observes an attempt that failed and will be retried after delay.
type RetryHook func(attempt int, err error, delay time.Duration)

// Retry invokes fn until it succeeds, the policy's attempts are used up, a
// non-retryable error is returned or ctx is done. It returns the number of
// attempts made and the last error.
func Retry(ctx context.Context, policy schema.RetryPolicy, fn AttemptFunc, onRetry RetryHook) (int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, cancelled(lastErr, err)
		}

		lastErr = SafeCall(func() error { return fn(ctx, attempt) })
		if lastErr == nil {
			return attempt, nil
		}
		// The caller cancelled during the attempt; the attempt's error stays in the chain.
		if err := ctx.Err(); err != nil {
			return attempt, cancelled(lastErr, err)
		}
		if attempt == maxAttempts || !IsRetryableError(lastErr) {
			return attempt, lastErr
		}

		delay := ComputeBackoff(policy, attempt-1)
		if onRetry != nil {
			onRetry(attempt, lastErr, delay)
		}
		if err := WaitForBackoff(ctx, delay); err != nil {
			return attempt, cancelled(lastErr, err)
		}
	}
	return maxAttempts, lastErr
}

// SafeCall runs fn and converts a panic into an EXECUTION_ERROR.
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r).
				WithDetails(map[string]any{"panic": true, "stack": string(debug.Stack())})
		}
	}()
	return fn()
}

// IsPanic reports whether err was produced by SafeCall recovering a panic.
func IsPanic(err error) bool {
	fe, ok := schema.AsFlowError(err)
	return ok && fe.Details["panic"] == true
}

func cancelled(last, ctxErr error) error {
	if last == nil || last == ctxErr {
		return schema.NewError(schema.ErrCodeCancelled, ctxErr.Error()).WithCause(ctxErr)
	}
	return schema.NewError(schema.ErrCodeCancelled, fmt.Sprintf("%s (last error: %s)", ctxErr, last)).
		WithCause(errors.Join(ctxErr, last))
}
