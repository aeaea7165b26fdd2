package schema

import (
	"fmt"
	"time"
)

// BackoffStrategy names how the delay between attempts grows.
type BackoffStrategy string

const (
	BackoffNone        BackoffStrategy = "none"
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// BackoffFunc computes the wait before the retry that follows the given
// zero-based failed attempt.
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy configures how many times a node's Execute phase is attempted
// and how long the engine waits between attempts.
type RetryPolicy struct {
	MaxAttempts int             `json:"max_attempts"`
	Delay       time.Duration   `json:"delay,omitempty"`
	Backoff     BackoffStrategy `json:"backoff,omitempty"` // none | constant | linear | exponential (default: constant)
	MaxDelay    time.Duration   `json:"max_delay,omitempty"`

	// Custom overrides Backoff when set. MaxDelay still caps its result.
	Custom BackoffFunc `json:"-"`
}

// DefaultRetryPolicy is a single attempt with no wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Validate checks the construction-time constraints of the policy.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return NewErrorf(ErrCodeValidation, "max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return NewErrorf(ErrCodeValidation, "retry delay must be >= 0, got %s", p.Delay)
	}
	if p.MaxDelay < 0 {
		return NewErrorf(ErrCodeValidation, "max delay must be >= 0, got %s", p.MaxDelay)
	}
	switch p.Backoff {
	case "", BackoffNone, BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return NewError(ErrCodeValidation, fmt.Sprintf("unknown backoff strategy %q", p.Backoff))
	}
	return nil
}

// CircuitBreakerConfig configures the per-step circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed attempts before opening the circuit.
	FailureThreshold int `json:"failure_threshold"`
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration `json:"cooldown"`
	// HalfOpenMax is the number of test attempts allowed in half-open state.
	HalfOpenMax int `json:"half_open_max"`
}

// DefaultCircuitBreakerConfig returns a sensible default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}
