package flow

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/rendis/nodeflow/pkg/schema"
)

// StepOption configures a step at construction time.
type StepOption func(*stepConfig)

type stepConfig struct {
	retry       schema.RetryPolicy
	itemPolicy  ItemErrorPolicy
	parallelism int
	timeout     time.Duration
	limiter     *rate.Limiter
	breaker     *schema.CircuitBreakerConfig
}

func defaultStepConfig() stepConfig {
	return stepConfig{retry: schema.DefaultRetryPolicy(), parallelism: 1}
}

func (c stepConfig) validate() error {
	if err := c.retry.Validate(); err != nil {
		return err
	}
	if c.parallelism < 1 {
		return schema.NewErrorf(schema.ErrCodeValidation, "parallelism must be >= 1, got %d", c.parallelism)
	}
	if c.timeout < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "attempt timeout must be >= 0, got %s", c.timeout)
	}
	return nil
}

// WithRetry replaces the whole retry policy.
func WithRetry(p schema.RetryPolicy) StepOption {
	return func(c *stepConfig) { c.retry = p }
}

// WithMaxAttempts sets how many times Execute may run (>= 1).
func WithMaxAttempts(n int) StepOption {
	return func(c *stepConfig) { c.retry.MaxAttempts = n }
}

// WithRetryDelay sets the base wait between attempts (>= 0).
func WithRetryDelay(d time.Duration) StepOption {
	return func(c *stepConfig) { c.retry.Delay = d }
}

// WithBackoff selects how the wait grows between attempts.
func WithBackoff(strategy schema.BackoffStrategy) StepOption {
	return func(c *stepConfig) { c.retry.Backoff = strategy }
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) StepOption {
	return func(c *stepConfig) { c.retry.MaxDelay = d }
}

// WithBackoffFunc installs a custom backoff strategy.
func WithBackoffFunc(fn schema.BackoffFunc) StepOption {
	return func(c *stepConfig) { c.retry.Custom = fn }
}

// WithItemErrorPolicy sets what a batch step does with a failed item.
// The default is ItemAbort.
func WithItemErrorPolicy(p ItemErrorPolicy) StepOption {
	return func(c *stepConfig) { c.itemPolicy = p }
}

// WithParallelism runs up to n batch items at once. Results keep their
// prepare order.
func WithParallelism(n int) StepOption {
	return func(c *stepConfig) { c.parallelism = n }
}

// WithAttemptTimeout bounds each Execute attempt. Zero means no bound.
func WithAttemptTimeout(d time.Duration) StepOption {
	return func(c *stepConfig) { c.timeout = d }
}

// WithRateLimiter makes every attempt wait for a token from l. The limiter
// may be shared between steps and flows.
func WithRateLimiter(l *rate.Limiter) StepOption {
	return func(c *stepConfig) { c.limiter = l }
}

// WithCircuitBreaker guards the step with a breaker owned by the flow it is
// added to. An open circuit fails attempts with CIRCUIT_OPEN.
func WithCircuitBreaker(cfg schema.CircuitBreakerConfig) StepOption {
	return func(c *stepConfig) { c.breaker = &cfg }
}

// Option configures a Flow or AsyncFlow.
type Option func(*Flow)

// WithLogger sets the flow's logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithEventSink sets where run events are delivered.
func WithEventSink(s EventSink) Option {
	return func(f *Flow) { f.sink = s }
}

// WithLabels declares the action labels edges may use, in addition to
// schema.DefaultAction.
func WithLabels(labels ...schema.Action) Option {
	return func(f *Flow) {
		for _, l := range labels {
			f.labels[l.OrDefault()] = struct{}{}
		}
	}
}

// WithParams sets default params for every run. Params on the run's context
// take precedence.
func WithParams(p Params) Option {
	return func(f *Flow) { f.params = f.params.Merge(p) }
}

// WithPoolSize bounds how many Execute attempts an AsyncFlow runs at once
// across all of its runs. Sync flows ignore it.
func WithPoolSize(n int) Option {
	return func(f *Flow) { f.poolSize = n }
}
