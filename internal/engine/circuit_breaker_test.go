package engine

import (
	"testing"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests step past the cooldown without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(threshold int, cooldown time.Duration) (*CircuitBreakerRegistry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewCircuitBreakerRegistry(schema.CircuitBreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		HalfOpenMax:      1,
	})
	r.now = clock.now
	return r, clock
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cbr := NewCircuitBreakerRegistry(schema.DefaultCircuitBreakerConfig())
	assert.NoError(t, cbr.AllowRequest("summarize"))
	assert.Equal(t, CircuitClosed, cbr.GetState("summarize"))
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cbr, _ := newTestRegistry(3, 10*time.Second)

	cbr.RecordFailure("summarize")
	cbr.RecordFailure("summarize")
	assert.Equal(t, CircuitClosed, cbr.GetState("summarize"))

	assert.Equal(t, CircuitOpen, cbr.RecordFailure("summarize"))

	err := cbr.AllowRequest("summarize")
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrCircuitOpen)
	fe, ok := schema.AsFlowError(err)
	require.True(t, ok)
	assert.False(t, fe.IsRetryable())
	assert.Equal(t, 3, fe.Details["consecutive_failures"])
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cbr, _ := newTestRegistry(3, 10*time.Second)

	cbr.RecordFailure("fetch")
	cbr.RecordFailure("fetch")
	cbr.RecordSuccess("fetch")

	cbr.RecordFailure("fetch")
	cbr.RecordFailure("fetch")
	assert.Equal(t, CircuitClosed, cbr.GetState("fetch"))
	cbr.RecordFailure("fetch")
	assert.Equal(t, CircuitOpen, cbr.GetState("fetch"))
}

func TestCircuitBreaker_HalfOpenLifecycle(t *testing.T) {
	cbr, clock := newTestRegistry(2, time.Minute)

	cbr.RecordFailure("fetch")
	cbr.RecordFailure("fetch")
	assert.Equal(t, CircuitOpen, cbr.GetState("fetch"))

	clock.advance(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cbr.GetState("fetch"))

	// One probe allowed, the next rejected.
	assert.NoError(t, cbr.AllowRequest("fetch"))
	assert.ErrorIs(t, cbr.AllowRequest("fetch"), schema.ErrCircuitOpen)

	cbr.RecordSuccess("fetch")
	assert.Equal(t, CircuitClosed, cbr.GetState("fetch"))
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cbr, clock := newTestRegistry(2, time.Minute)

	cbr.RecordFailure("fetch")
	cbr.RecordFailure("fetch")
	clock.advance(2 * time.Minute)

	require.NoError(t, cbr.AllowRequest("fetch"))
	assert.Equal(t, CircuitOpen, cbr.RecordFailure("fetch"))
	assert.ErrorIs(t, cbr.AllowRequest("fetch"), schema.ErrCircuitOpen)
}

func TestCircuitBreaker_PerStepIsolation(t *testing.T) {
	cbr, _ := newTestRegistry(2, 10*time.Second)

	cbr.RecordFailure("a")
	cbr.RecordFailure("a")
	assert.Equal(t, CircuitOpen, cbr.GetState("a"))
	assert.Equal(t, CircuitClosed, cbr.GetState("b"))
	assert.NoError(t, cbr.AllowRequest("b"))
}

func TestCircuitBreaker_Configure(t *testing.T) {
	cbr := NewCircuitBreakerRegistry(schema.DefaultCircuitBreakerConfig())
	cbr.Configure("llm", schema.CircuitBreakerConfig{FailureThreshold: 1})

	assert.Equal(t, CircuitOpen, cbr.RecordFailure("llm"))
	stats := cbr.GetStats("llm")
	assert.Equal(t, 1, stats["failure_threshold"])
	assert.Equal(t, "30s", stats["cooldown"])
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cbr := NewCircuitBreakerRegistry(schema.DefaultCircuitBreakerConfig())
	cbr.RecordFailure("stats")
	cbr.RecordFailure("stats")

	stats := cbr.GetStats("stats")
	assert.Equal(t, "stats", stats["step"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 2, stats["consecutive_failures"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
