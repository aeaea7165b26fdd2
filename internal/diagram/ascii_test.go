package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestRenderASCIILinear(t *testing.T) {
	output := RenderASCII(Build(linearFlow(), nil))

	assert.True(t, strings.HasPrefix(output, "=== etl ===\n"))
	for _, id := range []string{"Start", "fetch", "transform", "store", "End"} {
		assert.Contains(t, output, "│ "+id)
	}
	assert.Equal(t, 4, strings.Count(output, "▼"))
	assert.NotContains(t, output, "transitions:")
}

func TestRenderASCIITransitions(t *testing.T) {
	output := RenderASCII(Build(routingFlow(), nil))

	assert.Contains(t, output, "transitions:\n")
	assert.Contains(t, output, "route ─again→ items\n")
	assert.Contains(t, output, "route ─pass→ done\n")
}

func TestRenderASCIIStatus(t *testing.T) {
	events := []*schema.Event{
		{Type: schema.EventNodeCompleted, NodeID: "fetch", DurationMs: 150},
		{Type: schema.EventNodeFailed, NodeID: "transform", Attempt: 3,
			Error: &schema.FlowError{Code: schema.ErrCodeTimeout}},
	}
	output := RenderASCII(Build(linearFlow(), events))

	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "150ms")
	assert.Contains(t, output, "[FAIL]")
	assert.Contains(t, output, "3 attempts")
	assert.Contains(t, output, schema.ErrCodeTimeout)
}

func TestStatusTag(t *testing.T) {
	assert.Equal(t, "[OK]", statusTag(StatusCompleted))
	assert.Equal(t, "[FAIL]", statusTag(StatusFailed))
	assert.Equal(t, "[RUN]", statusTag(StatusRunning))
	assert.Equal(t, "", statusTag("unknown"))
}
