package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestRenderImagePNG(t *testing.T) {
	png, err := RenderImage(context.Background(), Build(linearFlow(), nil), FormatPNG)
	require.NoError(t, err)

	// PNG magic bytes: 0x89 P N G.
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, []byte("PNG"), png[1:4])
}

func TestRenderImageSVGWithLoopAndStatus(t *testing.T) {
	events := []*schema.Event{
		{Type: schema.EventFlowStarted, NodeID: "score"},
		{Type: schema.EventNodeCompleted, NodeID: "score"},
		{Type: schema.EventNodeFailed, NodeID: "route"},
	}
	svg, err := RenderImage(context.Background(), Build(routingFlow(), events), FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "again")
}

func TestRenderImageUnsupportedFormat(t *testing.T) {
	_, err := RenderImage(context.Background(), Build(linearFlow(), nil), "gif")
	assert.Error(t, err)
}
