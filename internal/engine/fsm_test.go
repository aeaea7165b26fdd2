package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

type recordedTransition struct {
	from, to schema.RunState
	node     string
}

func TestRunFSM_HappyPath(t *testing.T) {
	var seen []recordedTransition
	fsm := NewRunFSM("fetch", func(from, to schema.RunState, node string) {
		seen = append(seen, recordedTransition{from, to, node})
	})

	assert.Equal(t, schema.RunStateReady, fsm.State())
	assert.Equal(t, "fetch", fsm.Node())

	require.NoError(t, fsm.Begin())
	require.NoError(t, fsm.Advance(schema.DefaultAction))
	require.NoError(t, fsm.MoveTo("summarize"))
	require.NoError(t, fsm.Begin())
	require.NoError(t, fsm.Advance("done"))
	require.NoError(t, fsm.Succeed())

	assert.Equal(t, schema.RunStateSucceeded, fsm.State())
	assert.Equal(t, schema.Action("done"), fsm.Label())
	assert.Equal(t, []recordedTransition{
		{schema.RunStateReady, schema.RunStateRunning, "fetch"},
		{schema.RunStateRunning, schema.RunStateAdvancing, "fetch"},
		{schema.RunStateAdvancing, schema.RunStateReady, "summarize"},
		{schema.RunStateReady, schema.RunStateRunning, "summarize"},
		{schema.RunStateRunning, schema.RunStateAdvancing, "summarize"},
		{schema.RunStateAdvancing, schema.RunStateSucceeded, "summarize"},
	}, seen)
}

func TestRunFSM_FailFromRunning(t *testing.T) {
	fsm := NewRunFSM("fetch")
	require.NoError(t, fsm.Begin())
	require.NoError(t, fsm.Fail())
	assert.True(t, fsm.State().Terminal())
}

func TestRunFSM_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(f *RunFSM) error
	}{
		{"advance from ready", func(f *RunFSM) error { return f.Advance(schema.DefaultAction) }},
		{"succeed from ready", func(f *RunFSM) error { return f.Succeed() }},
		{"move from running", func(f *RunFSM) error {
			_ = f.Begin()
			return f.MoveTo("b")
		}},
		{"fail from advancing", func(f *RunFSM) error {
			_ = f.Begin()
			_ = f.Advance(schema.DefaultAction)
			return f.Fail()
		}},
		{"begin after success", func(f *RunFSM) error {
			_ = f.Begin()
			_ = f.Advance(schema.DefaultAction)
			_ = f.Succeed()
			return f.Begin()
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run(NewRunFSM("a"))
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
		})
	}
}
