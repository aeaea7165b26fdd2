package engine

import (
	"slices"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// TransitionHook is called after a run state transition. node is the step
// the run is at after the transition.
type TransitionHook func(from, to schema.RunState, node string)

// ValidRunTransitions defines the allowed state transitions for a flow run.
// Ready may fail directly when the run is cancelled between nodes.
var ValidRunTransitions = map[schema.RunState][]schema.RunState{
	schema.RunStateReady:     {schema.RunStateRunning, schema.RunStateFailed},
	schema.RunStateRunning:   {schema.RunStateAdvancing, schema.RunStateFailed},
	schema.RunStateAdvancing: {schema.RunStateReady, schema.RunStateSucceeded},
}

// RunFSM is the state machine of a single flow run:
// Ready(node) -> Running(node) -> Advancing(label) -> Ready(next) | Succeeded,
// and Running(node) -> Failed.
type RunFSM struct {
	mu    sync.Mutex
	state schema.RunState
	node  string
	label schema.Action
	hooks []TransitionHook
}

// NewRunFSM creates a run positioned at Ready(entry).
func NewRunFSM(entry string, hooks ...TransitionHook) *RunFSM {
	return &RunFSM{state: schema.RunStateReady, node: entry, hooks: hooks}
}

// State returns the current state.
func (f *RunFSM) State() schema.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Node returns the step the run is at.
func (f *RunFSM) Node() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.node
}

// Label returns the action label of the last completed node.
func (f *RunFSM) Label() schema.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.label
}

// Begin moves Ready(node) to Running(node).
func (f *RunFSM) Begin() error {
	return f.transition(schema.RunStateRunning, nil, nil)
}

// Advance records the node's label and moves Running to Advancing.
func (f *RunFSM) Advance(label schema.Action) error {
	return f.transition(schema.RunStateAdvancing, nil, &label)
}

// MoveTo moves Advancing to Ready(next).
func (f *RunFSM) MoveTo(next string) error {
	return f.transition(schema.RunStateReady, &next, nil)
}

// Succeed moves Advancing to the terminal success state.
func (f *RunFSM) Succeed() error {
	return f.transition(schema.RunStateSucceeded, nil, nil)
}

// Fail moves the run to the terminal failure state.
func (f *RunFSM) Fail() error {
	return f.transition(schema.RunStateFailed, nil, nil)
}

func (f *RunFSM) transition(to schema.RunState, node *string, label *schema.Action) error {
	f.mu.Lock()
	from := f.state
	if !slices.Contains(ValidRunTransitions[from], to) {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithNode(f.node).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	f.state = to
	if node != nil {
		f.node = *node
	}
	if label != nil {
		f.label = *label
	}
	at := f.node
	hooks := f.hooks
	f.mu.Unlock()

	for _, hook := range hooks {
		hook(from, to, at)
	}
	return nil
}
