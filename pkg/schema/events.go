package schema

import (
	"encoding/json"
	"time"
)

// Event type constants emitted while a flow runs.
const (
	EventFlowStarted   = "flow_started"
	EventFlowCompleted = "flow_completed"
	EventFlowFailed    = "flow_failed"

	EventNodeStarted       = "node_started"
	EventNodeAttemptFailed = "node_attempt_failed"
	EventNodeCompleted     = "node_completed"
	EventNodeFailed        = "node_failed"

	EventItemFailed  = "item_failed"
	EventItemSkipped = "item_skipped"

	EventTransition  = "transition"
	EventCircuitOpen = "circuit_open"
)

// Event is a single lifecycle record of a flow run.
type Event struct {
	RunID      string          `json:"run_id"`
	Flow       string          `json:"flow"`
	Type       string          `json:"type"`
	NodeID     string          `json:"node_id,omitempty"`
	Action     Action          `json:"action,omitempty"`
	Attempt    int             `json:"attempt,omitempty"`
	ItemIndex  *int            `json:"item_index,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Error      *FlowError      `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// RunState is the state of a flow run's state machine.
type RunState string

const (
	RunStateReady     RunState = "ready"
	RunStateRunning   RunState = "running"
	RunStateAdvancing RunState = "advancing"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed
}
