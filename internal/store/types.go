package store

import (
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Run is the journal's summary of one flow run.
type Run struct {
	ID           string          `json:"id"`
	Flow         string          `json:"flow"`
	Status       schema.RunState `json:"status"`
	EntryNode    string          `json:"entry_node,omitempty"`
	LastNode     string          `json:"last_node,omitempty"`
	LastAction   string          `json:"last_action,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	EventCount   int             `json:"event_count"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// RunFilter narrows ListRuns. Zero fields match everything; Limit 0 means
// DefaultRunLimit.
type RunFilter struct {
	Flow   string
	Status schema.RunState
	Since  time.Time
	Limit  int
}

// DefaultRunLimit caps ListRuns when the filter sets no limit.
const DefaultRunLimit = 50
