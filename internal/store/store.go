package store

import (
	"context"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Journal is an audit log of flow runs. It receives run events as an event
// sink and answers history queries. Nothing is ever resumed from it.
// Implementations must be safe for concurrent use.
type Journal interface {
	// AppendEvent records one run event. Runs are created by their
	// flow_started event and closed by flow_completed or flow_failed.
	AppendEvent(ctx context.Context, event *schema.Event) error

	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	ListEvents(ctx context.Context, runID string) ([]*schema.Event, error)

	// Prune deletes runs, and their events, that started before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
