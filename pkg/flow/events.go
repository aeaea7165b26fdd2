package flow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// EventSink receives run events. Implementations must be safe for concurrent
// use: parallel batch items and concurrent async runs emit at the same time.
type EventSink interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, event *schema.Event) error

func (f SinkFunc) AppendEvent(ctx context.Context, event *schema.Event) error {
	return f(ctx, event)
}

type multiSink []EventSink

// MultiSink fans every event out to all sinks. Every sink sees the event
// even when an earlier one fails; the errors are joined.
func MultiSink(sinks ...EventSink) EventSink {
	var ms multiSink
	for _, s := range sinks {
		if s != nil {
			ms = append(ms, s)
		}
	}
	return ms
}

func (m multiSink) AppendEvent(ctx context.Context, event *schema.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// emitter stamps events with run identity and a per-run sequence number.
type emitter struct {
	sink   EventSink
	logger *slog.Logger
	flow   string
	runID  string
	seq    atomic.Int64
}

func (e *emitter) emit(ctx context.Context, ev *schema.Event) {
	if e.sink == nil {
		return
	}
	ev.RunID = e.runID
	ev.Flow = e.flow
	ev.Sequence = e.seq.Add(1)
	ev.Timestamp = time.Now().UTC()

	// Terminal events of a cancelled run must still reach the sink.
	if err := e.sink.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.WarnContext(ctx, "event sink failed", "event", ev.Type, "error", err)
	}
}

func jsonRaw(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	return json.RawMessage(b), err
}
