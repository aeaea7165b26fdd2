package flow

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []*schema.Event
}

func (r *recordingSink) AppendEvent(_ context.Context, e *schema.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingSink) ofType(t string) []*schema.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*schema.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// trace records phase calls across nodes in order.
type trace struct {
	mu    sync.Mutex
	calls []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, s)
}

func (t *trace) count(s string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c == s {
			n++
		}
	}
	return n
}

// tracedNode returns a node that logs each phase under name and finalizes
// with the default label.
func tracedNode(tr *trace, name string) Funcs[string, string] {
	return Funcs[string, string]{
		PrepareFunc: func(ctx context.Context, s *Shared) (string, error) {
			tr.add(name + ".prepare")
			return name, nil
		},
		ExecuteFunc: func(ctx context.Context, in string) (string, error) {
			tr.add(name + ".execute")
			return in + "-done", nil
		},
		FinalizeFunc: func(ctx context.Context, s *Shared, in, out string) (schema.Action, error) {
			tr.add(name + ".finalize")
			s.Set(name, out)
			return "", nil
		},
	}
}
