package flow

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Edge is one registered transition.
type Edge struct {
	From  string        `json:"from"`
	Label schema.Action `json:"label"`
	To    string        `json:"to"`
}

type edgeKey struct {
	from  string
	label schema.Action
}

// Flow is a graph of steps connected by labeled edges, run one node at a
// time. The graph is built before the first run and sealed by it.
type Flow struct {
	name     string
	logger   *slog.Logger
	sink     EventSink
	labels   map[schema.Action]struct{}
	params   Params
	poolSize int
	breakers *engine.CircuitBreakerRegistry

	mu     sync.RWMutex
	entry  *Step
	steps  map[string]*Step
	order  []string
	edges  map[edgeKey]*Step
	edgeLs []Edge
	sealed bool
}

// New creates an empty sync flow.
func New(name string, opts ...Option) *Flow {
	f := &Flow{
		name:     name,
		logger:   slog.Default(),
		labels:   map[schema.Action]struct{}{schema.DefaultAction: {}},
		params:   Params{},
		poolSize: 10,
		breakers: engine.NewCircuitBreakerRegistry(schema.DefaultCircuitBreakerConfig()),
		steps:    make(map[string]*Step),
		edges:    make(map[edgeKey]*Step),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the flow's name.
func (f *Flow) Name() string { return f.name }

// Start designates the entry step, adding it to the flow if needed.
func (f *Flow) Start(s *Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mutable(); err != nil {
		return err
	}
	if err := f.add(s); err != nil {
		return err
	}
	f.entry = s
	return nil
}

// Connect registers the edge (from, label) -> to. Each (from, label) pair
// may be registered once, and label must be declared with WithLabels unless
// it is schema.DefaultAction.
func (f *Flow) Connect(from *Step, label schema.Action, to *Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mutable(); err != nil {
		return err
	}

	label = label.OrDefault()
	if _, ok := f.labels[label]; !ok {
		return schema.NewErrorf(schema.ErrCodeUndeclaredLabel, "label %q is not declared on flow %q", label, f.name).
			WithDetails(map[string]any{"label": string(label), "declared": labelStrings(f.labels)})
	}
	if err := f.add(from); err != nil {
		return err
	}
	if err := f.add(to); err != nil {
		return err
	}

	key := edgeKey{from: from.id, label: label}
	if existing, ok := f.edges[key]; ok {
		return schema.NewErrorf(schema.ErrCodeDuplicateEdge, "edge (%s, %s) already leads to %s", from.id, label, existing.id).
			WithNode(from.id).
			WithDetails(map[string]any{"label": string(label), "to": existing.id})
	}
	f.edges[key] = to
	f.edgeLs = append(f.edgeLs, Edge{From: from.id, Label: label, To: to.id})
	return nil
}

// Then connects from to to with the default label.
func (f *Flow) Then(from, to *Step) error {
	return f.Connect(from, schema.DefaultAction, to)
}

// Chain connects steps in order with default labels and makes the first one
// the entry when none is set.
func (f *Flow) Chain(steps ...*Step) error {
	if len(steps) == 0 {
		return nil
	}
	f.mu.RLock()
	hasEntry := f.entry != nil
	f.mu.RUnlock()
	if !hasEntry {
		if err := f.Start(steps[0]); err != nil {
			return err
		}
	}
	for i := 1; i < len(steps); i++ {
		if err := f.Then(steps[i-1], steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// Entry returns the entry step ID, or "".
func (f *Flow) Entry() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.entry == nil {
		return ""
	}
	return f.entry.id
}

// Steps returns the registered steps in registration order.
func (f *Flow) Steps() []*Step {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Step, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.steps[id])
	}
	return out
}

// Step returns the step with the given ID.
func (f *Flow) Step(id string) (*Step, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.steps[id]
	return s, ok
}

// Edges returns the registered edges in registration order.
func (f *Flow) Edges() []Edge {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.edgeLs)
}

// Labels returns the declared labels, sorted.
func (f *Flow) Labels() []schema.Action {
	return slices.Sorted(maps.Keys(f.labels))
}

// Validate reports structural problems: a missing entry is an error, steps
// the entry cannot reach are warnings.
func (f *Flow) Validate() *schema.ValidationResult {
	f.mu.RLock()
	defer f.mu.RUnlock()

	res := &schema.ValidationResult{}
	if f.entry == nil {
		res.AddError("entry", schema.ErrCodeNoEntryNode, "flow has no entry step")
		return res
	}

	reached := map[string]bool{f.entry.id: true}
	queue := []string{f.entry.id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range f.edgeLs {
			if e.From == cur && !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for _, id := range f.order {
		if !reached[id] {
			res.AddWarning("steps."+id, schema.ErrCodeValidation, "step is unreachable from entry "+f.entry.id)
		}
	}
	return res
}

// Run executes the flow against shared and returns it as last mutated, also
// when the run fails. A nil shared starts from an empty context.
func (f *Flow) Run(ctx context.Context, shared *Shared) (*Shared, error) {
	r, err := f.newRun(shared, directDispatch)
	if err != nil {
		return r.shared, err
	}
	_, err = r.exec(ctx)
	return r.shared, err
}

// Do runs the flow inline like Run and returns the finished Execution, which
// also carries the run's ID.
func (f *Flow) Do(ctx context.Context, shared *Shared) *Execution {
	r, err := f.newRun(shared, directDispatch)
	ex := &Execution{run: r, done: make(chan struct{}), cancel: func() {}}
	if err == nil {
		_, err = r.exec(ctx)
	}
	ex.err = err
	close(ex.done)
	return ex
}

func (f *Flow) add(s *Step) error {
	if s == nil {
		return schema.NewError(schema.ErrCodeValidation, "step must not be nil")
	}
	if s.err != nil {
		return s.err
	}
	if existing, ok := f.steps[s.id]; ok {
		if existing != s {
			return schema.NewErrorf(schema.ErrCodeDuplicateStep, "another step is already registered as %q", s.id).WithNode(s.id)
		}
		return nil
	}
	f.steps[s.id] = s
	f.order = append(f.order, s.id)
	if s.cfg.breaker != nil {
		f.breakers.Configure(s.id, *s.cfg.breaker)
	}
	return nil
}

func (f *Flow) mutable() error {
	if f.sealed {
		return schema.NewErrorf(schema.ErrCodeValidation, "flow %q cannot change after its first run", f.name)
	}
	return nil
}

func (f *Flow) seal() {
	f.mu.Lock()
	f.sealed = true
	f.mu.Unlock()
}

func (f *Flow) next(from string, label schema.Action) (*Step, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.edges[edgeKey{from: from, label: label}]
	return s, ok
}

func (f *Flow) declared(label schema.Action) bool {
	_, ok := f.labels[label]
	return ok
}

func labelStrings(m map[schema.Action]struct{}) []string {
	out := make([]string, 0, len(m))
	for l := range m {
		out = append(out, string(l))
	}
	slices.Sort(out)
	return out
}
