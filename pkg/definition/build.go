package definition

import (
	"context"
	"maps"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/flow"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Runnable is satisfied by both *flow.Flow and *flow.AsyncFlow.
type Runnable interface {
	Name() string
	Do(ctx context.Context, shared *flow.Shared) *flow.Execution
}

// Builder validates definitions and builds them into flows.
type Builder struct {
	registry  *Registry
	engines   *expressions.Engines
	validator *validation.Validator
	opts      []flow.Option
}

// NewBuilder creates a Builder. opts apply to every flow it builds, e.g. a
// shared logger or event sink.
func NewBuilder(reg *Registry, opts ...flow.Option) (*Builder, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, err
	}
	v, err := validation.New(reg)
	if err != nil {
		return nil, err
	}
	return &Builder{registry: reg, engines: engines, validator: v, opts: opts}, nil
}

// Registry returns the node type registry.
func (b *Builder) Registry() *Registry { return b.registry }

// Validate runs the full validation pipeline on def.
func (b *Builder) Validate(def *schema.FlowDefinition) *schema.ValidationResult {
	return b.validator.Validate(def)
}

// ValidateRaw validates an undecoded definition document.
func (b *Builder) ValidateRaw(doc any) (*schema.FlowDefinition, *schema.ValidationResult) {
	return b.validator.ValidateRaw(doc)
}

// Build validates def and builds it. Warnings do not stop the build.
func (b *Builder) Build(def *schema.FlowDefinition) (*Built, error) {
	if err := b.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}

	opts := make([]flow.Option, 0, len(b.opts)+2)
	opts = append(opts, b.opts...)
	opts = append(opts, flow.WithParams(flow.Params(def.Params)))
	labels := make([]schema.Action, len(def.Labels))
	for i, l := range def.Labels {
		labels[i] = schema.Action(l)
	}
	opts = append(opts, flow.WithLabels(labels...))

	var (
		f       *flow.Flow
		runner  Runnable
		closeFn = func() {}
	)
	if def.EffectiveMode() == schema.FlowModeAsync {
		a := flow.NewAsync(def.Name, opts...)
		f, runner, closeFn = a.Flow, a, a.Close
	} else {
		f = flow.New(def.Name, opts...)
		runner = f
	}

	steps := make(map[string]*flow.Step, len(def.Nodes))
	for i := range def.Nodes {
		s, err := b.buildNode(&def.Nodes[i])
		if err != nil {
			return nil, err
		}
		steps[s.ID()] = s
	}

	if err := f.Start(steps[def.Entry]); err != nil {
		return nil, err
	}
	for _, e := range def.Edges {
		if err := f.Connect(steps[e.From], schema.Action(e.Label), steps[e.To]); err != nil {
			return nil, err
		}
	}
	return &Built{def: def, flow: f, runner: runner, close: closeFn}, nil
}

func (b *Builder) buildNode(n *schema.NodeDefinition) (*flow.Step, error) {
	factory, err := b.registry.get(n.Type)
	if err != nil {
		return nil, err
	}
	opts, err := stepOptions(n)
	if err != nil {
		return nil, err
	}
	return factory(NodeSpec{ID: n.ID, Config: n.Config, Options: opts, Engines: b.engines})
}

func stepOptions(n *schema.NodeDefinition) ([]flow.StepOption, error) {
	var opts []flow.StepOption

	policy, err := n.Retry.Policy()
	if err != nil {
		return nil, withNode(err, n.ID)
	}
	opts = append(opts, flow.WithRetry(policy))

	timeout, err := n.AttemptTimeout()
	if err != nil {
		return nil, withNode(err, n.ID)
	}
	if timeout > 0 {
		opts = append(opts, flow.WithAttemptTimeout(timeout))
	}

	if n.Batch != nil {
		p, err := flow.ParseItemErrorPolicy(n.Batch.OnItemError)
		if err != nil {
			return nil, withNode(err, n.ID)
		}
		opts = append(opts, flow.WithItemErrorPolicy(p))
		if n.Batch.Parallelism > 0 {
			opts = append(opts, flow.WithParallelism(n.Batch.Parallelism))
		}
	}
	return opts, nil
}

func withNode(err error, id string) error {
	if fe, ok := schema.AsFlowError(err); ok {
		return fe.WithNode(id)
	}
	return err
}

// Built is a flow built from a definition.
type Built struct {
	def    *schema.FlowDefinition
	flow   *flow.Flow
	runner Runnable
	close  func()
}

func (b *Built) Name() string { return b.def.Name }

// Definition returns the definition the flow was built from.
func (b *Built) Definition() *schema.FlowDefinition { return b.def }

// Flow returns the underlying graph for introspection.
func (b *Built) Flow() *flow.Flow { return b.flow }

// Run executes the flow and waits for it. The initial shared context is
// the definition's input with input layered over it.
func (b *Built) Run(ctx context.Context, input map[string]any) *flow.Execution {
	initial := maps.Clone(b.def.Input)
	if initial == nil {
		initial = make(map[string]any, len(input))
	}
	maps.Copy(initial, input)
	return b.runner.Do(ctx, flow.NewShared(initial))
}

// Close releases the flow's worker pool, if any.
func (b *Built) Close() { b.close() }
