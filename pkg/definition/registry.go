// Package definition turns declarative flow documents into runnable flows:
// loading YAML or JSON, validating them, building their nodes from a
// registry of node types and keeping the built flows in a catalog.
package definition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/flow"
	"github.com/rendis/nodeflow/pkg/nodes"
	"github.com/rendis/nodeflow/pkg/schema"
)

// NodeSpec is what a Factory receives for one node of a definition.
type NodeSpec struct {
	ID      string
	Config  map[string]any
	Options []flow.StepOption
	Engines *expressions.Engines
}

// Decode unmarshals the node's config into v. Unknown fields are an error.
func (s NodeSpec) Decode(v any) error {
	b, err := json.Marshal(s.Config)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node %s: config is not JSON-encodable: %s", s.ID, err).WithNode(s.ID)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node %s: invalid config: %s", s.ID, err).WithNode(s.ID).WithCause(err)
	}
	return nil
}

// Factory builds the step for one node.
type Factory func(spec NodeSpec) (*flow.Step, error)

// Registry maps node type names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in node types: router,
// transform, compute, map and assign.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.MustRegister("router", buildRouter)
	r.MustRegister("transform", buildTransform)
	r.MustRegister("compute", buildCompute)
	r.MustRegister("map", buildMap)
	r.MustRegister("assign", buildAssign)
	return r
}

// Register adds a node type. Registering a name twice is an error.
func (r *Registry) Register(nodeType string, f Factory) error {
	if nodeType == "" || f == nil {
		return schema.NewError(schema.ErrCodeValidation, "node type needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[nodeType]; ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "node type %q already registered", nodeType)
	}
	r.factories[nodeType] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(nodeType string, f Factory) {
	if err := r.Register(nodeType, f); err != nil {
		panic(err)
	}
}

// Has reports whether nodeType is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[nodeType]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) get(nodeType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[nodeType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", nodeType)
	}
	return f, nil
}

// --- built-in factories ---

type routerConfig struct {
	Routes   []nodes.Route `json:"routes"`
	Fallback string        `json:"fallback"`
}

func buildRouter(spec NodeSpec) (*flow.Step, error) {
	var cfg routerConfig
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	for i, r := range cfg.Routes {
		if err := spec.Engines.Compile("cel", r.When); err != nil {
			return nil, configError(spec.ID, fmt.Sprintf("routes[%d].when", i), err)
		}
	}
	n := &nodes.Router{Engine: spec.Engines.CEL, Routes: cfg.Routes, Fallback: schema.Action(cfg.Fallback)}
	return stepOrErr(flow.NewStep(spec.ID, n, spec.Options...))
}

type transformConfig struct {
	Query   string   `json:"query"`
	Target  string   `json:"target"`
	Sources []string `json:"sources"`
}

func buildTransform(spec NodeSpec) (*flow.Step, error) {
	var cfg transformConfig
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := spec.Engines.Compile("jq", cfg.Query); err != nil {
		return nil, configError(spec.ID, "query", err)
	}
	if cfg.Target == "" {
		return nil, configError(spec.ID, "target", schema.NewError(schema.ErrCodeValidation, "target is required"))
	}
	n := &nodes.Transform{Engine: spec.Engines.JQ, Query: cfg.Query, Target: cfg.Target, Sources: cfg.Sources}
	return stepOrErr(flow.NewStep(spec.ID, n, spec.Options...))
}

type computeConfig struct {
	Expression string   `json:"expression"`
	Target     string   `json:"target"`
	Sources    []string `json:"sources"`
}

func buildCompute(spec NodeSpec) (*flow.Step, error) {
	var cfg computeConfig
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := spec.Engines.Compile("expr", cfg.Expression); err != nil {
		return nil, configError(spec.ID, "expression", err)
	}
	if cfg.Target == "" {
		return nil, configError(spec.ID, "target", schema.NewError(schema.ErrCodeValidation, "target is required"))
	}
	n := &nodes.Compute{Engine: spec.Engines.Expr, Expression: cfg.Expression, Target: cfg.Target, Sources: cfg.Sources}
	return stepOrErr(flow.NewStep(spec.ID, n, spec.Options...))
}

type mapConfig struct {
	Source     string `json:"source"`
	Expression string `json:"expression"`
	Target     string `json:"target"`
}

func buildMap(spec NodeSpec) (*flow.Step, error) {
	var cfg mapConfig
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := spec.Engines.Compile("expr", cfg.Expression); err != nil {
		return nil, configError(spec.ID, "expression", err)
	}
	if cfg.Source == "" || cfg.Target == "" {
		return nil, configError(spec.ID, "source", schema.NewError(schema.ErrCodeValidation, "source and target are required"))
	}
	n := &nodes.Map{Engine: spec.Engines.Expr, Source: cfg.Source, Expression: cfg.Expression, Target: cfg.Target}
	return stepOrErr(flow.NewBatchStep(spec.ID, n, spec.Options...))
}

type assignConfig struct {
	Values map[string]any `json:"values"`
	Label  string         `json:"label"`
}

func buildAssign(spec NodeSpec) (*flow.Step, error) {
	var cfg assignConfig
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	n := &nodes.Assign{Values: cfg.Values, Label: schema.Action(cfg.Label)}
	return stepOrErr(flow.NewStep(spec.ID, n, spec.Options...))
}

func stepOrErr(s *flow.Step) (*flow.Step, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func configError(nodeID, field string, err error) error {
	msg := err.Error()
	if fe, ok := schema.AsFlowError(err); ok {
		msg = fe.Message
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "config.%s: %s", field, msg).
		WithNode(nodeID).
		WithCause(err).
		WithDetails(map[string]any{"field": "config." + field})
}
