package schema

import (
	"fmt"
	"time"
)

// FlowMode selects the engine a definition is built into.
type FlowMode string

const (
	FlowModeSync  FlowMode = "sync"
	FlowModeAsync FlowMode = "async"
)

// FlowDefinition is the declarative document format for a flow. It is read
// from YAML or JSON files and by the MCP validate tool.
type FlowDefinition struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Mode        FlowMode         `json:"mode,omitempty" yaml:"mode,omitempty"` // sync | async (default: sync)
	Entry       string           `json:"entry" yaml:"entry"`
	Labels      []string         `json:"labels,omitempty" yaml:"labels,omitempty"`
	Params      map[string]any   `json:"params,omitempty" yaml:"params,omitempty"`
	Input       map[string]any   `json:"input,omitempty" yaml:"input,omitempty"` // default initial shared context
	Schedule    string           `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Nodes       []NodeDefinition `json:"nodes" yaml:"nodes"`
	Edges       []EdgeDefinition `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// NodeDefinition describes one node of a declarative flow.
type NodeDefinition struct {
	ID      string           `json:"id" yaml:"id"`
	Type    string           `json:"type" yaml:"type"`
	Config  map[string]any   `json:"config,omitempty" yaml:"config,omitempty"`
	Retry   *RetryDefinition `json:"retry,omitempty" yaml:"retry,omitempty"`
	Batch   *BatchDefinition `json:"batch,omitempty" yaml:"batch,omitempty"`
	Timeout string           `json:"timeout,omitempty" yaml:"timeout,omitempty"` // per attempt, e.g. "30s"
}

// RetryDefinition is the document form of RetryPolicy. Durations are strings
// such as "500ms" or "2s".
type RetryDefinition struct {
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
	Delay       string `json:"delay,omitempty" yaml:"delay,omitempty"`
	Backoff     string `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// BatchDefinition configures item handling for batch node types.
type BatchDefinition struct {
	OnItemError string `json:"on_item_error,omitempty" yaml:"on_item_error,omitempty"` // abort | skip (default: abort)
	Parallelism int    `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
}

// EdgeDefinition is one transition. An empty label means DefaultAction.
type EdgeDefinition struct {
	From  string `json:"from" yaml:"from"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	To    string `json:"to" yaml:"to"`
}

// Policy converts the document form into a RetryPolicy.
func (d *RetryDefinition) Policy() (RetryPolicy, error) {
	p := DefaultRetryPolicy()
	if d == nil {
		return p, nil
	}
	p.MaxAttempts = d.MaxAttempts
	p.Backoff = BackoffStrategy(d.Backoff)

	var err error
	if p.Delay, err = parseDuration("delay", d.Delay); err != nil {
		return p, err
	}
	if p.MaxDelay, err = parseDuration("max_delay", d.MaxDelay); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// AttemptTimeout parses Timeout; zero means none.
func (n *NodeDefinition) AttemptTimeout() (time.Duration, error) {
	return parseDuration("timeout", n.Timeout)
}

// Node returns the node with the given ID.
func (d *FlowDefinition) Node(id string) (*NodeDefinition, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// EffectiveMode returns Mode, defaulting to sync.
func (d *FlowDefinition) EffectiveMode() FlowMode {
	if d.Mode == "" {
		return FlowModeSync
	}
	return d.Mode
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, NewError(ErrCodeValidation, fmt.Sprintf("invalid %s %q: %s", field, s, err)).WithCause(err)
	}
	return v, nil
}
