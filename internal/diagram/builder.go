package diagram

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Build constructs a Model from a flow definition. When events of one run
// are given, each node gets a status overlay and the transitions the run
// took are marked.
func Build(def *schema.FlowDefinition, events []*schema.Event) *Model {
	m := &Model{Title: def.Name}

	m.Nodes = append(m.Nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for i := range def.Nodes {
		n := &def.Nodes[i]
		m.Nodes = append(m.Nodes, &Node{
			ID:    n.ID,
			Label: fmt.Sprintf("%s\n(%s)", n.ID, n.Type),
			Kind:  nodeKind(n),
		})
	}
	m.Nodes = append(m.Nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	m.Edges = buildEdges(def)
	m.Levels = buildLevels(def, m.Edges)
	overlay(m, events)
	return m
}

func nodeKind(n *schema.NodeDefinition) NodeKind {
	switch {
	case n.Type == "router":
		return NodeKindRouter
	case n.Batch != nil || n.Type == "map":
		return NodeKindBatch
	default:
		return NodeKindAction
	}
}

// buildEdges adds a start edge to the entry and an end edge from every node
// without outgoing transitions.
func buildEdges(def *schema.FlowDefinition) []Edge {
	edges := []Edge{{From: StartID, To: def.Entry}}
	hasOut := make(map[string]bool, len(def.Nodes))
	for _, e := range def.Edges {
		label := e.Label
		if schema.Action(label).OrDefault() == schema.DefaultAction {
			label = ""
		}
		edges = append(edges, Edge{From: e.From, To: e.To, Label: label})
		hasOut[e.From] = true
	}
	for _, n := range def.Nodes {
		if !hasOut[n.ID] {
			edges = append(edges, Edge{From: n.ID, To: EndID})
		}
	}
	return edges
}

// buildLevels layers nodes by breadth-first distance from the entry. Back
// edges do not move a node; unreachable nodes share a level before the end.
func buildLevels(def *schema.FlowDefinition, edges []Edge) [][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.From != StartID && e.To != EndID {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}
	known := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		known[n.ID] = true
	}

	levels := [][]string{{StartID}}
	seen := map[string]bool{}
	frontier := []string{}
	if known[def.Entry] {
		frontier = append(frontier, def.Entry)
		seen[def.Entry] = true
	}
	for len(frontier) > 0 {
		levels = append(levels, frontier)
		var next []string
		for _, id := range frontier {
			for _, to := range adj[id] {
				if known[to] && !seen[to] {
					seen[to] = true
					next = append(next, to)
				}
			}
		}
		frontier = next
	}

	var orphans []string
	for _, n := range def.Nodes {
		if !seen[n.ID] {
			orphans = append(orphans, n.ID)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return append(levels, []string{EndID})
}

// overlay folds one run's events into node statuses and taken edges.
func overlay(m *Model, events []*schema.Event) {
	if len(events) == 0 {
		return
	}
	status := func(id string) *StatusOverlay {
		n := m.node(id)
		if n == nil {
			return nil
		}
		if n.Status == nil {
			n.Status = &StatusOverlay{}
		}
		return n.Status
	}

	for _, e := range events {
		switch e.Type {
		case schema.EventFlowStarted:
			markEdge(m, StartID, e.NodeID, "")
		case schema.EventNodeStarted:
			if s := status(e.NodeID); s != nil {
				s.Status = StatusRunning
			}
		case schema.EventNodeAttemptFailed:
			if s := status(e.NodeID); s != nil {
				s.Attempts = max(s.Attempts, e.Attempt)
			}
		case schema.EventNodeCompleted, schema.EventNodeFailed:
			s := status(e.NodeID)
			if s == nil {
				continue
			}
			s.Status = StatusCompleted
			if e.Type == schema.EventNodeFailed {
				s.Status = StatusFailed
			}
			s.DurationMs = e.DurationMs
			s.Attempts = max(s.Attempts, e.Attempt)
			if e.Error != nil {
				s.ErrorCode, s.Error = e.Error.Code, e.Error.Message
			}
		case schema.EventTransition:
			var p struct {
				To string `json:"to"`
			}
			if json.Unmarshal(e.Payload, &p) == nil {
				markEdge(m, e.NodeID, p.To, string(e.Action))
			}
		}
	}
}

func markEdge(m *Model, from, to, label string) {
	if schema.Action(label).OrDefault() == schema.DefaultAction {
		label = ""
	}
	for i := range m.Edges {
		e := &m.Edges[i]
		if e.From == from && e.To == to && e.Label == label {
			e.Taken = true
			return
		}
	}
}
