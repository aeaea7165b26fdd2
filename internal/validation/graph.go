package validation

import (
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// validateGraph reports nodes no path from the entry reaches. Cycles are
// legal: a node may route back to itself or an earlier node.
func validateGraph(def *schema.FlowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	out := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		out[e.From] = append(out[e.From], e.To)
	}

	reachable := map[string]bool{def.Entry: true}
	queue := []string{def.Entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range out[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, n := range def.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from entry %q", n.ID, def.Entry))
		}
	}
	return result
}
