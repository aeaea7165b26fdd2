package validation

import (
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/pkg/schema"
)

// maxSensibleAttempts is the retry budget above which a warning is raised.
const maxSensibleAttempts = 10

// validateSemantic checks references between nodes, edges and labels.
func validateSemantic(def *schema.FlowDefinition, types TypeLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]int, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)
		if first, dup := ids[n.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeDuplicateStep,
				fmt.Sprintf("node id %q already used by nodes[%d]", n.ID, first))
			continue
		}
		ids[n.ID] = i
		validateNode(n, path, types, result)
	}

	if _, ok := ids[def.Entry]; !ok {
		result.AddError("entry", schema.ErrCodeNoEntryNode,
			fmt.Sprintf("entry %q is not a node of the flow", def.Entry))
	}

	used := make(map[string]bool, len(def.Labels))
	seen := make(map[[2]string]int, len(def.Edges))
	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := ids[e.From]; !ok {
			result.AddError(path+".from", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.From))
		}
		if _, ok := ids[e.To]; !ok {
			result.AddError(path+".to", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.To))
		}

		label := string(schema.Action(e.Label).OrDefault())
		if label != string(schema.DefaultAction) && !slices.Contains(def.Labels, label) {
			result.AddError(path+".label", schema.ErrCodeUndeclaredLabel,
				fmt.Sprintf("label %q is not declared in labels", label))
		}
		used[label] = true

		key := [2]string{e.From, label}
		if first, dup := seen[key]; dup {
			result.AddError(path, schema.ErrCodeDuplicateEdge,
				fmt.Sprintf("edge (%s, %s) already defined by edges[%d]", e.From, label, first))
			continue
		}
		seen[key] = i
	}

	for i, l := range def.Labels {
		if l == string(schema.DefaultAction) {
			result.AddWarning(fmt.Sprintf("labels[%d]", i), schema.ErrCodeValidation,
				"the default label is always declared")
			continue
		}
		if !used[l] {
			result.AddWarning(fmt.Sprintf("labels[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("label %q is declared but no edge uses it", l))
		}
	}

	if def.Schedule != "" {
		if _, err := cron.ParseStandard(def.Schedule); err != nil {
			result.AddError("schedule", schema.ErrCodeValidation,
				fmt.Sprintf("invalid cron expression %q: %s", def.Schedule, err))
		}
	}

	return result
}

func validateNode(n *schema.NodeDefinition, path string, types TypeLookup, result *schema.ValidationResult) {
	if types != nil && !types.Has(n.Type) {
		result.AddError(path+".type", schema.ErrCodeValidation,
			fmt.Sprintf("unknown node type %q", n.Type))
	}

	if n.Retry != nil {
		if _, err := n.Retry.Policy(); err != nil {
			result.AddError(path+".retry", schema.ErrCodeValidation, message(err))
		} else if n.Retry.MaxAttempts > maxSensibleAttempts {
			result.AddWarning(path+".retry.max_attempts", schema.ErrCodeValidation,
				fmt.Sprintf("high retry count (%d) may cause excessive delays", n.Retry.MaxAttempts))
		}
	}

	if _, err := n.AttemptTimeout(); err != nil {
		result.AddError(path+".timeout", schema.ErrCodeValidation, message(err))
	}
}

func message(err error) string {
	if fe, ok := schema.AsFlowError(err); ok {
		return fe.Message
	}
	return err.Error()
}
