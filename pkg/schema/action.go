package schema

// Action is the outcome label returned by a node's Finalize phase. The flow
// uses it to select the next node.
type Action string

// DefaultAction selects the normal successor.
const DefaultAction Action = "default"

// OrDefault maps the empty label to DefaultAction.
func (a Action) OrDefault() Action {
	if a == "" {
		return DefaultAction
	}
	return a
}

func (a Action) String() string {
	return string(a)
}
