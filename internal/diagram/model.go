package diagram

// NodeKind classifies a diagram node by the flow node type it stands for.
type NodeKind string

const (
	NodeKindAction NodeKind = "action"
	NodeKindRouter NodeKind = "router"
	NodeKindBatch  NodeKind = "batch"
	NodeKindStart  NodeKind = "start"
	NodeKindEnd    NodeKind = "end"
)

// Virtual node IDs.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// Node statuses derived from run events.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single flow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries what a run did at a node.
type StatusOverlay struct {
	Status     string
	Attempts   int
	DurationMs int64
	ErrorCode  string
	Error      string
}

// Edge is a transition. Label is empty for the default action.
type Edge struct {
	From  string
	To    string
	Label string
	Taken bool
}

func (m *Model) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
