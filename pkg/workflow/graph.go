package workflow

import (
	"github.com/selim/orkestra/pkg/run"
)

// NodeKind is the closed set of node types a workflow graph may contain.
// Validation rejects anything outside it before a run starts.
type NodeKind string

const (
	KindTrigger   NodeKind = "trigger"
	KindAgent     NodeKind = "agent"
	KindTool      NodeKind = "tool"
	KindCondition NodeKind = "condition"
	KindParallel  NodeKind = "parallel"
	KindApproval  NodeKind = "approval"
	KindDelay     NodeKind = "delay"
	KindWebhook   NodeKind = "webhook"
	KindEnd       NodeKind = "end"
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case KindTrigger, KindAgent, KindTool, KindCondition, KindParallel,
		KindApproval, KindDelay, KindWebhook, KindEnd:
		return true
	}
	return false
}

// Node is one vertex of a workflow graph. Config carries kind-specific
// settings; string values and nested structures may contain {{dot.path}}
// placeholders resolved at execution time.
type Node struct {
	ID     string                 `json:"id"`
	Type   NodeKind               `json:"type"`
	Name   string                 `json:"name,omitempty"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// Edge connects two nodes. Edges leaving a condition node carry a "true" or
// "false" label; labels on other edges are ignored.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Workflow is a directed graph of nodes and edges plus workflow-scoped
// variables available to templates and condition expressions.
type Workflow struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Nodes     []Node                 `json:"nodes"`
	Edges     []Edge                 `json:"edges"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Validate checks the graph shape before execution. All problems surface as
// ValidationError so malformed definitions fail fast without a run record.
func (w *Workflow) Validate() error {
	if w == nil || len(w.Nodes) == 0 {
		return run.NewValidationError("workflow has no nodes")
	}

	nodes := make(map[string]*Node, len(w.Nodes))
	triggers := 0
	for i := range w.Nodes {
		n := &w.Nodes[i]
		if n.ID == "" {
			return run.NewValidationError("node %d has no id", i)
		}
		if _, dup := nodes[n.ID]; dup {
			return run.NewValidationError("duplicate node id: %s", n.ID)
		}
		if !n.Type.Valid() {
			return run.NewValidationError("node %s has unknown kind: %s", n.ID, n.Type)
		}
		if err := validateNodeConfig(n); err != nil {
			return err
		}
		if n.Type == KindTrigger {
			triggers++
		}
		nodes[n.ID] = n
	}
	if triggers == 0 {
		return run.NewValidationError("workflow has no trigger node")
	}
	if triggers > 1 {
		return run.NewValidationError("workflow has %d trigger nodes, want exactly one", triggers)
	}

	for _, e := range w.Edges {
		src, ok := nodes[e.Source]
		if !ok {
			return run.NewValidationError("edge source %q does not exist", e.Source)
		}
		dst, ok := nodes[e.Target]
		if !ok {
			return run.NewValidationError("edge target %q does not exist", e.Target)
		}
		if src.Type == KindCondition && e.Label != "true" && e.Label != "false" {
			return run.NewValidationError("condition edge %s -> %s needs a true or false label", e.Source, e.Target)
		}
		// Parallel fan-out runs its successors concurrently; an approval
		// there would suspend the run while siblings keep executing.
		if src.Type == KindParallel && dst.Type == KindApproval {
			return run.NewValidationError("approval node %s cannot be a parallel branch", e.Target)
		}
	}

	return nil
}

// validateNodeConfig checks the kind-specific config keys that execution
// cannot proceed without.
func validateNodeConfig(n *Node) error {
	switch n.Type {
	case KindAgent:
		if _, ok := n.stringConfig("agent"); !ok {
			return run.NewValidationError("agent node %s has no agent", n.ID)
		}
	case KindTool:
		if _, ok := n.stringConfig("tool"); !ok {
			return run.NewValidationError("tool node %s has no tool", n.ID)
		}
	case KindCondition:
		if _, ok := n.stringConfig("expression"); !ok {
			return run.NewValidationError("condition node %s has no expression", n.ID)
		}
	case KindDelay:
		secs, ok := n.numberConfig("seconds")
		if !ok || secs <= 0 {
			return run.NewValidationError("delay node %s needs a positive seconds value", n.ID)
		}
	case KindWebhook:
		if _, ok := n.stringConfig("url"); !ok {
			return run.NewValidationError("webhook node %s has no url", n.ID)
		}
	}
	return nil
}

// Trigger returns the workflow's trigger node, or nil.
func (w *Workflow) Trigger() *Node {
	for i := range w.Nodes {
		if w.Nodes[i].Type == KindTrigger {
			return &w.Nodes[i]
		}
	}
	return nil
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Outgoing returns all edges leaving the given node, in definition order.
func (w *Workflow) Outgoing(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

func (n *Node) stringConfig(key string) (string, bool) {
	if n.Config == nil {
		return "", false
	}
	s, ok := n.Config[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func (n *Node) numberConfig(key string) (float64, bool) {
	if n.Config == nil {
		return 0, false
	}
	switch v := n.Config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (n *Node) mapConfig(key string) (map[string]interface{}, bool) {
	if n.Config == nil {
		return nil, false
	}
	m, ok := n.Config[key].(map[string]interface{})
	return m, ok
}
