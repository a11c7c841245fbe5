package schema

// NodeKind is the declared semantic type of a data node.
type NodeKind string

const (
	// NodeKindTable holds a tabular dataset (serialized dataset.Frame).
	NodeKindTable NodeKind = "table"
	// NodeKindString holds a plain string value.
	NodeKindString NodeKind = "string"
	// NodeKindScalar holds a single numeric value.
	NodeKindScalar NodeKind = "scalar"
)

// Valid reports whether k is a recognized node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindTable, NodeKindString, NodeKindScalar:
		return true
	}
	return false
}

// DataNodeConfig declares a named, typed storage slot.
type DataNodeConfig struct {
	Name string   `json:"name"`
	Kind NodeKind `json:"kind"`
}

// TaskConfig binds a named computation to ordered input and output nodes.
// Computation refers to an entry in the orchestrator's computation
// registry; inputs are passed in declared order and outputs written back
// in declared order.
type TaskConfig struct {
	Name        string   `json:"name"`
	Computation string   `json:"computation"`
	Inputs      []string `json:"inputs"`
	Outputs     []string `json:"outputs"`
}

// ScenarioConfig groups tasks into an instantiable unit. Each instantiation
// gets its own isolated copies of every declared data node.
type ScenarioConfig struct {
	Name  string   `json:"name"`
	Tasks []string `json:"tasks"`
}

// BoardConfig is the complete immutable configuration: all declared nodes,
// tasks, and scenario configurations. Produced by the config builder,
// exportable to a JSON artifact and rebuildable from one.
type BoardConfig struct {
	Nodes     []DataNodeConfig `json:"nodes"`
	Tasks     []TaskConfig     `json:"tasks"`
	Scenarios []ScenarioConfig `json:"scenarios"`
}

// Node returns the declaration for the given node name.
func (c *BoardConfig) Node(name string) (DataNodeConfig, bool) {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return DataNodeConfig{}, false
}

// Task returns the definition for the given task name.
func (c *BoardConfig) Task(name string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskConfig{}, false
}

// Scenario returns the scenario configuration for the given name.
func (c *BoardConfig) Scenario(name string) (ScenarioConfig, bool) {
	for _, s := range c.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return ScenarioConfig{}, false
}
