// Package config builds and validates board configurations: the declared
// data nodes, tasks and scenario configurations that the orchestrator
// instantiates. All graph-shape problems surface here, at define time.
package config

import (
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// SignatureResolver reports the declared arity of a named computation.
// Satisfied by the engine's computation registry.
type SignatureResolver interface {
	Signature(name string) (inputs, outputs int, ok bool)
}

// Builder assembles a BoardConfig incrementally. Declaration errors are
// collected and reported by Build, so call chains stay uncluttered.
type Builder struct {
	resolver  SignatureResolver
	nodes     map[string]schema.DataNodeConfig
	nodeOrder []string
	tasks     map[string]schema.TaskConfig
	taskOrder []string
	scenarios map[string]schema.ScenarioConfig
	scOrder   []string
	errs      []error
}

// NewBuilder creates a Builder. The resolver checks computation arity at
// define time; nil skips arity checks.
func NewBuilder(resolver SignatureResolver) *Builder {
	return &Builder{
		resolver:  resolver,
		nodes:     make(map[string]schema.DataNodeConfig),
		tasks:     make(map[string]schema.TaskConfig),
		scenarios: make(map[string]schema.ScenarioConfig),
	}
}

// AddNode declares a data node. Re-declaring a node with the same kind is
// idempotent; a conflicting kind is a configuration error.
func (b *Builder) AddNode(name string, kind schema.NodeKind) *Builder {
	if name == "" {
		b.errs = append(b.errs, schema.NewError(schema.ErrCodeConfig, "data node name is empty"))
		return b
	}
	if !kind.Valid() {
		b.errs = append(b.errs, schema.NewErrorf(schema.ErrCodeConfig,
			"data node %s has unknown kind: %s", name, kind))
		return b
	}
	if existing, ok := b.nodes[name]; ok {
		if existing.Kind != kind {
			b.errs = append(b.errs, schema.NewErrorf(schema.ErrCodeConfig,
				"conflicting re-declaration of node %s: %s vs %s", name, existing.Kind, kind))
		}
		return b
	}
	b.nodes[name] = schema.DataNodeConfig{Name: name, Kind: kind}
	b.nodeOrder = append(b.nodeOrder, name)
	return b
}

// AddTask declares a task binding a computation to input and output nodes.
func (b *Builder) AddTask(name, computation string, inputs, outputs []string) *Builder {
	if name == "" {
		b.errs = append(b.errs, schema.NewError(schema.ErrCodeConfig, "task name is empty"))
		return b
	}
	task := schema.TaskConfig{Name: name, Computation: computation, Inputs: inputs, Outputs: outputs}
	if existing, ok := b.tasks[name]; ok {
		if !tasksEqual(existing, task) {
			b.errs = append(b.errs, schema.NewErrorf(schema.ErrCodeConfig,
				"conflicting re-declaration of task %s", name))
		}
		return b
	}
	b.tasks[name] = task
	b.taskOrder = append(b.taskOrder, name)
	return b
}

// AddScenario declares a scenario configuration over the named tasks.
func (b *Builder) AddScenario(name string, tasks ...string) *Builder {
	if name == "" {
		b.errs = append(b.errs, schema.NewError(schema.ErrCodeConfig, "scenario name is empty"))
		return b
	}
	sc := schema.ScenarioConfig{Name: name, Tasks: tasks}
	if existing, ok := b.scenarios[name]; ok {
		if !scenariosEqual(existing, sc) {
			b.errs = append(b.errs, schema.NewErrorf(schema.ErrCodeConfig,
				"conflicting re-declaration of scenario %s", name))
		}
		return b
	}
	b.scenarios[name] = sc
	b.scOrder = append(b.scOrder, name)
	return b
}

// Build validates the accumulated declarations and produces the immutable
// configuration. It checks node references, computation arity, the
// single-producer invariant and cycle freedom for every scenario.
func (b *Builder) Build() (*schema.BoardConfig, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	cfg := &schema.BoardConfig{}
	for _, name := range b.nodeOrder {
		cfg.Nodes = append(cfg.Nodes, b.nodes[name])
	}
	for _, name := range b.taskOrder {
		cfg.Tasks = append(cfg.Tasks, b.tasks[name])
	}
	for _, name := range b.scOrder {
		cfg.Scenarios = append(cfg.Scenarios, b.scenarios[name])
	}

	if err := Validate(cfg, b.resolver); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a configuration for structural soundness. Used by Build
// and when loading a configuration artifact.
func Validate(cfg *schema.BoardConfig, resolver SignatureResolver) error {
	if cfg == nil {
		return schema.NewError(schema.ErrCodeConfig, "board configuration is nil")
	}

	declared := make(map[string]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if !n.Kind.Valid() {
			return schema.NewErrorf(schema.ErrCodeConfig,
				"data node %s has unknown kind: %s", n.Name, n.Kind)
		}
		if declared[n.Name] {
			return schema.NewErrorf(schema.ErrCodeConfig, "duplicate node declaration: %s", n.Name)
		}
		declared[n.Name] = true
	}

	taskNames := make(map[string]bool, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		if taskNames[t.Name] {
			return schema.NewErrorf(schema.ErrCodeConfig, "duplicate task declaration: %s", t.Name)
		}
		taskNames[t.Name] = true

		if t.Computation == "" {
			return schema.NewErrorf(schema.ErrCodeConfig, "task %s has no computation", t.Name)
		}
		if len(t.Outputs) == 0 {
			return schema.NewErrorf(schema.ErrCodeConfig, "task %s declares no outputs", t.Name)
		}
		for _, name := range t.Inputs {
			if !declared[name] {
				return schema.NewErrorf(schema.ErrCodeConfig,
					"task %s reads undeclared node: %s", t.Name, name)
			}
		}
		for _, name := range t.Outputs {
			if !declared[name] {
				return schema.NewErrorf(schema.ErrCodeConfig,
					"task %s writes undeclared node: %s", t.Name, name)
			}
		}

		if resolver != nil {
			in, out, ok := resolver.Signature(t.Computation)
			if !ok {
				return schema.NewErrorf(schema.ErrCodeConfig,
					"task %s references unknown computation: %s", t.Name, t.Computation)
			}
			if in != len(t.Inputs) || out != len(t.Outputs) {
				return schema.NewErrorf(schema.ErrCodeConfig,
					"task %s arity mismatch: computation %s wants %d inputs and %d outputs, task declares %d and %d",
					t.Name, t.Computation, in, out, len(t.Inputs), len(t.Outputs))
			}
		}
	}

	for _, sc := range cfg.Scenarios {
		if err := validateScenario(cfg, sc); err != nil {
			return err
		}
	}
	return nil
}

// validateScenario checks task references, the single-producer invariant
// and cycle freedom for one scenario.
func validateScenario(cfg *schema.BoardConfig, sc schema.ScenarioConfig) error {
	if len(sc.Tasks) == 0 {
		return schema.NewErrorf(schema.ErrCodeConfig, "scenario %s has no tasks", sc.Name)
	}

	tasks := make(map[string]schema.TaskConfig, len(sc.Tasks))
	for _, name := range sc.Tasks {
		if _, seen := tasks[name]; seen {
			return schema.NewErrorf(schema.ErrCodeConfig,
				"scenario %s lists task %s twice", sc.Name, name)
		}
		t, ok := cfg.Task(name)
		if !ok {
			return schema.NewErrorf(schema.ErrCodeConfig,
				"scenario %s references undefined task: %s", sc.Name, name)
		}
		tasks[name] = t
	}

	producers := make(map[string]string)
	for name, t := range tasks {
		for _, out := range t.Outputs {
			if prev, taken := producers[out]; taken {
				return schema.NewErrorf(schema.ErrCodeConfig,
					"node %s is produced by both %s and %s", out, prev, name)
			}
			producers[out] = name
		}
	}

	// Kahn over data dependencies: every task must drain.
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for name, t := range tasks {
		seen := make(map[string]bool)
		for _, in := range t.Inputs {
			producer, produced := producers[in]
			if !produced || seen[producer] {
				continue
			}
			if producer == name {
				return schema.NewErrorf(schema.ErrCodeCycleDetected,
					"task %s consumes its own output node %s", name, in)
			}
			seen[producer] = true
			inDegree[name]++
			dependents[producer] = append(dependents[producer], name)
		}
	}

	var queue []string
	for name := range tasks {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	drained := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		drained++
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if drained != len(tasks) {
		return schema.NewErrorf(schema.ErrCodeCycleDetected,
			"scenario %s task graph contains a cycle", sc.Name)
	}
	return nil
}

func tasksEqual(a, b schema.TaskConfig) bool {
	if a.Computation != b.Computation || len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) {
		return false
	}
	for i := range a.Inputs {
		if a.Inputs[i] != b.Inputs[i] {
			return false
		}
	}
	for i := range a.Outputs {
		if a.Outputs[i] != b.Outputs[i] {
			return false
		}
	}
	return true
}

func scenariosEqual(a, b schema.ScenarioConfig) bool {
	if len(a.Tasks) != len(b.Tasks) {
		return false
	}
	for i := range a.Tasks {
		if a.Tasks[i] != b.Tasks[i] {
			return false
		}
	}
	return true
}
