package engine

import (
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// Graph is the in-memory directed acyclic graph of a scenario's tasks.
// Edges are inferred from data dependencies: a task that consumes a node
// depends on the task that produces it. Built at configuration time, used
// by the Orchestrator to determine execution order.
type Graph struct {
	Tasks     map[string]schema.TaskConfig // task name → definition
	Edges     map[string][]string          // task name → prerequisites
	Reverse   map[string][]string          // task name → dependents
	Sorted    []string                     // topological order
	Roots     []string                     // tasks with no prerequisites
	Levels    [][]string                   // parallel execution levels
	Producers map[string]string            // node name → producing task
}

// BuildGraph assembles and validates the task graph for one scenario
// configuration. It checks task references, enforces the single-producer
// invariant for every node, performs a topological sort using Kahn's
// algorithm, detects cycles, and computes parallel execution levels.
// All graph-shape errors surface here, at configuration time, never at
// submit time.
func BuildGraph(cfg *schema.BoardConfig, sc schema.ScenarioConfig) (*Graph, error) {
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "board configuration is nil")
	}
	if len(sc.Tasks) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "scenario %s has no tasks", sc.Name)
	}

	g := &Graph{
		Tasks:     make(map[string]schema.TaskConfig, len(sc.Tasks)),
		Edges:     make(map[string][]string, len(sc.Tasks)),
		Reverse:   make(map[string][]string, len(sc.Tasks)),
		Producers: make(map[string]string),
	}

	// First pass: resolve task definitions and check for duplicates.
	for _, name := range sc.Tasks {
		if _, exists := g.Tasks[name]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"scenario %s lists task %s twice", sc.Name, name)
		}
		task, ok := cfg.Task(name)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"scenario %s references undefined task: %s", sc.Name, name)
		}
		g.Tasks[name] = task
	}

	// Second pass: register producers. A node is the declared output of at
	// most one task.
	for name, task := range g.Tasks {
		for _, out := range task.Outputs {
			if prev, taken := g.Producers[out]; taken {
				return nil, schema.NewErrorf(schema.ErrCodeConfig,
					"node %s is produced by both %s and %s", out, prev, name)
			}
			g.Producers[out] = name
		}
	}

	// Third pass: build adjacency lists from data dependencies.
	for name, task := range g.Tasks {
		seen := make(map[string]bool, len(task.Inputs))
		deps := make([]string, 0, len(task.Inputs))
		for _, in := range task.Inputs {
			producer, produced := g.Producers[in]
			if !produced {
				continue // externally written input
			}
			if producer == name {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
					"task %s consumes its own output node %s", name, in)
			}
			if seen[producer] {
				continue
			}
			seen[producer] = true
			deps = append(deps, producer)
			g.Reverse[producer] = append(g.Reverse[producer], name)
		}
		sortStrings(deps)
		g.Edges[name] = deps
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(g.Tasks))
	for name := range g.Tasks {
		inDegree[name] = len(g.Edges[name])
	}

	queue := make([]string, 0)
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	// Sort roots for deterministic ordering.
	sortStrings(queue)
	g.Roots = make([]string, len(queue))
	copy(g.Roots, queue)

	sorted := make([]string, 0, len(g.Tasks))
	for len(queue) > 0 {
		task := queue[0]
		queue = queue[1:]
		sorted = append(sorted, task)

		dependents := make([]string, len(g.Reverse[task]))
		copy(dependents, g.Reverse[task])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(g.Tasks) {
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"scenario %s task graph contains a cycle", sc.Name)
	}

	g.Sorted = sorted
	g.Levels = computeLevels(g)

	return g, nil
}

// computeLevels groups tasks into parallel execution levels. Tasks at the
// same level have all data dependencies satisfied by previous levels.
func computeLevels(g *Graph) [][]string {
	depth := make(map[string]int, len(g.Tasks))

	for _, name := range g.Sorted {
		maxDep := -1
		for _, dep := range g.Edges[name] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[name] = maxDep + 1
	}

	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, name := range g.Sorted {
		d := depth[name]
		levels[d] = append(levels[d], name)
	}

	return levels
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
