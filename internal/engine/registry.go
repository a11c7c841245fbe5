package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/pulsekit/pulseboard/internal/nodes"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// ComputeFunc is the deterministic, side-effect-free function at the heart
// of a task. Inputs arrive in the task's declared node order; outputs must
// be returned in the declared output order. All inputs are explicit — a
// computation must not read anything beyond what it is handed.
type ComputeFunc func(ctx context.Context, in []nodes.Value) ([]nodes.Value, error)

// Computation is a named computation with a declared arity.
type Computation struct {
	Name        string
	Description string
	Inputs      int
	Outputs     int
	Fn          ComputeFunc
}

// Registry manages the lookup of available computations. Computations are
// shared immutable definitions; scenarios reference them by name.
type Registry struct {
	mu           sync.RWMutex
	computations map[string]Computation
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		computations: make(map[string]Computation),
	}
}

// Register adds a computation. Returns an error on duplicate name.
func (r *Registry) Register(c Computation) error {
	if c.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "computation name is empty")
	}
	if c.Fn == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "computation %q has no function", c.Name)
	}
	if c.Inputs < 0 || c.Outputs < 1 {
		return schema.NewErrorf(schema.ErrCodeValidation, "computation %q has invalid arity", c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.computations[c.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConfig, "computation %q already registered", c.Name)
	}

	r.computations[c.Name] = c
	return nil
}

// Get retrieves a computation by name.
func (r *Registry) Get(name string) (Computation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.computations[name]
	if !ok {
		return Computation{}, schema.NewErrorf(schema.ErrCodeNotFound, "computation %q not registered", name)
	}
	return c, nil
}

// Signature reports the declared arity of a computation. Satisfies the
// config builder's resolver so arity mismatches fail at define time.
func (r *Registry) Signature(name string) (inputs, outputs int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, found := r.computations[name]
	if !found {
		return 0, 0, false
	}
	return c.Inputs, c.Outputs, true
}

// List returns all registered computations, sorted by name.
func (r *Registry) List() []Computation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Computation, 0, len(r.computations))
	for _, c := range r.computations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
