// Package nodes implements the data-node store: named, typed, persisted
// storage slots owned by a single scenario instance. A node's value is
// only ever produced by an explicit external write or by being the
// declared output of a task execution.
package nodes

import (
	"sync"
	"time"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

// historyLimit caps the number of retained prior values per node.
const historyLimit = 10

// Set holds the data nodes owned by one scenario instance. Writes are
// visible immediately to subsequent reads within the same set; sets of
// different scenario instances never share state.
type Set struct {
	mu      sync.RWMutex
	decls   map[string]schema.DataNodeConfig
	order   []string
	values  map[string]Value
	history map[string][]Value // most recent first
}

// NewSet creates a set with the given node declarations.
func NewSet(decls []schema.DataNodeConfig) (*Set, error) {
	s := &Set{
		decls:   make(map[string]schema.DataNodeConfig, len(decls)),
		values:  make(map[string]Value, len(decls)),
		history: make(map[string][]Value, len(decls)),
	}
	for _, d := range decls {
		if err := s.Declare(d.Name, d.Kind); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Declare registers a node. Idempotent for identical declarations; a
// conflicting re-declaration is a configuration error.
func (s *Set) Declare(name string, kind schema.NodeKind) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeConfig, "data node name is empty")
	}
	if !kind.Valid() {
		return schema.NewErrorf(schema.ErrCodeConfig, "data node %s has unknown kind: %s", name, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.decls[name]; ok {
		if existing.Kind == kind {
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeConfig,
			"conflicting re-declaration of node %s: %s vs %s", name, existing.Kind, kind)
	}

	s.decls[name] = schema.DataNodeConfig{Name: name, Kind: kind}
	s.order = append(s.order, name)
	return nil
}

// Names returns all node names in declaration order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Kind returns the declared kind for a node name.
func (s *Set) Kind(name string) (schema.NodeKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decls[name]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "undeclared data node: %s", name)
	}
	return d.Kind, nil
}

// Write stores a value under the named node. The value's kind must match
// the declaration. Writing triggers no computation.
func (s *Set) Write(name string, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	decl, ok := s.decls[name]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "undeclared data node: %s", name)
	}
	if v.Kind != decl.Kind {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"node %s expects %s, got %s", name, decl.Kind, v.Kind)
	}

	v.Version = s.values[name].Version + 1
	v.WrittenAt = time.Now().UTC()
	s.values[name] = v

	hist := append([]Value{v}, s.history[name]...)
	if len(hist) > historyLimit {
		hist = hist[:historyLimit]
	}
	s.history[name] = hist
	return nil
}

// Read returns the last-written value, or the empty sentinel if the node
// has never been written. Reading never blocks. An unknown node name is
// an error; an unwritten node is not.
func (s *Set) Read(name string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.decls[name]; !ok {
		return Empty, schema.NewErrorf(schema.ErrCodeNotFound, "undeclared data node: %s", name)
	}
	return s.values[name], nil
}

// Written reports whether the node has been written at least once.
func (s *Set) Written(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.values[name].IsEmpty()
}

// History returns prior values for the node, most recent first.
func (s *Set) History(name string) ([]Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.decls[name]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "undeclared data node: %s", name)
	}
	out := make([]Value, len(s.history[name]))
	copy(out, s.history[name])
	return out, nil
}

// Snapshot returns the current value of every declared node keyed by name.
// Unwritten nodes map to the empty sentinel.
func (s *Set) Snapshot() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Value, len(s.order))
	for _, name := range s.order {
		out[name] = s.values[name]
	}
	return out
}
