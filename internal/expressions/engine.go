package expressions

import "context"

// Engine evaluates expressions against a data environment.
// Two implementations: Expr (row predicates) and GoJQ (value projection).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
