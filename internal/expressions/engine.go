// Package expressions is the argument evaluator: it resolves node-value
// forward references, computed expressions, and ${{ }} string interpolation
// uniformly, independent of argument position.
package expressions

import "context"

// Engine evaluates one expression language against a scope map.
// Three implementations: CEL (conditional predicates), jq (node-value
// extraction), Expr (general computed arguments).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
