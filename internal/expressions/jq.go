package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/digideskio/pallet/pkg/schema"
)

// JQEngine extracts and reshapes node values with jq expressions.
// Thread-safe: compiled *gojq.Code objects are cached and reused.
type JQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQEngine creates a new jq engine.
func NewJQEngine() *JQEngine {
	return &JQEngine{cache: make(map[string]*gojq.Code)}
}

// Name returns the engine identifier.
func (e *JQEngine) Name() string { return "jq" }

// Evaluate compiles (or retrieves from cache) a jq expression and runs it
// with the scope map as input. A single output is returned directly;
// multiple outputs are collected into a slice.
func (e *JQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(map[string]any(data)))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if evalErr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, evalErr.Error()).
				WithCause(evalErr).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *JQEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts Go values to the types gojq accepts: all numbers
// become float64 or int, nested containers are walked.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

var _ Engine = (*JQEngine)(nil)
