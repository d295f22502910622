package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

// Expr marks an argument as a computed expression evaluated at execution
// time. Lang selects the engine: "expr" (default), "cel", or "jq".
type Expr struct {
	Lang string
	Src  string
}

// Compute builds an expr-lang computed argument.
func Compute(src string) Expr { return Expr{Lang: "expr", Src: src} }

// Predicate builds a CEL predicate argument (conditional actions).
func Predicate(src string) Expr { return Expr{Lang: "cel", Src: src} }

// Query builds a jq extraction argument.
func Query(src string) Expr { return Expr{Lang: "jq", Src: src} }

// Evaluator resolves raw arguments against the current session: node-value
// handles, computed expressions, ${{ }} interpolation in strings, and
// containers thereof. Plain values pass through.
type Evaluator struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *JQEngine
}

// NewEvaluator creates an Evaluator with all three engines.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		expr: NewExprEngine(),
		cel:  celEngine,
		jq:   NewJQEngine(),
	}, nil
}

// scope builds the data map engines and interpolation see.
func scope(sess *session.Session) map[string]any {
	return map[string]any{
		"nodes":  sess.NodeValues(),
		"values": sess.Values(),
		"phase":  sess.Phase(),
	}
}

// Evaluate resolves one raw argument against sess.
func (ev *Evaluator) Evaluate(ctx context.Context, raw any, sess *session.Session) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil

	case *plan.NodeValue:
		val, ok := sess.NodeValue(v.Path)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"node value %s not yet computed", v.Path)
		}
		return val, nil

	case plan.NodeValue:
		return ev.Evaluate(ctx, &v, sess)

	case Expr:
		return ev.evaluateExpr(ctx, v, sess)

	case string:
		return ev.interpolate(ctx, v, sess)

	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := ev.Evaluate(ctx, item, sess)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := ev.Evaluate(ctx, item, sess)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return raw, nil
	}
}

// EvaluateTuple resolves each argument of one tuple.
func (ev *Evaluator) EvaluateTuple(ctx context.Context, args []any, sess *session.Session) ([]any, error) {
	out := make([]any, len(args))
	for i, raw := range args {
		val, err := ev.Evaluate(ctx, raw, sess)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func (ev *Evaluator) evaluateExpr(ctx context.Context, e Expr, sess *session.Session) (any, error) {
	data := scope(sess)
	switch e.Lang {
	case "", "expr":
		return ev.expr.Evaluate(ctx, e.Src, data)
	case "cel":
		return ev.cel.Evaluate(ctx, e.Src, data)
	case "jq":
		return ev.jq.Evaluate(ctx, e.Src, data)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression language %q", e.Lang)
	}
}

// interpolate resolves ${{ path }} tokens in a string against the scope.
// A string that is exactly one token resolves to the referenced value with
// its type preserved; embedded tokens render through the expr engine's
// string conversion.
func (ev *Evaluator) interpolate(ctx context.Context, s string, sess *session.Session) (any, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}

	data := scope(sess)

	// Whole-string token: preserve the referenced value's type.
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") {
		inner := trimmed[3 : len(trimmed)-2]
		if !strings.Contains(inner, "${{") {
			return ev.expr.Evaluate(ctx, strings.TrimSpace(inner), data)
		}
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		start := i + idx + 3

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		val, err := ev.expr.Evaluate(ctx, strings.TrimSpace(s[start:end]), data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"resolve %q: %s", strings.TrimSpace(s[start:end]), err.Error()).WithCause(err)
		}
		result.WriteString(stringify(val))

		i = end + 2
	}
	return result.String(), nil
}

// stringify renders an interpolated value for embedding in a string.
// Containers render as JSON so embedded references stay parseable.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
