package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator()
	require.NoError(t, err)
	return ev
}

func TestEvaluatePassthrough(t *testing.T) {
	ev := newEvaluator(t)
	sess := session.New()

	for _, raw := range []any{nil, 42, true, 3.14} {
		got, err := ev.Evaluate(context.Background(), raw, sess)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	}
}

func TestEvaluateNodeValue(t *testing.T) {
	ev := newEvaluator(t)

	t.Run("resolved", func(t *testing.T) {
		sess := session.New().WithNodeValue("nv-1", "earlier result")
		got, err := ev.Evaluate(context.Background(), &plan.NodeValue{Path: "nv-1"}, sess)
		require.NoError(t, err)
		assert.Equal(t, "earlier result", got)
	})

	t.Run("by value", func(t *testing.T) {
		sess := session.New().WithNodeValue("nv-1", 7)
		got, err := ev.Evaluate(context.Background(), plan.NodeValue{Path: "nv-1"}, sess)
		require.NoError(t, err)
		assert.Equal(t, 7, got)
	})

	t.Run("not yet computed", func(t *testing.T) {
		_, err := ev.Evaluate(context.Background(), &plan.NodeValue{Path: "nv-missing"}, session.New())
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.Error).Code)
	})
}

func TestEvaluateComputedExpressions(t *testing.T) {
	ev := newEvaluator(t)
	sess := session.New().
		With("count", 2).
		WithNodeValue("nv-1", map[string]any{"exit_code": 0.0})

	t.Run("expr", func(t *testing.T) {
		got, err := ev.Evaluate(context.Background(), Compute("values.count * 3"), sess)
		require.NoError(t, err)
		assert.EqualValues(t, 6, got)
	})

	t.Run("cel", func(t *testing.T) {
		got, err := ev.Evaluate(context.Background(), Predicate("values.count > 1"), sess)
		require.NoError(t, err)
		assert.Equal(t, true, got)
	})

	t.Run("jq", func(t *testing.T) {
		got, err := ev.Evaluate(context.Background(), Query(`.nodes["nv-1"].exit_code`), sess)
		require.NoError(t, err)
		assert.EqualValues(t, 0, got)
	})

	t.Run("unknown language", func(t *testing.T) {
		_, err := ev.Evaluate(context.Background(), Expr{Lang: "perl", Src: "1"}, sess)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeValidation, err.(*schema.Error).Code)
	})
}

func TestInterpolation(t *testing.T) {
	ev := newEvaluator(t)
	sess := session.New().
		With("host", "db1").
		With("port", 5432)

	t.Run("no tokens", func(t *testing.T) {
		got, err := ev.Evaluate(context.Background(), "plain string", sess)
		require.NoError(t, err)
		assert.Equal(t, "plain string", got)
	})

	t.Run("whole-string token preserves type", func(t *testing.T) {
		got, err := ev.Evaluate(context.Background(), "${{ values.port }}", sess)
		require.NoError(t, err)
		assert.Equal(t, 5432, got)
	})

	t.Run("embedded tokens stringify", func(t *testing.T) {
		got, err := ev.Evaluate(context.Background(), "postgres://${{ values.host }}:${{ values.port }}", sess)
		require.NoError(t, err)
		assert.Equal(t, "postgres://db1:5432", got)
	})

	t.Run("unclosed token", func(t *testing.T) {
		_, err := ev.Evaluate(context.Background(), "x ${{ values.host", sess)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeInterpolation, err.(*schema.Error).Code)
	})

	t.Run("plan-file path template", func(t *testing.T) {
		// The shape plan files use for paths and rendered content.
		sess := session.New().With("conf_dir", "/etc/demo").With("listen_port", 8080)
		got, err := ev.Evaluate(context.Background(), "${{ values.conf_dir }}/site.conf", sess)
		require.NoError(t, err)
		assert.Equal(t, "/etc/demo/site.conf", got)

		got, err = ev.Evaluate(context.Background(), "listen ${{ values.listen_port }};", sess)
		require.NoError(t, err)
		assert.Equal(t, "listen 8080;", got)
	})

	t.Run("single braces are not tokens", func(t *testing.T) {
		got, err := ev.Evaluate(context.Background(), "${values.host}/x", sess)
		require.NoError(t, err)
		assert.Equal(t, "${values.host}/x", got)
	})
}

func TestScopeKeysShadowExprBuiltins(t *testing.T) {
	// "values" is also an expr builtin function; the scope key must win.
	ev := newEvaluator(t)
	sess := session.New().With("count", 7)

	got, err := ev.Evaluate(context.Background(), Compute("values.count"), sess)
	require.NoError(t, err)
	assert.EqualValues(t, 7, got)

	got, err = ev.Evaluate(context.Background(), "${{ values.count }}", sess)
	require.NoError(t, err)
	assert.EqualValues(t, 7, got)
}

func TestEvaluateContainers(t *testing.T) {
	ev := newEvaluator(t)
	sess := session.New().
		With("user", "deploy").
		WithNodeValue("nv-1", "output")

	raw := map[string]any{
		"owner": "${{ values.user }}",
		"parts": []any{&plan.NodeValue{Path: "nv-1"}, "literal"},
	}

	got, err := ev.Evaluate(context.Background(), raw, sess)
	require.NoError(t, err)

	m := got.(map[string]any)
	assert.Equal(t, "deploy", m["owner"])
	assert.Equal(t, []any{"output", "literal"}, m["parts"].([]any))
}

func TestEvaluateTuple(t *testing.T) {
	ev := newEvaluator(t)
	sess := session.New().With("a", 1)

	got, err := ev.EvaluateTuple(context.Background(), []any{"${{ values.a }}", "b"}, sess)
	require.NoError(t, err)
	assert.Equal(t, []any{1, "b"}, got)
}

func TestEngineCompileCaching(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"values": map[string]any{"n": 1}}

	for i := 0; i < 3; i++ {
		got, err := e.Evaluate(context.Background(), "values.n + 1", data)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got)
	}
}
