package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

func noopImpl(ctx context.Context, sess *session.Session, args []any) (any, *session.Session, error) {
	return nil, sess, nil
}

func noopGen(ctx context.Context, sess *session.Session, args []any) (*session.Session, error) {
	return sess, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	ref, err := r.Register(RefSpec{
		Name:        "pkg.install",
		Kind:        Aggregated,
		Impls:       map[string]ImplFn{DefaultImpl: noopImpl},
		Description: "install packages",
	})
	require.NoError(t, err)
	assert.Equal(t, "pkg.install", ref.Name())
	assert.Equal(t, Aggregated, ref.Kind())

	got, err := r.Get("pkg.install")
	require.NoError(t, err)
	assert.Same(t, ref, got)
	assert.True(t, r.Has("pkg.install"))
	assert.Equal(t, 1, r.Count())
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		spec RefSpec
	}{
		{"empty name", RefSpec{Kind: InSequence, Impls: map[string]ImplFn{DefaultImpl: noopImpl}}},
		{"no impls", RefSpec{Name: "x", Kind: InSequence}},
		{"deferred without generator", RefSpec{Name: "x", Kind: DeferredInSequence}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Register(tt.spec)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, err.(*schema.Error).Code)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	spec := RefSpec{Name: "x", Kind: InSequence, Impls: map[string]ImplFn{DefaultImpl: noopImpl}}

	_, err := r.Register(spec)
	require.NoError(t, err)
	_, err = r.Register(spec)
	require.Error(t, err)
}

func TestDeferredRegistration(t *testing.T) {
	r := NewRegistry()
	ref, err := r.Register(RefSpec{Name: "gen", Kind: DeferredInSequence, Generate: noopGen})
	require.NoError(t, err)
	assert.NotNil(t, ref.Generator())
	assert.True(t, ref.Kind().Deferred())
}

func TestList(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b.second", "a.first"} {
		_, err := r.Register(RefSpec{Name: name, Kind: InSequence, Impls: map[string]ImplFn{DefaultImpl: noopImpl}})
		require.NoError(t, err)
	}

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a.first", infos[0].Name)
	assert.Equal(t, "b.second", infos[1].Name)
	assert.Equal(t, "in-sequence", infos[0].Kind)
}

func TestArgSchemaValidation(t *testing.T) {
	r := NewRegistry()
	ref, err := r.Register(RefSpec{
		Name:  "file.touch",
		Kind:  InSequence,
		Impls: map[string]ImplFn{DefaultImpl: noopImpl},
		ArgSchema: `{
			"type": "object",
			"properties": {"path": {"type": "string", "minLength": 1}},
			"required": ["path"]
		}`,
	})
	require.NoError(t, err)

	t.Run("valid args", func(t *testing.T) {
		assert.NoError(t, ref.ValidateArgs([]any{map[string]any{"path": "/tmp/x"}}))
	})

	t.Run("missing required key", func(t *testing.T) {
		err := ref.ValidateArgs([]any{map[string]any{}})
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeValidation, err.(*schema.Error).Code)
	})

	t.Run("non-map first arg skips schema", func(t *testing.T) {
		assert.NoError(t, ref.ValidateArgs([]any{"plain"}))
	})
}

func TestInvalidArgSchemaRejected(t *testing.T) {
	_, err := NewRegistry().Register(RefSpec{
		Name:      "bad",
		Kind:      InSequence,
		Impls:     map[string]ImplFn{DefaultImpl: noopImpl},
		ArgSchema: `{"type": nope}`,
	})
	require.Error(t, err)
}

func TestKindHelpers(t *testing.T) {
	assert.Equal(t, Aggregated, DeferredAggregated.Base())
	assert.Equal(t, Collected, DeferredCollected.Base())
	assert.Equal(t, InSequence, InSequence.Base())

	assert.True(t, DeferredInSequence.Deferred())
	assert.False(t, Collected.Deferred())

	assert.True(t, Aggregated.Merged())
	assert.True(t, DeferredCollected.Merged())
	assert.False(t, InSequence.Merged())
}
