package actions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digideskio/pallet/internal/session"
)

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	for _, name := range []string{"exec.script", "file.write", "control.when"} {
		assert.True(t, r.Has(name), name)
	}
}

func TestExecScript(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	ref, err := r.Get("exec.script")
	require.NoError(t, err)

	out, _, err := ref.Impl(DefaultImpl)(context.Background(), session.New(),
		[]any{map[string]any{"script": "echo hello"}})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, "hello\n", result["stdout"])
	assert.Equal(t, 0, result["exit_code"])
}

func TestExecScriptFailure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	ref, err := r.Get("exec.script")
	require.NoError(t, err)

	out, _, err := ref.Impl(DefaultImpl)(context.Background(), session.New(),
		[]any{map[string]any{"script": "exit 3"}})
	require.Error(t, err)

	result := out.(map[string]any)
	assert.Equal(t, 3, result["exit_code"])
}

func TestFileWrite(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	ref, err := r.Get("file.write")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "motd")
	_, _, err = ref.Impl(DefaultImpl)(context.Background(), session.New(),
		[]any{map[string]any{"path": path, "content": "welcome"}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(data))
}
