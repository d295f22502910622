package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRendering(t *testing.T) {
	t.Run("without context path", func(t *testing.T) {
		err := NewError(ErrCodeValidation, "bad input")
		assert.Equal(t, "[VALIDATION_ERROR] bad input", err.Error())
	})

	t.Run("with context path", func(t *testing.T) {
		err := NewErrorf(ErrCodeActionFailed, "boom").WithContext([]string{"configure", "nginx"})
		assert.Equal(t, "[ACTION_FAILED] configure: nginx: boom", err.Error())
	})
}

func TestErrorCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "write failed").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestErrorDetails(t *testing.T) {
	err := NewError(ErrCodeActionFailed, "script failed").
		WithDetails(map[string]any{"exit_code": 2})

	assert.Equal(t, 2, err.Details["exit_code"])
}
