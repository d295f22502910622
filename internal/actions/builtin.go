package actions

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

// RegisterBuiltins adds the reference action vocabulary: a script runner and
// a file writer. Richer action sets plug in through the same Registry.
func RegisterBuiltins(r *Registry) error {
	if _, err := r.Register(execScriptSpec()); err != nil {
		return err
	}
	if _, err := r.Register(fileWriteSpec()); err != nil {
		return err
	}
	if _, err := r.Register(whenSpec()); err != nil {
		return err
	}
	return nil
}

func whenSpec() RefSpec {
	return RefSpec{
		Name:        "control.when",
		Kind:        InSequence,
		Description: "Carry a boolean predicate whose attached blocks are the then/else branches",
		Impls: map[string]ImplFn{
			// Only runs when no blocks were attached; the engine folds the
			// branches itself otherwise.
			DefaultImpl: func(ctx context.Context, sess *session.Session, args []any) (any, *session.Session, error) {
				if len(args) > 0 {
					return args[0], sess, nil
				}
				return nil, sess, nil
			},
		},
	}
}

const execScriptArgSchema = `{
  "type": "object",
  "properties": {
    "script": {"type": "string"},
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "cwd": {"type": "string"}
  },
  "required": ["script"]
}`

func execScriptSpec() RefSpec {
	return RefSpec{
		Name:        "exec.script",
		Kind:        InSequence,
		ArgSchema:   execScriptArgSchema,
		Description: "Run a shell script fragment on the local node",
		Impls: map[string]ImplFn{
			DefaultImpl: execScript,
		},
	}
}

func execScript(ctx context.Context, sess *session.Session, args []any) (any, *session.Session, error) {
	opts, ok := firstMap(args)
	if !ok {
		return nil, sess, schema.NewError(schema.ErrCodeValidation, "exec.script: missing options map")
	}
	script, _ := opts["script"].(string)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	if cwd, ok := opts["cwd"].(string); ok && cwd != "" {
		cmd.Dir = cwd
	}
	if env, ok := opts["env"].(map[string]any); ok {
		cmd.Env = os.Environ()
		for k, v := range env {
			if s, ok := v.(string); ok {
				cmd.Env = append(cmd.Env, k+"="+s)
			}
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": cmd.ProcessState.ExitCode(),
	}
	if runErr != nil {
		return out, sess, schema.NewErrorf(schema.ErrCodeActionFailed,
			"exec.script: %s", runErr.Error()).WithCause(runErr).WithDetails(out)
	}
	return out, sess, nil
}

const fileWriteArgSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "content": {"type": "string"},
    "mode": {"type": "integer"}
  },
  "required": ["path"]
}`

func fileWriteSpec() RefSpec {
	return RefSpec{
		Name:        "file.write",
		Kind:        InSequence,
		ArgSchema:   fileWriteArgSchema,
		Description: "Write a file on the local node, creating parent directories",
		Impls: map[string]ImplFn{
			DefaultImpl: fileWrite,
		},
	}
}

func fileWrite(ctx context.Context, sess *session.Session, args []any) (any, *session.Session, error) {
	opts, ok := firstMap(args)
	if !ok {
		return nil, sess, schema.NewError(schema.ErrCodeValidation, "file.write: missing options map")
	}
	path, _ := opts["path"].(string)
	content, _ := opts["content"].(string)

	mode := os.FileMode(0o644)
	if m, ok := opts["mode"].(int); ok {
		mode = os.FileMode(m)
	} else if m, ok := opts["mode"].(float64); ok {
		mode = os.FileMode(int(m))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, sess, schema.NewErrorf(schema.ErrCodeActionFailed,
			"file.write: mkdir %s: %s", filepath.Dir(path), err.Error()).WithCause(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return nil, sess, schema.NewErrorf(schema.ErrCodeActionFailed,
			"file.write: %s: %s", path, err.Error()).WithCause(err)
	}

	return map[string]any{"path": path, "bytes": len(content)}, sess, nil
}

func firstMap(args []any) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	m, ok := args[0].(map[string]any)
	return m, ok
}
