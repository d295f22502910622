// Package store is the run journal: persisted records of phase runs and the
// per-action events they produced. The execution core never consults it; the
// CLI, scheduler, and MCP layers wire it around RunPhase.
package store

import "context"

// Store defines the journal contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Action events (append-only)
	AppendActionEvent(ctx context.Context, event *ActionEvent) error
	ListActionEvents(ctx context.Context, runID string) ([]*ActionEvent, error)

	// Encrypted secrets (ciphertext only; the vault owns the crypto)
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error

	Close() error
}
