package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/digideskio/pallet/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path. The path should
// be a file URI, e.g. "file:/path/to/journal.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies pending migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// CreateRun inserts a new run record with status running.
func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run ID is empty")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, phase, status, error, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Phase, run.Status, nullableString(run.Error), run.StartedAt,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}
	return nil
}

// FinishRun records a run's final status.
func (s *LibSQLStore) FinishRun(ctx context.Context, id string, update RunUpdate) error {
	completed := update.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		update.Status, nullableString(update.Error), completed, id,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "finish run: %s", err.Error()).WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", id)
	}
	return nil
}

// GetRun loads a run by ID, or nil when absent.
func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var errJSON sql.NullString
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phase, status, error, started_at, completed_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Phase, &run.Status, &errJSON, &run.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get run: %s", err.Error()).WithCause(err)
	}
	if errJSON.Valid {
		run.Error = []byte(errJSON.String)
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return run, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT id, phase, status, error, started_at, completed_at FROM runs`
	var conds []string
	var args []any
	if filter.Phase != "" {
		conds = append(conds, "phase = ?")
		args = append(args, filter.Phase)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list runs: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run := &Run{}
		var errJSON sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&run.ID, &run.Phase, &run.Status, &errJSON, &run.StartedAt, &completed); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan run: %s", err.Error()).WithCause(err)
		}
		if errJSON.Valid {
			run.Error = []byte(errJSON.String)
		}
		if completed.Valid {
			run.CompletedAt = &completed.Time
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// AppendActionEvent appends an event with a per-run monotonic sequence.
func (s *LibSQLStore) AppendActionEvent(ctx context.Context, event *ActionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin tx: %s", err.Error()).WithCause(err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM action_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "next sequence: %s", err.Error()).WithCause(err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO action_events (run_id, action, context, status, error, duration_ms, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Action, event.Context, event.Status,
		nullableString(event.Error), event.DurationMs, event.Timestamp, event.Sequence,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "append action event: %s", err.Error()).WithCause(err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit action event: %s", err.Error()).WithCause(err)
	}
	return nil
}

// ListActionEvents returns a run's events in sequence order.
func (s *LibSQLStore) ListActionEvents(ctx context.Context, runID string) ([]*ActionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, action, context, status, error, duration_ms, timestamp, sequence
		 FROM action_events WHERE run_id = ? ORDER BY sequence ASC`, runID,
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list action events: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var out []*ActionEvent
	for rows.Next() {
		ev := &ActionEvent{}
		var ctxLabel, errJSON sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Action, &ctxLabel, &ev.Status,
			&errJSON, &duration, &ev.Timestamp, &ev.Sequence); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan action event: %s", err.Error()).WithCause(err)
		}
		ev.Context = ctxLabel.String
		if errJSON.Valid {
			ev.Error = []byte(errJSON.String)
		}
		ev.DurationMs = duration.Int64
		out = append(out, ev)
	}
	return out, rows.Err()
}

// StoreSecret upserts an encrypted secret.
func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "store secret: %s", err.Error()).WithCause(err)
	}
	return nil
}

// GetSecret loads an encrypted secret.
func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret not found: %s", key)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get secret: %s", err.Error()).WithCause(err)
	}
	return value, nil
}

// DeleteSecret removes a secret. Deleting an unknown key is a no-op.
func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete secret: %s", err.Error()).WithCause(err)
	}
	return nil
}

// ListSecrets returns all secret keys, sorted.
func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list secrets: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan secret key: %s", err.Error()).WithCause(err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ Store = (*LibSQLStore)(nil)
