package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteLedger implements core.Ledger with SQLite storage.
type SQLiteLedger struct {
	dbPath string
	db     *sql.DB
	// mu serializes writers; WAL lets readers proceed concurrently.
	mu sync.Mutex
}

// NewSQLiteLedger opens (creating if needed) the ledger database at dbPath.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	// WAL mode for concurrent readers, foreign keys for the run cascade
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	l := &SQLiteLedger{dbPath: dbPath, db: db}

	if err := l.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return l, nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Path returns the database path.
func (l *SQLiteLedger) Path() string {
	return l.dbPath
}

// migrate runs pending migrations.
func (l *SQLiteLedger) migrate() error {
	var version int
	err := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}

	if version < 1 {
		if _, err := l.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a run.
func (l *SQLiteLedger) CreateRun(ctx context.Context, run *core.WorkflowRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (
			id, owner, workflow_id, status, run_type, node_count,
			started_at, completed_at, duration, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Owner, nullableString(run.WorkflowID), run.Status, run.RunType, run.NodeCount,
		run.StartedAt, nullableTime(run.CompletedAt), run.Duration, nullableString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (l *SQLiteLedger) FinishRun(ctx context.Context, id core.RunID, status core.RunStatus, completedAt time.Time, duration int64, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET status = ?, completed_at = ?, duration = ?, error = ?
		WHERE id = ?
	`, status, completedAt, duration, nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound("run", string(id))
	}
	return nil
}

// StartNode inserts a running node row.
func (l *SQLiteLedger) StartNode(ctx context.Context, exec *core.NodeExecution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO node_executions (
			id, run_id, node_id, node_type, status, inputs, outputs,
			error, duration, retries, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.RunID, exec.NodeID, exec.NodeType, exec.Status,
		nullableString(exec.Inputs), nullableString(exec.Outputs), nullableString(exec.Error),
		exec.Duration, exec.Retries, exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting node execution: %w", err)
	}
	return nil
}

// FinishNode upserts the terminal node row. A row created by StartNode keeps
// its ID and execution time.
func (l *SQLiteLedger) FinishNode(ctx context.Context, exec *core.NodeExecution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO node_executions (
			id, run_id, node_id, node_type, status, inputs, outputs,
			error, duration, retries, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, node_id) DO UPDATE SET
			status = excluded.status,
			inputs = COALESCE(excluded.inputs, node_executions.inputs),
			outputs = excluded.outputs,
			error = excluded.error,
			duration = excluded.duration,
			retries = excluded.retries
	`,
		exec.ID, exec.RunID, exec.NodeID, exec.NodeType, exec.Status,
		nullableString(exec.Inputs), nullableString(exec.Outputs), nullableString(exec.Error),
		exec.Duration, exec.Retries, exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting node execution: %w", err)
	}
	return nil
}

// GetRun returns a run.
func (l *SQLiteLedger) GetRun(ctx context.Context, id core.RunID) (*core.WorkflowRun, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, owner, workflow_id, status, run_type, node_count,
			started_at, completed_at, duration, error
		FROM workflow_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("run", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}
	return run, nil
}

// ListNodeExecutions returns the node rows of a run in execution order.
func (l *SQLiteLedger) ListNodeExecutions(ctx context.Context, id core.RunID) ([]core.NodeExecution, error) {
	if _, err := l.GetRun(ctx, id); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, node_id, node_type, status, inputs, outputs,
			error, duration, retries, executed_at
		FROM node_executions
		WHERE run_id = ?
		ORDER BY executed_at ASC, node_id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying node executions: %w", err)
	}
	defer rows.Close()

	result := make([]core.NodeExecution, 0)
	for rows.Next() {
		var (
			e                      core.NodeExecution
			inputs, outputs, errMs sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.NodeID, &e.NodeType, &e.Status,
			&inputs, &outputs, &errMs, &e.Duration, &e.Retries, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scanning node execution: %w", err)
		}
		e.Inputs = inputs.String
		e.Outputs = outputs.String
		e.Error = errMs.String
		result = append(result, e)
	}
	return result, rows.Err()
}

// ListRuns returns the most recent runs of owner, newest first. An empty
// owner lists every run.
func (l *SQLiteLedger) ListRuns(ctx context.Context, owner string, limit int) ([]core.WorkflowRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, owner, workflow_id, status, run_type, node_count,
			started_at, completed_at, duration, error
		FROM workflow_runs
		WHERE ? = '' OR owner = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, owner, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	result := make([]core.WorkflowRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		result = append(result, *run)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*core.WorkflowRun, error) {
	var (
		run         core.WorkflowRun
		workflowID  sql.NullString
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Owner, &workflowID, &run.Status, &run.RunType, &run.NodeCount,
		&run.StartedAt, &completedAt, &run.Duration, &errMsg); err != nil {
		return nil, err
	}
	run.WorkflowID = workflowID.String
	run.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

// Helper functions for nullable values

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ core.Ledger = (*SQLiteLedger)(nil)
