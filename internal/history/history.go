// Package history persists the audit trail of deployment runs in SQLite:
// one row per run, one row per executed or skipped step.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// History manages deployment history in SQLite.
type History struct {
	db *sql.DB
}

// NewHistory opens (and if needed initializes) the history database.
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}
	if err := h.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			target TEXT NOT NULL,
			branch TEXT NOT NULL,
			ref TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			commit_hash TEXT,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_steps (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER,
			output TEXT,
			duration_seconds REAL,
			PRIMARY KEY (run_id, position)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create run_steps table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_target_started
		ON runs(target, started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordRun inserts a run record. CompletedAt defaults to now for any status
// other than in_progress.
func (h *History) RecordRun(ctx context.Context, record *RunRecord) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	startedAt := now
	if !record.StartedAt.IsZero() {
		startedAt = record.StartedAt.UTC().Format(time.RFC3339)
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &formatted
	} else if record.Status != StatusInProgress {
		completedAt = &now
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, target, branch, ref, status, started_at, completed_at,
		 duration_seconds, commit_hash, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID,
		record.Target,
		record.Branch,
		record.Ref,
		record.Status,
		startedAt,
		completedAt,
		record.DurationSeconds,
		record.CommitHash,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// RecordSteps inserts the per-step audit records for a run.
func (h *History) RecordSteps(ctx context.Context, steps []StepRecord) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, step := range steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_steps
			(run_id, position, name, status, exit_code, output, duration_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			step.RunID,
			step.Position,
			step.Name,
			step.Status,
			step.ExitCode,
			step.Output,
			step.DurationSeconds,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step record: %w", err)
		}
	}

	return tx.Commit()
}

// LatestRun returns the most recent run for a target, or nil if none exists.
func (h *History) LatestRun(ctx context.Context, targetName string) (*RunRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT id, run_id, target, branch, ref, status, started_at,
		       completed_at, duration_seconds, commit_hash, error_message
		FROM runs
		WHERE target = ?
		ORDER BY id DESC
		LIMIT 1
	`, targetName)

	record, err := scanRunRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	return record, nil
}

// RunHistory returns recent runs for a target, newest first.
func (h *History) RunHistory(ctx context.Context, targetName string, limit int) ([]RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, run_id, target, branch, ref, status, started_at,
		       completed_at, duration_seconds, commit_hash, error_message
		FROM runs
		WHERE target = ?
		ORDER BY id DESC
		LIMIT ?
	`, targetName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// StepResults returns the ordered step records for a run.
func (h *History) StepResults(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, position, name, status, exit_code, output, duration_seconds
		FROM run_steps
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var step StepRecord
		if err := rows.Scan(&step.RunID, &step.Position, &step.Name, &step.Status,
			&step.ExitCode, &step.Output, &step.DurationSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return steps, nil
}

// AllTargetsStatus returns the latest run for every target that has history.
func (h *History) AllTargetsStatus(ctx context.Context) (map[string]*RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT r1.id, r1.run_id, r1.target, r1.branch, r1.ref, r1.status,
		       r1.started_at, r1.completed_at, r1.duration_seconds,
		       r1.commit_hash, r1.error_message
		FROM runs r1
		INNER JOIN (
			SELECT target, MAX(id) AS max_id
			FROM runs
			GROUP BY target
		) r2
		ON r1.id = r2.max_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets status: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*RunRecord)
	for rows.Next() {
		record, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		result[record.Target] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRunRecord(s scanner) (*RunRecord, error) {
	var record RunRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.RunID,
		&record.Target,
		&record.Branch,
		&record.Ref,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.CommitHash,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
