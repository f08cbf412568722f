package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"deployhook/internal/deployment"
	"deployhook/internal/security"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// History manages deployment history in SQLite
type History struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistory creates a new history tracker, creating the database
// directory if needed.
func NewHistory(dbPath string) (*History, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := security.CreateSecureDir(dir, security.PermDirectory); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db, logger: slog.Default()}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// SetLogger sets the logger used when recording from a run callback fails.
func (h *History) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

// initSchema creates the database tables and indexes
func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			ref TEXT NOT NULL,
			repository TEXT NOT NULL,
			outcome TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			commit_hash TEXT,
			delivery_id TEXT,
			error_message TEXT,
			steps TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_outcome
		ON deployments(outcome)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordDeployment stores a deployment record and returns its row ID.
func (h *History) RecordDeployment(ctx context.Context, record *DeploymentRecord) (int64, error) {
	if record.RunID == "" {
		return 0, errors.New("record has no run ID")
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(timeLayout)
		completedAt = &formatted
	}

	steps, err := json.Marshal(record.Steps)
	if err != nil {
		return 0, fmt.Errorf("failed to encode steps: %w", err)
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(run_id, source, ref, repository, outcome, started_at, completed_at,
		 duration_seconds, commit_hash, delivery_id, error_message, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID,
		record.Source,
		record.Ref,
		record.Repository,
		record.Outcome,
		record.StartedAt.UTC().Format(timeLayout),
		completedAt,
		record.DurationSeconds,
		record.CommitHash,
		record.DeliveryID,
		record.ErrorMessage,
		string(steps),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// RecordRun stores a finished run.
func (h *History) RecordRun(ctx context.Context, run *deployment.Run) (int64, error) {
	return h.RecordDeployment(ctx, RecordFromRun(run))
}

// RunStarted is part of deployment.Reporter. Runs are stored once finished.
func (h *History) RunStarted(ctx context.Context, run *deployment.Run) {}

// RunFinished is part of deployment.Reporter.
func (h *History) RunFinished(ctx context.Context, run *deployment.Run) {
	if _, err := h.RecordRun(ctx, run); err != nil {
		h.logger.Error("failed to record deployment history", "run_id", run.ID, "error", err)
	}
}

const selectColumns = `
	SELECT id, run_id, source, ref, repository, outcome, started_at, completed_at,
	       duration_seconds, commit_hash, delivery_id, error_message, steps
	FROM deployments`

// GetLatestDeployment returns the most recent deployment, or nil when
// there is none.
func (h *History) GetLatestDeployment(ctx context.Context) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, selectColumns+`
		ORDER BY id DESC
		LIMIT 1
	`)

	record, err := scanDeploymentRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// GetDeployment returns the deployment with the given run ID, or nil.
func (h *History) GetDeployment(ctx context.Context, runID string) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, selectColumns+`
		WHERE run_id = ?
	`, runID)

	record, err := scanDeploymentRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment %s: %w", runID, err)
	}

	return record, nil
}

// GetDeploymentHistory returns up to limit deployments, newest first
func (h *History) GetDeploymentHistory(ctx context.Context, limit int) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	defer rows.Close()

	records := []DeploymentRecord{}
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// CountByOutcome returns the number of stored runs per outcome.
func (h *History) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM deployments
		GROUP BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count deployments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDeploymentRecord scans a database row into a DeploymentRecord
// Works with both *sql.Row and *sql.Rows
func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var startedAtStr string
	var completedAtStr, stepsStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.RunID,
		&record.Source,
		&record.Ref,
		&record.Repository,
		&record.Outcome,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.CommitHash,
		&record.DeliveryID,
		&record.ErrorMessage,
		&stepsStr,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(timeLayout, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(timeLayout, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	if stepsStr.Valid && stepsStr.String != "" && stepsStr.String != "null" {
		if err := json.Unmarshal([]byte(stepsStr.String), &record.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps: %w", err)
		}
	}

	return &record, nil
}
