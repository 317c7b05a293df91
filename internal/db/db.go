// Package db handles database operations for Foreman
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"
)

// Store manages database operations
type Store struct {
	DB *sql.DB
}

// Open opens a SQLite database at the given path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection keeps the PRAGMAs below in force for every statement and
	// serializes writes from concurrent pipeline goroutines.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode for concurrent readers during pipeline runs
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to handle lock contention gracefully
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// InitSchema creates the database schema
func (s *Store) InitSchema() error {
	schema := `
	-- PRDs carry the product vision an epic serves
	CREATE TABLE IF NOT EXISTS prds (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		vision TEXT,
		success_criteria TEXT,
		constraints TEXT,
		created_at INTEGER NOT NULL
	);

	-- Epics group related tasks under a scope boundary
	CREATE TABLE IF NOT EXISTS epics (
		id TEXT PRIMARY KEY,
		prd_id TEXT,
		title TEXT NOT NULL,
		description TEXT,
		scope TEXT,
		progress REAL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (prd_id) REFERENCES prds(id)
	);

	-- Tasks are the unit of work
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		work_prompt TEXT,
		status TEXT NOT NULL DEFAULT 'backlog',
		position INTEGER DEFAULT 0,
		epic_id TEXT,
		team_id TEXT,
		branch_name TEXT,
		design_status TEXT,
		execution_status TEXT,
		verification_status TEXT,
		design_result TEXT,
		verification_result TEXT,
		pipeline_id TEXT,
		current_execution_id TEXT,
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (epic_id) REFERENCES epics(id)
	);

	-- Project notes are keyed by working copy path
	CREATE TABLE IF NOT EXISTS project_notes (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Team agents optionally carry a persona
	CREATE TABLE IF NOT EXISTS team_agents (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		model TEXT,
		system_prompt TEXT,
		context_prompt TEXT,
		has_persona INTEGER DEFAULT 0
	);

	-- Pipelines store their steps as JSON
	CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		task_id TEXT,
		steps TEXT NOT NULL,
		status TEXT DEFAULT 'idle',
		created_at INTEGER NOT NULL
	);

	-- Executions are individual pipeline runs
	CREATE TABLE IF NOT EXISTS pipeline_executions (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		task_id TEXT,
		status TEXT NOT NULL,
		current_step INTEGER DEFAULT 0,
		total_steps INTEGER DEFAULT 0,
		results TEXT,
		error TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
	);

	-- Execution logs record single-agent and verification runs
	CREATE TABLE IF NOT EXISTS execution_logs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		correlation_id TEXT,
		status TEXT NOT NULL,
		output TEXT,
		error TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		duration_ms INTEGER DEFAULT 0
	);

	-- Commits attributed to tasks by the commit scanner
	CREATE TABLE IF NOT EXISTS task_commits (
		task_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		subject TEXT,
		author TEXT,
		committed_at INTEGER,
		PRIMARY KEY (task_id, hash)
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, position);
	CREATE INDEX IF NOT EXISTS idx_tasks_epic ON tasks(epic_id);
	CREATE INDEX IF NOT EXISTS idx_notes_path ON project_notes(path);
	CREATE INDEX IF NOT EXISTS idx_team_agents_team ON team_agents(team_id);
	CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON pipeline_executions(pipeline_id);
	CREATE INDEX IF NOT EXISTS idx_logs_task ON execution_logs(task_id);
	`

	_, err := s.DB.Exec(schema)
	return err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// nullIfEmpty converts an empty string to NULL for nullable columns
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSON encodes v for a JSON column; nil values are stored as NULL
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
