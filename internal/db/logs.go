package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// CreateExecutionLog inserts a log entry; ID and start time are assigned when empty
func (s *Store) CreateExecutionLog(entry *types.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = generateID(PrefixLog)
	}
	if entry.StartedAt == 0 {
		entry.StartedAt = time.Now().Unix()
	}
	if entry.Status == "" {
		entry.Status = types.ProcessRunning
	}

	_, err := s.DB.Exec(`
		INSERT INTO execution_logs (id, task_id, phase, correlation_id, status, output, error,
		                            started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.TaskID, entry.Phase, nullIfEmpty(entry.CorrelationID), entry.Status,
		nullIfEmpty(entry.Output), nullIfEmpty(entry.Error), entry.StartedAt, entry.CompletedAt, entry.DurationMS)
	if err != nil {
		return fmt.Errorf("creating execution log: %w", err)
	}
	return nil
}

// CompleteExecutionLog records the terminal state of a log entry
func (s *Store) CompleteExecutionLog(id string, status types.ProcessStatus, output, errMsg string, duration time.Duration) error {
	now := time.Now().Unix()
	res, err := s.DB.Exec(`
		UPDATE execution_logs
		SET status = ?, output = ?, error = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`, status, nullIfEmpty(output), nullIfEmpty(errMsg), now, duration.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("updating execution log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution log %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// ListExecutionLogs returns a task's log entries, oldest first
func (s *Store) ListExecutionLogs(taskID string) ([]*types.ExecutionLog, error) {
	rows, err := s.DB.Query(`
		SELECT id, task_id, phase, COALESCE(correlation_id, ''), status,
		       COALESCE(output, ''), COALESCE(error, ''), started_at, completed_at, duration_ms
		FROM execution_logs WHERE task_id = ? ORDER BY started_at, rowid
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*types.ExecutionLog
	for rows.Next() {
		var l types.ExecutionLog
		var completedAt sql.NullInt64
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Phase, &l.CorrelationID, &l.Status,
			&l.Output, &l.Error, &l.StartedAt, &completedAt, &l.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning execution log: %w", err)
		}
		l.CompletedAt = nullInt64Ptr(completedAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// RecordTaskCommits stores commits attributed to a task, ignoring ones already recorded.
// It returns how many were new.
func (s *Store) RecordTaskCommits(commits []types.TaskCommit) (int, error) {
	if len(commits) == 0 {
		return 0, nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, c := range commits {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO task_commits (task_id, hash, subject, author, committed_at)
			VALUES (?, ?, ?, ?, ?)
		`, c.TaskID, c.Hash, c.Subject, c.Author, c.CommittedAt)
		if err != nil {
			return 0, fmt.Errorf("recording commit %s: %w", c.Hash, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return added, nil
}

// ListTaskCommits returns the commits recorded for a task, newest first
func (s *Store) ListTaskCommits(taskID string) ([]types.TaskCommit, error) {
	rows, err := s.DB.Query(`
		SELECT task_id, hash, COALESCE(subject, ''), COALESCE(author, ''), COALESCE(committed_at, 0)
		FROM task_commits WHERE task_id = ? ORDER BY committed_at DESC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing task commits: %w", err)
	}
	defer rows.Close()

	var commits []types.TaskCommit
	for rows.Next() {
		var c types.TaskCommit
		if err := rows.Scan(&c.TaskID, &c.Hash, &c.Subject, &c.Author, &c.CommittedAt); err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}
