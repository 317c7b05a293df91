package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// CreatePipeline persists a pipeline with its steps
func (s *Store) CreatePipeline(name, taskID string, steps []types.PipelineStep) (*types.Pipeline, error) {
	if steps == nil {
		steps = []types.PipelineStep{}
	}
	p := &types.Pipeline{
		ID:        generateID(PrefixPipeline),
		Name:      name,
		TaskID:    taskID,
		Steps:     steps,
		Status:    types.PipelineStatusIdle,
		CreatedAt: time.Now().Unix(),
	}

	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("encoding steps: %w", err)
	}

	_, err = s.DB.Exec(`
		INSERT INTO pipelines (id, name, task_id, steps, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, nullIfEmpty(p.TaskID), string(stepsJSON), p.Status, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return p, nil
}

func scanPipeline(row rowScanner) (*types.Pipeline, error) {
	var p types.Pipeline
	var stepsJSON string
	if err := row.Scan(&p.ID, &p.Name, &p.TaskID, &stepsJSON, &p.Status, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("decoding steps of pipeline %s: %w", p.ID, err)
	}
	return &p, nil
}

const pipelineColumns = `id, name, COALESCE(task_id, ''), steps, COALESCE(status, 'idle'), created_at`

// GetPipeline retrieves a pipeline by ID
func (s *Store) GetPipeline(id string) (*types.Pipeline, error) {
	p, err := scanPipeline(s.DB.QueryRow(`SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting pipeline: %w", err)
	}
	return p, nil
}

// ListPipelines returns all pipelines, newest first
func (s *Store) ListPipelines() ([]*types.Pipeline, error) {
	rows, err := s.DB.Query(`SELECT ` + pipelineColumns + ` FROM pipelines ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []*types.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// SetPipelineStatus records the bookkeeping status of a pipeline
func (s *Store) SetPipelineStatus(id string, status types.PipelineStatus) error {
	res, err := s.DB.Exec(`UPDATE pipelines SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating pipeline status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// CreateExecution inserts a new execution row; the ID is assigned when empty
func (s *Store) CreateExecution(exec *types.PipelineExecution) error {
	if exec.ID == "" {
		exec.ID = generateID(PrefixExecution)
	}
	if exec.StartedAt == 0 {
		exec.StartedAt = time.Now().Unix()
	}
	if exec.Results == nil {
		exec.Results = []types.AgentResult{}
	}

	resultsJSON, err := json.Marshal(exec.Results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	_, err = s.DB.Exec(`
		INSERT INTO pipeline_executions (id, pipeline_id, task_id, status, current_step,
		                                 total_steps, results, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.PipelineID, nullIfEmpty(exec.TaskID), exec.Status, exec.CurrentStep,
		exec.TotalSteps, string(resultsJSON), nullIfEmpty(exec.Error), exec.StartedAt, exec.CompletedAt)
	if err != nil {
		return fmt.Errorf("creating execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites the mutable fields of an execution row
func (s *Store) UpdateExecution(exec *types.PipelineExecution) error {
	resultsJSON, err := json.Marshal(exec.Results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	res, err := s.DB.Exec(`
		UPDATE pipeline_executions
		SET status = ?, current_step = ?, results = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, exec.Status, exec.CurrentStep, string(resultsJSON), nullIfEmpty(exec.Error), exec.CompletedAt, exec.ID)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, types.ErrNotFound)
	}
	return nil
}

const executionColumns = `id, pipeline_id, COALESCE(task_id, ''), status, current_step, total_steps,
	COALESCE(results, '[]'), COALESCE(error, ''), started_at, completed_at`

func scanExecution(row rowScanner) (*types.PipelineExecution, error) {
	var e types.PipelineExecution
	var resultsJSON string
	var completedAt sql.NullInt64
	err := row.Scan(&e.ID, &e.PipelineID, &e.TaskID, &e.Status, &e.CurrentStep, &e.TotalSteps,
		&resultsJSON, &e.Error, &e.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultsJSON), &e.Results); err != nil {
		return nil, fmt.Errorf("decoding results of execution %s: %w", e.ID, err)
	}
	e.CompletedAt = nullInt64Ptr(completedAt)
	return &e, nil
}

// GetExecution retrieves an execution by ID
func (s *Store) GetExecution(id string) (*types.PipelineExecution, error) {
	e, err := scanExecution(s.DB.QueryRow(`SELECT `+executionColumns+` FROM pipeline_executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns the executions of a pipeline, newest first.
// An empty pipeline ID lists every execution.
func (s *Store) ListExecutions(pipelineID string) ([]*types.PipelineExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM pipeline_executions`
	var args []any
	if pipelineID != "" {
		query += ` WHERE pipeline_id = ?`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var execs []*types.PipelineExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}
