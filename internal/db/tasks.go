package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// TaskInput holds the fields accepted when creating a task
type TaskInput struct {
	Title       string
	Description string
	WorkPrompt  string
	EpicID      string
	TeamID      string
	BranchName  string
	Status      types.TaskStatus // defaults to backlog
}

// TaskUpdate is a partial update: nil fields are left untouched
type TaskUpdate struct {
	Title              *string
	Description        *string
	WorkPrompt         *string
	EpicID             *string
	TeamID             *string
	BranchName         *string
	Status             *types.TaskStatus
	DesignStatus       *types.ProcessStatus
	ExecutionStatus    *types.ProcessStatus
	VerificationStatus *types.ProcessStatus
	DesignResult       *types.DesignResult
	VerificationResult *types.VerificationResult
	PipelineID         *string
	CurrentExecutionID *string
}

const taskColumns = `id, title, COALESCE(description, ''), COALESCE(work_prompt, ''),
	status, position, COALESCE(epic_id, ''), COALESCE(team_id, ''), COALESCE(branch_name, ''),
	COALESCE(design_status, ''), COALESCE(execution_status, ''), COALESCE(verification_status, ''),
	design_result, verification_result, COALESCE(pipeline_id, ''), COALESCE(current_execution_id, ''),
	completed_at, created_at, updated_at`

func scanTask(row rowScanner) (*types.Task, error) {
	var task types.Task
	var designJSON, verificationJSON sql.NullString
	var completedAt sql.NullInt64

	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.WorkPrompt,
		&task.Status, &task.Position, &task.EpicID, &task.TeamID, &task.BranchName,
		&task.DesignStatus, &task.ExecutionStatus, &task.VerificationStatus,
		&designJSON, &verificationJSON, &task.PipelineID, &task.CurrentExecutionID,
		&completedAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if designJSON.Valid && designJSON.String != "" {
		var dr types.DesignResult
		if err := json.Unmarshal([]byte(designJSON.String), &dr); err == nil {
			task.DesignResult = &dr
		}
	}
	if verificationJSON.Valid && verificationJSON.String != "" {
		var vr types.VerificationResult
		if err := json.Unmarshal([]byte(verificationJSON.String), &vr); err == nil {
			task.VerificationResult = &vr
		}
	}
	task.CompletedAt = nullInt64Ptr(completedAt)

	return &task, nil
}

// CreateTask creates a new task at the end of its status column
func (s *Store) CreateTask(in TaskInput) (*types.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("creating task: title is required: %w", types.ErrPreconditionFailed)
	}
	status := in.Status
	if status == "" {
		status = types.TaskStatusBacklog
	}
	if !status.Valid() {
		return nil, fmt.Errorf("creating task: unknown status %q: %w", status, types.ErrPreconditionFailed)
	}
	if in.EpicID != "" {
		if _, err := s.GetEpic(in.EpicID); err != nil {
			return nil, fmt.Errorf("creating task: %w", err)
		}
	}

	position, err := s.CountTasksByStatus(status)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	task := &types.Task{
		ID:          generateID(PrefixTask),
		Title:       in.Title,
		Description: in.Description,
		WorkPrompt:  in.WorkPrompt,
		Status:      status,
		Position:    position,
		EpicID:      in.EpicID,
		TeamID:      in.TeamID,
		BranchName:  in.BranchName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == types.TaskStatusDone {
		task.CompletedAt = &now
	}

	_, err = s.DB.Exec(`
		INSERT INTO tasks (id, title, description, work_prompt, status, position,
		                   epic_id, team_id, branch_name, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Title, task.Description, task.WorkPrompt, task.Status, task.Position,
		nullIfEmpty(task.EpicID), nullIfEmpty(task.TeamID), nullIfEmpty(task.BranchName),
		task.CompletedAt, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	if err := s.refreshEpicProgress(task.EpicID); err != nil {
		return nil, err
	}

	return task, nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(taskID string) (*types.Task, error) {
	task, err := scanTask(s.DB.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks ordered by board column and position.
// An empty status lists every task.
func (s *Store) ListTasks(status types.TaskStatus) ([]*types.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY status, position, created_at`

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListTasksByEpic returns the tasks of an epic
func (s *Store) ListTasksByEpic(epicID string) ([]*types.Task, error) {
	rows, err := s.DB.Query(`SELECT `+taskColumns+` FROM tasks WHERE epic_id = ? ORDER BY created_at`, epicID)
	if err != nil {
		return nil, fmt.Errorf("listing epic tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CountTasksByStatus returns how many tasks sit in a status column
func (s *Store) CountTasksByStatus(status types.TaskStatus) (int, error) {
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM tasks WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return n, nil
}

// GetBoardStatus returns task counts per lifecycle stage
func (s *Store) GetBoardStatus() (*types.BoardStatus, error) {
	status := &types.BoardStatus{ByStatus: make(map[types.TaskStatus]int)}

	rows, err := s.DB.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskStatus string
		var count int
		if err := rows.Scan(&taskStatus, &count); err != nil {
			continue
		}
		status.ByStatus[types.TaskStatus(taskStatus)] = count
		status.Total += count
	}

	return status, rows.Err()
}

// UpdateTask applies a partial update and returns the updated task.
// A status change keeps the task's position; kanban moves go through MoveTask.
// Both reject implementation -> review.
func (s *Store) UpdateTask(taskID string, u TaskUpdate) (*types.Task, error) {
	current, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.Title != nil {
		set("title", *u.Title)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.WorkPrompt != nil {
		set("work_prompt", *u.WorkPrompt)
	}
	if u.EpicID != nil {
		if *u.EpicID != "" {
			if _, err := s.GetEpic(*u.EpicID); err != nil {
				return nil, fmt.Errorf("updating task: %w", err)
			}
		}
		set("epic_id", nullIfEmpty(*u.EpicID))
	}
	if u.TeamID != nil {
		set("team_id", nullIfEmpty(*u.TeamID))
	}
	if u.BranchName != nil {
		set("branch_name", nullIfEmpty(*u.BranchName))
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return nil, fmt.Errorf("updating task: unknown status %q: %w", *u.Status, types.ErrPreconditionFailed)
		}
		if err := CheckTransition(current.Status, *u.Status); err != nil {
			return nil, fmt.Errorf("updating task %s: %w", taskID, err)
		}
		set("status", *u.Status)
		sets, args = appendCompletedAt(sets, args, current.Status, *u.Status)
	}
	if u.DesignStatus != nil {
		set("design_status", nullIfEmpty(string(*u.DesignStatus)))
	}
	if u.ExecutionStatus != nil {
		set("execution_status", nullIfEmpty(string(*u.ExecutionStatus)))
	}
	if u.VerificationStatus != nil {
		set("verification_status", nullIfEmpty(string(*u.VerificationStatus)))
	}
	if u.DesignResult != nil {
		data, err := marshalJSON(u.DesignResult)
		if err != nil {
			return nil, fmt.Errorf("encoding design result: %w", err)
		}
		set("design_result", data)
	}
	if u.VerificationResult != nil {
		data, err := marshalJSON(u.VerificationResult)
		if err != nil {
			return nil, fmt.Errorf("encoding verification result: %w", err)
		}
		set("verification_result", data)
	}
	if u.PipelineID != nil {
		set("pipeline_id", nullIfEmpty(*u.PipelineID))
	}
	if u.CurrentExecutionID != nil {
		set("current_execution_id", nullIfEmpty(*u.CurrentExecutionID))
	}

	if len(sets) == 0 {
		return current, nil
	}
	set("updated_at", time.Now().Unix())
	args = append(args, taskID)

	if _, err := s.DB.Exec(`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}

	updated, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshEpicsAfterChange(current, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// MoveTask moves a task to a status column at the given position.
// implementation -> review is rejected; verification must come between.
func (s *Store) MoveTask(taskID string, status types.TaskStatus, position int) (*types.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("moving task: unknown status %q: %w", status, types.ErrPreconditionFailed)
	}

	current, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(current.Status, status); err != nil {
		return nil, fmt.Errorf("moving task %s: %w", taskID, err)
	}

	sets := []string{"status = ?", "position = ?", "updated_at = ?"}
	args := []any{status, position, time.Now().Unix()}
	sets, args = appendCompletedAt(sets, args, current.Status, status)
	args = append(args, taskID)

	if _, err := s.DB.Exec(`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("moving task: %w", err)
	}

	updated, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshEpicsAfterChange(current, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// CheckTransition reports whether a kanban move from one status to another is allowed
func CheckTransition(from, to types.TaskStatus) error {
	if from == types.TaskStatusImplementation && to == types.TaskStatusReview {
		return fmt.Errorf("%s -> %s must pass through %s: %w",
			from, to, types.TaskStatusVerification, types.ErrInvalidTransition)
	}
	return nil
}

// appendCompletedAt stamps completed_at on entering done and clears it on leaving
func appendCompletedAt(sets []string, args []any, from, to types.TaskStatus) ([]string, []any) {
	switch {
	case to == types.TaskStatusDone && from != types.TaskStatusDone:
		sets = append(sets, "completed_at = ?")
		args = append(args, time.Now().Unix())
	case to != types.TaskStatusDone && from == types.TaskStatusDone:
		sets = append(sets, "completed_at = NULL")
	}
	return sets, args
}

// DeleteTask removes a task
func (s *Store) DeleteTask(taskID string) error {
	current, err := s.GetTask(taskID)
	if err != nil {
		return err
	}
	if _, err := s.DB.Exec(`DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return s.refreshEpicProgress(current.EpicID)
}
