package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// CreatePRD creates a product requirement document
func (s *Store) CreatePRD(title, vision string, successCriteria, constraints []string) (*types.PRD, error) {
	prd := &types.PRD{
		ID:              generateID(PrefixPRD),
		Title:           title,
		Vision:          vision,
		SuccessCriteria: successCriteria,
		Constraints:     constraints,
		CreatedAt:       time.Now().Unix(),
	}

	criteriaJSON, err := json.Marshal(successCriteria)
	if err != nil {
		return nil, fmt.Errorf("encoding success criteria: %w", err)
	}
	constraintsJSON, err := json.Marshal(constraints)
	if err != nil {
		return nil, fmt.Errorf("encoding constraints: %w", err)
	}

	_, err = s.DB.Exec(`
		INSERT INTO prds (id, title, vision, success_criteria, constraints, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, prd.ID, prd.Title, prd.Vision, string(criteriaJSON), string(constraintsJSON), prd.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating prd: %w", err)
	}
	return prd, nil
}

// GetPRD retrieves a PRD by ID
func (s *Store) GetPRD(id string) (*types.PRD, error) {
	var prd types.PRD
	var criteria, constraints sql.NullString
	err := s.DB.QueryRow(`
		SELECT id, title, COALESCE(vision, ''), success_criteria, constraints, created_at
		FROM prds WHERE id = ?
	`, id).Scan(&prd.ID, &prd.Title, &prd.Vision, &criteria, &constraints, &prd.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prd %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting prd: %w", err)
	}
	if criteria.Valid {
		_ = json.Unmarshal([]byte(criteria.String), &prd.SuccessCriteria)
	}
	if constraints.Valid {
		_ = json.Unmarshal([]byte(constraints.String), &prd.Constraints)
	}
	return &prd, nil
}

// CreateEpic creates a new epic, optionally under a PRD
func (s *Store) CreateEpic(title, description, scope, prdID string) (*types.Epic, error) {
	if prdID != "" {
		if _, err := s.GetPRD(prdID); err != nil {
			return nil, fmt.Errorf("creating epic: %w", err)
		}
	}

	epic := &types.Epic{
		ID:          generateID(PrefixEpic),
		PRDID:       prdID,
		Title:       title,
		Description: description,
		Scope:       scope,
		CreatedAt:   time.Now().Unix(),
	}

	_, err := s.DB.Exec(`
		INSERT INTO epics (id, prd_id, title, description, scope, progress, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, epic.ID, nullIfEmpty(epic.PRDID), epic.Title, epic.Description, epic.Scope, epic.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating epic: %w", err)
	}

	return epic, nil
}

const epicColumns = `id, COALESCE(prd_id, ''), title, COALESCE(description, ''),
	COALESCE(scope, ''), COALESCE(progress, 0), created_at`

func scanEpic(row rowScanner) (*types.Epic, error) {
	var epic types.Epic
	err := row.Scan(&epic.ID, &epic.PRDID, &epic.Title, &epic.Description,
		&epic.Scope, &epic.Progress, &epic.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &epic, nil
}

// GetEpic retrieves an epic by ID
func (s *Store) GetEpic(id string) (*types.Epic, error) {
	epic, err := scanEpic(s.DB.QueryRow(`SELECT `+epicColumns+` FROM epics WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("epic %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting epic: %w", err)
	}
	return epic, nil
}

// ListEpics returns all epics
func (s *Store) ListEpics() ([]*types.Epic, error) {
	rows, err := s.DB.Query(`SELECT ` + epicColumns + ` FROM epics ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing epics: %w", err)
	}
	defer rows.Close()

	var epics []*types.Epic
	for rows.Next() {
		epic, err := scanEpic(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning epic: %w", err)
		}
		epics = append(epics, epic)
	}
	return epics, rows.Err()
}

// refreshEpicsAfterChange recomputes progress for the epic a task left and
// the epic it now belongs to.
func (s *Store) refreshEpicsAfterChange(before, after *types.Task) error {
	if before.EpicID != "" && before.EpicID != after.EpicID {
		if err := s.refreshEpicProgress(before.EpicID); err != nil {
			return err
		}
	}
	return s.refreshEpicProgress(after.EpicID)
}

// refreshEpicProgress sets an epic's progress to the percentage of its tasks in done
func (s *Store) refreshEpicProgress(epicID string) error {
	if epicID == "" {
		return nil
	}

	var total, done int
	err := s.DB.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE epic_id = ?
	`, epicID).Scan(&total, &done)
	if err != nil {
		return fmt.Errorf("computing epic progress: %w", err)
	}

	progress := 0.0
	if total > 0 {
		progress = float64(done) * 100 / float64(total)
	}

	if _, err := s.DB.Exec(`UPDATE epics SET progress = ? WHERE id = ?`, progress, epicID); err != nil {
		return fmt.Errorf("updating epic progress: %w", err)
	}
	return nil
}

// CreateProjectNote stores a note for a working copy path
func (s *Store) CreateProjectNote(path, content string) (*types.ProjectNote, error) {
	note := &types.ProjectNote{
		ID:        generateID(PrefixNote),
		Path:      path,
		Content:   content,
		CreatedAt: time.Now().Unix(),
	}
	_, err := s.DB.Exec(`
		INSERT INTO project_notes (id, path, content, created_at) VALUES (?, ?, ?, ?)
	`, note.ID, note.Path, note.Content, note.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating project note: %w", err)
	}
	return note, nil
}

// ListProjectNotes returns the notes stored for a path, oldest first
func (s *Store) ListProjectNotes(path string) ([]*types.ProjectNote, error) {
	rows, err := s.DB.Query(`
		SELECT id, path, content, created_at FROM project_notes
		WHERE path = ? ORDER BY created_at, rowid
	`, path)
	if err != nil {
		return nil, fmt.Errorf("listing project notes: %w", err)
	}
	defer rows.Close()

	var notes []*types.ProjectNote
	for rows.Next() {
		var n types.ProjectNote
		if err := rows.Scan(&n.ID, &n.Path, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning project note: %w", err)
		}
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}
