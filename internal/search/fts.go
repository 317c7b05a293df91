// Package search provides full-text search over the board using SQLite FTS5
package search

import (
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/cloud-shuttle/foreman/internal/db"
)

// Kind is the type of indexed record
type Kind string

const (
	KindTask Kind = "task"
	KindEpic Kind = "epic"
	KindLog  Kind = "log"
)

// Result is one search hit
type Result struct {
	Kind    Kind    `json:"kind"`
	ID      string  `json:"id"`
	TaskID  string  `json:"task_id,omitempty"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Rank    float64 `json:"rank"` // bm25, lower is better
}

// Query is a search request. An empty Kind searches everything.
type Query struct {
	Text  string
	Kind  Kind
	Limit int
}

// Searcher indexes tasks, epics and finished agent logs in the board database
type Searcher struct {
	db      *sql.DB
	verbose bool
}

// New creates a searcher on the store's database
func New(store *db.Store) *Searcher {
	return &Searcher{db: store.DB}
}

// SetVerbose enables or disables verbose logging
func (s *Searcher) SetVerbose(v bool) {
	s.verbose = v
}

// InitSchema creates the FTS5 table and the triggers that keep it in sync.
// It must run after the board schema exists.
func (s *Searcher) InitSchema() error {
	if _, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS board_fts USING fts5(
			kind UNINDEXED,
			ref_id UNINDEXED,
			task_id UNINDEXED,
			title,
			body
		);
	`); err != nil {
		return fmt.Errorf("create board_fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS board_fts_task_ai AFTER INSERT ON tasks BEGIN
			INSERT INTO board_fts(kind, ref_id, task_id, title, body)
			VALUES ('task', NEW.id, NEW.id, NEW.title,
			        coalesce(NEW.description, '') || ' ' || coalesce(NEW.work_prompt, ''));
		END;`,
		`CREATE TRIGGER IF NOT EXISTS board_fts_task_au AFTER UPDATE OF title, description, work_prompt ON tasks BEGIN
			DELETE FROM board_fts WHERE kind = 'task' AND ref_id = OLD.id;
			INSERT INTO board_fts(kind, ref_id, task_id, title, body)
			VALUES ('task', NEW.id, NEW.id, NEW.title,
			        coalesce(NEW.description, '') || ' ' || coalesce(NEW.work_prompt, ''));
		END;`,
		`CREATE TRIGGER IF NOT EXISTS board_fts_task_ad AFTER DELETE ON tasks BEGIN
			DELETE FROM board_fts WHERE task_id = OLD.id;
		END;`,
		`CREATE TRIGGER IF NOT EXISTS board_fts_epic_ai AFTER INSERT ON epics BEGIN
			INSERT INTO board_fts(kind, ref_id, task_id, title, body)
			VALUES ('epic', NEW.id, '', NEW.title,
			        coalesce(NEW.description, '') || ' ' || coalesce(NEW.scope, ''));
		END;`,
		`CREATE TRIGGER IF NOT EXISTS board_fts_log_au AFTER UPDATE OF output ON execution_logs
		WHEN NEW.output IS NOT NULL BEGIN
			DELETE FROM board_fts WHERE kind = 'log' AND ref_id = NEW.id;
			INSERT INTO board_fts(kind, ref_id, task_id, title, body)
			VALUES ('log', NEW.id, NEW.task_id, NEW.phase, NEW.output);
		END;`,
	}
	for _, trigger := range triggers {
		if _, err := s.db.Exec(trigger); err != nil {
			return fmt.Errorf("create search trigger: %w", err)
		}
	}

	if s.verbose {
		log.Printf("[search] FTS5 schema initialized")
	}
	return nil
}

// Rebuild re-indexes every task, epic and log with output. It picks up rows
// written before the triggers existed.
func (s *Searcher) Rebuild() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin reindex: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM board_fts`,
		`INSERT INTO board_fts(kind, ref_id, task_id, title, body)
		 SELECT 'task', id, id, title, coalesce(description, '') || ' ' || coalesce(work_prompt, '') FROM tasks`,
		`INSERT INTO board_fts(kind, ref_id, task_id, title, body)
		 SELECT 'epic', id, '', title, coalesce(description, '') || ' ' || coalesce(scope, '') FROM epics`,
		`INSERT INTO board_fts(kind, ref_id, task_id, title, body)
		 SELECT 'log', id, task_id, phase, output FROM execution_logs WHERE output IS NOT NULL`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return 0, fmt.Errorf("reindex: %w", err)
		}
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM board_fts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reindex: %w", err)
	}

	if s.verbose {
		log.Printf("[search] indexed %d records", count)
	}
	return count, nil
}

// Search runs a full-text query, best matches first
func (s *Searcher) Search(q Query) ([]*Result, error) {
	match, err := BuildQuery(q.Text)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT kind, ref_id, task_id, title,
		       snippet(board_fts, 4, '[', ']', '...', 12),
		       bm25(board_fts) AS rank
		FROM board_fts
		WHERE board_fts MATCH ?`
	args := []any{match}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(q.Kind))
	}
	query += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Text, err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var r Result
		var kind string
		if err := rows.Scan(&kind, &r.ID, &r.TaskID, &r.Title, &r.Snippet, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Kind = Kind(kind)
		results = append(results, &r)
	}
	return results, rows.Err()
}

var (
	phrasePattern = regexp.MustCompile(`"([^"]+)"`)
	unsafeChars   = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true,
}

// BuildQuery turns user input into an FTS5 expression. Quoted text matches
// as a phrase, a leading '-' excludes a term, and words longer than two
// characters match as prefixes.
func BuildQuery(input string) (string, error) {
	var include, exclude []string

	for _, m := range phrasePattern.FindAllStringSubmatch(input, -1) {
		words := strings.Fields(unsafeChars.ReplaceAllString(strings.ToLower(m[1]), " "))
		if len(words) > 0 {
			include = append(include, `"`+strings.Join(words, " ")+`"`)
		}
	}
	rest := phrasePattern.ReplaceAllString(input, " ")

	for _, word := range strings.Fields(strings.ToLower(rest)) {
		negate := strings.HasPrefix(word, "-")
		word = unsafeChars.ReplaceAllString(strings.TrimPrefix(word, "-"), "")
		if word == "" || stopWords[word] {
			continue
		}
		term := word
		if len(word) > 2 {
			term += "*"
		}
		if negate {
			exclude = append(exclude, term)
		} else {
			include = append(include, term)
		}
	}

	if len(include) == 0 {
		return "", fmt.Errorf("no valid search terms in %q", input)
	}

	query := strings.Join(include, " AND ")
	for _, term := range exclude {
		query += " NOT " + term
	}
	return query, nil
}
