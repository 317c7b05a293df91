package prompt

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

type fakeStore struct {
	tasks map[string]*types.Task
	epics map[string]*types.Epic
	prds  map[string]*types.PRD
	notes map[string][]*types.ProjectNote
}

func (f *fakeStore) GetTask(id string) (*types.Task, error) {
	if t, ok := f.tasks[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
}

func (f *fakeStore) GetEpic(id string) (*types.Epic, error) {
	if e, ok := f.epics[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("epic %s: %w", id, types.ErrNotFound)
}

func (f *fakeStore) GetPRD(id string) (*types.PRD, error) {
	if p, ok := f.prds[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("prd %s: %w", id, types.ErrNotFound)
}

func (f *fakeStore) ListProjectNotes(path string) ([]*types.ProjectNote, error) {
	return f.notes[path], nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks: map[string]*types.Task{
			"task-1": {
				ID:          "task-1",
				Title:       "Add login form",
				Description: "Users need to sign in",
				WorkPrompt:  "Build the form with email and password",
				EpicID:      "epic-1",
				BranchName:  "fix/login",
			},
			"task-orphan": {ID: "task-orphan", Title: "Orphan", EpicID: "epic-gone"},
		},
		epics: map[string]*types.Epic{
			"epic-1": {ID: "epic-1", PRDID: "prd-1", Title: "Authentication", Description: "Everything auth", Scope: "login, logout and sessions"},
		},
		prds: map[string]*types.PRD{
			"prd-1": {
				ID:              "prd-1",
				Title:           "Accounts",
				Vision:          "Frictionless accounts",
				SuccessCriteria: []string{"sign in under 3s"},
				Constraints:     []string{"no third-party auth"},
			},
		},
		notes: map[string][]*types.ProjectNote{
			"/work/app": {{Path: "/work/app", Content: "uses pnpm"}},
		},
	}
}

func TestBuild_RendersHierarchy(t *testing.T) {
	a := NewAssembler(newFakeStore())
	a.SetGuidelines("Keep functions small")

	got, err := a.Build("task-1", "/work/app", "Run the linter first")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, want := range []string{
		"Keep functions small",
		"# Task: Add login form",
		"Users need to sign in",
		"Build the form with email and password",
		"## Epic: Authentication",
		"Vision: Frictionless accounts",
		"- sign in under 3s",
		"- no third-party auth",
		"- uses pnpm",
		"`fix(task-1): <summary>`",
		"Run the linter first",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if strings.Contains(got, "## Output Format") {
		t.Error("implementation prompt should not carry the design output contract")
	}
	if !strings.HasSuffix(strings.TrimSpace(got), "commit convention.") {
		t.Error("prompt should end with the final instruction")
	}
}

func TestBuild_TaskNotFound(t *testing.T) {
	a := NewAssembler(newFakeStore())
	_, err := a.Build("task-missing", "", "")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBuild_MissingEpicSkipped(t *testing.T) {
	a := NewAssembler(newFakeStore())
	got, err := a.Build("task-orphan", "", "")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if strings.Contains(got, "## Epic") {
		t.Error("missing epic should be skipped")
	}
}

func TestBuildDesign_ScopeAndContract(t *testing.T) {
	a := NewAssembler(newFakeStore())

	got, err := a.BuildDesign("task-1", "", "")
	if err != nil {
		t.Fatalf("BuildDesign failed: %v", err)
	}
	for _, want := range []string{
		"## Scope Boundary",
		"login, logout and sessions",
		"## Overview",
		"### Step 1:",
		"**Scope Reason**",
		"## Risks",
		"## Success Criteria",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("design prompt missing %q", want)
		}
	}

	orphan, err := a.BuildDesign("task-orphan", "", "")
	if err != nil {
		t.Fatalf("BuildDesign failed: %v", err)
	}
	if strings.Contains(orphan, "## Scope Boundary") {
		t.Error("scope boundary should only appear for tasks with an epic")
	}
}

func TestCommitType(t *testing.T) {
	tests := []struct {
		branch string
		want   string
	}{
		{"feature/login", "feat"},
		{"feat/login", "feat"},
		{"fix/crash", "fix"},
		{"bugfix/crash", "fix"},
		{"hotfix/crash", "fix"},
		{"chore/deps", "chore"},
		{"docs/readme", "docs"},
		{"refactor/db", "refactor"},
		{"test/flaky", "test"},
		{"Fix/Upper", "fix"},
		{"main", "feat"},
		{"", "feat"},
	}

	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			if got := CommitType(tt.branch); got != tt.want {
				t.Errorf("CommitType(%q) = %q, want %q", tt.branch, got, tt.want)
			}
		})
	}
}
