// Package db_test provides tests for the db package
package db_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

func setupTestDB(t *testing.T) (*db.Store, string) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}

	if err := store.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}

	return store, dbPath
}

func mustCreateTask(t *testing.T, store *db.Store, in db.TaskInput) *types.Task {
	t.Helper()
	task, err := store.CreateTask(in)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return task
}

func TestStore_CreateTask_Defaults(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	task := mustCreateTask(t, store, db.TaskInput{Title: "Write parser", WorkPrompt: "parse it"})

	if task.Status != types.TaskStatusBacklog {
		t.Errorf("Expected status backlog, got %s", task.Status)
	}
	if task.Position != 0 {
		t.Errorf("Expected position 0, got %d", task.Position)
	}

	second := mustCreateTask(t, store, db.TaskInput{Title: "Second"})
	if second.Position != 1 {
		t.Errorf("Expected second task at position 1, got %d", second.Position)
	}

	got, err := store.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.WorkPrompt != "parse it" {
		t.Errorf("Expected work prompt to round trip, got %q", got.WorkPrompt)
	}
	if got.DesignStatus != types.ProcessNone {
		t.Errorf("Expected empty design status, got %q", got.DesignStatus)
	}
}

func TestStore_CreateTask_RequiresTitle(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	_, err := store.CreateTask(db.TaskInput{})
	if !errors.Is(err, types.ErrPreconditionFailed) {
		t.Fatalf("Expected ErrPreconditionFailed, got %v", err)
	}
}

func TestStore_GetTask_NotFound(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	_, err := store.GetTask("task-000000000000")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateTask_ImplementationToReviewRejected(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	task := mustCreateTask(t, store, db.TaskInput{Title: "Gate", Status: types.TaskStatusImplementation})

	review := types.TaskStatusReview
	title := "Gate renamed"
	_, err := store.UpdateTask(task.ID, db.TaskUpdate{Status: &review, Title: &title})
	if !errors.Is(err, types.ErrInvalidTransition) || !errors.Is(err, types.ErrPreconditionFailed) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, _ := store.GetTask(task.ID)
	if got.Status != types.TaskStatusImplementation || got.Title != "Gate" {
		t.Fatalf("rejected update was applied: status %s, title %q", got.Status, got.Title)
	}

	for _, status := range []types.TaskStatus{types.TaskStatusVerification, types.TaskStatusReview} {
		status := status
		updated, err := store.UpdateTask(task.ID, db.TaskUpdate{Status: &status})
		if err != nil {
			t.Fatalf("update to %s failed: %v", status, err)
		}
		if updated.Status != status {
			t.Errorf("status = %s, want %s", updated.Status, status)
		}
	}
}

func TestStore_MoveTask_ImplementationToReviewRejected(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	task := mustCreateTask(t, store, db.TaskInput{Title: "Gate", Status: types.TaskStatusImplementation})

	for _, pos := range []int{0, 3, 99} {
		_, err := store.MoveTask(task.ID, types.TaskStatusReview, pos)
		if !errors.Is(err, types.ErrInvalidTransition) {
			t.Fatalf("position %d: expected ErrInvalidTransition, got %v", pos, err)
		}
		if !errors.Is(err, types.ErrPreconditionFailed) {
			t.Fatalf("position %d: invalid transition should be a precondition failure", pos)
		}
	}

	got, _ := store.GetTask(task.ID)
	if got.Status != types.TaskStatusImplementation {
		t.Fatalf("Rejected move changed status to %s", got.Status)
	}

	if _, err := store.MoveTask(task.ID, types.TaskStatusVerification, 0); err != nil {
		t.Fatalf("implementation -> verification failed: %v", err)
	}
	moved, err := store.MoveTask(task.ID, types.TaskStatusReview, 2)
	if err != nil {
		t.Fatalf("verification -> review failed: %v", err)
	}
	if moved.Status != types.TaskStatusReview || moved.Position != 2 {
		t.Errorf("Expected review at position 2, got %s at %d", moved.Status, moved.Position)
	}
}

func TestStore_MoveTask_CompletedAt(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	task := mustCreateTask(t, store, db.TaskInput{Title: "Ship"})

	done, err := store.MoveTask(task.ID, types.TaskStatusDone, 0)
	if err != nil {
		t.Fatalf("MoveTask to done failed: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatal("Expected completed_at to be set on entering done")
	}

	reopened, err := store.MoveTask(task.ID, types.TaskStatusTodo, 0)
	if err != nil {
		t.Fatalf("MoveTask out of done failed: %v", err)
	}
	if reopened.CompletedAt != nil {
		t.Error("Expected completed_at to be cleared on leaving done")
	}
}

func TestStore_MoveTask_AnyBackwardMoveAllowed(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	task := mustCreateTask(t, store, db.TaskInput{Title: "Reopen", Status: types.TaskStatusReview})
	for _, status := range []types.TaskStatus{types.TaskStatusImplementation, types.TaskStatusBacklog, types.TaskStatusDesign} {
		if _, err := store.MoveTask(task.ID, status, 0); err != nil {
			t.Errorf("move to %s failed: %v", status, err)
		}
	}
}

func TestStore_UpdateTask_Partial(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	task := mustCreateTask(t, store, db.TaskInput{Title: "Original", Description: "keep me"})

	title := "Renamed"
	running := types.ProcessRunning
	result := &types.DesignResult{
		Overview: "plan",
		Steps:    []types.DesignStep{{Number: 1, Title: "one", AgentType: "executor", Model: types.ModelHaiku}},
	}
	updated, err := store.UpdateTask(task.ID, db.TaskUpdate{
		Title:        &title,
		DesignStatus: &running,
		DesignResult: result,
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	if updated.Title != "Renamed" {
		t.Errorf("Expected title Renamed, got %q", updated.Title)
	}
	if updated.Description != "keep me" {
		t.Errorf("Expected description untouched, got %q", updated.Description)
	}
	if updated.DesignStatus != types.ProcessRunning {
		t.Errorf("Expected design status running, got %q", updated.DesignStatus)
	}
	if updated.DesignResult == nil || len(updated.DesignResult.Steps) != 1 {
		t.Fatalf("Expected design result with one step, got %+v", updated.DesignResult)
	}
	if updated.DesignResult.Steps[0].Model != types.ModelHaiku {
		t.Errorf("Expected step model haiku, got %s", updated.DesignResult.Steps[0].Model)
	}

	// clearing a process status back to null
	none := types.ProcessNone
	cleared, err := store.UpdateTask(task.ID, db.TaskUpdate{DesignStatus: &none})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if cleared.DesignStatus != types.ProcessNone {
		t.Errorf("Expected design status cleared, got %q", cleared.DesignStatus)
	}
}

func TestStore_EpicProgress(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	epicA, err := store.CreateEpic("A", "first", "parser work", "")
	if err != nil {
		t.Fatalf("CreateEpic failed: %v", err)
	}
	epicB, err := store.CreateEpic("B", "second", "", "")
	if err != nil {
		t.Fatalf("CreateEpic failed: %v", err)
	}

	t1 := mustCreateTask(t, store, db.TaskInput{Title: "t1", EpicID: epicA.ID})
	mustCreateTask(t, store, db.TaskInput{Title: "t2", EpicID: epicA.ID})

	if _, err := store.MoveTask(t1.ID, types.TaskStatusDone, 0); err != nil {
		t.Fatalf("MoveTask failed: %v", err)
	}

	a, _ := store.GetEpic(epicA.ID)
	if a.Progress != 50 {
		t.Errorf("Expected epic A progress 50, got %v", a.Progress)
	}

	// moving the done task to epic B refreshes both epics
	newEpic := epicB.ID
	if _, err := store.UpdateTask(t1.ID, db.TaskUpdate{EpicID: &newEpic}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	a, _ = store.GetEpic(epicA.ID)
	b, _ := store.GetEpic(epicB.ID)
	if a.Progress != 0 {
		t.Errorf("Expected old epic progress 0 after task left, got %v", a.Progress)
	}
	if b.Progress != 100 {
		t.Errorf("Expected new epic progress 100, got %v", b.Progress)
	}
}

func TestStore_CountTasksByStatus(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	for i := 0; i < 3; i++ {
		mustCreateTask(t, store, db.TaskInput{Title: "r", Status: types.TaskStatusReview})
	}
	mustCreateTask(t, store, db.TaskInput{Title: "b"})

	n, err := store.CountTasksByStatus(types.TaskStatusReview)
	if err != nil {
		t.Fatalf("CountTasksByStatus failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 review tasks, got %d", n)
	}

	board, err := store.GetBoardStatus()
	if err != nil {
		t.Fatalf("GetBoardStatus failed: %v", err)
	}
	if board.Total != 4 || board.ByStatus[types.TaskStatusBacklog] != 1 {
		t.Errorf("Unexpected board status %+v", board)
	}
}

func TestStore_PRDAndNotes(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	prd, err := store.CreatePRD("Checkout", "One-click buying", []string{"conversion up"}, []string{"no new deps"})
	if err != nil {
		t.Fatalf("CreatePRD failed: %v", err)
	}
	got, err := store.GetPRD(prd.ID)
	if err != nil {
		t.Fatalf("GetPRD failed: %v", err)
	}
	if len(got.SuccessCriteria) != 1 || got.Constraints[0] != "no new deps" {
		t.Errorf("PRD lists did not round trip: %+v", got)
	}

	if _, err := store.CreateEpic("E", "", "", "prd-missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown PRD, got %v", err)
	}

	if _, err := store.CreateProjectNote("/repo", "uses pnpm"); err != nil {
		t.Fatalf("CreateProjectNote failed: %v", err)
	}
	if _, err := store.CreateProjectNote("/other", "ignored"); err != nil {
		t.Fatalf("CreateProjectNote failed: %v", err)
	}
	notes, err := store.ListProjectNotes("/repo")
	if err != nil {
		t.Fatalf("ListProjectNotes failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Content != "uses pnpm" {
		t.Errorf("Unexpected notes %+v", notes)
	}
}

func TestStore_TeamAgents(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	if _, err := store.AddTeamAgent("team-1", "reviewer", types.ModelOpus, &types.Persona{SystemPrompt: "be strict"}); err != nil {
		t.Fatalf("AddTeamAgent failed: %v", err)
	}
	if _, err := store.AddTeamAgent("team-1", "executor", "", nil); err != nil {
		t.Fatalf("AddTeamAgent failed: %v", err)
	}

	agents, err := store.ListTeamAgents("team-1")
	if err != nil {
		t.Fatalf("ListTeamAgents failed: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("Expected 2 agents, got %d", len(agents))
	}
	if agents[0].Persona == nil || agents[0].Persona.SystemPrompt != "be strict" {
		t.Errorf("Expected reviewer persona, got %+v", agents[0].Persona)
	}
	if agents[1].Persona != nil {
		t.Errorf("Expected executor without persona, got %+v", agents[1].Persona)
	}
}

func TestStore_PipelinesAndExecutions(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	steps := []types.PipelineStep{
		{Step: 1, Parallel: true, Agents: []types.Agent{{Type: "a", Model: types.ModelHaiku}, {Type: "b", Model: types.ModelSonnet}}},
		{Step: 2, Agents: []types.Agent{{Type: "c", Model: types.ModelOpus, Prompt: "finish"}}},
	}
	p, err := store.CreatePipeline("demo", "", steps)
	if err != nil {
		t.Fatalf("CreatePipeline failed: %v", err)
	}

	got, err := store.GetPipeline(p.ID)
	if err != nil {
		t.Fatalf("GetPipeline failed: %v", err)
	}
	if len(got.Steps) != 2 || len(got.Steps[0].Agents) != 2 || got.Steps[1].Agents[0].Prompt != "finish" {
		t.Fatalf("Steps did not round trip: %+v", got.Steps)
	}

	exec := &types.PipelineExecution{PipelineID: p.ID, Status: types.ExecutionRunning, TotalSteps: 2}
	if err := store.CreateExecution(exec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	if exec.ID == "" {
		t.Fatal("Expected execution ID to be assigned")
	}

	exec.Status = types.ExecutionCompleted
	exec.CurrentStep = 2
	exec.Results = append(exec.Results, types.AgentResult{Step: 1, AgentType: "a", Status: types.ProcessCompleted})
	if err := store.UpdateExecution(exec); err != nil {
		t.Fatalf("UpdateExecution failed: %v", err)
	}

	stored, err := store.GetExecution(exec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if stored.Status != types.ExecutionCompleted || stored.CurrentStep != 2 || len(stored.Results) != 1 {
		t.Errorf("Unexpected stored execution %+v", stored)
	}

	execs, err := store.ListExecutions(p.ID)
	if err != nil || len(execs) != 1 {
		t.Fatalf("ListExecutions = %d, %v", len(execs), err)
	}

	if _, err := store.GetExecution("exec-missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_ExecutionLogsAndCommits(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	task := mustCreateTask(t, store, db.TaskInput{Title: "log me"})

	entry := &types.ExecutionLog{TaskID: task.ID, Phase: types.PhaseDesign, CorrelationID: "corr-1"}
	if err := store.CreateExecutionLog(entry); err != nil {
		t.Fatalf("CreateExecutionLog failed: %v", err)
	}
	if err := store.CompleteExecutionLog(entry.ID, types.ProcessFailed, "partial", "boom", 0); err != nil {
		t.Fatalf("CompleteExecutionLog failed: %v", err)
	}

	logs, err := store.ListExecutionLogs(task.ID)
	if err != nil {
		t.Fatalf("ListExecutionLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != types.ProcessFailed || logs[0].Error != "boom" || logs[0].CompletedAt == nil {
		t.Errorf("Unexpected logs %+v", logs[0])
	}

	commits := []types.TaskCommit{
		{TaskID: task.ID, Hash: "abc", Subject: "feat: x", CommittedAt: 2},
		{TaskID: task.ID, Hash: "def", Subject: "fix: y", CommittedAt: 1},
	}
	added, err := store.RecordTaskCommits(commits)
	if err != nil || added != 2 {
		t.Fatalf("RecordTaskCommits = %d, %v", added, err)
	}
	added, err = store.RecordTaskCommits(commits[:1])
	if err != nil || added != 0 {
		t.Fatalf("Expected duplicate commit to be ignored, got %d, %v", added, err)
	}

	stored, _ := store.ListTaskCommits(task.ID)
	if len(stored) != 2 || stored[0].Hash != "abc" {
		t.Errorf("Unexpected commits %+v", stored)
	}
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	store, _ := setupTestDB(t)
	defer store.Close()

	task := mustCreateTask(t, store, db.TaskInput{Title: "busy"})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			running := types.ProcessRunning
			if _, err := store.UpdateTask(task.ID, db.TaskUpdate{ExecutionStatus: &running}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent UpdateTask failed: %v", err)
	}
}
