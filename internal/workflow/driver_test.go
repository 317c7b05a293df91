package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/events"
	"github.com/cloud-shuttle/foreman/internal/executor"
	"github.com/cloud-shuttle/foreman/internal/notify"
	"github.com/cloud-shuttle/foreman/internal/pipeline"
	"github.com/cloud-shuttle/foreman/internal/verify"
	"github.com/cloud-shuttle/foreman/internal/workflow"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

const designOutput = `## Overview
Ship the login page.

### Step 1: Form component
**Agent**: frontend
**Model**: haiku
**Parallel**: yes
**Prompt**: Build the login form

### Step 2: Styles
**Agent**: frontend
**Model**: haiku
**Parallel**: yes
**Prompt**: Style the login form

### Step 3: Billing webhook
**Agent**: backend
**Model**: opus
**Prompt**: Add the billing webhook
**Scope**: out-of-scope
**Scope Reason**: belongs to billing

## Risks
- Styling drift
`

// fakeAgent stands in for the agent CLI in both single-agent runs and
// pipeline executions
type fakeAgent struct {
	mu      sync.Mutex
	calls   []executor.Request
	missing bool
	fail    bool
	block   bool
	output  map[types.Model]string
}

func (f *fakeAgent) CheckInstalled() error {
	if f.missing {
		return fmt.Errorf("claude not found: %w", types.ErrExternalToolMissing)
	}
	return nil
}

func (f *fakeAgent) Run(ctx context.Context, req executor.Request) *executor.Result {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fail, block := f.fail, f.block
	out, ok := f.output[req.Model]
	f.mu.Unlock()

	if req.OnStdout != nil {
		req.OnStdout("thinking")
	}
	if block {
		<-ctx.Done()
		return &executor.Result{ExitCode: -1, Cancelled: true, Err: fmt.Errorf("%w: cancelled", types.ErrAgentFailure)}
	}
	if fail {
		return &executor.Result{ExitCode: 1, Stderr: "boom", Err: fmt.Errorf("%w: exit code 1", types.ErrAgentFailure)}
	}
	if !ok {
		out = "done"
	}
	return &executor.Result{Stdout: out, Duration: time.Millisecond}
}

func (f *fakeAgent) Calls() []executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Request(nil), f.calls...)
}

type fakeVerifier struct {
	mu    sync.Mutex
	tasks []string
}

func (f *fakeVerifier) RunVerification(_ context.Context, taskID, _ string, _ verify.Options) (*types.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, taskID)
	return &types.VerificationResult{TaskID: taskID, Status: types.VerificationPassed, OverallPass: true}, nil
}

func (f *fakeVerifier) Tasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tasks...)
}

type fakeScanner struct{}

func (fakeScanner) Scan(_ context.Context, _ string, task *types.Task) ([]types.TaskCommit, error) {
	return []types.TaskCommit{{
		TaskID:      task.ID,
		Hash:        "abc123",
		Subject:     "feat(" + task.ID + "): add login",
		Author:      "Test User",
		CommittedAt: time.Now().Unix(),
	}}, nil
}

type harness struct {
	store    *db.Store
	agent    *fakeAgent
	verifier *fakeVerifier
	events   *notify.Recorder
	driver   *workflow.Driver
	workDir  string
}

func setup(t *testing.T) *harness {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := store.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:    store,
		agent:    &fakeAgent{output: map[types.Model]string{types.ModelOpus: designOutput}},
		verifier: &fakeVerifier{},
		events:   notify.NewRecorder(),
		workDir:  t.TempDir(),
	}

	engine := pipeline.NewEngine(store, h.agent, h.events, pipeline.DefaultOptions())
	h.driver = workflow.NewDriver(store, workflow.Deps{
		Agent:    h.agent,
		Engine:   engine,
		Verifier: h.verifier,
		Commits:  fakeScanner{},
		Notifier: h.events,
	}, workflow.Options{
		PollInterval:          10 * time.Millisecond,
		ImplementationTimeout: 5 * time.Second,
		TaskTimeout:           5 * time.Second,
	})
	t.Cleanup(h.driver.Wait)
	return h
}

func (h *harness) task(t *testing.T, withEpic bool) *types.Task {
	t.Helper()
	in := db.TaskInput{Title: "Login page", WorkPrompt: "Build a login page"}
	if withEpic {
		epic, err := h.store.CreateEpic("Auth", "Authentication", "login and sessions only", "")
		if err != nil {
			t.Fatalf("CreateEpic: %v", err)
		}
		in.EpicID = epic.ID
	}
	task, err := h.store.CreateTask(in)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func (h *harness) reload(t *testing.T, id string) *types.Task {
	t.Helper()
	task, err := h.store.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return task
}

func (h *harness) logs(t *testing.T, taskID string) []*types.ExecutionLog {
	t.Helper()
	logs, err := h.store.ListExecutionLogs(taskID)
	if err != nil {
		t.Fatalf("ListExecutionLogs: %v", err)
	}
	return logs
}

func (h *harness) commits(t *testing.T, taskID string) []types.TaskCommit {
	t.Helper()
	commits, err := h.store.ListTaskCommits(taskID)
	if err != nil {
		t.Fatalf("ListTaskCommits: %v", err)
	}
	return commits
}

func (h *harness) designed(t *testing.T) *types.Task {
	t.Helper()
	task := h.task(t, true)
	if _, err := h.driver.RunDesign(context.Background(), task.ID, h.workDir, ""); err != nil {
		t.Fatalf("RunDesign: %v", err)
	}
	h.driver.Wait()
	return h.reload(t, task.ID)
}

func (h *harness) approved(t *testing.T) *types.Task {
	t.Helper()
	task := h.designed(t)
	if _, err := h.driver.ApproveDesign(task.ID); err != nil {
		t.Fatalf("ApproveDesign: %v", err)
	}
	return task
}

func TestRunDesign_RequiresWorkPrompt(t *testing.T) {
	h := setup(t)
	task, err := h.store.CreateTask(db.TaskInput{Title: "No prompt"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	_, err = h.driver.RunDesign(context.Background(), task.ID, h.workDir, "")
	if !errors.Is(err, types.ErrPreconditionFailed) {
		t.Errorf("expected ErrPreconditionFailed, got %v", err)
	}
	if n := len(h.agent.Calls()); n != 0 {
		t.Errorf("agent ran %d times without a work prompt", n)
	}
}

func TestRunDesign_Preconditions(t *testing.T) {
	h := setup(t)
	task := h.task(t, false)

	tests := []struct {
		name    string
		taskID  string
		dir     string
		missing bool
		want    error
	}{
		{"unknown task", "task-missing", h.workDir, false, types.ErrNotFound},
		{"missing directory", task.ID, filepath.Join(h.workDir, "nope"), false, types.ErrPreconditionFailed},
		{"agent not installed", task.ID, h.workDir, true, types.ErrExternalToolMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.agent.missing = tt.missing
			_, err := h.driver.RunDesign(context.Background(), tt.taskID, tt.dir, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("RunDesign() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRunDesign_ParsesAndProposesSplit(t *testing.T) {
	h := setup(t)
	task := h.designed(t)

	if task.Status != types.TaskStatusDesign || task.DesignStatus != types.ProcessCompleted {
		t.Errorf("task = %s, design %s", task.Status, task.DesignStatus)
	}
	result := task.DesignResult
	if result == nil || len(result.Steps) != 3 {
		t.Fatalf("design result = %+v, want 3 steps", result)
	}
	if result.Overview != "Ship the login page." {
		t.Errorf("Overview = %q", result.Overview)
	}

	scope := result.ScopeAnalysis
	if scope == nil {
		t.Fatal("expected a scope split proposal")
	}
	if len(scope.OutOfScopeSteps) != 1 || scope.OutOfScopeSteps[0] != 3 {
		t.Errorf("OutOfScopeSteps = %v, want [3]", scope.OutOfScopeSteps)
	}
	if scope.SuggestedEpicTitle != "Billing webhook" {
		t.Errorf("SuggestedEpicTitle = %q", scope.SuggestedEpicTitle)
	}

	calls := h.agent.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d agent calls, want 1", len(calls))
	}
	if calls[0].Model != types.ModelOpus || !calls[0].UseStdin {
		t.Errorf("design call = model %s stdin %v", calls[0].Model, calls[0].UseStdin)
	}
	if !strings.Contains(calls[0].Prompt, "Do not modify any files") {
		t.Error("design prompt is missing the read-only instruction")
	}

	for _, typ := range []events.EventType{events.EventDesignStarted, events.EventDesignCompleted, events.EventScopeSplitProposed} {
		if n := h.events.Count(typ); n != 1 {
			t.Errorf("%s events = %d, want 1", typ, n)
		}
	}

	logs := h.logs(t, task.ID)
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	if logs[0].Phase != types.PhaseDesign || logs[0].Status != types.ProcessCompleted || logs[0].CorrelationID == "" {
		t.Errorf("log = %+v", logs[0])
	}
}

func TestRunDesign_NoEpicSkipsScopeAnalysis(t *testing.T) {
	h := setup(t)
	task := h.task(t, false)

	if _, err := h.driver.RunDesign(context.Background(), task.ID, h.workDir, ""); err != nil {
		t.Fatalf("RunDesign: %v", err)
	}
	h.driver.Wait()

	task = h.reload(t, task.ID)
	if task.DesignResult == nil {
		t.Fatal("design result not stored")
	}
	if task.DesignResult.ScopeAnalysis != nil {
		t.Error("scope analysis ran for a task without an epic")
	}
	if n := h.events.Count(events.EventScopeSplitProposed); n != 0 {
		t.Errorf("split proposed %d times", n)
	}
}

func TestRunDesign_AgentFailure(t *testing.T) {
	h := setup(t)
	h.agent.fail = true
	task := h.task(t, false)

	if _, err := h.driver.RunDesign(context.Background(), task.ID, h.workDir, ""); err != nil {
		t.Fatalf("RunDesign: %v", err)
	}
	h.driver.Wait()

	task = h.reload(t, task.ID)
	if task.DesignStatus != types.ProcessFailed || task.Status != types.TaskStatusBacklog {
		t.Errorf("task = %s, design %s; want backlog, failed", task.Status, task.DesignStatus)
	}
	if task.DesignResult != nil {
		t.Error("failed design stored a result")
	}
	if n := h.events.Count(events.EventDesignFailed); n != 1 {
		t.Errorf("design failed events = %d, want 1", n)
	}

	logs := h.logs(t, task.ID)
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	if logs[0].Status != types.ProcessFailed || !strings.Contains(logs[0].Error, "boom") {
		t.Errorf("log = %s %q", logs[0].Status, logs[0].Error)
	}
}

func TestDesignStepsToPipelineSteps(t *testing.T) {
	steps := []types.DesignStep{
		{Number: 1, Title: "a", AgentType: "frontend", Model: types.ModelHaiku, Parallel: true, Prompt: "do a"},
		{Number: 2, Title: "b", AgentType: "frontend", Model: types.ModelHaiku, Parallel: true, Prompt: "do b"},
		{Number: 3, Title: "c", AgentType: "backend", Model: types.ModelOpus, Description: "explain c"},
		{Number: 4, Title: "d", AgentType: "executor", Model: types.ModelSonnet},
		{Number: 5, Title: "e", AgentType: "executor", Model: types.ModelSonnet, Parallel: true, Prompt: "do e"},
	}

	got := workflow.DesignStepsToPipelineSteps(steps, "task-1")
	if len(got) != 4 {
		t.Fatalf("got %d pipeline steps, want 4", len(got))
	}
	for i, s := range got {
		if s.Step != i+1 {
			t.Errorf("step %d numbered %d", i, s.Step)
		}
	}

	if !got[0].Parallel || len(got[0].Agents) != 2 {
		t.Fatalf("first step = parallel %v with %d agents, want a parallel pair", got[0].Parallel, len(got[0].Agents))
	}
	if got[0].Agents[0].Prompt != "do a" || got[0].Agents[1].Prompt != "do b" {
		t.Errorf("grouped prompts = %q, %q", got[0].Agents[0].Prompt, got[0].Agents[1].Prompt)
	}
	if got[0].Agents[1].TaskID != "task-1" {
		t.Errorf("TaskID = %q", got[0].Agents[1].TaskID)
	}

	if got[1].Parallel {
		t.Error("sequential step marked parallel")
	}
	if got[1].Agents[0].Prompt != "c\n\nexplain c" || got[1].Agents[0].Model != types.ModelOpus {
		t.Errorf("fallback prompt = %q model %s", got[1].Agents[0].Prompt, got[1].Agents[0].Model)
	}
	if got[2].Agents[0].Prompt != "d" {
		t.Errorf("title-only prompt = %q", got[2].Agents[0].Prompt)
	}
	if !got[3].Parallel || len(got[3].Agents) != 1 {
		t.Errorf("trailing parallel step = %+v", got[3])
	}

	if empty := workflow.DesignStepsToPipelineSteps(nil, "task-1"); len(empty) != 0 {
		t.Errorf("nil steps produced %d pipeline steps", len(empty))
	}
}

func TestApproveDesign(t *testing.T) {
	h := setup(t)

	bare := h.task(t, false)
	if _, err := h.driver.ApproveDesign(bare.ID); !errors.Is(err, types.ErrPreconditionFailed) {
		t.Errorf("approving an undesigned task: expected ErrPreconditionFailed, got %v", err)
	}

	task := h.designed(t)
	p, err := h.driver.ApproveDesign(task.ID)
	if err != nil {
		t.Fatalf("ApproveDesign: %v", err)
	}
	if p.TaskID != task.ID {
		t.Errorf("pipeline TaskID = %q", p.TaskID)
	}
	if len(p.Steps) != 2 || len(p.Steps[0].Agents) != 2 {
		t.Fatalf("pipeline steps = %+v, want a parallel pair then one step", p.Steps)
	}

	if got := h.reload(t, task.ID).PipelineID; got != p.ID {
		t.Errorf("task PipelineID = %q, want %q", got, p.ID)
	}
}

func TestAcceptScopeSplit(t *testing.T) {
	h := setup(t)

	bare := h.task(t, false)
	if _, _, err := h.driver.AcceptScopeSplit(bare.ID); !errors.Is(err, types.ErrPreconditionFailed) {
		t.Errorf("splitting without a proposal: expected ErrPreconditionFailed, got %v", err)
	}

	task := h.approved(t)

	epic, split, err := h.driver.AcceptScopeSplit(task.ID)
	if err != nil {
		t.Fatalf("AcceptScopeSplit: %v", err)
	}
	if epic.Title != "Billing webhook" {
		t.Errorf("epic title = %q", epic.Title)
	}
	if split.EpicID != epic.ID || split.Status != types.TaskStatusBacklog {
		t.Errorf("split task = epic %q status %s", split.EpicID, split.Status)
	}
	if !strings.Contains(split.WorkPrompt, "Add the billing webhook") {
		t.Errorf("split WorkPrompt = %q", split.WorkPrompt)
	}

	task = h.reload(t, task.ID)
	steps := task.DesignResult.Steps
	if len(steps) != 2 || steps[0].Number != 1 || steps[1].Number != 2 {
		t.Fatalf("remaining steps = %+v, want renumbered 1 and 2", steps)
	}
	if task.DesignResult.ScopeAnalysis != nil {
		t.Error("scope analysis kept after the split")
	}
	if task.PipelineID != "" {
		t.Errorf("approval must be redone after a split, PipelineID = %q", task.PipelineID)
	}

	if _, _, err := h.driver.AcceptScopeSplit(task.ID); !errors.Is(err, types.ErrPreconditionFailed) {
		t.Errorf("second split: expected ErrPreconditionFailed, got %v", err)
	}
}

func TestRunImplementation_RequiresPipeline(t *testing.T) {
	h := setup(t)
	task := h.task(t, false)

	_, err := h.driver.RunImplementation(context.Background(), task.ID, h.workDir)
	if !errors.Is(err, types.ErrPreconditionFailed) {
		t.Errorf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestRunImplementation_VerifiesOnSuccess(t *testing.T) {
	h := setup(t)
	task := h.approved(t)

	exec, err := h.driver.RunImplementation(context.Background(), task.ID, h.workDir)
	if err != nil {
		t.Fatalf("RunImplementation: %v", err)
	}
	if exec.Status != types.ExecutionRunning {
		t.Errorf("handle status = %s, want running", exec.Status)
	}

	task = h.reload(t, task.ID)
	if task.Status != types.TaskStatusImplementation || task.CurrentExecutionID != exec.ID {
		t.Errorf("task = %s on execution %q", task.Status, task.CurrentExecutionID)
	}

	h.driver.Wait()

	task = h.reload(t, task.ID)
	if task.ExecutionStatus != types.ProcessCompleted {
		t.Errorf("ExecutionStatus = %s", task.ExecutionStatus)
	}
	if got := h.verifier.Tasks(); len(got) != 1 || got[0] != task.ID {
		t.Errorf("verified tasks = %v", got)
	}
	if n := countFinalProgress(h.events); n != 1 {
		t.Errorf("final implementation events = %d, want 1", n)
	}

	commits := h.commits(t, task.ID)
	if len(commits) != 1 || commits[0].Hash != "abc123" {
		t.Errorf("commits = %+v", commits)
	}

	// one design run plus three pipeline agents
	if n := len(h.agent.Calls()); n != 4 {
		t.Errorf("agent calls = %d, want 4", n)
	}
}

// countFinalProgress counts implementation events carrying a finished
// execution; the engine's per-step events are still running
func countFinalProgress(rec *notify.Recorder) int {
	n := 0
	for _, ev := range rec.OfType(events.EventImplementationProgress) {
		if exec := notify.Execution(ev); exec != nil && exec.Status.Terminal() {
			n++
		}
	}
	return n
}

func TestRunImplementation_FailureSkipsVerification(t *testing.T) {
	h := setup(t)
	task := h.approved(t)

	h.agent.mu.Lock()
	h.agent.fail = true
	h.agent.mu.Unlock()

	if _, err := h.driver.RunImplementation(context.Background(), task.ID, h.workDir); err != nil {
		t.Fatalf("RunImplementation: %v", err)
	}
	h.driver.Wait()

	if got := h.reload(t, task.ID).ExecutionStatus; got != types.ProcessFailed {
		t.Errorf("ExecutionStatus = %s, want failed", got)
	}
	if got := h.verifier.Tasks(); len(got) != 0 {
		t.Errorf("verification ran after a failed implementation: %v", got)
	}
	if n := len(h.commits(t, task.ID)); n != 1 {
		t.Errorf("commits are scanned even when the run fails, got %d", n)
	}
}

func TestExecuteTask(t *testing.T) {
	h := setup(t)
	task := h.task(t, false)

	handle, err := h.driver.ExecuteTask(context.Background(), task.ID, h.workDir, "Keep it short")
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if handle.CorrelationID == "" {
		t.Error("handle has no correlation id")
	}
	h.driver.Wait()

	calls := h.agent.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d agent calls, want 1", len(calls))
	}
	if calls[0].Model != types.ModelSonnet || !calls[0].UseStdin || calls[0].Dir != h.workDir {
		t.Errorf("call = model %s stdin %v dir %q", calls[0].Model, calls[0].UseStdin, calls[0].Dir)
	}
	if !strings.Contains(calls[0].Prompt, "Keep it short") {
		t.Error("extra instructions missing from the prompt")
	}

	if got := h.reload(t, task.ID).ExecutionStatus; got != types.ProcessCompleted {
		t.Errorf("ExecutionStatus = %s", got)
	}

	chunks := h.events.OfType(events.EventTaskStreamChunk)
	if len(chunks) == 0 {
		t.Fatal("no stream chunks published")
	}
	if chunks[0].TaskID != task.ID || chunks[0].Data["phase"] != string(types.PhaseExecute) {
		t.Errorf("chunk = %+v", chunks[0])
	}

	logs := h.logs(t, task.ID)
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	if logs[0].CorrelationID != handle.CorrelationID || logs[0].Output != "done" {
		t.Errorf("log = %+v", logs[0])
	}

	if n := len(h.commits(t, task.ID)); n != 1 {
		t.Errorf("commits = %d, want 1", n)
	}
}

func TestCancelTaskExecution(t *testing.T) {
	h := setup(t)
	h.agent.block = true
	task := h.task(t, false)

	if _, err := h.driver.ExecuteTask(context.Background(), task.ID, h.workDir, ""); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if got := h.driver.Running(); len(got) != 1 || got[0] != task.ID {
		t.Errorf("Running() = %v", got)
	}

	// one agent per task
	if _, err := h.driver.ExecuteTask(context.Background(), task.ID, h.workDir, ""); !errors.Is(err, types.ErrPreconditionFailed) {
		t.Errorf("second run: expected ErrPreconditionFailed, got %v", err)
	}

	cancelled, err := h.driver.CancelTaskExecution(task.ID)
	if err != nil {
		t.Fatalf("CancelTaskExecution: %v", err)
	}
	if !cancelled {
		t.Fatal("running agent was not cancelled")
	}
	h.driver.Wait()

	if got := h.reload(t, task.ID).ExecutionStatus; got != types.ProcessFailed {
		t.Errorf("ExecutionStatus = %s, want failed", got)
	}
	if got := h.driver.Running(); len(got) != 0 {
		t.Errorf("Running() = %v after cancel", got)
	}

	cancelled, err = h.driver.CancelTaskExecution(task.ID)
	if err != nil {
		t.Fatalf("CancelTaskExecution: %v", err)
	}
	if cancelled {
		t.Error("cancelled an agent that already finished")
	}

	logs := h.logs(t, task.ID)
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	if !strings.Contains(logs[0].Error, "cancelled") {
		t.Errorf("log error = %q", logs[0].Error)
	}
}
