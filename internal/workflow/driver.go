// Package workflow drives a task through design, implementation and
// verification by delegating to the agent runtime, the pipeline engine and
// the verification runner.
package workflow

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/executor"
	"github.com/cloud-shuttle/foreman/internal/notify"
	"github.com/cloud-shuttle/foreman/internal/pipeline"
	"github.com/cloud-shuttle/foreman/internal/prompt"
	"github.com/cloud-shuttle/foreman/internal/verify"
	"github.com/cloud-shuttle/foreman/pkg/telemetry"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Agent is the single-agent runtime used for execute and design runs
type Agent interface {
	CheckInstalled() error
	Run(ctx context.Context, req executor.Request) *executor.Result
}

// Verifier runs verification after a successful implementation
type Verifier interface {
	RunVerification(ctx context.Context, taskID, path string, opts verify.Options) (*types.VerificationResult, error)
}

// CommitScanner finds the commits made for a task
type CommitScanner interface {
	Scan(ctx context.Context, repoPath string, task *types.Task) ([]types.TaskCommit, error)
}

// Deps are the collaborators the driver delegates to
type Deps struct {
	Assembler *prompt.Assembler
	Agent     Agent
	Engine    *pipeline.Engine
	Verifier  Verifier      // optional; nil disables auto verification
	Commits   CommitScanner // optional; nil disables commit scanning
	Notifier  notify.Notifier
}

// Options tunes the driver
type Options struct {
	DesignModel           types.Model
	ExecuteModel          types.Model
	TaskTimeout           time.Duration // single-agent execute/design runs
	PollInterval          time.Duration // implementation waiter poll
	ImplementationTimeout time.Duration // implementation waiter ceiling
}

// DefaultOptions returns the stock driver settings
func DefaultOptions() Options {
	return Options{
		DesignModel:           types.ModelOpus,
		ExecuteModel:          types.ModelSonnet,
		TaskTimeout:           60 * time.Minute,
		PollInterval:          5 * time.Second,
		ImplementationTimeout: 30 * time.Minute,
	}
}

// Handle identifies a background single-agent run
type Handle struct {
	TaskID        string
	CorrelationID string
	LogID         string
}

// Driver orchestrates a task's lifecycle
type Driver struct {
	store     *db.Store
	assembler *prompt.Assembler
	agent     Agent
	engine    *pipeline.Engine
	verifier  Verifier
	commits   CommitScanner
	notifier  notify.Notifier
	processes *executor.Registry
	opts      Options
	verbose   bool

	wg sync.WaitGroup
}

// NewDriver creates a driver over store
func NewDriver(store *db.Store, deps Deps, opts Options) *Driver {
	defaults := DefaultOptions()
	if opts.DesignModel == "" {
		opts.DesignModel = defaults.DesignModel
	}
	if opts.ExecuteModel == "" {
		opts.ExecuteModel = defaults.ExecuteModel
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaults.TaskTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.ImplementationTimeout <= 0 {
		opts.ImplementationTimeout = defaults.ImplementationTimeout
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop()
	}
	if deps.Assembler == nil {
		deps.Assembler = prompt.NewAssembler(store)
	}

	return &Driver{
		store:     store,
		assembler: deps.Assembler,
		agent:     deps.Agent,
		engine:    deps.Engine,
		verifier:  deps.Verifier,
		commits:   deps.Commits,
		notifier:  deps.Notifier,
		processes: executor.NewRegistry(),
		opts:      opts,
	}
}

// SetVerbose enables or disables verbose logging
func (d *Driver) SetVerbose(v bool) {
	d.verbose = v
}

// Wait blocks until every background run and waiter has finished
func (d *Driver) Wait() {
	d.wg.Wait()
}

// Running lists the task ids with a tracked single-agent process
func (d *Driver) Running() []string {
	return d.processes.Keys()
}

func checkWorkingPath(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("working path %s does not exist: %w", path, types.ErrPreconditionFailed)
	}
	return nil
}

// startAgent registers a cancellable background context for a task
func (d *Driver) startAgent(ctx context.Context, taskID string) (context.Context, context.CancelFunc, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if !d.processes.Register(taskID, cancel) {
		cancel()
		return nil, nil, fmt.Errorf("task %s already has a running agent: %w", taskID, types.ErrPreconditionFailed)
	}
	return runCtx, cancel, nil
}

func (d *Driver) streamTo(taskID string, phase types.LogPhase) func(string) {
	return func(chunk string) {
		d.notifier.NotifyTaskStreamChunk(notify.StreamChunk{
			TaskID: taskID,
			Phase:  phase,
			Chunk:  chunk,
		})
	}
}

// ExecuteTask runs one agent on the task's implementation prompt in the
// background. Precondition failures are returned before anything starts.
func (d *Driver) ExecuteTask(ctx context.Context, taskID, workingPath, extra string) (*Handle, error) {
	promptText, err := d.assembler.Build(taskID, workingPath, extra)
	if err != nil {
		return nil, err
	}
	if err := checkWorkingPath(workingPath); err != nil {
		return nil, err
	}
	if err := d.agent.CheckInstalled(); err != nil {
		return nil, err
	}

	runCtx, cancel, err := d.startAgent(ctx, taskID)
	if err != nil {
		return nil, err
	}

	running := types.ProcessRunning
	if _, err := d.store.UpdateTask(taskID, db.TaskUpdate{ExecutionStatus: &running}); err != nil {
		d.processes.Unregister(taskID)
		cancel()
		return nil, fmt.Errorf("marking execution running: %w", err)
	}

	h := &Handle{TaskID: taskID, CorrelationID: uuid.NewString()}
	entry := &types.ExecutionLog{
		TaskID:        taskID,
		Phase:         types.PhaseExecute,
		CorrelationID: h.CorrelationID,
		Status:        types.ProcessRunning,
	}
	if err := d.store.CreateExecutionLog(entry); err != nil {
		log.Printf("[workflow] failed to create execution log for %s: %v", taskID, err)
	} else {
		h.LogID = entry.ID
	}

	log.Printf("🤖 Executing task %s (correlation %s)", taskID, h.CorrelationID)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		spanCtx, span := telemetry.StartTaskSpan(runCtx, telemetry.SpanTaskExecute, taskID)
		res := d.agent.Run(spanCtx, executor.Request{
			Prompt:   promptText,
			Model:    d.opts.ExecuteModel,
			Dir:      workingPath,
			UseStdin: true,
			Timeout:  d.opts.TaskTimeout,
			OnStdout: d.streamTo(taskID, types.PhaseExecute),
		})
		d.processes.Unregister(taskID)

		status := types.ProcessCompleted
		errMsg := ""
		if !res.Success() {
			status = types.ProcessFailed
			errMsg = agentError(res)
		}
		if _, err := d.store.UpdateTask(taskID, db.TaskUpdate{ExecutionStatus: &status}); err != nil {
			log.Printf("[workflow] failed to update execution status of %s: %v", taskID, err)
		}
		if h.LogID != "" {
			if err := d.store.CompleteExecutionLog(h.LogID, status, res.Stdout, errMsg, res.Duration); err != nil {
				log.Printf("[workflow] failed to complete execution log for %s: %v", taskID, err)
			}
		}

		if status == types.ProcessCompleted {
			log.Printf("✅ Task %s executed in %v", taskID, res.Duration.Round(time.Second))
		} else {
			log.Printf("❌ Task %s execution failed: %s", taskID, errMsg)
		}
		telemetry.EndWithStatus(span, res.Err, telemetry.ErrorCategoryAgent)

		d.scanCommits(runCtx, taskID, workingPath)
	}()

	return h, nil
}

// CancelTaskExecution stops whatever is running for a task. It reports
// whether a process or pipeline execution was cancelled.
func (d *Driver) CancelTaskExecution(taskID string) (bool, error) {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return false, err
	}

	cancelled := d.processes.Cancel(taskID)
	if task.CurrentExecutionID != "" && d.engine != nil {
		if d.engine.CancelExecution(task.CurrentExecutionID) {
			cancelled = true
		}
	}

	failed := types.ProcessFailed
	var u db.TaskUpdate
	if task.ExecutionStatus == types.ProcessRunning {
		u.ExecutionStatus = &failed
	}
	if task.DesignStatus == types.ProcessRunning {
		u.DesignStatus = &failed
	}
	if _, err := d.store.UpdateTask(taskID, u); err != nil {
		return cancelled, fmt.Errorf("clearing running status: %w", err)
	}

	if cancelled {
		log.Printf("🛑 Cancelled running work for task %s", taskID)
	}
	return cancelled, nil
}

// scanCommits records the task's commits. Failures are logged and dropped.
func (d *Driver) scanCommits(ctx context.Context, taskID, workingPath string) {
	if d.commits == nil {
		return
	}
	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanGitCommitScan, taskID)

	task, err := d.store.GetTask(taskID)
	if err != nil {
		telemetry.EndWithStatus(span, err, telemetry.ErrorCategoryDatabase)
		return
	}
	commits, err := d.commits.Scan(ctx, workingPath, task)
	if err != nil {
		log.Printf("[workflow] commit scan for %s skipped: %v", taskID, err)
		telemetry.EndWithStatus(span, err, telemetry.ErrorCategoryGit)
		return
	}
	added, err := d.store.RecordTaskCommits(commits)
	if err != nil {
		log.Printf("[workflow] failed to record commits for %s: %v", taskID, err)
		telemetry.EndWithStatus(span, err, telemetry.ErrorCategoryDatabase)
		return
	}
	if d.verbose || added > 0 {
		log.Printf("📝 Recorded %d new commits for task %s", added, taskID)
	}
	telemetry.EndWithStatus(span, nil, "")
}

// agentError describes a failed agent run for logs and persisted state
func agentError(res *executor.Result) string {
	msg := ""
	if res.Err != nil {
		msg = res.Err.Error()
	}
	if res.Stderr != "" {
		msg += ": " + res.Stderr
	}
	return msg
}
