// Package pipeline runs pipelines of agent steps, either as a timed
// simulation or as real agent processes under a global concurrency ceiling.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cloud-shuttle/foreman/internal/backpressure"
	"github.com/cloud-shuttle/foreman/internal/executor"
	"github.com/cloud-shuttle/foreman/internal/notify"
	"github.com/cloud-shuttle/foreman/pkg/telemetry"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Store is the slice of the entity store the engine needs
type Store interface {
	GetPipeline(id string) (*types.Pipeline, error)
	SetPipelineStatus(id string, status types.PipelineStatus) error
	CreateExecution(exec *types.PipelineExecution) error
	UpdateExecution(exec *types.PipelineExecution) error
	ListTeamAgents(teamID string) ([]*types.TeamAgent, error)
}

// AgentRunner spawns one agent process and waits for it
type AgentRunner interface {
	Run(ctx context.Context, req executor.Request) *executor.Result
}

// Options tunes the engine
type Options struct {
	MaxConcurrentAgents int
	ModelTimeouts       map[types.Model]time.Duration
	SimulateDelays      map[types.Model]time.Duration
}

// DefaultOptions returns the stock ceiling, timeouts and simulate delays
func DefaultOptions() Options {
	return Options{
		MaxConcurrentAgents: backpressure.DefaultMaxInFlight,
		ModelTimeouts: map[types.Model]time.Duration{
			types.ModelHaiku:  5 * time.Minute,
			types.ModelSonnet: 10 * time.Minute,
			types.ModelOpus:   15 * time.Minute,
		},
		SimulateDelays: map[types.Model]time.Duration{
			types.ModelHaiku:  1 * time.Second,
			types.ModelSonnet: 2 * time.Second,
			types.ModelOpus:   3 * time.Second,
		},
	}
}

// ExecuteRequest selects a pipeline and how to run it
type ExecuteRequest struct {
	PipelineID  string
	WorkingPath string
	Simulate    bool
	TaskID      string // tags streamed output, optional
	TeamID      string // applies team personas, optional
}

// Engine executes pipelines. Executions run in the background; callers
// observe them through the notifier or Done.
type Engine struct {
	store    Store
	runner   AgentRunner
	notifier notify.Notifier
	limiter  *backpressure.Limiter
	timeouts map[types.Model]time.Duration
	delays   map[types.Model]time.Duration
	verbose  bool

	mu     sync.Mutex
	active map[string]*run
}

// NewEngine creates an engine. A nil notifier discards events.
func NewEngine(store Store, runner AgentRunner, notifier notify.Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = notify.Nop()
	}
	defaults := DefaultOptions()
	if opts.ModelTimeouts == nil {
		opts.ModelTimeouts = defaults.ModelTimeouts
	}
	if opts.SimulateDelays == nil {
		opts.SimulateDelays = defaults.SimulateDelays
	}
	return &Engine{
		store:    store,
		runner:   runner,
		notifier: notifier,
		limiter:  backpressure.NewLimiter(opts.MaxConcurrentAgents),
		timeouts: opts.ModelTimeouts,
		delays:   opts.SimulateDelays,
		active:   make(map[string]*run),
	}
}

// SetVerbose enables or disables verbose logging
func (e *Engine) SetVerbose(v bool) {
	e.verbose = v
}

// Limiter exposes the engine's concurrency ceiling for stats
func (e *Engine) Limiter() *backpressure.Limiter {
	return e.limiter
}

func (e *Engine) timeoutFor(m types.Model) time.Duration {
	if d, ok := e.timeouts[m]; ok && d > 0 {
		return d
	}
	return e.timeouts[types.ModelSonnet]
}

func (e *Engine) delayFor(m types.Model) time.Duration {
	if d, ok := e.delays[m]; ok {
		return d
	}
	return e.delays[types.ModelSonnet]
}

// ExecutePipeline creates an execution for the pipeline and starts it in
// the background. The returned snapshot is in the running state.
func (e *Engine) ExecutePipeline(ctx context.Context, req ExecuteRequest) (*types.PipelineExecution, error) {
	p, err := e.store.GetPipeline(req.PipelineID)
	if err != nil {
		return nil, err
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("pipeline %s has no steps: %w", p.ID, types.ErrNotFound)
	}

	personas, err := e.resolvePersonas(req.TeamID)
	if err != nil {
		return nil, err
	}

	steps := append([]types.PipelineStep(nil), p.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Step < steps[j].Step })

	exec := &types.PipelineExecution{
		PipelineID: p.ID,
		TaskID:     req.TaskID,
		Status:     types.ExecutionRunning,
		TotalSteps: len(steps),
		Results:    []types.AgentResult{},
	}
	if err := e.store.CreateExecution(exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}
	if err := e.store.SetPipelineStatus(p.ID, types.PipelineStatusRunning); err != nil {
		log.Printf("[pipeline] failed to mark pipeline %s running: %v", p.ID, err)
	}

	// The run outlives the caller's request; keep its values, drop its deadline
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		exec:     exec,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		req:      req,
		steps:    steps,
		personas: personas,
	}

	e.mu.Lock()
	e.active[exec.ID] = r
	e.mu.Unlock()

	snapshot := exec.Clone()
	e.notifier.NotifyPipelineExecutionStarted(snapshot)

	mode := "real"
	if req.Simulate {
		mode = "simulate"
	}
	log.Printf("🚀 Execution %s started for pipeline %s (%d steps, %s)", exec.ID, p.ID, len(steps), mode)

	go e.execute(r)

	return snapshot, nil
}

// CancelExecution stops a running execution. It reports false when no
// execution with that id is active.
func (e *Engine) CancelExecution(id string) bool {
	e.mu.Lock()
	r, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return false
	}

	r.cancel()
	e.finish(r, types.ExecutionCancelled, "execution cancelled")
	log.Printf("🛑 Execution %s cancelled", id)
	return true
}

// Done returns a channel closed once the execution reaches a terminal
// state. Ids that are not active get an already-closed channel.
func (e *Engine) Done(id string) <-chan struct{} {
	e.mu.Lock()
	r, ok := e.active[id]
	e.mu.Unlock()
	if ok {
		return r.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Active lists the ids of running executions
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// finish moves an execution to a terminal state exactly once. It reports
// whether this call performed the transition.
func (e *Engine) finish(r *run, status types.ExecutionStatus, errMsg string) bool {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return false
	}
	r.finished = true
	now := time.Now().Unix()
	r.exec.Status = status
	r.exec.Error = errMsg
	r.exec.CompletedAt = &now
	snapshot := r.exec.Clone()
	r.mu.Unlock()

	e.mu.Lock()
	delete(e.active, snapshot.ID)
	e.mu.Unlock()

	if err := e.store.UpdateExecution(snapshot); err != nil {
		log.Printf("[pipeline] failed to persist execution %s: %v", snapshot.ID, err)
	}
	if err := e.store.SetPipelineStatus(snapshot.PipelineID, types.PipelineStatusIdle); err != nil {
		log.Printf("[pipeline] failed to mark pipeline %s idle: %v", snapshot.PipelineID, err)
	}

	if status == types.ExecutionCompleted {
		e.notifier.NotifyPipelineExecutionCompleted(snapshot)
	} else {
		e.notifier.NotifyPipelineExecutionFailed(snapshot)
	}
	telemetry.RecordExecutionFinished(r.ctx, string(status))

	close(r.done)
	return true
}
