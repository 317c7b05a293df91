package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cloud-shuttle/foreman/internal/executor"
	"github.com/cloud-shuttle/foreman/internal/notify"
	"github.com/cloud-shuttle/foreman/pkg/telemetry"
	"github.com/cloud-shuttle/foreman/pkg/types"
	"go.opentelemetry.io/otel/attribute"
)

// run is the state of one active execution
type run struct {
	mu       sync.Mutex
	exec     *types.PipelineExecution
	finished bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	req      ExecuteRequest
	steps    []types.PipelineStep
	personas map[string]*types.Persona

	// agents tracks every agent goroutine, including ones whose outcome
	// is ignored after the execution has already failed
	agents sync.WaitGroup
}

func (r *run) isFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// record appends an agent result unless the execution already finished
func (r *run) record(res types.AgentResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.exec.Results = append(r.exec.Results, res)
}

// advance marks step n complete and returns a snapshot, or nil when the
// execution already finished
func (r *run) advance(n int) *types.PipelineExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.exec.CurrentStep = n
	return r.exec.Clone()
}

var (
	errCeilingReached = errors.New("agent concurrency ceiling reached")
	errAgentTimeout   = errors.New("agent timed out")
)

func errorCategory(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return telemetry.ErrorCategoryCancelled
	case errors.Is(err, errCeilingReached):
		return telemetry.ErrorCategoryBackpressure
	case errors.Is(err, errAgentTimeout):
		return telemetry.ErrorCategoryTimeout
	default:
		return telemetry.ErrorCategoryAgent
	}
}

// agentOutcome is what one agent invocation produced
type agentOutcome struct {
	result types.AgentResult
	err    error
}

func (e *Engine) execute(r *run) {
	ctx, span := telemetry.StartExecutionSpan(r.ctx, r.exec.ID, r.exec.PipelineID,
		attribute.Bool(telemetry.KeySimulate, r.req.Simulate),
		attribute.String(telemetry.KeyTaskID, r.req.TaskID))

	defer func() {
		// ignored siblings keep their processes; release the context once they exit
		r.agents.Wait()
		r.cancel()
	}()

	for i, step := range r.steps {
		if r.isFinished() {
			span.End()
			return
		}

		err := e.runStep(ctx, r, step)
		if err != nil {
			status := types.ExecutionFailed
			if errors.Is(err, context.Canceled) {
				status = types.ExecutionCancelled
			}
			if e.finish(r, status, err.Error()) {
				log.Printf("❌ Execution %s failed at step %d: %v", r.exec.ID, step.Step, err)
			}
			telemetry.SetExecutionStatus(span, string(status))
			telemetry.EndWithStatus(span, err, errorCategory(err))
			return
		}

		snapshot := r.advance(i + 1)
		if snapshot == nil {
			span.End()
			return
		}
		if err := e.store.UpdateExecution(snapshot); err != nil {
			log.Printf("[pipeline] failed to persist progress of %s: %v", snapshot.ID, err)
		}
		e.notifier.NotifyPipelineExecutionProgress(snapshot)
		if r.req.TaskID != "" {
			e.notifier.NotifyImplementationProgress(r.req.TaskID, snapshot)
		}
		if e.verbose {
			log.Printf("✅ Execution %s step %d/%d done", snapshot.ID, snapshot.CurrentStep, snapshot.TotalSteps)
		}
	}

	if e.finish(r, types.ExecutionCompleted, "") {
		log.Printf("✅ Execution %s completed", r.exec.ID)
	}
	telemetry.SetExecutionStatus(span, string(types.ExecutionCompleted))
	telemetry.EndWithStatus(span, nil, "")
}

// runStep runs every agent of a step and returns the first failure
func (e *Engine) runStep(ctx context.Context, r *run, step types.PipelineStep) error {
	ctx, span := telemetry.StartStepSpan(ctx, step.Step, step.Parallel)
	defer span.End()

	if !step.Parallel || len(step.Agents) < 2 {
		for _, agent := range step.Agents {
			if r.isFinished() {
				return nil
			}
			out := e.runAgent(ctx, r, step.Step, agent)
			r.record(out.result)
			if out.err != nil {
				return out.err
			}
		}
		return nil
	}

	outcomes := make(chan agentOutcome, len(step.Agents))
	for _, agent := range step.Agents {
		r.agents.Add(1)
		go func(agent types.Agent) {
			defer r.agents.Done()
			outcomes <- e.runAgent(ctx, r, step.Step, agent)
		}(agent)
	}

	for range step.Agents {
		out := <-outcomes
		r.record(out.result)
		if out.err != nil {
			// remaining outcomes land in the buffered channel and are dropped
			return out.err
		}
	}
	return nil
}

// runAgent runs one agent, simulated or real, and never panics on failure
func (e *Engine) runAgent(ctx context.Context, r *run, stepNum int, agent types.Agent) agentOutcome {
	model := types.ParseModel(string(agent.Model))
	prompt := applyPersona(r.personas[agent.Type], agent.Prompt)

	ctx, span := telemetry.StartAgentSpan(ctx, agent.Type, string(model),
		attribute.Int(telemetry.KeyStepNumber, stepNum))

	start := time.Now()
	res := types.AgentResult{
		Step:      stepNum,
		AgentType: agent.Type,
		Model:     model,
	}

	var err error
	if r.req.Simulate {
		err = e.simulate(ctx, model)
	} else {
		var out *executor.Result
		out, err = e.spawn(ctx, r, agent, model, prompt)
		if out != nil {
			res.Output = out.Stdout
			if err != nil && out.Stderr != "" {
				res.Error = out.Stderr
			}
		}
	}

	d := time.Since(start)
	res.DurationMS = d.Milliseconds()
	if err != nil {
		res.Status = types.ProcessFailed
		if res.Error == "" {
			res.Error = err.Error()
		}
		err = fmt.Errorf("step %d agent %s: %w", stepNum, agent.Type, err)
	} else {
		res.Status = types.ProcessCompleted
	}

	telemetry.RecordAgentRun(ctx, agent.Type, string(model), err == nil, d)
	telemetry.EndWithStatus(span, err, errorCategory(err))

	return agentOutcome{result: res, err: err}
}

// simulate waits for the model's rehearsal delay
func (e *Engine) simulate(ctx context.Context, model types.Model) error {
	timer := time.NewTimer(e.delayFor(model))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs a real agent process within the concurrency ceiling
func (e *Engine) spawn(ctx context.Context, r *run, agent types.Agent, model types.Model, prompt string) (*executor.Result, error) {
	if !e.limiter.TryAcquire() {
		telemetry.RecordAgentRejected(ctx, agent.Type)
		return nil, fmt.Errorf("%w: %w (%d agents)", types.ErrAgentFailure, errCeilingReached, e.limiter.Max())
	}
	defer e.limiter.Release()

	taskID := agent.TaskID
	if taskID == "" {
		taskID = r.req.TaskID
	}

	req := executor.Request{
		Prompt:  prompt,
		Model:   model,
		Dir:     r.req.WorkingPath,
		Timeout: e.timeoutFor(model),
	}
	if taskID != "" {
		req.OnStdout = func(chunk string) {
			e.notifier.NotifyTaskStreamChunk(notify.StreamChunk{
				TaskID:    taskID,
				Phase:     types.PhaseImplementation,
				Chunk:     chunk,
				AgentType: agent.Type,
			})
		}
	}

	out := e.runner.Run(ctx, req)
	switch {
	case out.Cancelled:
		return out, fmt.Errorf("%w: %w", context.Canceled, out.Err)
	case out.TimedOut:
		return out, fmt.Errorf("%w: %w", errAgentTimeout, out.Err)
	}
	return out, out.Err
}
