package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/pipeline"
	"github.com/cloud-shuttle/foreman/internal/verify"
	"github.com/cloud-shuttle/foreman/pkg/telemetry"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// RunImplementation executes the task's approved pipeline with real agents.
// A background waiter follows the execution, scans commits when it ends and
// starts verification when it completed.
func (d *Driver) RunImplementation(ctx context.Context, taskID, workingPath string) (*types.PipelineExecution, error) {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.PipelineID == "" {
		return nil, fmt.Errorf("task %s has no approved pipeline: %w", taskID, types.ErrPreconditionFailed)
	}
	if d.engine == nil {
		return nil, fmt.Errorf("no pipeline engine configured: %w", types.ErrPreconditionFailed)
	}
	if err := checkWorkingPath(workingPath); err != nil {
		return nil, err
	}
	if err := d.agent.CheckInstalled(); err != nil {
		return nil, err
	}

	exec, err := d.engine.ExecutePipeline(ctx, pipeline.ExecuteRequest{
		PipelineID:  task.PipelineID,
		WorkingPath: workingPath,
		TaskID:      taskID,
		TeamID:      task.TeamID,
	})
	if err != nil {
		return nil, err
	}

	status := types.TaskStatusImplementation
	running := types.ProcessRunning
	if _, err := d.store.UpdateTask(taskID, db.TaskUpdate{
		Status:             &status,
		ExecutionStatus:    &running,
		CurrentExecutionID: &exec.ID,
	}); err != nil {
		d.engine.CancelExecution(exec.ID)
		return nil, fmt.Errorf("marking implementation running: %w", err)
	}

	log.Printf("🏗️  Implementing task %s via execution %s", taskID, exec.ID)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.awaitImplementation(context.WithoutCancel(ctx), taskID, exec.ID, workingPath)
	}()

	return exec, nil
}

// awaitImplementation waits for the execution to reach a terminal status,
// reading it back from the store on each engine signal or poll tick. It
// gives up at the implementation ceiling.
func (d *Driver) awaitImplementation(ctx context.Context, taskID, execID, workingPath string) {
	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanTaskImplementation, taskID)

	done := d.engine.Done(execID)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	ceiling := time.NewTimer(d.opts.ImplementationTimeout)
	defer ceiling.Stop()

	for {
		select {
		case <-done:
			done = nil
		case <-ticker.C:
		case <-ceiling.C:
			err := fmt.Errorf("execution %s still running after %v", execID, d.opts.ImplementationTimeout)
			log.Printf("⏱️  Stopped waiting for task %s: %v", taskID, err)
			telemetry.EndWithStatus(span, err, telemetry.ErrorCategoryTimeout)
			return
		}

		exec, err := d.store.GetExecution(execID)
		if err != nil {
			log.Printf("[workflow] reading execution %s: %v", execID, err)
			continue
		}
		if !exec.Status.Terminal() {
			if d.verbose {
				log.Printf("[workflow] task %s at step %d/%d", taskID, exec.CurrentStep, exec.TotalSteps)
			}
			continue
		}

		d.finishImplementation(ctx, taskID, exec, workingPath)
		var runErr error
		if exec.Status != types.ExecutionCompleted {
			runErr = fmt.Errorf("execution %s %s: %s", execID, exec.Status, exec.Error)
		}
		telemetry.EndWithStatus(span, runErr, telemetry.ErrorCategoryAgent)
		return
	}
}

func (d *Driver) finishImplementation(ctx context.Context, taskID string, exec *types.PipelineExecution, workingPath string) {
	status := types.ProcessFailed
	if exec.Status == types.ExecutionCompleted {
		status = types.ProcessCompleted
	}
	if _, err := d.store.UpdateTask(taskID, db.TaskUpdate{ExecutionStatus: &status}); err != nil {
		log.Printf("[workflow] failed to update execution status of %s: %v", taskID, err)
	}
	d.notifier.NotifyImplementationProgress(taskID, exec)

	d.scanCommits(ctx, taskID, workingPath)

	if exec.Status != types.ExecutionCompleted {
		log.Printf("❌ Implementation of task %s %s: %s", taskID, exec.Status, exec.Error)
		return
	}
	log.Printf("✅ Implementation of task %s completed", taskID)

	if d.verifier == nil {
		return
	}
	if _, err := d.verifier.RunVerification(ctx, taskID, workingPath, verify.Options{}); err != nil {
		log.Printf("⚠️  Verification after implementing %s: %v", taskID, err)
	}
}
