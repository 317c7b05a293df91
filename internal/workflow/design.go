package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/design"
	"github.com/cloud-shuttle/foreman/internal/executor"
	"github.com/cloud-shuttle/foreman/pkg/telemetry"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// RunDesign asks the design model for a plan in the background. The task
// must have a work prompt.
func (d *Driver) RunDesign(ctx context.Context, taskID, workingPath, extra string) (*Handle, error) {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(task.WorkPrompt) == "" {
		return nil, fmt.Errorf("task %s has no work prompt: %w", taskID, types.ErrPreconditionFailed)
	}
	promptText, err := d.assembler.BuildDesign(taskID, workingPath, extra)
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
	if _, err := d.store.UpdateTask(taskID, db.TaskUpdate{DesignStatus: &running}); err != nil {
		d.processes.Unregister(taskID)
		cancel()
		return nil, fmt.Errorf("marking design running: %w", err)
	}

	h := &Handle{TaskID: taskID, CorrelationID: uuid.NewString()}
	entry := &types.ExecutionLog{
		TaskID:        taskID,
		Phase:         types.PhaseDesign,
		CorrelationID: h.CorrelationID,
		Status:        types.ProcessRunning,
	}
	if err := d.store.CreateExecutionLog(entry); err != nil {
		log.Printf("[workflow] failed to create design log for %s: %v", taskID, err)
	} else {
		h.LogID = entry.ID
	}

	d.notifier.NotifyDesignStarted(taskID)
	log.Printf("📐 Designing task %s with %s", taskID, d.opts.DesignModel)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		spanCtx, span := telemetry.StartTaskSpan(runCtx, telemetry.SpanTaskDesign, taskID)
		res := d.agent.Run(spanCtx, executor.Request{
			Prompt:   promptText,
			Model:    d.opts.DesignModel,
			Dir:      workingPath,
			UseStdin: true,
			Timeout:  d.opts.TaskTimeout,
			OnStdout: d.streamTo(taskID, types.PhaseDesign),
		})
		d.processes.Unregister(taskID)

		err := d.completeDesign(task, res)
		status := types.ProcessCompleted
		errMsg := ""
		if err != nil {
			status = types.ProcessFailed
			errMsg = err.Error()
			failed := types.ProcessFailed
			if _, uerr := d.store.UpdateTask(taskID, db.TaskUpdate{DesignStatus: &failed}); uerr != nil {
				log.Printf("[workflow] failed to mark design failed for %s: %v", taskID, uerr)
			}
			d.notifier.NotifyDesignFailed(taskID, err)
			log.Printf("❌ Design for task %s failed: %v", taskID, err)
		}
		if h.LogID != "" {
			if cerr := d.store.CompleteExecutionLog(h.LogID, status, res.Stdout, errMsg, res.Duration); cerr != nil {
				log.Printf("[workflow] failed to complete design log for %s: %v", taskID, cerr)
			}
		}
		telemetry.EndWithStatus(span, err, telemetry.ErrorCategoryAgent)
	}()

	return h, nil
}

// completeDesign parses and persists a finished design run
func (d *Driver) completeDesign(task *types.Task, res *executor.Result) error {
	if !res.Success() {
		return fmt.Errorf("design agent failed: %s: %w", agentError(res), types.ErrAgentFailure)
	}

	d.notifier.NotifyDesignProgress(task.ID, "parsing design output")
	result := design.Parse(res.Stdout)
	if len(result.Steps) == 0 {
		log.Printf("⚠️  Design for task %s produced no steps", task.ID)
	}
	if task.EpicID != "" {
		if analysis := design.AnalyzeScope(result, task.Title); analysis != nil {
			result.ScopeAnalysis = analysis
			d.notifier.NotifyScopeSplitProposed(task.ID, analysis)
			log.Printf("✂️  Scope split proposed for task %s: steps %v (%s confidence)",
				task.ID, analysis.OutOfScopeSteps, analysis.Confidence)
		}
	}

	status := types.TaskStatusDesign
	completed := types.ProcessCompleted
	if _, err := d.store.UpdateTask(task.ID, db.TaskUpdate{
		DesignResult: result,
		Status:       &status,
		DesignStatus: &completed,
	}); err != nil {
		return fmt.Errorf("saving design: %w", err)
	}

	d.notifier.NotifyDesignCompleted(task.ID, result)
	log.Printf("✅ Design for task %s ready: %d steps", task.ID, len(result.Steps))
	return nil
}

// ApproveDesign turns the task's design into a pipeline and links it
func (d *Driver) ApproveDesign(taskID string) (*types.Pipeline, error) {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.DesignResult == nil || len(task.DesignResult.Steps) == 0 {
		return nil, fmt.Errorf("task %s has no design steps: %w", taskID, types.ErrPreconditionFailed)
	}

	steps := DesignStepsToPipelineSteps(task.DesignResult.Steps, taskID)
	p, err := d.store.CreatePipeline("design: "+task.Title, taskID, steps)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	if _, err := d.store.UpdateTask(taskID, db.TaskUpdate{PipelineID: &p.ID}); err != nil {
		return nil, fmt.Errorf("linking pipeline: %w", err)
	}

	log.Printf("👍 Approved design for task %s as pipeline %s (%d steps)", taskID, p.ID, len(p.Steps))
	return p, nil
}

// DesignStepsToPipelineSteps groups consecutive parallel design steps into
// one pipeline step. Sequential steps each get their own. Steps are
// renumbered from 1.
func DesignStepsToPipelineSteps(steps []types.DesignStep, taskID string) []types.PipelineStep {
	var out []types.PipelineStep
	for _, s := range steps {
		agent := types.Agent{
			Type:   s.AgentType,
			Model:  s.Model,
			Prompt: stepPrompt(s),
			TaskID: taskID,
		}
		if s.Parallel && len(out) > 0 && out[len(out)-1].Parallel {
			last := &out[len(out)-1]
			last.Agents = append(last.Agents, agent)
			continue
		}
		out = append(out, types.PipelineStep{
			Step:     len(out) + 1,
			Parallel: s.Parallel,
			Agents:   []types.Agent{agent},
		})
	}
	return out
}

func stepPrompt(s types.DesignStep) string {
	if strings.TrimSpace(s.Prompt) != "" {
		return s.Prompt
	}
	if s.Description != "" {
		return s.Title + "\n\n" + s.Description
	}
	return s.Title
}

// AcceptScopeSplit moves the flagged steps of a proposed scope split into
// a new epic with one backlog task, and drops them from this task's design.
func (d *Driver) AcceptScopeSplit(taskID string) (*types.Epic, *types.Task, error) {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.DesignResult == nil || task.DesignResult.ScopeAnalysis == nil {
		return nil, nil, fmt.Errorf("task %s has no scope split proposal: %w", taskID, types.ErrPreconditionFailed)
	}
	analysis := task.DesignResult.ScopeAnalysis

	flagged := make(map[int]bool, len(analysis.OutOfScopeSteps))
	for _, n := range analysis.OutOfScopeSteps {
		flagged[n] = true
	}
	var moved, kept []types.DesignStep
	for _, s := range task.DesignResult.Steps {
		if flagged[s.Number] {
			moved = append(moved, s)
		} else {
			kept = append(kept, s)
		}
	}
	if len(moved) == 0 {
		return nil, nil, fmt.Errorf("scope split for task %s names no existing steps: %w", taskID, types.ErrPreconditionFailed)
	}

	prdID := ""
	if task.EpicID != "" {
		epic, err := d.store.GetEpic(task.EpicID)
		switch {
		case err == nil:
			prdID = epic.PRDID
		case !errors.Is(err, types.ErrNotFound):
			return nil, nil, err
		}
	}

	epic, err := d.store.CreateEpic(analysis.SuggestedEpicTitle, analysis.SuggestedEpicDescription,
		analysis.SuggestedEpicDescription, prdID)
	if err != nil {
		return nil, nil, fmt.Errorf("creating split epic: %w", err)
	}

	split, err := d.store.CreateTask(db.TaskInput{
		Title:       analysis.SuggestedEpicTitle,
		Description: analysis.SuggestedEpicDescription,
		WorkPrompt:  splitWorkPrompt(moved),
		EpicID:      epic.ID,
		TeamID:      task.TeamID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating split task: %w", err)
	}

	for i := range kept {
		kept[i].Number = i + 1
	}
	remaining := *task.DesignResult
	if kept == nil {
		kept = []types.DesignStep{}
	}
	remaining.Steps = kept
	remaining.ScopeAnalysis = nil

	// the old pipeline still carries the moved steps
	noPipeline := ""
	if _, err := d.store.UpdateTask(taskID, db.TaskUpdate{
		DesignResult: &remaining,
		PipelineID:   &noPipeline,
	}); err != nil {
		return nil, nil, fmt.Errorf("updating design: %w", err)
	}

	log.Printf("✂️  Split %d steps of task %s into epic %s (task %s)", len(moved), taskID, epic.ID, split.ID)
	return epic, split, nil
}

func splitWorkPrompt(steps []types.DesignStep) string {
	var sb strings.Builder
	sb.WriteString("Carry out the following work split from a larger task:\n")
	for _, s := range steps {
		fmt.Fprintf(&sb, "\n### %s\n", s.Title)
		if s.Description != "" {
			sb.WriteString(s.Description + "\n")
		}
		if s.Prompt != "" && s.Prompt != s.Description {
			sb.WriteString(s.Prompt + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
