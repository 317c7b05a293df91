// Package notify is the fire-and-forget event sink the engine reports
// progress through. Delivery beyond the process is left to subscribers of
// the event bus.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/cloud-shuttle/foreman/internal/events"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// StreamChunk is a slice of agent stdout forwarded while the agent runs
type StreamChunk struct {
	TaskID    string
	Phase     types.LogPhase
	Chunk     string
	Timestamp int64 // Unix milliseconds
	AgentType string
}

// Notifier receives engine events. Implementations must not block.
type Notifier interface {
	NotifyPipelineExecutionStarted(exec *types.PipelineExecution)
	NotifyPipelineExecutionProgress(exec *types.PipelineExecution)
	NotifyPipelineExecutionCompleted(exec *types.PipelineExecution)
	NotifyPipelineExecutionFailed(exec *types.PipelineExecution)

	NotifyTaskStreamChunk(chunk StreamChunk)

	NotifyDesignStarted(taskID string)
	NotifyDesignProgress(taskID, message string)
	NotifyDesignCompleted(taskID string, result *types.DesignResult)
	NotifyDesignFailed(taskID string, err error)

	NotifyImplementationProgress(taskID string, exec *types.PipelineExecution)
	NotifyScopeSplitProposed(taskID string, analysis *types.ScopeAnalysis)

	NotifyVerificationStarted(taskID string, checks []types.CheckName)
	NotifyVerificationProgress(taskID string, check types.CheckResult)
	NotifyVerificationCompleted(taskID string, result *types.VerificationResult)
	NotifyVerificationFailed(taskID string, result *types.VerificationResult, err error)
}

// Emitter converts notifications into events and hands each to a sink
type Emitter struct {
	sink func(*events.Event)
}

var _ Notifier = (*Emitter)(nil)

// NewEmitter creates a notifier that passes every event to sink
func NewEmitter(sink func(*events.Event)) *Emitter {
	return &Emitter{sink: sink}
}

// NewBusNotifier publishes every notification on bus
func NewBusNotifier(bus *events.Bus) *Emitter {
	return NewEmitter(func(ev *events.Event) {
		if err := bus.Publish(context.Background(), ev); err != nil {
			log.Printf("[notify] dropping %s: %v", ev.Type, err)
		}
	})
}

// Nop returns a notifier that discards everything
func Nop() *Emitter {
	return NewEmitter(func(*events.Event) {})
}

func (e *Emitter) emit(t events.EventType, taskID, executionID string, data map[string]any) {
	if e == nil || e.sink == nil {
		return
	}
	e.sink(events.NewEvent(t, taskID, executionID, data))
}

func executionData(exec *types.PipelineExecution) map[string]any {
	return map[string]any{
		"execution":    exec.Clone(),
		"status":       string(exec.Status),
		"current_step": exec.CurrentStep,
		"total_steps":  exec.TotalSteps,
		"error":        exec.Error,
	}
}

func (e *Emitter) NotifyPipelineExecutionStarted(exec *types.PipelineExecution) {
	e.emit(events.EventExecutionStarted, exec.TaskID, exec.ID, executionData(exec))
}

func (e *Emitter) NotifyPipelineExecutionProgress(exec *types.PipelineExecution) {
	e.emit(events.EventExecutionProgress, exec.TaskID, exec.ID, executionData(exec))
}

func (e *Emitter) NotifyPipelineExecutionCompleted(exec *types.PipelineExecution) {
	e.emit(events.EventExecutionCompleted, exec.TaskID, exec.ID, executionData(exec))
}

func (e *Emitter) NotifyPipelineExecutionFailed(exec *types.PipelineExecution) {
	e.emit(events.EventExecutionFailed, exec.TaskID, exec.ID, executionData(exec))
}

func (e *Emitter) NotifyTaskStreamChunk(chunk StreamChunk) {
	if chunk.Timestamp == 0 {
		chunk.Timestamp = time.Now().UnixMilli()
	}
	e.emit(events.EventTaskStreamChunk, chunk.TaskID, "", map[string]any{
		"phase":      string(chunk.Phase),
		"chunk":      chunk.Chunk,
		"agent_type": chunk.AgentType,
		"chunk_ts":   chunk.Timestamp,
	})
}

func (e *Emitter) NotifyDesignStarted(taskID string) {
	e.emit(events.EventDesignStarted, taskID, "", nil)
}

func (e *Emitter) NotifyDesignProgress(taskID, message string) {
	e.emit(events.EventDesignProgress, taskID, "", map[string]any{"message": message})
}

func (e *Emitter) NotifyDesignCompleted(taskID string, result *types.DesignResult) {
	e.emit(events.EventDesignCompleted, taskID, "", map[string]any{"design": result})
}

func (e *Emitter) NotifyDesignFailed(taskID string, err error) {
	e.emit(events.EventDesignFailed, taskID, "", map[string]any{"error": errString(err)})
}

func (e *Emitter) NotifyImplementationProgress(taskID string, exec *types.PipelineExecution) {
	e.emit(events.EventImplementationProgress, taskID, exec.ID, executionData(exec))
}

func (e *Emitter) NotifyScopeSplitProposed(taskID string, analysis *types.ScopeAnalysis) {
	e.emit(events.EventScopeSplitProposed, taskID, "", map[string]any{"scope_analysis": analysis})
}

func (e *Emitter) NotifyVerificationStarted(taskID string, checks []types.CheckName) {
	e.emit(events.EventVerificationStarted, taskID, "", map[string]any{"checks": checks})
}

func (e *Emitter) NotifyVerificationProgress(taskID string, check types.CheckResult) {
	e.emit(events.EventVerificationProgress, taskID, "", map[string]any{
		"check":  string(check.Name),
		"status": string(check.Status),
		"result": check,
	})
}

func (e *Emitter) NotifyVerificationCompleted(taskID string, result *types.VerificationResult) {
	e.emit(events.EventVerificationCompleted, taskID, "", map[string]any{"result": result})
}

func (e *Emitter) NotifyVerificationFailed(taskID string, result *types.VerificationResult, err error) {
	e.emit(events.EventVerificationFailed, taskID, "", map[string]any{
		"result": result,
		"error":  errString(err),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
