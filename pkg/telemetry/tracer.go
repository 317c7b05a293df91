// Package telemetry provides OpenTelemetry observability for Foreman
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for Foreman
var tracer = otel.Tracer("foreman")

// Span names for Foreman operations
const (
	// Pipeline spans
	SpanPipelineExecute = "foreman.pipeline.execute"
	SpanPipelineStep    = "foreman.pipeline.step"

	// Agent spans
	SpanAgentExecute = "foreman.agent.execute"

	// Task workflow spans
	SpanTaskExecute        = "foreman.task.execute"
	SpanTaskDesign         = "foreman.task.design"
	SpanTaskImplementation = "foreman.task.implementation"

	// Verification spans
	SpanVerificationRun   = "foreman.verification.run"
	SpanVerificationCheck = "foreman.verification.check"

	// Git spans
	SpanGitCommitScan = "foreman.git.commit_scan"
)

// StartExecutionSpan starts a span for one pipeline execution
func StartExecutionSpan(ctx context.Context, executionID, pipelineID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyExecutionID, executionID),
		attribute.String(KeyPipelineID, pipelineID),
	)
	return tracer.Start(ctx, SpanPipelineExecute, trace.WithAttributes(attrs...))
}

// StartStepSpan starts a span for one pipeline step
func StartStepSpan(ctx context.Context, step int, parallel bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanPipelineStep, trace.WithAttributes(
		attribute.Int(KeyStepNumber, step),
		attribute.Bool(KeyStepParallel, parallel),
	))
}

// StartTaskSpan starts a span for a task operation with task attributes
func StartTaskSpan(ctx context.Context, name, taskID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeyTaskID, taskID))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartAgentSpan starts a span for agent execution
func StartAgentSpan(ctx context.Context, agentType, model string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyAgentType, agentType),
		attribute.String(KeyAgentModel, model),
	)
	return tracer.Start(ctx, SpanAgentExecute, trace.WithAttributes(attrs...))
}

// StartCheckSpan starts a span for a single verification check
func StartCheckSpan(ctx context.Context, check, command string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanVerificationCheck, trace.WithAttributes(
		attribute.String(KeyCheckName, check),
		attribute.String(KeyCheckCommand, command),
	))
}

// RecordError records an error on a span with optional error category
func RecordError(span trace.Span, err error, errorCategory string) {
	if err == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("exception.message", err.Error()),
		attribute.String("exception.type", ErrorTypeFromError(err)),
	}

	if errorCategory != "" {
		attrs = append(attrs, attribute.String(KeyErrorCategory, errorCategory))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// EndWithStatus records err (if any), sets the final span status and ends it
func EndWithStatus(span trace.Span, err error, errorCategory string) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
	} else {
		RecordError(span, err, errorCategory)
	}
	span.End()
}

// SetExecutionStatus sets the execution status as a span attribute
func SetExecutionStatus(span trace.Span, status string) {
	span.SetAttributes(attribute.String(KeyExecutionStatus, status))
}

// GetTraceID returns the trace ID from context if available
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// ErrorTypeFromError extracts a human-readable error type
func ErrorTypeFromError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
