package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	instrumentsOnce sync.Once

	agentRuns       metric.Int64Counter
	agentFailures   metric.Int64Counter
	agentDuration   metric.Float64Histogram
	agentRejections metric.Int64Counter
	checkRuns       metric.Int64Counter
	checkDuration   metric.Float64Histogram
	executionsTotal metric.Int64Counter
)

// initInstruments lazily creates the instruments against the global meter
// provider so a host that installs a provider before first use gets real data.
func initInstruments() {
	instrumentsOnce.Do(func() {
		meter := otel.Meter("foreman")

		agentRuns, _ = meter.Int64Counter("foreman.agent.runs",
			metric.WithDescription("Agent invocations started"))
		agentFailures, _ = meter.Int64Counter("foreman.agent.failures",
			metric.WithDescription("Agent invocations that failed, timed out or were rejected"))
		agentDuration, _ = meter.Float64Histogram("foreman.agent.duration",
			metric.WithDescription("Agent run duration"),
			metric.WithUnit("s"))
		agentRejections, _ = meter.Int64Counter("foreman.agent.rejections",
			metric.WithDescription("Agent spawns rejected by the concurrency ceiling"))
		checkRuns, _ = meter.Int64Counter("foreman.verification.checks",
			metric.WithDescription("Verification checks run"))
		checkDuration, _ = meter.Float64Histogram("foreman.verification.check.duration",
			metric.WithDescription("Verification check duration"),
			metric.WithUnit("s"))
		executionsTotal, _ = meter.Int64Counter("foreman.pipeline.executions",
			metric.WithDescription("Pipeline executions by terminal status"))
	})
}

// RecordAgentRun records one finished agent invocation
func RecordAgentRun(ctx context.Context, agentType, model string, success bool, d time.Duration) {
	initInstruments()
	attrs := metric.WithAttributes(
		attribute.String(KeyAgentType, agentType),
		attribute.String(KeyAgentModel, model),
	)
	agentRuns.Add(ctx, 1, attrs)
	agentDuration.Record(ctx, d.Seconds(), attrs)
	if !success {
		agentFailures.Add(ctx, 1, attrs)
	}
}

// RecordAgentRejected records a spawn that the concurrency ceiling refused
func RecordAgentRejected(ctx context.Context, agentType string) {
	initInstruments()
	agentRejections.Add(ctx, 1, metric.WithAttributes(attribute.String(KeyAgentType, agentType)))
}

// RecordCheck records one verification check outcome
func RecordCheck(ctx context.Context, check, status string, d time.Duration) {
	initInstruments()
	attrs := metric.WithAttributes(
		attribute.String(KeyCheckName, check),
		attribute.String(KeyCheckStatus, status),
	)
	checkRuns.Add(ctx, 1, attrs)
	checkDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordExecutionFinished records a pipeline execution reaching a terminal status
func RecordExecutionFinished(ctx context.Context, status string) {
	initInstruments()
	executionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(KeyExecutionStatus, status)))
}
