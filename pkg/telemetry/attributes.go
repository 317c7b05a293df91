package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention keys for Foreman-specific attributes
const (
	// Task attributes
	KeyTaskID     = "foreman.task.id"
	KeyTaskStatus = "foreman.task.status"
	KeyEpicID     = "foreman.epic.id"

	// Pipeline attributes
	KeyPipelineID      = "foreman.pipeline.id"
	KeyExecutionID     = "foreman.execution.id"
	KeyExecutionStatus = "foreman.execution.status"
	KeyStepNumber      = "foreman.step.number"
	KeyStepParallel    = "foreman.step.parallel"
	KeySimulate        = "foreman.execution.simulate"

	// Agent attributes
	KeyAgentType   = "foreman.agent.type"
	KeyAgentModel  = "foreman.agent.model"
	KeyAgentStatus = "foreman.agent.status"

	// Verification attributes
	KeyCheckName    = "foreman.check.name"
	KeyCheckCommand = "foreman.check.command"
	KeyCheckStatus  = "foreman.check.status"

	// Error attributes
	KeyErrorCategory = "foreman.error.category"
)

// Error categories
const (
	ErrorCategoryAgent        = "agent"
	ErrorCategoryBackpressure = "backpressure"
	ErrorCategoryGit          = "git"
	ErrorCategoryDatabase     = "database"
	ErrorCategoryTimeout      = "timeout"
	ErrorCategoryCancelled    = "cancelled"
	ErrorCategoryCheck        = "check"
)

// TaskAttrs returns a set of attributes for a task
func TaskAttrs(id, status, epicID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(KeyTaskID, id),
		attribute.String(KeyTaskStatus, status),
	}
	if epicID != "" {
		attrs = append(attrs, attribute.String(KeyEpicID, epicID))
	}
	return attrs
}
