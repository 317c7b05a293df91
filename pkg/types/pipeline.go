package types

// Model is the cost/capability tier of an agent invocation
type Model string

const (
	ModelHaiku  Model = "haiku"
	ModelSonnet Model = "sonnet"
	ModelOpus   Model = "opus"
)

// ParseModel normalises a model name, falling back to sonnet
func ParseModel(s string) Model {
	switch Model(s) {
	case ModelHaiku, ModelSonnet, ModelOpus:
		return Model(s)
	default:
		return ModelSonnet
	}
}

// Agent is one invocation of the agent runtime inside a pipeline step
type Agent struct {
	Type   string `json:"type" yaml:"type"`
	Model  Model  `json:"model" yaml:"model"`
	Prompt string `json:"prompt" yaml:"prompt"`
	TaskID string `json:"task_id,omitempty" yaml:"task_id,omitempty"`
}

// PipelineStep is a group of agents run either all in parallel or in order
type PipelineStep struct {
	Step     int     `json:"step" yaml:"step"`
	Parallel bool    `json:"parallel" yaml:"parallel"`
	Agents   []Agent `json:"agents" yaml:"agents"`
}

// PipelineStatus is the bookkeeping status of a pipeline definition
type PipelineStatus string

const (
	PipelineStatusIdle    PipelineStatus = "idle"
	PipelineStatusRunning PipelineStatus = "running"
)

// Pipeline is an ordered list of steps
type Pipeline struct {
	ID        string         `json:"id" yaml:"id,omitempty"`
	Name      string         `json:"name" yaml:"name"`
	TaskID    string         `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Steps     []PipelineStep `json:"steps" yaml:"steps"`
	Status    PipelineStatus `json:"status" yaml:"-"`
	CreatedAt int64          `json:"created_at" yaml:"-"`
}

// ExecutionStatus is the state of one pipeline run
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// AgentResult records the outcome of one agent of a step
type AgentResult struct {
	Step       int           `json:"step"`
	AgentType  string        `json:"agent_type"`
	Model      Model         `json:"model"`
	Status     ProcessStatus `json:"status"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
}

// PipelineExecution is one run of a pipeline
type PipelineExecution struct {
	ID          string          `json:"id"`
	PipelineID  string          `json:"pipeline_id"`
	TaskID      string          `json:"task_id,omitempty"`
	Status      ExecutionStatus `json:"status"`
	CurrentStep int             `json:"current_step"`
	TotalSteps  int             `json:"total_steps"`
	Results     []AgentResult   `json:"results"`
	Error       string          `json:"error,omitempty"`
	StartedAt   int64           `json:"started_at"`
	CompletedAt *int64          `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine
func (e *PipelineExecution) Clone() *PipelineExecution {
	if e == nil {
		return nil
	}
	out := *e
	out.Results = append([]AgentResult(nil), e.Results...)
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}
