// Package types defines core data structures for Foreman
package types

// TaskStatus is the kanban lifecycle stage of a task
type TaskStatus string

const (
	TaskStatusBacklog        TaskStatus = "backlog"
	TaskStatusTodo           TaskStatus = "todo"
	TaskStatusDesign         TaskStatus = "design"
	TaskStatusImplementation TaskStatus = "implementation"
	TaskStatusVerification   TaskStatus = "verification"
	TaskStatusReview         TaskStatus = "review"
	TaskStatusDone           TaskStatus = "done"
)

// TaskStatuses lists the lifecycle stages in board order
var TaskStatuses = []TaskStatus{
	TaskStatusBacklog,
	TaskStatusTodo,
	TaskStatusDesign,
	TaskStatusImplementation,
	TaskStatusVerification,
	TaskStatusReview,
	TaskStatusDone,
}

// Valid reports whether s is a known lifecycle stage
func (s TaskStatus) Valid() bool {
	for _, known := range TaskStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ProcessStatus tracks an independent sub-process of a task (design,
// execution, verification). The empty value means the process never ran.
type ProcessStatus string

const (
	ProcessNone      ProcessStatus = ""
	ProcessRunning   ProcessStatus = "running"
	ProcessCompleted ProcessStatus = "completed"
	ProcessFailed    ProcessStatus = "failed"
)

// Task represents a unit of work driven through the lifecycle
type Task struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	WorkPrompt         string              `json:"work_prompt"`
	Status             TaskStatus          `json:"status"`
	Position           int                 `json:"position"`
	EpicID             string              `json:"epic_id,omitempty"`
	TeamID             string              `json:"team_id,omitempty"`
	BranchName         string              `json:"branch_name,omitempty"`
	DesignStatus       ProcessStatus       `json:"design_status,omitempty"`
	ExecutionStatus    ProcessStatus       `json:"execution_status,omitempty"`
	VerificationStatus ProcessStatus       `json:"verification_status,omitempty"`
	DesignResult       *DesignResult       `json:"design_result,omitempty"`
	VerificationResult *VerificationResult `json:"verification_result,omitempty"`
	PipelineID         string              `json:"pipeline_id,omitempty"`
	CurrentExecutionID string              `json:"current_execution_id,omitempty"`
	CompletedAt        *int64              `json:"completed_at,omitempty"`
	CreatedAt          int64               `json:"created_at"`
	UpdatedAt          int64               `json:"updated_at"`
}

// Epic groups related tasks under a stated scope boundary
type Epic struct {
	ID          string  `json:"id"`
	PRDID       string  `json:"prd_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Scope       string  `json:"scope,omitempty"` // What belongs to this epic
	Progress    float64 `json:"progress"`        // Percentage of tasks done
	CreatedAt   int64   `json:"created_at"`
}

// PRD is the product requirement document an epic belongs to
type PRD struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Vision          string   `json:"vision"`
	SuccessCriteria []string `json:"success_criteria"`
	Constraints     []string `json:"constraints"`
	CreatedAt       int64    `json:"created_at"`
}

// ProjectNote is a free-text note attached to a working copy path
type ProjectNote struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Persona customises how a team agent behaves
type Persona struct {
	SystemPrompt  string `json:"system_prompt,omitempty"`
	ContextPrompt string `json:"context_prompt,omitempty"`
}

// TeamAgent is an agent slot in a team, optionally carrying a persona
type TeamAgent struct {
	ID        string   `json:"id"`
	TeamID    string   `json:"team_id"`
	AgentType string   `json:"agent_type"`
	Model     Model    `json:"model,omitempty"`
	Persona   *Persona `json:"persona,omitempty"`
}

// LogPhase names the task phase an execution log belongs to
type LogPhase string

const (
	PhaseExecute        LogPhase = "execute"
	PhaseDesign         LogPhase = "design"
	PhaseImplementation LogPhase = "implementation"
	PhaseVerification   LogPhase = "verification"
)

// ExecutionLog records one agent or verification run for a task
type ExecutionLog struct {
	ID            string        `json:"id"`
	TaskID        string        `json:"task_id"`
	Phase         LogPhase      `json:"phase"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Status        ProcessStatus `json:"status"`
	Output        string        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     int64         `json:"started_at"`
	CompletedAt   *int64        `json:"completed_at,omitempty"`
	DurationMS    int64         `json:"duration_ms,omitempty"`
}

// TaskCommit is a git commit attributed to a task by the commit scanner
type TaskCommit struct {
	TaskID      string `json:"task_id"`
	Hash        string `json:"hash"`
	Subject     string `json:"subject"`
	Author      string `json:"author"`
	CommittedAt int64  `json:"committed_at"`
}

// BoardStatus summarises how many tasks sit in each lifecycle stage
type BoardStatus struct {
	Total    int                `json:"total"`
	ByStatus map[TaskStatus]int `json:"by_status"`
}
