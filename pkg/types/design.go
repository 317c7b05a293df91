package types

// ScopeTag classifies whether a design step belongs to the task's epic
type ScopeTag string

const (
	ScopeInScope    ScopeTag = "in-scope"
	ScopeOutOfScope ScopeTag = "out-of-scope"
	ScopePartial    ScopeTag = "partial"
)

// Confidence is how sure the scope analyzer is that a split is warranted
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// DesignStep is one planned unit of work returned by a design agent
type DesignStep struct {
	Number         int      `json:"number"`
	Title          string   `json:"title"`
	AgentType      string   `json:"agent_type"`
	Model          Model    `json:"model"`
	Parallel       bool     `json:"parallel"`
	Description    string   `json:"description"`
	Prompt         string   `json:"prompt"`
	ExpectedOutput string   `json:"expected_output"`
	ScopeTag       ScopeTag `json:"scope_tag"`
	ScopeReason    string   `json:"scope_reason,omitempty"`
}

// ScopeAnalysis proposes moving flagged steps into a new epic
type ScopeAnalysis struct {
	OutOfScopeSteps          []int      `json:"out_of_scope_steps"`
	SuggestedEpicTitle       string     `json:"suggested_epic_title"`
	SuggestedEpicDescription string     `json:"suggested_epic_description"`
	Confidence               Confidence `json:"confidence"`
}

// DesignResult is the structured plan parsed from design agent output
type DesignResult struct {
	Overview        string         `json:"overview"`
	Steps           []DesignStep   `json:"steps"`
	Risks           []string       `json:"risks"`
	SuccessCriteria []string       `json:"success_criteria"`
	ScopeAnalysis   *ScopeAnalysis `json:"scope_analysis,omitempty"`
}
