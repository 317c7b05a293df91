package types

// CheckName identifies a verification gate
type CheckName string

const (
	CheckLint      CheckName = "lint"
	CheckTypecheck CheckName = "typecheck"
	CheckTest      CheckName = "test"
	CheckBuild     CheckName = "build"
	CheckCoverage  CheckName = "coverage"
)

// DefaultChecks is the fixed order verification runs checks in
var DefaultChecks = []CheckName{CheckLint, CheckTypecheck, CheckTest, CheckBuild, CheckCoverage}

// CheckStatus is the outcome of a single check
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckPending CheckStatus = "pending"
)

// VerificationStatus is the aggregate outcome of a verification run
type VerificationStatus string

const (
	VerificationPassed VerificationStatus = "passed"
	VerificationFailed VerificationStatus = "failed"
)

// CheckResult is the outcome of one verification check
type CheckResult struct {
	Name       CheckName   `json:"name"`
	Status     CheckStatus `json:"status"`
	Command    string      `json:"command"`
	DurationMS int64       `json:"duration_ms"`
	Output     string      `json:"output"`
	ExitCode   int         `json:"exit_code"`
}

// VerificationResult aggregates the checks of one verification run
type VerificationResult struct {
	TaskID          string             `json:"task_id"`
	Status          VerificationStatus `json:"status"`
	OverallPass     bool               `json:"overall_pass"`
	Checks          []CheckResult      `json:"checks"`
	CoveragePercent *float64           `json:"coverage_percent,omitempty"`
}

// FailedChecks returns the names of checks that failed, in run order
func (r *VerificationResult) FailedChecks() []CheckName {
	if r == nil {
		return nil
	}
	var names []CheckName
	for _, c := range r.Checks {
		if c.Status == CheckFailed {
			names = append(names, c.Name)
		}
	}
	return names
}
