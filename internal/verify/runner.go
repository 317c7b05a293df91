// Package verify runs quality checks against a working copy and advances
// the task to review when they all pass.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/notify"
	"github.com/cloud-shuttle/foreman/pkg/telemetry"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

const (
	DefaultCheckTimeout      = 5 * time.Minute
	DefaultCoverageThreshold = 80.0
)

// Store is the slice of the entity store verification needs
type Store interface {
	GetTask(id string) (*types.Task, error)
	UpdateTask(id string, u db.TaskUpdate) (*types.Task, error)
	MoveTask(id string, status types.TaskStatus, position int) (*types.Task, error)
	CountTasksByStatus(status types.TaskStatus) (int, error)
	CreateExecutionLog(entry *types.ExecutionLog) error
	CompleteExecutionLog(id string, status types.ProcessStatus, output, errMsg string, duration time.Duration) error
}

// Options selects what a verification run checks
type Options struct {
	Checks            []types.CheckName // empty runs the default set
	CoverageThreshold float64           // zero uses the runner default
	SkipOnFailure     bool
}

// RetryOptions controls RetryVerification
type RetryOptions struct {
	FailedOnly        bool
	CoverageThreshold float64
	SkipOnFailure     bool
}

// Runner executes verification checks
type Runner struct {
	store     Store
	notifier  notify.Notifier
	timeout   time.Duration
	threshold float64
	checks    []types.CheckName
	overrides map[string]string
	verbose   bool
}

// NewRunner creates a runner. A nil notifier discards events.
func NewRunner(store Store, notifier notify.Notifier) *Runner {
	if notifier == nil {
		notifier = notify.Nop()
	}
	return &Runner{
		store:     store,
		notifier:  notifier,
		timeout:   DefaultCheckTimeout,
		threshold: DefaultCoverageThreshold,
		checks:    types.DefaultChecks,
	}
}

// SetVerbose enables or disables verbose logging
func (r *Runner) SetVerbose(v bool) {
	r.verbose = v
}

// SetCheckTimeout bounds each check command
func (r *Runner) SetCheckTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// SetCoverageThreshold sets the default coverage threshold
func (r *Runner) SetCoverageThreshold(pct float64) {
	if pct > 0 {
		r.threshold = pct
	}
}

// SetDefaultChecks replaces the check set used when a run names none
func (r *Runner) SetDefaultChecks(checks []types.CheckName) error {
	if len(checks) == 0 {
		return nil
	}
	if err := validateChecks(checks); err != nil {
		return err
	}
	r.checks = append([]types.CheckName(nil), checks...)
	return nil
}

// SetCommandOverrides installs per-check commands that win over detection
func (r *Runner) SetCommandOverrides(overrides map[string]string) {
	r.overrides = overrides
}

// ParseChecks converts names into checks, rejecting unknown ones
func ParseChecks(names []string) ([]types.CheckName, error) {
	checks := make([]types.CheckName, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		checks = append(checks, types.CheckName(n))
	}
	if err := validateChecks(checks); err != nil {
		return nil, err
	}
	return checks, nil
}

func validateChecks(checks []types.CheckName) error {
	for _, c := range checks {
		known := false
		for _, d := range types.DefaultChecks {
			if c == d {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown check %q: %w", c, types.ErrPreconditionFailed)
		}
	}
	return nil
}

// RunVerification runs the checks for a task in path and persists the
// result. Failing checks are reported in the result, not as an error.
func (r *Runner) RunVerification(ctx context.Context, taskID, path string, opts Options) (*types.VerificationResult, error) {
	checks := opts.Checks
	if len(checks) == 0 {
		checks = r.checks
	}
	if err := validateChecks(checks); err != nil {
		return nil, err
	}
	threshold := opts.CoverageThreshold
	if threshold <= 0 {
		threshold = r.threshold
	}

	task, err := r.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("working path %s does not exist: %w", path, types.ErrPreconditionFailed)
	}

	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanVerificationRun, taskID)
	defer span.End()

	running := types.ProcessRunning
	update := db.TaskUpdate{VerificationStatus: &running}
	if task.Status == types.TaskStatusImplementation {
		status := types.TaskStatusVerification
		update.Status = &status
	}
	if _, err := r.store.UpdateTask(taskID, update); err != nil {
		return nil, fmt.Errorf("marking verification running: %w", err)
	}

	entry := &types.ExecutionLog{TaskID: taskID, Phase: types.PhaseVerification, Status: types.ProcessRunning}
	if err := r.store.CreateExecutionLog(entry); err != nil {
		log.Printf("[verify] failed to create execution log for %s: %v", taskID, err)
		entry = nil
	}

	r.notifier.NotifyVerificationStarted(taskID, checks)
	log.Printf("🧪 Verifying task %s: %s", taskID, joinChecks(checks))

	start := time.Now()
	commands := DetectCommands(path).Merge(r.overrides)
	result := &types.VerificationResult{TaskID: taskID, Checks: make([]types.CheckResult, 0, len(checks))}

	failed := false
	for _, name := range checks {
		command := commands[name]
		if failed && opts.SkipOnFailure {
			result.Checks = append(result.Checks, types.CheckResult{Name: name, Status: types.CheckPending, Command: command})
			continue
		}

		check, coverage := r.runCheck(ctx, name, command, path, threshold)
		if coverage != nil {
			result.CoveragePercent = coverage
		}
		result.Checks = append(result.Checks, check)
		r.notifier.NotifyVerificationProgress(taskID, check)

		if check.Status == types.CheckFailed {
			failed = true
		}
	}

	result.OverallPass = !failed
	result.Status = types.VerificationFailed
	procStatus := types.ProcessFailed
	if result.OverallPass {
		result.Status = types.VerificationPassed
		procStatus = types.ProcessCompleted
	}

	if _, err := r.store.UpdateTask(taskID, db.TaskUpdate{VerificationStatus: &procStatus, VerificationResult: result}); err != nil {
		return result, fmt.Errorf("saving verification result: %w", err)
	}

	var moveErr error
	if result.OverallPass {
		moveErr = r.advanceToReview(taskID)
	}

	if entry != nil {
		summary := summarize(result)
		errMsg := ""
		if moveErr != nil {
			errMsg = moveErr.Error()
		}
		if err := r.store.CompleteExecutionLog(entry.ID, procStatus, summary, errMsg, time.Since(start)); err != nil {
			log.Printf("[verify] failed to complete execution log for %s: %v", taskID, err)
		}
	}

	telemetry.SetExecutionStatus(span, string(result.Status))
	if result.OverallPass && moveErr == nil {
		r.notifier.NotifyVerificationCompleted(taskID, result)
		log.Printf("✅ Verification passed for task %s", taskID)
	} else {
		r.notifier.NotifyVerificationFailed(taskID, result, moveErr)
		log.Printf("❌ Verification failed for task %s: %s", taskID, joinChecks(result.FailedChecks()))
	}

	return result, moveErr
}

// RetryVerification re-runs verification. With FailedOnly it runs just the
// checks that failed last time, or the full set when there is no usable
// previous result.
func (r *Runner) RetryVerification(ctx context.Context, taskID, path string, opts RetryOptions) (*types.VerificationResult, error) {
	task, err := r.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	var checks []types.CheckName
	if opts.FailedOnly {
		checks = task.VerificationResult.FailedChecks()
		if validateChecks(checks) != nil {
			checks = nil
		}
	}
	if len(checks) == 0 {
		checks = r.checks
	}

	return r.RunVerification(ctx, taskID, path, Options{
		Checks:            checks,
		CoverageThreshold: opts.CoverageThreshold,
		SkipOnFailure:     opts.SkipOnFailure,
	})
}

// advanceToReview moves a passing task to the end of the review column
func (r *Runner) advanceToReview(taskID string) error {
	position, err := r.store.CountTasksByStatus(types.TaskStatusReview)
	if err != nil {
		return fmt.Errorf("counting review tasks: %w", err)
	}
	if _, err := r.store.MoveTask(taskID, types.TaskStatusReview, position); err != nil {
		return fmt.Errorf("moving task to review: %w", err)
	}
	return nil
}

// runCheck runs one check command and classifies the outcome
func (r *Runner) runCheck(ctx context.Context, name types.CheckName, command, path string, threshold float64) (check types.CheckResult, coverage *float64) {
	check = types.CheckResult{Name: name, Command: command}

	ctx, span := telemetry.StartCheckSpan(ctx, string(name), command)
	start := time.Now()
	defer func() {
		check.DurationMS = time.Since(start).Milliseconds()
		telemetry.RecordCheck(ctx, string(name), string(check.Status), time.Since(start))
	}()

	if command == "" {
		check.Status = types.CheckFailed
		check.ExitCode = -1
		check.Output = fmt.Sprintf("no command configured for %s", name)
		telemetry.EndWithStatus(span, errors.New(check.Output), telemetry.ErrorCategoryCheck)
		return check, nil
	}

	if r.verbose {
		log.Printf("🧪 [%s] %s", name, command)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = path
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	check.ExitCode = exitCode(cmd, err)
	combined := strings.TrimSpace(stdout.String() + "\n" + stderr.String())

	if err != nil {
		check.Status = types.CheckFailed
		check.Output = strings.TrimSpace(stderr.String())
		if check.Output == "" {
			check.Output = combined
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			check.Output = strings.TrimSpace(fmt.Sprintf("%s\ntimed out after %v", check.Output, r.timeout))
		}
		telemetry.EndWithStatus(span, fmt.Errorf("%s failed with exit code %d", name, check.ExitCode), telemetry.ErrorCategoryCheck)
	} else {
		check.Status = types.CheckPassed
		check.Output = combined
	}

	if name == types.CheckCoverage {
		pct, ok := ParseCoverage(combined)
		switch {
		case !ok:
			check.Status = types.CheckFailed
			check.Output = strings.TrimSpace(check.Output + "\ncould not parse a coverage percentage")
		default:
			coverage = &pct
			if pct < threshold {
				check.Status = types.CheckFailed
				check.Output = strings.TrimSpace(fmt.Sprintf("%s\ncoverage %.1f%% is below the %.1f%% threshold", check.Output, pct, threshold))
			}
		}
	}

	if check.Status == types.CheckPassed {
		telemetry.EndWithStatus(span, nil, "")
	} else if err == nil {
		telemetry.EndWithStatus(span, errors.New("coverage check failed"), telemetry.ErrorCategoryCheck)
	}
	return check, coverage
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func joinChecks(checks []types.CheckName) string {
	parts := make([]string, len(checks))
	for i, c := range checks {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

func summarize(result *types.VerificationResult) string {
	var b strings.Builder
	for _, c := range result.Checks {
		fmt.Fprintf(&b, "%s: %s\n", c.Name, c.Status)
	}
	if result.CoveragePercent != nil {
		fmt.Fprintf(&b, "coverage: %.1f%%\n", *result.CoveragePercent)
	}
	return strings.TrimSpace(b.String())
}
