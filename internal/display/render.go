// Package display renders designs, executions and verification reports for
// the terminal
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Styles
var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	subtitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("228"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle      = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("245"))

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

const wrapWidth = 70

// Task renders a one-line task summary
func Task(t *types.Task) string {
	line := fmt.Sprintf("%s %s  %s", TaskBadge(t.Status), headerStyle.Render(t.ID), normalStyle.Render(t.Title))
	var flags []string
	if t.DesignStatus != types.ProcessNone {
		flags = append(flags, "design:"+string(t.DesignStatus))
	}
	if t.ExecutionStatus != types.ProcessNone {
		flags = append(flags, "exec:"+string(t.ExecutionStatus))
	}
	if t.VerificationStatus != types.ProcessNone {
		flags = append(flags, "verify:"+string(t.VerificationStatus))
	}
	if len(flags) > 0 {
		line += "  " + dimStyle.Render(strings.Join(flags, " "))
	}
	return line
}

// TaskDetails renders everything known about a task
func TaskDetails(t *types.Task) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(t.Title) + "\n\n")
	field(&b, "ID", t.ID)
	field(&b, "Status", string(t.Status))
	field(&b, "Position", fmt.Sprint(t.Position))
	field(&b, "Epic", t.EpicID)
	field(&b, "Team", t.TeamID)
	field(&b, "Branch", t.BranchName)
	field(&b, "Design", string(t.DesignStatus))
	field(&b, "Execution", string(t.ExecutionStatus))
	field(&b, "Verification", string(t.VerificationStatus))
	field(&b, "Pipeline", t.PipelineID)
	field(&b, "Run", t.CurrentExecutionID)

	if t.Description != "" {
		b.WriteString("\n" + subtitleStyle.Render("Description:") + "\n")
		b.WriteString(normalStyle.Render(wrapText(t.Description, wrapWidth)) + "\n")
	}
	if t.WorkPrompt != "" {
		b.WriteString("\n" + subtitleStyle.Render("Work prompt:") + "\n")
		b.WriteString(normalStyle.Render(wrapText(t.WorkPrompt, wrapWidth)) + "\n")
	}
	return b.String()
}

func field(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-13s", label+":")) + " " + value + "\n")
}

// Design renders a parsed design plan and any scope split proposal
func Design(r *types.DesignResult) string {
	if r == nil {
		return dimStyle.Render("No design yet.") + "\n"
	}

	var b strings.Builder
	if r.Overview != "" {
		b.WriteString(subtitleStyle.Render("Overview:") + "\n")
		b.WriteString(normalStyle.Render(wrapText(r.Overview, wrapWidth)) + "\n\n")
	}

	b.WriteString(subtitleStyle.Render(fmt.Sprintf("Steps (%d):", len(r.Steps))) + "\n")
	for _, s := range r.Steps {
		mode := "sequential"
		if s.Parallel {
			mode = "parallel"
		}
		b.WriteString(normalStyle.Render(fmt.Sprintf("%2d. %s", s.Number, s.Title)) + " " + ScopeBadge(s.ScopeTag) + "\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("    %s / %s / %s", s.AgentType, s.Model, mode)) + "\n")
		if s.Description != "" {
			b.WriteString(dimStyle.Render(indent(wrapText(s.Description, wrapWidth-4), "    ")) + "\n")
		}
		if s.ExpectedOutput != "" {
			b.WriteString(successStyle.Render("    ✓ "+s.ExpectedOutput) + "\n")
		}
		if s.ScopeReason != "" {
			b.WriteString(warningStyle.Render("    ! "+s.ScopeReason) + "\n")
		}
	}

	list(&b, "Risks:", r.Risks, warningStyle)
	list(&b, "Success criteria:", r.SuccessCriteria, successStyle)

	if a := r.ScopeAnalysis; a != nil {
		b.WriteString("\n" + warningStyle.Render(fmt.Sprintf("Scope split proposed (%s confidence): steps %s",
			a.Confidence, joinInts(a.OutOfScopeSteps))) + "\n")
		b.WriteString(normalStyle.Render("  New epic: "+a.SuggestedEpicTitle) + "\n")
		if a.SuggestedEpicDescription != "" {
			b.WriteString(dimStyle.Render(indent(a.SuggestedEpicDescription, "  ")) + "\n")
		}
	}
	return b.String()
}

func list(b *strings.Builder, title string, items []string, style lipgloss.Style) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + subtitleStyle.Render(title) + "\n")
	for _, item := range items {
		b.WriteString(style.Render("  - "+item) + "\n")
	}
}

// Execution renders a pipeline execution with per-agent results
func Execution(e *types.PipelineExecution) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s  step %d/%d\n", ExecutionBadge(e.Status),
		headerStyle.Render(e.ID), e.CurrentStep, e.TotalSteps))
	for _, r := range e.Results {
		mark := successStyle.Render("✓")
		if r.Status != types.ProcessCompleted {
			mark = errorStyle.Render("✗")
		}
		b.WriteString(fmt.Sprintf("  %s step %d %s (%s) %s\n", mark, r.Step, r.AgentType, r.Model,
			dimStyle.Render(duration(r.DurationMS))))
		if r.Error != "" {
			b.WriteString(errorStyle.Render(indent(firstLines(r.Error, 3), "      ")) + "\n")
		}
	}
	if e.Error != "" {
		b.WriteString(errorStyle.Render("  "+e.Error) + "\n")
	}
	return b.String()
}

// Verification renders a verification report
func Verification(r *types.VerificationResult) string {
	if r == nil {
		return dimStyle.Render("Not verified yet.") + "\n"
	}

	var b strings.Builder
	verdict := successStyle.Render("PASSED")
	if !r.OverallPass {
		verdict = errorStyle.Render("FAILED")
	}
	b.WriteString(fmt.Sprintf("Verification %s", verdict))
	if r.CoveragePercent != nil {
		b.WriteString(fmt.Sprintf("  coverage %.1f%%", *r.CoveragePercent))
	}
	b.WriteString("\n")

	for _, c := range r.Checks {
		var mark string
		switch c.Status {
		case types.CheckPassed:
			mark = successStyle.Render("✓")
		case types.CheckFailed:
			mark = errorStyle.Render("✗")
		default:
			mark = dimStyle.Render("-")
		}
		b.WriteString(fmt.Sprintf("  %s %-10s %s\n", mark, c.Name, dimStyle.Render(c.Command)))
		if c.Status == types.CheckFailed && c.Output != "" {
			b.WriteString(errorStyle.Render(indent(firstLines(c.Output, 5), "      ")) + "\n")
		}
	}
	return b.String()
}

// Board renders task counts per lifecycle stage
func Board(s *types.BoardStatus) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Board (%d tasks)", s.Total)) + "\n")
	for _, st := range types.TaskStatuses {
		b.WriteString(fmt.Sprintf("  %-16s %d\n", TaskBadge(st), s.ByStatus[st]))
	}
	return b.String()
}

// Epic renders an epic with its progress
func Epic(e *types.Epic) string {
	line := fmt.Sprintf("%s  %s  %s", headerStyle.Render(e.ID), normalStyle.Render(e.Title),
		infoStyle.Render(fmt.Sprintf("%.0f%%", e.Progress)))
	if e.Scope != "" {
		line += "\n" + dimStyle.Render(indent(wrapText("scope: "+e.Scope, wrapWidth), "    "))
	}
	return line
}

// TaskBadge styles a lifecycle stage
func TaskBadge(s types.TaskStatus) string {
	label := "[" + strings.ToUpper(string(s)) + "]"
	switch s {
	case types.TaskStatusDone, types.TaskStatusReview:
		return successStyle.Render(label)
	case types.TaskStatusDesign, types.TaskStatusImplementation, types.TaskStatusVerification:
		return infoStyle.Render(label)
	case types.TaskStatusTodo:
		return warningStyle.Render(label)
	default:
		return dimStyle.Render(label)
	}
}

// ExecutionBadge styles an execution status
func ExecutionBadge(s types.ExecutionStatus) string {
	switch s {
	case types.ExecutionRunning:
		return infoStyle.Render("[RUNNING]")
	case types.ExecutionCompleted:
		return successStyle.Render("[DONE]")
	case types.ExecutionFailed:
		return errorStyle.Render("[FAILED]")
	case types.ExecutionCancelled:
		return warningStyle.Render("[CANCELLED]")
	default:
		return dimStyle.Render("[" + string(s) + "]")
	}
}

// ScopeBadge styles a design step's scope tag
func ScopeBadge(tag types.ScopeTag) string {
	switch tag {
	case types.ScopeOutOfScope:
		return errorStyle.Render("[out-of-scope]")
	case types.ScopePartial:
		return warningStyle.Render("[partial]")
	default:
		return ""
	}
}

func wrapText(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var result strings.Builder
	lineLen := 0

	for i, word := range words {
		if lineLen+len(word) > width && lineLen > 0 {
			result.WriteString("\n")
			lineLen = 0
		} else if i > 0 {
			result.WriteString(" ")
			lineLen++
		}
		result.WriteString(word)
		lineLen += len(word)
	}

	return result.String()
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func firstLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = append(lines[:n], fmt.Sprintf("... (%d more lines)", len(lines)-n))
	}
	return strings.Join(lines, "\n")
}

func duration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(10 * time.Millisecond).String()
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
