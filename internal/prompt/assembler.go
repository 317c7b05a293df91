// Package prompt builds the textual context fed to agents
package prompt

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Store is the read side of the entity store the assembler walks
type Store interface {
	GetTask(id string) (*types.Task, error)
	GetEpic(id string) (*types.Epic, error)
	GetPRD(id string) (*types.PRD, error)
	ListProjectNotes(path string) ([]*types.ProjectNote, error)
}

// Assembler renders task context into agent prompts
type Assembler struct {
	store      Store
	guidelines string
}

// NewAssembler creates an assembler reading from store
func NewAssembler(store Store) *Assembler {
	return &Assembler{store: store}
}

// SetGuidelines sets project guidelines prepended to every prompt
func (a *Assembler) SetGuidelines(guidelines string) {
	a.guidelines = strings.TrimSpace(guidelines)
}

// hierarchy is the Task -> Epic -> PRD chain a prompt is built from
type hierarchy struct {
	task  *types.Task
	epic  *types.Epic
	prd   *types.PRD
	notes []*types.ProjectNote
}

func (a *Assembler) load(taskID, workingPath string) (*hierarchy, error) {
	task, err := a.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	h := &hierarchy{task: task}

	if task.EpicID != "" {
		epic, err := a.store.GetEpic(task.EpicID)
		switch {
		case err == nil:
			h.epic = epic
		case !errors.Is(err, types.ErrNotFound):
			return nil, fmt.Errorf("loading epic: %w", err)
		}
	}

	if h.epic != nil && h.epic.PRDID != "" {
		prd, err := a.store.GetPRD(h.epic.PRDID)
		switch {
		case err == nil:
			h.prd = prd
		case !errors.Is(err, types.ErrNotFound):
			return nil, fmt.Errorf("loading prd: %w", err)
		}
	}

	if workingPath != "" {
		notes, err := a.store.ListProjectNotes(workingPath)
		if err != nil {
			log.Printf("[prompt] skipping project notes for %s: %v", workingPath, err)
		}
		h.notes = notes
	}

	return h, nil
}

// Build assembles the implementation prompt for a task
func (a *Assembler) Build(taskID, workingPath, extra string) (string, error) {
	h, err := a.load(taskID, workingPath)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	a.writeContext(&b, h)
	writeExtra(&b, extra)
	b.WriteString("Implement the task above completely in the working copy, " +
		"then commit your changes following the commit convention.\n")
	return b.String(), nil
}

// BuildDesign assembles the design prompt asking for a structured plan
func (a *Assembler) BuildDesign(taskID, workingPath, extra string) (string, error) {
	h, err := a.load(taskID, workingPath)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	a.writeContext(&b, h)
	if h.epic != nil {
		writeScopeBoundary(&b, h.epic)
	}
	writeExtra(&b, extra)
	b.WriteString(OutputContract)
	b.WriteString("\nDo not modify any files. Respond only with the plan in the format above.\n")
	return b.String(), nil
}

func (a *Assembler) writeContext(b *strings.Builder, h *hierarchy) {
	if a.guidelines != "" {
		b.WriteString("## Project Guidelines\n")
		b.WriteString(a.guidelines)
		b.WriteString("\n\n")
	}

	task := h.task
	fmt.Fprintf(b, "# Task: %s\n", task.Title)
	fmt.Fprintf(b, "Task ID: %s\n", task.ID)
	if task.Description != "" {
		fmt.Fprintf(b, "\n%s\n", task.Description)
	}
	b.WriteString("\n")

	if task.WorkPrompt != "" {
		b.WriteString("## Work Instructions\n")
		b.WriteString(task.WorkPrompt)
		b.WriteString("\n\n")
	}

	if h.epic != nil {
		fmt.Fprintf(b, "## Epic: %s\n", h.epic.Title)
		if h.epic.Description != "" {
			b.WriteString(h.epic.Description)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if h.prd != nil {
		fmt.Fprintf(b, "## Product Requirements: %s\n", h.prd.Title)
		if h.prd.Vision != "" {
			fmt.Fprintf(b, "Vision: %s\n", h.prd.Vision)
		}
		writeList(b, "Success Criteria", h.prd.SuccessCriteria)
		writeList(b, "Constraints", h.prd.Constraints)
		b.WriteString("\n")
	}

	if len(h.notes) > 0 {
		b.WriteString("## Project Notes\n")
		for _, n := range h.notes {
			fmt.Fprintf(b, "- %s\n", strings.TrimSpace(n.Content))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Git Commit Convention\n")
	b.WriteString(CommitConvention(task.BranchName, task.ID))
	b.WriteString("\n\n")
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func writeExtra(b *strings.Builder, extra string) {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return
	}
	b.WriteString("## Additional Instructions\n")
	b.WriteString(extra)
	b.WriteString("\n\n")
}

func writeScopeBoundary(b *strings.Builder, epic *types.Epic) {
	boundary := epic.Scope
	if boundary == "" {
		boundary = epic.Description
	}
	b.WriteString("## Scope Boundary\n")
	fmt.Fprintf(b, "This task belongs to the epic %q. ", epic.Title)
	if boundary != "" {
		fmt.Fprintf(b, "The epic covers: %s\n", boundary)
	} else {
		b.WriteString("\n")
	}
	b.WriteString("Tag every step with **Scope**: in-scope when the work belongs to this epic, " +
		"out-of-scope when it belongs elsewhere, or partial when it straddles the boundary. " +
		"Explain any out-of-scope or partial tag in **Scope Reason**.\n\n")
}

// OutputContract is the plan format the design parser understands
const OutputContract = `## Output Format
Respond with a plan in exactly this format:

## Overview
[2-3 sentence summary of the approach]

### Step 1: [Step Title]
**Agent**: [agent type, e.g. executor, tester, reviewer]
**Model**: haiku|sonnet|opus
**Parallel**: yes|no
**Description**: [what this step does]
**Prompt**: [the full instructions for the agent running this step]
**Expected Output**: [what the step produces]
**Scope**: in-scope|out-of-scope|partial
**Scope Reason**: [why, when not in-scope]

### Step 2: [Step Title]
[... continue for all steps ...]

## Risks
- [risk]

## Success Criteria
- [criterion]
`
