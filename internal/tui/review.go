// Package tui provides terminal user interface components for Foreman
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cloud-shuttle/foreman/internal/display"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// ReviewActions are the operations a reviewer can take on a design
type ReviewActions interface {
	ApproveDesign(taskID string) (*types.Pipeline, error)
	AcceptScopeSplit(taskID string) (*types.Epic, *types.Task, error)
}

// TaskLoader reloads a task after an action changed it
type TaskLoader interface {
	GetTask(taskID string) (*types.Task, error)
}

// DesignReview is a terminal UI for reviewing, splitting and approving
// task designs
type DesignReview struct {
	tasks    []*types.Task
	selected int
	view     viewState
	details  *types.Task
	notice   string
	err      error
	quitting bool
	actions  ReviewActions
	loader   TaskLoader
}

type viewState int

const (
	viewList viewState = iota
	viewDetails
)

// PendingReview returns the tasks whose design is complete but not yet
// turned into a pipeline
func PendingReview(tasks []*types.Task) []*types.Task {
	var out []*types.Task
	for _, t := range tasks {
		if t.DesignStatus == types.ProcessCompleted && t.DesignResult != nil && t.PipelineID == "" {
			out = append(out, t)
		}
	}
	return out
}

// NewDesignReview creates a design review model
func NewDesignReview(tasks []*types.Task, actions ReviewActions, loader TaskLoader) *DesignReview {
	return &DesignReview{
		tasks:   tasks,
		actions: actions,
		loader:  loader,
		view:    viewList,
	}
}

// Run starts the review program and blocks until the user quits
func Run(m *DesignReview) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init initializes the model
func (m *DesignReview) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m *DesignReview) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case approvedMsg:
		m.remove(msg.taskID)
		m.notice = fmt.Sprintf("Pipeline %s created for %s", msg.pipelineID, msg.taskID)
	case splitMsg:
		m.replace(msg.task)
		m.details = msg.task
		m.notice = fmt.Sprintf("Created epic %s with backlog task %s", msg.epic.ID, msg.newTaskID)
	case errorMsg:
		m.err = msg
	}
	return m, nil
}

func (m *DesignReview) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil

	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.view == viewList && m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.view == viewList && m.selected < len(m.tasks)-1 {
			m.selected++
		}

	case "enter":
		if m.view == viewList && len(m.tasks) > 0 {
			m.view = viewDetails
			m.details = m.tasks[m.selected]
			m.notice = ""
		}

	case "esc":
		if m.view == viewDetails {
			m.view = viewList
			m.details = nil
		}

	case "a":
		if m.view == viewDetails && m.details != nil {
			return m, approve(m.details.ID, m.actions)
		}

	case "s":
		if m.view == viewDetails && m.details != nil && m.details.DesignResult.ScopeAnalysis != nil {
			return m, split(m.details.ID, m.actions, m.loader)
		}
	}

	return m, nil
}

func (m *DesignReview) remove(taskID string) {
	for i, t := range m.tasks {
		if t.ID == taskID {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			break
		}
	}
	if m.selected >= len(m.tasks) && len(m.tasks) > 0 {
		m.selected = len(m.tasks) - 1
	}
	m.view = viewList
	m.details = nil
}

func (m *DesignReview) replace(task *types.Task) {
	for i, t := range m.tasks {
		if t.ID == task.ID {
			m.tasks[i] = task
			return
		}
	}
}

// View renders the UI
func (m *DesignReview) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	switch m.view {
	case viewDetails:
		m.renderDetails(&b)
	default:
		m.renderList(&b)
	}

	if m.notice != "" {
		b.WriteString("\n" + noticeStyle.Render(m.notice) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render(m.err.Error()) + "\n")
	}
	return b.String()
}

func (m *DesignReview) renderList(b *strings.Builder) {
	b.WriteString(titleStyle.Render("Foreman Design Review") + "\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(dimStyle.Render("No designs pending review.") + "\n\n")
		b.WriteString(helpStyle.Render("Press q to quit") + "\n")
		return
	}

	for i, task := range m.tasks {
		line := task.ID + ": " + task.Title
		if len(line) > 60 {
			line = line[:57] + "..."
		}
		steps := fmt.Sprintf("%d steps", len(task.DesignResult.Steps))
		if task.DesignResult.ScopeAnalysis != nil {
			steps += ", split proposed"
		}

		if i == m.selected {
			b.WriteString(selectedStyle.Render("→ "+line) + " " + dimStyle.Render(steps) + "\n")
		} else {
			b.WriteString(normalStyle.Render("  "+line) + " " + dimStyle.Render(steps) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/k ↓/j navigate · enter view design · q quit") + "\n")
}

func (m *DesignReview) renderDetails(b *strings.Builder) {
	if m.details == nil {
		m.renderList(b)
		return
	}

	b.WriteString(titleStyle.Render(m.details.ID+": "+m.details.Title) + "\n\n")
	b.WriteString(display.Design(m.details.DesignResult))
	b.WriteString("\n")

	help := "a approve · esc back · q quit"
	if m.details.DesignResult.ScopeAnalysis != nil {
		help = "a approve · s split out-of-scope steps · esc back · q quit"
	}
	b.WriteString(helpStyle.Render(help) + "\n")
}

type approvedMsg struct {
	taskID     string
	pipelineID string
}

type splitMsg struct {
	task      *types.Task
	epic      *types.Epic
	newTaskID string
}

type errorMsg error

func approve(taskID string, actions ReviewActions) tea.Cmd {
	return func() tea.Msg {
		p, err := actions.ApproveDesign(taskID)
		if err != nil {
			return errorMsg(fmt.Errorf("approving design: %w", err))
		}
		return approvedMsg{taskID: taskID, pipelineID: p.ID}
	}
}

func split(taskID string, actions ReviewActions, loader TaskLoader) tea.Cmd {
	return func() tea.Msg {
		epic, created, err := actions.AcceptScopeSplit(taskID)
		if err != nil {
			return errorMsg(fmt.Errorf("splitting scope: %w", err))
		}
		task, err := loader.GetTask(taskID)
		if err != nil {
			return errorMsg(err)
		}
		return splitMsg{task: task, epic: epic, newTaskID: created.ID}
	}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226")).Background(lipgloss.Color("235"))
	dimStyle      = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("245"))
	helpStyle     = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("243"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)
