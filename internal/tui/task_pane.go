package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/events"
)

// Task display states.
const (
	StateRunning  = "running"
	StateRetrying = "retrying"
	StateDone     = "done"
	StateFailed   = "failed"
	StateBlocked  = "blocked"
)

const listWidth = 28

// TaskState is what the pane knows about one task.
type TaskState struct {
	Index     int
	AgentType string
	Status    string
	Attempt   int
	Output    []string
	Duration  time.Duration
}

// TaskPaneModel shows the task list and the selected task's output.
type TaskPaneModel struct {
	tasks       map[int]*TaskState
	order       []int // task indices, sorted
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[int]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		task := m.track(msg.Index, msg.AgentType)
		task.Status = StateRunning
		task.Attempt = msg.Attempt
		if msg.Attempt > 1 {
			task.Output = append(task.Output, fmt.Sprintf("[Attempt %d, timeout %s]", msg.Attempt, msg.Timeout))
		}
		m.refreshIfSelected(msg.Index)

	case events.TaskOutputEvent:
		task := m.track(msg.Index, "")
		task.Output = append(task.Output, msg.Line)
		if m.selectedTask() == msg.Index {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case events.TaskCompletedEvent:
		task := m.track(msg.Index, "")
		task.Status = StateDone
		task.Duration = msg.Duration
		task.Output = append(task.Output, fmt.Sprintf("\n[Completed in %v]", msg.Duration.Round(time.Millisecond)))
		m.refreshIfSelected(msg.Index)

	case events.TaskFailedEvent:
		task := m.track(msg.Index, "")
		task.Duration = msg.Duration
		if msg.WillRetry {
			task.Status = StateRetrying
			task.Output = append(task.Output, fmt.Sprintf("\n[Failed, retrying: %v]", msg.Err))
		} else {
			task.Status = StateFailed
			task.Output = append(task.Output, fmt.Sprintf("\n[Failed: %v]", msg.Err))
		}
		m.refreshIfSelected(msg.Index)

	case events.TaskBlockedEvent:
		task := m.track(msg.Index, "")
		task.Status = StateBlocked
		if msg.Dependency >= 0 {
			task.Output = append(task.Output, fmt.Sprintf("[Blocked by failed task %d]", msg.Dependency))
		} else {
			task.Output = append(task.Output, "[Never became ready]")
		}
		m.refreshIfSelected(msg.Index)

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// track returns the state for index, creating it on first sight.
func (m *TaskPaneModel) track(index int, agentType string) *TaskState {
	task, ok := m.tasks[index]
	if !ok {
		selected := m.selectedTask()
		task = &TaskState{Index: index, Output: make([]string, 0)}
		m.tasks[index] = task
		m.order = append(m.order, index)
		sort.Ints(m.order)
		if len(m.order) == 1 {
			m.selectedIdx = 0
		} else {
			m.selectedIdx = m.position(selected)
		}
	}
	if agentType != "" {
		task.AgentType = agentType
	}
	return task
}

func (m TaskPaneModel) position(index int) int {
	for i, idx := range m.order {
		if idx == index {
			return i
		}
	}
	return 0
}

func (m *TaskPaneModel) refreshIfSelected(index int) {
	if m.selectedTask() == index {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, index := range m.order {
		task := m.tasks[index]
		label := fmt.Sprintf("#%d %s", task.Index, task.AgentType)
		if len(label) > width-4 {
			label = label[:width-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(task.Status), label)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StateRunning:
		return StyleStatusRunning.Render("●")
	case StateRetrying:
		return StyleStatusRunning.Render("↻")
	case StateDone:
		return StyleStatusComplete.Render("✓")
	case StateFailed:
		return StyleStatusFailed.Render("✗")
	case StateBlocked:
		return StyleStatusBlocked.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

// selectedTask returns the selected task index, or -1.
func (m TaskPaneModel) selectedTask() int {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return -1
}

// Task returns the state of task index.
func (m TaskPaneModel) Task(index int) (TaskState, bool) {
	task, ok := m.tasks[index]
	if !ok {
		return TaskState{}, false
	}
	return *task, true
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.selectedTask()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(task.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
