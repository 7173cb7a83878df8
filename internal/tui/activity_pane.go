package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/events"
)

const maxActivityLines = 500

// ActivityPaneModel is a scrolling log of tool calls and task transitions.
type ActivityPaneModel struct {
	lines    []string
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewActivityPaneModel creates a new activity pane model.
func NewActivityPaneModel() ActivityPaneModel {
	return ActivityPaneModel{viewport: viewport.New(0, 0)}
}

// Update handles messages for the activity pane.
func (m ActivityPaneModel) Update(msg tea.Msg) (ActivityPaneModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		if !m.focused {
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(key)
		return m, cmd
	}

	if event, ok := msg.(events.Event); ok {
		if line := describeActivity(event); line != "" {
			m.append(line)
		}
	}
	return m, nil
}

func (m *ActivityPaneModel) append(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxActivityLines {
		m.lines = m.lines[len(m.lines)-maxActivityLines:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// Lines returns the recorded activity, oldest first.
func (m ActivityPaneModel) Lines() []string {
	return m.lines
}

func describeActivity(event events.Event) string {
	switch e := event.(type) {
	case events.ToolExecutedEvent:
		if e.OK {
			return fmt.Sprintf("%s #%d %s %s", StyleStatusComplete.Render("✓"), e.Index, e.AgentType, e.Tool)
		}
		return fmt.Sprintf("%s #%d %s %s: %s (%s)", StyleStatusFailed.Render("✗"), e.Index, e.AgentType, e.Tool, e.Error, e.Kind)
	case events.TaskStartedEvent:
		return fmt.Sprintf("▶ #%d %s started (attempt %d)", e.Index, e.AgentType, e.Attempt)
	case events.TaskCompletedEvent:
		return fmt.Sprintf("■ #%d done in %s", e.Index, e.Duration.Round(time.Millisecond))
	case events.TaskFailedEvent:
		if e.WillRetry {
			return fmt.Sprintf("↻ #%d failed, will retry: %s", e.Index, e.Err)
		}
		return fmt.Sprintf("%s #%d failed: %s", StyleStatusFailed.Render("✗"), e.Index, e.Err)
	case events.TaskRetriedEvent:
		return fmt.Sprintf("↻ #%d requeued with timeout %s", e.Index, e.Timeout)
	case events.TaskBlockedEvent:
		if e.Dependency < 0 {
			return fmt.Sprintf("⊘ #%d never became ready", e.Index)
		}
		return fmt.Sprintf("⊘ #%d blocked by #%d", e.Index, e.Dependency)
	case events.RunFinishedEvent:
		return fmt.Sprintf("run finished: %d done, %d failed", e.Done, e.Failed)
	default:
		return ""
	}
}

// View renders the activity pane.
func (m ActivityPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	title := StyleTitle.Render("Activity")
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.viewport.View())

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *ActivityPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = max(h-3, 3)
}

// SetFocused updates the focus state.
func (m *ActivityPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
