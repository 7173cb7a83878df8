package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/events"
)

// ProgressPaneModel shows run-wide task counts.
type ProgressPaneModel struct {
	total      int
	done       int
	inProgress int
	failed     int
	pending    int
	finished   bool
	duration   time.Duration
	width      int
	height     int
	focused    bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.RunProgressEvent:
		m.total = msg.Total
		m.done = msg.Done
		m.inProgress = msg.InProgress
		m.failed = msg.Failed
		m.pending = msg.Pending

	case events.RunFinishedEvent:
		m.finished = true
		m.duration = msg.Duration
		m.done = msg.Done
		m.failed = msg.Failed
		m.inProgress = 0
		m.pending = 0
	}

	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:       %d\n", m.total)
	fmt.Fprintf(&b, "Done:        %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.done)))
	fmt.Fprintf(&b, "In progress: %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.inProgress)))
	fmt.Fprintf(&b, "Failed:      %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed)))
	fmt.Fprintf(&b, "Pending:     %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		b.WriteString(m.bar(min(m.width-16, 40)))
		b.WriteString("\n")
	}
	if m.finished {
		fmt.Fprintf(&b, "\nFinished in %s\n", m.duration.Round(time.Millisecond))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m ProgressPaneModel) bar(width int) string {
	width = max(width, 10)
	doneWidth := (m.done * width) / m.total
	failedWidth := (m.failed * width) / m.total
	runningWidth := (m.inProgress * width) / m.total
	pendingWidth := width - doneWidth - failedWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, doneWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

	return fmt.Sprintf("[%s]  %d/%d", bar, m.done+m.failed, m.total)
}

// Finished reports whether the run has ended.
func (m ProgressPaneModel) Finished() bool {
	return m.finished
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
