// Package tui renders a live dashboard of a run from its event bus.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneActivity
	PaneProgress
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane     TaskPaneModel
	activityPane ActivityPaneModel
	progressPane ProgressPaneModel
	consentPane  ConsentPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	consent      <-chan consentMsg
	width        int
	height       int
	quitting     bool
}

// New creates a new TUI model subscribed to every event on eventBus.
// prompter may be nil when the gate never asks.
func New(eventBus *events.EventBus, prompter *Prompter) Model {
	m := Model{
		taskPane:     NewTaskPaneModel(),
		activityPane: NewActivityPaneModel(),
		progressPane: NewProgressPaneModel(),
		consentPane:  NewConsentPaneModel(),
		focusedPane:  PaneTasks,
		eventSub:     eventBus.SubscribeAll(1024),
	}
	if prompter != nil {
		m.consent = prompter.requests
	}
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), waitForConsent(m.consent))
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == KeyCtrlC {
			m.consentPane.Deny()
			m.quitting = true
			return m, tea.Quit
		}

		// The consent modal takes every key while it is open.
		if m.consentPane.Visible() {
			var cmd tea.Cmd
			m.consentPane, cmd = m.consentPane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.consentPane.Visible() {
				cmds = append(cmds, waitForConsent(m.consent))
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3 // +2 is equivalent to -1 mod 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneActivity
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneTasks:
				m.taskPane, cmd = m.taskPane.Update(msg)
			case PaneActivity:
				m.activityPane, cmd = m.activityPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case consentMsg:
		cmds = append(cmds, m.consentPane.Ask(msg))

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.TaskStartedEvent, events.TaskOutputEvent, events.TaskCompletedEvent,
		events.TaskFailedEvent, events.TaskRetriedEvent, events.TaskBlockedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.activityPane, _ = m.activityPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.RunProgressEvent, events.RunFinishedEvent:
		m.progressPane, _ = m.progressPane.Update(msg)
		m.activityPane, _ = m.activityPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.ToolExecutedEvent:
		m.activityPane, _ = m.activityPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		// The form inside the consent modal runs its own commands.
		if m.consentPane.Visible() {
			var cmd tea.Cmd
			m.consentPane, cmd = m.consentPane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.consentPane.Visible() {
				cmds = append(cmds, waitForConsent(m.consent))
			}
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.consentPane.Visible() {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.consentPane.View())
	}

	right := lipgloss.JoinVertical(lipgloss.Left, m.activityPane.View(), m.progressPane.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), right)

	return lipgloss.JoinVertical(lipgloss.Left, body, HelpView(m.progressPane.Finished()))
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 55) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar
	activityHeight := (availableHeight * 60) / 100
	progressHeight := availableHeight - activityHeight

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.activityPane.SetSize(rightWidth, activityHeight)
	m.progressPane.SetSize(rightWidth, progressHeight)
	m.consentPane.SetSize(min(m.width, 80), min(m.height, 20))

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.activityPane.SetFocused(m.focusedPane == PaneActivity)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
