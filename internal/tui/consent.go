package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/permission"
)

// consentMsg carries one permission question into the TUI.
type consentMsg struct {
	req   permission.Request
	reply chan bool
}

// Prompter forwards permission questions to a running TUI. It implements
// permission.Prompter.
type Prompter struct {
	requests chan consentMsg
}

// NewPrompter creates a prompter for use with New.
func NewPrompter() *Prompter {
	return &Prompter{requests: make(chan consentMsg)}
}

// Confirm waits for the operator to answer req in the TUI.
func (p *Prompter) Confirm(ctx context.Context, req permission.Request) (bool, error) {
	reply := make(chan bool, 1)
	select {
	case p.requests <- consentMsg{req: req, reply: reply}:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case granted := <-reply:
		return granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func waitForConsent(requests <-chan consentMsg) tea.Cmd {
	if requests == nil {
		return nil
	}
	return func() tea.Msg {
		return <-requests
	}
}

// ConsentPaneModel is the modal that asks for a permission grant.
type ConsentPaneModel struct {
	form    *huh.Form
	pending *consentMsg
	allow   *bool // Heap-allocated so the form's binding survives model copies
	width   int
	height  int
}

// NewConsentPaneModel creates a hidden consent pane.
func NewConsentPaneModel() ConsentPaneModel {
	return ConsentPaneModel{}
}

// Ask shows the modal for msg.
func (m *ConsentPaneModel) Ask(msg consentMsg) tea.Cmd {
	m.pending = &msg
	m.allow = new(bool)
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Key("allow").
				Title(fmt.Sprintf("Allow %s permission?", msg.req.Permission)).
				Description(consentDescription(msg.req)).
				Affirmative("Allow").
				Negative("Deny").
				Value(m.allow),
		),
	).WithShowHelp(false)
	if m.width > 0 {
		m.form = m.form.WithWidth(max(m.width-8, 20))
	}
	return m.form.Init()
}

func consentDescription(req permission.Request) string {
	desc := fmt.Sprintf("Tool %s requests %s access.", req.Tool, req.Permission)
	if req.Description != "" {
		desc += "\n" + req.Description
	}
	return desc + "\nThe grant lasts for the rest of this session."
}

// Visible reports whether a question is on screen.
func (m ConsentPaneModel) Visible() bool {
	return m.pending != nil
}

// Update drives the form and answers the question once it completes.
func (m ConsentPaneModel) Update(msg tea.Msg) (ConsentPaneModel, tea.Cmd) {
	if m.pending == nil {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		m.answer(false)
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.answer(*m.allow)
	case huh.StateAborted:
		m.answer(false)
	}
	return m, cmd
}

func (m *ConsentPaneModel) answer(granted bool) {
	m.pending.reply <- granted
	m.pending = nil
	m.form = nil
}

// Deny rejects the question on screen, if any.
func (m *ConsentPaneModel) Deny() {
	if m.pending != nil {
		m.answer(false)
	}
}

// View renders the modal.
func (m ConsentPaneModel) View() string {
	if m.pending == nil {
		return ""
	}

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("214")).
		Render("Permission required")

	return lipgloss.JoinVertical(lipgloss.Left, title, StyleConsent.Render(m.form.View()))
}

// SetSize updates the modal dimensions.
func (m *ConsentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form = m.form.WithWidth(max(w-8, 20))
	}
}

// ConfirmInline asks on the terminal with a standalone form. It serves as
// the prompter when no TUI is running.
func ConfirmInline(ctx context.Context, req permission.Request) (bool, error) {
	allow := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Allow %s permission?", req.Permission)).
				Description(consentDescription(req)).
				Affirmative("Allow").
				Negative("Deny").
				Value(&allow),
		),
	).WithShowHelp(false).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return allow, nil
}
