// Package tui is a terminal dashboard that follows tasks through the event
// bus while the server runs.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/mofagent/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneSummary
	paneCount
)

// Model is the root Bubble Tea model.
type Model struct {
	taskPane    TaskPaneModel
	summaryPane SummaryPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	title       string
	width       int
	height      int
	quitting    bool
}

// New subscribes to every event on the bus. title is shown in the header,
// typically the listen address.
func New(eventBus *events.EventBus, title string) Model {
	m := Model{
		taskPane:    NewTaskPaneModel(),
		summaryPane: NewSummaryPaneModel(),
		focusedPane: PaneTasks,
		eventSub:    eventBus.SubscribeAll(256),
		title:       title,
	}
	m.updateFocusStates()
	return m
}

// Init starts listening for events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// busClosedMsg is delivered once the event bus has been closed.
type busClosedMsg struct{}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()
		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()
		case KeyPane2:
			m.focusedPane = PaneSummary
			m.updateFocusStates()
		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.Event:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.summaryPane, _ = m.summaryPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		// Nothing more will arrive; keep showing the last state.
	}

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	header := StyleTitle.Render("MOF agent " + m.title)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.summaryPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, body, HelpView())
}

// computeLayout gives the task pane 65% of the width below a one-line
// header and above the help bar.
func (m *Model) computeLayout() {
	leftWidth := m.width * 65 / 100
	availableHeight := m.height - 2

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.summaryPane.SetSize(m.width-leftWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.summaryPane.SetFocused(m.focusedPane == PaneSummary)
}
