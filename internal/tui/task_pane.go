package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/mofagent/internal/events"
)

// TaskState is what the task pane knows about one task.
type TaskState struct {
	TaskID    string
	Query     string
	Phase     string
	Log       []string
	Steps     int
	StartTime time.Time
}

// TaskPaneModel shows the task list next to the selected task's log.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	taskOrder   []string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg debounces viewport refreshes.
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
			if m.selectedIdx < len(m.taskOrder)-1 {
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

	case events.TaskSubmittedEvent:
		t := m.track(msg.ID, msg.Timestamp)
		t.Query = msg.Query
		cmd = m.appendLog(t, fmt.Sprintf("query: %s", msg.Query), fmt.Sprintf("files: %s", strings.Join(msg.Files, ", ")))

	case events.TaskPhaseEvent:
		t := m.track(msg.ID, msg.Timestamp)
		t.Phase = msg.Phase
		line := fmt.Sprintf("[%s] %s", msg.Phase, msg.Details)
		if msg.Err != "" {
			line += "\n  " + msg.Err
		}
		if msg.Phase == "completed" || msg.Phase == "failed" {
			line += fmt.Sprintf("\n  (%s)", msg.Timestamp.Sub(t.StartTime).Round(time.Millisecond))
		}
		cmd = m.appendLog(t, line)

	case events.StepStartedEvent:
		t := m.track(msg.ID, msg.Timestamp)
		cmd = m.appendLog(t, fmt.Sprintf("  step %d: %s ...", msg.Index, msg.ToolName))

	case events.StepFinishedEvent:
		t := m.track(msg.ID, msg.Timestamp)
		t.Steps++
		line := fmt.Sprintf("  step %d: %s %s in %s", msg.Index, msg.ToolName, msg.Status, msg.Elapsed.Round(time.Millisecond))
		if msg.Err != "" {
			line += ": " + msg.Err
		}
		cmd = m.appendLog(t, line)

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// track returns the state for id, adding the task on first sight.
func (m *TaskPaneModel) track(id string, at time.Time) *TaskState {
	if t, ok := m.tasks[id]; ok {
		return t
	}
	t := &TaskState{TaskID: id, Phase: "created", StartTime: at}
	m.tasks[id] = t
	m.taskOrder = append(m.taskOrder, id)
	if len(m.taskOrder) == 1 {
		m.selectedIdx = 0
		m.updateViewportContent()
	}
	return t
}

// appendLog adds lines to a task's log and schedules a refresh when that
// task is on screen.
func (m *TaskPaneModel) appendLog(t *TaskState, lines ...string) tea.Cmd {
	t.Log = append(t.Log, lines...)
	if m.SelectedTaskID() != t.TaskID {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 24
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

	if len(m.taskOrder) == 0 {
		b.WriteString(StylePhaseQueued.Render("Waiting..."))
	}
	for i, id := range m.taskOrder {
		t := m.tasks[id]
		label := id
		if len(label) > 8 {
			label = label[:8]
		}
		line := fmt.Sprintf("%s %s %s", PhaseIcon(t.Phase), label, t.Phase)
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

// PhaseIcon returns a styled indicator for a task phase.
func PhaseIcon(phase string) string {
	switch phase {
	case "planning", "executing":
		return StylePhaseActive.Render("●")
	case "completed":
		return StylePhaseCompleted.Render("✓")
	case "failed":
		return StylePhaseFailed.Render("✗")
	default:
		return StylePhaseQueued.Render("○")
	}
}

// SelectedTaskID returns the id of the highlighted task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Task returns the tracked state for id.
func (m TaskPaneModel) Task(id string) (*TaskState, bool) {
	t, ok := m.tasks[id]
	return t, ok
}

func (m *TaskPaneModel) updateViewportContent() {
	t, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(t.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-24-4, 10)
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
