package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/mofagent/internal/events"
)

// SummaryPaneModel shows aggregate task and step counts.
type SummaryPaneModel struct {
	phases      map[string]string // task id -> latest phase
	stepsOK     int
	stepsFailed int
	stepTime    time.Duration
	width       int
	height      int
	focused     bool
}

// NewSummaryPaneModel creates an empty summary pane.
func NewSummaryPaneModel() SummaryPaneModel {
	return SummaryPaneModel{phases: make(map[string]string)}
}

// Update handles messages for the summary pane.
func (m SummaryPaneModel) Update(msg tea.Msg) (SummaryPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.TaskSubmittedEvent:
		if _, ok := m.phases[msg.ID]; !ok {
			m.phases[msg.ID] = "created"
		}
	case events.TaskPhaseEvent:
		m.phases[msg.ID] = msg.Phase
	case events.StepFinishedEvent:
		if msg.Status == "success" {
			m.stepsOK++
		} else {
			m.stepsFailed++
		}
		m.stepTime += msg.Elapsed
	}
	return m, nil
}

// Counts returns the number of tasks per phase.
func (m SummaryPaneModel) Counts() map[string]int {
	counts := make(map[string]int)
	for _, phase := range m.phases {
		counts[phase]++
	}
	return counts
}

// View renders the summary pane.
func (m SummaryPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	counts := m.Counts()
	total := len(m.phases)
	active := counts["planning"] + counts["executing"]
	done := counts["completed"] + counts["failed"]

	var b strings.Builder
	title := StyleTitle.Render("Summary")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Tasks:     %d\n", total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StylePhaseCompleted.Render(fmt.Sprint(counts["completed"]))))
	b.WriteString(fmt.Sprintf("Active:    %s\n", StylePhaseActive.Render(fmt.Sprint(active))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StylePhaseFailed.Render(fmt.Sprint(counts["failed"]))))
	b.WriteString(fmt.Sprintf("Queued:    %s\n", StylePhaseQueued.Render(fmt.Sprint(counts["created"]))))
	b.WriteString(fmt.Sprintf("Steps:     %d ok, %d failed", m.stepsOK, m.stepsFailed))
	if n := m.stepsOK + m.stepsFailed; n > 0 {
		b.WriteString(fmt.Sprintf(" (avg %s)", (m.stepTime / time.Duration(n)).Round(time.Millisecond)))
	}
	b.WriteString("\n\n")

	if total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := counts["completed"] * barWidth / total
		failedWidth := counts["failed"] * barWidth / total
		activeWidth := active * barWidth / total
		pendingWidth := barWidth - completedWidth - failedWidth - activeWidth

		bar := StylePhaseCompleted.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StylePhaseFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StylePhaseActive.Render(strings.Repeat("-", max(0, activeWidth)))
		bar += StylePhaseQueued.Render(strings.Repeat(".", max(0, pendingWidth)))
		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, done, total))
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

// SetSize updates the pane dimensions.
func (m *SummaryPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *SummaryPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
