package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/netqueue/internal/events"
)

// QueuePaneModel shows aggregate queue progress.
type QueuePaneModel struct {
	progress events.QueueProgressEvent
	bar      progress.Model
	width    int
	height   int
	focused  bool
}

// NewQueuePaneModel creates a new queue pane model.
func NewQueuePaneModel() QueuePaneModel {
	return QueuePaneModel{bar: progress.New(progress.WithDefaultGradient())}
}

// Update handles messages for the queue pane.
func (m QueuePaneModel) Update(msg tea.Msg) (QueuePaneModel, tea.Cmd) {
	if p, ok := msg.(events.QueueProgressEvent); ok {
		m.progress = p
	}
	return m, nil
}

// Done returns the fraction of submitted requests that reached a final state.
func (m QueuePaneModel) Done() float64 {
	p := m.progress
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed+p.Failed+p.Cancelled) / float64(p.Total)
}

// View renders the queue pane.
func (m QueuePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Queue")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	p := m.progress
	b.WriteString(fmt.Sprintf("Total:     %d\n", p.Total))
	rows := []struct {
		label  string
		status string
		n      int
	}{
		{"Completed", "completed", p.Completed},
		{"Running", "running", p.Running},
		{"Pending", "queued", p.Pending},
		{"Failed", "failed", p.Failed},
		{"Cancelled", "cancelled", p.Cancelled},
	}
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("%-10s %s\n", r.label+":", statusText(r.status, fmt.Sprint(r.n))))
	}
	b.WriteString("\n")

	if p.Total > 0 {
		bar := m.bar
		bar.Width = min(m.width-6, 60)
		b.WriteString(bar.ViewAs(m.Done()))
		b.WriteString("\n")
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
func (m *QueuePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *QueuePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
