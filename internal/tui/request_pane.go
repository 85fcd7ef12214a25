package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/netqueue/internal/events"
)

// RequestState is the display state of one logical request across attempts.
type RequestState struct {
	RequestID  string
	TaskID     string
	Name       string
	Method     string
	URL        string
	Priority   string
	Status     string // "queued", "running", "retrying", "completed", "failed", "cancelled"
	Attempt    int
	Fraction   float64
	StatusCode int
	Log        []string
	Submitted  time.Time
	Duration   time.Duration
}

// RequestPaneModel is the request list plus a detail viewport for the
// selected request.
type RequestPaneModel struct {
	requests    map[string]*RequestState // requestID -> state
	order       []string                 // submission order for display
	selectedIdx int
	viewport    viewport.Model
	bar         progress.Model
	width       int
	height      int
	focused     bool
}

const listWidth = 32

// NewRequestPaneModel creates a new request pane model.
func NewRequestPaneModel() RequestPaneModel {
	return RequestPaneModel{
		requests: make(map[string]*RequestState),
		viewport: viewport.New(0, 0),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Update handles messages for the request pane.
func (m RequestPaneModel) Update(msg tea.Msg) (RequestPaneModel, tea.Cmd) {
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
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case events.TaskSubmittedEvent:
		r, exists := m.requests[msg.RequestID]
		if !exists {
			r = &RequestState{
				RequestID: msg.RequestID,
				Name:      msg.Name,
				Method:    msg.Method,
				URL:       msg.URL,
				Priority:  msg.Priority,
				Submitted: msg.Timestamp,
			}
			m.requests[msg.RequestID] = r
			m.order = append(m.order, msg.RequestID)
		}
		r.TaskID = msg.ID
		r.Status = "queued"
		r.Attempt = msg.Attempt
		r.Fraction = 0
		line := fmt.Sprintf("attempt %d queued", msg.Attempt)
		if len(msg.DependsOn) > 0 {
			line += fmt.Sprintf(" behind %d task(s)", len(msg.DependsOn))
		}
		r.Log = append(r.Log, line)

	case events.TaskMergedEvent:
		if r, ok := m.requests[msg.RequestID]; ok {
			r.Log = append(r.Log, "merged duplicate "+msg.MergedRequestID)
		}

	case events.TaskStartedEvent:
		if r, ok := m.requests[msg.RequestID]; ok {
			r.Status = "running"
			r.Attempt = msg.Attempt
			r.Fraction = 0
			r.Log = append(r.Log, fmt.Sprintf("attempt %d started", msg.Attempt))
		}

	case events.TaskProgressEvent:
		if r, ok := m.requests[msg.RequestID]; ok {
			r.Fraction = msg.Fraction
		}

	case events.TaskRetryingEvent:
		if r, ok := m.requests[msg.RequestID]; ok {
			r.Status = "retrying"
			r.Log = append(r.Log, fmt.Sprintf("attempt %d failed: %v, retrying in %v", msg.Attempt, msg.Err, msg.Backoff.Round(time.Millisecond)))
		}

	case events.TaskCompletedEvent:
		if r, ok := m.requests[msg.RequestID]; ok {
			r.Status = "completed"
			r.Fraction = 1
			r.StatusCode = msg.StatusCode
			r.Duration = msg.Duration
			r.Log = append(r.Log, fmt.Sprintf("[Completed with %d after %d attempt(s) in %v]", msg.StatusCode, msg.Attempts, msg.Duration.Round(time.Millisecond)))
		}

	case events.TaskFailedEvent:
		if r, ok := m.requests[msg.RequestID]; ok {
			r.Status = "failed"
			r.StatusCode = msg.StatusCode
			r.Duration = msg.Duration
			r.Log = append(r.Log, fmt.Sprintf("[Failed after %d attempt(s): %v]", msg.Attempts, msg.Err))
		}

	case events.TaskCancelledEvent:
		if r, ok := m.requests[msg.RequestID]; ok {
			r.Status = "cancelled"
			r.Log = append(r.Log, "[Cancelled]")
		}

	default:
		return m, nil
	}

	m.updateViewportContent()
	return m, cmd
}

// View renders the request pane.
func (m RequestPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	detailWidth := m.width - listWidth - 4
	detail := lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(detailWidth), m.viewport.View())

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(detailWidth).
			Height(m.height-2).
			Render(detail),
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

func (m RequestPaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Requests")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(statusText("queued", "Waiting..."))
	}
	for i, id := range m.order {
		r := m.requests[id]
		name := r.Name
		if len(name) > listWidth-4 {
			name = name[:listWidth-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(r.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

func (m RequestPaneModel) renderHeader(width int) string {
	r := m.selected()
	if r == nil {
		return ""
	}
	bar := m.bar
	bar.Width = max(width-2, 10)
	return fmt.Sprintf("%s %s\npriority %s | attempt %d | %s\n%s\n",
		r.Method, r.URL, r.Priority, r.Attempt, r.Status, bar.ViewAs(r.Fraction))
}

func (m RequestPaneModel) selected() *RequestState {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.requests[m.order[m.selectedIdx]]
	}
	return nil
}

// Request returns the display state for a request ID.
func (m RequestPaneModel) Request(id string) (RequestState, bool) {
	r, ok := m.requests[id]
	if !ok {
		return RequestState{}, false
	}
	return *r, true
}

func (m *RequestPaneModel) updateViewportContent() {
	r := m.selected()
	if r == nil {
		m.viewport.SetContent("Waiting for requests...")
		return
	}
	m.viewport.SetContent(strings.Join(r.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *RequestPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-8, 3) // borders plus the detail header
}

// SetSize updates the pane dimensions.
func (m *RequestPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *RequestPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
