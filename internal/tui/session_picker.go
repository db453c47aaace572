package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yubzen/phonepilot/internal/agentapi"
)

var (
	pickerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("205")).
			Background(lipgloss.Color("235")).
			Padding(1, 2)
	pickerTitleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	pickerHintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	pickerSelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	pickerItemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	pickerCurrentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

const pickerMaxRows = 12

// SessionPicker lists server sessions for /sessions.
type SessionPicker struct {
	Visible  bool
	Selected int
	Sessions []agentapi.Session
	Current  string
	MaxWidth int
	offset   int
}

func NewSessionPicker() *SessionPicker {
	return &SessionPicker{Selected: -1}
}

// Open shows sessions with the current one preselected.
func (m *SessionPicker) Open(sessions []agentapi.Session, current string) {
	m.Sessions = append([]agentapi.Session(nil), sessions...)
	m.Current = current
	m.Selected = -1
	m.offset = 0
	if len(m.Sessions) > 0 {
		m.Selected = 0
	}
	for i, s := range m.Sessions {
		if s.ID == current {
			m.Selected = i
			break
		}
	}
	m.scrollToSelection()
	m.Visible = true
}

func (m *SessionPicker) Close() {
	m.Visible = false
}

func (m *SessionPicker) SetWidth(width int) {
	m.MaxWidth = width
}

func (m *SessionPicker) Move(delta int) {
	if len(m.Sessions) == 0 {
		return
	}
	m.Selected = min(max(m.Selected+delta, 0), len(m.Sessions)-1)
	m.scrollToSelection()
}

func (m *SessionPicker) scrollToSelection() {
	if m.Selected < m.offset {
		m.offset = m.Selected
	}
	if m.Selected >= m.offset+pickerMaxRows {
		m.offset = m.Selected - pickerMaxRows + 1
	}
	m.offset = max(m.offset, 0)
}

func (m *SessionPicker) SelectedSession() (agentapi.Session, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Sessions) {
		return agentapi.Session{}, false
	}
	return m.Sessions[m.Selected], true
}

func sessionLabel(s agentapi.Session) string {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = "(unnamed)"
	}
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	updated := "-"
	if !s.UpdatedAt.IsZero() {
		updated = s.UpdatedAt.Local().Format("01-02 15:04")
	}
	return fmt.Sprintf("%s  %s  %s  %s", name, id, s.AgentType.Normalize(), updated)
}

func (m *SessionPicker) contentWidth() int {
	if m.MaxWidth <= 0 {
		return 0
	}
	return max(m.MaxWidth-8, 20)
}

func (m *SessionPicker) View() string {
	if !m.Visible {
		return ""
	}
	width := m.contentWidth()

	var lines []string
	if len(m.Sessions) == 0 {
		lines = append(lines, pickerHintStyle.Render("No sessions yet. Close this and run /new."))
	}
	end := min(m.offset+pickerMaxRows, len(m.Sessions))
	for i := m.offset; i < end; i++ {
		s := m.Sessions[i]
		prefix := "  "
		style := pickerItemStyle
		if s.ID == m.Current {
			style = pickerCurrentStyle
		}
		if i == m.Selected {
			prefix = "> "
			style = pickerSelStyle
		}
		line := prefix + sessionLabel(s)
		if width > 0 {
			line = wrapWithPrefix(prefix, sessionLabel(s), width)
		}
		lines = append(lines, style.Render(line))
	}
	if hidden := len(m.Sessions) - end; hidden > 0 {
		lines = append(lines, pickerHintStyle.Render(fmt.Sprintf("  ... %d more", hidden)))
	}

	box := pickerBoxStyle
	if m.MaxWidth > 0 {
		box = box.MaxWidth(m.MaxWidth)
	}
	return box.Render(fmt.Sprintf("%s\n\n%s\n\n%s",
		pickerTitleStyle.Render("Sessions"),
		strings.Join(lines, "\n"),
		pickerHintStyle.Render("up/down: navigate  enter: switch  esc: close"),
	))
}
