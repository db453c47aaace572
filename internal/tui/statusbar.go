package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yubzen/phonepilot/internal/task"
)

var (
	sbBaseStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("235")).Padding(0, 1)
	sbSessionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	sbAgentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	sbIdleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	sbBusyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	sbAlertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	sbHintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

const sessionLabelWidth = 24

type StatusBarModel struct {
	Session   string
	Agent     string
	Phase     task.Phase
	Outcome   task.Phase
	Connected bool
	Takeover  bool
	Hint      string
	width     int
}

func NewStatusBarModel() *StatusBarModel {
	return &StatusBarModel{
		Session: "(none)",
		Agent:   "glm",
	}
}

func (m *StatusBarModel) Init() tea.Cmd { return nil }

func (m *StatusBarModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m, nil
}

func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

func (m *StatusBarModel) SetHint(hint string) {
	m.Hint = strings.TrimSpace(hint)
}

// Sync copies what the bar shows from a controller snapshot.
func (m *StatusBarModel) Sync(snap task.Snapshot) {
	m.Session = "(none)"
	if snap.SessionID != "" {
		m.Session = snap.SessionID
		if snap.Session != nil {
			m.Session = snap.Session.DisplayName()
		}
	}
	m.Agent = string(snap.Agent)
	m.Phase = snap.Phase
	m.Outcome = snap.LastOutcome
	m.Connected = snap.Connected
	m.Takeover = snap.Takeover.Active
}

func (m *StatusBarModel) phaseView() string {
	switch {
	case m.Takeover:
		return sbAlertStyle.Render("[TAKEOVER]")
	case m.Phase == task.PhaseRunning && !m.Connected:
		return sbBusyStyle.Render("[CONNECTING]")
	case m.Phase == task.PhaseRunning:
		return sbBusyStyle.Render("[RUNNING]")
	case m.Outcome == task.PhaseErrored:
		return sbAlertStyle.Render("[IDLE: last run failed]")
	}
	return sbIdleStyle.Render("[IDLE]")
}

func (m *StatusBarModel) View() string {
	session := truncateLeft(m.Session, sessionLabelWidth)
	parts := []string{
		sbSessionStyle.Render(fmt.Sprintf("[SESSION: %s]", session)),
		sbAgentStyle.Render(fmt.Sprintf("[AGENT: %s]", strings.ToUpper(m.Agent))),
		m.phaseView(),
	}
	if m.Hint != "" {
		parts = append(parts, sbHintStyle.Render(m.Hint))
	}
	return sbBaseStyle.Width(m.width).Render(strings.Join(parts, " | "))
}
