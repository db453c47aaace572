package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	takeoverModalBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("220")).
				Background(lipgloss.Color("235")).
				Padding(1, 2)
	takeoverModalTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	takeoverModalHintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	takeoverModalBodyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

type TakeoverAction struct {
	Acknowledged bool
	Dismissed    bool
}

// TakeoverModal asks the user to act on the device. Dismissing it leaves
// the takeover pending; the chat banner keeps showing it.
type TakeoverModal struct {
	Visible bool
	Message string
	// shown remembers the message already presented so a dismissed modal
	// does not reopen on every redraw.
	shown string
	width int
}

func NewTakeoverModal() *TakeoverModal {
	return &TakeoverModal{}
}

func (m *TakeoverModal) SetWidth(width int) {
	if m == nil || width <= 0 {
		return
	}
	m.width = width
}

// Open shows message unless the same takeover was already shown.
func (m *TakeoverModal) Open(message string) {
	if m == nil {
		return
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "Manual action needed on the device"
	}
	if m.shown == message {
		return
	}
	m.Visible = true
	m.Message = message
	m.shown = message
}

// Reset forgets the shown takeover; the next Open always displays.
func (m *TakeoverModal) Reset() {
	if m == nil {
		return
	}
	m.Visible = false
	m.Message = ""
	m.shown = ""
}

func (m *TakeoverModal) Close() {
	if m == nil {
		return
	}
	m.Visible = false
}

func (m *TakeoverModal) Update(msg tea.Msg) TakeoverAction {
	if m == nil || !m.Visible {
		return TakeoverAction{}
	}
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return TakeoverAction{}
	}
	switch key.String() {
	case "enter", "ctrl+t", "d":
		return TakeoverAction{Acknowledged: true}
	case "esc", "l":
		return TakeoverAction{Dismissed: true}
	}
	return TakeoverAction{}
}

func (m *TakeoverModal) View() string {
	if m == nil || !m.Visible {
		return ""
	}
	width := 60
	if m.width > 0 {
		width = min(max(m.width-12, 24), 80)
	}
	title := takeoverModalTitleStyle.Render("Manual takeover")
	body := takeoverModalBodyStyle.Render(wrapToWidth(m.Message, width))
	help := wrapToWidth("Do this on the device yourself. The agent waits until you are done.", width)
	hint := takeoverModalHintStyle.Render("enter/d: done, agent continues  esc/l: later")
	return takeoverModalBoxStyle.Render(fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s", title, body, takeoverModalHintStyle.Render(help), hint))
}
