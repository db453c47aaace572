package config

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	itemStyle  = lipgloss.NewStyle().PaddingLeft(2)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

type FormModel struct {
	cfg  *Config
	path string
}

func NewFormModel(cfg *Config, path string) *FormModel {
	return &FormModel{cfg: cfg, path: path}
}

func (m *FormModel) Init() tea.Cmd {
	return nil
}

func (m *FormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *FormModel) View() string {
	s := titleStyle.Render("phonepilot configuration") + "\n\n"
	s += itemStyle.Render(fmt.Sprintf("File: %s", m.path)) + "\n\n"
	s += itemStyle.Render(fmt.Sprintf("Server URL: %s", m.cfg.Server.BaseURL)) + "\n"
	s += itemStyle.Render(fmt.Sprintf("Request timeout: %ds", m.cfg.Server.RequestTimeoutSeconds)) + "\n"
	s += itemStyle.Render(fmt.Sprintf("Default agent: %s", m.cfg.Agent.DefaultType)) + "\n"
	s += itemStyle.Render(fmt.Sprintf("Log level: %s (%s) -> %s", m.cfg.Logging.Level, m.cfg.Logging.Format, m.cfg.Logging.OutputPath)) + "\n"
	s += itemStyle.Render(fmt.Sprintf("State DB: %s", m.cfg.State.DBPath)) + "\n"
	s += itemStyle.Render(fmt.Sprintf("Show thinking: %t", m.cfg.UI.ShowThinking)) + "\n"
	s += "\n" + hintStyle.Render("Edit the file to change values. Press 'q' or 'esc' to quit.") + "\n"
	return lipgloss.NewStyle().Padding(1, 2).Render(s)
}

func RunConfigForm(cfg *Config, path string) error {
	p := tea.NewProgram(NewFormModel(cfg, path))
	_, err := p.Run()
	return err
}
