// Package tui is the interactive phonepilot client: one session timeline,
// an input line with slash commands and overlays for takeovers and the
// session picker.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/config"
	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/state"
	"github.com/yubzen/phonepilot/internal/task"
	"github.com/yubzen/phonepilot/internal/timeline"
)

var (
	appStyle = lipgloss.NewStyle().Margin(0, 0)
)

// SessionLister backs the /sessions picker.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]agentapi.Session, error)
}

// InputHistory stores submitted input per session.
type InputHistory interface {
	GetSessionInputHistory(ctx context.Context, sessionID string) ([]string, error)
	AppendSessionInputHistory(ctx context.Context, sessionID, content string) error
}

type Options struct {
	Config *config.Config
	// ConfigPath is watched for live reloads when set.
	ConfigPath string
	Controller *task.Controller
	Sessions   SessionLister
	History    InputHistory
	Logger     *logger.Logger
	// SessionID is selected on start.
	SessionID string
}

type controllerChangedMsg struct{}

type configReloadedMsg struct {
	cfg *config.Config
	err error
}

type AppModel struct {
	cfg            *config.Config
	configPath     string
	ctrl           *task.Controller
	sessions       SessionLister
	history        InputHistory
	logger         *logger.Logger
	initialSession string

	chat          *ChatModel
	statusbar     *StatusBarModel
	takeoverModal *TakeoverModal
	picker        *SessionPicker
	snap          task.Snapshot

	inputHistory      []string
	inputHistoryIndex int
	inputDraft        string
	historyBrowsing   bool
	historySession    string

	reloads     chan configReloadedMsg
	watchCancel context.CancelFunc

	width  int
	height int
}

func NewAppModel(opts Options) *AppModel {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	m := &AppModel{
		cfg:            cfg,
		configPath:     strings.TrimSpace(opts.ConfigPath),
		ctrl:           opts.Controller,
		sessions:       opts.Sessions,
		history:        opts.History,
		logger:         log.WithComponent("tui"),
		initialSession: strings.TrimSpace(opts.SessionID),
		chat:           NewChatModel(),
		statusbar:      NewStatusBarModel(),
		takeoverModal:  NewTakeoverModal(),
		picker:         NewSessionPicker(),
		reloads:        make(chan configReloadedMsg, 1),
	}
	m.chat.SetShowThinking(cfg.UI.ShowThinking)
	if m.ctrl != nil {
		m.syncSnapshot()
	}
	m.resetInputHistoryNavigation()
	return m
}

func (m *AppModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.chat.Init(), m.statusbar.Init(), textinput.Blink}
	if m.ctrl != nil {
		cmds = append(cmds, waitForChange(m.ctrl.Changes()))
		if m.initialSession != "" {
			cmds = append(cmds, selectSessionCmd(m.ctrl, m.initialSession))
		}
	}
	if cmd := m.startConfigWatch(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

// Close stops the config watcher.
func (m *AppModel) Close() {
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return controllerChangedMsg{}
	}
}

func waitForReload(ch <-chan configReloadedMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func (m *AppModel) startConfigWatch() tea.Cmd {
	if m.configPath == "" {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	err := config.Watch(ctx, m.configPath, func(cfg *config.Config, err error) {
		// keep only the newest reload when the UI falls behind
		select {
		case <-m.reloads:
		default:
		}
		m.reloads <- configReloadedMsg{cfg: cfg, err: err}
	})
	if err != nil {
		cancel()
		m.logger.Warn("config watch unavailable", zap.String("path", m.configPath), zap.Error(err))
		return nil
	}
	m.watchCancel = cancel
	return waitForReload(m.reloads)
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.takeoverModal.Visible {
			if msg.String() == "ctrl+c" {
				return m.handleCtrlC()
			}
			action := m.takeoverModal.Update(msg)
			switch {
			case action.Acknowledged:
				m.takeoverModal.Close()
				return m, m.acknowledgeTakeoverCmd()
			case action.Dismissed:
				m.takeoverModal.Close()
			}
			return m, nil
		}

		if m.picker.Visible {
			switch msg.String() {
			case "ctrl+c":
				return m.handleCtrlC()
			case "esc":
				m.picker.Close()
			case "up":
				m.picker.Move(-1)
			case "down":
				m.picker.Move(1)
			case "enter":
				sess, ok := m.picker.SelectedSession()
				m.picker.Close()
				if ok && m.ctrl != nil && sess.ID != m.snap.SessionID {
					return m, selectSessionCmd(m.ctrl, sess.ID)
				}
			}
			return m, nil
		}

		if handled, cmd := m.dispatchUpDownKey(msg); handled {
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c":
			return m.handleCtrlC()
		case "esc":
			if strings.TrimSpace(m.chat.GetInputValue()) == "" && m.snap.Running() {
				return m, m.stopCmd()
			}
		case "ctrl+t":
			return m, m.acknowledgeTakeoverCmd()
		case "tab":
			if m.chat.ApplyTopSlashSuggestion() {
				return m, nil
			}
		}
		if shouldResetHistoryNavigation(msg) {
			m.resetInputHistoryNavigation()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusbar.SetWidth(msg.Width)
		m.chat.SetSize(msg.Width, msg.Height-1)
		m.picker.SetWidth(max(msg.Width-4, 32))
		m.takeoverModal.SetWidth(msg.Width)

	case controllerChangedMsg:
		if cmd := m.syncSnapshot(); cmd != nil {
			cmds = append(cmds, cmd)
		}
		cmds = append(cmds, waitForChange(m.ctrl.Changes()))

	case configReloadedMsg:
		m.applyConfig(msg.cfg, msg.err)
		cmds = append(cmds, waitForReload(m.reloads))

	case SessionsLoadedMsg:
		if msg.Err != nil {
			m.chat.AddNotice(fmt.Sprintf("Could not list sessions: %v", msg.Err))
			break
		}
		m.picker.Open(msg.Sessions, m.snap.SessionID)

	case SessionSelectedMsg:
		if msg.Err != nil {
			m.chat.AddNotice(fmt.Sprintf("Could not open session: %s", describeControlError(msg.Err)))
			break
		}
		m.chat.ClearNotices()
		if msg.Created {
			m.chat.AddNotice(fmt.Sprintf("Created session %s", msg.SessionID))
		}
		if cmd := m.syncSnapshot(); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case CommandResultMsg:
		m.chat.AddNotice(msg.Msg)

	case LoadingTickMsg:
		if m.chat.IsLoading() {
			cmds = append(cmds, loadingTickCmd())
		}
	}

	if msgKey, ok := msg.(tea.KeyMsg); ok && msgKey.String() == "enter" {
		if cmd := m.submitInput(); cmd != nil {
			cmds = append(cmds, cmd)
		}
	} else {
		chatModel, cmd := m.chat.Update(msg)
		m.chat = chatModel.(*ChatModel)
		cmds = append(cmds, cmd)
	}

	sbModel, cmd := m.statusbar.Update(msg)
	m.statusbar = sbModel.(*StatusBarModel)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *AppModel) submitInput() tea.Cmd {
	if selected, ok := m.chat.SelectedSlashSuggestion(); ok {
		// commands with a required argument are completed, not run
		if strings.HasPrefix(selected.Usage, "<") {
			m.chat.ApplyTopSlashSuggestion()
			return nil
		}
		m.appendInputHistory(selected.Name)
		m.chat.ClearInput()
		m.resetInputHistoryNavigation()
		return handleSlashCommand(selected.Name, m)
	}

	trimmed, isCommand := classifyUserInput(m.chat.GetInputValue())
	if trimmed == "" {
		return nil
	}
	m.appendInputHistory(trimmed)
	m.chat.ClearInput()
	m.resetInputHistoryNavigation()
	if isCommand {
		return handleSlashCommand(trimmed, m)
	}
	return m.sendTaskCmd(trimmed)
}

// sendTaskCmd sends text as a task, creating a session first when none is
// selected.
func (m *AppModel) sendTaskCmd(text string) tea.Cmd {
	if m.ctrl == nil {
		return resultf("Not connected to a controller.")
	}
	ctrl := m.ctrl
	needSession := m.snap.SessionID == ""
	agent := m.snap.Agent
	return func() tea.Msg {
		if needSession {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			sess, err := ctrl.CreateSession(ctx, "", agent)
			cancel()
			if err != nil {
				return CommandResultMsg{Msg: fmt.Sprintf("Could not create a session: %v", err)}
			}
			if err := ctrl.SendTask(context.Background(), text); err != nil {
				return CommandResultMsg{Msg: describeControlError(err)}
			}
			return SessionSelectedMsg{SessionID: sess.ID, Created: true}
		}
		if err := ctrl.SendTask(context.Background(), text); err != nil {
			return CommandResultMsg{Msg: describeControlError(err)}
		}
		return nil
	}
}

func (m *AppModel) stopCmd() tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Stop(context.Background()); err != nil {
			return CommandResultMsg{Msg: describeControlError(err)}
		}
		return nil
	}
}

func (m *AppModel) acknowledgeTakeoverCmd() tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.AcknowledgeTakeover(context.Background()); err != nil {
			return CommandResultMsg{Msg: describeControlError(err)}
		}
		return CommandResultMsg{Msg: "Takeover finished. The agent continues."}
	}
}

func (m *AppModel) handleCtrlC() (tea.Model, tea.Cmd) {
	if strings.TrimSpace(m.chat.GetInputValue()) != "" {
		m.chat.ClearInput()
		return m, nil
	}
	if m.snap.Running() {
		return m, m.stopCmd()
	}
	return m, tea.Quit
}

// syncSnapshot pulls the controller state into the views and returns the
// loading tick when a run has just started.
func (m *AppModel) syncSnapshot() tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	snap := m.ctrl.Snapshot()
	m.snap = snap

	m.chat.SetTimeline(snap.Messages)
	m.chat.SetTakeover(snap.Takeover)
	m.chat.SetScreenshot(snap.Screenshot)
	m.statusbar.Sync(snap)

	if snap.Takeover.Active {
		m.takeoverModal.Open(snap.Takeover.Message)
	} else {
		m.takeoverModal.Reset()
	}
	if snap.SessionID != m.historySession {
		m.loadPersistedInputHistory(snap.SessionID)
	}

	wasLoading := m.chat.IsLoading()
	m.chat.SetLoading(snap.Running(), loadingLabel(snap))
	if snap.Running() && !wasLoading {
		return loadingTickCmd()
	}
	return nil
}

func loadingLabel(snap task.Snapshot) string {
	switch {
	case snap.Takeover.Active:
		return "Waiting for you on the device"
	case !snap.Connected:
		return "Connecting to the agent"
	}
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		msg := snap.Messages[i]
		if msg.Role != timeline.RoleAssistant {
			continue
		}
		if n := len(msg.Steps); n > 0 && msg.Steps[n-1].Status == timeline.StatusThinking {
			return fmt.Sprintf("Agent is thinking (step %d)", msg.Steps[n-1].StepNumber)
		}
		break
	}
	return "Agent is acting"
}

func (m *AppModel) applyConfig(cfg *config.Config, err error) {
	if err != nil {
		m.logger.Warn("config reload failed", zap.Error(err))
		m.chat.AddNotice(fmt.Sprintf("Config reload failed: %v", err))
		return
	}
	if cfg == nil {
		return
	}
	prev := m.cfg
	m.cfg = cfg
	m.chat.SetShowThinking(cfg.UI.ShowThinking)
	m.logger.Info("config reloaded", zap.String("path", m.configPath))
	if prev != nil && prev.Server.BaseURL != cfg.Server.BaseURL {
		m.chat.AddNotice("server.base_url changed; restart phonepilot to use it.")
	}
}

func (m *AppModel) View() string {
	base := appStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.chat.View(),
		m.statusbar.View(),
	))

	var overlay string
	switch {
	case m.takeoverModal.Visible:
		overlay = m.takeoverModal.View()
	case m.picker.Visible:
		overlay = m.picker.View()
	default:
		return base
	}
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, overlay)
	}
	return overlay
}

func (m *AppModel) loadPersistedInputHistory(sessionID string) {
	m.historySession = sessionID
	m.inputHistory = nil
	m.resetInputHistoryNavigation()
	if m.history == nil || sessionID == "" {
		return
	}
	history, err := m.history.GetSessionInputHistory(context.Background(), sessionID)
	if err != nil {
		m.logger.Warn("load input history", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	m.inputHistory = append([]string(nil), history...)
	if len(m.inputHistory) > state.DefaultInputHistoryLimit {
		m.inputHistory = m.inputHistory[len(m.inputHistory)-state.DefaultInputHistoryLimit:]
	}
	m.resetInputHistoryNavigation()
}

func (m *AppModel) appendInputHistory(entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return
	}
	m.inputHistory = append(m.inputHistory, entry)
	if len(m.inputHistory) > state.DefaultInputHistoryLimit {
		m.inputHistory = m.inputHistory[len(m.inputHistory)-state.DefaultInputHistoryLimit:]
	}
	m.resetInputHistoryNavigation()

	if m.history != nil && m.snap.SessionID != "" {
		if err := m.history.AppendSessionInputHistory(context.Background(), m.snap.SessionID, entry); err != nil {
			m.chat.AddNotice(fmt.Sprintf("warning: failed to persist input history: %v", err))
		}
	}
}

func (m *AppModel) resetInputHistoryNavigation() {
	m.inputHistoryIndex = len(m.inputHistory)
	m.inputDraft = ""
	m.historyBrowsing = false
}

func (m *AppModel) navigateInputHistory(delta int) bool {
	if len(m.inputHistory) == 0 || delta == 0 {
		return false
	}

	if !m.historyBrowsing {
		m.inputDraft = m.chat.GetInputValue()
		m.inputHistoryIndex = len(m.inputHistory)
		m.historyBrowsing = true
	}

	if delta < 0 {
		if m.inputHistoryIndex > 0 {
			m.inputHistoryIndex--
		}
		m.chat.SetInputValue(m.inputHistory[m.inputHistoryIndex])
		return true
	}
	if m.inputHistoryIndex < len(m.inputHistory)-1 {
		m.inputHistoryIndex++
		m.chat.SetInputValue(m.inputHistory[m.inputHistoryIndex])
		return true
	}
	m.inputHistoryIndex = len(m.inputHistory)
	m.chat.SetInputValue(m.inputDraft)
	m.historyBrowsing = false
	return true
}

func (m *AppModel) dispatchUpDownKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	delta, ok := upDownDelta(msg)
	if !ok {
		return false, nil
	}
	// command suggestions win over input history
	if m.chat.HasVisibleSuggestions() {
		m.chat.MoveSlashSelection(delta)
		return true, nil
	}
	m.navigateInputHistory(delta)
	return true, nil
}

func upDownDelta(msg tea.KeyMsg) (int, bool) {
	switch msg.String() {
	case "up":
		return -1, true
	case "down":
		return 1, true
	default:
		return 0, false
	}
}

func classifyUserInput(raw string) (trimmed string, isCommand bool) {
	trimmed = strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	word, _ := splitSlashCommand(trimmed)
	return trimmed, isCommandWord(word)
}

// isCommandWord reports whether word looks like "/name". Other slash text,
// such as "/scenario:takeover", is sent to the agent as task text.
func isCommandWord(word string) bool {
	name, ok := strings.CutPrefix(word, "/")
	if !ok || name == "" {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func shouldResetHistoryNavigation(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "up", "down", "enter":
		return false
	}
	switch msg.Type {
	case tea.KeyRunes, tea.KeyBackspace, tea.KeyDelete:
		return true
	default:
		return false
	}
}
