package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yubzen/phonepilot/internal/timeline"
)

var (
	chatViewportStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(lipgloss.Color("238"))
	assistantStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	agentLabelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	systemStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	thinkingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	actionStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	stepNumberStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	suggestBoxStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	suggestDescStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	suggestSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	takeoverStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("220")).Bold(true).Padding(0, 1)
	screenshotStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	splashLogoDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Bold(true)
	splashLogoBright  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	splashCardStyle   = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(lipgloss.Color("39")).
				Padding(1, 2).
				Background(lipgloss.Color("236"))
	splashPromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	splashCursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	splashTipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	loadingStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	loadingTimerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	placeholderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	promptIndicator   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
)

const inputPlaceholder = "Tell the phone what to do, or type / for commands"

// LoadingTickMsg is sent periodically to update the loading timer display.
type LoadingTickMsg struct{}

// notice is a local line that is not part of the session timeline. It is
// drawn after the first `after` timeline messages.
type notice struct {
	after   int
	content string
}

type ChatModel struct {
	viewport         viewport.Model
	textInput        textinput.Model
	messages         []timeline.Message
	notices          []notice
	takeover         timeline.Takeover
	screenshot       *timeline.Screenshot
	showThinking     bool
	stickToBottom    bool
	slashSuggestions []slashCommand
	selectedSlashIdx int
	lastSuggestInput string
	width            int
	height           int
	isLoading        bool
	loadingStarted   time.Time
	loadingLabel     string
}

func NewChatModel() *ChatModel {
	ti := textinput.New()
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 1000
	ti.Width = 50

	vp := viewport.New(0, 0)
	// plain letters belong to the input; only paging keys scroll
	vp.KeyMap = viewport.KeyMap{
		PageDown:     key.NewBinding(key.WithKeys("pgdown")),
		PageUp:       key.NewBinding(key.WithKeys("pgup")),
		HalfPageUp:   key.NewBinding(key.WithKeys("ctrl+u")),
		HalfPageDown: key.NewBinding(key.WithKeys("ctrl+d")),
	}
	vp.SetContent("")

	return &ChatModel{
		viewport:         vp,
		textInput:        ti,
		showThinking:     true,
		stickToBottom:    true,
		selectedSlashIdx: -1,
	}
}

func (m *ChatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(LoadingTickMsg); ok {
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	cmds = append(cmds, cmd)
	m.updateSlashSuggestions()

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.stickToBottom = m.viewport.AtBottom()

	return m, tea.Batch(cmds...)
}

func (m *ChatModel) SetSize(w, h int) {
	if w == 0 || h == 0 {
		return
	}
	m.width = w
	m.height = h
	m.viewport.Width = w
	m.textInput.Width = m.inputWrapWidth()
	m.reflow()
	m.renderMessages()
}

func (m *ChatModel) SetShowThinking(show bool) {
	if m.showThinking == show {
		return
	}
	m.showThinking = show
	m.renderMessages()
}

// SetTimeline replaces the rendered session timeline.
func (m *ChatModel) SetTimeline(msgs []timeline.Message) {
	m.messages = msgs
	m.renderMessages()
}

func (m *ChatModel) SetTakeover(t timeline.Takeover) {
	m.takeover = t
	m.reflow()
}

func (m *ChatModel) SetScreenshot(shot *timeline.Screenshot) {
	m.screenshot = shot
	m.reflow()
}

// AddNotice appends a local status line below the current timeline.
func (m *ChatModel) AddNotice(content string) {
	m.notices = append(m.notices, notice{after: len(m.messages), content: content})
	m.renderMessages()
}

func (m *ChatModel) ClearNotices() {
	m.notices = nil
	m.renderMessages()
}

func (m *ChatModel) SetLoading(loading bool, label string) {
	if loading && !m.isLoading {
		m.loadingStarted = time.Now()
	}
	m.isLoading = loading
	m.loadingLabel = ""
	if loading {
		m.loadingLabel = strings.TrimSpace(label)
		if m.loadingLabel == "" {
			m.loadingLabel = "Agent is working"
		}
	}
	m.reflow()
}

func (m *ChatModel) IsLoading() bool {
	return m.isLoading
}

// loadingTickCmd returns a command that ticks every second while loading.
func loadingTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return LoadingTickMsg{}
	})
}

func (m *ChatModel) contentWidth() int {
	if m.viewport.Width > 0 {
		return m.viewport.Width
	}
	if m.width > 0 {
		return m.width
	}
	return 80
}

func (m *ChatModel) renderMessages() {
	width := m.contentWidth()

	var blocks []string
	noteIdx := 0
	flushNotes := func(upTo int) {
		for noteIdx < len(m.notices) && m.notices[noteIdx].after <= upTo {
			blocks = append(blocks, systemStyle.Render(wrapToWidth(m.notices[noteIdx].content, width)))
			noteIdx++
		}
	}
	flushNotes(0)
	for i, msg := range m.messages {
		blocks = append(blocks, m.renderMessage(msg, width))
		flushNotes(i + 1)
	}
	flushNotes(len(m.messages) + len(m.notices))

	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	if m.stickToBottom {
		m.viewport.GotoBottom()
	}
}

func (m *ChatModel) renderMessage(msg timeline.Message, width int) string {
	content := strings.TrimSpace(msg.Content)
	switch msg.Role {
	case timeline.RoleUser:
		return promptIndicator.Render("> ") + wrapToWidth(content, width-2)
	case timeline.RoleSystem:
		return systemStyle.Render(wrapToWidth(content, width))
	}

	lines := []string{agentLabelStyle.Render("AGENT:")}
	for _, st := range msg.Steps {
		lines = append(lines, m.renderStep(st, width))
	}
	switch {
	case content != "":
		style := assistantStyle
		if hasErrorStep(msg) {
			style = errorStyle
		}
		lines = append(lines, styleWrappedPrefixStyled("= ", content, width, agentLabelStyle, style))
	case msg.IsStreaming && len(msg.Steps) == 0:
		lines = append(lines, systemStyle.Render("waiting for the agent..."))
	}
	return strings.Join(lines, "\n")
}

func (m *ChatModel) renderStep(st timeline.Step, width int) string {
	prefix := fmt.Sprintf("  [%d] ", st.StepNumber)
	indent := strings.Repeat(" ", lipgloss.Width(prefix))

	thinking := strings.TrimSpace(st.Thinking)
	if !m.showThinking || thinking == "" {
		switch st.Status {
		case timeline.StatusThinking:
			thinking = "thinking..."
		default:
			thinking = ""
		}
	}
	if st.ThinkingDuration != nil && m.showThinking && thinking != "" {
		thinking += fmt.Sprintf(" (%.1fs)", *st.ThinkingDuration)
	}

	var lines []string
	lines = append(lines, styleWrappedPrefixStyled(prefix, thinking, width, stepNumberStyle, thinkingStyle))
	if len(st.Action) > 0 {
		style := actionStyle
		if st.Status == timeline.StatusError {
			style = errorStyle
		}
		lines = append(lines, style.Render(wrapWithPrefix(indent+"-> ", st.Action.Summary(), width)))
	} else if st.Status == timeline.StatusError {
		lines = append(lines, errorStyle.Render(indent+"-> failed"))
	}
	return strings.Join(lines, "\n")
}

func hasErrorStep(msg timeline.Message) bool {
	for _, st := range msg.Steps {
		if st.Status == timeline.StatusError {
			return true
		}
	}
	return false
}

func (m *ChatModel) isEmpty() bool {
	return len(m.messages) == 0 && len(m.notices) == 0 && !m.takeover.Active
}

func (m *ChatModel) View() string {
	if m.isEmpty() {
		return m.emptyStateView()
	}

	parts := []string{chatViewportStyle.Width(m.width).Render(m.viewport.View())}
	if banner := m.renderTakeoverBanner(); banner != "" {
		parts = append(parts, banner)
	}
	if shot := m.renderScreenshotLine(); shot != "" {
		parts = append(parts, shot)
	}
	if m.isLoading {
		parts = append(parts, m.renderLoadingIndicator())
	}
	if len(m.slashSuggestions) > 0 {
		lines := m.renderSuggestionsForWidth(max(16, m.width-4))
		parts = append(parts, suggestBoxStyle.Width(m.width).Padding(0, 1).Render(strings.Join(lines, "\n")))
	}
	parts = append(parts, lipgloss.NewStyle().Padding(0, 1).Render(m.renderInputForView()))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *ChatModel) renderTakeoverBanner() string {
	if !m.takeover.Active {
		return ""
	}
	msg := strings.TrimSpace(m.takeover.Message)
	if msg == "" {
		msg = "Manual action needed on the device"
	}
	text := fmt.Sprintf("TAKEOVER: %s. Finish on the device, then press ctrl+t.", strings.TrimRight(msg, "."))
	width := m.width - 2
	if width <= 0 {
		width = 80
	}
	return takeoverStyle.Render(wrapToWidth(text, width))
}

func (m *ChatModel) renderScreenshotLine() string {
	if m.screenshot == nil {
		return ""
	}
	size := "unknown size"
	if m.screenshot.Width > 0 && m.screenshot.Height > 0 {
		size = fmt.Sprintf("%dx%d", m.screenshot.Width, m.screenshot.Height)
	}
	at := ""
	if !m.screenshot.At.IsZero() {
		at = " at " + m.screenshot.At.Local().Format("15:04:05")
	}
	kb := len(m.screenshot.Base64) * 3 / 4 / 1024
	return screenshotStyle.Render(fmt.Sprintf(" screenshot %s, %dKB%s", size, kb, at))
}

func (m *ChatModel) renderLoadingIndicator() string {
	elapsed := time.Since(m.loadingStarted).Round(time.Second)
	spinnerFrames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	spinner := spinnerFrames[int(elapsed.Seconds())%len(spinnerFrames)]
	return loadingStyle.Render(spinner+" "+m.loadingLabel+"...") + " " +
		loadingTimerStyle.Render(formatElapsed(elapsed)+"  esc to stop")
}

func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm%ds", secs/60, secs%60)
}

func (m *ChatModel) emptyStateView() string {
	cardWidth := min(m.width-24, 96)
	if maxByScreen := m.width - 4; maxByScreen > 0 && cardWidth > maxByScreen {
		cardWidth = maxByScreen
	}
	cardWidth = max(cardWidth, 24)

	ti := m.textInput
	if cardWidth > 10 {
		ti.Width = cardWidth - 8
	}

	cardLines := []string{
		splashPromptStyle.Render(`Tell the phone what to do... "Open Wi-Fi settings"`),
		"",
	}
	inputLines := strings.Split(m.renderSimpleInput(ti), "\n")
	inputLines[0] = promptIndicator.Render("> ") + inputLines[0]
	for i := 1; i < len(inputLines); i++ {
		inputLines[i] = "  " + inputLines[i]
	}
	cardLines = append(cardLines, strings.Join(inputLines, "\n"))
	if len(m.slashSuggestions) > 0 {
		cardLines = append(cardLines, "", strings.Join(m.renderSuggestionsForWidth(max(16, cardWidth-6)), "\n"))
	}

	card := splashCardStyle.Width(cardWidth).Render(strings.Join(cardLines, "\n"))
	tip := splashTipStyle.Render("Tip: /new creates a session, /sessions picks an existing one")

	body := lipgloss.JoinVertical(lipgloss.Center, m.renderLogo(), "", card, "", tip)
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, body)
	}
	return body
}

func (m *ChatModel) renderLogo() string {
	chars := []rune("phonepilot")
	var b strings.Builder
	for i, ch := range chars {
		style := splashLogoDim
		if i >= len(chars)-5 {
			style = splashLogoBright
		}
		b.WriteString(style.Render(strings.ToUpper(string(ch))))
		b.WriteRune(' ')
	}
	return b.String()
}

func (m *ChatModel) renderSimpleInput(ti textinput.Model) string {
	valueRunes := []rune(ti.Value())
	if len(valueRunes) == 0 {
		return splashCursorStyle.Render("█") + placeholderStyle.Render(inputPlaceholder)
	}
	pos := min(max(ti.Position(), 0), len(valueRunes))
	width := ti.Width
	if width <= 0 {
		width = 32
	}
	return wrapToWidth(string(valueRunes[:pos])+splashCursorStyle.Render("█")+string(valueRunes[pos:]), width)
}

func (m *ChatModel) GetInputValue() string {
	return m.textInput.Value()
}

func (m *ChatModel) SetInputValue(v string) {
	m.textInput.SetValue(v)
	m.textInput.CursorEnd()
	m.updateSlashSuggestions()
}

func (m *ChatModel) ClearInput() {
	m.textInput.SetValue("")
	m.updateSlashSuggestions()
}

func (m *ChatModel) HasVisibleSuggestions() bool {
	return len(m.slashSuggestions) > 0
}

func (m *ChatModel) ApplyTopSlashSuggestion() bool {
	suggestion, ok := m.SelectedSlashSuggestion()
	if !ok {
		return false
	}
	value := suggestion.Name
	if suggestion.Usage != "" {
		value += " "
	}
	m.textInput.SetValue(value)
	// SetValue can keep a stale cursor; typing must continue at the end
	m.textInput.CursorEnd()
	m.updateSlashSuggestions()
	return true
}

func (m *ChatModel) SelectedSlashSuggestion() (slashCommand, bool) {
	if m.selectedSlashIdx < 0 || m.selectedSlashIdx >= len(m.slashSuggestions) {
		return slashCommand{}, false
	}
	return m.slashSuggestions[m.selectedSlashIdx], true
}

func (m *ChatModel) MoveSlashSelection(delta int) bool {
	if len(m.slashSuggestions) == 0 {
		return false
	}
	if m.selectedSlashIdx < 0 || m.selectedSlashIdx >= len(m.slashSuggestions) {
		m.selectedSlashIdx = 0
		return true
	}
	m.selectedSlashIdx = min(max(m.selectedSlashIdx+delta, 0), len(m.slashSuggestions)-1)
	return true
}

func (m *ChatModel) updateSlashSuggestions() {
	input := m.textInput.Value()
	inputChanged := input != m.lastSuggestInput
	m.lastSuggestInput = input

	m.slashSuggestions = filterSlashCommands(input, 6)
	switch {
	case len(m.slashSuggestions) == 0:
		m.selectedSlashIdx = -1
	case inputChanged:
		m.selectedSlashIdx = 0
	default:
		// blink and redraw events keep a manual selection
		m.selectedSlashIdx = min(max(m.selectedSlashIdx, 0), len(m.slashSuggestions)-1)
	}
	m.reflow()
}

func (m *ChatModel) reflow() {
	if m.height == 0 {
		return
	}
	used := m.inputHeight() + m.suggestionsHeight() + 1
	if m.isLoading {
		used++
	}
	if banner := m.renderTakeoverBanner(); banner != "" {
		used += lipgloss.Height(banner)
	}
	if m.screenshot != nil {
		used++
	}
	m.viewport.Height = max(m.height-used, 0)
	if m.stickToBottom {
		m.viewport.GotoBottom()
	}
}

func (m *ChatModel) inputWrapWidth() int {
	return max(m.width-4, 8)
}

func (m *ChatModel) renderInputForView() string {
	valueRunes := []rune(m.textInput.Value())
	if len(valueRunes) == 0 {
		return promptIndicator.Render("> ") + "█ " + placeholderStyle.Render(inputPlaceholder)
	}
	pos := min(max(m.textInput.Position(), 0), len(valueRunes))
	raw := string(valueRunes[:pos]) + "█" + string(valueRunes[pos:])

	lines := strings.Split(wrapToWidth(raw, m.inputWrapWidth()), "\n")
	lines[0] = promptIndicator.Render("> ") + lines[0]
	for i := 1; i < len(lines); i++ {
		lines[i] = "  " + lines[i]
	}
	return strings.Join(lines, "\n")
}

func (m *ChatModel) renderSuggestionsForWidth(width int) []string {
	width = max(width, 16)
	lines := make([]string, 0, len(m.slashSuggestions))
	for i, c := range m.slashSuggestions {
		label := c.Name
		if c.Usage != "" {
			label += " " + c.Usage
		}
		label += "  " + c.Description
		if i == m.selectedSlashIdx {
			lines = append(lines, suggestSelStyle.Render(wrapWithPrefix("> ", label, width)))
			continue
		}
		lines = append(lines, suggestDescStyle.Render(wrapWithPrefix("  ", label, width)))
	}
	return lines
}

func (m *ChatModel) inputHeight() int {
	return max(lipgloss.Height(m.renderInputForView()), 1)
}

func (m *ChatModel) suggestionsHeight() int {
	if len(m.slashSuggestions) == 0 {
		return 0
	}
	return lipgloss.Height(strings.Join(m.renderSuggestionsForWidth(max(16, m.width-4)), "\n"))
}

// styleWrappedPrefixStyled renders a prefix with one style and content with another.
func styleWrappedPrefixStyled(prefix, content string, width int, prefStyle, contentStyle lipgloss.Style) string {
	lines := strings.Split(wrapWithPrefix(prefix, content, width), "\n")
	if strings.HasPrefix(lines[0], prefix) {
		lines[0] = prefStyle.Render(prefix) + contentStyle.Render(strings.TrimPrefix(lines[0], prefix))
	}
	for i := 1; i < len(lines); i++ {
		lines[i] = contentStyle.Render(lines[i])
	}
	return strings.Join(lines, "\n")
}
