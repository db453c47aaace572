package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yubzen/phonepilot/internal/timeline"
)

func sampleTimeline() []timeline.Message {
	secs := 1.5
	return []timeline.Message{
		{ID: "u1", Role: timeline.RoleUser, Content: "open wifi"},
		{
			ID:      "a1",
			Role:    timeline.RoleAssistant,
			Content: "Opened Wi-Fi settings",
			Steps: []timeline.Step{
				{
					ID: "a1-step-1", StepNumber: 1,
					Thinking:         "The home screen is visible.",
					ThinkingDuration: &secs,
					Action:           timeline.Action{"action": "Launch", "app": "Settings"},
					Status:           timeline.StatusCompleted,
				},
				{
					ID: "a1-step-2", StepNumber: 2,
					Thinking: "Settings is open.",
					Action:   timeline.Action{"action": "Tap", "element": []any{500, 800}},
					Status:   timeline.StatusCompleted,
				},
			},
		},
	}
}

func TestChatModelSelectedSuggestionDefaultsToFirst(t *testing.T) {
	m := NewChatModel()
	m.textInput.SetValue("/st")
	m.updateSlashSuggestions()

	selected, ok := m.SelectedSlashSuggestion()
	if !ok {
		t.Fatal("expected a selected suggestion")
	}
	if selected.Name != "/stop" {
		t.Fatalf("expected first suggestion /stop, got %q", selected.Name)
	}
}

func TestChatModelNoSuggestionsWithoutSlash(t *testing.T) {
	m := NewChatModel()
	m.textInput.SetValue("s")
	m.updateSlashSuggestions()

	if m.HasVisibleSuggestions() {
		t.Fatalf("expected no suggestions without slash, got %d", len(m.slashSuggestions))
	}
}

func TestChatModelMoveSlashSelection(t *testing.T) {
	m := NewChatModel()
	m.textInput.SetValue("/")
	m.updateSlashSuggestions()

	if !m.MoveSlashSelection(1) {
		t.Fatal("expected movement to be handled")
	}
	if selected, _ := m.SelectedSlashSuggestion(); selected.Name != "/new" {
		t.Fatalf("expected second suggestion /new, got %q", selected.Name)
	}

	m.MoveSlashSelection(100)
	if selected, _ := m.SelectedSlashSuggestion(); selected.Name != "/status" {
		t.Fatalf("expected last visible suggestion /status, got %q", selected.Name)
	}

	m.MoveSlashSelection(-100)
	if selected, _ := m.SelectedSlashSuggestion(); selected.Name != "/sessions" {
		t.Fatalf("expected first suggestion /sessions, got %q", selected.Name)
	}
}

func TestChatModelSelectionPersistsWithoutInputChange(t *testing.T) {
	m := NewChatModel()
	m.textInput.SetValue("/")
	m.updateSlashSuggestions()
	m.MoveSlashSelection(1)

	// a redraw must not reset the manual choice
	m.updateSlashSuggestions()
	if selected, _ := m.SelectedSlashSuggestion(); selected.Name != "/new" {
		t.Fatalf("expected selection to persist on refresh, got %q", selected.Name)
	}

	m.textInput.SetValue("/d")
	m.updateSlashSuggestions()
	if selected, _ := m.SelectedSlashSuggestion(); selected.Name != "/done" {
		t.Fatalf("expected first match /done after typing, got %q", selected.Name)
	}
}

func TestApplyTopSlashSuggestionLeavesRoomForArgument(t *testing.T) {
	m := NewChatModel()
	m.textInput.SetValue("/swi")
	m.textInput.SetCursor(1)
	m.updateSlashSuggestions()

	if !m.ApplyTopSlashSuggestion() {
		t.Fatal("expected tab autocomplete to apply suggestion")
	}
	if got := m.textInput.Value(); got != "/switch " {
		t.Fatalf("expected %q after autocomplete, got %q", "/switch ", got)
	}
	if got, want := m.textInput.Position(), len([]rune("/switch ")); got != want {
		t.Fatalf("expected cursor at end (%d), got %d", want, got)
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	m = updated.(*ChatModel)
	if got := m.textInput.Value(); got != "/switch x" {
		t.Fatalf("expected typing after tab to append at end, got %q", got)
	}
}

func TestEmptyStateViewContainsLogoAndTip(t *testing.T) {
	m := NewChatModel()
	m.SetSize(120, 30)

	view := strings.ToLower(m.View())
	if !strings.Contains(view, "p h o n e p i l o t") {
		t.Fatalf("expected empty state logo, got %q", view)
	}
	if !strings.Contains(view, "/new creates a session") {
		t.Fatalf("expected empty state tip to mention /new, got %q", view)
	}
}

func TestChatRendersTimelineSteps(t *testing.T) {
	m := NewChatModel()
	m.SetSize(120, 40)
	m.SetTimeline(sampleTimeline())

	view := m.View()
	for _, want := range []string{
		"> open wifi",
		"AGENT:",
		"[1] The home screen is visible. (1.5s)",
		"-> Launch app=Settings",
		"[2] Settings is open.",
		"-> Tap element=[500 800]",
		"= Opened Wi-Fi settings",
	} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view, got %q", want, view)
		}
	}
}

func TestChatHidesThinkingWhenDisabled(t *testing.T) {
	m := NewChatModel()
	m.SetSize(120, 40)
	m.SetTimeline(sampleTimeline())
	m.SetShowThinking(false)

	view := m.View()
	if strings.Contains(view, "home screen") {
		t.Fatalf("expected thinking text hidden, got %q", view)
	}
	if !strings.Contains(view, "-> Launch app=Settings") {
		t.Fatalf("expected actions still shown, got %q", view)
	}
}

func TestChatShowsOpenStepAndWaitingMessage(t *testing.T) {
	m := NewChatModel()
	m.SetSize(120, 40)
	m.SetShowThinking(false)
	m.SetTimeline([]timeline.Message{
		{ID: "u", Role: timeline.RoleUser, Content: "go"},
		{ID: "a", Role: timeline.RoleAssistant, IsStreaming: true},
	})
	if view := m.View(); !strings.Contains(view, "waiting for the agent") {
		t.Fatalf("expected waiting line, got %q", view)
	}

	m.SetTimeline([]timeline.Message{
		{ID: "u", Role: timeline.RoleUser, Content: "go"},
		{ID: "a", Role: timeline.RoleAssistant, IsStreaming: true, Steps: []timeline.Step{
			{StepNumber: 1, Status: timeline.StatusThinking},
		}},
	})
	if view := m.View(); !strings.Contains(view, "[1] thinking...") {
		t.Fatalf("expected open step marker, got %q", view)
	}
}

func TestChatNoticesFollowTimelinePosition(t *testing.T) {
	m := NewChatModel()
	m.SetSize(120, 40)
	m.AddNotice("before anything")
	m.SetTimeline(sampleTimeline())
	m.AddNotice("after the run")

	view := m.View()
	first := strings.Index(view, "before anything")
	user := strings.Index(view, "> open wifi")
	last := strings.Index(view, "after the run")
	if first < 0 || user < 0 || last < 0 {
		t.Fatalf("expected all blocks in view, got %q", view)
	}
	if first >= user || user >= last {
		t.Fatalf("unexpected order %d %d %d", first, user, last)
	}

	m.ClearNotices()
	if strings.Contains(m.View(), "after the run") {
		t.Fatal("expected notices cleared")
	}
}

func TestChatTakeoverBannerAndScreenshot(t *testing.T) {
	m := NewChatModel()
	m.SetSize(120, 40)
	m.SetTakeover(timeline.Takeover{Active: true, Message: "Please log in."})
	m.SetScreenshot(&timeline.Screenshot{Base64: strings.Repeat("A", 4096), Width: 1080, Height: 2400, At: time.Now()})

	view := m.View()
	if !strings.Contains(view, "TAKEOVER: Please log in. Finish on the device, then press ctrl+t.") {
		t.Fatalf("expected takeover banner, got %q", view)
	}
	if !strings.Contains(view, "screenshot 1080x2400, 3KB") {
		t.Fatalf("expected screenshot line, got %q", view)
	}
}

func TestChatViewportStopsAutoScrollWhenUserScrollsUp(t *testing.T) {
	m := NewChatModel()
	m.SetSize(100, 20)
	for i := 0; i < 60; i++ {
		m.AddNotice(fmt.Sprintf("message %d", i))
	}
	if !m.viewport.AtBottom() {
		t.Fatal("expected viewport to start at bottom")
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyPgUp})
	m = updated.(*ChatModel)
	if m.viewport.AtBottom() {
		t.Fatal("expected viewport to scroll up after pgup")
	}
	if m.stickToBottom {
		t.Fatal("expected auto-scroll to be disabled after manual scroll")
	}

	m.AddNotice("new message while scrolled up")
	if m.viewport.AtBottom() {
		t.Fatal("expected viewport to stay off-bottom when auto-scroll disabled")
	}
}

func TestChatViewportResumesAutoScrollAtBottom(t *testing.T) {
	m := NewChatModel()
	m.SetSize(100, 20)
	for i := 0; i < 60; i++ {
		m.AddNotice(fmt.Sprintf("message %d", i))
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyPgUp})
	m = updated.(*ChatModel)
	for i := 0; i < 20 && !m.viewport.AtBottom(); i++ {
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyPgDown})
		m = updated.(*ChatModel)
	}
	if !m.viewport.AtBottom() {
		t.Fatal("expected viewport to reach bottom after pgdown")
	}
	if !m.stickToBottom {
		t.Fatal("expected auto-scroll to re-enable at bottom")
	}

	m.AddNotice("new message at bottom")
	if !m.viewport.AtBottom() {
		t.Fatal("expected viewport to remain pinned at bottom")
	}
}

func TestChatTypingDoesNotScrollViewport(t *testing.T) {
	m := NewChatModel()
	m.SetSize(100, 20)
	for i := 0; i < 60; i++ {
		m.AddNotice(fmt.Sprintf("message %d", i))
	}
	for _, r := range "kjbf" {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(*ChatModel)
	}
	if !m.viewport.AtBottom() {
		t.Fatal("expected letters to go to the input, not scroll")
	}
	if got := m.GetInputValue(); got != "kjbf" {
		t.Fatalf("expected typed input, got %q", got)
	}
}
