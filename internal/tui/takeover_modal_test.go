package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yubzen/phonepilot/internal/agentapi"
)

func TestTakeoverModalAcknowledge(t *testing.T) {
	t.Parallel()

	modal := NewTakeoverModal()
	modal.SetWidth(100)
	modal.Open("Please log in")
	if !modal.Visible {
		t.Fatal("expected modal to open")
	}
	if view := modal.View(); !strings.Contains(view, "Please log in") {
		t.Fatalf("expected message in view, got %q", view)
	}

	action := modal.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !action.Acknowledged {
		t.Fatalf("expected acknowledge, got %#v", action)
	}
}

func TestTakeoverModalDismissDoesNotReopenSameTakeover(t *testing.T) {
	t.Parallel()

	modal := NewTakeoverModal()
	modal.Open("Scan your fingerprint")
	action := modal.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if !action.Dismissed {
		t.Fatalf("expected dismiss, got %#v", action)
	}
	modal.Close()

	modal.Open("Scan your fingerprint")
	if modal.Visible {
		t.Fatal("expected dismissed takeover to stay closed")
	}

	modal.Reset()
	modal.Open("Scan your fingerprint")
	if !modal.Visible {
		t.Fatal("expected a new takeover to open after reset")
	}
}

func TestTakeoverModalDefaultMessage(t *testing.T) {
	t.Parallel()

	modal := NewTakeoverModal()
	modal.Open("  ")
	if modal.Message != "Manual action needed on the device" {
		t.Fatalf("unexpected default message %q", modal.Message)
	}
	if action := modal.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}}); action.Acknowledged || action.Dismissed {
		t.Fatalf("expected other keys to be ignored, got %#v", action)
	}
}

func TestSessionPickerPreselectsCurrent(t *testing.T) {
	t.Parallel()

	picker := NewSessionPicker()
	picker.SetWidth(80)
	picker.Open([]agentapi.Session{
		{ID: "s1", Name: "kitchen"},
		{ID: "s2", Name: "office"},
		{ID: "s3"},
	}, "s2")

	sess, ok := picker.SelectedSession()
	if !ok || sess.ID != "s2" {
		t.Fatalf("expected current session selected, got %#v", sess)
	}
	picker.Move(10)
	if sess, _ := picker.SelectedSession(); sess.ID != "s3" {
		t.Fatalf("expected move to clamp at last, got %q", sess.ID)
	}
	picker.Move(-10)
	if sess, _ := picker.SelectedSession(); sess.ID != "s1" {
		t.Fatalf("expected move to clamp at first, got %q", sess.ID)
	}

	view := picker.View()
	for _, want := range []string{"Sessions", "kitchen", "office", "(unnamed)"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in picker, got %q", want, view)
		}
	}
}

func TestSessionPickerEmptyAndOverflow(t *testing.T) {
	t.Parallel()

	picker := NewSessionPicker()
	picker.Open(nil, "")
	if _, ok := picker.SelectedSession(); ok {
		t.Fatal("expected no selection in an empty picker")
	}
	if view := picker.View(); !strings.Contains(view, "No sessions yet") {
		t.Fatalf("expected empty hint, got %q", view)
	}

	var many []agentapi.Session
	for i := 0; i < pickerMaxRows+3; i++ {
		many = append(many, agentapi.Session{ID: string(rune('a' + i))})
	}
	picker.Open(many, "")
	if view := picker.View(); !strings.Contains(view, "... 3 more") {
		t.Fatalf("expected overflow line, got %q", view)
	}
	picker.Move(pickerMaxRows + 5)
	if view := picker.View(); strings.Contains(view, "more") {
		t.Fatalf("expected the window to scroll to the end, got %q", view)
	}
}
