package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yubzen/phonepilot/internal/task"
	"github.com/yubzen/phonepilot/internal/timeline"
)

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printStep(w io.Writer, st timeline.Step, showThinking bool) {
	if showThinking && strings.TrimSpace(st.Thinking) != "" {
		fmt.Fprintf(w, "  [%d] %s\n", st.StepNumber, oneLine(st.Thinking))
	} else {
		fmt.Fprintf(w, "  [%d]\n", st.StepNumber)
	}
	if len(st.Action) > 0 {
		fmt.Fprintf(w, "      -> %s\n", st.Action.Summary())
	}
}

func printMessage(w io.Writer, m timeline.Message, showThinking bool) {
	switch m.Role {
	case timeline.RoleUser:
		fmt.Fprintf(w, "> %s\n", m.Content)
		return
	case timeline.RoleSystem:
		fmt.Fprintf(w, "! %s\n", m.Content)
		return
	}
	for _, st := range m.Steps {
		printStep(w, st, showThinking)
	}
	if m.Content != "" {
		fmt.Fprintf(w, "= %s\n", m.Content)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// progress prints a live run one settled step at a time. A step is printed
// once its action arrives; open steps are flushed when the run ends.
type progress struct {
	w            io.Writer
	showThinking bool
	// first is the index of the first message that belongs to this run.
	first    int
	printed  int
	takeover bool
	done     bool
}

func (p *progress) update(snap task.Snapshot) {
	if p.done {
		return
	}
	if snap.Takeover.Active && !p.takeover {
		msg := snap.Takeover.Message
		if msg == "" {
			msg = task.TextTakeoverPending
		}
		fmt.Fprintf(p.w, "!! takeover: %s\n   finish on the device, then press Enter to continue\n", msg)
	}
	p.takeover = snap.Takeover.Active

	var msg *timeline.Message
	for i := len(snap.Messages) - 1; i >= p.first; i-- {
		if snap.Messages[i].Role == timeline.RoleAssistant {
			msg = &snap.Messages[i]
			break
		}
	}
	if msg == nil {
		return
	}
	for p.printed < len(msg.Steps) {
		st := msg.Steps[p.printed]
		if msg.IsStreaming && st.Status == timeline.StatusThinking {
			break
		}
		printStep(p.w, st, p.showThinking)
		p.printed++
	}
	if !msg.IsStreaming {
		fmt.Fprintf(p.w, "= %s\n", msg.Content)
		p.done = true
	}
}
