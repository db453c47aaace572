// Package timeline turns stream frames and stored conversation rows into one
// canonical step timeline.
package timeline

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type StepStatus string

const (
	StatusThinking  StepStatus = "thinking"
	StatusActing    StepStatus = "acting"
	StatusCompleted StepStatus = "completed"
	StatusError     StepStatus = "error"
)

// Default texts for terminal transitions when the server sends no message.
const (
	TextCompleted      = "Task completed"
	TextStopped        = "Task stopped"
	TextFailed         = "Task failed"
	TextConnectionLost = "Connection lost. Please try again."
)

// Action is the agent's action record as sent by the server, e.g.
// {"action":"tap","element":[500,800]}.
type Action map[string]any

// Name returns the "action" field, or "" when absent.
func (a Action) Name() string {
	if a == nil {
		return ""
	}
	name, _ := a["action"].(string)
	return name
}

// Summary renders the action as "name key=value ..." with keys sorted.
func (a Action) Summary() string {
	if len(a) == 0 {
		return ""
	}
	name := a.Name()
	if name == "" {
		name = "action"
	}
	keys := slices.Sorted(maps.Keys(a))
	out := name
	for _, k := range keys {
		if k == "action" || k == "_metadata" {
			continue
		}
		out += fmt.Sprintf(" %s=%v", k, a[k])
	}
	return out
}

type Step struct {
	ID               string     `json:"id" yaml:"id"`
	StepNumber       int        `json:"stepNumber" yaml:"step"`
	Thinking         string     `json:"thinking,omitempty" yaml:"thinking,omitempty"`
	ThinkingDuration *float64   `json:"thinkingDuration,omitempty" yaml:"thinking_duration,omitempty"`
	Action           Action     `json:"action,omitempty" yaml:"action,omitempty"`
	ActionDuration   *float64   `json:"actionDuration,omitempty" yaml:"action_duration,omitempty"`
	Status           StepStatus `json:"status" yaml:"status"`
	Timestamp        time.Time  `json:"timestamp" yaml:"timestamp"`
}

func (s Step) Clone() Step {
	out := s
	out.Action = cloneAction(s.Action)
	out.ThinkingDuration = cloneFloat(s.ThinkingDuration)
	out.ActionDuration = cloneFloat(s.ActionDuration)
	return out
}

type Message struct {
	ID          string    `json:"id" yaml:"id"`
	Role        Role      `json:"role" yaml:"role"`
	Content     string    `json:"content" yaml:"content"`
	Steps       []Step    `json:"steps,omitempty" yaml:"steps,omitempty"`
	IsStreaming bool      `json:"isStreaming" yaml:"-"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

func (m Message) Clone() Message {
	out := m
	out.Steps = cloneSteps(m.Steps)
	return out
}

// Takeover is a server request for manual action on the device.
type Takeover struct {
	Active  bool
	Message string
}

type Screenshot struct {
	Base64 string
	Width  int
	Height int
	At     time.Time
}

// State is the live timeline of one assistant message. Open indexes the
// step still waiting for its action, or is -1.
type State struct {
	MessageID  string
	Steps      []Step
	Open       int
	Screenshot *Screenshot
	Takeover   Takeover
	Ready      bool
}

func NewState(messageID string) State {
	return State{MessageID: messageID, Open: -1}
}

// OpenStep returns the open step, if any.
func (s State) OpenStep() (Step, bool) {
	if s.Open < 0 || s.Open >= len(s.Steps) {
		return Step{}, false
	}
	return s.Steps[s.Open], true
}

func (s State) Clone() State {
	out := s
	out.Steps = cloneSteps(s.Steps)
	if s.Screenshot != nil {
		shot := *s.Screenshot
		out.Screenshot = &shot
	}
	return out
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

func cloneAction(a Action) Action {
	if a == nil {
		return nil
	}
	return Action(maps.Clone(map[string]any(a)))
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func stepID(messageID string, n int) string {
	return fmt.Sprintf("%s-step-%d", messageID, n)
}
