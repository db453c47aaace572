package mockagent

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yubzen/phonepilot/internal/stream"
)

// Step is one scripted event. Exactly one of the content fields is used,
// chosen by Event.
type Step struct {
	Event    stream.Kind    `yaml:"event"`
	Delay    time.Duration  `yaml:"delay,omitempty"`
	Thinking string         `yaml:"thinking,omitempty"`
	Action   map[string]any `yaml:"action,omitempty"`
	Message  string         `yaml:"message,omitempty"`
	// Raw is written to the stream verbatim instead of an encoded frame.
	Raw string `yaml:"raw,omitempty"`
}

type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// ScenarioFile is the YAML document accepted by LoadScenarios.
type ScenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

const scenarioPrefix = "/scenario:"

// BuiltinScenarios returns the scripted runs served without a scenario file.
func BuiltinScenarios() map[string]Scenario {
	out := map[string]Scenario{}
	for _, sc := range []Scenario{
		{
			Name: "tap",
			Steps: []Step{
				{Event: stream.KindThinking, Thinking: "The home screen is visible. I need to open the Settings app."},
				{Event: stream.KindAction, Action: map[string]any{"action": "Launch", "app": "Settings"}},
				{Event: stream.KindScreenshot},
				{Event: stream.KindThinking, Thinking: "Settings is open. Tapping the Wi-Fi entry."},
				{Event: stream.KindAction, Action: map[string]any{"action": "Tap", "element": []any{540, 820}}},
				{Event: stream.KindCompleted, Message: "Opened Wi-Fi settings"},
			},
		},
		{
			Name: "takeover",
			Steps: []Step{
				{Event: stream.KindThinking, Thinking: "A login screen is asking for a password."},
				{Event: stream.KindAction, Action: map[string]any{"action": "Take_over", "message": "Please log in"}},
				{Event: stream.KindTakeover, Message: "Please log in, then continue"},
				{Event: stream.KindThinking, Thinking: "Logged in. Opening the inbox."},
				{Event: stream.KindAction, Action: map[string]any{"action": "Tap", "element": []any{200, 400}}},
				{Event: stream.KindCompleted, Message: "Inbox opened"},
			},
		},
		{
			Name: "error",
			Steps: []Step{
				{Event: stream.KindThinking, Thinking: "Trying to reach the device."},
				{Event: stream.KindError, Message: "Device disconnected"},
			},
		},
		{
			Name: "slow",
			Steps: []Step{
				{Event: stream.KindThinking, Thinking: "Scrolling through a long list."},
				{Event: stream.KindAction, Action: map[string]any{"action": "Swipe", "start": []any{500, 1500}, "end": []any{500, 500}}},
				{Event: stream.KindThinking, Delay: 2 * time.Second, Thinking: "Still scrolling."},
				{Event: stream.KindAction, Delay: 2 * time.Second, Action: map[string]any{"action": "Swipe", "start": []any{500, 1500}, "end": []any{500, 500}}},
				{Event: stream.KindThinking, Delay: 5 * time.Second, Thinking: "Reached the end of the list."},
				{Event: stream.KindCompleted, Delay: 5 * time.Second, Message: "Reached the end"},
			},
		},
		{
			Name: "malformed",
			Steps: []Step{
				{Event: stream.KindThinking, Thinking: "Reading the screen."},
				{Raw: "event: thinking\ndata: {not json\n\n"},
				{Raw: "event: telemetry\ndata: {}\n\n"},
				{Event: stream.KindAction, Action: map[string]any{"action": "Back"}},
				{Event: stream.KindCompleted},
			},
		},
	} {
		out[sc.Name] = sc
	}
	return out
}

// LoadScenarios reads a scenario file. Loaded scenarios override built-ins
// of the same name.
func LoadScenarios(path string) (map[string]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scenarios %s: %w", path, err)
	}
	out := BuiltinScenarios()
	for i, sc := range file.Scenarios {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return nil, fmt.Errorf("scenario %d: name is required", i)
		}
		for j, st := range sc.Steps {
			if st.Raw == "" && !st.Event.Valid() {
				return nil, fmt.Errorf("scenario %s step %d: unknown event %q", name, j, st.Event)
			}
		}
		sc.Name = name
		out[name] = sc
	}
	return out, nil
}

// ScenarioNames lists scenario names in sorted order.
func ScenarioNames(scenarios map[string]Scenario) []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pickScenario reads a "/scenario:<name>" prefix off the task; otherwise the
// fallback is used.
func pickScenario(task, fallback string) string {
	task = strings.TrimSpace(task)
	if !strings.HasPrefix(task, scenarioPrefix) {
		return fallback
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(task, scenarioPrefix), " ")
	return strings.TrimSpace(name)
}

// thinkingChunks splits text into a few word-aligned increments.
func thinkingChunks(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}
	if n <= 0 || n > len(words) {
		n = len(words)
	}
	per := (len(words) + n - 1) / n
	var chunks []string
	for i := 0; i < len(words); i += per {
		end := min(i+per, len(words))
		chunk := strings.Join(words[i:end], " ")
		if i > 0 {
			chunk = " " + chunk
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
