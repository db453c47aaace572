// Package stream decodes the agent's server-sent event channel into typed frames.
package stream

import (
	"encoding/json"
	"fmt"
)

// Kind names an event on the task stream.
type Kind string

const (
	KindReady      Kind = "ready"
	KindThinking   Kind = "thinking"
	KindAction     Kind = "action"
	KindScreenshot Kind = "screenshot"
	KindTakeover   Kind = "takeover"
	KindCompleted  Kind = "completed"
	KindError      Kind = "error"
	KindStopped    Kind = "stopped"
)

func (k Kind) Valid() bool {
	switch k {
	case KindReady, KindThinking, KindAction, KindScreenshot,
		KindTakeover, KindCompleted, KindError, KindStopped:
		return true
	}
	return false
}

// Terminal reports whether the kind ends a run.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindError || k == KindStopped
}

// Frame is one decoded event. Payload holds one of the *Payload types below,
// matching Kind.
type Frame struct {
	Kind    Kind
	Payload any
	Raw     json.RawMessage
}

type ReadyPayload struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ThinkingPayload carries reasoning text. Full, when present, is the whole
// text so far; Chunk is the increment.
type ThinkingPayload struct {
	Chunk     string   `json:"chunk"`
	Full      *string  `json:"full,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type ActionPayload struct {
	Action    map[string]any `json:"action"`
	Duration  *float64       `json:"duration,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type ScreenshotPayload struct {
	Base64    string `json:"base64"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// MessagePayload is shared by takeover, completed, error and stopped.
type MessagePayload struct {
	Message   *string `json:"message,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// Text returns the message or fallback when the server sent none.
func (p MessagePayload) Text(fallback string) string {
	if p.Message == nil || *p.Message == "" {
		return fallback
	}
	return *p.Message
}

func decodePayload(kind Kind, data []byte) (any, error) {
	switch kind {
	case KindReady:
		var p ReadyPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindThinking:
		var p ThinkingPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindAction:
		var p ActionPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindScreenshot:
		var p ScreenshotPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindTakeover, KindCompleted, KindError, KindStopped:
		var p MessagePayload
		err := json.Unmarshal(data, &p)
		return p, err
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}
