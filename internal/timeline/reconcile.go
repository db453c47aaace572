package timeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is one stored conversation row as served by the session directory.
type Record struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Thinking  *string         `json:"thinking,omitempty"`
	Action    json.RawMessage `json:"action,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// Encoding is the storage shape of a record's step data. It is one of
// StepsEncoding, LegacyEncoding or PlainEncoding.
type Encoding interface {
	steps(recordID string) []Step
}

// StepsEncoding is the current shape: action column = {"steps":[...]}.
type StepsEncoding struct {
	Steps []StoredStep
}

// StoredStep mirrors a step as persisted. Missing fields are filled in by
// Reconcile.
type StoredStep struct {
	ID               string     `json:"id,omitempty"`
	StepNumber       *int       `json:"stepNumber,omitempty"`
	Thinking         string     `json:"thinking,omitempty"`
	ThinkingDuration *float64   `json:"thinkingDuration,omitempty"`
	Action           Action     `json:"action,omitempty"`
	ActionDuration   *float64   `json:"actionDuration,omitempty"`
	Status           StepStatus `json:"status,omitempty"`
	Timestamp        string     `json:"timestamp,omitempty"`
}

// LegacyEncoding is the older flat shape: one thinking text and one action
// record on the row itself.
type LegacyEncoding struct {
	Thinking string
	Action   Action
}

// PlainEncoding carries no step data.
type PlainEncoding struct{}

func (e StepsEncoding) steps(recordID string) []Step {
	out := make([]Step, 0, len(e.Steps))
	for i, st := range e.Steps {
		n := i + 1
		if st.StepNumber != nil {
			n = *st.StepNumber
		}
		status := st.Status
		if status == "" {
			status = StatusCompleted
		}
		id := st.ID
		if id == "" {
			id = stepID(recordID, n)
		}
		ts, _ := ParseTimestamp(st.Timestamp)
		out = append(out, Step{
			ID:               id,
			StepNumber:       n,
			Thinking:         st.Thinking,
			ThinkingDuration: cloneFloat(st.ThinkingDuration),
			Action:           cloneAction(st.Action),
			ActionDuration:   cloneFloat(st.ActionDuration),
			Status:           status,
			Timestamp:        ts,
		})
	}
	return out
}

func (e LegacyEncoding) steps(recordID string) []Step {
	return []Step{{
		ID:         stepID(recordID, 1),
		StepNumber: 1,
		Thinking:   e.Thinking,
		Action:     cloneAction(e.Action),
		Status:     StatusCompleted,
	}}
}

func (PlainEncoding) steps(string) []Step {
	return nil
}

var errNotObject = errors.New("action column is not a JSON object")

// DecodeRecord classifies the step data stored on r. When the action column
// cannot be decoded the error is returned together with the encoding of
// what remains usable: the thinking text alone, or nothing.
func DecodeRecord(r Record) (Encoding, error) {
	thinking := ""
	if r.Thinking != nil {
		thinking = *r.Thinking
	}
	fallback := thinkingOnly(thinking)

	raw := bytes.TrimSpace(r.Action)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback, nil
	}

	// Some stores hand the JSON column back as a quoted string.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fallback, fmt.Errorf("decode action column: %w", err)
		}
		raw = bytes.TrimSpace([]byte(inner))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return fallback, errNotObject
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fallback, fmt.Errorf("decode action column: %w", err)
	}
	if stepsRaw, ok := probe["steps"]; ok && bytes.HasPrefix(bytes.TrimSpace(stepsRaw), []byte("[")) {
		var steps []StoredStep
		if err := json.Unmarshal(stepsRaw, &steps); err != nil {
			return fallback, fmt.Errorf("decode steps: %w", err)
		}
		return StepsEncoding{Steps: steps}, nil
	}

	var action Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return fallback, fmt.Errorf("decode legacy action: %w", err)
	}
	return LegacyEncoding{Thinking: thinking, Action: action}, nil
}

func thinkingOnly(thinking string) Encoding {
	if strings.TrimSpace(thinking) == "" {
		return PlainEncoding{}
	}
	return LegacyEncoding{Thinking: thinking}
}

// Reconcile converts stored records into canonical messages. Records whose
// action data cannot be decoded keep their text and any thinking.
func Reconcile(records []Record) []Message {
	out := make([]Message, 0, len(records))
	for _, r := range records {
		enc, _ := DecodeRecord(r)
		ts, _ := ParseTimestamp(r.CreatedAt)
		role := r.Role
		if role == "" {
			role = RoleAssistant
		}
		out = append(out, Message{
			ID:        r.ID,
			Role:      role,
			Content:   r.Content,
			Steps:     enc.steps(r.ID),
			Timestamp: ts,
		})
	}
	return out
}

// EncodeSteps renders steps in the current storage shape.
func EncodeSteps(steps []Step) (json.RawMessage, error) {
	stored := make([]StoredStep, 0, len(steps))
	for _, s := range steps {
		n := s.StepNumber
		st := StoredStep{
			ID:               s.ID,
			StepNumber:       &n,
			Thinking:         s.Thinking,
			ThinkingDuration: s.ThinkingDuration,
			Action:           s.Action,
			ActionDuration:   s.ActionDuration,
			Status:           s.Status,
		}
		if !s.Timestamp.IsZero() {
			st.Timestamp = s.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		stored = append(stored, st)
	}
	return json.Marshal(map[string]any{"steps": stored})
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 and the zone-less ISO forms some backends
// emit; zone-less values are taken as UTC.
func ParseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
