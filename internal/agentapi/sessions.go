package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yubzen/phonepilot/internal/timeline"
)

// Timestamp decodes the ISO timestamps the server emits, with or without a
// zone.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// null or non-string
		t.Time = time.Time{}
		return nil
	}
	parsed, err := timeline.ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	AgentType   AgentType `json:"agent_type"`
	DeviceID    string    `json:"device_id,omitempty"`
	ResourceURL string    `json:"resource_url,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

// DisplayName is the session name or a short form of its id.
func (s Session) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}

type createSessionRequest struct {
	Name      string    `json:"name,omitempty"`
	AgentType AgentType `json:"agent_type"`
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix
}

func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSession(ctx context.Context, name string, agent AgentType) (*Session, error) {
	req := createSessionRequest{Name: strings.TrimSpace(name), AgentType: agent.Normalize()}
	var out Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, nil)
}

// ListConversations returns the stored conversation rows of a session,
// oldest first.
func (c *Client) ListConversations(ctx context.Context, sessionID string) ([]timeline.Record, error) {
	var out struct {
		Conversations []timeline.Record `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID, "/conversations"), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}
