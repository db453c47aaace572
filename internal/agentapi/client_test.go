package agentapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/timeline"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestClient(fn roundTripFunc) *Client {
	return NewClient(Options{
		BaseURL:    "http://agent.test/",
		Token:      "tok-1",
		HTTPClient: &http.Client{Transport: fn},
		Logger:     logger.Nop(),
	})
}

func TestStreamTaskSendsTaskAndAgentType(t *testing.T) {
	t.Parallel()

	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/agent/s-1/task", r.URL.Path)
		assert.Equal(t, "gelab", r.URL.Query().Get("agent_type"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"task":"open settings"}`, string(body))
		return respond(http.StatusOK, "event: completed\ndata: {}\n\n"), nil
	})

	body, err := client.StreamTask(context.Background(), "s-1", "open settings", "GELAB")
	require.NoError(t, err)
	defer body.Close()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "event: completed")
}

func TestStreamTaskMapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		code  int
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "unauthorized",
			code: http.StatusUnauthorized,
			body: `{"detail":"Invalid token"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuthError(err))
				assert.Contains(t, err.Error(), "Invalid token")
			},
		},
		{
			name: "not found",
			code: http.StatusNotFound,
			body: `{"detail":"Session not found"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsNotFound(err))
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, "Session not found", se.Body)
			},
		},
		{
			name: "secret in body is scrubbed",
			code: http.StatusInternalServerError,
			body: "upstream rejected Bearer supersecret",
			check: func(t *testing.T, err error) {
				assert.NotContains(t, err.Error(), "supersecret")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(func(r *http.Request) (*http.Response, error) {
				return respond(tt.code, tt.body), nil
			})
			_, err := client.StreamTask(context.Background(), "s", "x", AgentGLM)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSideChannelCalls(t *testing.T) {
	t.Parallel()

	var paths []string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.Method+" "+r.URL.RequestURI())
		switch r.URL.Path {
		case "/api/agent/s/stop":
			return respond(http.StatusOK, `{"stopped":true,"message":"Task force stopped and lock released"}`), nil
		case "/api/agent/s/takeover/complete":
			return respond(http.StatusOK, `{"completed":false,"message":"No active takeover"}`), nil
		case "/api/agent/s/status":
			return respond(http.StatusOK, `{"is_connected":true,"is_task_running":false,"has_takeover":true}`), nil
		case "/api/agent/s/agent":
			return respond(http.StatusOK, `{"disconnected":true}`), nil
		}
		return respond(http.StatusNotFound, ""), nil
	})
	ctx := context.Background()

	stop, err := client.Stop(ctx, "s", true)
	require.NoError(t, err)
	assert.True(t, stop.Stopped)

	tk, err := client.CompleteTakeover(ctx, "s")
	require.NoError(t, err)
	assert.False(t, tk.Completed)

	st, err := client.Status(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, Status{IsConnected: true, HasTakeover: true}, st)

	require.NoError(t, client.Disconnect(ctx, "s"))

	assert.Equal(t, []string{
		"POST /api/agent/s/stop?force=true",
		"POST /api/agent/s/takeover/complete",
		"GET /api/agent/s/status",
		"DELETE /api/agent/s/agent",
	}, paths)
}

func TestSessionDirectory(t *testing.T) {
	t.Parallel()

	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions":
			return respond(http.StatusOK, `[{"id":"abcdef123456","agent_type":"glm","status":"active","created_at":"2026-01-02T03:04:05.000001","updated_at":null}]`), nil
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions":
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"name":"work phone","agent_type":"gelab"}`, string(body))
			return respond(http.StatusOK, `{"id":"new","name":"work phone","agent_type":"gelab","status":"creating","created_at":"2026-01-02T03:04:05Z","updated_at":"2026-01-02T03:04:05Z"}`), nil
		case r.URL.Path == "/api/sessions/new/conversations":
			return respond(http.StatusOK, `{"conversations":[{"id":"c1","session_id":"new","role":"user","content":"hi","thinking":null,"action":null,"created_at":"2026-01-02T03:04:06"}]}`), nil
		case r.Method == http.MethodDelete && r.URL.Path == "/api/sessions/new":
			return respond(http.StatusOK, `{"status":"deleted","session_id":"new"}`), nil
		}
		return respond(http.StatusNotFound, `{"detail":"Not Found"}`), nil
	})
	ctx := context.Background()

	sessions, err := client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "abcdef12", sessions[0].DisplayName())
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 1000, time.UTC), sessions[0].CreatedAt.Time)
	assert.True(t, sessions[0].UpdatedAt.IsZero())

	created, err := client.CreateSession(ctx, " work phone ", AgentGELab)
	require.NoError(t, err)
	assert.Equal(t, "work phone", created.DisplayName())

	records, err := client.ListConversations(ctx, "new")
	require.NoError(t, err)
	require.Len(t, records, 1)
	msgs := timeline.Reconcile(records)
	assert.Equal(t, timeline.RoleUser, msgs[0].Role)
	assert.Empty(t, msgs[0].Steps)

	require.NoError(t, client.DeleteSession(ctx, "new"))

	_, err = client.GetSession(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestPingChecksHealthEndpoint(t *testing.T) {
	t.Parallel()

	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "/health", r.URL.Path)
		return respond(http.StatusOK, `{"status":"healthy"}`), nil
	})
	assert.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "http://agent.test", client.Name())
}
