package mockagent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/stream"
	"github.com/yubzen/phonepilot/internal/task"
	"github.com/yubzen/phonepilot/internal/timeline"
)

func newTestServer(t *testing.T, opts Options) (*Server, *agentapi.Client) {
	t.Helper()
	if opts.StepDelay == 0 {
		opts.StepDelay = -1
	}
	opts.Logger = logger.Nop()
	srv, err := New(opts)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	// runs before ts.Close so blocked streams end
	t.Cleanup(srv.stopAll)

	client := agentapi.NewClient(agentapi.Options{
		BaseURL: ts.URL,
		Token:   opts.Token,
		Timeout: 5 * time.Second,
		Logger:  logger.Nop(),
	})
	return srv, client
}

// frames reads body on a goroutine and delivers parsed frames until EOF.
func frames(body io.ReadCloser) <-chan stream.Frame {
	out := make(chan stream.Frame, 64)
	go func() {
		defer close(out)
		defer body.Close()
		p := stream.NewParser(logger.Nop())
		buf := make([]byte, 1024)
		for {
			n, err := body.Read(buf)
			for f := range p.Feed(buf[:n]) {
				out <- f
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func drain(t *testing.T, ch <-chan stream.Frame) []stream.Frame {
	t.Helper()
	var out []stream.Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatalf("stream did not end; got %d frames", len(out))
		}
	}
}

func waitFor(t *testing.T, ch <-chan stream.Frame, kind stream.Kind) []stream.Frame {
	t.Helper()
	var out []stream.Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				t.Fatalf("stream ended before %s", kind)
			}
			out = append(out, f)
			if f.Kind == kind {
				return out
			}
		case <-timeout:
			t.Fatalf("no %s frame", kind)
		}
	}
}

// kinds lists frame kinds with consecutive duplicates collapsed.
func kinds(fs []stream.Frame) []stream.Kind {
	var out []stream.Kind
	for _, f := range fs {
		if len(out) > 0 && out[len(out)-1] == f.Kind {
			continue
		}
		out = append(out, f.Kind)
	}
	return out
}

func TestHealth(t *testing.T) {
	_, client := newTestServer(t, Options{})
	status := agentapi.CheckAll(context.Background(), []agentapi.Pinger{client})
	require.Len(t, status, 1)
	assert.True(t, status[0].IsOnline, status[0].ErrorMsg)
}

func TestSessionDirectory(t *testing.T) {
	_, client := newTestServer(t, Options{})
	ctx := context.Background()

	created, err := client.CreateSession(ctx, "pixel", agentapi.AgentGELab)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, agentapi.AgentGELab, created.AgentType)
	assert.Equal(t, "active", created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	list, err := client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	got, err := client.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "pixel", got.Name)

	records, err := client.ListConversations(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, client.DeleteSession(ctx, created.ID))
	_, err = client.GetSession(ctx, created.ID)
	assert.True(t, agentapi.IsNotFound(err), "got %v", err)
	assert.True(t, agentapi.IsNotFound(client.DeleteSession(ctx, created.ID)))
}

func TestTokenRequired(t *testing.T) {
	_, client := newTestServer(t, Options{Token: "secret"})
	_, err := client.ListSessions(context.Background())
	require.NoError(t, err)

	anon := agentapi.NewClient(agentapi.Options{BaseURL: client.BaseURL(), Logger: logger.Nop()})
	_, err = anon.ListSessions(context.Background())
	assert.True(t, agentapi.IsAuthError(err), "got %v", err)

	// health stays open
	resp, err := http.Get(client.BaseURL() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTapScenarioStreamsAndStoresSteps(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	ctx := context.Background()
	sess := srv.CreateSession("", agentapi.AgentGLM)

	body, err := client.StreamTask(ctx, sess.ID, "open wifi settings", agentapi.AgentGLM)
	require.NoError(t, err)
	got := drain(t, frames(body))

	assert.Equal(t, []stream.Kind{
		stream.KindReady,
		stream.KindThinking,
		stream.KindAction,
		stream.KindScreenshot,
		stream.KindThinking,
		stream.KindAction,
		stream.KindCompleted,
	}, kinds(got))

	ready, ok := got[0].Payload.(stream.ReadyPayload)
	require.True(t, ok)
	assert.Equal(t, sess.ID, ready.SessionID)
	assert.Equal(t, sess.DeviceID, ready.DeviceID)

	records, err := client.ListConversations(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	msgs := timeline.Reconcile(records)
	require.Len(t, msgs, 2)
	assert.Equal(t, timeline.RoleUser, msgs[0].Role)
	assert.Equal(t, "open wifi settings", msgs[0].Content)
	assert.Equal(t, timeline.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Opened Wi-Fi settings", msgs[1].Content)
	require.Len(t, msgs[1].Steps, 2)
	assert.Equal(t, "The home screen is visible. I need to open the Settings app.", msgs[1].Steps[0].Thinking)
	assert.Equal(t, "Launch", msgs[1].Steps[0].Action.Name())
	assert.Equal(t, "Tap", msgs[1].Steps[1].Action.Name())
	assert.Equal(t, timeline.StatusCompleted, msgs[1].Steps[1].Status)

	st, err := client.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, st.IsConnected)
	assert.False(t, st.IsTaskRunning)
}

func TestMalformedScenarioSkipsBadFrames(t *testing.T) {
	srv, client := newTestServer(t, Options{Scenario: "malformed"})
	sess := srv.CreateSession("", "")

	body, err := client.StreamTask(context.Background(), sess.ID, "go back", "")
	require.NoError(t, err)
	got := drain(t, frames(body))

	assert.Equal(t, []stream.Kind{
		stream.KindReady,
		stream.KindThinking,
		stream.KindAction,
		stream.KindCompleted,
	}, kinds(got))
	last, ok := got[len(got)-1].Payload.(stream.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, timeline.TextCompleted, last.Text(timeline.TextCompleted))
}

func TestErrorScenarioKeepsOpenStep(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	ctx := context.Background()
	sess := srv.CreateSession("", "")

	body, err := client.StreamTask(ctx, sess.ID, "/scenario:error anything", "")
	require.NoError(t, err)
	got := drain(t, frames(body))
	assert.Equal(t, []stream.Kind{stream.KindReady, stream.KindThinking, stream.KindError}, kinds(got))

	records, err := client.ListConversations(ctx, sess.ID)
	require.NoError(t, err)
	msgs := timeline.Reconcile(records)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Device disconnected", msgs[1].Content)
	require.Len(t, msgs[1].Steps, 1)
	assert.Equal(t, timeline.StatusThinking, msgs[1].Steps[0].Status)
}

func TestTakeoverPausesUntilComplete(t *testing.T) {
	srv, client := newTestServer(t, Options{Scenario: "takeover"})
	ctx := context.Background()
	sess := srv.CreateSession("", "")

	res, err := client.CompleteTakeover(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, res.Completed)

	body, err := client.StreamTask(ctx, sess.ID, "check mail", "")
	require.NoError(t, err)
	ch := frames(body)
	head := waitFor(t, ch, stream.KindTakeover)
	msg, ok := head[len(head)-1].Payload.(stream.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "Please log in, then continue", msg.Text(""))

	st, err := client.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, st.IsTaskRunning)
	assert.True(t, st.HasTakeover)

	res, err = client.CompleteTakeover(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, res.Completed)

	rest := drain(t, ch)
	require.NotEmpty(t, rest)
	assert.Equal(t, stream.KindCompleted, rest[len(rest)-1].Kind)

	st, err = client.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, st.HasTakeover)
}

func TestStopEndsSlowRun(t *testing.T) {
	srv, client := newTestServer(t, Options{Scenario: "slow"})
	ctx := context.Background()
	sess := srv.CreateSession("", "")

	res, err := client.Stop(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.False(t, res.Stopped)

	body, err := client.StreamTask(ctx, sess.ID, "scroll", "")
	require.NoError(t, err)
	ch := frames(body)
	waitFor(t, ch, stream.KindAction)

	_, err = client.StreamTask(ctx, sess.ID, "another", "")
	var se *agentapi.StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusConflict, se.Code)

	res, err = client.Stop(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.True(t, res.Stopped)

	rest := drain(t, ch)
	require.NotEmpty(t, rest)
	last := rest[len(rest)-1]
	assert.Equal(t, stream.KindStopped, last.Kind)

	st, err := client.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, st.IsTaskRunning)

	records, err := client.ListConversations(ctx, sess.ID)
	require.NoError(t, err)
	msgs := timeline.Reconcile(records)
	// the rejected task never reached the store
	require.Len(t, msgs, 2)
	assert.Equal(t, timeline.TextStopped, msgs[1].Content)
}

func TestForceStopAndDisconnect(t *testing.T) {
	srv, client := newTestServer(t, Options{Scenario: "slow"})
	ctx := context.Background()
	sess := srv.CreateSession("", "")

	body, err := client.StreamTask(ctx, sess.ID, "scroll", "")
	require.NoError(t, err)
	ch := frames(body)
	waitFor(t, ch, stream.KindThinking)

	res, err := client.Stop(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Contains(t, res.Message, "lock released")
	drain(t, ch)

	require.NoError(t, client.Disconnect(ctx, sess.ID))
	st, err := client.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, st.IsConnected)
	assert.False(t, st.IsTaskRunning)

	_, err = client.Status(ctx, "missing")
	assert.True(t, agentapi.IsNotFound(err))
}

func TestTaskValidation(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	ctx := context.Background()
	sess := srv.CreateSession("", "")

	_, err := client.StreamTask(ctx, sess.ID, "   ", "")
	var se *agentapi.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)

	_, err = client.StreamTask(ctx, sess.ID, "/scenario:nope go", "")
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Body, "Unknown scenario nope")

	_, err = client.StreamTask(ctx, "missing", "go", "")
	assert.True(t, agentapi.IsNotFound(err))
}

func TestControllerAgainstMockAgent(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	ctx := context.Background()
	sess := srv.CreateSession("e2e", agentapi.AgentGELab)

	ctrl := task.New(task.Options{
		Streamer:    client,
		SideChannel: client,
		Directory:   client,
		Logger:      logger.Nop(),
	})
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.SelectSession(ctx, sess.ID))
	assert.Equal(t, agentapi.AgentGELab, ctrl.Snapshot().Agent)
	require.NoError(t, ctrl.SendTask(ctx, "open wifi settings"))

	require.Eventually(t, func() bool {
		s := ctrl.Snapshot()
		return !s.Running() && s.LastOutcome == task.PhaseCompleted
	}, 5*time.Second, 10*time.Millisecond)

	live := ctrl.Snapshot().Messages
	require.Len(t, live, 2)
	assert.Equal(t, "Opened Wi-Fi settings", live[1].Content)
	require.Len(t, live[1].Steps, 2)
	assert.NotNil(t, ctrl.Snapshot().Screenshot)

	// a fresh controller rebuilds the same timeline from history
	other := task.New(task.Options{Streamer: client, SideChannel: client, Directory: client, Logger: logger.Nop()})
	t.Cleanup(other.Close)
	require.NoError(t, other.SelectSession(ctx, sess.ID))
	stored := other.Snapshot().Messages
	require.Len(t, stored, 2)
	assert.Equal(t, live[0].Content, stored[0].Content)
	assert.Equal(t, live[1].Content, stored[1].Content)
	require.Len(t, stored[1].Steps, 2)
	for i := range live[1].Steps {
		assert.Equal(t, live[1].Steps[i].StepNumber, stored[1].Steps[i].StepNumber)
		assert.Equal(t, live[1].Steps[i].Thinking, stored[1].Steps[i].Thinking)
		assert.Equal(t, live[1].Steps[i].Action, stored[1].Steps[i].Action)
		assert.Equal(t, live[1].Steps[i].Status, stored[1].Steps[i].Status)
	}
}

func TestControllerTakeoverRoundTrip(t *testing.T) {
	srv, client := newTestServer(t, Options{Scenario: "takeover"})
	ctx := context.Background()
	sess := srv.CreateSession("", "")

	ctrl := task.New(task.Options{Streamer: client, SideChannel: client, Directory: client, Logger: logger.Nop()})
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.SelectSession(ctx, sess.ID))
	require.NoError(t, ctrl.SendTask(ctx, "check mail"))

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Takeover.Active
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, ctrl.SendTask(ctx, "again"), task.ErrTakeoverPending)

	require.NoError(t, ctrl.AcknowledgeTakeover(ctx))
	require.Eventually(t, func() bool {
		s := ctrl.Snapshot()
		return !s.Running() && s.LastOutcome == task.PhaseCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, ctrl.Snapshot().Takeover.Active)
}

func TestLoadScenarios(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  - name: custom
    steps:
      - event: thinking
        thinking: look at the screen
        delay: 10ms
      - event: action
        action:
          action: Type
          text: hello
      - event: completed
        message: typed
`), 0o600))

	got, err := LoadScenarios(path)
	require.NoError(t, err)
	assert.Contains(t, got, "tap")
	custom := got["custom"]
	require.Len(t, custom.Steps, 3)
	assert.Equal(t, 10*time.Millisecond, custom.Steps[0].Delay)
	assert.Equal(t, "Type", custom.Steps[1].Action["action"])

	srv, client := newTestServer(t, Options{Scenarios: got, Scenario: "custom"})
	sess := srv.CreateSession("", "")
	body, err := client.StreamTask(context.Background(), sess.ID, "type hello", "")
	require.NoError(t, err)
	streamed := drain(t, frames(body))
	assert.Equal(t, []stream.Kind{stream.KindReady, stream.KindThinking, stream.KindAction, stream.KindCompleted}, kinds(streamed))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("scenarios:\n  - name: x\n    steps:\n      - event: telemetry\n"), 0o600))
	_, err = LoadScenarios(bad)
	assert.ErrorContains(t, err, "unknown event")
}

func TestNewRejectsUnknownScenario(t *testing.T) {
	_, err := New(Options{Scenario: "missing", Logger: logger.Nop()})
	assert.ErrorContains(t, err, "unknown scenario")
}

func TestPickScenario(t *testing.T) {
	tests := []struct {
		task string
		want string
	}{
		{task: "open settings", want: "tap"},
		{task: "/scenario:slow scroll down", want: "slow"},
		{task: "  /scenario:error", want: "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pickScenario(tt.task, "tap"), tt.task)
	}
}

func TestThinkingChunksRebuildText(t *testing.T) {
	text := "one two three four five six seven"
	chunks := thinkingChunks(text, 3)
	assert.Len(t, chunks, 3)
	joined := ""
	for _, c := range chunks {
		joined += c
	}
	assert.Equal(t, text, joined)
	assert.Equal(t, []string{""}, thinkingChunks("", 3))
}
