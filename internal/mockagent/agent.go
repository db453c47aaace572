package mockagent

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/stream"
	"github.com/yubzen/phonepilot/internal/timeline"
)

var (
	errStopRequested  = errors.New("stop requested")
	errDisconnected   = errors.New("agent disconnected")
	errSessionDeleted = errors.New("session deleted")
	errServerShutdown = errors.New("server shutting down")
)

const (
	textInterrupted = "Task interrupted"
	// 1x1 PNG
	placeholderScreenshot = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="
)

type taskRequest struct {
	Task string `json:"task"`
}

func (s *Server) handleTask(c *gin.Context) {
	id := c.Param("id")
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Task) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Task is required"})
		return
	}
	if raw := c.Query("agent_type"); raw != "" && !agentapi.AgentType(raw).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Unknown agent_type " + raw})
		return
	}
	name := pickScenario(req.Task, s.fallback)
	sc, ok := s.scenarios[name]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Unknown scenario " + name})
		return
	}

	ctx, cancel := context.WithCancelCause(c.Request.Context())
	defer cancel(nil)

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		notFound(c)
		return
	}
	if sess.running {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"detail": "A task is already running for this session"})
		return
	}
	sess.running = true
	sess.connected = true
	sess.stop = cancel
	sess.runs++
	r := &run{
		server:    s,
		sessionID: id,
		deviceID:  sess.info.DeviceID,
		seq:       sess.runs,
		state:     timeline.NewState(uuid.New().String()),
		logger:    s.logger.WithSessionID(id),
	}
	s.mu.Unlock()
	defer r.release()

	r.logger.Info("task started", zap.String("scenario", sc.Name))
	s.recordConversation(id, timeline.RoleUser, strings.TrimSpace(req.Task), nil)
	r.w = startSSE(c)
	r.play(ctx, sc)
}

// run is one scripted task execution bound to an open stream.
type run struct {
	server    *Server
	w         *sseWriter
	sessionID string
	deviceID  string
	seq       int
	state     timeline.State
	logger    *logger.Logger
	finished  bool
}

func (r *run) play(ctx context.Context, sc Scenario) {
	s := r.server
	if err := r.emit(stream.KindReady, stream.ReadyPayload{
		SessionID: r.sessionID,
		DeviceID:  r.deviceID,
		Timestamp: s.timestamp(),
	}); err != nil {
		r.interrupted(ctx, err)
		return
	}

	for _, st := range sc.Steps {
		delay := s.stepDelay + st.Delay
		if err := r.wait(ctx, nil, delay); err != nil {
			r.interrupted(ctx, err)
			return
		}
		if err := r.step(ctx, st, delay); err != nil {
			r.interrupted(ctx, err)
			return
		}
		if r.finished {
			return
		}
	}
	// scripts without a terminal event still end the run
	r.terminal(stream.KindCompleted, "")
}

func (r *run) step(ctx context.Context, st Step, delay time.Duration) error {
	s := r.server
	if st.Raw != "" {
		return r.w.raw(st.Raw)
	}
	seconds := delay.Seconds()
	switch st.Event {
	case stream.KindThinking:
		full := ""
		chunks := thinkingChunks(st.Thinking, 3)
		for i, chunk := range chunks {
			full += chunk
			text := full
			p := stream.ThinkingPayload{Chunk: chunk, Full: &text, Timestamp: s.timestamp()}
			if i == len(chunks)-1 {
				p.Duration = &seconds
			}
			if err := r.emit(stream.KindThinking, p); err != nil {
				return err
			}
		}
		return nil
	case stream.KindAction:
		return r.emit(stream.KindAction, stream.ActionPayload{
			Action:    st.Action,
			Duration:  &seconds,
			Timestamp: s.timestamp(),
		})
	case stream.KindScreenshot:
		return r.emit(stream.KindScreenshot, stream.ScreenshotPayload{
			Base64:    placeholderScreenshot,
			Width:     1,
			Height:    1,
			Timestamp: s.timestamp(),
		})
	case stream.KindTakeover:
		return r.takeover(ctx, st.Message)
	case stream.KindCompleted, stream.KindError, stream.KindStopped:
		r.terminal(st.Event, st.Message)
		return nil
	}
	return nil
}

// takeover announces a manual step and blocks until takeover/complete.
func (r *run) takeover(ctx context.Context, message string) error {
	s := r.server
	done := make(chan struct{})
	s.mu.Lock()
	if sess, ok := s.sessions[r.sessionID]; ok {
		sess.takeover = done
	}
	s.mu.Unlock()

	msg := message
	if err := r.emit(stream.KindTakeover, stream.MessagePayload{Message: &msg, Timestamp: s.timestamp()}); err != nil {
		return err
	}
	r.logger.Info("waiting for takeover completion")
	return r.wait(ctx, done, 0)
}

// wait blocks until until is closed, the delay elapses or ctx ends, sending
// keep-alive comments meanwhile. A nil until with a zero delay returns at
// once.
func (r *run) wait(ctx context.Context, until <-chan struct{}, delay time.Duration) error {
	var timeout <-chan time.Time
	if until == nil {
		if delay <= 0 {
			return context.Cause(ctx)
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		timeout = timer.C
	}
	tick := time.NewTicker(r.server.keepAlive)
	defer tick.Stop()
	for {
		select {
		case <-until:
			return nil
		case <-timeout:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-tick.C:
			if err := r.w.keepAlive(); err != nil {
				return err
			}
		}
	}
}

func (r *run) emit(kind stream.Kind, payload any) error {
	if err := r.w.frame(kind, payload); err != nil {
		return err
	}
	r.state, _ = timeline.Reduce(r.state, stream.Frame{Kind: kind, Payload: payload}, r.server.now())
	return nil
}

// terminal persists the run and releases the session before the final
// frame goes out, so a client that reacts to it sees a consistent server.
func (r *run) terminal(kind stream.Kind, message string) {
	var payload stream.MessagePayload
	if message != "" {
		payload.Message = &message
	}
	payload.Timestamp = r.server.timestamp()
	content := payload.Text(defaultText(kind))
	r.save(content)
	r.release()
	if err := r.w.frame(kind, payload); err != nil {
		r.logger.Debug("terminal frame not delivered", zap.Error(err))
	}
	r.finished = true
	r.logger.Info("task finished", zap.String("outcome", string(kind)))
}

// interrupted ends a run cut short by a stop request, a disconnect or a
// dead client.
func (r *run) interrupted(ctx context.Context, err error) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errStopRequested):
		r.terminal(stream.KindStopped, timeline.TextStopped)
	case errors.Is(cause, errDisconnected):
		r.terminal(stream.KindStopped, "Agent disconnected")
	case errors.Is(cause, errSessionDeleted):
		r.terminal(stream.KindError, "Session deleted")
	case errors.Is(cause, errServerShutdown):
		r.terminal(stream.KindError, "Server shutting down")
	default:
		r.logger.Info("client went away", zap.Error(err))
		r.save(textInterrupted)
		r.release()
		r.finished = true
	}
}

// save stores the assistant turn when at least one step was produced.
func (r *run) save(content string) {
	if r.finished || len(r.state.Steps) == 0 {
		return
	}
	action, err := timeline.EncodeSteps(r.state.Steps)
	if err != nil {
		r.logger.Warn("encode steps", zap.Error(err))
		return
	}
	r.server.recordConversation(r.sessionID, timeline.RoleAssistant, content, action)
}

// release clears the running flag unless a newer run already owns it.
func (r *run) release() {
	s := r.server
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.sessionID]
	if !ok || sess.runs != r.seq {
		return
	}
	sess.running = false
	sess.stop = nil
	sess.takeover = nil
}

func defaultText(kind stream.Kind) string {
	switch kind {
	case stream.KindStopped:
		return timeline.TextStopped
	case stream.KindError:
		return timeline.TextFailed
	}
	return timeline.TextCompleted
}

func (s *Server) handleStop(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		notFound(c)
		return
	}
	running := sess.running
	if sess.stop != nil {
		sess.stop(errStopRequested)
	}
	if force {
		sess.running = false
		sess.stop = nil
		sess.takeover = nil
	}
	s.mu.Unlock()

	switch {
	case force:
		c.JSON(http.StatusOK, agentapi.StopResult{Stopped: true, Message: "Task force stopped and lock released"})
	case running:
		c.JSON(http.StatusOK, agentapi.StopResult{Stopped: true, Message: "Stop signal sent"})
	default:
		c.JSON(http.StatusOK, agentapi.StopResult{Stopped: false, Message: "No task is running"})
	}
}

func (s *Server) handleTakeoverComplete(c *gin.Context) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	var pending chan struct{}
	if ok {
		pending = sess.takeover
		sess.takeover = nil
	}
	s.mu.Unlock()
	if !ok {
		notFound(c)
		return
	}
	if pending == nil {
		c.JSON(http.StatusOK, agentapi.TakeoverResult{Completed: false, Message: "No active takeover"})
		return
	}
	close(pending)
	c.JSON(http.StatusOK, agentapi.TakeoverResult{Completed: true, Message: "Takeover completed"})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	var st agentapi.Status
	if ok {
		st = agentapi.Status{
			IsConnected:   sess.connected,
			IsTaskRunning: sess.running,
			HasTakeover:   sess.takeover != nil,
		}
	}
	s.mu.Unlock()
	if !ok {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	if ok {
		if sess.stop != nil {
			sess.stop(errDisconnected)
		}
		sess.connected = false
	}
	s.mu.Unlock()
	if !ok {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}
