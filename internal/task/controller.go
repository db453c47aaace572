// Package task drives one task run at a time against the remote agent: it
// opens the event stream, feeds frames through the step reducer and keeps
// the session timeline that the UI renders.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/stream"
	"github.com/yubzen/phonepilot/internal/timeline"
)

var (
	ErrNoSession       = errors.New("no session selected")
	ErrTaskRunning     = errors.New("a task is already running")
	ErrTakeoverPending = errors.New("manual takeover is pending; finish it on the device and acknowledge")
	ErrNotRunning      = errors.New("no task is running")
	ErrNoTakeover      = errors.New("no takeover is pending")
	ErrEmptyTask       = errors.New("task is empty")
	ErrClosed          = errors.New("controller is closed")
)

// TextTakeoverPending is shown when the server reports a takeover the
// client never saw a frame for.
const TextTakeoverPending = "Manual action is pending on the device"

// Streamer opens the task event stream.
type Streamer interface {
	StreamTask(ctx context.Context, sessionID, task string, agent agentapi.AgentType) (io.ReadCloser, error)
}

// SideChannel carries the short control calls that run beside the stream.
type SideChannel interface {
	Stop(ctx context.Context, sessionID string, force bool) (agentapi.StopResult, error)
	CompleteTakeover(ctx context.Context, sessionID string) (agentapi.TakeoverResult, error)
	Status(ctx context.Context, sessionID string) (agentapi.Status, error)
}

// Directory is the session store.
type Directory interface {
	GetSession(ctx context.Context, sessionID string) (*agentapi.Session, error)
	CreateSession(ctx context.Context, name string, agent agentapi.AgentType) (*agentapi.Session, error)
	ListConversations(ctx context.Context, sessionID string) ([]timeline.Record, error)
}

// Recorder receives every finished turn.
type Recorder interface {
	RecordTurn(ctx context.Context, sessionID string, user, assistant timeline.Message) error
}

type Options struct {
	Streamer    Streamer
	SideChannel SideChannel
	Directory   Directory
	Recorder    Recorder
	Logger      *logger.Logger
	Clock       func() time.Time
	NewID       func() string
	// SideChannelTimeout bounds each detached stop/takeover call.
	SideChannelTimeout time.Duration
	DefaultAgent       agentapi.AgentType
	// OnConnectionError is called once for every connection that fails
	// before a terminal frame.
	OnConnectionError func(sessionID string, err error)
}

// Snapshot is a deep copy of the controller state.
type Snapshot struct {
	SessionID   string
	Session     *agentapi.Session
	Agent       agentapi.AgentType
	Phase       Phase
	LastOutcome Phase
	Messages    []timeline.Message
	Takeover    timeline.Takeover
	Screenshot  *timeline.Screenshot
	Connected   bool
}

// Running reports whether a task run is in flight.
func (s Snapshot) Running() bool {
	return s.Phase == PhaseRunning
}

type run struct {
	id        uint64
	sessionID string
	cancel    context.CancelFunc
	state     timeline.State
	userIdx   int
	msgIdx    int
}

type Controller struct {
	streamer  Streamer
	side      SideChannel
	directory Directory
	recorder  Recorder
	logger    *logger.Logger
	clock     func() time.Time
	newID     func() string
	timeout   time.Duration
	onConnErr func(string, error)

	mu          sync.Mutex
	session     *agentapi.Session
	sessionID   string
	agent       agentapi.AgentType
	messages    []timeline.Message
	phase       Phase
	lastOutcome Phase
	run         *run
	connSeq     uint64
	loadSeq     uint64
	takeover    timeline.Takeover
	screenshot  *timeline.Screenshot
	closed      bool
	changes     chan struct{}

	readers  sync.WaitGroup
	detached sync.WaitGroup
}

func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	timeout := opts.SideChannelTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Controller{
		streamer:  opts.Streamer,
		side:      opts.SideChannel,
		directory: opts.Directory,
		recorder:  opts.Recorder,
		logger:    log.WithComponent("task-controller"),
		clock:     clock,
		newID:     newID,
		timeout:   timeout,
		onConnErr: opts.OnConnectionError,
		agent:     opts.DefaultAgent.Normalize(),
		changes:   make(chan struct{}, 1),
	}
}

// Changes signals after every state change. Signals coalesce; readers call
// Snapshot after each receive. The channel is closed by Close.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notifyLocked() {
	if c.closed {
		return
	}
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		SessionID:   c.sessionID,
		Agent:       c.agent,
		Phase:       c.phase,
		LastOutcome: c.lastOutcome,
		Takeover:    c.takeover,
		Connected:   c.run != nil && c.run.state.Ready,
	}
	if c.session != nil {
		sess := *c.session
		snap.Session = &sess
	}
	if c.screenshot != nil {
		shot := *c.screenshot
		snap.Screenshot = &shot
	}
	snap.Messages = make([]timeline.Message, len(c.messages))
	for i, m := range c.messages {
		snap.Messages[i] = m.Clone()
	}
	return snap
}

// SetAgent picks the agent variant used by the next SendTask.
func (c *Controller) SetAgent(agent agentapi.AgentType) {
	c.mu.Lock()
	c.agent = agent.Normalize()
	c.notifyLocked()
	c.mu.Unlock()
}

// SendTask starts a run for text in the selected session. The stream is
// opened in the background; failures to open surface as a connection error
// on the assistant message.
func (c *Controller) SendTask(ctx context.Context, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := checkContextCancelled(ctx); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyTask
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var reject error
	switch {
	case c.closed:
		reject = ErrClosed
	case c.sessionID == "":
		reject = ErrNoSession
	case c.takeover.Active:
		reject = ErrTakeoverPending
	case c.phase == PhaseRunning:
		reject = ErrTaskRunning
	}
	if reject != nil {
		c.logger.Warn("task rejected",
			zap.String("session_id", c.sessionID),
			zap.Error(reject))
		return reject
	}

	now := c.clock()
	user := timeline.Message{ID: c.newID(), Role: timeline.RoleUser, Content: text, Timestamp: now}
	assistantID := c.newID()
	assistant := timeline.Message{ID: assistantID, Role: timeline.RoleAssistant, IsStreaming: true, Timestamp: now}
	c.messages = append(c.messages, user, assistant)

	c.connSeq++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:        c.connSeq,
		sessionID: c.sessionID,
		cancel:    cancel,
		state:     timeline.NewState(assistantID),
		userIdx:   len(c.messages) - 2,
		msgIdx:    len(c.messages) - 1,
	}
	c.run = r
	c.phase = PhaseRunning
	c.screenshot = nil

	c.logger.Info("task started",
		zap.String("session_id", r.sessionID),
		zap.Uint64("connection", r.id),
		zap.String("agent_type", string(c.agent)))

	c.readers.Add(1)
	go c.readStream(runCtx, r.id, r.sessionID, text, c.agent)

	c.notifyLocked()
	return nil
}

func (c *Controller) readStream(ctx context.Context, connID uint64, sessionID, text string, agent agentapi.AgentType) {
	defer c.readers.Done()

	body, err := c.streamer.StreamTask(ctx, sessionID, text, agent)
	if err != nil {
		c.connectionFailed(connID, err)
		return
	}
	defer func() { _ = body.Close() }()

	parser := stream.NewParser(c.logger)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for f := range parser.Feed(buf[:n]) {
				if !c.applyFrame(connID, f) {
					return
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				readErr = fmt.Errorf("stream ended before a terminal event: %w", io.ErrUnexpectedEOF)
			}
			c.connectionFailed(connID, readErr)
			return
		}
	}
}

// applyFrame reduces one frame into the active run. It returns false once
// the connection is no longer wanted.
func (c *Controller) applyFrame(connID uint64, f stream.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.run
	if r == nil || r.id != connID {
		c.logger.Debug("dropping frame from stale connection",
			zap.Uint64("connection", connID),
			zap.String("event", string(f.Kind)))
		return false
	}

	next, sig := timeline.Reduce(r.state, f, c.clock())
	if sig.OrphanAction {
		c.logger.Warn("action event without an open step; ignored",
			zap.String("session_id", r.sessionID),
			zap.Int("steps", len(r.state.Steps)),
			zap.ByteString("payload", f.Raw))
	}
	r.state = next
	c.messages[r.msgIdx].Steps = cloneSteps(next.Steps)

	switch f.Kind {
	case stream.KindTakeover:
		c.takeover = next.Takeover
		c.logger.Info("takeover requested",
			zap.String("session_id", r.sessionID),
			zap.String("message", next.Takeover.Message))
	case stream.KindScreenshot:
		c.screenshot = next.Screenshot
	}

	done := false
	switch sig.Terminal {
	case stream.KindCompleted:
		c.finishLocked(PhaseCompleted, sig.Message)
		done = true
	case stream.KindStopped:
		c.finishLocked(PhaseStopped, sig.Message)
		done = true
	case stream.KindError:
		c.logger.Warn("task failed on server",
			zap.String("session_id", r.sessionID),
			zap.String("message", sig.Message))
		c.finishLocked(PhaseErrored, sig.Message)
		done = true
	}
	c.notifyLocked()
	return !done
}

// finishLocked finalizes the open assistant message, releases the
// connection and hands the turn to the recorder.
func (c *Controller) finishLocked(outcome Phase, content string) {
	r := c.run
	if r == nil {
		return
	}
	msg := &c.messages[r.msgIdx]
	msg.Content = content
	msg.IsStreaming = false

	c.run = nil
	c.phase = PhaseIdle
	c.lastOutcome = outcome
	r.cancel()

	c.logger.Info("task finished",
		zap.String("session_id", r.sessionID),
		zap.Uint64("connection", r.id),
		zap.String("outcome", outcome.String()),
		zap.Int("steps", len(msg.Steps)))

	if c.recorder != nil {
		user := c.messages[r.userIdx].Clone()
		assistant := msg.Clone()
		sessionID := r.sessionID
		c.detachLocked("record turn", sessionID, func(ctx context.Context) error {
			return c.recorder.RecordTurn(ctx, sessionID, user, assistant)
		})
	}
}

func (c *Controller) connectionFailed(connID uint64, err error) {
	c.mu.Lock()
	r := c.run
	if r == nil || r.id != connID || IsUserCancelled(err) {
		c.mu.Unlock()
		return
	}
	sessionID := r.sessionID
	c.logger.Warn("task connection failed",
		zap.String("session_id", sessionID),
		zap.Uint64("connection", connID),
		zap.Error(err))
	c.finishLocked(PhaseErrored, timeline.TextConnectionLost)
	c.notifyLocked()
	hook := c.onConnErr
	c.mu.Unlock()

	if hook != nil {
		hook(sessionID, err)
	}
}

// cancelRunLocked drops the live connection. The open message is closed
// as stopped but the turn is not recorded.
func (c *Controller) cancelRunLocked() {
	r := c.run
	if r == nil {
		return
	}
	c.logger.Debug("cancelling connection",
		zap.String("session_id", r.sessionID),
		zap.Uint64("connection", r.id))
	r.cancel()
	if msg := &c.messages[r.msgIdx]; msg.IsStreaming {
		msg.IsStreaming = false
		msg.Content = timeline.TextStopped
	}
	c.run = nil
	c.phase = PhaseIdle
}

// Stop ends the running task. The message is finalized as stopped at once;
// the server is told in the background and its answer is only logged.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.run == nil || c.phase != PhaseRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	sessionID := c.run.sessionID
	c.takeover = timeline.Takeover{}
	c.finishLocked(PhaseStopped, timeline.TextStopped)
	c.notifyLocked()
	c.detachLocked("stop", sessionID, func(ctx context.Context) error {
		res, err := c.side.Stop(ctx, sessionID, false)
		if err == nil {
			c.logger.Debug("server stop answered",
				zap.String("session_id", sessionID),
				zap.Bool("stopped", res.Stopped),
				zap.String("message", res.Message))
		}
		return err
	})
	c.mu.Unlock()
	return nil
}

// ForceStop stops any local run and asks the server to release its task
// lock, waiting for the answer.
func (c *Controller) ForceStop(ctx context.Context) (agentapi.StopResult, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	if sessionID == "" {
		c.mu.Unlock()
		return agentapi.StopResult{}, ErrNoSession
	}
	if c.run != nil {
		c.takeover = timeline.Takeover{}
		c.finishLocked(PhaseStopped, timeline.TextStopped)
		c.notifyLocked()
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.side.Stop(ctx, sessionID, true)
}

// AcknowledgeTakeover clears the takeover and tells the server in the
// background. The flag is cleared even if that call fails.
func (c *Controller) AcknowledgeTakeover(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.takeover.Active {
		c.mu.Unlock()
		return ErrNoTakeover
	}
	sessionID := c.sessionID
	c.takeover = timeline.Takeover{}
	if c.run != nil {
		c.run.state.Takeover = timeline.Takeover{}
	}
	c.notifyLocked()
	c.detachLocked("complete takeover", sessionID, func(ctx context.Context) error {
		res, err := c.side.CompleteTakeover(ctx, sessionID)
		if err == nil && !res.Completed {
			c.logger.Warn("server had no pending takeover",
				zap.String("session_id", sessionID),
				zap.String("message", res.Message))
		}
		return err
	})
	c.mu.Unlock()
	return nil
}

// SelectSession switches to sessionID and loads its history.
func (c *Controller) SelectSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrNoSession
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cancelRunLocked()
	c.resetSessionLocked(sessionID, nil)
	seq := c.loadSeq
	c.notifyLocked()
	c.mu.Unlock()

	sess, err := c.directory.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	records, err := c.directory.ListConversations(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", sessionID, err)
	}
	history := timeline.Reconcile(records)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadSeq != seq || c.sessionID != sessionID {
		c.logger.Debug("discarding history for a session no longer selected",
			zap.String("session_id", sessionID))
		return nil
	}
	c.session = sess
	if sess.AgentType != "" {
		c.agent = sess.AgentType.Normalize()
	}
	// a task may have started while history was loading
	c.messages = append(history, c.messages...)
	if c.run != nil {
		c.run.userIdx += len(history)
		c.run.msgIdx += len(history)
	}
	c.notifyLocked()
	return nil
}

// CreateSession creates a session on the server and selects it.
func (c *Controller) CreateSession(ctx context.Context, name string, agent agentapi.AgentType) (*agentapi.Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.cancelRunLocked()
	c.mu.Unlock()

	sess, err := c.directory.CreateSession(ctx, name, agent)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	c.cancelRunLocked()
	cp := *sess
	c.resetSessionLocked(sess.ID, &cp)
	c.agent = agent.Normalize()
	c.notifyLocked()
	c.mu.Unlock()
	return sess, nil
}

func (c *Controller) resetSessionLocked(sessionID string, sess *agentapi.Session) {
	c.loadSeq++
	c.sessionID = sessionID
	c.session = sess
	c.messages = nil
	c.takeover = timeline.Takeover{}
	c.screenshot = nil
	c.lastOutcome = PhaseIdle
}

// SyncStatus asks the server for the session status and raises the
// takeover flag when the server is waiting on one the client missed.
func (c *Controller) SyncStatus(ctx context.Context) (agentapi.Status, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return agentapi.Status{}, ErrNoSession
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	status, err := c.side.Status(ctx, sessionID)
	if err != nil {
		return status, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == sessionID && status.HasTakeover && !c.takeover.Active {
		c.takeover = timeline.Takeover{Active: true, Message: TextTakeoverPending}
		c.notifyLocked()
	}
	return status, nil
}

// detachLocked runs fn in the background with its own timeout. Failures
// are logged only. The caller holds mu, so Close cannot be waiting yet.
func (c *Controller) detachLocked(name, sessionID string, fn func(ctx context.Context) error) {
	if c.closed {
		c.logger.Debug("controller closed; skipping background call",
			zap.String("call", name),
			zap.String("session_id", sessionID))
		return
	}
	c.detached.Add(1)
	go func() {
		defer c.detached.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.logger.Warn("background call failed",
				zap.String("call", name),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()
}

// Close cancels any live connection and waits for background calls.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelRunLocked()
	c.closed = true
	close(c.changes)
	c.mu.Unlock()

	c.readers.Wait()
	c.detached.Wait()
}

func cloneSteps(steps []timeline.Step) []timeline.Step {
	if steps == nil {
		return nil
	}
	out := make([]timeline.Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}
