// Package mockagent is a local stand-in for the remote phone agent service.
// It serves the session directory and the task stream with scripted
// scenarios instead of driving a real device.
package mockagent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/timeline"
)

const (
	defaultStepDelay = 150 * time.Millisecond
	defaultKeepAlive = 15 * time.Second
)

type Options struct {
	// Scenario is used when a task does not name one.
	Scenario  string
	Scenarios map[string]Scenario
	// Token, when set, is required as a bearer token on /api routes.
	Token string
	// StepDelay is the pause before each scripted event.
	StepDelay time.Duration
	KeepAlive time.Duration
	Logger    *logger.Logger
	Clock     func() time.Time
}

type Server struct {
	router    *gin.Engine
	logger    *logger.Logger
	scenarios map[string]Scenario
	fallback  string
	token     string
	stepDelay time.Duration
	keepAlive time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func New(opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	scenarios := opts.Scenarios
	if scenarios == nil {
		scenarios = BuiltinScenarios()
	}
	fallback := strings.TrimSpace(opts.Scenario)
	if fallback == "" {
		fallback = "tap"
	}
	if _, ok := scenarios[fallback]; !ok {
		return nil, fmt.Errorf("unknown scenario %q (available: %s)", fallback, strings.Join(ScenarioNames(scenarios), ", "))
	}
	s := &Server{
		logger:    log.WithComponent("mockagent"),
		scenarios: scenarios,
		fallback:  fallback,
		token:     strings.TrimSpace(opts.Token),
		stepDelay: opts.StepDelay,
		keepAlive: opts.KeepAlive,
		now:       opts.Clock,
		sessions:  map[string]*session{},
	}
	if s.stepDelay < 0 {
		s.stepDelay = 0
	} else if s.stepDelay == 0 {
		s.stepDelay = defaultStepDelay
	}
	if s.keepAlive <= 0 {
		s.keepAlive = defaultKeepAlive
	}
	if s.now == nil {
		s.now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(requestLogger(s.logger), recovery(s.logger))
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router for http.Server and httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := s.router.Group("/api", s.requireToken)
	{
		sessions := api.Group("/sessions")
		sessions.GET("", s.handleListSessions)
		sessions.POST("", s.handleCreateSession)
		sessions.GET("/:id", s.handleGetSession)
		sessions.DELETE("/:id", s.handleDeleteSession)
		sessions.GET("/:id/conversations", s.handleListConversations)

		agent := api.Group("/agent/:id")
		agent.POST("/task", s.handleTask)
		agent.POST("/stop", s.handleStop)
		agent.POST("/takeover/complete", s.handleTakeoverComplete)
		agent.GET("/status", s.handleStatus)
		agent.DELETE("/agent", s.handleDisconnect)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock agent listening",
			zap.String("addr", addr),
			zap.String("scenario", s.fallback))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.stopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown mock agent: %w", err)
	}
	return nil
}

// stopAll ends every running task so open streams let Shutdown finish.
func (s *Server) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.stop != nil {
			sess.stop(errServerShutdown)
		}
	}
}

func (s *Server) requireToken(c *gin.Context) {
	if s.token == "" {
		c.Next()
		return
	}
	got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(got) != s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or missing token"})
		return
	}
	c.Next()
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Debug("request completed",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
	}
}

func recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			}
		}()
		c.Next()
	}
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// recordConversation appends a stored conversation row.
func (s *Server) recordConversation(sessionID string, role timeline.Role, content string, action []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	sess.conversations = append(sess.conversations, timeline.Record{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Action:    action,
		CreatedAt: s.timestamp(),
	})
	sess.info.UpdatedAt.Time = s.now().UTC()
}
