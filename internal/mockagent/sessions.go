package mockagent

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/timeline"
)

type session struct {
	info          agentapi.Session
	conversations []timeline.Record

	connected bool
	running   bool
	// runs counts task starts; a run only releases the session it owns.
	runs int
	// stop cancels the running task with a cause.
	stop context.CancelCauseFunc
	// takeover is non-nil while the run waits for takeover/complete.
	takeover chan struct{}
}

type createSessionRequest struct {
	Name      string `json:"name"`
	AgentType string `json:"agent_type"`
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
}

// CreateSession adds a session directly, bypassing HTTP.
func (s *Server) CreateSession(name string, agent agentapi.AgentType) agentapi.Session {
	now := s.now().UTC()
	info := agentapi.Session{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(name),
		AgentType: agent.Normalize(),
		DeviceID:  "mock-" + uuid.New().String()[:8],
		Status:    "active",
		CreatedAt: agentapi.Timestamp{Time: now},
		UpdatedAt: agentapi.Timestamp{Time: now},
	}
	s.mu.Lock()
	s.sessions[info.ID] = &session{info: info}
	s.mu.Unlock()
	s.logger.Info("session created",
		zap.String("session_id", info.ID),
		zap.String("agent_type", string(info.AgentType)))
	return info
}

func (s *Server) handleListSessions(c *gin.Context) {
	s.mu.Lock()
	out := make([]agentapi.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt.Time)
	})
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}
	agent := agentapi.AgentType(strings.ToLower(strings.TrimSpace(req.AgentType)))
	if agent != "" && !agent.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Unknown agent_type " + string(agent)})
		return
	}
	c.JSON(http.StatusOK, s.CreateSession(req.Name, agent))
}

func (s *Server) handleGetSession(c *gin.Context) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	var info agentapi.Session
	if ok {
		info = sess.info
	}
	s.mu.Unlock()
	if !ok {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		if sess.stop != nil {
			sess.stop(errSessionDeleted)
		}
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		notFound(c)
		return
	}
	s.logger.Info("session deleted", zap.String("session_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
}

func (s *Server) handleListConversations(c *gin.Context) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	var records []timeline.Record
	if ok {
		records = append([]timeline.Record(nil), sess.conversations...)
	}
	s.mu.Unlock()
	if !ok {
		notFound(c)
		return
	}
	if records == nil {
		records = []timeline.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": records})
}
