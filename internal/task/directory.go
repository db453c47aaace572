package task

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/state"
	"github.com/yubzen/phonepilot/internal/timeline"
)

// RemoteDirectory is the server-side session directory.
type RemoteDirectory interface {
	Directory
	ListSessions(ctx context.Context) ([]agentapi.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// CachingDirectory reads through to the remote directory and mirrors what
// it sees into the local state database. When the server is unreachable it
// answers reads from the cache. Auth failures are never masked.
type CachingDirectory struct {
	remote RemoteDirectory
	cache  *state.DB
	logger *logger.Logger
}

func NewCachingDirectory(remote RemoteDirectory, cache *state.DB, log *logger.Logger) *CachingDirectory {
	if log == nil {
		log = logger.Default()
	}
	return &CachingDirectory{remote: remote, cache: cache, logger: log.WithComponent("session-directory")}
}

func (d *CachingDirectory) fallback(err error) bool {
	if d.cache == nil || err == nil {
		return false
	}
	if agentapi.IsAuthError(err) || agentapi.IsNotFound(err) || IsUserCancelled(err) {
		return false
	}
	var se *agentapi.StatusError
	if errors.As(err, &se) && se.Code < 500 {
		return false
	}
	return true
}

func (d *CachingDirectory) ListSessions(ctx context.Context) ([]agentapi.Session, error) {
	sessions, err := d.remote.ListSessions(ctx)
	if err == nil {
		d.store(ctx, sessions...)
		return sessions, nil
	}
	if !d.fallback(err) {
		return nil, err
	}
	cached, cacheErr := d.cache.ListSessions(ctx)
	if cacheErr != nil || len(cached) == 0 {
		return nil, err
	}
	d.logger.Warn("server unreachable; listing cached sessions", zap.Error(err))
	out := make([]agentapi.Session, 0, len(cached))
	for _, s := range cached {
		out = append(out, fromCache(s))
	}
	return out, nil
}

func (d *CachingDirectory) GetSession(ctx context.Context, sessionID string) (*agentapi.Session, error) {
	sess, err := d.remote.GetSession(ctx, sessionID)
	if err == nil {
		d.store(ctx, *sess)
		return sess, nil
	}
	if !d.fallback(err) {
		return nil, err
	}
	cached, cacheErr := d.cache.GetSession(ctx, sessionID)
	if cacheErr != nil {
		return nil, err
	}
	d.logger.Warn("server unreachable; using cached session",
		zap.String("session_id", sessionID), zap.Error(err))
	out := fromCache(*cached)
	return &out, nil
}

func (d *CachingDirectory) CreateSession(ctx context.Context, name string, agent agentapi.AgentType) (*agentapi.Session, error) {
	sess, err := d.remote.CreateSession(ctx, name, agent)
	if err != nil {
		return nil, err
	}
	d.store(ctx, *sess)
	return sess, nil
}

func (d *CachingDirectory) DeleteSession(ctx context.Context, sessionID string) error {
	if err := d.remote.DeleteSession(ctx, sessionID); err != nil && !agentapi.IsNotFound(err) {
		return err
	}
	if d.cache != nil {
		if err := d.cache.DeleteSession(ctx, sessionID); err != nil {
			d.logger.Warn("failed to drop cached session", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}

func (d *CachingDirectory) ListConversations(ctx context.Context, sessionID string) ([]timeline.Record, error) {
	records, err := d.remote.ListConversations(ctx, sessionID)
	if err == nil {
		if d.cache != nil {
			if cacheErr := d.cache.ReplaceConversations(ctx, sessionID, records); cacheErr != nil {
				d.logger.Warn("failed to cache conversations", zap.String("session_id", sessionID), zap.Error(cacheErr))
			}
		}
		return records, nil
	}
	if !d.fallback(err) {
		return nil, err
	}
	cached, cacheErr := d.cache.ListConversations(ctx, sessionID)
	if cacheErr != nil || len(cached) == 0 {
		return nil, err
	}
	d.logger.Warn("server unreachable; using cached history",
		zap.String("session_id", sessionID), zap.Int("records", len(cached)), zap.Error(err))
	return cached, nil
}

func (d *CachingDirectory) store(ctx context.Context, sessions ...agentapi.Session) {
	if d.cache == nil || len(sessions) == 0 {
		return
	}
	rows := make([]state.Session, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, state.Session{
			ID:        s.ID,
			Name:      s.Name,
			AgentType: string(s.AgentType),
			DeviceID:  s.DeviceID,
			Status:    s.Status,
			CreatedAt: s.CreatedAt.Time,
			UpdatedAt: s.UpdatedAt.Time,
		})
	}
	if err := d.cache.UpsertSessions(ctx, rows); err != nil {
		d.logger.Warn("failed to cache sessions", zap.Error(err))
	}
}

func fromCache(s state.Session) agentapi.Session {
	return agentapi.Session{
		ID:        s.ID,
		Name:      s.Name,
		AgentType: agentapi.AgentType(s.AgentType),
		DeviceID:  s.DeviceID,
		Status:    s.Status,
		CreatedAt: agentapi.Timestamp{Time: s.CreatedAt},
		UpdatedAt: agentapi.Timestamp{Time: s.UpdatedAt},
	}
}
