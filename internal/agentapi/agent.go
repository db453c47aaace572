package agentapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

type StopResult struct {
	Stopped bool   `json:"stopped"`
	Message string `json:"message"`
}

type TakeoverResult struct {
	Completed bool   `json:"completed"`
	Message   string `json:"message"`
}

type Status struct {
	IsConnected   bool `json:"is_connected"`
	IsTaskRunning bool `json:"is_task_running"`
	HasTakeover   bool `json:"has_takeover"`
}

func agentPath(sessionID, suffix string) string {
	return "/api/agent/" + url.PathEscape(sessionID) + suffix
}

// StreamTask submits a task and returns the open event stream. The caller
// owns the body and must close it; cancelling ctx aborts the stream.
func (c *Client) StreamTask(ctx context.Context, sessionID, task string, agent AgentType) (io.ReadCloser, error) {
	path := agentPath(sessionID, "/task?agent_type="+url.QueryEscape(string(agent.Normalize())))
	req, err := c.newRequest(ctx, http.MethodPost, path, map[string]string{"task": task})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect task stream: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	c.logger.Debug("task stream connected",
		zap.String("session_id", sessionID),
		zap.String("agent_type", string(agent.Normalize())))
	return resp.Body, nil
}

// Stop asks the server to stop the running task. force also releases a
// stuck server-side task lock.
func (c *Client) Stop(ctx context.Context, sessionID string, force bool) (StopResult, error) {
	path := agentPath(sessionID, "/stop")
	if force {
		path += "?force=true"
	}
	var out StopResult
	err := c.doJSON(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

func (c *Client) CompleteTakeover(ctx context.Context, sessionID string) (TakeoverResult, error) {
	var out TakeoverResult
	err := c.doJSON(ctx, http.MethodPost, agentPath(sessionID, "/takeover/complete"), nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, sessionID string) (Status, error) {
	var out Status
	err := c.doJSON(ctx, http.MethodGet, agentPath(sessionID, "/status"), nil, &out)
	return out, err
}

// Disconnect tears down the server-side agent bound to the session.
func (c *Client) Disconnect(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, agentPath(sessionID, "/agent"), nil, nil)
}
