package agentapi

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the reachability of one agent server.
type HealthStatus struct {
	Name     string
	IsOnline bool
	Latency  time.Duration
	ErrorMsg string
}

type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

func (c *Client) Name() string {
	return c.baseURL
}

// Ping checks GET /health.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "" && out.Status != "healthy" {
		return fmt.Errorf("server reports status %q", out.Status)
	}
	return nil
}

// CheckAll pings every server and returns their health statuses in order.
func CheckAll(ctx context.Context, servers []Pinger) []HealthStatus {
	statuses := make([]HealthStatus, 0, len(servers))
	for _, p := range servers {
		start := time.Now()
		err := p.Ping(ctx)
		status := HealthStatus{
			Name:     p.Name(),
			IsOnline: err == nil,
			Latency:  time.Since(start),
		}
		if err != nil {
			status.ErrorMsg = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}
