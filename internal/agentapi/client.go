// Package agentapi is the HTTP client for the remote phone agent service:
// the task stream, its side-channel calls and the session directory.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/redact"
)

const maxErrorBody = 512

type Options struct {
	BaseURL string
	Token   string
	// Timeout bounds every call except the task stream.
	Timeout time.Duration
	// HTTPClient, when set, is used for both short calls and the stream;
	// Timeout is then not applied to it.
	HTTPClient *http.Client
	Logger     *logger.Logger
}

type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *logger.Logger
}

func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/"),
		token:   strings.TrimSpace(opts.Token),
		logger:  log.WithComponent("agentapi"),
	}
	if opts.HTTPClient != nil {
		c.httpClient = opts.HTTPClient
		c.streamClient = opts.HTTPClient
	} else {
		c.httpClient = &http.Client{Timeout: timeout}
		// no timeout on the stream; runs last as long as the agent works
		c.streamClient = &http.Client{}
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doJSON sends a request and decodes a 2xx JSON response into out (which
// may be nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	body := redact.Compact(strings.TrimSpace(detailOf(raw)), maxErrorBody)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		msg := "Unauthorized: check the API token (phonepilot auth set)"
		if body != "" {
			msg += ": " + body
		}
		return &AuthError{Msg: msg}
	}
	return &StatusError{Code: resp.StatusCode, Body: body}
}

// detailOf extracts {"detail": "..."} error bodies, falling back to raw text.
func detailOf(raw []byte) string {
	var parsed struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if s, ok := parsed.Detail.(string); ok && s != "" {
			return s
		}
	}
	return string(raw)
}
