package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okline/relay/internal/bus"
	"github.com/okline/relay/internal/retry"
)

const defaultHTTPTimeout = 60 * time.Second

// Client is the HTTP JSON client for the remote agent service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the agent service at baseURL. token, when
// non-empty, is sent as a bearer credential on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type promptRequest struct {
	Content string `json:"content"`
}

type promptResponse struct {
	Reply string `json:"reply"`
}

// CreateSession opens a fresh remote session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out createSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("agent returned empty session id")
	}
	return out.SessionID, nil
}

// DeleteSession discards a remote session. Deleting an unknown id is not an
// error; the remote treats it as already gone.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil, nil)
}

// Prompt sends one user utterance into the session and returns the reply.
func (c *Client) Prompt(ctx context.Context, sessionID, content string) (string, error) {
	var out promptResponse
	in := promptRequest{Content: content}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/prompt", &in, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

// do runs one JSON round trip. Transport failures and 5xx answers come back
// wrapped as transient so the retry executor keeps trying them; 4xx answers
// are marked permanent and end the retry sequence immediately.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return bus.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return bus.Transient(fmt.Errorf("agent %s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("agent %s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound && method != http.MethodDelete:
		return retry.Permanent(fmt.Errorf("agent %s %s: status %d", method, path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return bus.Transient(fmt.Errorf("decode agent response: %w", err))
	}
	return nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
