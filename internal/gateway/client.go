package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arvelin/voxbridge/internal/session"
)

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Call   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend status %d: %s", e.Call, e.Status, e.Body)
}

// SessionGrant is the backend's answer to a session-credential request.
type SessionGrant struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Model      string   `json:"model"`
	Modalities []string `json:"modalities"`
}

func (g SessionGrant) Credential() session.Credential {
	return session.Credential{
		Value:     g.ClientSecret.Value,
		ExpiresAt: time.Unix(g.ClientSecret.ExpiresAt, 0),
	}
}

// ToolResult is the outcome of one tool execution. Backend-reported tool
// failures arrive here as values, not as errors: the model is the intended
// consumer of both shapes.
type ToolResult struct {
	OK      bool
	Payload json.RawMessage
	Message string
	Code    string
}

// Client wraps the three backend calls the voice session needs. It does not
// retry; callers own retry policy.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateSession requests ephemeral realtime credentials.
func (c *Client) CreateSession(ctx context.Context) (SessionGrant, error) {
	body, status, err := c.post(ctx, "/realtime/session", map[string]any{})
	if err != nil {
		return SessionGrant{}, fmt.Errorf("create session: %w", err)
	}
	if status < 200 || status >= 300 {
		return SessionGrant{}, &StatusError{Call: "create session", Status: status, Body: truncate(body)}
	}

	var grant SessionGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return SessionGrant{}, fmt.Errorf("create session: decode response: %w", err)
	}
	if grant.ClientSecret.Value == "" {
		return SessionGrant{}, fmt.Errorf("create session: empty client secret")
	}
	return grant, nil
}

// ExecuteTool runs one named tool. The error return covers transport-level
// failures only; a tool the backend rejected comes back as a ToolResult
// with OK=false.
func (c *Client) ExecuteTool(ctx context.Context, name, argumentsJSON string) (ToolResult, error) {
	body, status, err := c.post(ctx, "/realtime/tool", map[string]any{
		"tool_name": name,
		"arguments": json.RawMessage(normalizeArgs(argumentsJSON)),
	})
	if err != nil {
		return ToolResult{}, fmt.Errorf("execute tool %s: %w", name, err)
	}

	if !json.Valid(body) {
		return ToolResult{}, fmt.Errorf("execute tool %s: non-JSON response (status %d)", name, status)
	}

	var probe struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	// Non-object payloads (arrays, scalars) are successes by definition.
	_ = json.Unmarshal(body, &probe)
	if probe.Error || status < 200 || status >= 300 {
		msg := probe.Message
		if msg == "" {
			msg = fmt.Sprintf("tool failed with status %d", status)
		}
		return ToolResult{OK: false, Message: msg, Code: probe.Code}, nil
	}
	return ToolResult{OK: true, Payload: json.RawMessage(body)}, nil
}

// TextToSpeech synthesizes text into a raw audio blob.
func (c *Client) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	body, status, err := c.post(ctx, "/read-text", map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("text to speech: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{Call: "text to speech", Status: status, Body: truncate(body)}
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, res.StatusCode, nil
}

// normalizeArgs guards against the model emitting an empty arguments string
// for zero-argument tools.
func normalizeArgs(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	return args
}

func truncate(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}
