// internal/llm/client.go
// Client for OpenAI-compatible chat completion backends, including local
// runtimes that expose the same API surface.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	ErrTimeout            = errors.New("model request timed out")
	ErrBackendUnavailable = errors.New("model backend unavailable")
)

// MalformedOutputError means the backend responded but its output could not
// be parsed into the expected shape, even after a retry.
type MalformedOutputError struct {
	Output string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// Request is one chat completion call
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Client posts chat completion requests to a configurable backend. The
// target can be swapped at runtime when an operator edits the model
// settings; in-flight requests finish against the old target.
type Client struct {
	logger     *log.Logger
	httpClient *http.Client

	mu      sync.RWMutex
	baseURL string
	model   string
	apiKey  string
}

func NewClient(logger *log.Logger) *Client {
	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// SetTarget points the client at a backend and model
func (c *Client) SetTarget(baseURL, model, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.model = model
	c.apiKey = apiKey
}

// Model returns the currently configured model name
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *Client) target() (baseURL, model, apiKey string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL, c.model, c.apiKey
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete runs one chat completion and returns the raw assistant text
func (c *Client) Complete(ctx context.Context, r Request) (string, error) {
	baseURL, model, apiKey := c.target()
	if baseURL == "" || model == "" {
		return "", fmt.Errorf("%w: no backend configured", ErrBackendUnavailable)
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: r.System},
			{Role: "user", Content: r.User},
		},
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: %s: %s", ErrBackendUnavailable, resp.Status, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &MalformedOutputError{Err: fmt.Errorf("decoding response envelope: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &MalformedOutputError{Err: fmt.Errorf("response has no choices")}
	}
	return parsed.Choices[0].Message.Content, nil
}

// CompleteJSON runs a completion whose answer must be a JSON object and
// decodes it into out. A first malformed answer triggers one stricter retry
// at temperature 0 before giving up.
func (c *Client) CompleteJSON(ctx context.Context, r Request, out any) error {
	text, err := c.Complete(ctx, r)
	if err != nil {
		return err
	}
	if err := decodeJSONObject(text, out); err == nil {
		return nil
	}
	c.logger.Printf("Model returned unparseable JSON (%d bytes), retrying at temperature 0", len(text))

	retry := r
	retry.Temperature = 0
	retry.User = r.User + "\n\nRespond with a single valid JSON object and nothing else."
	text, err = c.Complete(ctx, retry)
	if err != nil {
		return err
	}
	if err := decodeJSONObject(text, out); err != nil {
		return &MalformedOutputError{Output: text, Err: err}
	}
	return nil
}

// decodeJSONObject tries a strict parse first, then falls back to the
// outermost brace pair for models that wrap JSON in prose or code fences.
func decodeJSONObject(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in output")
	}
	return json.Unmarshal([]byte(trimmed[start:end+1]), out)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
