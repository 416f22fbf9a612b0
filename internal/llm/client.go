// Package llm provides the Claude API client used as the optional
// reasoning source for negotiators and as the market report writer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	apiURL       = "https://api.anthropic.com/v1/messages"
	apiVersion   = "2023-06-01"
	defaultModel = "claude-haiku-4-5-20251001"
)

var (
	// ErrDisabled is returned when the client has no API key.
	ErrDisabled = errors.New("LLM client not configured")
	// ErrRateLimited is returned when a purpose has used its share of the
	// per-minute budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrNoJSON is returned by CompleteJSON when the reply holds no object.
	ErrNoJSON = errors.New("no JSON object found in response")
)

// Purpose tags a call for rate accounting and usage stats.
type Purpose string

const (
	PurposeGeneral     Purpose = "general"
	PurposeNegotiation Purpose = "negotiation"
	PurposeBriefing    Purpose = "briefing"
)

// Call is one request to the model.
type Call struct {
	Purpose   Purpose
	System    string
	Prompt    string
	MaxTokens int

	// Temperature is sent only when positive.
	Temperature float64

	// Prefill opens the assistant turn; the reply continues from it and
	// is returned with it.
	Prefill string
}

// Usage tallies the calls made for one purpose.
type Usage struct {
	Calls        int `json:"calls"`
	Failures     int `json:"failures"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIError is a non-200 reply from the Messages API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Client wraps the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client

	// Rate limiting: max calls per minute. Purposes other than
	// negotiation stop at three quarters of it so turns in the tick path
	// keep a share.
	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
	usage     map[Purpose]*Usage
}

// NewClient creates a new API client.
// Returns nil if apiKey is empty (LLM features disabled).
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxPerMin: 20,
		usage:     make(map[Purpose]*Usage),
	}
}

// WithModel overrides the model name. Empty keeps the default.
func (c *Client) WithModel(model string) *Client {
	if c != nil && model != "" {
		c.model = model
	}
	return c
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Usage returns a copy of the per-purpose tallies.
func (c *Client) Usage() map[Purpose]Usage {
	out := make(map[Purpose]Usage)
	if !c.Enabled() {
		return out
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for p, u := range c.usage {
		out[p] = *u
	}
	return out
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request is the API request body.
type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Messages    []Message `json:"messages"`
}

// response is the API response body.
type response struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends a single prompt and returns the response text.
func (c *Client) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	return c.Send(ctx, Call{Purpose: PurposeGeneral, System: system, Prompt: userPrompt, MaxTokens: maxTokens})
}

// CompleteJSON sends call and decodes the first JSON object in the reply
// into v. The assistant turn is prefilled with "{" unless call sets its
// own prefill.
func (c *Client) CompleteJSON(ctx context.Context, call Call, v any) error {
	if call.Prefill == "" {
		call.Prefill = "{"
	}
	text, err := c.Send(ctx, call)
	if err != nil {
		return err
	}
	obj, ok := extractJSON(text)
	if !ok {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("parse %s reply: %w", call.Purpose, err)
	}
	return nil
}

// Send makes one call and returns the prefill followed by the reply text.
func (c *Client) Send(ctx context.Context, call Call) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if call.Purpose == "" {
		call.Purpose = PurposeGeneral
	}
	if err := c.admit(call.Purpose); err != nil {
		return "", err
	}

	text, in, out, err := c.post(ctx, call)

	c.mu.Lock()
	u := c.tally(call.Purpose)
	if err != nil {
		u.Failures++
	} else {
		u.InputTokens += in
		u.OutputTokens += out
	}
	c.mu.Unlock()

	if err != nil {
		return "", err
	}
	slog.Debug("llm call",
		"purpose", call.Purpose,
		"model", c.model,
		"input_tokens", in,
		"output_tokens", out,
	)
	return call.Prefill + text, nil
}

// admit takes a slot from the per-minute budget.
func (c *Client) admit(p Purpose) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	limit := c.maxPerMin
	if p != PurposeNegotiation {
		limit = max(1, c.maxPerMin*3/4)
	}
	if c.callCount >= limit {
		return fmt.Errorf("%w for %s (%d calls/min)", ErrRateLimited, p, limit)
	}
	c.callCount++
	c.tally(p).Calls++
	return nil
}

// tally returns the counters for p. Callers hold mu.
func (c *Client) tally(p Purpose) *Usage {
	u, ok := c.usage[p]
	if !ok {
		u = &Usage{}
		c.usage[p] = u
	}
	return u
}

func (c *Client) post(ctx context.Context, call Call) (string, int, int, error) {
	req := request{
		Model:     c.model,
		MaxTokens: call.MaxTokens,
		System:    call.System,
		Messages: []Message{
			{Role: "user", Content: call.Prompt},
		},
	}
	if call.Temperature > 0 {
		temp := call.Temperature
		req.Temperature = &temp
	}
	if call.Prefill != "" {
		req.Messages = append(req.Messages, Message{Role: "assistant", Content: call.Prefill})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, 0, fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", 0, 0, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return "", 0, 0, fmt.Errorf("empty response")
	}
	return apiResp.Content[0].Text, apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens, nil
}

// extractJSON returns the outermost {...} span; models sometimes wrap it
// in prose.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
