package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"document-backend/internal/llm"
	"document-backend/internal/shared/telemetry"
)

const (
	provider     = "openai"
	defaultModel = "gpt-4o-mini"
	maxReplySize = 4 << 20
)

var apiURL = "https://api.openai.com/v1/chat/completions"

// Config configures the Chat Completions client.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// BaseURL overrides the chat completions endpoint (proxies, tests).
	BaseURL string
}

// Client implements llm.Client over the OpenAI Chat Completions API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// New builds a client from cfg.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	endpoint := strings.TrimSpace(cfg.BaseURL)
	if endpoint == "" {
		endpoint = apiURL
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		endpoint:   endpoint,
		timeout:    timeout,
		httpClient: &http.Client{},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Summarize sends one request and parses the JSON object in the first choice.
func (c *Client) Summarize(ctx context.Context, text string) (llm.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: llm.SystemPrompt},
			{Role: "user", Content: llm.BuildPrompt(text)},
		},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return llm.Result{}, c.fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return llm.Result{}, c.fail(0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return llm.Result{}, c.fail(0, fmt.Errorf("%w: %w", llm.ErrTimeout, err))
		}
		return llm.Result{}, c.fail(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		if isTimeout(err) {
			return llm.Result{}, c.fail(resp.StatusCode, fmt.Errorf("%w: %w", llm.ErrTimeout, err))
		}
		return llm.Result{}, c.fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(body, &parsed)
	if parsed.Error != nil {
		return llm.Result{}, c.fail(resp.StatusCode, fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return llm.Result{}, c.fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if decodeErr != nil {
		return llm.Result{}, c.fail(resp.StatusCode, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, decodeErr))
	}
	if len(parsed.Choices) == 0 {
		return llm.Result{}, c.fail(resp.StatusCode, errors.New("openai response missing choices"))
	}

	fields := map[string]any{
		"provider":    provider,
		"model":       c.model,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if parsed.Usage != nil {
		fields["prompt_tokens"] = parsed.Usage.PromptTokens
		fields["completion_tokens"] = parsed.Usage.CompletionTokens
		fields["total_tokens"] = parsed.Usage.TotalTokens
	}
	telemetry.Info("llm.response", fields)

	res, err := llm.ParseResult([]byte(parsed.Choices[0].Message.Content))
	if err != nil {
		return llm.Result{}, c.fail(resp.StatusCode, err)
	}
	return res, nil
}

func (c *Client) fail(status int, err error) error {
	return &llm.ClientError{Provider: provider, StatusCode: status, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ llm.Client = (*Client)(nil)
