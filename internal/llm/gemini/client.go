package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"document-backend/internal/llm"
	"document-backend/internal/shared/telemetry"
)

const (
	provider     = "gemini"
	defaultModel = "gemini-1.5-flash"
)

// Config configures the Gemini client.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Client implements llm.Client on Google's Gemini API.
type Client struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	timeout   time.Duration
}

// New dials the Gemini API. Close releases the connection.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	name := strings.TrimSpace(cfg.Model)
	if name == "" || strings.HasPrefix(name, "gpt-") {
		name = defaultModel
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(llm.SystemPrompt)}}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{client: client, model: model, modelName: name, timeout: timeout}, nil
}

// Summarize sends one GenerateContent request.
func (c *Client) Summarize(ctx context.Context, text string) (llm.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, genai.Text(llm.BuildPrompt(text)))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %w", llm.ErrTimeout, err)
		}
		return llm.Result{}, &llm.ClientError{Provider: provider, Err: err}
	}

	raw, err := replyText(resp)
	if err != nil {
		return llm.Result{}, &llm.ClientError{Provider: provider, Err: err}
	}

	fields := map[string]any{
		"provider":    provider,
		"model":       c.modelName,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if resp.UsageMetadata != nil {
		fields["prompt_tokens"] = resp.UsageMetadata.PromptTokenCount
		fields["completion_tokens"] = resp.UsageMetadata.CandidatesTokenCount
		fields["total_tokens"] = resp.UsageMetadata.TotalTokenCount
	}
	telemetry.Info("llm.response", fields)

	res, err := llm.ParseResult([]byte(raw))
	if err != nil {
		return llm.Result{}, &llm.ClientError{Provider: provider, Err: err}
	}
	return res, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini response missing candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("%w: empty candidate", llm.ErrMalformedResponse)
	}
	return sb.String(), nil
}

var _ llm.Client = (*Client)(nil)
