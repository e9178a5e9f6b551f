package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient generates completions with the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	cfg    Config
}

// NewAnthropicClient creates a client. An empty model selects a Haiku model.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	return &AnthropicClient{client: anthropic.NewClient(cfg.APIKey), cfg: cfg}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	temperature := c.cfg.Temperature
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.cfg.Model),
		System:      system,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &user},
			}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: create message: %w", err)
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (c *AnthropicClient) Name() string { return "anthropic:" + c.cfg.Model }

// extractText joins the text blocks of a response.
func extractText(resp anthropic.MessagesResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			b.WriteString(*block.Text)
		}
	}
	return b.String()
}
