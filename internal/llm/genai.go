package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIClient generates completions with the Gemini API.
type GenAIClient struct {
	client *genai.Client
	cfg    Config
}

// NewGenAIClient creates a client. An empty model selects gemini-2.5-flash.
func NewGenAIClient(ctx context.Context, cfg Config) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &GenAIClient{client: client, cfg: cfg}, nil
}

func (c *GenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.cfg.Temperature),
		MaxOutputTokens: int32(c.cfg.MaxTokens),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(user), config)
	if err != nil {
		return "", fmt.Errorf("genai: generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (c *GenAIClient) Name() string { return "genai:" + c.cfg.Model }
