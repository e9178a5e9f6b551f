// Package llm wraps the chat-completion backends used for query generation.
// Every client is called with a system instruction and one user message and
// returns the raw completion text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Client sends one prompt and returns the completion text.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)

	// Name identifies the backend and model in logs.
	Name() string
}

// Provider names accepted by NewClient.
const (
	ProviderGenAI     = "genai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// DefaultMaxTokens bounds a generated query.
const DefaultMaxTokens = 200

// ErrEmptyCompletion is returned when a backend answers with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Config selects and configures a completion backend.
type Config struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Endpoint    string        `yaml:"endpoint"` // ollama only
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a deterministic local Ollama setup.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderOllama,
		Model:     "llama3.1",
		Endpoint:  "http://localhost:11434",
		MaxTokens: DefaultMaxTokens,
		Timeout:   60 * time.Second,
	}
}

// NewClient creates the client named by cfg.Provider.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case ProviderOllama, "":
		client = NewOllamaClient(cfg)
	case ProviderGenAI:
		client, err = NewGenAIClient(ctx, cfg)
	case ProviderAnthropic:
		client, err = NewAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (use ollama, genai or anthropic)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("llm client ready",
		zap.String("client", client.Name()),
		zap.Int("max_tokens", cfg.MaxTokens),
	)
	return client, nil
}

// withTimeout applies d when ctx carries no deadline of its own.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
