// Package embedding turns text into fixed-length vectors for relevance
// ranking. Backends: a local Ollama server, Google GenAI, and an offline
// feature-hashing engine.
package embedding

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for several texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the engine and model in logs.
	Name() string
}

// Provider names accepted by NewEngine.
const (
	ProviderOllama = "ollama"
	ProviderGenAI  = "genai"
	ProviderHash   = "hash"
)

// Config selects and configures an embedding backend.
type Config struct {
	Provider   string `yaml:"provider"`
	Endpoint   string `yaml:"endpoint"` // ollama only
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`   // genai only
	TaskType   string `yaml:"task_type"` // genai only
	Dimensions int    `yaml:"dimensions"`
}

// DefaultConfig returns the local Ollama setup with a small sentence model.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderOllama,
		Endpoint: "http://localhost:11434",
		Model:    "all-minilm",
		TaskType: "SEMANTIC_SIMILARITY",
	}
}

// NewEngine creates the engine named by cfg.Provider.
func NewEngine(ctx context.Context, cfg Config, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		engine Engine
		err    error
	)
	switch cfg.Provider {
	case ProviderOllama, "":
		engine = NewOllamaEngine(cfg.Endpoint, cfg.Model)
	case ProviderGenAI:
		engine, err = NewGenAIEngine(ctx, cfg.APIKey, cfg.Model, cfg.TaskType)
	case ProviderHash:
		engine = NewHashEngine(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q (use ollama, genai or hash)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding engine ready", zap.String("engine", engine.Name()))
	return engine, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// A zero vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		aMag += x * x
		bMag += y * y
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(aMag) * math.Sqrt(bMag))
	return math.Max(-1, math.Min(1, sim)), nil
}
