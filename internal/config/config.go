// Package config loads the askdb configuration: a YAML file over built-in
// defaults, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/askdb/internal/embedding"
	"github.com/matthewbaird/askdb/internal/executor"
	"github.com/matthewbaird/askdb/internal/llm"
	"github.com/matthewbaird/askdb/internal/logging"
	"github.com/matthewbaird/askdb/internal/relate"
	"github.com/matthewbaird/askdb/internal/schema"
)

// Config is the full process configuration.
type Config struct {
	Store     StoreConfig            `yaml:"store"`
	Sampling  SamplingConfig         `yaml:"sampling"`
	Embedding embedding.Config       `yaml:"embedding"`
	LLM       llm.Config             `yaml:"llm"`
	Sandbox   executor.SandboxConfig `yaml:"sandbox"`
	Policy    PolicyConfig           `yaml:"policy"`
	History   HistoryConfig          `yaml:"history"`
	Server    ServerConfig           `yaml:"server"`
	Logging   logging.Config         `yaml:"logging"`
	Retry     RetryConfig            `yaml:"retry"`
}

// StoreConfig locates the document store.
type StoreConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// SamplingConfig bounds schema and relationship inference.
type SamplingConfig struct {
	SampleSize             int `yaml:"sample_size"`
	MaxDepth               int `yaml:"max_depth"`
	RelationshipSampleSize int `yaml:"relationship_sample_size"`
}

// PolicyConfig points at a CUE allow-list. Empty means the built-in policy.
type PolicyConfig struct {
	Path string `yaml:"path"`
}

// History drivers.
const (
	HistorySQLite = "sqlite"
	HistoryMemory = "memory"
)

// HistoryConfig selects the request history store.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	EventBuffer  int           `yaml:"event_buffer"`
}

// RetryConfig bounds the repair loop.
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Database: "sample_analytics",
		},
		Sampling: SamplingConfig{
			SampleSize:             schema.DefaultSampleSize,
			MaxDepth:               schema.DefaultMaxDepth,
			RelationshipSampleSize: relate.DefaultSampleSize,
		},
		Embedding: embedding.DefaultConfig(),
		LLM:       llm.DefaultConfig(),
		Sandbox:   executor.DefaultSandboxConfig(),
		History: HistoryConfig{
			Driver: HistorySQLite,
			DSN:    "file:askdb.db",
		},
		Server: ServerConfig{
			Addr:         ":5000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
			EventBuffer:  256,
		},
		Logging: logging.Config{Level: "info", Format: "json"},
		Retry:   RetryConfig{MaxRetries: executor.DefaultMaxRetries},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.Sandbox.URI = cfg.Store.URI
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	setString(&c.Store.URI, "MONGO_URI")
	setString(&c.Store.Database, "MONGO_DB")

	// A provider key selects its provider; ASKDB_LLM_PROVIDER wins over both.
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = llm.ProviderAnthropic
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = llm.ProviderGenAI
	}
	setString(&c.LLM.Provider, "ASKDB_LLM_PROVIDER")
	setString(&c.LLM.Model, "ASKDB_LLM_MODEL")
	setString(&c.LLM.APIKey, "ASKDB_LLM_API_KEY")

	// An untouched embedding section follows the Gemini key, as generation does.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Embedding == embedding.DefaultConfig() {
		c.Embedding = embedding.Config{Provider: embedding.ProviderGenAI, APIKey: key, TaskType: c.Embedding.TaskType}
	}
	setString(&c.Embedding.Provider, "ASKDB_EMBEDDING_PROVIDER")
	if c.Embedding.Provider == embedding.ProviderGenAI && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	setString(&c.Policy.Path, "ASKDB_POLICY")
	setString(&c.History.DSN, "ASKDB_HISTORY_DSN")
	setString(&c.Server.Addr, "ASKDB_ADDR")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("ASKDB_ADDR") == "" {
		if _, err := strconv.Atoi(port); err == nil {
			c.Server.Addr = ":" + port
		}
	}
	setString(&c.Logging.Level, "ASKDB_LOG_LEVEL")
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.URI == "" {
		errs = append(errs, errors.New("store.uri is required (set MONGO_URI)"))
	}
	if c.Store.Database == "" {
		errs = append(errs, errors.New("store.database is required (set MONGO_DB)"))
	}
	switch c.LLM.Provider {
	case llm.ProviderOllama, llm.ProviderGenAI, llm.ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of ollama, genai, anthropic", c.LLM.Provider))
	}
	if c.LLM.Provider != llm.ProviderOllama && c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("llm.api_key is required for provider %s", c.LLM.Provider))
	}
	switch c.Embedding.Provider {
	case embedding.ProviderOllama, embedding.ProviderGenAI, embedding.ProviderHash:
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not one of ollama, genai, hash", c.Embedding.Provider))
	}
	switch c.History.Driver {
	case HistorySQLite, HistoryMemory:
	default:
		errs = append(errs, fmt.Errorf("history.driver %q is not one of sqlite, memory", c.History.Driver))
	}
	if c.Sampling.SampleSize <= 0 {
		errs = append(errs, errors.New("sampling.sample_size must be positive"))
	}
	if c.Sampling.MaxDepth < 0 {
		errs = append(errs, errors.New("sampling.max_depth must not be negative"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"llm.timeout", c.LLM.Timeout},
		{"sandbox.timeout", c.Sandbox.Timeout},
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	return errors.Join(errs...)
}
