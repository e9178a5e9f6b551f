package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/askdb/internal/embedding"
	"github.com/matthewbaird/askdb/internal/llm"
)

// clearEnv blanks every variable Load reads so the host environment does
// not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MONGO_URI", "MONGO_DB", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
		"ASKDB_LLM_PROVIDER", "ASKDB_LLM_MODEL", "ASKDB_LLM_API_KEY",
		"ASKDB_EMBEDDING_PROVIDER", "ASKDB_POLICY", "ASKDB_HISTORY_DSN",
		"ASKDB_ADDR", "PORT", "ASKDB_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "askdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, llm.ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
store:
  uri: mongodb://db:27017
  database: shop
llm:
  provider: anthropic
  api_key: k
  timeout: 5s
sandbox:
  timeout: 10s
sampling:
  sample_size: 50
history:
  driver: memory
logging:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db:27017", cfg.Store.URI)
	assert.Equal(t, "mongodb://db:27017", cfg.Sandbox.URI)
	assert.Equal(t, "shop", cfg.Store.Database)
	assert.Equal(t, llm.ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "mongosh", cfg.Sandbox.Binary)
	assert.Equal(t, 50, cfg.Sampling.SampleSize)
	assert.Equal(t, 2, cfg.Sampling.MaxDepth)
	assert.Equal(t, HistoryMemory, cfg.History.Driver)
	assert.Equal(t, "console", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "store: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_BadDuration(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "sandbox:\n  timeout: soon\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("store", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MONGO_URI", "mongodb://env:27017")
		t.Setenv("MONGO_DB", "envdb")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "mongodb://env:27017", cfg.Store.URI)
		assert.Equal(t, "mongodb://env:27017", cfg.Sandbox.URI)
		assert.Equal(t, "envdb", cfg.Store.Database)
	})

	t.Run("provider key selects provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, llm.ProviderAnthropic, cfg.LLM.Provider)
		assert.Equal(t, "ant-key", cfg.LLM.APIKey)
	})

	t.Run("explicit provider wins", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("ASKDB_LLM_PROVIDER", "ollama")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, llm.ProviderOllama, cfg.LLM.Provider)
	})

	t.Run("genai embeddings reuse the gemini key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("ASKDB_EMBEDDING_PROVIDER", "genai")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, embedding.ProviderGenAI, cfg.Embedding.Provider)
		assert.Equal(t, "g-key", cfg.Embedding.APIKey)
	})

	t.Run("gemini key selects genai embeddings", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("MONGO_URI", "mongodb://localhost:27017")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, embedding.ProviderGenAI, cfg.Embedding.Provider)
		assert.Equal(t, "g-key", cfg.Embedding.APIKey)
		assert.Empty(t, cfg.Embedding.Model)
		assert.Equal(t, "SEMANTIC_SIMILARITY", cfg.Embedding.TaskType)
		require.NoError(t, cfg.Validate())
	})

	t.Run("configured embeddings ignore the gemini key", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "askdb.yaml")
		require.NoError(t, os.WriteFile(path, []byte("embedding:\n  provider: ollama\n  model: nomic-embed-text\n"), 0o600))
		t.Setenv("GEMINI_API_KEY", "g-key")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, embedding.ProviderOllama, cfg.Embedding.Provider)
		assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
		assert.Empty(t, cfg.Embedding.APIKey)
	})

	t.Run("explicit embedding provider wins over the gemini key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("ASKDB_EMBEDDING_PROVIDER", "hash")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, embedding.ProviderHash, cfg.Embedding.Provider)
	})

	t.Run("port", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "8081")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, ":8081", cfg.Server.Addr)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "openai"
	cfg.Embedding.Provider = "word2vec"
	cfg.History.Driver = "postgres"
	cfg.Sandbox.Timeout = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "store.uri is required")
	assert.Contains(t, msg, `llm.provider "openai"`)
	assert.Contains(t, msg, `embedding.provider "word2vec"`)
	assert.Contains(t, msg, `history.driver "postgres"`)
	assert.Contains(t, msg, "sandbox.timeout must not be negative")
}

func TestValidate_APIKeyRequired(t *testing.T) {
	cfg := Default()
	cfg.Store.URI = "mongodb://localhost"
	cfg.LLM.Provider = llm.ProviderGenAI
	assert.ErrorContains(t, cfg.Validate(), "llm.api_key is required")

	cfg.LLM.APIKey = "k"
	assert.NoError(t, cfg.Validate())
}
