package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/askdb/internal/history"
)

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "history.db")
	t.Setenv("ASKDB_HISTORY_DSN", dsn)
	t.Setenv("ASKDB_LOG_LEVEL", "error")

	ctx := context.Background()
	hs, err := history.OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, hs.Write(ctx, history.Record{ID: "1", Question: "how many customers?", Outcome: history.OutcomeSuccess, Rows: 500, ElapsedMS: 80, CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, hs.Write(ctx, history.Record{ID: "2", Question: "drop everything", Outcome: history.OutcomeFailed, ErrorClass: "validation_rejected", CreatedAt: now}))
	require.NoError(t, hs.Close())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", filepath.Join(dir, "missing.yaml"), "history", "--limit", "5"})
	require.NoError(t, rootCmd.ExecuteContext(ctx))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "QUESTION")
	assert.Contains(t, string(lines[1]), "failed (validation_rejected)")
	assert.Contains(t, string(lines[1]), "drop everything")
	assert.Contains(t, string(lines[2]), "500")
	assert.Contains(t, string(lines[2]), "how many customers?")
}

func TestNewApp_InvalidConfig(t *testing.T) {
	t.Setenv("MONGO_URI", "")
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "ask", "how many customers?"})

	err := rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.uri is required")
}
