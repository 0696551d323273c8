package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8420", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("TASKMIRROR_BASE_URL", "http://dashboard.internal:9000")
	t.Setenv("TASKMIRROR_POLL_INTERVAL", "500ms")
	t.Setenv("TASKMIRROR_STATE_DSN", "memory:")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://dashboard.internal:9000", cfg.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "memory:", cfg.StateDSN)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Config{BaseURL: "", PollInterval: time.Second, FetchTimeout: time.Second}
	assert.Error(t, cfg.Validate())

	cfg = Config{BaseURL: "http://x", PollInterval: 0, FetchTimeout: time.Second}
	assert.Error(t, cfg.Validate())

	cfg = Config{BaseURL: "http://x", PollInterval: time.Second, FetchTimeout: 0}
	assert.Error(t, cfg.Validate())
}

func TestFileTokenReadsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("  first-token\n"), 0o600))

	token, err := NewFileToken(path, nil)
	require.NoError(t, err)
	defer token.Close()

	assert.Equal(t, "first-token", token.Token(), "tokens are trimmed")

	require.NoError(t, os.WriteFile(path, []byte("rotated-token"), 0o600))
	require.NoError(t, token.Reload())
	assert.Equal(t, "rotated-token", token.Token())
}

func TestFileTokenRequiresExistingFile(t *testing.T) {
	_, err := NewFileToken(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	_, err = NewFileToken("   ", nil)
	assert.Error(t, err)
}
