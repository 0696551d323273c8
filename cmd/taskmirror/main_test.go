package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentworkforce/taskmirror/internal/config"
)

func TestBuildTokenSourceStatic(t *testing.T) {
	tokens, closeTokens, err := buildTokenSource(config.Config{Token: "static-secret"}, zap.NewNop())
	require.NoError(t, err)
	defer closeTokens()
	assert.Equal(t, "static-secret", tokens.Token())
}

func TestBuildTokenSourcePrefersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0o600))

	tokens, closeTokens, err := buildTokenSource(config.Config{
		Token:     "ignored-static",
		TokenFile: path,
	}, zap.NewNop())
	require.NoError(t, err)
	defer closeTokens()
	assert.Equal(t, "file-secret", tokens.Token())
}

func TestBuildTokenSourceMissingFileFails(t *testing.T) {
	_, _, err := buildTokenSource(config.Config{TokenFile: "/nonexistent/token"}, zap.NewNop())
	assert.Error(t, err)
}
