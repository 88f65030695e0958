package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "contextfs.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().TokenThreshold, cfg.TokenThreshold)
}

func TestEnvOverrides_TokenThreshold(t *testing.T) {
	t.Setenv("CONTEXTFS_TOKEN_THRESHOLD", "9000")
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, 9000, cfg.TokenThreshold)
}

func TestEnvOverrides_VectorProvider(t *testing.T) {
	t.Setenv("CONTEXTFS_VECTOR_PROVIDER", "custom")
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, "custom", cfg.VectorProvider)
}

func TestDotenvSeedsWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("CONTEXTFS_RETRIEVAL_MODE=lexical\n# comment\nEMPTY=\n"), 0644))
	t.Setenv("CONTEXTFS_RETRIEVAL_MODE", "")
	// t.Setenv restores the old value on cleanup; unset so the key is absent.
	os.Unsetenv("CONTEXTFS_RETRIEVAL_MODE")
	loadDotenv(envPath)
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, "lexical", cfg.RetrievalMode)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenThreshold = 10
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSameDelimiters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PackDelimiterEnd = cfg.PackDelimiterStart
	require.Error(t, cfg.Validate())
}
