package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSettingsAppliesDefaults(t *testing.T) {
	path := writeSettingsFile(t, "provider: anthropic\nmodel: claude-sonnet-4-5\n")
	s, err := loadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", s.Provider)
	assert.Equal(t, "claude-sonnet-4-5", s.Model)
	assert.Equal(t, 4096, s.MaxTokens)
	assert.Equal(t, 25, s.MaxIterations)
	assert.NotEmpty(t, s.SystemPrompt)
	assert.NotEmpty(t, s.Prompt)
}

func TestLoadSettingsExpandsEnvVars(t *testing.T) {
	t.Setenv("DEMO_TEST_API_KEY", "sk-test-123")
	path := writeSettingsFile(t, "provider: openai\nmodel: gpt-4o\napi_key: ${DEMO_TEST_API_KEY}\n")
	s, err := loadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", s.APIKey)
}

func TestLoadSettingsRejectsUnknownProvider(t *testing.T) {
	path := writeSettingsFile(t, "provider: not-a-provider\nmodel: m\n")
	_, err := loadSettings(path)
	require.Error(t, err)
}

func TestLoadSettingsRejectsMissingModel(t *testing.T) {
	path := writeSettingsFile(t, "provider: anthropic\n")
	_, err := loadSettings(path)
	require.Error(t, err)
}

func TestLoadSettingsRejectsUnknownField(t *testing.T) {
	path := writeSettingsFile(t, "provider: anthropic\nmodel: m\nbogus_field: 1\n")
	_, err := loadSettings(path)
	require.Error(t, err)
}

func TestLoadSettingsRateLimitDefaults(t *testing.T) {
	path := writeSettingsFile(t, "provider: anthropic\nmodel: m\nrate_limit:\n  enabled: true\n")
	s, err := loadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 60000.0, s.RateLimit.InitialTPM)
	assert.Equal(t, 120000.0, s.RateLimit.MaxTPM)
}
