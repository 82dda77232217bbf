package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// settings is the YAML file the demo CLI reads to wire an AgentRuntime
// against a real provider. Parsing, defaulting, and CLI flags live here,
// outside the execution core proper.
type settings struct {
	Provider      string             `yaml:"provider"`
	Model         string             `yaml:"model"`
	APIKey        string             `yaml:"api_key"`
	BaseURL       string             `yaml:"base_url"`
	SystemPrompt  string             `yaml:"system_prompt"`
	MaxTokens     int                `yaml:"max_tokens"`
	Temperature   *float64           `yaml:"temperature"`
	MaxIterations int                `yaml:"max_iterations"`
	RateLimit     rateLimitSettings  `yaml:"rate_limit"`
	Compaction    compactionSettings `yaml:"compaction"`
	Metadata      metadataSettings   `yaml:"metadata"`
	Prompt        string             `yaml:"prompt"`
}

// metadataSettings configures the optional Mongo-backed session/run
// metadata store. Disabled by default; when enabled, the demo dials Mongo
// at startup and fails fast if it cannot connect.
type metadataSettings struct {
	Enabled  bool   `yaml:"enabled"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type rateLimitSettings struct {
	Enabled    bool    `yaml:"enabled"`
	InitialTPM float64 `yaml:"initial_tpm"`
	MaxTPM     float64 `yaml:"max_tpm"`
}

type compactionSettings struct {
	Enabled          bool `yaml:"enabled"`
	ReserveTokens    int  `yaml:"reserve_tokens"`
	KeepRecentTokens int  `yaml:"keep_recent_tokens"`
}

func loadSettings(path string) (*settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var s settings
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}

	applySettingsDefaults(&s)

	if err := validateSettings(&s); err != nil {
		return nil, err
	}

	return &s, nil
}

func applySettingsDefaults(s *settings) {
	if s.Provider == "" {
		s.Provider = "anthropic"
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = 4096
	}
	if s.MaxIterations == 0 {
		s.MaxIterations = 25
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = "You are a concise, helpful assistant."
	}
	if s.Prompt == "" {
		s.Prompt = "Say hello in one short sentence."
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.InitialTPM == 0 {
			s.RateLimit.InitialTPM = 60000
		}
		if s.RateLimit.MaxTPM == 0 {
			s.RateLimit.MaxTPM = s.RateLimit.InitialTPM * 2
		}
	}
	if s.Compaction.Enabled {
		if s.Compaction.ReserveTokens == 0 {
			s.Compaction.ReserveTokens = 2000
		}
		if s.Compaction.KeepRecentTokens == 0 {
			s.Compaction.KeepRecentTokens = 4000
		}
	}
}

type settingsValidationError struct {
	issues []string
}

func (e *settingsValidationError) Error() string {
	return "settings validation failed:\n- " + strings.Join(e.issues, "\n- ")
}

func validateSettings(s *settings) error {
	var issues []string

	switch s.Provider {
	case "anthropic", "openai", "bedrock":
	default:
		issues = append(issues, fmt.Sprintf("provider %q must be one of anthropic, openai, bedrock", s.Provider))
	}
	if s.Model == "" {
		issues = append(issues, "model is required")
	}
	if s.MaxTokens < 0 {
		issues = append(issues, "max_tokens must be >= 0")
	}
	if s.MaxIterations < 1 {
		issues = append(issues, "max_iterations must be >= 1")
	}
	if s.RateLimit.Enabled && s.RateLimit.InitialTPM <= 0 {
		issues = append(issues, "rate_limit.initial_tpm must be > 0 when rate_limit is enabled")
	}
	if s.Metadata.Enabled {
		if s.Metadata.URI == "" {
			issues = append(issues, "metadata.uri is required when metadata is enabled")
		}
		if s.Metadata.Database == "" {
			issues = append(issues, "metadata.database is required when metadata is enabled")
		}
	}

	if len(issues) > 0 {
		return &settingsValidationError{issues: issues}
	}
	return nil
}

// demoTimeout bounds the whole interaction, including retries.
const demoTimeout = 2 * time.Minute
