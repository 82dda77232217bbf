// Package config implements the process-wide credential and endpoint
// resolution spec.md §4.6 describes: explicit overrides first, then
// per-provider environment variables, then an optional on-disk token
// store, checked in that order. Loading settings files, prompt templates,
// or other resources from disk is explicitly out of scope (spec.md §1);
// this package only resolves API keys and base URLs.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/rocisdk/agentcore/errs"
)

// envKeys maps a provider key to the environment variables consulted for
// its API key and base URL, grounded on original_source's from_env table.
var envKeys = map[string]struct{ apiKey, baseURL string }{
	"openai":    {"OPENAI_API_KEY", "OPENAI_BASE_URL"},
	"anthropic": {"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"},
	"ollama":    {"", "OLLAMA_BASE_URL"},
	"bedrock":   {"AWS_BEDROCK_API_KEY", "AWS_BEDROCK_BASE_URL"},
}

// Token is one persisted credential entry, consulted only when no explicit
// key or environment variable resolves a provider's API key.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
	AccountID    string
}

// TokenStore resolves a (provider, profile) pair to a Token. A file-backed
// implementation is the default (see FileTokenStore); hosts may supply
// their own, e.g. backed by the OS keychain.
type TokenStore interface {
	Load(provider, profile string) (Token, bool, error)
}

// Config is the process-wide configuration surface. It is safe for
// concurrent use: explicit keys and base URLs are held behind a mutex
// since SetAPIKey may be called at any time, including concurrently with
// in-flight GetAPIKey resolution from other runs.
type Config struct {
	mu         sync.RWMutex
	apiKeys    map[string]string
	baseURLs   map[string]string
	tokenStore TokenStore
	profile    string
}

// New constructs a Config with no explicit overrides and no token store.
// Use WithTokenStore to attach one.
func New() *Config {
	return &Config{
		apiKeys:  make(map[string]string),
		baseURLs: make(map[string]string),
		profile:  "default",
	}
}

// WithTokenStore attaches store as the fallback consulted when neither an
// explicit key nor an environment variable resolves a provider's API key.
func (c *Config) WithTokenStore(store TokenStore) *Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenStore = store
	return c
}

// SetAPIKey records an explicit API key for provider, taking priority over
// environment variables and the token store.
func (c *Config) SetAPIKey(provider, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKeys[provider] = key
}

// SetBaseURL records an explicit base URL override for provider.
func (c *Config) SetBaseURL(provider, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURLs[provider] = url
}

// GetAPIKey resolves provider's API key using spec.md §4.6's three-step
// order: explicit SetAPIKey, then the provider's environment variable, then
// the token store (valid, non-expired tokens only). Returns
// errs.KindAuthentication if none resolves.
func (c *Config) GetAPIKey(provider string) (string, error) {
	c.mu.RLock()
	explicit, hasExplicit := c.apiKeys[provider]
	store := c.tokenStore
	profile := c.profile
	c.mu.RUnlock()

	if hasExplicit && explicit != "" {
		return explicit, nil
	}

	if names, ok := envKeys[provider]; ok && names.apiKey != "" {
		if v := os.Getenv(names.apiKey); v != "" {
			return v, nil
		}
	}

	if store != nil {
		token, found, err := store.Load(provider, profile)
		if err != nil {
			return "", errs.Wrap(errs.KindAuthentication, "config: token store lookup failed", err)
		}
		if found {
			if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
				return "", errs.New(errs.KindAuthentication, "config: stored token for "+provider+" has expired")
			}
			return token.AccessToken, nil
		}
	}

	return "", errs.New(errs.KindAuthentication, "config: no API key configured for provider "+provider)
}

// GetBaseURL resolves provider's base URL: explicit override first, then
// the provider's environment variable, then empty (the provider adapter
// falls back to its own SDK default).
func (c *Config) GetBaseURL(provider string) string {
	c.mu.RLock()
	explicit, ok := c.baseURLs[provider]
	c.mu.RUnlock()
	if ok && explicit != "" {
		return explicit
	}
	if names, ok := envKeys[provider]; ok && names.baseURL != "" {
		return os.Getenv(names.baseURL)
	}
	return ""
}
