package config

import (
	"os"
	"time"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// EmbeddingsAPIKey returns the embeddings api-key from the environment.
func (c *Config) EmbeddingsAPIKey() (string, error) {
	return secret(c.Embeddings.APIKeyEnv, "embeddings api key")
}

// ClientSecret returns the Entra ID client secret from the environment.
func (c *Config) ClientSecret() (string, error) {
	return secret(c.Embeddings.Auth.ClientSecretEnv, "client secret")
}

// IndexAPIKey returns the search service admin key from the environment.
func (c *Config) IndexAPIKey() (string, error) {
	return secret(c.Index.APIKeyEnv, "index api key")
}

func secret(env, what string) (string, error) {
	v := os.Getenv(env)
	if env == "" || v == "" {
		return "", dierrors.New(dierrors.ErrCodeMissingCredentials, "missing "+what, nil).
			WithDetail("env", env).
			WithSuggestion("export " + env + " or add it to .env")
	}
	return v, nil
}

// EmbeddingsTimeout returns the per-request embedding timeout.
func (c *Config) EmbeddingsTimeout() time.Duration {
	return mustDuration(c.Embeddings.Timeout)
}

// IndexTimeout returns the per-request index service timeout.
func (c *Config) IndexTimeout() time.Duration {
	return mustDuration(c.Index.Timeout)
}

// WatchDebounce returns the debounce window of watch mode.
func (c *Config) WatchDebounce() time.Duration {
	return mustDuration(c.Ingest.WatchDebounce)
}

// RetryDelays returns the initial and maximum backoff.
func (c *Config) RetryDelays() (initial, maxDelay time.Duration) {
	return mustDuration(c.Retry.InitialDelay), mustDuration(c.Retry.MaxDelay)
}

// mustDuration is only used on validated configs; invalid values become zero.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}
