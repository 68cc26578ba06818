// Package config loads docindex configuration.
//
// Precedence, lowest first: NewConfig defaults, docindex.yaml, .env file,
// DOCINDEX_* environment variables. Secrets never live in the YAML file;
// it only names the environment variables that hold them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Embedding providers.
const (
	ProviderAzureOpenAI = "azure-openai"
	ProviderStatic      = "static"
)

// Index backends.
const (
	BackendAzureSearch = "azure-search"
	BackendLocal       = "local"
)

// Chunk failure policies.
const (
	PolicyFailDocument = "fail-document"
	PolicySkipChunk    = "skip-chunk"
)

// FileNames are the config file names looked up in the working directory.
var FileNames = []string{"docindex.yaml", "docindex.yml"}

// Config represents the complete docindex configuration.
type Config struct {
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Query      QueryConfig      `yaml:"query" json:"query"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Source     SourceConfig     `yaml:"source" json:"source"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ChunkingConfig holds the token budgets of the splitter.
type ChunkingConfig struct {
	MaxTokensPerLine      int    `yaml:"max_tokens_per_line" json:"max_tokens_per_line"`
	MaxTokensPerParagraph int    `yaml:"max_tokens_per_paragraph" json:"max_tokens_per_paragraph"`
	OverlapTokens         int    `yaml:"overlap_tokens" json:"overlap_tokens"`
	Encoding              string `yaml:"encoding" json:"encoding"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	Deployment string `yaml:"deployment" json:"deployment"`
	APIVersion string `yaml:"api_version" json:"api_version"`
	// APIKeyEnv names the environment variable holding the api-key.
	APIKeyEnv  string     `yaml:"api_key_env" json:"api_key_env"`
	Auth       AuthConfig `yaml:"auth" json:"auth"`
	Dimensions int        `yaml:"dimensions" json:"dimensions"`
	Timeout    string     `yaml:"timeout" json:"timeout"`

	// Throughput ceiling shared by every caller in the process.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
	MaxInFlight       int     `yaml:"max_in_flight" json:"max_in_flight"`

	// CacheSize bounds the query-embedding LRU (0 disables it).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// AuthConfig configures Entra ID client-credentials auth. When TenantID is
// empty the api-key header is used instead.
type AuthConfig struct {
	TenantID        string `yaml:"tenant_id" json:"tenant_id"`
	ClientID        string `yaml:"client_id" json:"client_id"`
	ClientSecretEnv string `yaml:"client_secret_env" json:"client_secret_env"`
	Scope           string `yaml:"scope" json:"scope"`
}

// IndexConfig configures the vector index service.
type IndexConfig struct {
	Backend    string     `yaml:"backend" json:"backend"`
	Name       string     `yaml:"name" json:"name"`
	Endpoint   string     `yaml:"endpoint" json:"endpoint"`
	APIKeyEnv  string     `yaml:"api_key_env" json:"api_key_env"`
	APIVersion string     `yaml:"api_version" json:"api_version"`
	DataDir    string     `yaml:"data_dir" json:"data_dir"`
	Timeout    string     `yaml:"timeout" json:"timeout"`
	HNSW       HNSWConfig `yaml:"hnsw" json:"hnsw"`
	// PublicGroup is implicitly added to every group-filtered query.
	PublicGroup string `yaml:"public_group" json:"public_group"`
}

// HNSWConfig holds the ANN graph parameters.
type HNSWConfig struct {
	M              int    `yaml:"m" json:"m"`
	EfConstruction int    `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int    `yaml:"ef_search" json:"ef_search"`
	Metric         string `yaml:"metric" json:"metric"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	Workers            int    `yaml:"workers" json:"workers"`
	EmbedConcurrency   int    `yaml:"embed_concurrency" json:"embed_concurrency"`
	ChunkFailurePolicy string `yaml:"chunk_failure_policy" json:"chunk_failure_policy"`
	PruneStale         bool   `yaml:"prune_stale" json:"prune_stale"`
	WatchDebounce      string `yaml:"watch_debounce" json:"watch_debounce"`
}

// QueryConfig configures the query path.
type QueryConfig struct {
	TopK int `yaml:"top_k" json:"top_k"`
	// Telemetry keeps local query statistics in {data_dir}/telemetry.db.
	Telemetry bool `yaml:"telemetry" json:"telemetry"`
}

// RetryConfig configures backoff for remote calls.
type RetryConfig struct {
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	InitialDelay string `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     string `yaml:"max_delay" json:"max_delay"`
}

// SourceConfig configures the filesystem document source.
type SourceConfig struct {
	Dir        string   `yaml:"dir" json:"dir"`
	Extensions []string `yaml:"extensions" json:"extensions"`
	// DefaultGroups are assigned to documents not matched by GroupMap.
	DefaultGroups []string `yaml:"default_groups" json:"default_groups"`
	// GroupMap assigns groups by path pattern (gitignore syntax, relative
	// to Dir). A document takes the union of every matching entry.
	GroupMap map[string][]string `yaml:"group_map" json:"group_map"`
	// Exclude lists ignore patterns applied on top of .docindexignore.
	Exclude []string `yaml:"exclude" json:"exclude"`
	// URLBase, when set, prefixes the relative path to form the record url.
	URLBase string `yaml:"url_base" json:"url_base"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			MaxTokensPerLine:      300,
			MaxTokensPerParagraph: 4000,
			OverlapTokens:         0,
			Encoding:              "cl100k_base",
		},
		Embeddings: EmbeddingsConfig{
			Provider:          ProviderAzureOpenAI,
			APIVersion:        "2023-05-15",
			APIKeyEnv:         "AZURE_OPENAI_API_KEY",
			Auth:              AuthConfig{ClientSecretEnv: "AZURE_CLIENT_SECRET", Scope: "https://cognitiveservices.azure.com/.default"},
			Dimensions:        1536,
			Timeout:           "30s",
			RequestsPerSecond: 10,
			Burst:             10,
			MaxInFlight:       8,
			CacheSize:         256,
		},
		Index: IndexConfig{
			Backend:    BackendLocal,
			Name:       "docindex",
			APIKeyEnv:  "AZURE_SEARCH_API_KEY",
			APIVersion: "2023-11-01",
			DataDir:    ".docindex",
			Timeout:    "60s",
			HNSW: HNSWConfig{
				M:              4,
				EfConstruction: 400,
				EfSearch:       500,
				Metric:         "cosine",
			},
			PublicGroup: "public",
		},
		Ingest: IngestConfig{
			Workers:            4,
			EmbedConcurrency:   4,
			ChunkFailurePolicy: PolicyFailDocument,
			PruneStale:         true,
			WatchDebounce:      "500ms",
		},
		Query: QueryConfig{TopK: 5, Telemetry: true},
		Retry: RetryConfig{
			MaxRetries:   5,
			InitialDelay: "500ms",
			MaxDelay:     "30s",
		},
		Source: SourceConfig{
			Dir:        ".",
			Extensions: []string{".txt", ".md"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from dir. A missing config file is fine.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return load(path, dir)
		}
	}
	return load("", dir)
}

// LoadFile loads configuration from an explicit path, which must exist.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, dierrors.New(dierrors.ErrCodeConfigNotFound,
			fmt.Sprintf("config file not found: %s", path), err)
	}
	return load(path, filepath.Dir(path))
}

func load(path, dir string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	// .env only fills variables that are not already set
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, dierrors.ConfigError("failed to load .env", err).WithDetail("path", envPath)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over the current values; keys absent from the
// file keep their defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return dierrors.ConfigError("failed to read config file", err).WithDetail("path", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return dierrors.ConfigError("failed to parse config file", err).WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies DOCINDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	str := map[string]*string{
		"DOCINDEX_EMBEDDINGS_PROVIDER":   &c.Embeddings.Provider,
		"DOCINDEX_EMBEDDINGS_ENDPOINT":   &c.Embeddings.Endpoint,
		"DOCINDEX_EMBEDDINGS_DEPLOYMENT": &c.Embeddings.Deployment,
		"DOCINDEX_AUTH_TENANT_ID":        &c.Embeddings.Auth.TenantID,
		"DOCINDEX_AUTH_CLIENT_ID":        &c.Embeddings.Auth.ClientID,
		"DOCINDEX_INDEX_BACKEND":         &c.Index.Backend,
		"DOCINDEX_INDEX_NAME":            &c.Index.Name,
		"DOCINDEX_INDEX_ENDPOINT":        &c.Index.Endpoint,
		"DOCINDEX_INDEX_DATA_DIR":        &c.Index.DataDir,
		"DOCINDEX_SOURCE_DIR":            &c.Source.Dir,
		"DOCINDEX_LOG_LEVEL":             &c.Logging.Level,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DOCINDEX_EMBEDDINGS_DIMENSIONS": &c.Embeddings.Dimensions,
		"DOCINDEX_INGEST_WORKERS":        &c.Ingest.Workers,
		"DOCINDEX_MAX_TOKENS_PER_LINE":   &c.Chunking.MaxTokensPerLine,
		"DOCINDEX_MAX_TOKENS_PER_PARA":   &c.Chunking.MaxTokensPerParagraph,
		"DOCINDEX_OVERLAP_TOKENS":        &c.Chunking.OverlapTokens,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	if v := os.Getenv("DOCINDEX_PRUNE_STALE"); v != "" {
		c.Ingest.PruneStale = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate validates the configuration. Every failure is a fatal
// configuration error.
func (c *Config) Validate() error {
	ch := c.Chunking
	if ch.MaxTokensPerLine <= 0 || ch.MaxTokensPerParagraph <= 0 ||
		ch.OverlapTokens < 0 || ch.OverlapTokens >= ch.MaxTokensPerParagraph {
		return dierrors.New(dierrors.ErrCodeInvalidTokenBudget,
			fmt.Sprintf("invalid chunking budgets: line=%d paragraph=%d overlap=%d",
				ch.MaxTokensPerLine, ch.MaxTokensPerParagraph, ch.OverlapTokens), nil).
			WithSuggestion("require line > 0, paragraph > 0 and 0 <= overlap < paragraph")
	}

	switch c.Embeddings.Provider {
	case ProviderAzureOpenAI:
		if c.Embeddings.Endpoint == "" || c.Embeddings.Deployment == "" {
			return dierrors.ConfigError("embeddings.endpoint and embeddings.deployment are required for azure-openai", nil)
		}
		if c.Embeddings.Auth.TenantID != "" && c.Embeddings.Auth.ClientID == "" {
			return dierrors.ConfigError("embeddings.auth.client_id is required when tenant_id is set", nil)
		}
	case ProviderStatic:
	default:
		return dierrors.ConfigError(fmt.Sprintf("embeddings.provider must be %q or %q, got %q",
			ProviderAzureOpenAI, ProviderStatic, c.Embeddings.Provider), nil)
	}
	if c.Embeddings.Dimensions <= 0 {
		return dierrors.ConfigError(fmt.Sprintf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions), nil)
	}
	if c.Embeddings.RequestsPerSecond < 0 || c.Embeddings.MaxInFlight < 0 || c.Embeddings.CacheSize < 0 {
		return dierrors.ConfigError("embeddings throughput settings must be non-negative", nil)
	}

	switch c.Index.Backend {
	case BackendAzureSearch:
		if c.Index.Endpoint == "" {
			return dierrors.ConfigError("index.endpoint is required for azure-search", nil)
		}
	case BackendLocal:
		if c.Index.DataDir == "" {
			return dierrors.ConfigError("index.data_dir is required for the local backend", nil)
		}
	default:
		return dierrors.ConfigError(fmt.Sprintf("index.backend must be %q or %q, got %q",
			BackendAzureSearch, BackendLocal, c.Index.Backend), nil)
	}
	if c.Index.Name == "" {
		return dierrors.ConfigError("index.name is required", nil)
	}
	h := c.Index.HNSW
	if h.M <= 0 || h.EfConstruction <= 0 || h.EfSearch <= 0 {
		return dierrors.ConfigError("index.hnsw parameters must be positive", nil)
	}
	if !strings.EqualFold(h.Metric, "cosine") {
		return dierrors.ConfigError(fmt.Sprintf("index.hnsw.metric must be cosine, got %q", h.Metric), nil)
	}

	if c.Ingest.Workers <= 0 || c.Ingest.EmbedConcurrency <= 0 {
		return dierrors.ConfigError("ingest.workers and ingest.embed_concurrency must be positive", nil)
	}
	switch c.Ingest.ChunkFailurePolicy {
	case PolicyFailDocument, PolicySkipChunk:
	default:
		return dierrors.ConfigError(fmt.Sprintf("ingest.chunk_failure_policy must be %q or %q, got %q",
			PolicyFailDocument, PolicySkipChunk, c.Ingest.ChunkFailurePolicy), nil)
	}

	// An empty public group disables it.
	if c.Index.PublicGroup != "" {
		if err := validGroupID("index.public_group", c.Index.PublicGroup); err != nil {
			return err
		}
	}
	for _, g := range c.Source.DefaultGroups {
		if err := validGroupID("source.default_groups", g); err != nil {
			return err
		}
	}
	for pattern, groups := range c.Source.GroupMap {
		for _, g := range groups {
			if err := validGroupID(fmt.Sprintf("source.group_map[%q]", pattern), g); err != nil {
				return err
			}
		}
	}

	if c.Query.TopK <= 0 {
		return dierrors.ConfigError(fmt.Sprintf("query.top_k must be positive, got %d", c.Query.TopK), nil)
	}
	if c.Retry.MaxRetries < 0 {
		return dierrors.ConfigError("retry.max_retries must be non-negative", nil)
	}

	for name, v := range map[string]string{
		"embeddings.timeout":    c.Embeddings.Timeout,
		"index.timeout":         c.Index.Timeout,
		"ingest.watch_debounce": c.Ingest.WatchDebounce,
		"retry.initial_delay":   c.Retry.InitialDelay,
		"retry.max_delay":       c.Retry.MaxDelay,
	} {
		if _, err := parseDuration(v); err != nil {
			return dierrors.ConfigError(fmt.Sprintf("%s is not a valid duration: %q", name, v), err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return dierrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}

	return nil
}

// groupDelimiter separates group ids in the remote index filter.
const groupDelimiter = "|"

func validGroupID(field, g string) error {
	if g == "" || strings.Contains(g, groupDelimiter) {
		return dierrors.ConfigError(fmt.Sprintf("%s: group id %q must be non-empty and must not contain %q",
			field, g, groupDelimiter), nil)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// parseDuration accepts "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
