package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: budgets and ANN defaults match the production index
	require.NotNil(t, cfg)
	assert.Equal(t, 300, cfg.Chunking.MaxTokensPerLine)
	assert.Equal(t, 4000, cfg.Chunking.MaxTokensPerParagraph)
	assert.Equal(t, 0, cfg.Chunking.OverlapTokens)
	assert.Equal(t, "cl100k_base", cfg.Chunking.Encoding)

	assert.Equal(t, ProviderAzureOpenAI, cfg.Embeddings.Provider)
	assert.Equal(t, "2023-05-15", cfg.Embeddings.APIVersion)
	assert.Equal(t, 1536, cfg.Embeddings.Dimensions)

	assert.Equal(t, 4, cfg.Index.HNSW.M)
	assert.Equal(t, 400, cfg.Index.HNSW.EfConstruction)
	assert.Equal(t, 500, cfg.Index.HNSW.EfSearch)
	assert.Equal(t, "cosine", cfg.Index.HNSW.Metric)
	assert.Equal(t, "public", cfg.Index.PublicGroup)

	assert.Equal(t, PolicyFailDocument, cfg.Ingest.ChunkFailurePolicy)
	assert.True(t, cfg.Ingest.PruneStale)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	// Given: a config file setting some keys
	dir := t.TempDir()
	writeFile(t, dir, "docindex.yaml", `
chunking:
  max_tokens_per_line: 50
  max_tokens_per_paragraph: 200
  overlap_tokens: 20
embeddings:
  provider: static
  dimensions: 8
index:
  backend: local
  data_dir: /tmp/idx
  hnsw:
    m: 16
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: file values win, absent keys keep defaults
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Chunking.MaxTokensPerLine)
	assert.Equal(t, 200, cfg.Chunking.MaxTokensPerParagraph)
	assert.Equal(t, 20, cfg.Chunking.OverlapTokens)
	assert.Equal(t, ProviderStatic, cfg.Embeddings.Provider)
	assert.Equal(t, 8, cfg.Embeddings.Dimensions)
	assert.Equal(t, 16, cfg.Index.HNSW.M)
	assert.Equal(t, 500, cfg.Index.HNSW.EfSearch)
	assert.Equal(t, "/tmp/idx", cfg.Index.DataDir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "docindex.yaml", "embeddings:\n  provider: static\n")
	t.Setenv("DOCINDEX_INDEX_NAME", "from-env")
	t.Setenv("DOCINDEX_INGEST_WORKERS", "9")
	t.Setenv("DOCINDEX_PRUNE_STALE", "false")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Index.Name)
	assert.Equal(t, 9, cfg.Ingest.Workers)
	assert.False(t, cfg.Ingest.PruneStale)
}

func TestLoad_DotEnvSuppliesEndpoint(t *testing.T) {
	// Given: azure settings only present in .env
	dir := t.TempDir()
	writeFile(t, dir, ".env", "DOCINDEX_EMBEDDINGS_ENDPOINT=https://res.openai.azure.com\nDOCINDEX_EMBEDDINGS_DEPLOYMENT=ada\n")
	t.Setenv("DOCINDEX_EMBEDDINGS_ENDPOINT", "")
	t.Setenv("DOCINDEX_EMBEDDINGS_DEPLOYMENT", "")
	os.Unsetenv("DOCINDEX_EMBEDDINGS_ENDPOINT")
	os.Unsetenv("DOCINDEX_EMBEDDINGS_DEPLOYMENT")

	// When: loading without a yaml file
	cfg, err := Load(dir)

	// Then: the azure provider validates
	require.NoError(t, err)
	assert.Equal(t, "https://res.openai.azure.com", cfg.Embeddings.Endpoint)
	assert.Equal(t, "ada", cfg.Embeddings.Deployment)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.Equal(t, dierrors.ErrCodeConfigNotFound, dierrors.GetCode(err))
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "docindex.yaml", "chunking: [not a map")

	_, err := Load(dir)

	require.Error(t, err)
	assert.True(t, dierrors.IsFatal(err))
}

func TestValidate_RejectsBadBudgets(t *testing.T) {
	tests := []struct {
		name          string
		line, para, o int
	}{
		{"zero line", 0, 100, 0},
		{"zero paragraph", 10, 0, 0},
		{"negative overlap", 10, 100, -1},
		{"overlap equals paragraph", 10, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Embeddings.Provider = ProviderStatic
			cfg.Chunking.MaxTokensPerLine = tt.line
			cfg.Chunking.MaxTokensPerParagraph = tt.para
			cfg.Chunking.OverlapTokens = tt.o

			err := cfg.Validate()

			require.Error(t, err)
			assert.Equal(t, dierrors.ErrCodeInvalidTokenBudget, dierrors.GetCode(err))
			assert.True(t, dierrors.IsFatal(err))
		})
	}
}

func TestValidate_Choices(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"azure without endpoint", func(c *Config) { c.Embeddings.Provider = ProviderAzureOpenAI }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "ollama" }},
		{"unknown backend", func(c *Config) { c.Index.Backend = "qdrant" }},
		{"azure search without endpoint", func(c *Config) { c.Index.Backend = BackendAzureSearch }},
		{"non-cosine metric", func(c *Config) { c.Index.HNSW.Metric = "dotProduct" }},
		{"unknown policy", func(c *Config) { c.Ingest.ChunkFailurePolicy = "ignore" }},
		{"bad duration", func(c *Config) { c.Retry.MaxDelay = "soon" }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"group map id with delimiter", func(c *Config) { c.Source.GroupMap = map[string][]string{"hr/**": {"HR|Finance"}} }},
		{"empty default group", func(c *Config) { c.Source.DefaultGroups = []string{""} }},
		{"public group with delimiter", func(c *Config) { c.Index.PublicGroup = "pub|lic" }},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Embeddings.Provider = ProviderStatic
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)

			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSecrets_ReadFromNamedEnv(t *testing.T) {
	cfg := NewConfig()
	cfg.Index.APIKeyEnv = "TEST_DOCINDEX_SEARCH_KEY"

	_, err := cfg.IndexAPIKey()
	require.Error(t, err)
	assert.Equal(t, dierrors.ErrCodeMissingCredentials, dierrors.GetCode(err))

	t.Setenv("TEST_DOCINDEX_SEARCH_KEY", "s3cret")
	key, err := cfg.IndexAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", key)
}

func TestDurations(t *testing.T) {
	cfg := NewConfig()

	initial, maxDelay := cfg.RetryDelays()
	assert.Equal(t, 500*time.Millisecond, initial)
	assert.Equal(t, 30*time.Second, maxDelay)
	assert.Equal(t, 30*time.Second, cfg.EmbeddingsTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce())
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Embeddings.Provider = ProviderStatic
	cfg.Source.GroupMap = map[string][]string{"hr": {"G-HR"}}
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, "docindex.yaml")))

	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{"G-HR"}, loaded.Source.GroupMap["hr"])
}
