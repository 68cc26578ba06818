package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/docindex/internal/chunk"
	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/embed"
	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/logging"
	"github.com/Aman-CERP/docindex/internal/mcp"
	"github.com/Aman-CERP/docindex/internal/query"
	"github.com/Aman-CERP/docindex/internal/searchindex"
	"github.com/Aman-CERP/docindex/internal/source"
	"github.com/Aman-CERP/docindex/internal/telemetry"
	"github.com/Aman-CERP/docindex/internal/tokenizer"
)

// app holds the collaborators one command invocation needs. Everything is
// opened lazily and released by close.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client

	index    searchindex.Service
	embedder embed.Embedder
	metrics  *telemetry.QueryMetrics

	closers []func() error
}

// newApp loads configuration and sets up logging. stdio selects file-only
// logging so nothing but protocol traffic reaches stdout or stderr.
func newApp(opts *rootOptions, stdio bool) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logCfg := logging.DefaultConfig()
	if stdio {
		logCfg = logging.ServeConfig(level)
	}
	logCfg.Level = level
	if !stdio {
		logCfg.Format = cfg.Logging.Format
		logCfg.FilePath = cfg.Logging.File
	}
	if opts.logFile != "" {
		logCfg.FilePath = opts.logFile
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, dierrors.ConfigError("failed to set up logging", err)
	}
	slog.SetDefault(logger)

	a := &app{
		cfg:    cfg,
		logger: logger,
		client: newHTTPClient(),
	}
	a.closers = append(a.closers, func() error { cleanup(); return nil })
	return a, nil
}

// newHTTPClient returns the client shared by the embedding and index
// services. Deadlines come from contexts.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (a *app) openIndex(ctx context.Context) (searchindex.Service, error) {
	if a.index != nil {
		return a.index, nil
	}
	idx, err := searchindex.Open(ctx, a.cfg, a.client, a.logger)
	if err != nil {
		return nil, err
	}
	a.index = idx
	a.closers = append(a.closers, idx.Close)
	return idx, nil
}

func (a *app) openEmbedder(ctx context.Context) (embed.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	e, err := embed.NewFromConfig(ctx, a.cfg, a.client, a.logger)
	if err != nil {
		return nil, err
	}
	a.embedder = e
	a.closers = append(a.closers, e.Close)
	return e, nil
}

// ensureSchema creates or updates the index definition from config.
func (a *app) ensureSchema(ctx context.Context) (searchindex.Schema, error) {
	idx, err := a.openIndex(ctx)
	if err != nil {
		return searchindex.Schema{}, err
	}
	schema := searchindex.SchemaFromConfig(a.cfg)
	if err := idx.CreateOrUpdateIndex(ctx, schema); err != nil {
		return searchindex.Schema{}, err
	}
	a.logger.Info("index_schema_applied",
		slog.String("index", schema.Name),
		slog.Int("dims", schema.VectorDimensions()))
	return schema, nil
}

func (a *app) retryConfig() dierrors.RetryConfig {
	retry := dierrors.DefaultRetryConfig()
	retry.MaxRetries = a.cfg.Retry.MaxRetries
	retry.InitialDelay, retry.MaxDelay = a.cfg.RetryDelays()
	return retry
}

// pipeline wires the ingestion path: tokenizer, splitter, builder, writer.
func (a *app) pipeline(ctx context.Context) (*ingest.Pipeline, error) {
	idx, err := a.openIndex(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	counter, err := tokenizer.NewBPE(a.cfg.Chunking.Encoding)
	if err != nil {
		return nil, err
	}
	splitter, err := chunk.NewSplitter(counter, chunk.Options{
		MaxTokensPerLine:      a.cfg.Chunking.MaxTokensPerLine,
		MaxTokensPerParagraph: a.cfg.Chunking.MaxTokensPerParagraph,
		OverlapTokens:         a.cfg.Chunking.OverlapTokens,
	})
	if err != nil {
		return nil, err
	}

	return ingest.NewPipeline(ingest.PipelineConfig{
		Splitter: splitter,
		Builder: ingest.NewBuilder(ingest.BuilderConfig{
			Embedder:    embedder,
			Concurrency: a.cfg.Ingest.EmbedConcurrency,
			Policy:      ingest.ChunkFailurePolicy(a.cfg.Ingest.ChunkFailurePolicy),
			Logger:      a.logger,
		}),
		Writer:     ingest.NewWriter(idx, a.retryConfig(), a.logger),
		Index:      idx,
		Workers:    a.cfg.Ingest.Workers,
		PruneStale: a.cfg.Ingest.PruneStale,
		Logger:     a.logger,
	}), nil
}

// maintenance wires a pipeline that only deletes, without an embedder.
func (a *app) maintenance(ctx context.Context) (*ingest.Pipeline, error) {
	idx, err := a.openIndex(ctx)
	if err != nil {
		return nil, err
	}
	return ingest.NewPipeline(ingest.PipelineConfig{
		Writer: ingest.NewWriter(idx, a.retryConfig(), a.logger),
		Index:  idx,
		Logger: a.logger,
	}), nil
}

func (a *app) source() (*source.Filesystem, error) {
	sc := a.cfg.Source
	return source.NewFilesystem(source.FilesystemConfig{
		Dir:           sc.Dir,
		Extensions:    sc.Extensions,
		Exclude:       sc.Exclude,
		DefaultGroups: sc.DefaultGroups,
		GroupMap:      sc.GroupMap,
		URLBase:       sc.URLBase,
		Logger:        a.logger,
	})
}

// engine wires the query path. Query embeddings are cached.
func (a *app) engine(ctx context.Context) (*query.Engine, error) {
	idx, err := a.openIndex(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	if a.cfg.Embeddings.CacheSize > 0 {
		embedder = embed.NewCachedEmbedder(embedder, a.cfg.Embeddings.CacheSize)
	}
	qcfg := query.Config{
		Embedder:    embedder,
		Index:       idx,
		PublicGroup: a.cfg.Index.PublicGroup,
		Logger:      a.logger,
	}
	if a.cfg.Query.Telemetry {
		qcfg.Recorder = a.openMetrics(ctx)
	}
	return query.NewEngine(qcfg), nil
}

// openMetrics opens the query telemetry store in the data directory. A
// store that cannot be opened degrades to in-memory statistics.
func (a *app) openMetrics(ctx context.Context) *telemetry.QueryMetrics {
	if a.metrics != nil {
		return a.metrics
	}
	cfg := telemetry.DefaultConfig()
	cfg.Logger = a.logger

	var store telemetry.Store
	path := filepath.Join(a.cfg.Index.DataDir, telemetry.DBFile)
	sqlStore, err := telemetry.OpenSQLiteStore(ctx, path)
	if err != nil {
		a.logger.Warn("telemetry_store_unavailable", dierrors.LogAttrs(err)...)
	} else {
		store = sqlStore
	}

	a.metrics = telemetry.New(store, cfg)
	a.closers = append(a.closers, a.metrics.Close)
	return a.metrics
}

// close releases everything in reverse order of opening.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// stats returns the query statistics source, or nil when telemetry is off.
func (a *app) stats() mcp.StatsSource {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}
