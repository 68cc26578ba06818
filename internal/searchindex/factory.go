package searchindex

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Aman-CERP/docindex/internal/config"
	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// SchemaFromConfig builds the index definition for the configured name,
// embedding dimension and HNSW parameters.
func SchemaFromConfig(cfg *config.Config) Schema {
	h := cfg.Index.HNSW
	return NewSchema(cfg.Index.Name, cfg.Embeddings.Dimensions, HNSWConfig{
		M:              h.M,
		EfConstruction: h.EfConstruction,
		EfSearch:       h.EfSearch,
		Metric:         h.Metric,
	})
}

// Open returns the configured backend.
func Open(ctx context.Context, cfg *config.Config, client *http.Client, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ic := cfg.Index

	switch ic.Backend {
	case config.BackendLocal:
		return OpenLocal(ctx, LocalConfig{Dir: ic.DataDir, Logger: logger})

	case config.BackendAzureSearch:
		key, err := cfg.IndexAPIKey()
		if err != nil {
			return nil, err
		}
		return NewAzureSearch(AzureSearchConfig{
			Endpoint:   ic.Endpoint,
			IndexName:  ic.Name,
			APIKey:     key,
			APIVersion: ic.APIVersion,
			Timeout:    cfg.IndexTimeout(),
			HTTPClient: client,
			Logger:     logger,
		})

	default:
		return nil, dierrors.ConfigError("unknown index backend "+ic.Backend, nil)
	}
}
