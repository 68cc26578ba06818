package embed

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Aman-CERP/docindex/internal/config"
	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// NewFromConfig builds the configured provider wrapped in Resilient.
// The returned embedder is meant to be shared by the whole process.
func NewFromConfig(ctx context.Context, cfg *config.Config, client *http.Client, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ec := cfg.Embeddings

	var provider Embedder
	switch ec.Provider {
	case config.ProviderStatic:
		provider = NewStaticEmbedder(ec.Dimensions)

	case config.ProviderAzureOpenAI:
		az := AzureOpenAIConfig{
			Endpoint:   ec.Endpoint,
			Deployment: ec.Deployment,
			APIVersion: ec.APIVersion,
			Dimensions: ec.Dimensions,
			Timeout:    cfg.EmbeddingsTimeout(),
			HTTPClient: client,
			Logger:     logger,
		}
		if ec.Auth.TenantID != "" {
			secret, err := cfg.ClientSecret()
			if err != nil {
				return nil, err
			}
			ts, err := NewEntraTokenSource(ctx, EntraConfig{
				TenantID:     ec.Auth.TenantID,
				ClientID:     ec.Auth.ClientID,
				ClientSecret: secret,
				Scope:        ec.Auth.Scope,
			}, client)
			if err != nil {
				return nil, err
			}
			az.TokenSource = ts
		} else {
			key, err := cfg.EmbeddingsAPIKey()
			if err != nil {
				return nil, err
			}
			az.APIKey = key
		}

		p, err := NewAzureOpenAIEmbedder(az)
		if err != nil {
			return nil, err
		}
		provider = p

	default:
		return nil, dierrors.ConfigError("unknown embeddings provider "+ec.Provider, nil)
	}

	retry := dierrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.Retry.MaxRetries
	retry.InitialDelay, retry.MaxDelay = cfg.RetryDelays()

	logger.Info("embedder_ready",
		slog.String("model", provider.ModelName()),
		slog.Int("dims", ec.Dimensions),
		slog.Float64("requests_per_second", ec.RequestsPerSecond),
		slog.Int("max_in_flight", ec.MaxInFlight))

	return NewResilient(provider, ResilientConfig{
		Dimensions:        ec.Dimensions,
		RequestsPerSecond: ec.RequestsPerSecond,
		Burst:             ec.Burst,
		MaxInFlight:       ec.MaxInFlight,
		Retry:             retry,
		Logger:            logger,
	}), nil
}
