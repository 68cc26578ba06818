package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Azure OpenAI defaults.
const (
	DefaultAzureAPIVersion = "2023-05-15"
	DefaultAzureDimensions = 1536
	DefaultAzureTimeout    = 30 * time.Second
)

// AzureOpenAIConfig configures AzureOpenAIEmbedder. Exactly one of APIKey
// and TokenSource should be set.
type AzureOpenAIConfig struct {
	// Endpoint is the resource base URL, e.g. https://myres.openai.azure.com.
	Endpoint   string
	Deployment string
	APIVersion string

	APIKey      string
	TokenSource oauth2.TokenSource

	Dimensions int
	Timeout    time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// AzureOpenAIEmbedder calls the Azure OpenAI embeddings REST API.
// It performs exactly one HTTP request per Embed call; retries belong to
// Resilient.
type AzureOpenAIEmbedder struct {
	cfg    AzureOpenAIConfig
	url    string
	client *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*AzureOpenAIEmbedder)(nil)

type azureEmbedRequest struct {
	Input string `json:"input"`
}

type azureEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type azureErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAzureOpenAIEmbedder validates cfg and returns an embedder.
func NewAzureOpenAIEmbedder(cfg AzureOpenAIConfig) (*AzureOpenAIEmbedder, error) {
	if cfg.Endpoint == "" || cfg.Deployment == "" {
		return nil, dierrors.ConfigError("azure openai endpoint and deployment are required", nil)
	}
	if cfg.APIKey == "" && cfg.TokenSource == nil {
		return nil, dierrors.New(dierrors.ErrCodeMissingCredentials, "azure openai needs an api key or a token source", nil)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAzureAPIVersion
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultAzureDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAzureTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		// Per-request deadlines come from the context, not Client.Timeout.
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		strings.TrimRight(cfg.Endpoint, "/"),
		url.PathEscape(cfg.Deployment),
		url.QueryEscape(cfg.APIVersion))

	return &AzureOpenAIEmbedder{
		cfg:    cfg,
		url:    endpoint,
		client: client,
		logger: cfg.Logger,
	}, nil
}

// Embed requests the embedding of text.
func (e *AzureOpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, dierrors.InternalError("embedder is closed", nil)
	}

	body, err := json.Marshal(azureEmbedRequest{Input: text})
	if err != nil {
		return nil, dierrors.InternalError("failed to marshal embedding request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, dierrors.InternalError("failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := e.authorize(req); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, dierrors.NetworkError("embedding request failed", err).
			WithDetail("deployment", e.cfg.Deployment)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp, "embedding")
	}

	var parsed azureEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, dierrors.NetworkError("failed to decode embedding response", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, dierrors.New(dierrors.ErrCodeEmbeddingFailed, "embedding response contained no vector", nil)
	}

	e.logger.Debug("embedding_complete",
		slog.String("deployment", e.cfg.Deployment),
		slog.Int("dims", len(parsed.Data[0].Embedding)),
		slog.Duration("duration", time.Since(start)))

	return parsed.Data[0].Embedding, nil
}

func (e *AzureOpenAIEmbedder) authorize(req *http.Request) error {
	if e.cfg.TokenSource == nil {
		req.Header.Set("api-key", e.cfg.APIKey)
		return nil
	}
	tok, err := e.cfg.TokenSource.Token()
	if err != nil {
		return classifyTokenError(err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// Dimensions returns the configured dimension.
func (e *AzureOpenAIEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// ModelName returns the deployment name.
func (e *AzureOpenAIEmbedder) ModelName() string {
	return "azure-openai/" + e.cfg.Deployment
}

// Close releases idle connections.
func (e *AzureOpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// classifyResponse maps a non-2xx response to the error taxonomy:
// 429 rate limited, 401/403 unauthorized, 408/5xx transient, anything
// else a non-retryable failure of this call.
func classifyResponse(resp *http.Response, what string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("%s request returned status %d", what, resp.StatusCode)

	var apiErr azureErrorResponse
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, apiErr.Error.Message)
	}
	status := strconv.Itoa(resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return dierrors.RateLimitedError(msg, dierrors.ParseRetryAfter(resp.Header)).WithDetail("status", status)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return dierrors.UnauthorizedError(msg, nil).WithDetail("status", status)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return dierrors.NetworkError(msg, nil).WithDetail("status", status)
	default:
		return dierrors.New(dierrors.ErrCodeEmbeddingFailed, msg, nil).WithDetail("status", status)
	}
}
