package searchindex

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
	"time"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Azure AI Search defaults.
const (
	DefaultAzureAPIVersion = "2023-11-01"
	DefaultAzureTimeout    = 60 * time.Second

	// MaxBatchSize is the service limit on actions per indexing request.
	MaxBatchSize = 1000

	listPageSize = 1000
)

// AzureSearchConfig configures AzureSearch.
type AzureSearchConfig struct {
	// Endpoint is the service URL, e.g. https://mysearch.search.windows.net.
	Endpoint   string
	IndexName  string
	APIKey     string
	APIVersion string
	Timeout    time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Breaker guards every request; nil installs a default breaker.
	Breaker *dierrors.CircuitBreaker
}

// AzureSearch talks to the Azure AI Search REST API. Each method performs
// its requests once; batch retries belong to the caller.
type AzureSearch struct {
	cfg     AzureSearchConfig
	base    string
	client  *http.Client
	logger  *slog.Logger
	breaker *dierrors.CircuitBreaker
}

var _ Service = (*AzureSearch)(nil)

// NewAzureSearch validates cfg and returns a client.
func NewAzureSearch(cfg AzureSearchConfig) (*AzureSearch, error) {
	if cfg.Endpoint == "" || cfg.IndexName == "" {
		return nil, dierrors.ConfigError("azure search endpoint and index name are required", nil)
	}
	if cfg.APIKey == "" {
		return nil, dierrors.New(dierrors.ErrCodeMissingCredentials, "azure search api key is required", nil)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAzureAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAzureTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = dierrors.NewCircuitBreaker("azure-search")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &AzureSearch{
		cfg:     cfg,
		base:    strings.TrimRight(cfg.Endpoint, "/"),
		client:  client,
		logger:  cfg.Logger,
		breaker: cfg.Breaker,
	}, nil
}

// Wire shapes.

type azureAlgorithm struct {
	Name       string              `json:"name"`
	Kind       string              `json:"kind"`
	Parameters azureHNSWParameters `json:"hnswParameters"`
}

type azureHNSWParameters struct {
	M              int    `json:"m"`
	EfConstruction int    `json:"efConstruction"`
	EfSearch       int    `json:"efSearch"`
	Metric         string `json:"metric"`
}

type azureVectorSearch struct {
	Algorithms []azureAlgorithm `json:"algorithms"`
	Profiles   []VectorProfile  `json:"profiles"`
}

type azureIndex struct {
	Name         string            `json:"name"`
	Fields       []Field           `json:"fields"`
	VectorSearch azureVectorSearch `json:"vectorSearch"`
}

type uploadAction struct {
	Action string `json:"@search.action"`
	Record
}

type deleteAction struct {
	Action string `json:"@search.action"`
	ID     string `json:"id"`
}

type indexBatch[T any] struct {
	Value []T `json:"value"`
}

type indexResult struct {
	Key          string `json:"key"`
	Status       bool   `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	StatusCode   int    `json:"statusCode"`
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
	Fields string    `json:"fields"`
}

type searchBody struct {
	Search           string        `json:"search,omitempty"`
	VectorQueries    []vectorQuery `json:"vectorQueries,omitempty"`
	VectorFilterMode string        `json:"vectorFilterMode,omitempty"`
	Filter           string        `json:"filter,omitempty"`
	Select           string        `json:"select,omitempty"`
	OrderBy          string        `json:"orderby,omitempty"`
	Top              int           `json:"top"`
}

type searchHit struct {
	Score float64 `json:"@search.score"`
	Record
}

type searchResponse struct {
	Value []searchHit `json:"value"`
}

type azureErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AzureSearch) url(path string) string {
	return fmt.Sprintf("%s%s?api-version=%s", a.base, path, url.QueryEscape(a.cfg.APIVersion))
}

func (a *AzureSearch) indexPath(name string) string {
	return "/indexes/" + url.PathEscape(name)
}

// do sends one JSON request through the breaker and decodes a 2xx body
// into out (when non-nil). Non-2xx responses are classified.
func (a *AzureSearch) do(ctx context.Context, method, path string, in, out any, what string) (int, error) {
	return dierrors.CircuitExecute(a.breaker, func() (int, error) {
		body, err := json.Marshal(in)
		if err != nil {
			return 0, dierrors.InternalError("failed to encode "+what+" request", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, method, a.url(path), bytes.NewReader(body))
		if err != nil {
			return 0, dierrors.InternalError("failed to build "+what+" request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", a.cfg.APIKey)

		resp, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, dierrors.NetworkError(what+" request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, classifyStatus(resp, what)
		}
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, dierrors.NetworkError("failed to decode "+what+" response", err)
			}
		}
		return resp.StatusCode, nil
	})
}

// classifyStatus maps a non-2xx response: 400/404 schema mismatch,
// 401/403 unauthorized, 429/503 throttled, other 5xx transient.
func classifyStatus(resp *http.Response, what string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("%s request returned status %d", what, resp.StatusCode)

	var apiErr azureErrorResponse
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, apiErr.Error.Message)
	}
	status := strconv.Itoa(resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return dierrors.SchemaMismatchError(msg, nil).WithDetail("status", status)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return dierrors.UnauthorizedError(msg, nil).WithDetail("status", status)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return dierrors.RateLimitedError(msg, dierrors.ParseRetryAfter(resp.Header)).WithDetail("status", status)
	case resp.StatusCode >= 500:
		return dierrors.NetworkError(msg, nil).WithDetail("status", status)
	default:
		return dierrors.New(dierrors.ErrCodeIndexFailed, msg, nil).WithDetail("status", status)
	}
}

// CreateOrUpdateIndex PUTs the full index definition.
func (a *AzureSearch) CreateOrUpdateIndex(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	def := azureIndex{
		Name:   schema.Name,
		Fields: schema.Fields,
		VectorSearch: azureVectorSearch{
			Algorithms: []azureAlgorithm{{
				Name: schema.Algorithm.Name,
				Kind: "hnsw",
				Parameters: azureHNSWParameters{
					M:              schema.Algorithm.M,
					EfConstruction: schema.Algorithm.EfConstruction,
					EfSearch:       schema.Algorithm.EfSearch,
					Metric:         schema.Algorithm.Metric,
				},
			}},
			Profiles: []VectorProfile{schema.Profile},
		},
	}

	if _, err := a.do(ctx, http.MethodPut, a.indexPath(schema.Name), def, nil, "create index"); err != nil {
		return err
	}
	a.logger.Info("index_schema_applied",
		slog.String("backend", "azure-search"),
		slog.String("index", schema.Name),
		slog.Int("dimensions", schema.VectorDimensions()))
	return nil
}

// Upsert sends mergeOrUpload actions. Batches over MaxBatchSize are split;
// a partial success (207) fails the whole call as a retryable error.
func (a *AzureSearch) Upsert(ctx context.Context, records []Record) error {
	actions := make([]uploadAction, len(records))
	for i, r := range records {
		if err := ValidateGroups(r.GroupIDs); err != nil {
			return err
		}
		if r.GroupIDs == nil {
			r.GroupIDs = []string{}
		}
		actions[i] = uploadAction{Action: "mergeOrUpload", Record: r}
	}
	if err := submitBatches(ctx, a, actions, "upsert"); err != nil {
		return err
	}
	a.logger.Debug("azure_upsert_complete", slog.Int("records", len(records)))
	return nil
}

// Delete sends delete actions; the service treats unknown keys as success.
func (a *AzureSearch) Delete(ctx context.Context, ids []string) error {
	actions := make([]deleteAction, len(ids))
	for i, id := range ids {
		actions[i] = deleteAction{Action: "delete", ID: id}
	}
	if err := submitBatches(ctx, a, actions, "delete"); err != nil {
		return err
	}
	a.logger.Debug("azure_delete_complete", slog.Int("ids", len(ids)))
	return nil
}

func submitBatches[T any](ctx context.Context, a *AzureSearch, actions []T, what string) error {
	path := a.indexPath(a.cfg.IndexName) + "/docs/index"
	for start := 0; start < len(actions); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(actions))

		var result indexBatch[indexResult]
		status, err := a.do(ctx, http.MethodPost, path, indexBatch[T]{Value: actions[start:end]}, &result, what)
		if err != nil {
			return err
		}
		if status == http.StatusMultiStatus {
			return partialFailure(result.Value, what)
		}
	}
	return nil
}

func partialFailure(results []indexResult, what string) error {
	var failed []string
	var first string
	for _, r := range results {
		if r.Status {
			continue
		}
		failed = append(failed, r.Key)
		if first == "" {
			first = r.ErrorMessage
		}
	}
	return dierrors.New(dierrors.ErrCodeIndexFailed,
		fmt.Sprintf("%s batch partially failed: %d of %d actions rejected", what, len(failed), len(results)), nil).
		WithDetail("failed_keys", strings.Join(failed, ",")).
		WithDetail("first_error", first)
}

// GroupFilterExpression renders a group filter as an OData expression over
// group_ids. Single quotes in group ids are doubled. Callers validate the
// ids with ValidateGroups first.
func GroupFilterExpression(groups GroupFilter) string {
	escaped := make([]string, len(groups))
	for i, g := range groups {
		escaped[i] = strings.ReplaceAll(g, "'", "''")
	}
	return fmt.Sprintf("%s/any(g: search.in(g, '%s', '%s'))",
		FieldGroupIDs, strings.Join(escaped, GroupDelimiter), GroupDelimiter)
}

// Search runs a pre-filtered vector query on contentvector.
func (a *AzureSearch) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	if req.TopK <= 0 {
		return nil, dierrors.ValidationError("top k must be positive", nil)
	}
	if err := ValidateGroups(req.Groups); err != nil {
		return nil, err
	}
	fields := req.Select
	if len(fields) == 0 {
		fields = DefaultSelect
	}

	body := searchBody{
		VectorQueries: []vectorQuery{{
			Kind:   "vector",
			Vector: req.Vector,
			K:      req.TopK,
			Fields: FieldContentVector,
		}},
		Select: strings.Join(fields, ","),
		Top:    req.TopK,
	}
	if !req.Groups.Unfiltered() {
		body.Filter = GroupFilterExpression(req.Groups)
		body.VectorFilterMode = "preFilter"
	}

	var resp searchResponse
	path := a.indexPath(a.cfg.IndexName) + "/docs/search"
	if _, err := a.do(ctx, http.MethodPost, path, body, &resp, "search"); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Value))
	for _, h := range resp.Value {
		results = append(results, Result{Record: h.Record, Score: h.Score})
	}
	return results, nil
}

// ListIDs pages through every document ordered by id. Pages are keyed on
// the last id seen, so the service's $skip ceiling does not apply.
func (a *AzureSearch) ListIDs(ctx context.Context) ([]string, error) {
	path := a.indexPath(a.cfg.IndexName) + "/docs/search"
	ids := []string{}
	for {
		var resp searchResponse
		body := searchBody{
			Search:  "*",
			Select:  FieldID,
			OrderBy: FieldID + " asc",
			Top:     listPageSize,
		}
		if len(ids) > 0 {
			body.Filter = fmt.Sprintf("%s gt '%s'", FieldID, strings.ReplaceAll(ids[len(ids)-1], "'", "''"))
		}
		if _, err := a.do(ctx, http.MethodPost, path, body, &resp, "list"); err != nil {
			return nil, err
		}
		for _, h := range resp.Value {
			ids = append(ids, h.ID)
		}
		if len(resp.Value) < listPageSize {
			return ids, nil
		}
	}
}

// Close releases idle connections.
func (a *AzureSearch) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
