package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/docindex/internal/searchindex"
	"github.com/Aman-CERP/docindex/internal/telemetry"
	"github.com/Aman-CERP/docindex/pkg/version"
)

// Result limits for the search tool.
const (
	DefaultTop = 5
	MaxTop     = 50
)

// Searcher runs a similarity search. *query.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, text string, topK int, groups searchindex.GroupFilter) ([]searchindex.Result, error)
}

// StatsSource reports query telemetry. *telemetry.QueryMetrics satisfies it.
type StatsSource interface {
	Snapshot() *telemetry.Snapshot
}

// statusTopTerms bounds the terms listed by index_status.
const statusTopTerms = 10

// Config wires a Server.
type Config struct {
	Engine Searcher
	Status IndexStatusOutput
	// Stats is optional.
	Stats StatsSource
	// DefaultTop applies when the caller omits top.
	DefaultTop int
	Logger     *slog.Logger
}

// Server is the MCP server for docindex. It exposes the query engine as the
// search tool.
type Server struct {
	mcp        *mcp.Server
	engine     Searcher
	status     IndexStatusOutput
	stats      StatsSource
	defaultTop int
	logger     *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Semantic search over the indexed documents. Returns the chunks closest in meaning to the query, restricted to the given access groups.",
	},
	{
		Name:        "index_status",
		Description: "Report which index and embedding model this server queries.",
	},
}

// NewServer creates a new MCP server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("search engine is required")
	}
	if cfg.DefaultTop <= 0 {
		cfg.DefaultTop = DefaultTop
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		engine:     cfg.Engine,
		status:     cfg.Status,
		stats:      cfg.Stats,
		defaultTop: clampLimit(cfg.DefaultTop, DefaultTop, 1, MaxTop),
		logger:     cfg.Logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "docindex",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return tools
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools[0].Name,
		Description: tools[0].Description,
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools[1].Name,
		Description: tools[1].Description,
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	start := time.Now()
	requestID := generateRequestID()
	top := clampLimit(input.Top, s.defaultTop, 1, MaxTop)

	var groups searchindex.GroupFilter
	if input.Groups != nil {
		groups = searchindex.GroupFilter(input.Groups)
	}
	if err := searchindex.ValidateGroups(groups); err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Info("mcp_search_started",
		slog.String("request_id", requestID),
		slog.Int("top", top),
		slog.Int("groups", len(groups)))

	results, err := s.engine.Search(ctx, input.Query, top, groups)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Info("mcp_search_complete",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	output := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		output.Results = append(output.Results, toSearchResultOutput(r))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(input.Query, results)}},
	}, output, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	out := s.status
	if s.stats != nil {
		snap := s.stats.Snapshot()
		qs := &QueryStatsOutput{
			Total:             snap.TotalQueries,
			Filtered:          snap.ScopeCounts[telemetry.ScopeFiltered],
			ZeroResults:       snap.ZeroResultCount,
			ZeroResultQueries: snap.ZeroResultQueries,
		}
		for i, tc := range snap.TopTerms {
			if i == statusTopTerms {
				break
			}
			qs.TopTerms = append(qs.TopTerms, tc.Term)
		}
		out.Queries = qs
	}
	return nil, out, nil
}

// Serve runs the server on the given transport until ctx is done.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func toSearchResultOutput(r searchindex.Result) SearchResultOutput {
	rec := r.Record
	return SearchResultOutput{
		ID:          rec.ID,
		Title:       rec.Title,
		URL:         rec.URL,
		ChunkID:     rec.ChunkID,
		Content:     rec.Content,
		Score:       r.Score,
		GroupIDs:    rec.GroupIDs,
		LastUpdated: rec.LastUpdated,
	}
}

// clampLimit returns v bounded to [lo, hi], or def when v is not positive.
func clampLimit(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	return max(lo, min(v, hi))
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
