package mcp

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query  string   `json:"query" jsonschema:"the natural-language question to search for"`
	Top    int      `json:"top,omitempty" jsonschema:"maximum number of results, default 5"`
	Groups []string `json:"groups,omitempty" jsonschema:"caller's access groups; omit for an unfiltered search"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"list of matching chunks, best first"`
}

// SearchResultOutput is one matching chunk.
type SearchResultOutput struct {
	ID          string   `json:"id" jsonschema:"chunk record id"`
	Title       string   `json:"title" jsonschema:"source document name"`
	URL         string   `json:"url,omitempty" jsonschema:"link to the source document"`
	ChunkID     string   `json:"chunk_id" jsonschema:"1-based chunk sequence within the document"`
	Content     string   `json:"content" jsonschema:"chunk text"`
	Score       float64  `json:"score" jsonschema:"similarity score, higher is closer"`
	GroupIDs    []string `json:"group_ids,omitempty" jsonschema:"groups allowed to read the chunk"`
	LastUpdated string   `json:"last_updated,omitempty" jsonschema:"source document modification time"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Index       string `json:"index"`
	Backend     string `json:"backend"`
	Model       string `json:"model"`
	Dimensions  int    `json:"dimensions"`
	PublicGroup string `json:"public_group,omitempty"`
	// Queries is present when query telemetry is enabled.
	Queries *QueryStatsOutput `json:"queries,omitempty"`
}

// QueryStatsOutput summarises the queries answered since the server started.
type QueryStatsOutput struct {
	Total             int64    `json:"total"`
	Filtered          int64    `json:"filtered"`
	ZeroResults       int64    `json:"zero_results"`
	TopTerms          []string `json:"top_terms,omitempty"`
	ZeroResultQueries []string `json:"zero_result_queries,omitempty"`
}
