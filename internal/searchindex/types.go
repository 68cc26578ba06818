// Package searchindex declares the chunk index schema and the Service
// contract shared by the Azure AI Search client and the embedded local index.
package searchindex

import (
	"context"
	"fmt"
	"slices"
	"strings"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Field names as they appear on the wire.
const (
	FieldID            = "id"
	FieldContent       = "content"
	FieldContentVector = "contentvector"
	FieldTitle         = "title"
	FieldFilepath      = "filepath"
	FieldURL           = "url"
	FieldChunkID       = "chunk_id"
	FieldLastUpdated   = "last_updated"
	FieldGroupIDs      = "group_ids"
	FieldTokenSize     = "tokensize"
)

// Field types (Entity Data Model names).
const (
	TypeString           = "Edm.String"
	TypeInt32            = "Edm.Int32"
	TypeStringCollection = "Collection(Edm.String)"
	TypeVector           = "Collection(Edm.Single)"
)

// MetricCosine is the only supported similarity metric.
const MetricCosine = "cosine"

// DefaultSelect is the projection returned by Search: every stored field
// except the vector.
var DefaultSelect = []string{
	FieldID, FieldContent, FieldTitle, FieldFilepath, FieldURL,
	FieldChunkID, FieldLastUpdated, FieldGroupIDs, FieldTokenSize,
}

// Field describes one index field.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Key         bool   `json:"key"`
	Searchable  bool   `json:"searchable"`
	Filterable  bool   `json:"filterable"`
	Sortable    bool   `json:"sortable"`
	Facetable   bool   `json:"facetable"`
	Retrievable bool   `json:"retrievable"`

	// Vector fields only.
	Dimensions    int    `json:"dimensions,omitempty"`
	VectorProfile string `json:"vectorSearchProfile,omitempty"`
}

// HNSWConfig holds the approximate nearest-neighbor parameters.
type HNSWConfig struct {
	Name           string `json:"name"`
	M              int    `json:"m"`
	EfConstruction int    `json:"efConstruction"`
	EfSearch       int    `json:"efSearch"`
	Metric         string `json:"metric"`
}

// DefaultHNSWConfig returns M=4, efConstruction=400, efSearch=500, cosine.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		Name:           "hnsw-config",
		M:              4,
		EfConstruction: 400,
		EfSearch:       500,
		Metric:         MetricCosine,
	}
}

// VectorProfile binds a vector field to an algorithm configuration.
type VectorProfile struct {
	Name         string `json:"name"`
	AlgorithmRef string `json:"algorithm"`
}

// Schema is the full index definition. Creating it again replaces it.
type Schema struct {
	Name      string        `json:"name"`
	Fields    []Field       `json:"fields"`
	Algorithm HNSWConfig    `json:"algorithm"`
	Profile   VectorProfile `json:"profile"`
}

// NewSchema builds the chunk index definition for vectors of dims dimensions.
// Zero values in hnsw fall back to DefaultHNSWConfig.
func NewSchema(name string, dims int, hnsw HNSWConfig) Schema {
	def := DefaultHNSWConfig()
	if hnsw.Name == "" {
		hnsw.Name = def.Name
	}
	if hnsw.M <= 0 {
		hnsw.M = def.M
	}
	if hnsw.EfConstruction <= 0 {
		hnsw.EfConstruction = def.EfConstruction
	}
	if hnsw.EfSearch <= 0 {
		hnsw.EfSearch = def.EfSearch
	}
	if hnsw.Metric == "" {
		hnsw.Metric = def.Metric
	}
	profile := VectorProfile{Name: "vector-profile", AlgorithmRef: hnsw.Name}

	return Schema{
		Name: name,
		Fields: []Field{
			{Name: FieldID, Type: TypeString, Key: true, Filterable: true, Sortable: true, Facetable: true, Retrievable: true},
			{Name: FieldContent, Type: TypeString, Searchable: true, Retrievable: true},
			{Name: FieldContentVector, Type: TypeVector, Searchable: true, Dimensions: dims, VectorProfile: profile.Name},
			{Name: FieldTitle, Type: TypeString, Searchable: true, Filterable: true, Sortable: true, Retrievable: true},
			{Name: FieldFilepath, Type: TypeString, Searchable: true, Filterable: true, Retrievable: true},
			{Name: FieldURL, Type: TypeString, Retrievable: true},
			{Name: FieldChunkID, Type: TypeString, Sortable: true, Retrievable: true},
			{Name: FieldLastUpdated, Type: TypeString, Retrievable: true},
			{Name: FieldGroupIDs, Type: TypeStringCollection, Filterable: true, Retrievable: true},
			{Name: FieldTokenSize, Type: TypeInt32, Retrievable: true},
		},
		Algorithm: hnsw,
		Profile:   profile,
	}
}

// Field returns the named field.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// VectorDimensions returns the dimension of the contentvector field.
func (s Schema) VectorDimensions() int {
	f, _ := s.Field(FieldContentVector)
	return f.Dimensions
}

// Validate checks the definition is usable.
func (s Schema) Validate() error {
	if s.Name == "" {
		return dierrors.ConfigError("index name is required", nil)
	}
	if s.VectorDimensions() <= 0 {
		return dierrors.ConfigError("vector field needs a positive dimension", nil).
			WithDetail("field", FieldContentVector)
	}
	if s.Algorithm.Metric != MetricCosine {
		return dierrors.ConfigError(fmt.Sprintf("unsupported metric %q", s.Algorithm.Metric), nil)
	}
	if s.Profile.AlgorithmRef != s.Algorithm.Name {
		return dierrors.ConfigError("vector profile references an unknown algorithm", nil).
			WithDetail("algorithm", s.Profile.AlgorithmRef)
	}
	if _, ok := s.Field(FieldID); !ok {
		return dierrors.ConfigError("key field is missing", nil)
	}
	return nil
}

// Record is one persisted chunk.
type Record struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	ContentVector []float32 `json:"contentvector,omitempty"`
	Title         string    `json:"title"`
	Filepath      string    `json:"filepath"`
	URL           string    `json:"url"`
	ChunkID       string    `json:"chunk_id"`
	LastUpdated   string    `json:"last_updated"`
	GroupIDs      []string  `json:"group_ids"`
	TokenSize     int       `json:"tokensize"`
}

// Result is a search hit.
type Result struct {
	Record Record
	Score  float64
}

// GroupFilter restricts results to records sharing at least one group.
// A nil filter means unfiltered; an empty non-nil filter matches nothing.
type GroupFilter []string

// Unfiltered reports whether f applies no restriction.
func (f GroupFilter) Unfiltered() bool {
	return f == nil
}

// Matches reports whether a record carrying groups passes the filter.
func (f GroupFilter) Matches(groups []string) bool {
	if f == nil {
		return true
	}
	for _, g := range groups {
		if slices.Contains(f, g) {
			return true
		}
	}
	return false
}

// GroupDelimiter separates group ids inside the remote filter expression,
// so no group id may contain it.
const GroupDelimiter = "|"

// ValidateGroups rejects group ids that are empty or contain
// GroupDelimiter.
func ValidateGroups(groups []string) error {
	for _, g := range groups {
		if g == "" || strings.Contains(g, GroupDelimiter) {
			return dierrors.ValidationError(fmt.Sprintf("group id %q is invalid", g), nil).
				WithSuggestion("group ids must be non-empty and must not contain " + GroupDelimiter)
		}
	}
	return nil
}

// SearchRequest is a k-NN query over the vector field.
type SearchRequest struct {
	Vector []float32
	TopK   int
	Groups GroupFilter
	// Select limits returned fields; empty means DefaultSelect.
	Select []string
}

// Service is a vector-capable index.
type Service interface {
	// CreateOrUpdateIndex replaces the index definition. Idempotent.
	CreateOrUpdateIndex(ctx context.Context, schema Schema) error

	// Upsert merges or uploads records by id. The batch succeeds or fails
	// as a whole.
	Upsert(ctx context.Context, records []Record) error

	// Delete removes records by id. Absent ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// Search returns up to TopK hits ordered by similarity, highest first.
	Search(ctx context.Context, req SearchRequest) ([]Result, error)

	// ListIDs returns every record id in the index.
	ListIDs(ctx context.Context) ([]string, error)

	Close() error
}
