package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

func TestMapError_NilError(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled wrapped", fmt.Errorf("search: %w", context.Canceled), ErrCodeTimeout},
		{"locked index", dierrors.New(dierrors.ErrCodeIndexLocked, "locked", nil), ErrCodeIndexUnavailable},
		{"schema mismatch", dierrors.New(dierrors.ErrCodeSchemaMismatch, "no schema", nil), ErrCodeIndexUnavailable},
		{"dimension mismatch", dierrors.New(dierrors.ErrCodeDimensionMismatch, "dims", nil), ErrCodeEmbeddingFailed},
		{"network", dierrors.NetworkError("down", nil), ErrCodeTimeout},
		{"empty query", dierrors.New(dierrors.ErrCodeQueryEmpty, "empty", nil), ErrCodeInvalidParams},
		{"config", dierrors.ConfigError("bad", nil), ErrCodeInternalError},
		{"plain", errors.New("boom"), ErrCodeInternalError},
		{"passthrough", NewInvalidParamsError("bad top"), ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := dierrors.New(dierrors.ErrCodeIndexLocked, "index is locked", nil).
		WithSuggestion("stop the other docindex process")

	got := MapError(err)

	assert.Equal(t, "index is locked stop the other docindex process", got.Message)
}

func TestMCPError_Error(t *testing.T) {
	err := NewMethodNotFoundError("nope")

	assert.Equal(t, "MCP error -32601: Tool 'nope' not found.", err.Error())
}
