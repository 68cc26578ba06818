package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedder_CacheHit(t *testing.T) {
	// Given: a cached embedder
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)

	// When: embedding the same query twice
	first, err := cached.Embed(context.Background(), "travel policy")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "travel policy")
	require.NoError(t, err)

	// Then: the provider was called once
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 2)

	for _, q := range []string{"a", "b", "c", "a"} {
		_, err := cached.Embed(context.Background(), q)
		require.NoError(t, err)
	}

	// "a" was evicted by "c"
	assert.Equal(t, int64(4), inner.calls.Load())
	assert.Equal(t, 2, cached.Len())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := newMockEmbedder(4).failWith(errors.New("boom"))
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "q")
	require.Error(t, err)
	_, err = cached.Embed(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachedEmbedder_DefaultSize(t *testing.T) {
	cached := NewCachedEmbedder(newMockEmbedder(4), 0)

	assert.Equal(t, 4, cached.Dimensions())
	assert.Equal(t, "mock-model", cached.ModelName())
	assert.NoError(t, cached.Close())
}
