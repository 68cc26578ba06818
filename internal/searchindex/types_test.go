package searchindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

func TestNewSchema_Defaults(t *testing.T) {
	s := NewSchema("docs", 1536, HNSWConfig{})

	require.NoError(t, s.Validate())
	assert.Equal(t, 1536, s.VectorDimensions())
	assert.Equal(t, DefaultHNSWConfig(), s.Algorithm)
	assert.Equal(t, s.Algorithm.Name, s.Profile.AlgorithmRef)

	id, ok := s.Field(FieldID)
	require.True(t, ok)
	assert.True(t, id.Key)
	assert.True(t, id.Filterable)

	groups, ok := s.Field(FieldGroupIDs)
	require.True(t, ok)
	assert.Equal(t, TypeStringCollection, groups.Type)
	assert.True(t, groups.Filterable)

	vec, _ := s.Field(FieldContentVector)
	assert.Equal(t, s.Profile.Name, vec.VectorProfile)

	for _, name := range []string{FieldURL, FieldLastUpdated, FieldChunkID, FieldTokenSize} {
		f, ok := s.Field(name)
		require.True(t, ok, name)
		assert.False(t, f.Searchable, name)
	}
}

func TestSchema_Validate(t *testing.T) {
	s := NewSchema("docs", 0, HNSWConfig{})
	assert.Equal(t, dierrors.ErrCodeConfigInvalid, dierrors.GetCode(s.Validate()))

	s = NewSchema("docs", 8, HNSWConfig{Metric: "dotProduct"})
	assert.Error(t, s.Validate())

	s = NewSchema("", 8, HNSWConfig{})
	assert.Error(t, s.Validate())
}

func TestGroupFilter_Matches(t *testing.T) {
	var unfiltered GroupFilter
	assert.True(t, unfiltered.Unfiltered())
	assert.True(t, unfiltered.Matches(nil))

	f := GroupFilter{"G1", "public"}
	assert.False(t, f.Unfiltered())
	assert.True(t, f.Matches([]string{"G2", "G1"}))
	assert.False(t, f.Matches([]string{"G2"}))
	assert.False(t, f.Matches(nil))

	assert.False(t, GroupFilter{}.Matches([]string{"G1"}))
}

func TestValidateGroups(t *testing.T) {
	assert.NoError(t, ValidateGroups(nil))
	assert.NoError(t, ValidateGroups([]string{"HR", "o'brien", "team a,b"}))

	for _, groups := range [][]string{{"HR|Finance"}, {"HR", ""}, {"|"}} {
		err := ValidateGroups(groups)
		assert.Equal(t, dierrors.ErrCodeInvalidInput, dierrors.GetCode(err), "groups %q", groups)
	}
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
