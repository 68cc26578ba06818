package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[string](3)
	assert.NotNil(t, buf.Items())

	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		buf.Add(q)
	}

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"q3", "q4", "q5"}, buf.Items())
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{10 * time.Millisecond, BucketP50},
		{50 * time.Millisecond, BucketP200},
		{450 * time.Millisecond, BucketP1000},
		{2 * time.Second, BucketP5000},
		{9 * time.Second, BucketSlow},
	}
	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.latency))
		})
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"annual", "leave", "policy"}, ExtractTerms("Annual leave, of policy?"))
	assert.Empty(t, ExtractTerms("  a an  "))
}

func TestQueryMetrics_Record(t *testing.T) {
	// Given: an in-memory collector
	m := New(nil, Config{})
	defer func() { _ = m.Close() }()

	// When: recording a mix of queries
	m.Record(QueryEvent{Query: "leave policy", Scope: ScopeFiltered, ResultCount: 3, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "Leave Policy ", Scope: ScopeFiltered, ResultCount: 2, Latency: 300 * time.Millisecond})
	m.Record(QueryEvent{Query: "quarterly revenue", ResultCount: 0, Latency: 20 * time.Millisecond})

	// Then: the snapshot reflects all three
	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, map[Scope]int64{ScopeFiltered: 2, ScopeUnfiltered: 1}, snap.ScopeCounts)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"quarterly revenue"}, snap.ZeroResultQueries)
	assert.Equal(t, int64(1), snap.ExactRepeatCount)
	assert.Equal(t, map[LatencyBucket]int64{BucketP50: 2, BucketP1000: 1}, snap.LatencyDistribution)
	require.Len(t, snap.TopTerms, 4)
	assert.Equal(t, TermCount{Term: "leave", Count: 2}, snap.TopTerms[0])
	assert.Equal(t, TermCount{Term: "policy", Count: 2}, snap.TopTerms[1])
	assert.InDelta(t, 33.3, snap.ZeroResultPercentage(), 0.1)
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := New(nil, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Record(QueryEvent{Query: "holiday calendar", ResultCount: 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), m.Snapshot().TotalQueries)
}

func TestQueryMetrics_RecordAfterCloseIsDropped(t *testing.T) {
	m := New(nil, Config{})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	m.Record(QueryEvent{Query: "late"})

	assert.Zero(t, m.Snapshot().TotalQueries)
}

type fakeStore struct {
	mu        sync.Mutex
	scopes    map[Scope]int64
	terms     map[string]int64
	latencies map[LatencyBucket]int64
	zero      []string
	failTerms error
	closed    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scopes:    map[Scope]int64{},
		terms:     map[string]int64{},
		latencies: map[LatencyBucket]int64{},
	}
}

func (f *fakeStore) SaveScopeCounts(_ string, counts map[Scope]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range counts {
		f.scopes[k] += v
	}
	return nil
}

func (f *fakeStore) UpsertTermCounts(terms map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTerms != nil {
		return f.failTerms
	}
	for k, v := range terms {
		f.terms[k] += v
	}
	return nil
}

func (f *fakeStore) GetTopTerms(int) ([]TermCount, error) { return nil, nil }

func (f *fakeStore) AddZeroResultQuery(query string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zero = append(f.zero, query)
	return nil
}

func (f *fakeStore) GetZeroResultQueries(int) ([]string, error) { return nil, nil }

func (f *fakeStore) SaveLatencyCounts(_ string, counts map[LatencyBucket]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range counts {
		f.latencies[k] += v
	}
	return nil
}

func (f *fakeStore) GetLatencyCounts(string, string) (map[LatencyBucket]int64, error) {
	return nil, nil
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func TestQueryMetrics_FlushWritesIncrementsOnce(t *testing.T) {
	// Given: a collector backed by a store
	store := newFakeStore()
	m := New(store, Config{})
	m.Record(QueryEvent{Query: "leave policy", Scope: ScopeFiltered, ResultCount: 1})
	m.Record(QueryEvent{Query: "missing", ResultCount: 0})

	// When: flushing twice
	require.NoError(t, m.Flush())
	require.NoError(t, m.Flush())

	// Then: each event is stored exactly once
	assert.Equal(t, map[Scope]int64{ScopeFiltered: 1, ScopeUnfiltered: 1}, store.scopes)
	assert.Equal(t, map[string]int64{"leave": 1, "policy": 1, "missing": 1}, store.terms)
	assert.Equal(t, map[LatencyBucket]int64{BucketP50: 2}, store.latencies)
	assert.Equal(t, []string{"missing"}, store.zero)
}

func TestQueryMetrics_FailedFlushIsRetried(t *testing.T) {
	// Given: a store that rejects term counts
	store := newFakeStore()
	store.failTerms = errors.New("disk full")
	m := New(store, Config{})
	m.Record(QueryEvent{Query: "leave", ResultCount: 1})

	// When: the first flush fails and the second succeeds
	require.Error(t, m.Flush())
	store.failTerms = nil
	require.NoError(t, m.Close())

	// Then: nothing is lost or stored twice
	assert.Equal(t, map[Scope]int64{ScopeUnfiltered: 1}, store.scopes)
	assert.Equal(t, map[string]int64{"leave": 1}, store.terms)
	assert.Equal(t, map[LatencyBucket]int64{BucketP50: 1}, store.latencies)
	assert.True(t, store.closed)
}
