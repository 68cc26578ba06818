package ingest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/chunk"
	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/searchindex"
	"github.com/Aman-CERP/docindex/internal/tokenizer"
)

const testDims = 4

// fakeEmbedder returns [len(text), 1, 0, 0] and fails for scripted texts.
type fakeEmbedder struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    func(text string) time.Duration

	mu   sync.Mutex
	fail map[string]error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{fail: map[string]error{}}
}

func (f *fakeEmbedder) failOn(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[text] = err
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay != nil {
		select {
		case <-time.After(f.delay(text)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	err := f.fail[text]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []float32{float32(len(text)), 1, 0, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int   { return testDims }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error      { return nil }

// memIndex is an in-memory searchindex.Service with scripted upsert errors.
type memIndex struct {
	mu          sync.Mutex
	records     map[string]searchindex.Record
	upsertErrs  []error
	upsertCalls int
	deleted     []string
	listErr     error
}

var _ searchindex.Service = (*memIndex)(nil)

func newMemIndex(ids ...string) *memIndex {
	m := &memIndex{records: map[string]searchindex.Record{}}
	for _, id := range ids {
		m.records[id] = searchindex.Record{ID: id}
	}
	return m
}

func (m *memIndex) CreateOrUpdateIndex(context.Context, searchindex.Schema) error { return nil }

func (m *memIndex) Upsert(_ context.Context, records []searchindex.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if len(m.upsertErrs) > 0 {
		err := m.upsertErrs[0]
		m.upsertErrs = m.upsertErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

func (m *memIndex) Search(context.Context, searchindex.SearchRequest) ([]searchindex.Result, error) {
	return []searchindex.Result{}, nil
}

func (m *memIndex) ListIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *memIndex) Close() error { return nil }

func (m *memIndex) ids() []string {
	ids, _ := m.ListIDs(context.Background())
	return ids
}

func (m *memIndex) get(id string) (searchindex.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func fastRetry() dierrors.RetryConfig {
	return dierrors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

// wordSplitter budgets two words per line and per paragraph, so every
// two-word sentence becomes its own chunk.
func wordSplitter(t *testing.T) *chunk.Splitter {
	t.Helper()
	counter := tokenizer.CountFunc(func(s string) int { return len(strings.Fields(s)) })
	s, err := chunk.NewSplitter(counter, chunk.Options{MaxTokensPerLine: 2, MaxTokensPerParagraph: 2})
	require.NoError(t, err)
	return s
}

type testRig struct {
	embedder *fakeEmbedder
	index    *memIndex
	pipeline *Pipeline
}

func newRig(t *testing.T, policy ChunkFailurePolicy, workers int, existing ...string) *testRig {
	t.Helper()
	e := newFakeEmbedder()
	idx := newMemIndex(existing...)
	p := NewPipeline(PipelineConfig{
		Splitter:   wordSplitter(t),
		Builder:    NewBuilder(BuilderConfig{Embedder: e, Concurrency: 4, Policy: policy}),
		Writer:     NewWriter(idx, fastRetry(), nil),
		Index:      idx,
		Workers:    workers,
		PruneStale: true,
	})
	return &testRig{embedder: e, index: idx, pipeline: p}
}
