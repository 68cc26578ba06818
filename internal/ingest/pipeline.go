package ingest

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/chunk"
	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/searchindex"
	"github.com/Aman-CERP/docindex/internal/source"
)

// DefaultWorkers bounds the documents processed at once.
const DefaultWorkers = 4

// deleteBatchSize keeps delete requests under the service batch limit.
const deleteBatchSize = searchindex.MaxBatchSize

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Splitter *chunk.Splitter
	Builder  *Builder
	Writer   *Writer
	// Index is read for the existing ids when pruning.
	Index searchindex.Service

	Workers int
	// PruneStale deletes records of chunk sequences a document no longer has.
	PruneStale bool
	Logger     *slog.Logger
}

// Pipeline ingests documents.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger
}

// NewPipeline applies defaults to cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// Failure is a document that could not be ingested.
type Failure struct {
	DocumentID    string `json:"document_id"`
	DocumentName  string `json:"document_name"`
	ChunkSequence int    `json:"chunk_sequence,omitempty"`
	Code          string `json:"code"`
	Message       string `json:"error"`
	Err           error  `json:"-"`
}

// Summary reports one run.
type Summary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`

	Records int `json:"records"`
	Skipped int `json:"skipped_chunks"`
	Pruned  int `json:"pruned"`
}

type docOutcome struct {
	records int
	skipped int
	pruned  int
}

// Run ingests docs with a bounded worker pool. Per-document failures are
// collected in the summary; the returned error is non-nil only for a fatal
// failure or cancellation, in which case documents not yet started are
// left alone.
func (p *Pipeline) Run(ctx context.Context, docs []source.Document) (*Summary, error) {
	sum := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Succeeded: []string{},
		Failed:    []Failure{},
	}
	logger := p.logger.With(slog.String("run_id", sum.RunID))
	logger.Info("ingest_run_started", slog.Int("documents", len(docs)), slog.Int("workers", p.cfg.Workers))

	var existing map[string][]string
	if p.cfg.PruneStale {
		ids, err := p.cfg.Index.ListIDs(ctx)
		if err != nil {
			return sum, err
		}
		existing = groupByDocument(ids)
	}

	var (
		mu    sync.Mutex
		fatal error
	)
	aborted := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatal != nil
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for _, doc := range docs {
		if ctx.Err() != nil || aborted() {
			break
		}
		g.Go(func() error {
			// The slot may have been freed by the document that failed fatally.
			if ctx.Err() != nil || aborted() {
				return nil
			}
			out, err := p.processDocument(ctx, logger, doc, existing[doc.ID])

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed = append(sum.Failed, newFailure(doc, err))
				if dierrors.IsFatal(err) && fatal == nil {
					fatal = err
				}
				return nil
			}
			sum.Succeeded = append(sum.Succeeded, doc.ID)
			sum.Records += out.records
			sum.Skipped += out.skipped
			sum.Pruned += out.pruned
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(sum.Succeeded)
	slices.SortFunc(sum.Failed, func(a, b Failure) int { return strings.Compare(a.DocumentID, b.DocumentID) })
	sum.Duration = time.Since(sum.StartedAt)

	logger.Info("ingest_run_complete",
		slog.Int("succeeded", len(sum.Succeeded)),
		slog.Int("failed", len(sum.Failed)),
		slog.Int("records", sum.Records),
		slog.Int("pruned", sum.Pruned),
		slog.Duration("duration", sum.Duration))

	if fatal != nil {
		return sum, fatal
	}
	return sum, ctx.Err()
}

func (p *Pipeline) processDocument(ctx context.Context, logger *slog.Logger, doc source.Document, existing []string) (docOutcome, error) {
	start := time.Now()
	logger = logger.With(slog.String("document_id", doc.ID), slog.String("document_name", doc.Name))
	logger.Debug("ingest_document_started")

	chunks := p.cfg.Splitter.Chunks(doc.ID, doc.Text)
	meta := Metadata{
		DocumentID:   doc.ID,
		Name:         doc.Name,
		WebURL:       doc.WebURL,
		LastModified: doc.LastModified,
	}

	result, err := p.cfg.Builder.Build(ctx, chunks, meta, doc.GroupIDs)
	if err != nil {
		logger.Warn("ingest_document_failed", dierrors.LogAttrs(err)...)
		return docOutcome{}, err
	}

	if err := p.cfg.Writer.Upsert(ctx, result.Records); err != nil {
		err = dierrors.IngestionFailed(doc.ID, doc.Name, 0, err)
		logger.Warn("ingest_document_failed", dierrors.LogAttrs(err)...)
		return docOutcome{}, err
	}

	out := docOutcome{records: len(result.Records), skipped: len(result.Skipped)}
	if p.cfg.PruneStale {
		stale := staleIDs(existing, len(chunks), result.Skipped)
		if err := p.cfg.Writer.Delete(ctx, stale); err != nil {
			err = dierrors.IngestionFailed(doc.ID, doc.Name, 0, err).WithDetail("stage", "prune")
			logger.Warn("ingest_document_failed", dierrors.LogAttrs(err)...)
			return docOutcome{}, err
		}
		out.pruned = len(stale)
	}

	logger.Info("ingest_document_complete",
		slog.Int("chunks", len(chunks)),
		slog.Int("records", out.records),
		slog.Int("skipped", out.skipped),
		slog.Int("pruned", out.pruned),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// RemoveDocuments deletes every record belonging to the given documents.
func (p *Pipeline) RemoveDocuments(ctx context.Context, docIDs []string) (int, error) {
	ids, err := p.cfg.Index.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	byDoc := groupByDocument(ids)

	var doomed []string
	for _, d := range docIDs {
		doomed = append(doomed, byDoc[d]...)
	}
	if err := p.deleteInBatches(ctx, doomed); err != nil {
		return 0, err
	}
	p.logger.Info("documents_removed", slog.Int("documents", len(docIDs)), slog.Int("records", len(doomed)))
	return len(doomed), nil
}

// Purge deletes every record in the index.
func (p *Pipeline) Purge(ctx context.Context) (int, error) {
	ids, err := p.cfg.Index.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	if err := p.deleteInBatches(ctx, ids); err != nil {
		return 0, err
	}
	p.logger.Info("index_purged", slog.Int("records", len(ids)))
	return len(ids), nil
}

func (p *Pipeline) deleteInBatches(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		if err := p.cfg.Writer.Delete(ctx, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// splitRecordID parses "{document}-{sequence}".
func splitRecordID(id string) (docID string, seq int, ok bool) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 {
		return "", 0, false
	}
	seq, err := strconv.Atoi(id[i+1:])
	if err != nil || seq <= 0 {
		return "", 0, false
	}
	return id[:i], seq, true
}

func groupByDocument(ids []string) map[string][]string {
	out := make(map[string][]string)
	for _, id := range ids {
		if doc, _, ok := splitRecordID(id); ok {
			out[doc] = append(out[doc], id)
		}
	}
	return out
}

// staleIDs picks the existing ids whose sequence is beyond the new chunk
// count or was skipped in this run.
func staleIDs(existing []string, chunkCount int, skipped []int) []string {
	var stale []string
	for _, id := range existing {
		_, seq, ok := splitRecordID(id)
		if !ok {
			continue
		}
		if seq > chunkCount || slices.Contains(skipped, seq) {
			stale = append(stale, id)
		}
	}
	slices.Sort(stale)
	return stale
}

func newFailure(doc source.Document, err error) Failure {
	f := Failure{
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		Code:         dierrors.GetCode(err),
		Message:      err.Error(),
		Err:          err,
	}
	if seq, convErr := strconv.Atoi(dierrors.GetDetail(err, "chunk_sequence")); convErr == nil {
		f.ChunkSequence = seq
	}
	return f
}
