package ingest

import (
	"context"
	"log/slog"
	"time"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/searchindex"
)

// Writer commits records to the index, retrying whole batches on
// retryable failures. Upserts are idempotent, so a retried batch is safe.
type Writer struct {
	index  searchindex.Service
	retry  dierrors.RetryConfig
	logger *slog.Logger
}

// NewWriter wraps index.
func NewWriter(index searchindex.Service, retry dierrors.RetryConfig, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{index: index, logger: logger}

	userHook := retry.OnRetry
	retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		attrs := append([]any{
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		}, dierrors.LogAttrs(err)...)
		logger.Warn("index_retry", attrs...)
		if userHook != nil {
			userHook(attempt, wait, err)
		}
	}
	w.retry = retry
	return w
}

// Upsert merges or uploads records as one batch.
func (w *Writer) Upsert(ctx context.Context, records []searchindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	if err := dierrors.Retry(ctx, w.retry, func() error {
		return w.index.Upsert(ctx, records)
	}); err != nil {
		return err
	}
	w.logger.Debug("index_upsert_complete",
		slog.Int("records", len(records)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Delete removes ids. Absent ids are not an error.
func (w *Writer) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := dierrors.Retry(ctx, w.retry, func() error {
		return w.index.Delete(ctx, ids)
	}); err != nil {
		return err
	}
	w.logger.Debug("index_delete_complete", slog.Int("ids", len(ids)))
	return nil
}
