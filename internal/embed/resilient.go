package embed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// ResilientConfig configures the shared throughput budget and retry policy.
type ResilientConfig struct {
	// Dimensions is the vector size declared by the index schema.
	Dimensions int

	// RequestsPerSecond and Burst shape the token bucket. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	// MaxInFlight bounds concurrent provider calls. Zero means unbounded.
	MaxInFlight int

	Retry  dierrors.RetryConfig
	Logger *slog.Logger
}

// Resilient wraps an Embedder with the process-wide permit budget, a rate
// limiter, bounded retry and the dimension check. Share one instance across
// every caller in the process; callers block for a permit rather than fail.
type Resilient struct {
	inner   Embedder
	cfg     ResilientConfig
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	retryAt time.Time
}

var _ Embedder = (*Resilient)(nil)

// NewResilient wraps inner.
func NewResilient(inner Embedder, cfg ResilientConfig) *Resilient {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = inner.Dimensions()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Resilient{inner: inner, cfg: cfg, logger: cfg.Logger}
	if cfg.MaxInFlight > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	retry := cfg.Retry
	userHook := retry.OnRetry
	retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		attrs := append([]any{
			slog.String("model", inner.ModelName()),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		}, dierrors.LogAttrs(err)...)
		r.logger.Warn("embed_retry", attrs...)
		if userHook != nil {
			userHook(attempt, wait, err)
		}
	}
	r.cfg.Retry = retry
	return r
}

// Embed embeds text, retrying rate-limited and transient failures with
// bounded backoff. Unauthorized and dimension mismatches are returned at
// once and are fatal.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	return dierrors.RetryWithResult(ctx, r.cfg.Retry, func() ([]float32, error) {
		return r.once(ctx, text)
	})
}

func (r *Resilient) once(ctx context.Context, text string) ([]float32, error) {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.sem.Release(1)
	}

	if err := r.waitBackoff(ctx); err != nil {
		return nil, err
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	vec, err := r.inner.Embed(ctx, text)
	if err != nil {
		if hint := dierrors.RetryAfter(err); hint > 0 {
			r.pause(hint)
		}
		return nil, err
	}

	if len(vec) != r.cfg.Dimensions {
		return nil, dierrors.DimensionMismatchError(r.cfg.Dimensions, len(vec)).
			WithDetail("model", r.inner.ModelName())
	}
	return vec, nil
}

// pause holds every caller back after the provider asked us to wait.
func (r *Resilient) pause(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := time.Now().Add(d); until.After(r.retryAt) {
		r.retryAt = until
	}
}

func (r *Resilient) waitBackoff(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	wait := time.Until(retryAt)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dimensions returns the expected dimension.
func (r *Resilient) Dimensions() int {
	return r.cfg.Dimensions
}

// ModelName passes through to the inner embedder.
func (r *Resilient) ModelName() string {
	return r.inner.ModelName()
}

// Close closes the inner embedder.
func (r *Resilient) Close() error {
	return r.inner.Close()
}
