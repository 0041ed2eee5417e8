package substructure

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"math"
	"math/rand"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/subsim/pkg/errors"
)

// ---------------------------------------------------------------------------
// RetryPolicy
// ---------------------------------------------------------------------------

// RetryPolicy governs per-chunk retries.  Chunk processing is a pure
// function of its records and the library, so a retry is always safe.
type RetryPolicy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// backoff returns the delay before the attempt-th retry: exponential with
// ±25 % jitter, capped at MaxBackoff.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	base := float64(p.InitialBackoff) * math.Pow(multiplier, float64(attempt))
	if p.MaxBackoff > 0 && base > float64(p.MaxBackoff) {
		base = float64(p.MaxBackoff)
	}
	jitter := base * 0.25 * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// retryable reports whether err may succeed on another attempt.  Per-record
// conditions, cancellation and panics are final.
func retryable(err error) bool {
	if err == nil || errors.IsSkippable(err) {
		return false
	}
	if stdliberrors.Is(err, context.Canceled) || stdliberrors.Is(err, context.DeadlineExceeded) || errors.IsCode(err, errors.CodeCancelled) {
		return false
	}
	var pe *panicError
	return !stdliberrors.As(err, &pe)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ChunkError carries the range of a failed chunk.  It is the cause of the
// WorkerFailure returned by WorkerPool.Run.
type ChunkError struct {
	Chunk    Chunk
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Chunk, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

type panicError struct {
	value interface{}
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// FailedChunk extracts the failing chunk from an error returned by Run.
func FailedChunk(err error) (Chunk, bool) {
	var ce *ChunkError
	if stdliberrors.As(err, &ce) {
		return ce.Chunk, true
	}
	return Chunk{}, false
}

// ---------------------------------------------------------------------------
// WorkerPool
// ---------------------------------------------------------------------------

// ChunkFunc processes one chunk.  It must not touch state owned by other
// chunks.
type ChunkFunc[R any] func(ctx context.Context, chunk Chunk) (R, error)

// ChunkResult is the output of one chunk.
type ChunkResult[R any] struct {
	Chunk    Chunk
	Value    R
	Attempts int
	Duration time.Duration
}

type poolConfig struct {
	name    string
	retry   RetryPolicy
	logger  logging.Logger
	metrics *prometheus.EngineMetrics
}

// PoolOption configures a WorkerPool.
type PoolOption func(*poolConfig)

// WithRetry enables per-chunk retry.
func WithRetry(p RetryPolicy) PoolOption { return func(c *poolConfig) { c.retry = p } }

// WithLogger sets the pool logger.
func WithLogger(l logging.Logger) PoolOption { return func(c *poolConfig) { c.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *prometheus.EngineMetrics) PoolOption {
	return func(c *poolConfig) { c.metrics = m }
}

// WithName labels the pool in logs and metrics.
func WithName(name string) PoolOption { return func(c *poolConfig) { c.name = name } }

// WorkerPool runs chunk functions on at most workers goroutines.  The first
// failure cancels every outstanding chunk and no partial output is
// returned.
type WorkerPool[R any] struct {
	workers int
	cfg     poolConfig
}

// NewWorkerPool creates a pool.  workers < 1 is treated as 1.
func NewWorkerPool[R any](workers int, opts ...PoolOption) *WorkerPool[R] {
	if workers < 1 {
		workers = 1
	}
	cfg := poolConfig{name: "run"}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNopLogger()
	}
	if cfg.metrics == nil {
		cfg.metrics = prometheus.NewNoopEngineMetrics()
	}
	return &WorkerPool[R]{workers: workers, cfg: cfg}
}

// Workers returns the concurrency limit.
func (p *WorkerPool[R]) Workers() int { return p.workers }

// Run executes fn for every chunk and blocks until all complete or one
// fails.  Results arrive in completion order; pass them to Aggregate to
// restore input order.  On failure the error is coded WorkerFailure (or
// Cancelled when ctx ended) and carries a *ChunkError.
func (p *WorkerPool[R]) Run(ctx context.Context, chunks []Chunk, fn ChunkFunc[R]) ([]ChunkResult[R], error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	out := make(chan ChunkResult[R], len(chunks))

	for _, c := range chunks {
		g.Go(func() error {
			res, err := p.runChunk(gctx, c, fn)
			if err != nil {
				return err
			}
			out <- res
			return nil
		})
	}

	err := g.Wait()
	close(out)
	if err != nil {
		return nil, err
	}
	results := make([]ChunkResult[R], 0, len(chunks))
	for r := range out {
		results = append(results, r)
	}
	return results, nil
}

func (p *WorkerPool[R]) runChunk(ctx context.Context, c Chunk, fn ChunkFunc[R]) (ChunkResult[R], error) {
	active := p.cfg.metrics.ActiveWorkers.WithLabelValues(p.cfg.name)
	active.Inc()
	defer active.Dec()

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return ChunkResult[R]{}, p.fail(c, attempt-1, err)
		}
		value, err := p.safeCall(ctx, c, fn)
		if err == nil {
			d := time.Since(start)
			p.cfg.metrics.ChunkDuration.WithLabelValues(p.cfg.name).Observe(d.Seconds())
			return ChunkResult[R]{Chunk: c, Value: value, Attempts: attempt, Duration: d}, nil
		}
		if attempt > p.cfg.retry.MaxRetries || !retryable(err) || ctx.Err() != nil {
			return ChunkResult[R]{}, p.fail(c, attempt, err)
		}

		delay := p.cfg.retry.backoff(attempt - 1)
		p.cfg.metrics.ChunkRetries.WithLabelValues(p.cfg.name).Inc()
		p.cfg.logger.Warn("retrying chunk",
			logging.String("pool", p.cfg.name),
			logging.Int("chunk", c.Index),
			logging.Int("start", c.Start),
			logging.Int("end", c.End),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Err(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ChunkResult[R]{}, p.fail(c, attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// safeCall runs fn and converts a panic into an error.
func (p *WorkerPool[R]) safeCall(ctx context.Context, c Chunk, fn ChunkFunc[R]) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn(ctx, c)
}

func (p *WorkerPool[R]) fail(c Chunk, attempts int, err error) error {
	ce := &ChunkError{Chunk: c, Attempts: attempts, Err: err}
	if stdliberrors.Is(err, context.Canceled) || stdliberrors.Is(err, context.DeadlineExceeded) || errors.IsCode(err, errors.CodeCancelled) {
		return errors.Wrap(ce, errors.CodeCancelled, "chunk cancelled").
			WithDetailf("chunk=%d range=[%d, %d]", c.Index, c.Start, c.End)
	}

	fields := []logging.Field{
		logging.String("pool", p.cfg.name),
		logging.Int("chunk", c.Index),
		logging.Int("start", c.Start),
		logging.Int("end", c.End),
		logging.Int("attempts", attempts),
		logging.Err(err),
	}
	var pe *panicError
	if stdliberrors.As(err, &pe) {
		fields = append(fields, logging.String("stack", pe.stack))
	}
	p.cfg.logger.Error("chunk failed", fields...)
	return errors.Wrap(ce, errors.CodeWorkerFailure, "worker failed").
		WithDetailf("chunk=%d range=[%d, %d]", c.Index, c.Start, c.End)
}
