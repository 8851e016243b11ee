package ingestion

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

const (
	defaultBatchSize   = 32
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Stats summarizes one pipeline run.
type Stats struct {
	// Stored is the number of new messages written to the corpus.
	Stored int

	// Skipped counts messages already present (same id); the corpus is
	// append-only, so re-delivery of a message is not an error.
	Skipped int

	// Embedded counts messages that received a vector during this run.
	Embedded int

	// EmbedFailed counts messages left without a vector after retries.
	// They remain queued for a later Backfill.
	EmbedFailed int
}

// Pipeline orchestrates ingestion of messages into the corpus:
// storage first, then concurrent embedding over a worker pool.
type Pipeline struct {
	messages    storage.MessageRepository
	embedder    ai.Embedder
	pool        *ants.Pool
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many texts are embedded per request.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size > 0 {
			p.batchSize = size
		}
		return nil
	}
}

// WithRetry configures the embedding retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		p.maxAttempts = maxAttempts
		p.baseDelay = baseDelay
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	messages storage.MessageRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if messages == nil {
		return nil, ErrMessageRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		messages:    messages,
		embedder:    embedder,
		pool:        pool,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		logger:      slog.Default().With("component", "ingestion"),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	return p, nil
}

// Ingest validates and stores the given messages, then drains the
// unembedded backlog (the new messages plus any left over from earlier
// failed runs). Duplicate ids are skipped. Embedding failures are
// counted, not returned.
func (p *Pipeline) Ingest(ctx context.Context, msgs []*core.Message) (*Stats, error) {
	stored, err := p.messages.AddMessages(ctx, msgs...)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Stored: stored, Skipped: len(msgs) - stored}
	p.logger.Info("messages stored", "stored", stats.Stored, "skipped", stats.Skipped)

	backfill, err := p.Backfill(ctx)
	if err != nil {
		return stats, err
	}
	stats.Embedded = backfill.Embedded
	stats.EmbedFailed = backfill.EmbedFailed
	return stats, nil
}

// Backfill embeds every stored message that has no vector yet,
// batching texts and running batches concurrently on the worker pool.
// Messages whose embedding fails after retries stay queued.
func (p *Pipeline) Backfill(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var embedded, failed atomic.Int64
	attempted := make(map[core.ID]bool)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		// Over-fetch one pool's worth of batches per round.
		pending, err := p.messages.MessagesWithoutVector(ctx, p.batchSize*p.pool.Cap())
		if err != nil {
			return stats, err
		}

		// Keep only messages not already attempted this run; failed
		// batches stay queued and would otherwise loop forever.
		fresh := pending[:0]
		for _, m := range pending {
			if !attempted[m.Id] {
				attempted[m.Id] = true
				fresh = append(fresh, m)
			}
		}
		if len(fresh) == 0 {
			break
		}

		var wg sync.WaitGroup
		for start := 0; start < len(fresh); start += p.batchSize {
			end := start + p.batchSize
			if end > len(fresh) {
				end = len(fresh)
			}
			batch := fresh[start:end]

			wg.Add(1)
			if err := p.pool.Submit(func() {
				defer wg.Done()
				n := p.embedBatch(ctx, batch)
				embedded.Add(int64(n))
				failed.Add(int64(len(batch) - n))
			}); err != nil {
				wg.Done()
				failed.Add(int64(len(batch)))
				p.logger.Error("failed to submit embedding batch", "err", err)
			}
		}
		wg.Wait()
	}

	stats.Embedded = int(embedded.Load())
	stats.EmbedFailed = int(failed.Load())
	if stats.Embedded > 0 || stats.EmbedFailed > 0 {
		p.logger.Info("embedding backfill finished",
			"embedded", stats.Embedded, "failed", stats.EmbedFailed)
	}
	return stats, nil
}

// embedBatch embeds one batch of messages and persists the vectors.
// Returns the number of messages successfully embedded.
func (p *Pipeline) embedBatch(ctx context.Context, batch []*core.Message) int {
	texts := make([]string, len(batch))
	for i, m := range batch {
		texts[i] = m.Text
	}

	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var embedErr error
		vectors, embedErr = p.embedder.EmbedTexts(ctx, texts)
		return embedErr
	}, p.maxAttempts, p.baseDelay)
	if err != nil {
		p.logger.Warn("embedding batch failed, messages stay queued",
			"batch", len(batch), "err", err)
		return 0
	}
	if len(vectors) != len(batch) {
		p.logger.Warn("embedding result mismatch",
			"expected", len(batch), "received", len(vectors))
		return 0
	}

	count := 0
	for i, m := range batch {
		if len(vectors[i]) == 0 {
			continue
		}
		if err := p.messages.SetMessageVector(ctx, m.Id, vectors[i]); err != nil {
			p.logger.Error("failed to persist vector", "id", m.Id, "err", err)
			continue
		}
		count++
	}
	return count
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
