package bqstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BatchInserterConfig holds configuration for the BatchInserter.
type BatchInserterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"` // How often to flush a partial batch.
	InsertTimeout time.Duration `yaml:"insert_timeout"` // Bound on a single flush.
}

// NewBatchInserterDefaults returns a config suited to a low-volume audit stream.
func NewBatchInserterDefaults() *BatchInserterConfig {
	return &BatchInserterConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
}

// BatchInserter collects items of type T and writes them in batches, flushing
// when a batch is full, when FlushInterval elapses, and on shutdown. A failed
// batch is logged and dropped.
type BatchInserter[T any] struct {
	config    BatchInserterConfig
	inserter  DataBatchInserter[T]
	logger    zerolog.Logger
	inputChan chan *T
	wg        sync.WaitGroup
}

// NewBatcher creates a new generic BatchInserter.
func NewBatcher[T any](
	config *BatchInserterConfig,
	inserter DataBatchInserter[T],
	logger zerolog.Logger,
) *BatchInserter[T] {
	cfg := *NewBatchInserterDefaults()
	if config != nil {
		if config.BatchSize > 0 {
			cfg.BatchSize = config.BatchSize
		}
		if config.FlushInterval > 0 {
			cfg.FlushInterval = config.FlushInterval
		}
		if config.InsertTimeout > 0 {
			cfg.InsertTimeout = config.InsertTimeout
		}
	}
	return &BatchInserter[T]{
		config:    cfg,
		inserter:  inserter,
		logger:    logger.With().Str("component", "BatchInserter").Logger(),
		inputChan: make(chan *T, cfg.BatchSize*2),
	}
}

// Start begins the batching worker. ctx bounds the worker's lifetime.
func (b *BatchInserter[T]) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting BatchInserter worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Stop closes the input, waits for the final flush, bounded by ctx, and
// closes the underlying inserter. Input must not be used after Stop.
func (b *BatchInserter[T]) Stop(ctx context.Context) error {
	close(b.inputChan)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for BatchInserter worker to stop.")
		return ctx.Err()
	}

	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing underlying data inserter")
	}
	b.logger.Info().Msg("BatchInserter stopped.")
	return nil
}

// Input returns the channel to which items should be sent.
func (b *BatchInserter[T]) Input() chan<- *T {
	return b.inputChan
}

func (b *BatchInserter[T]) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*T, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The final flush must outlive the cancelled context.
			b.flush(context.Background(), batch)
			return

		case item, ok := <-b.inputChan:
			if !ok {
				b.flush(context.Background(), batch)
				return
			}
			batch = append(batch, item)
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
			}
		}
	}
}

func (b *BatchInserter[T]) flush(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}

	insertCtx, cancel := context.WithTimeout(ctx, b.config.InsertTimeout)
	defer cancel()

	if err := b.inserter.InsertBatch(insertCtx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert batch, dropping.")
		return
	}
	b.logger.Debug().Int("batch_size", len(batch)).Msg("Flushed batch.")
}
