package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrUnprocessable marks a message that can never succeed, such as a payload
// that does not decode. A transformer or processor error wrapping it Acks the
// message instead of Nacking it, so the broker does not redeliver it forever.
var ErrUnprocessable = errors.New("unprocessable message")

// StreamingServiceConfig holds configuration for a StreamingService.
type StreamingServiceConfig struct {
	NumWorkers int `yaml:"num_workers"`
}

// StreamingService consumes messages, transforms them one at a time and
// hands each payload straight to a StreamProcessor.
type StreamingService[T any] struct {
	numWorkers  int
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   StreamProcessor[T]
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// NewStreamingService creates a new StreamingService.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor StreamProcessor[T],
	logger zerolog.Logger,
) (*StreamingService[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, errors.New("transformer cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}

	return &StreamingService[T]{
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		logger:      logger.With().Str("service", "StreamingService").Logger(),
	}, nil
}

// Start starts the consumer and then the worker pool.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}
	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Streaming service started.")
	return nil
}

// Stop stops the consumer first so no new messages arrive, then waits for
// in-flight messages to finish, bounded by ctx.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping streaming service...")
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workersDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		s.logger.Info().Msg("Streaming service stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}
}

func (s *StreamingService[T]) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *StreamingService[T]) handle(ctx context.Context, msg Message) {
	payload, skip, err := s.transformer(ctx, &msg)
	if err != nil {
		s.settleFailure(msg, err, "Failed to transform message")
		return
	}
	if skip {
		s.logger.Debug().Str("msg_id", msg.ID).Msg("Transformer signaled to skip message, Acking.")
		msg.Ack()
		return
	}

	if err := s.processor(ctx, msg, payload); err != nil {
		s.settleFailure(msg, err, "Processor failed to handle message")
		return
	}
	msg.Ack()
}

func (s *StreamingService[T]) settleFailure(msg Message, err error, what string) {
	if errors.Is(err, ErrUnprocessable) {
		s.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg(what + ", dropping.")
		msg.Ack()
		return
	}
	s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg(what + ", Nacking.")
	msg.Nack()
}
