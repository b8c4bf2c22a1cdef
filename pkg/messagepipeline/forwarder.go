package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// AttributeFunc derives broker attributes for an outbound event.
type AttributeFunc[T any] func(event T) map[string]string

// EventForwarder drains a channel of events, encodes each as JSON and hands it
// to a SimplePublisher. It runs until the channel is closed or it is stopped.
type EventForwarder[T any] struct {
	events     <-chan T
	publisher  SimplePublisher
	attributes AttributeFunc[T]
	logger     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventForwarder creates a forwarder. attributes may be nil.
func NewEventForwarder[T any](events <-chan T, publisher SimplePublisher, attributes AttributeFunc[T], logger zerolog.Logger) (*EventForwarder[T], error) {
	if events == nil {
		return nil, errors.New("event channel cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	return &EventForwarder[T]{
		events:     events,
		publisher:  publisher,
		attributes: attributes,
		logger:     logger.With().Str("component", "EventForwarder").Logger(),
	}, nil
}

// Start launches the forwarding loop.
func (f *EventForwarder[T]) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case event, ok := <-f.events:
				if !ok {
					f.logger.Info().Msg("Event channel closed, forwarder exiting.")
					return
				}
				f.forward(runCtx, event)
			}
		}
	}()
}

func (f *EventForwarder[T]) forward(ctx context.Context, event T) {
	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to encode event, dropping.")
		return
	}
	var attrs map[string]string
	if f.attributes != nil {
		attrs = f.attributes(event)
	}
	if err := f.publisher.Publish(ctx, payload, attrs); err != nil {
		f.logger.Error().Err(err).Msg("Failed to publish event.")
	}
}

// Stop ends the loop and flushes the publisher, bounded by ctx.
func (f *EventForwarder[T]) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return f.publisher.Stop(ctx)
}
