package messagepipeline

import (
	"context"
)

// --- Stage 1: Consumer ---

// MessageConsumer defines the interface for a message source such as a Pub/Sub
// subscription. It fetches messages and hands them to the pipeline workers.
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers receive messages.
	Messages() <-chan Message
	// Start begins consumption (e.g. by calling subscription.Receive).
	Start(ctx context.Context) error
	// Stop ceases consumption and waits for background tasks, bounded by ctx.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// --- Stage 2: Transformer ---

// MessageTransformer decodes a generic Message into a structured payload of
// type T. Returning skip=true acks the message without processing it.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// --- Stage 3: Processor ---

// StreamProcessor handles one transformed message. A returned error Nacks the
// original message.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error

// --- Outbound ---

// SimplePublisher is a direct, non-batching publisher.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes any pending messages, bounded by ctx.
	Stop(ctx context.Context) error
}
