package messagepipeline

import (
	"time"
)

// Message is the internal representation of an inbound event. It carries the
// broker payload, its metadata and the acknowledgment handles.
type Message struct {
	MessageData

	// Attributes holds broker metadata (e.g. Pub/Sub attributes).
	Attributes map[string]string

	// Ack signals that processing succeeded and the message can be removed
	// from the source.
	Ack func()

	// Nack signals that processing failed and the message should be redelivered.
	Nack func()
}

// MessageData holds the essential payload of a message.
type MessageData struct {
	// ID is the unique identifier assigned by the source broker.
	ID string `json:"id"`

	// Payload is the raw byte content of the message.
	Payload []byte `json:"payload"`

	// PublishTime is when the message was originally published.
	PublishTime time.Time `json:"publishTime"`
}
