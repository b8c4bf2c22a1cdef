package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// GoogleSimplePublisherConfig holds the settings for a GoogleSimplePublisher.
type GoogleSimplePublisherConfig struct {
	TopicID string `yaml:"topic_id"`
	// ResultTimeout bounds the background wait for each publish result.
	ResultTimeout time.Duration `yaml:"result_timeout"`
}

// NewGoogleSimplePublisherDefaults returns a config for topicID.
func NewGoogleSimplePublisherDefaults(topicID string) *GoogleSimplePublisherConfig {
	return &GoogleSimplePublisherConfig{
		TopicID:       topicID,
		ResultTimeout: 30 * time.Second,
	}
}

// GoogleSimplePublisher publishes directly to a Pub/Sub topic.
type GoogleSimplePublisher struct {
	topic         *pubsub.Topic
	resultTimeout time.Duration
	logger        zerolog.Logger
}

// NewGoogleSimplePublisher verifies the topic exists, respecting ctx, and
// returns a publisher for it. The client is owned by the caller.
func NewGoogleSimplePublisher(ctx context.Context, cfg *GoogleSimplePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	resultTimeout := cfg.ResultTimeout
	if resultTimeout <= 0 {
		resultTimeout = 30 * time.Second
	}
	return &GoogleSimplePublisher{
		topic:         topic,
		resultTimeout: resultTimeout,
		logger:        logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish queues a single message and returns immediately. The publish
// result is checked in the background and failures are logged.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	go func() {
		// Detached from ctx so a short-lived caller context does not cancel the wait.
		getCtx, cancel := context.WithTimeout(context.Background(), p.resultTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to publish message")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Message published.")
	}()
	return nil
}

// Stop flushes pending messages, bounded by ctx.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
