// Package activity turns inbound session activity messages into presence
// updates.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-presence/pkg/messagepipeline"
	"github.com/illmade-knight/go-presence/pkg/presence"
	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/rs/zerolog"
)

// Actions carried by an ActivityMessage.
const (
	ActionSet     = "set"
	ActionDestroy = "destroy"
)

// ActivityMessage is the JSON wire format of an inbound activity event.
type ActivityMessage struct {
	SessionID string                 `json:"sessionId"`
	Action    string                 `json:"action,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// PresenceUpdater is the part of the presence manager the ingest drives.
type PresenceUpdater interface {
	Set(ctx context.Context, sessionID string, fields map[string]interface{}) (types.Record, error)
	Destroy(ctx context.Context, sessionID string)
}

// Transformer decodes a pipeline message into an ActivityMessage. Payloads
// that can never be applied are reported as unprocessable.
func Transformer(_ context.Context, msg *messagepipeline.Message) (*ActivityMessage, bool, error) {
	var activity ActivityMessage
	if err := json.Unmarshal(msg.Payload, &activity); err != nil {
		return nil, false, fmt.Errorf("decode activity message %s: %v: %w", msg.ID, err, messagepipeline.ErrUnprocessable)
	}
	if activity.SessionID == "" {
		return nil, false, fmt.Errorf("activity message %s has no session id: %w", msg.ID, messagepipeline.ErrUnprocessable)
	}
	switch activity.Action {
	case "":
		activity.Action = ActionSet
	case ActionSet, ActionDestroy:
	default:
		return nil, false, fmt.Errorf("activity message %s has unknown action %q: %w", msg.ID, activity.Action, messagepipeline.ErrUnprocessable)
	}
	return &activity, false, nil
}

// NewProcessor returns a StreamProcessor that applies activity to updater.
// Backend failures are returned so the message is redelivered.
func NewProcessor(updater PresenceUpdater, logger zerolog.Logger) messagepipeline.StreamProcessor[ActivityMessage] {
	return func(ctx context.Context, original messagepipeline.Message, activity *ActivityMessage) error {
		if activity.Action == ActionDestroy {
			updater.Destroy(ctx, activity.SessionID)
			logger.Debug().Str("session_id", activity.SessionID).Str("msg_id", original.ID).Msg("Session destroyed from activity.")
			return nil
		}

		if _, err := updater.Set(ctx, activity.SessionID, activity.Fields); err != nil {
			if errors.Is(err, presence.ErrEmptySessionID) {
				return fmt.Errorf("%v: %w", err, messagepipeline.ErrUnprocessable)
			}
			return fmt.Errorf("apply activity for session %s: %w", activity.SessionID, err)
		}
		logger.Debug().Str("session_id", activity.SessionID).Str("msg_id", original.ID).Msg("Session touched from activity.")
		return nil
	}
}

// NewActivityService wires a consumer through the activity transformer into
// updater.
func NewActivityService(
	cfg messagepipeline.StreamingServiceConfig,
	consumer messagepipeline.MessageConsumer,
	updater PresenceUpdater,
	logger zerolog.Logger,
) (*messagepipeline.StreamingService[ActivityMessage], error) {
	if updater == nil {
		return nil, errors.New("presence updater cannot be nil")
	}
	logger = logger.With().Str("component", "ActivityService").Logger()
	return messagepipeline.NewStreamingService[ActivityMessage](cfg, consumer, Transformer, NewProcessor(updater, logger), logger)
}
