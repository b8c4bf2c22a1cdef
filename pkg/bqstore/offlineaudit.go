package bqstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-presence/pkg/presence"
	"github.com/rs/zerolog"
)

// OfflineAuditRow is one offline transition as stored in the audit table.
type OfflineAuditRow struct {
	EventID   string    `bigquery:"event_id"`
	SessionID string    `bigquery:"session_id"`
	Reason    string    `bigquery:"reason"`
	OfflineAt time.Time `bigquery:"offline_at"`
}

// NewOfflineAuditRow converts an offline event into its audit row.
func NewOfflineAuditRow(event presence.OfflineEvent) *OfflineAuditRow {
	return &OfflineAuditRow{
		EventID:   event.ID,
		SessionID: event.SessionID,
		Reason:    string(event.Reason),
		OfflineAt: event.Time,
	}
}

// OfflineAuditor drains a presence offline event subscription into a
// BatchInserter. It owns the batcher it is given.
type OfflineAuditor struct {
	events  <-chan presence.OfflineEvent
	batcher *BatchInserter[OfflineAuditRow]
	logger  zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOfflineAuditor creates an auditor reading from events.
func NewOfflineAuditor(events <-chan presence.OfflineEvent, batcher *BatchInserter[OfflineAuditRow], logger zerolog.Logger) (*OfflineAuditor, error) {
	if events == nil {
		return nil, errors.New("offline event channel cannot be nil")
	}
	if batcher == nil {
		return nil, errors.New("batcher cannot be nil")
	}
	return &OfflineAuditor{
		events:  events,
		batcher: batcher,
		logger:  logger.With().Str("component", "OfflineAuditor").Logger(),
	}, nil
}

// Start starts the batcher and the draining loop.
func (a *OfflineAuditor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.batcher.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case event, ok := <-a.events:
				if !ok {
					a.logger.Info().Msg("Offline event channel closed, auditor exiting.")
					return
				}
				select {
				case a.batcher.Input() <- NewOfflineAuditRow(event):
				case <-runCtx.Done():
					return
				}
			}
		}
	}()
}

// Stop ends the draining loop, then stops the batcher so the last partial
// batch is flushed.
func (a *OfflineAuditor) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return a.batcher.Stop(ctx)
}
