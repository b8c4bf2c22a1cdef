package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string `yaml:"project_id"`
	CollectionName string `yaml:"collection"`
}

// FirestoreStore keeps one document per session in a single collection.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a FirestoreStore over an injected client.
func NewFirestoreStore(
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, errors.New("firestore collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// FindAndUpsert reads and writes the document inside a Firestore transaction.
func (s *FirestoreStore) FindAndUpsert(ctx context.Context, id string, insertOnly, alwaysSet types.Record) (types.Record, error) {
	docRef := s.client.Collection(s.collectionName).Doc(id)
	var next types.Record

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current types.Record
		exists := true
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			exists = false
		} else if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("firestore DataTo for %s: %w", id, err)
		}
		next = types.Upsert(current, exists, insertOnly, alwaysSet)
		return tx.Set(docRef, next)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to upsert session document.")
		return types.Record{}, fmt.Errorf("firestore upsert for %s: %w", id, err)
	}
	return next, nil
}

// FindByID retrieves a single document by its id.
func (s *FirestoreStore) FindByID(ctx context.Context, id string) (types.Record, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Record{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to get session document.")
		return types.Record{}, fmt.Errorf("firestore get for %s: %w", id, err)
	}

	var rec types.Record
	if err := docSnap.DataTo(&rec); err != nil {
		return types.Record{}, fmt.Errorf("firestore DataTo for %s: %w", id, err)
	}
	return rec, nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	return nil
}
