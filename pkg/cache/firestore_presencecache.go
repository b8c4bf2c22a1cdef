package cache

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestorePresenceCache mirrors online sessions into a Firestore collection,
// one document per session id holding the latest record snapshot. Documents
// carry no TTL: they live until the manager deletes them on an offline
// transition, so a crashed process can leave entries that a later Get picks up.
type FirestorePresenceCache[K comparable, V any] struct {
	client     *firestore.Client
	collection string
}

// NewFirestorePresenceCache returns a cache over the named collection. The
// client is shared and owned by the caller.
func NewFirestorePresenceCache[K comparable, V any](
	client *firestore.Client,
	collectionName string,
) (*FirestorePresenceCache[K, V], error) {
	if client == nil {
		return nil, errors.New("presence cache: firestore client is required")
	}
	if collectionName == "" {
		return nil, errors.New("presence cache: collection name is required")
	}
	return &FirestorePresenceCache[K, V]{
		client:     client,
		collection: collectionName,
	}, nil
}

func (c *FirestorePresenceCache[K, V]) doc(key K) *firestore.DocumentRef {
	return c.client.Collection(c.collection).Doc(fmt.Sprint(key))
}

// Set replaces the snapshot for key.
func (c *FirestorePresenceCache[K, V]) Set(ctx context.Context, key K, value V) error {
	if _, err := c.doc(key).Set(ctx, value); err != nil {
		return fmt.Errorf("write presence snapshot %v: %w", key, err)
	}
	return nil
}

// Fetch decodes the snapshot for key. A missing document is ErrCacheMiss.
func (c *FirestorePresenceCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var value V
	snap, err := c.doc(key).Get(ctx)
	switch {
	case status.Code(err) == codes.NotFound:
		return value, fmt.Errorf("presence snapshot %v: %w", key, ErrCacheMiss)
	case err != nil:
		return value, fmt.Errorf("read presence snapshot %v: %w", key, err)
	}
	if err := snap.DataTo(&value); err != nil {
		var zero V
		return zero, fmt.Errorf("decode presence snapshot %v: %w", key, err)
	}
	return value, nil
}

// Delete drops the snapshot for key; deleting an absent session succeeds.
func (c *FirestorePresenceCache[K, V]) Delete(ctx context.Context, key K) error {
	_, err := c.doc(key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete presence snapshot %v: %w", key, err)
	}
	return nil
}

// Close does nothing; the shared client is closed by its owner.
func (c *FirestorePresenceCache[K, V]) Close() error {
	return nil
}
