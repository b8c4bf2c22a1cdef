// Package cache provides the presence cache backends: ephemeral stores that
// mirror session records while the session is online.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrCacheMiss is returned (wrapped) by Fetch when the key is not present.
// Any other Fetch error is a genuine backend failure.
var ErrCacheMiss = errors.New("not found in presence cache")

// PresenceCache defines the contract for managing ephemeral, real-time state,
// such as a session's online snapshot. It requires explicit Set and Delete
// operations; expiry is driven by the caller, not by the backend.
type PresenceCache[K comparable, V any] interface {
	// Set explicitly stores a value for a key.
	Set(ctx context.Context, key K, value V) error
	// Fetch retrieves a value by its key, returning ErrCacheMiss if absent.
	Fetch(ctx context.Context, key K) (V, error)
	// Delete explicitly removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key K) error
	// Closer is included for implementations that manage network connections.
	io.Closer
}

// cloner is satisfied by values that can hand out an unaliased copy.
type cloner[V any] interface {
	Clone() V
}

func cloneValue[V any](v V) V {
	if c, ok := any(v).(cloner[V]); ok {
		return c.Clone()
	}
	return v
}
