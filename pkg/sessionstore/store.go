// Package sessionstore provides the durable, authoritative backends for
// session records. Records are never expired by these stores.
package sessionstore

import (
	"context"
	"errors"
	"io"

	"github.com/illmade-knight/go-presence/pkg/types"
)

// ErrNotFound is returned (wrapped) by FindByID when no record exists.
var ErrNotFound = errors.New("session record not found")

// Store is the durable record store contract.
type Store interface {
	// FindAndUpsert atomically creates the record if absent (applying both
	// groups) or applies only alwaysSet to the existing record, and returns
	// the record as stored afterwards.
	FindAndUpsert(ctx context.Context, id string, insertOnly, alwaysSet types.Record) (types.Record, error)
	// FindByID returns the stored record or ErrNotFound.
	FindByID(ctx context.Context, id string) (types.Record, error)
	io.Closer
}
