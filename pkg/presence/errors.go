package presence

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when neither the presence cache nor the
	// durable store holds the session.
	ErrNotFound = errors.New("session not found")
	// ErrEmptySessionID is returned for operations called with an empty id.
	ErrEmptySessionID = errors.New("session id cannot be empty")
	// ErrClosed is returned by Set and Get once the Manager has been closed.
	ErrClosed = errors.New("presence manager is closed")
)

// StoreError reports a durable store failure. When it is returned the
// presence cache and timers are unchanged.
type StoreError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("presence %s %q: durable store: %v", e.Op, e.SessionID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// CacheError reports a presence cache failure on the primary read/write path.
type CacheError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("presence %s %q: presence cache: %v", e.Op, e.SessionID, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
