// Package store persists per-call conversational state. Live sessions go
// through a Store with a TTL so abandoned calls expire on their own; when a
// call ends its final state is handed to a Finalizer exactly once.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voxline-ai/voxline/pkg/core/call"
)

// ErrNotFound is returned by Store.Get when no session exists for the call.
var ErrNotFound = errors.New("session not found")

// SessionStoreError wraps a backend failure. Callers log it and continue
// with in-memory state; the next persist retries.
type SessionStoreError struct {
	Op  string // "get", "put", "delete"
	Key string
	Err error
}

func (e *SessionStoreError) Error() string {
	return fmt.Sprintf("session store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *SessionStoreError) Unwrap() error { return e.Err }

// Store holds live sessions keyed by call SID.
type Store interface {
	// Get returns the stored session, or ErrNotFound.
	Get(ctx context.Context, callID string) (*call.Session, error)
	// Put writes the session with the given TTL, resetting expiry.
	Put(ctx context.Context, sess *call.Session, ttl time.Duration) error
	// Delete removes the session. Deleting a missing key is not an error.
	Delete(ctx context.Context, callID string) error
}

// Finalizer receives a call's final state once the call has ended.
// Implementations must tolerate at-least-once delivery from retries but the
// dispatcher guarantees at most one invocation per call.
type Finalizer interface {
	PersistFinal(ctx context.Context, sess *call.Session) error
}
