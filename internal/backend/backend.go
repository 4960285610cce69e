// Package backend defines the entity backend the sync engine replays
// mutations against, plus the error taxonomy the executor uses to decide
// between retrying, parking, and surfacing a failure.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/syncq/internal/models"
)

// Record is the backend's current copy of one entity.
type Record struct {
	Data      map[string]any
	UpdatedAt time.Time
}

// Backend is the entity API the engine replays mutations against.
// Apply must be idempotent per mutation ID: a retried mutation (same ID)
// must not be applied twice.
type Backend interface {
	// Read returns the current record for an entity, or nil if the entity
	// does not exist. A missing entity is not an error.
	Read(ctx context.Context, entityType, entityID string) (*Record, error)

	// Apply performs the mutation's operation with its payload and returns
	// the resulting record (nil for deletes). The mutation ID doubles as the
	// idempotency key.
	Apply(ctx context.Context, m models.PendingMutation) (*Record, error)
}

// Sentinel errors for the non-transient failure classes.
var (
	// ErrNotFound means the entity was deleted upstream. Surfaced to the
	// caller; the mutation is never silently dropped.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation means the backend rejected the payload. Not retryable;
	// the mutation parks as failed pending a user edit.
	ErrValidation = errors.New("payload rejected")

	// ErrServer is a 5xx-equivalent backend fault. Retried with backoff.
	ErrServer = errors.New("server error")

	// ErrUnauthorized means credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorClass buckets an apply failure for retry policy
type ErrorClass string

const (
	ClassNetwork    ErrorClass = "network"
	ClassServer     ErrorClass = "server"
	ClassValidation ErrorClass = "validation"
	ClassNotFound   ErrorClass = "not_found"
)

// Classify buckets an error from Apply/Read. Anything not matching a
// sentinel is treated as a transport fault and retried.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnauthorized):
		return ClassValidation
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrServer):
		return ClassServer
	default:
		return ClassNetwork
	}
}

// Retryable reports whether a failure class should be retried with backoff.
func (c ErrorClass) Retryable() bool {
	return c == ClassNetwork || c == ClassServer
}
