package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcus/syncq/internal/backend"
	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/store"
)

// Resolver applies a merge strategy to an unresolved conflict and pushes the
// winning document to the backend.
type Resolver struct {
	store   *store.Store
	backend backend.Backend
	locks   *entityLocks
	clock   Clock
}

// NewResolver creates a resolver sharing the executor's entity locks so a
// resolution never races the drain loop on the same entity.
func NewResolver(s *store.Store, b backend.Backend, locks *entityLocks, clock Clock) *Resolver {
	if locks == nil {
		locks = newEntityLocks()
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Resolver{store: s, backend: b, locks: locks, clock: clock}
}

// Resolve merges the conflict under the given strategy, writes the result to
// the backend, marks the conflict resolved, and records a history entry.
// Pending mutations for the entity are discarded: they were authored against
// a base state the resolution replaces.
//
// The backend write uses a mutation ID derived from the conflict ID, so a
// crash after the write and before the bookkeeping is safe to re-run.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, strategy models.Strategy, selections []models.FieldSelection) (*models.ConflictHistoryEntry, error) {
	if !strategy.IsValid() {
		return nil, fmt.Errorf("invalid strategy %q (valid: %v)", strategy, models.AllStrategies())
	}
	if strategy != models.StrategyManual && len(selections) > 0 {
		return nil, fmt.Errorf("field selections require the %s strategy", models.StrategyManual)
	}

	conflict, err := r.store.GetConflict(conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict: %w", err)
	}
	if conflict == nil {
		return nil, fmt.Errorf("conflict %s not found", conflictID)
	}
	if conflict.Resolved {
		return nil, fmt.Errorf("conflict %s already resolved", conflictID)
	}

	unlock := r.locks.lock(conflict.EntityType, conflict.EntityID)
	defer unlock()

	merged, err := Merge(conflict, strategy, selections)
	if err != nil {
		return nil, err
	}

	if err := r.pushResolution(ctx, conflict, merged); err != nil {
		return nil, fmt.Errorf("apply resolution: %w", err)
	}

	if err := r.store.MarkConflictResolved(conflict.ID); err != nil {
		return nil, fmt.Errorf("mark resolved: %w", err)
	}

	entry := &models.ConflictHistoryEntry{
		ConflictID:      conflict.ID,
		EntityType:      conflict.EntityType,
		EntityID:        conflict.EntityID,
		Strategy:        strategy,
		FieldSelections: selections,
		ResolvedAt:      r.clock.Now().UTC(),
	}
	if err := r.store.AppendHistory(entry); err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}

	discarded, err := r.store.DeleteForEntity(conflict.EntityType, conflict.EntityID)
	if err != nil {
		return nil, fmt.Errorf("discard queued mutations: %w", err)
	}

	slog.Info("conflict resolved",
		"conflict", conflict.ID,
		"entity", conflict.EntityType+"/"+conflict.EntityID,
		"strategy", strategy,
		"discarded_mutations", discarded)
	return entry, nil
}

// pushResolution writes the full merged document to the backend. A create is
// a whole-document write on every backend, unlike update which patches, and
// it also covers the entity having vanished server-side since detection.
func (r *Resolver) pushResolution(ctx context.Context, conflict *models.SyncConflict, merged map[string]any) error {
	mutation := models.PendingMutation{
		ID:         "resolve-" + conflict.ID,
		EntityType: conflict.EntityType,
		EntityID:   conflict.EntityID,
		Operation:  models.OpCreate,
		Payload:    merged,
	}
	_, err := r.backend.Apply(ctx, mutation)
	return err
}
