package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/syncq/internal/backend"
	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/store"
)

// Detector compares the client's assumed base state against the backend's
// current copy of an entity. Both the proactive (debounced) check and the
// drain loop go through Detect, so there is exactly one predicate and one
// persistence path; a single unresolved divergence is never recorded twice.
type Detector struct {
	store   *store.Store
	backend backend.Backend
}

// NewDetector creates a conflict detector.
func NewDetector(s *store.Store, b backend.Backend) *Detector {
	return &Detector{store: s, backend: b}
}

// Detect fetches the backend record for an entity and raises a conflict iff
// the backend copy is strictly newer than the local base timestamp. An
// absent backend record is never a conflict: the entity may simply not
// exist yet. Equal timestamps never conflict.
//
// On detection the conflict is persisted (superseding any live conflict for
// the same entity) and returned; otherwise Detect returns nil.
func (d *Detector) Detect(ctx context.Context, entityType, entityID string, localData map[string]any, localTimestamp time.Time) (*models.SyncConflict, error) {
	rec, err := d.backend.Read(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", entityType, entityID, err)
	}
	if rec == nil {
		return nil, nil
	}

	if !rec.UpdatedAt.After(localTimestamp) {
		return nil, nil
	}

	conflict := &models.SyncConflict{
		EntityType:      entityType,
		EntityID:        entityID,
		LocalData:       localData,
		ServerData:      rec.Data,
		LocalTimestamp:  localTimestamp,
		ServerTimestamp: rec.UpdatedAt,
	}
	if err := d.store.SaveConflict(conflict); err != nil {
		return nil, fmt.Errorf("save conflict %s/%s: %w", entityType, entityID, err)
	}

	slog.Debug("conflict detected", "entity", entityType+"/"+entityID,
		"local_ts", localTimestamp, "server_ts", rec.UpdatedAt)
	return conflict, nil
}
