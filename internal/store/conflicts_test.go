package store

import (
	"testing"
	"time"

	"github.com/marcus/syncq/internal/models"
)

func saveTestConflict(t *testing.T, s *Store, entityType, entityID string) *models.SyncConflict {
	t.Helper()
	now := time.Now().UTC()
	c := &models.SyncConflict{
		EntityType:      entityType,
		EntityID:        entityID,
		LocalData:       map[string]any{"title": "local"},
		ServerData:      map[string]any{"title": "server"},
		LocalTimestamp:  now.Add(-time.Minute),
		ServerTimestamp: now,
	}
	if err := s.SaveConflict(c); err != nil {
		t.Fatalf("SaveConflict failed: %v", err)
	}
	return c
}

func TestSaveAndGetConflict(t *testing.T) {
	s := newTestStore(t)

	c := saveTestConflict(t, s, "note", "n-1")
	if c.ID == "" {
		t.Fatal("conflict ID not set")
	}

	got, err := s.GetConflict(c.ID)
	if err != nil {
		t.Fatalf("GetConflict failed: %v", err)
	}
	if got == nil {
		t.Fatal("conflict not persisted")
	}
	if got.LocalData["title"] != "local" || got.ServerData["title"] != "server" {
		t.Errorf("snapshot mismatch: local %v, server %v", got.LocalData, got.ServerData)
	}
	if got.Resolved {
		t.Error("new conflict should be unresolved")
	}
}

func TestSaveConflictSupersedesInPlace(t *testing.T) {
	s := newTestStore(t)

	first := saveTestConflict(t, s, "note", "n-1")

	second := &models.SyncConflict{
		EntityType:      "note",
		EntityID:        "n-1",
		LocalData:       map[string]any{"title": "newer local"},
		ServerData:      map[string]any{"title": "newer server"},
		LocalTimestamp:  time.Now().UTC(),
		ServerTimestamp: time.Now().UTC().Add(time.Minute),
	}
	if err := s.SaveConflict(second); err != nil {
		t.Fatalf("SaveConflict failed: %v", err)
	}

	// The live conflict keeps its identity, only the snapshots move
	if second.ID != first.ID {
		t.Errorf("superseded conflict changed ID: got %s, want %s", second.ID, first.ID)
	}

	n, err := s.CountUnresolved()
	if err != nil {
		t.Fatalf("CountUnresolved failed: %v", err)
	}
	if n != 1 {
		t.Errorf("unresolved count mismatch: got %d, want 1", n)
	}

	got, _ := s.GetConflict(first.ID)
	if got.ServerData["title"] != "newer server" {
		t.Errorf("snapshot not superseded: got %v", got.ServerData)
	}
}

func TestResolvedConflictNotSuperseded(t *testing.T) {
	s := newTestStore(t)

	first := saveTestConflict(t, s, "note", "n-1")
	if err := s.MarkConflictResolved(first.ID); err != nil {
		t.Fatalf("MarkConflictResolved failed: %v", err)
	}

	second := saveTestConflict(t, s, "note", "n-1")
	if second.ID == first.ID {
		t.Error("resolved conflict was reused for a new detection")
	}
}

func TestMarkConflictResolved(t *testing.T) {
	s := newTestStore(t)
	c := saveTestConflict(t, s, "note", "n-1")

	if err := s.MarkConflictResolved(c.ID); err != nil {
		t.Fatalf("MarkConflictResolved failed: %v", err)
	}
	got, _ := s.GetConflict(c.ID)
	if !got.Resolved {
		t.Error("conflict not marked resolved")
	}

	if err := s.MarkConflictResolved(c.ID); err == nil {
		t.Error("expected error resolving an already resolved conflict")
	}
	if err := s.MarkConflictResolved("missing"); err == nil {
		t.Error("expected error resolving a missing conflict")
	}
}

func TestListUnresolved(t *testing.T) {
	s := newTestStore(t)
	c1 := saveTestConflict(t, s, "note", "n-1")
	saveTestConflict(t, s, "task", "t-1")
	saveTestConflict(t, s, "task", "t-2")

	s.MarkConflictResolved(c1.ID)

	unresolved, err := s.ListUnresolved()
	if err != nil {
		t.Fatalf("ListUnresolved failed: %v", err)
	}
	if len(unresolved) != 2 {
		t.Errorf("unresolved count mismatch: got %d, want 2", len(unresolved))
	}
	for _, c := range unresolved {
		if c.Resolved {
			t.Errorf("resolved conflict %s in unresolved list", c.ID)
		}
	}
}

func TestUnresolvedForEntity(t *testing.T) {
	s := newTestStore(t)
	c := saveTestConflict(t, s, "note", "n-1")

	got, err := s.UnresolvedForEntity("note", "n-1")
	if err != nil {
		t.Fatalf("UnresolvedForEntity failed: %v", err)
	}
	if got == nil || got.ID != c.ID {
		t.Errorf("lookup mismatch: got %v, want %s", got, c.ID)
	}

	none, err := s.UnresolvedForEntity("note", "other")
	if err != nil {
		t.Fatalf("UnresolvedForEntity failed: %v", err)
	}
	if none != nil {
		t.Error("expected nil for entity without conflicts")
	}
}
