package engine

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/syncq/internal/backend"
	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/store"
)

func seedConflict(t *testing.T, s *store.Store, b *backend.SQLBackend) *models.SyncConflict {
	t.Helper()
	ctx := context.Background()

	serverTS := time.Unix(150, 0).UTC()
	if err := b.Put(ctx, "note", "n-1", map[string]any{"title": "server", "tags": "x"}, serverTS); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	c, err := NewDetector(s, b).Detect(ctx, "note", "n-1",
		map[string]any{"title": "local", "body": "draft"}, time.Unix(100, 0).UTC())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if c == nil {
		t.Fatal("expected a conflict")
	}
	return c
}

func TestResolveLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	b := newTestBackend(t)
	ctx := context.Background()
	c := seedConflict(t, s, b)

	// A queued mutation for the entity is blocked behind the conflict
	blocked := &models.PendingMutation{
		EntityType: "note", EntityID: "n-1", Operation: models.OpUpdate,
		Payload: map[string]any{"title": "queued"},
	}
	if err := s.Enqueue(blocked); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	r := NewResolver(s, b, nil, nil)
	entry, err := r.Resolve(ctx, c.ID, models.StrategyLastWriteWins, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Server was newer, so the server snapshot wins wholesale
	rec, err := b.Read(ctx, "note", "n-1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rec.Data["title"] != "server" {
		t.Errorf("backend data mismatch: got %v", rec.Data)
	}
	if _, ok := rec.Data["body"]; ok {
		t.Errorf("losing side leaked into result: %v", rec.Data)
	}

	saved, _ := s.GetConflict(c.ID)
	if !saved.Resolved {
		t.Error("conflict not marked resolved")
	}

	if entry.Strategy != models.StrategyLastWriteWins {
		t.Errorf("history strategy mismatch: got %s", entry.Strategy)
	}
	entries, _ := s.GetHistoryForEntity("note", "n-1")
	if len(entries) != 1 {
		t.Fatalf("history count mismatch: got %d, want 1", len(entries))
	}

	// Blocked mutations were discarded, not replayed over the resolution
	pending, _ := s.PendingForEntity("note", "n-1")
	if len(pending) != 0 {
		t.Errorf("queued mutations survived resolution: %v", pending)
	}
}

func TestResolveFieldMerge(t *testing.T) {
	s := newTestStore(t)
	b := newTestBackend(t)
	ctx := context.Background()
	c := seedConflict(t, s, b)

	r := NewResolver(s, b, nil, nil)
	if _, err := r.Resolve(ctx, c.ID, models.StrategyFieldMerge, nil); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	rec, _ := b.Read(ctx, "note", "n-1")
	if rec.Data["title"] != "server" {
		t.Errorf("contested field mismatch: got %v", rec.Data["title"])
	}
	if rec.Data["body"] != "draft" {
		t.Errorf("local-only field lost: got %v", rec.Data)
	}
	if rec.Data["tags"] != "x" {
		t.Errorf("server-only field lost: got %v", rec.Data)
	}
}

func TestResolveManualWithSelections(t *testing.T) {
	s := newTestStore(t)
	b := newTestBackend(t)
	ctx := context.Background()
	c := seedConflict(t, s, b)

	r := NewResolver(s, b, nil, nil)
	entry, err := r.Resolve(ctx, c.ID, models.StrategyManual, []models.FieldSelection{
		{Field: "title", Source: models.SourceLocal},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	rec, _ := b.Read(ctx, "note", "n-1")
	if rec.Data["title"] != "local" {
		t.Errorf("selected field mismatch: got %v", rec.Data["title"])
	}
	if rec.Data["tags"] != "x" {
		t.Errorf("unselected field should keep server value: got %v", rec.Data)
	}
	if len(entry.FieldSelections) != 1 {
		t.Errorf("selections not recorded: %v", entry.FieldSelections)
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	b := newTestBackend(t)
	ctx := context.Background()
	c := seedConflict(t, s, b)

	r := NewResolver(s, b, nil, nil)

	if _, err := r.Resolve(ctx, c.ID, "newest-wins", nil); err == nil {
		t.Error("expected error for invalid strategy")
	}
	if _, err := r.Resolve(ctx, c.ID, models.StrategyLastWriteWins,
		[]models.FieldSelection{{Field: "title", Source: models.SourceLocal}}); err == nil {
		t.Error("expected error for selections with a non-manual strategy")
	}
	if _, err := r.Resolve(ctx, "missing", models.StrategyLastWriteWins, nil); err == nil {
		t.Error("expected error for unknown conflict")
	}
}

func TestResolveTwiceFails(t *testing.T) {
	s := newTestStore(t)
	b := newTestBackend(t)
	ctx := context.Background()
	c := seedConflict(t, s, b)

	r := NewResolver(s, b, nil, nil)
	if _, err := r.Resolve(ctx, c.ID, models.StrategyLastWriteWins, nil); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := r.Resolve(ctx, c.ID, models.StrategyLastWriteWins, nil); err == nil {
		t.Error("expected error resolving an already resolved conflict")
	}
}
