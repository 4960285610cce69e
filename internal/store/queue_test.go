package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/syncq/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTest(t *testing.T, s *Store, entityType, entityID string, op models.Operation) *models.PendingMutation {
	t.Helper()
	m := &models.PendingMutation{
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    map[string]any{"title": "hello"},
	}
	if err := s.Enqueue(m); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return m
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	s, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Close()

	dbPath := filepath.Join(dir, ".syncq", "queue.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file not created")
	}
}

func TestOpenWithoutInit(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("expected error opening uninitialized store")
	}
}

func TestEnqueueAssignsIDAndStatus(t *testing.T) {
	s := newTestStore(t)

	m := enqueueTest(t, s, "note", "n-1", models.OpCreate)
	if m.ID == "" {
		t.Error("mutation ID not set")
	}
	if m.Status != models.StatusPending {
		t.Errorf("status mismatch: got %s, want %s", m.Status, models.StatusPending)
	}

	got, err := s.GetMutation(m.ID)
	if err != nil {
		t.Fatalf("GetMutation failed: %v", err)
	}
	if got == nil {
		t.Fatal("mutation not persisted")
	}
	if got.Payload["title"] != "hello" {
		t.Errorf("payload mismatch: got %v", got.Payload)
	}
}

func TestEnqueueValidation(t *testing.T) {
	s := newTestStore(t)

	err := s.Enqueue(&models.PendingMutation{EntityType: "note", EntityID: "n-1", Operation: "upsert"})
	if err == nil {
		t.Error("expected error for invalid operation")
	}
	err = s.Enqueue(&models.PendingMutation{EntityID: "n-1", Operation: models.OpCreate})
	if err == nil {
		t.Error("expected error for missing entity type")
	}
}

func TestDequeueBatchFIFO(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		m := &models.PendingMutation{
			EntityType: "note",
			EntityID:   "n-1",
			Operation:  models.OpUpdate,
			Payload:    map[string]any{"i": i},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Enqueue(m); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, m.ID)
	}

	batch, err := s.DequeueBatch(0)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 5 {
		t.Fatalf("batch size mismatch: got %d, want 5", len(batch))
	}
	for i, m := range batch {
		if m.ID != ids[i] {
			t.Errorf("order mismatch at %d: got %s, want %s", i, m.ID, ids[i])
		}
	}

	limited, err := s.DequeueBatch(2)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited batch size mismatch: got %d, want 2", len(limited))
	}
}

func TestDequeueBatchSkipsEntities(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	blocked := &models.PendingMutation{
		EntityType: "note", EntityID: "n-1", Operation: models.OpUpdate,
		Payload: map[string]any{"title": "head"}, CreatedAt: base,
	}
	behind := &models.PendingMutation{
		EntityType: "task", EntityID: "t-1", Operation: models.OpCreate,
		Payload: map[string]any{"title": "behind"}, CreatedAt: base.Add(time.Minute),
	}
	for _, m := range []*models.PendingMutation{blocked, behind} {
		if err := s.Enqueue(m); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	// Even with a limit of 1, the skipped entity must not occupy the batch
	batch, err := s.DequeueBatch(1, "note/n-1")
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("batch size mismatch: got %d, want 1", len(batch))
	}
	if batch[0].ID != behind.ID {
		t.Errorf("batch contents mismatch: got %s, want %s", batch[0].ID, behind.ID)
	}
}

func TestMarkSyncingOnlyFromPending(t *testing.T) {
	s := newTestStore(t)
	m := enqueueTest(t, s, "note", "n-1", models.OpUpdate)

	if err := s.MarkSyncing(m.ID); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}

	got, _ := s.GetMutation(m.ID)
	if got.Status != models.StatusSyncing {
		t.Errorf("status mismatch: got %s, want %s", got.Status, models.StatusSyncing)
	}
	if got.LastAttemptAt == nil {
		t.Error("last attempt time not stamped")
	}

	if err := s.MarkSyncing(m.ID); err == nil {
		t.Error("expected error marking a syncing mutation as syncing")
	}
}

func TestMarkAppliedRemoves(t *testing.T) {
	s := newTestStore(t)
	m := enqueueTest(t, s, "note", "n-1", models.OpCreate)

	if err := s.MarkApplied(m.ID); err != nil {
		t.Fatalf("MarkApplied failed: %v", err)
	}
	got, err := s.GetMutation(m.ID)
	if err != nil {
		t.Fatalf("GetMutation failed: %v", err)
	}
	if got != nil {
		t.Error("applied mutation still in queue")
	}
}

func TestMarkFailedRetryCeiling(t *testing.T) {
	s := newTestStore(t)
	m := enqueueTest(t, s, "note", "n-1", models.OpUpdate)

	// First two attempts stay pending under a ceiling of 3
	for i := 1; i <= 2; i++ {
		if err := s.MarkFailed(m.ID, "connection refused", 3); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
		got, _ := s.GetMutation(m.ID)
		if got.Status != models.StatusPending {
			t.Errorf("attempt %d: status mismatch: got %s, want %s", i, got.Status, models.StatusPending)
		}
		if got.RetryCount != i {
			t.Errorf("attempt %d: retry count mismatch: got %d, want %d", i, got.RetryCount, i)
		}
	}

	// Third attempt hits the ceiling and parks
	if err := s.MarkFailed(m.ID, "connection refused", 3); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	got, _ := s.GetMutation(m.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("status mismatch: got %s, want %s", got.Status, models.StatusFailed)
	}
	if got.LastError != "connection refused" {
		t.Errorf("last error mismatch: got %q", got.LastError)
	}
}

func TestMarkFailedZeroCeilingParksImmediately(t *testing.T) {
	s := newTestStore(t)
	m := enqueueTest(t, s, "note", "n-1", models.OpUpdate)

	if err := s.MarkFailed(m.ID, "invalid payload", 0); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	got, _ := s.GetMutation(m.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("status mismatch: got %s, want %s", got.Status, models.StatusFailed)
	}
}

func TestRetryFailedResetsBudget(t *testing.T) {
	s := newTestStore(t)
	m := enqueueTest(t, s, "note", "n-1", models.OpUpdate)

	// A pending mutation cannot be retried
	if err := s.RetryFailed(m.ID); err == nil {
		t.Error("expected error retrying a pending mutation")
	}

	if err := s.MarkFailed(m.ID, "boom", 1); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := s.RetryFailed(m.ID); err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}

	got, _ := s.GetMutation(m.ID)
	if got.Status != models.StatusPending {
		t.Errorf("status mismatch: got %s, want %s", got.Status, models.StatusPending)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry count mismatch: got %d, want 0", got.RetryCount)
	}
	if got.LastError != "" {
		t.Errorf("last error not cleared: %q", got.LastError)
	}
}

func TestRetryAllFailed(t *testing.T) {
	s := newTestStore(t)
	m1 := enqueueTest(t, s, "note", "n-1", models.OpUpdate)
	m2 := enqueueTest(t, s, "note", "n-2", models.OpUpdate)
	enqueueTest(t, s, "note", "n-3", models.OpUpdate)

	s.MarkFailed(m1.ID, "boom", 1)
	s.MarkFailed(m2.ID, "boom", 1)

	n, err := s.RetryAllFailed()
	if err != nil {
		t.Fatalf("RetryAllFailed failed: %v", err)
	}
	if n != 2 {
		t.Errorf("reset count mismatch: got %d, want 2", n)
	}
}

func TestRequeueSyncing(t *testing.T) {
	s := newTestStore(t)
	m := enqueueTest(t, s, "note", "n-1", models.OpUpdate)
	enqueueTest(t, s, "note", "n-2", models.OpUpdate)

	if err := s.MarkSyncing(m.ID); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}

	n, err := s.RequeueSyncing()
	if err != nil {
		t.Fatalf("RequeueSyncing failed: %v", err)
	}
	if n != 1 {
		t.Errorf("requeue count mismatch: got %d, want 1", n)
	}
	got, _ := s.GetMutation(m.ID)
	if got.Status != models.StatusPending {
		t.Errorf("status mismatch: got %s, want %s", got.Status, models.StatusPending)
	}
}

func TestDeleteForEntity(t *testing.T) {
	s := newTestStore(t)
	enqueueTest(t, s, "note", "n-1", models.OpUpdate)
	enqueueTest(t, s, "note", "n-1", models.OpUpdate)
	other := enqueueTest(t, s, "task", "t-1", models.OpUpdate)

	n, err := s.DeleteForEntity("note", "n-1")
	if err != nil {
		t.Fatalf("DeleteForEntity failed: %v", err)
	}
	if n != 2 {
		t.Errorf("delete count mismatch: got %d, want 2", n)
	}

	got, _ := s.GetMutation(other.ID)
	if got == nil {
		t.Error("unrelated mutation was deleted")
	}
}

func TestCountByStatus(t *testing.T) {
	s := newTestStore(t)
	m1 := enqueueTest(t, s, "note", "n-1", models.OpUpdate)
	m2 := enqueueTest(t, s, "note", "n-2", models.OpUpdate)
	enqueueTest(t, s, "task", "t-1", models.OpCreate)

	s.MarkSyncing(m1.ID)
	s.MarkFailed(m2.ID, "boom", 1)

	counts, err := s.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.StatusPending] != 1 {
		t.Errorf("pending count mismatch: got %d, want 1", counts[models.StatusPending])
	}
	if counts[models.StatusSyncing] != 1 {
		t.Errorf("syncing count mismatch: got %d, want 1", counts[models.StatusSyncing])
	}
	if counts[models.StatusFailed] != 1 {
		t.Errorf("failed count mismatch: got %d, want 1", counts[models.StatusFailed])
	}

	byType, err := s.CountByEntityType()
	if err != nil {
		t.Fatalf("CountByEntityType failed: %v", err)
	}
	if byType["note"] != 2 {
		t.Errorf("note count mismatch: got %d, want 2", byType["note"])
	}
	if byType["task"] != 1 {
		t.Errorf("task count mismatch: got %d, want 1", byType["task"])
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	m := &models.PendingMutation{
		EntityType: "note",
		EntityID:   "n-1",
		Operation:  models.OpUpdate,
		Payload:    map[string]any{"title": "persisted"},
	}
	if err := s.Enqueue(m); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	s.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetMutation(m.ID)
	if err != nil {
		t.Fatalf("GetMutation failed: %v", err)
	}
	if got == nil {
		t.Fatal("mutation lost across reopen")
	}
	if got.Payload["title"] != "persisted" {
		t.Errorf("payload mismatch: got %v", got.Payload)
	}
}
