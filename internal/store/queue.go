package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/syncq/internal/models"
)

// Enqueue adds a mutation to the sync queue. The mutation's ID and CreatedAt
// are assigned here if unset; status always starts as pending. Never touches
// the network.
func (s *Store) Enqueue(m *models.PendingMutation) error {
	if m.EntityType == "" || m.EntityID == "" {
		return fmt.Errorf("enqueue: entity type and id are required")
	}
	if !m.Operation.IsValid() {
		return fmt.Errorf("enqueue: invalid operation %q", m.Operation)
	}

	return s.withWriteLock(func() error {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		m.Status = models.StatusPending

		payload, err := json.Marshal(m.Payload)
		if err != nil {
			return fmt.Errorf("enqueue %s/%s: marshal payload: %w", m.EntityType, m.EntityID, err)
		}

		_, err = s.conn.Exec(`
			INSERT INTO sync_queue (id, entity_type, entity_id, operation, payload, status, retry_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		`, m.ID, m.EntityType, m.EntityID, m.Operation, string(payload), m.Status, formatTime(m.CreatedAt))
		return err
	})
}

const mutationColumns = `id, entity_type, entity_id, operation, payload, status, retry_count, last_error, created_at, last_attempt_at`

// DequeueBatch returns pending mutations in FIFO order (created_at ascending,
// ties broken by insertion order), up to limit. Pass limit <= 0 for all.
// Entities named in skip ("type/id" keys) are left out entirely, so mutations
// for a blocked entity never fill the batch ahead of unrelated work.
func (s *Store) DequeueBatch(limit int, skip ...string) ([]models.PendingMutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM sync_queue WHERE status = ?`
	args := []any{models.StatusPending}
	if len(skip) > 0 {
		query += ` AND entity_type || '/' || entity_id NOT IN (?` + strings.Repeat(", ?", len(skip)-1) + `)`
		for _, key := range skip {
			args = append(args, key)
		}
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMutations(rows)
}

// GetMutation retrieves a single mutation by ID, or nil if absent.
func (s *Store) GetMutation(id string) (*models.PendingMutation, error) {
	row := s.conn.QueryRow(`SELECT `+mutationColumns+` FROM sync_queue WHERE id = ?`, id)
	m, err := scanMutation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MarkSyncing transitions a pending mutation to syncing and stamps the
// attempt time. The write is committed before the caller proceeds, so no
// reader can observe an in-flight item whose durable record says pending.
func (s *Store) MarkSyncing(id string) error {
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE sync_queue SET status = ?, last_attempt_at = ?
			WHERE id = ? AND status = ?
		`, models.StatusSyncing, formatTime(time.Now()), id, models.StatusPending)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("mark syncing %s: not pending", id)
		}
		return nil
	})
}

// MarkApplied removes a successfully applied mutation from the queue.
func (s *Store) MarkApplied(id string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
		return err
	})
}

// MarkFailed records a failed attempt: retry_count is incremented and the
// mutation reverts to pending unless the count has reached the ceiling, in
// which case it parks as failed until an explicit retry.
func (s *Store) MarkFailed(id, cause string, ceiling int) error {
	return s.withWriteLock(func() error {
		var retries int
		err := s.conn.QueryRow(`SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&retries)
		if err == sql.ErrNoRows {
			return fmt.Errorf("mark failed: mutation not found: %s", id)
		}
		if err != nil {
			return err
		}

		retries++
		status := models.StatusPending
		if retries >= ceiling {
			status = models.StatusFailed
		}

		_, err = s.conn.Exec(`
			UPDATE sync_queue SET status = ?, retry_count = ?, last_error = ?, last_attempt_at = ?
			WHERE id = ?
		`, status, retries, cause, formatTime(time.Now()), id)
		return err
	})
}

// MarkPending reverts a syncing mutation to pending without counting a
// failed attempt. Used when a drain aborts mid-item (offline transition).
func (s *Store) MarkPending(id string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`UPDATE sync_queue SET status = ? WHERE id = ?`, models.StatusPending, id)
		return err
	})
}

// RetryFailed resets a parked mutation back to pending with a fresh retry
// budget. This is the only path out of the failed state.
func (s *Store) RetryFailed(id string) error {
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE sync_queue SET status = ?, retry_count = 0, last_error = ''
			WHERE id = ? AND status = ?
		`, models.StatusPending, id, models.StatusFailed)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("retry %s: not in failed state", id)
		}
		return nil
	})
}

// RetryAllFailed resets every parked mutation to pending. Returns the number
// of mutations reset.
func (s *Store) RetryAllFailed() (int64, error) {
	var affected int64
	err := s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE sync_queue SET status = ?, retry_count = 0, last_error = ''
			WHERE status = ?
		`, models.StatusPending, models.StatusFailed)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// RequeueSyncing flips any syncing rows back to pending. Called at startup:
// a crash mid-drain may leave items stuck in syncing, and re-attempting them
// is safe because backend applies are idempotent per mutation ID.
func (s *Store) RequeueSyncing() (int64, error) {
	var affected int64
	err := s.withWriteLock(func() error {
		res, err := s.conn.Exec(`UPDATE sync_queue SET status = ? WHERE status = ?`,
			models.StatusPending, models.StatusSyncing)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// PendingForEntity returns queued mutations targeting one entity, FIFO.
func (s *Store) PendingForEntity(entityType, entityID string) ([]models.PendingMutation, error) {
	rows, err := s.conn.Query(`
		SELECT `+mutationColumns+` FROM sync_queue
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMutations(rows)
}

// DeleteForEntity removes all queued mutations for one entity. Used by the
// resolver when merged data supersedes the blocked local writes.
func (s *Store) DeleteForEntity(entityType, entityID string) (int64, error) {
	var affected int64
	err := s.withWriteLock(func() error {
		res, err := s.conn.Exec(`DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?`,
			entityType, entityID)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// CountByStatus returns queue counts keyed by status.
func (s *Store) CountByStatus() (map[models.MutationStatus]int, error) {
	rows, err := s.conn.Query(`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.MutationStatus]int)
	for rows.Next() {
		var status models.MutationStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CountByEntityType returns queue counts keyed by entity type.
func (s *Store) CountByEntityType() (map[string]int, error) {
	rows, err := s.conn.Query(`SELECT entity_type, COUNT(*) FROM sync_queue GROUP BY entity_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var et string
		var count int
		if err := rows.Scan(&et, &count); err != nil {
			return nil, err
		}
		counts[et] = count
	}
	return counts, rows.Err()
}

// ListQueue returns all queued mutations in FIFO order, any status.
func (s *Store) ListQueue() ([]models.PendingMutation, error) {
	rows, err := s.conn.Query(`SELECT ` + mutationColumns + ` FROM sync_queue ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMutations(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (*models.PendingMutation, error) {
	var m models.PendingMutation
	var payload, createdAt string
	var lastAttempt sql.NullString

	err := row.Scan(&m.ID, &m.EntityType, &m.EntityID, &m.Operation, &payload,
		&m.Status, &m.RetryCount, &m.LastError, &createdAt, &lastAttempt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload for %s: %w", m.ID, err)
	}
	m.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", m.ID, err)
	}
	if lastAttempt.Valid {
		t, err := parseTimestamp(lastAttempt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_attempt_at for %s: %w", m.ID, err)
		}
		m.LastAttemptAt = &t
	}
	return &m, nil
}

func scanMutations(rows *sql.Rows) ([]models.PendingMutation, error) {
	var mutations []models.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, *m)
	}
	return mutations, rows.Err()
}
