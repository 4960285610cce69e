package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/syncq/internal/models"
)

// SaveConflict persists a detected conflict. At most one unresolved conflict
// is kept per entity: a newer detection overwrites the live row in place
// (keeping its ID) instead of creating a duplicate. Resolved rows are never
// touched; they stay as audit history.
func (s *Store) SaveConflict(c *models.SyncConflict) error {
	return s.withWriteLock(func() error {
		if c.DetectedAt.IsZero() {
			c.DetectedAt = time.Now().UTC()
		}

		localData, err := json.Marshal(c.LocalData)
		if err != nil {
			return fmt.Errorf("save conflict %s/%s: marshal local data: %w", c.EntityType, c.EntityID, err)
		}
		serverData, err := json.Marshal(c.ServerData)
		if err != nil {
			return fmt.Errorf("save conflict %s/%s: marshal server data: %w", c.EntityType, c.EntityID, err)
		}

		var existingID string
		err = s.conn.QueryRow(`
			SELECT id FROM sync_conflicts
			WHERE entity_type = ? AND entity_id = ? AND resolved = 0
		`, c.EntityType, c.EntityID).Scan(&existingID)

		if err == nil {
			// Supersede the live conflict
			c.ID = existingID
			_, err = s.conn.Exec(`
				UPDATE sync_conflicts
				SET local_data = ?, server_data = ?, local_timestamp = ?, server_timestamp = ?, detected_at = ?
				WHERE id = ?
			`, string(localData), string(serverData),
				formatTime(c.LocalTimestamp), formatTime(c.ServerTimestamp),
				formatTime(c.DetectedAt), c.ID)
			return err
		}
		if err != sql.ErrNoRows {
			return err
		}

		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		_, err = s.conn.Exec(`
			INSERT INTO sync_conflicts (id, entity_type, entity_id, local_data, server_data, local_timestamp, server_timestamp, resolved, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		`, c.ID, c.EntityType, c.EntityID, string(localData), string(serverData),
			formatTime(c.LocalTimestamp), formatTime(c.ServerTimestamp), formatTime(c.DetectedAt))
		return err
	})
}

const conflictColumns = `id, entity_type, entity_id, local_data, server_data, local_timestamp, server_timestamp, resolved, detected_at`

// GetConflict retrieves a conflict by ID, or nil if absent.
func (s *Store) GetConflict(id string) (*models.SyncConflict, error) {
	row := s.conn.QueryRow(`SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UnresolvedForEntity returns the live conflict for an entity, or nil.
func (s *Store) UnresolvedForEntity(entityType, entityID string) (*models.SyncConflict, error) {
	row := s.conn.QueryRow(`
		SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE entity_type = ? AND entity_id = ? AND resolved = 0
	`, entityType, entityID)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListUnresolved returns all live conflicts, most recent detection first.
func (s *Store) ListUnresolved() ([]models.SyncConflict, error) {
	rows, err := s.conn.Query(`
		SELECT ` + conflictColumns + ` FROM sync_conflicts
		WHERE resolved = 0 ORDER BY detected_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConflicts(rows)
}

// ListConflicts returns recent conflicts including resolved ones.
func (s *Store) ListConflicts(limit int) ([]models.SyncConflict, error) {
	rows, err := s.conn.Query(`
		SELECT `+conflictColumns+` FROM sync_conflicts
		ORDER BY detected_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConflicts(rows)
}

// MarkConflictResolved flips a conflict to resolved. Resolved conflicts are
// inert: kept for audit, never re-detected, never re-resolved.
func (s *Store) MarkConflictResolved(id string) error {
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`UPDATE sync_conflicts SET resolved = 1 WHERE id = ? AND resolved = 0`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("resolve conflict %s: not found or already resolved", id)
		}
		return nil
	})
}

// CountUnresolved returns the number of live conflicts.
func (s *Store) CountUnresolved() (int, error) {
	var count int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM sync_conflicts WHERE resolved = 0`).Scan(&count)
	return count, err
}

func scanConflict(row rowScanner) (*models.SyncConflict, error) {
	var c models.SyncConflict
	var localData, serverData, localTS, serverTS, detectedAt string
	var resolved int

	err := row.Scan(&c.ID, &c.EntityType, &c.EntityID, &localData, &serverData,
		&localTS, &serverTS, &resolved, &detectedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(localData), &c.LocalData); err != nil {
		return nil, fmt.Errorf("unmarshal local data for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(serverData), &c.ServerData); err != nil {
		return nil, fmt.Errorf("unmarshal server data for %s: %w", c.ID, err)
	}
	if c.LocalTimestamp, err = parseTimestamp(localTS); err != nil {
		return nil, fmt.Errorf("parse local_timestamp for %s: %w", c.ID, err)
	}
	if c.ServerTimestamp, err = parseTimestamp(serverTS); err != nil {
		return nil, fmt.Errorf("parse server_timestamp for %s: %w", c.ID, err)
	}
	if c.DetectedAt, err = parseTimestamp(detectedAt); err != nil {
		return nil, fmt.Errorf("parse detected_at for %s: %w", c.ID, err)
	}
	c.Resolved = resolved != 0
	return &c, nil
}

func scanConflicts(rows *sql.Rows) ([]models.SyncConflict, error) {
	var conflicts []models.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}
