package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/syncq/internal/models"
)

// AppendHistory records how a conflict was resolved. The history table is
// append-only; rows are only ever removed by PruneHistory.
func (s *Store) AppendHistory(e *models.ConflictHistoryEntry) error {
	return s.withWriteLock(func() error {
		if e.ResolvedAt.IsZero() {
			e.ResolvedAt = time.Now().UTC()
		}

		var selections any
		if len(e.FieldSelections) > 0 {
			data, err := json.Marshal(e.FieldSelections)
			if err != nil {
				return fmt.Errorf("append history: marshal selections: %w", err)
			}
			selections = string(data)
		}

		res, err := s.conn.Exec(`
			INSERT INTO conflict_history (conflict_id, entity_type, entity_id, strategy, field_selections, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ConflictID, e.EntityType, e.EntityID, e.Strategy, selections, formatTime(e.ResolvedAt))
		if err != nil {
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		e.ID = id
		return nil
	})
}

// GetHistoryTail returns the last N entries in chronological order (oldest
// first). Pass limit <= 0 for all.
func (s *Store) GetHistoryTail(limit int) ([]models.ConflictHistoryEntry, error) {
	query := `
		SELECT id, conflict_id, entity_type, entity_id, strategy, field_selections, resolved_at
		FROM conflict_history
		ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GetHistoryForEntity returns resolution history for one entity, oldest first.
func (s *Store) GetHistoryForEntity(entityType, entityID string) ([]models.ConflictHistoryEntry, error) {
	rows, err := s.conn.Query(`
		SELECT id, conflict_id, entity_type, entity_id, strategy, field_selections, resolved_at
		FROM conflict_history
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHistory(rows)
}

// PruneHistory deletes rows not in the newest maxRows entries. Housekeeping
// only; the engine itself never calls this.
func (s *Store) PruneHistory(maxRows int) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			DELETE FROM conflict_history WHERE id NOT IN (
				SELECT id FROM conflict_history ORDER BY id DESC LIMIT ?
			)
		`, maxRows)
		return err
	})
}

func scanHistory(rows *sql.Rows) ([]models.ConflictHistoryEntry, error) {
	var entries []models.ConflictHistoryEntry
	for rows.Next() {
		var e models.ConflictHistoryEntry
		var selections sql.NullString
		var resolvedAt string
		if err := rows.Scan(&e.ID, &e.ConflictID, &e.EntityType, &e.EntityID, &e.Strategy, &selections, &resolvedAt); err != nil {
			return nil, err
		}
		if selections.Valid && selections.String != "" {
			if err := json.Unmarshal([]byte(selections.String), &e.FieldSelections); err != nil {
				return nil, fmt.Errorf("unmarshal selections for entry %d: %w", e.ID, err)
			}
		}
		parsed, err := parseTimestamp(resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("parse resolved_at for entry %d: %w", e.ID, err)
		}
		e.ResolvedAt = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
