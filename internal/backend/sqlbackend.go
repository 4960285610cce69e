package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/syncq/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// SQLBackend is a SQLite-backed implementation of the entity API. It serves
// embedders that sync into a local server database and the test suite. An
// idempotency_keys table records the outcome of every applied mutation so a
// retried Apply with the same mutation ID returns the recorded result
// instead of re-applying.
type SQLBackend struct {
	conn *sql.DB

	// Now is the clock for updated_at stamps. Overridable in tests.
	Now func() time.Time
}

const sqlBackendSchema = `
CREATE TABLE IF NOT EXISTS entities (
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    data        TEXT NOT NULL DEFAULT '{}',
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (entity_type, entity_id)
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
    key         TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    data        TEXT,
    updated_at  DATETIME
);
`

// OpenSQL opens (or creates) a SQLite entity backend at the given path.
// Use ":memory:" for an ephemeral backend.
func OpenSQL(path string) (*SQLBackend, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open backend db: %w", err)
	}
	if _, err := conn.Exec(sqlBackendSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create backend schema: %w", err)
	}
	return &SQLBackend{conn: conn, Now: time.Now}, nil
}

// Close closes the backend database.
func (b *SQLBackend) Close() error {
	return b.conn.Close()
}

// Read implements Backend.
func (b *SQLBackend) Read(ctx context.Context, entityType, entityID string) (*Record, error) {
	var data, updatedAt string
	err := b.conn.QueryRowContext(ctx, `
		SELECT data, updated_at FROM entities WHERE entity_type = ? AND entity_id = ?
	`, entityType, entityID).Scan(&data, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recordFromRow(data, updatedAt)
}

// Apply implements Backend. Operations are idempotent per mutation ID: the
// first application records its outcome under the ID, and any replay with
// the same ID returns that outcome without touching the entity again.
func (b *SQLBackend) Apply(ctx context.Context, m models.PendingMutation) (*Record, error) {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Replay of an already-applied mutation
	var prevData, prevUpdated sql.NullString
	err = tx.QueryRow(`SELECT data, updated_at FROM idempotency_keys WHERE key = ?`, m.ID).
		Scan(&prevData, &prevUpdated)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		if !prevData.Valid {
			return nil, nil // recorded delete
		}
		return recordFromRow(prevData.String, prevUpdated.String)
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	rec, err := b.applyOp(tx, m)
	if err != nil {
		return nil, err
	}

	var recData, recUpdated any
	if rec != nil {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		recData = string(data)
		recUpdated = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := tx.Exec(`
		INSERT INTO idempotency_keys (key, entity_type, entity_id, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.EntityType, m.EntityID, recData, recUpdated); err != nil {
		return nil, fmt.Errorf("record idempotency key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (b *SQLBackend) applyOp(tx *sql.Tx, m models.PendingMutation) (*Record, error) {
	now := b.Now().UTC()

	switch m.Operation {
	case models.OpCreate:
		if len(m.Payload) == 0 {
			return nil, fmt.Errorf("%w: create %s/%s: empty payload", ErrValidation, m.EntityType, m.EntityID)
		}
		data, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s/%s: %v", ErrValidation, m.EntityType, m.EntityID, err)
		}
		_, err = tx.Exec(`
			INSERT OR REPLACE INTO entities (entity_type, entity_id, data, updated_at)
			VALUES (?, ?, ?, ?)
		`, m.EntityType, m.EntityID, string(data), now.Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		return &Record{Data: m.Payload, UpdatedAt: now}, nil

	case models.OpUpdate:
		if len(m.Payload) == 0 {
			return nil, fmt.Errorf("%w: update %s/%s: empty payload", ErrValidation, m.EntityType, m.EntityID)
		}
		var existing string
		err := tx.QueryRow(`SELECT data FROM entities WHERE entity_type = ? AND entity_id = ?`,
			m.EntityType, m.EntityID).Scan(&existing)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: update %s/%s", ErrNotFound, m.EntityType, m.EntityID)
		}
		if err != nil {
			return nil, err
		}

		// Updates are patches: payload fields overlay the stored document
		var doc map[string]any
		if err := json.Unmarshal([]byte(existing), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal existing %s/%s: %w", m.EntityType, m.EntityID, err)
		}
		for k, v := range m.Payload {
			doc[k] = v
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal merged %s/%s: %w", m.EntityType, m.EntityID, err)
		}
		_, err = tx.Exec(`
			UPDATE entities SET data = ?, updated_at = ? WHERE entity_type = ? AND entity_id = ?
		`, string(data), now.Format(time.RFC3339Nano), m.EntityType, m.EntityID)
		if err != nil {
			return nil, err
		}
		return &Record{Data: doc, UpdatedAt: now}, nil

	case models.OpDelete:
		res, err := tx.Exec(`DELETE FROM entities WHERE entity_type = ? AND entity_id = ?`,
			m.EntityType, m.EntityID)
		if err != nil {
			return nil, err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil, fmt.Errorf("%w: delete %s/%s", ErrNotFound, m.EntityType, m.EntityID)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrValidation, m.Operation)
	}
}

// Put seeds or overwrites an entity directly, bypassing the mutation path.
// Used by resolvers writing merged data and by tests arranging server state.
func (b *SQLBackend) Put(ctx context.Context, entityType, entityID string, data map[string]any, updatedAt time.Time) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", entityType, entityID, err)
	}
	_, err = b.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO entities (entity_type, entity_id, data, updated_at)
		VALUES (?, ?, ?, ?)
	`, entityType, entityID, string(encoded), updatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func recordFromRow(data, updatedAt string) (*Record, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal entity data: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
		}
	}
	return &Record{Data: doc, UpdatedAt: t}, nil
}
