package store

// SchemaVersion is the current store schema version
const SchemaVersion = 1

const schema = `
-- Sync queue: one row per pending write operation
CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    last_attempt_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status, created_at);
CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_type, entity_id);

-- Detected divergences; resolved rows are kept for audit
CREATE TABLE IF NOT EXISTS sync_conflicts (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    local_data TEXT NOT NULL DEFAULT '{}',
    server_data TEXT NOT NULL DEFAULT '{}',
    local_timestamp DATETIME NOT NULL,
    server_timestamp DATETIME NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    detected_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON sync_conflicts(entity_type, entity_id, resolved);

-- Append-only audit of how conflicts were resolved
CREATE TABLE IF NOT EXISTS conflict_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conflict_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    strategy TEXT NOT NULL,
    field_selections TEXT,
    resolved_at DATETIME NOT NULL
);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
