package models

import (
	"time"
)

// Operation represents the kind of write a mutation performs
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsValid returns true if the operation is recognized.
func (o Operation) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// MutationStatus represents the lifecycle state of a queued mutation.
// Applied mutations are removed from the queue rather than given a status.
type MutationStatus string

const (
	StatusPending MutationStatus = "pending"
	StatusSyncing MutationStatus = "syncing"
	StatusFailed  MutationStatus = "failed"
)

// PendingMutation is one queued write awaiting replay against the backend.
type PendingMutation struct {
	ID            string         `json:"id"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Operation     Operation      `json:"operation"`
	Payload       map[string]any `json:"payload"`
	Status        MutationStatus `json:"status"`
	RetryCount    int            `json:"retry_count"`
	LastError     string         `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
}

// SyncConflict records a detected divergence between the client's assumed
// base state and the backend's current state for one entity.
type SyncConflict struct {
	ID              string         `json:"id"`
	EntityType      string         `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	LocalData       map[string]any `json:"local_data"`
	ServerData      map[string]any `json:"server_data"`
	LocalTimestamp  time.Time      `json:"local_timestamp"`
	ServerTimestamp time.Time      `json:"server_timestamp"`
	Resolved        bool           `json:"resolved"`
	DetectedAt      time.Time      `json:"detected_at"`
}

// Strategy represents a conflict resolution strategy
type Strategy string

const (
	// StrategyLastWriteWins takes the whole snapshot with the later timestamp.
	StrategyLastWriteWins Strategy = "last-write-wins"

	// StrategyFieldMerge merges the two snapshots field by field.
	StrategyFieldMerge Strategy = "field-merge"

	// StrategyManual applies caller-supplied per-field selections.
	StrategyManual Strategy = "manual"
)

// IsValid returns true if the strategy is recognized.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyLastWriteWins, StrategyFieldMerge, StrategyManual:
		return true
	default:
		return false
	}
}

// AllStrategies returns the supported resolution strategies.
func AllStrategies() []Strategy {
	return []Strategy{StrategyLastWriteWins, StrategyFieldMerge, StrategyManual}
}

// Source identifies which side of a conflict a field value comes from
type Source string

const (
	SourceLocal  Source = "local"
	SourceServer Source = "server"
)

// FieldSelection pins one field to one side during manual resolution.
type FieldSelection struct {
	Field  string `json:"field"`
	Source Source `json:"source"`
}

// ConflictHistoryEntry is an append-only audit record of a resolution.
type ConflictHistoryEntry struct {
	ID              int64            `json:"id"`
	ConflictID      string           `json:"conflict_id"`
	EntityType      string           `json:"entity_type"`
	EntityID        string           `json:"entity_id"`
	Strategy        Strategy         `json:"strategy"`
	FieldSelections []FieldSelection `json:"field_selections,omitempty"`
	ResolvedAt      time.Time        `json:"resolved_at"`
}
