package engine

import (
	"fmt"
	"reflect"

	"github.com/marcus/syncq/internal/models"
)

// Merge computes the resolved document for a conflict under the given
// strategy. It is pure: no store or backend access.
func Merge(c *models.SyncConflict, strategy models.Strategy, selections []models.FieldSelection) (map[string]any, error) {
	switch strategy {
	case models.StrategyLastWriteWins:
		return lastWriteWins(c), nil
	case models.StrategyFieldMerge:
		return fieldMerge(c), nil
	case models.StrategyManual:
		return manualMerge(c, selections), nil
	default:
		return nil, fmt.Errorf("merge: invalid strategy %q", strategy)
	}
}

// lastWriteWins takes the snapshot whose timestamp is strictly later, in
// its entirety. Equal timestamps prefer the server snapshot.
func lastWriteWins(c *models.SyncConflict) map[string]any {
	if c.LocalTimestamp.After(c.ServerTimestamp) {
		return cloneDoc(c.LocalData)
	}
	return cloneDoc(c.ServerData)
}

// fieldMerge merges the two snapshots field by field:
//
//   - a field present on only one side is kept from that side
//   - a field present on both sides with equal values keeps that value
//   - a field present on both sides with differing values takes the server
//     value: the conflict predicate guarantees the server's write is newer,
//     and per-field write times are not client-observable
//
// The practical effect is that disjoint edits merge cleanly while
// contested fields follow the newer whole-object write.
func fieldMerge(c *models.SyncConflict) map[string]any {
	merged := cloneDoc(c.ServerData)
	for field, localVal := range c.LocalData {
		if _, onServer := c.ServerData[field]; !onServer {
			merged[field] = localVal
		}
	}
	return merged
}

// manualMerge applies caller-supplied per-field selections. Any field not
// explicitly selected falls back to the server value; stale local data is
// never preferred silently.
func manualMerge(c *models.SyncConflict, selections []models.FieldSelection) map[string]any {
	merged := cloneDoc(c.ServerData)
	for _, sel := range selections {
		switch sel.Source {
		case models.SourceLocal:
			if v, ok := c.LocalData[sel.Field]; ok {
				merged[sel.Field] = v
			} else {
				// Selected local but local never had the field: the local
				// intent is its absence
				delete(merged, sel.Field)
			}
		case models.SourceServer:
			if v, ok := c.ServerData[sel.Field]; ok {
				merged[sel.Field] = v
			} else {
				delete(merged, sel.Field)
			}
		}
	}
	return merged
}

// Recommend suggests a strategy for a conflict:
//
//   - field-merge when the snapshots touch disjoint field sets (no field
//     differs on both sides), so both edits survive
//   - last-write-wins when the snapshots cover the same fields and only
//     values differ, so timestamp dominance is meaningful
//   - manual otherwise
//
// Advisory only; automatic paths must never act on a manual recommendation.
func Recommend(c *models.SyncConflict) models.Strategy {
	var contested, onlyLocal, onlyServer int

	for field, localVal := range c.LocalData {
		serverVal, onServer := c.ServerData[field]
		if !onServer {
			onlyLocal++
		} else if !reflect.DeepEqual(localVal, serverVal) {
			contested++
		}
	}
	for field := range c.ServerData {
		if _, onLocal := c.LocalData[field]; !onLocal {
			onlyServer++
		}
	}

	switch {
	case contested == 0:
		return models.StrategyFieldMerge
	case onlyLocal == 0 && onlyServer == 0:
		return models.StrategyLastWriteWins
	default:
		return models.StrategyManual
	}
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
