package engine

import (
	"fmt"

	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/netmon"
	"github.com/marcus/syncq/internal/store"
)

// Severity orders the derived sync state for display, worst first.
type Severity int

const (
	SeverityOffline Severity = iota
	SeveritySyncing
	SeverityPending
	SeverityConflicts
	SeveritySynced
)

func (s Severity) String() string {
	switch s {
	case SeverityOffline:
		return "offline"
	case SeveritySyncing:
		return "syncing"
	case SeverityPending:
		return "pending"
	case SeverityConflicts:
		return "conflicts"
	case SeveritySynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Status is a point-in-time projection over the queue and conflict sets. It
// holds no state of its own; every field is recomputed on each call.
type Status struct {
	Online        bool           `json:"online"`
	Pending       int            `json:"pending"`
	Syncing       int            `json:"syncing"`
	Failed        int            `json:"failed"`
	Conflicts     int            `json:"conflicts"`
	ByEntityType  map[string]int `json:"by_entity_type,omitempty"`
	Severity      Severity       `json:"-"`
	SeverityLabel string         `json:"severity"`
	Message       string         `json:"message"`
}

// ProjectStatus derives the current status from the store and the network
// monitor.
func ProjectStatus(s *store.Store, mon netmon.Monitor) (*Status, error) {
	byStatus, err := s.CountByStatus()
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	byType, err := s.CountByEntityType()
	if err != nil {
		return nil, fmt.Errorf("count by entity type: %w", err)
	}
	conflicts, err := s.CountUnresolved()
	if err != nil {
		return nil, fmt.Errorf("count conflicts: %w", err)
	}

	st := &Status{
		Online:       mon.Online(),
		Pending:      byStatus[models.StatusPending],
		Syncing:      byStatus[models.StatusSyncing],
		Failed:       byStatus[models.StatusFailed],
		Conflicts:    conflicts,
		ByEntityType: byType,
	}
	st.Severity, st.Message = summarize(st)
	st.SeverityLabel = st.Severity.String()
	return st, nil
}

// summarize picks the single most urgent condition. A failed mutation is a
// queued change waiting on an explicit retry, so it ranks with pending.
func summarize(st *Status) (Severity, string) {
	queued := st.Pending + st.Failed

	switch {
	case !st.Online:
		if queued > 0 {
			return SeverityOffline, fmt.Sprintf("offline, %d %s queued",
				queued, pluralize("change", queued))
		}
		return SeverityOffline, "offline"
	case st.Syncing > 0:
		return SeveritySyncing, fmt.Sprintf("syncing %d %s",
			st.Syncing, pluralize("change", st.Syncing))
	case queued > 0:
		msg := fmt.Sprintf("%d %s pending", queued, pluralize("change", queued))
		if st.Failed > 0 {
			msg += fmt.Sprintf(" (%d failed)", st.Failed)
		}
		return SeverityPending, msg
	case st.Conflicts > 0:
		return SeverityConflicts, fmt.Sprintf("%d %s need resolution",
			st.Conflicts, pluralize("conflict", st.Conflicts))
	default:
		return SeveritySynced, "all changes synced"
	}
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
