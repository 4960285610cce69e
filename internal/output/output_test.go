package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/syncq/internal/engine"
	"github.com/marcus/syncq/internal/models"
)

func TestShortID(t *testing.T) {
	if got := ShortID("3f2a1b9c-dead-beef"); got != "3f2a1b9c" {
		t.Errorf("ShortID mismatch: got %s", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("short input should pass through: got %s", got)
	}
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Now()
	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-time.Minute), "1m ago"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-time.Hour), "1h ago"},
		{now.Add(-26 * time.Hour), "1d ago"},
	}
	for _, tt := range tests {
		if got := FormatTimeAgo(tt.at); got != tt.want {
			t.Errorf("FormatTimeAgo(%v) mismatch: got %s, want %s", tt.at, got, tt.want)
		}
	}
}

func TestFormatMutation(t *testing.T) {
	m := &models.PendingMutation{
		ID:         "3f2a1b9c-dead-beef",
		EntityType: "note",
		EntityID:   "n-1",
		Operation:  models.OpUpdate,
		Status:     models.StatusFailed,
		RetryCount: 3,
		LastError:  "connection refused",
		CreatedAt:  time.Now().Add(-5 * time.Minute),
	}

	line := FormatMutation(m)
	for _, want := range []string{"3f2a1b9c", "note/n-1", "update", "failed", "3 retries", "connection refused"} {
		if !strings.Contains(line, want) {
			t.Errorf("line missing %q: %s", want, line)
		}
	}
}

func TestFormatConflictLong(t *testing.T) {
	c := &models.SyncConflict{
		ID:              "c-1",
		EntityType:      "note",
		EntityID:        "n-1",
		LocalData:       map[string]any{"title": "local", "body": "draft"},
		ServerData:      map[string]any{"title": "server", "tags": "x"},
		LocalTimestamp:  time.Unix(100, 0),
		ServerTimestamp: time.Unix(150, 0),
	}

	out := FormatConflictLong(c)
	for _, want := range []string{"note/n-1", "body: local only", "tags: server only", "local = local | server = server"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatStatusReport(t *testing.T) {
	st := &engine.Status{
		Online:        true,
		Pending:       2,
		Failed:        1,
		Conflicts:     1,
		ByEntityType:  map[string]int{"note": 2, "task": 1},
		Severity:      engine.SeverityPending,
		SeverityLabel: "pending",
		Message:       "3 changes pending (1 failed)",
	}

	out := FormatStatusReport(st)
	for _, want := range []string{"pending", "3 changes pending", "note: 2", "task: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
