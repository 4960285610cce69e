// Package output provides styled terminal output helpers (success, error,
// warning, mutation and conflict formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/syncq/internal/engine"
	"github.com/marcus/syncq/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[models.MutationStatus]lipgloss.Style{
		models.StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusSyncing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	severityStyles = map[engine.Severity]lipgloss.Style{
		engine.SeverityOffline:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		engine.SeveritySyncing:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		engine.SeverityPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		engine.SeverityConflicts: lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		engine.SeveritySynced:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeOffline       = "offline"
	ErrCodeStoreError    = "store_error"
	ErrCodeBackendError  = "backend_error"
	ErrCodeNotResolvable = "not_resolvable"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	data, _ := json.Marshal(map[string]interface{}{"error": errObj})
	fmt.Println(string(data))
}

// FormatMutationStatus formats a mutation status with color
func FormatMutationStatus(s models.MutationStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatMutation formats one queued mutation as a single line.
// e.g., "3f2a1b9c  note/n-42  update  [pending]  2m ago"
func FormatMutation(m *models.PendingMutation) string {
	parts := []string{
		titleStyle.Render(ShortID(m.ID)),
		m.EntityType + "/" + m.EntityID,
		string(m.Operation),
		FormatMutationStatus(m.Status),
		subtleStyle.Render(FormatTimeAgo(m.CreatedAt)),
	}
	if m.RetryCount > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d retries", m.RetryCount)))
	}
	if m.Status == models.StatusFailed && m.LastError != "" {
		parts = append(parts, errorStyle.Render(truncate(m.LastError, 60)))
	}
	return strings.Join(parts, "  ")
}

// FormatConflictShort formats a conflict in short format
func FormatConflictShort(c *models.SyncConflict) string {
	parts := []string{
		titleStyle.Render(ShortID(c.ID)),
		c.EntityType + "/" + c.EntityID,
		subtleStyle.Render("detected " + FormatTimeAgo(c.DetectedAt)),
	}
	if c.Resolved {
		parts = append(parts, successStyle.Render("[resolved]"))
	} else {
		parts = append(parts, subtleStyle.Render("suggest: "+string(engine.Recommend(c))))
	}
	return strings.Join(parts, "  ")
}

// FormatConflictLong formats a conflict with a per-field diff of the local
// and server snapshots.
func FormatConflictLong(c *models.SyncConflict) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s/%s", c.ID, c.EntityType, c.EntityID)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Local:  %s\n", c.LocalTimestamp.Local().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Server: %s\n", c.ServerTimestamp.Local().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Suggested strategy: %s\n", engine.Recommend(c)))

	sb.WriteString(SectionHeader("fields"))
	for _, field := range sortedFieldUnion(c.LocalData, c.ServerData) {
		localVal, onLocal := c.LocalData[field]
		serverVal, onServer := c.ServerData[field]
		switch {
		case onLocal && !onServer:
			sb.WriteString(fmt.Sprintf("  %s: local only = %v\n", field, localVal))
		case !onLocal && onServer:
			sb.WriteString(fmt.Sprintf("  %s: server only = %v\n", field, serverVal))
		case fmt.Sprintf("%v", localVal) == fmt.Sprintf("%v", serverVal):
			sb.WriteString(subtleStyle.Render(fmt.Sprintf("  %s: %v", field, localVal)))
			sb.WriteString("\n")
		default:
			sb.WriteString(warningStyle.Render(fmt.Sprintf("  %s: local = %v | server = %v", field, localVal, serverVal)))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatHistoryEntry formats one resolution history entry
func FormatHistoryEntry(e *models.ConflictHistoryEntry) string {
	parts := []string{
		subtleStyle.Render(e.ResolvedAt.Local().Format("2006-01-02 15:04")),
		e.EntityType + "/" + e.EntityID,
		string(e.Strategy),
	}
	if len(e.FieldSelections) > 0 {
		var sels []string
		for _, s := range e.FieldSelections {
			sels = append(sels, fmt.Sprintf("%s<-%s", s.Field, s.Source))
		}
		parts = append(parts, subtleStyle.Render(strings.Join(sels, ",")))
	}
	return strings.Join(parts, "  ")
}

// FormatStatusReport renders the derived sync status for humans.
func FormatStatusReport(st *engine.Status) string {
	var sb strings.Builder

	badge := st.SeverityLabel
	if style, ok := severityStyles[st.Severity]; ok {
		badge = style.Render(badge)
	}
	sb.WriteString(fmt.Sprintf("%s  %s\n", badge, st.Message))

	sb.WriteString(fmt.Sprintf("  pending: %d  syncing: %d  failed: %d  conflicts: %d\n",
		st.Pending, st.Syncing, st.Failed, st.Conflicts))

	if len(st.ByEntityType) > 0 {
		sb.WriteString(SectionHeader("queued by type"))
		for _, entityType := range sortedKeys(st.ByEntityType) {
			sb.WriteString(fmt.Sprintf("  %s: %d\n", entityType, st.ByEntityType[entityType]))
		}
	}
	return sb.String()
}

// ShortID safely shortens an ID to 8 characters or returns as-is if shorter
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCONFLICTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// FormatTimeAgo formats a time as a relative duration
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func sortedFieldUnion(a, b map[string]any) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var fields []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			fields = append(fields, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
