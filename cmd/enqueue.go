package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/marcus/syncq/internal/engine"
	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/output"
	"github.com/marcus/syncq/internal/store"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:     "enqueue <entity-type> <entity-id> <create|update|delete>",
	Aliases: []string{"add"},
	Short:   "Queue a local mutation for sync",
	Long: `Records a mutation in the durable queue. It is applied to the backend on
the next drain; until then the local change is the source of truth.

The payload is given with --data as a JSON object. Deletes take no payload.`,
	GroupID: "queue",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, entityID := args[0], args[1]
		op := models.Operation(args[2])
		if !op.IsValid() {
			return fmt.Errorf("invalid operation %q (valid: create, update, delete)", args[2])
		}

		dataJSON, _ := cmd.Flags().GetString("data")
		var payload map[string]any
		if dataJSON != "" {
			if err := json.Unmarshal([]byte(dataJSON), &payload); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
		}
		if op != models.OpDelete && len(payload) == 0 {
			return fmt.Errorf("%s requires --data with a JSON object", op)
		}

		s, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer s.Close()

		m := &models.PendingMutation{
			EntityType: entityType,
			EntityID:   entityID,
			Operation:  op,
			Payload:    payload,
		}
		if err := s.Enqueue(m); err != nil {
			output.Error("%v", err)
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			return output.JSON(m)
		}
		output.Success("queued %s %s/%s (%s)", op, entityType, entityID, output.ShortID(m.ID))

		if check, _ := cmd.Flags().GetBool("check"); check && op != models.OpCreate {
			reportConflictCheck(cmd, s, m)
		}
		return nil
	},
}

// reportConflictCheck runs a best-effort proactive conflict check for a just
// queued mutation. Failures are reported but never fail the enqueue.
func reportConflictCheck(cmd *cobra.Command, s *store.Store, m *models.PendingMutation) {
	b, err := newBackend()
	if err != nil {
		output.Warning("conflict check skipped: %v", err)
		return
	}

	conflict, err := engine.NewDetector(s, b).Detect(
		cmd.Context(), m.EntityType, m.EntityID, m.Payload, m.CreatedAt)
	if err != nil {
		output.Warning("conflict check failed: %v", err)
		return
	}
	if conflict != nil {
		output.Warning("conflict detected for %s/%s, resolve with 'syncq resolve %s'",
			m.EntityType, m.EntityID, conflict.ID)
	}
}

func init() {
	enqueueCmd.Flags().String("data", "", "Mutation payload as a JSON object")
	enqueueCmd.Flags().Bool("check", false, "Check for a server-side conflict immediately")
	enqueueCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(enqueueCmd)
}
