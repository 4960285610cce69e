package cmd

import (
	"fmt"

	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/output"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Aliases: []string{"ls"},
	Short:   "List queued mutations",
	GroupID: "queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer s.Close()

		mutations, err := s.ListQueue()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if statusFilter, _ := cmd.Flags().GetString("status"); statusFilter != "" {
			want := models.MutationStatus(statusFilter)
			if want != models.StatusPending && want != models.StatusSyncing && want != models.StatusFailed {
				return fmt.Errorf("invalid status %q (valid: pending, syncing, failed)", statusFilter)
			}
			filtered := mutations[:0]
			for _, m := range mutations {
				if m.Status == want {
					filtered = append(filtered, m)
				}
			}
			mutations = filtered
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(mutations)
		}

		if len(mutations) == 0 {
			output.Info("queue is empty")
			return nil
		}
		for i := range mutations {
			fmt.Println(output.FormatMutation(&mutations[i]))
		}
		return nil
	},
}

func init() {
	queueCmd.Flags().String("status", "", "Filter by status (pending, syncing, failed)")
	queueCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(queueCmd)
}
