package cmd

import (
	"fmt"
	"strings"

	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/output"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show conflict resolution history",
	GroupID: "conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer s.Close()

		if prune, _ := cmd.Flags().GetInt("prune"); prune > 0 {
			if err := s.PruneHistory(prune); err != nil {
				output.Error("%v", err)
				return err
			}
			output.Success("history pruned to %d entries", prune)
			return nil
		}

		var entries []models.ConflictHistoryEntry
		if entity, _ := cmd.Flags().GetString("entity"); entity != "" {
			entityType, entityID, ok := strings.Cut(entity, "/")
			if !ok {
				return fmt.Errorf("invalid --entity %q, want type/id", entity)
			}
			entries, err = s.GetHistoryForEntity(entityType, entityID)
		} else {
			limit, _ := cmd.Flags().GetInt("limit")
			entries, err = s.GetHistoryTail(limit)
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(entries)
		}

		if len(entries) == 0 {
			output.Info("no resolutions recorded")
			return nil
		}
		for i := range entries {
			fmt.Println(output.FormatHistoryEntry(&entries[i]))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Show the most recent N entries")
	historyCmd.Flags().String("entity", "", "Show history for one entity (type/id)")
	historyCmd.Flags().Int("prune", 0, "Trim history to the most recent N entries")
	historyCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(historyCmd)
}
