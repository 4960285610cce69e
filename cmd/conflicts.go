package cmd

import (
	"fmt"

	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/output"
	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "List unresolved conflicts",
	GroupID: "conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer s.Close()

		var conflicts []models.SyncConflict
		if all, _ := cmd.Flags().GetBool("all"); all {
			limit, _ := cmd.Flags().GetInt("limit")
			conflicts, err = s.ListConflicts(limit)
		} else {
			conflicts, err = s.ListUnresolved()
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(conflicts)
		}

		if len(conflicts) == 0 {
			output.Info("no conflicts")
			return nil
		}
		for i := range conflicts {
			fmt.Println(output.FormatConflictShort(&conflicts[i]))
		}
		return nil
	},
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Show a conflict's field-level diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer s.Close()

		conflict, err := s.GetConflict(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if conflict == nil {
			output.Error("conflict %s not found", args[0])
			return fmt.Errorf("conflict %s not found", args[0])
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(conflict)
		}
		fmt.Print(output.FormatConflictLong(conflict))
		return nil
	},
}

func init() {
	conflictsCmd.Flags().Bool("all", false, "Include resolved conflicts")
	conflictsCmd.Flags().Int("limit", 50, "Cap for --all listings")
	conflictsCmd.Flags().Bool("json", false, "JSON output")
	conflictsShowCmd.Flags().Bool("json", false, "JSON output")
	conflictsCmd.AddCommand(conflictsShowCmd)
	rootCmd.AddCommand(conflictsCmd)
}
