package cmd

import (
	"fmt"

	"github.com/marcus/syncq/internal/engine"
	"github.com/marcus/syncq/internal/output"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show queue, conflict, and connectivity summary",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer s.Close()

		b, err := newBackend()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		mon := probeOnline(cmd.Context(), b)

		st, err := engine.ProjectStatus(s, mon)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(st)
		}
		fmt.Print(output.FormatStatusReport(st))
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(statusCmd)
}
