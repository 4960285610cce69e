package cmd

import (
	"fmt"

	"github.com/marcus/syncq/internal/output"
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry [mutation-id]",
	Short: "Return failed mutations to the queue",
	Long: `Moves a failed mutation back to pending with a fresh retry budget. It is
picked up by the next drain. Use --all to retry every failed mutation.`,
	GroupID: "queue",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("pass exactly one of a mutation ID or --all")
		}

		s, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer s.Close()

		if all {
			n, err := s.RetryAllFailed()
			if err != nil {
				output.Error("%v", err)
				return err
			}
			output.Success("requeued %d failed mutations", n)
			return nil
		}

		if err := s.RetryFailed(args[0]); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("requeued %s", output.ShortID(args[0]))
		return nil
	},
}

func init() {
	retryCmd.Flags().Bool("all", false, "Retry all failed mutations")
	rootCmd.AddCommand(retryCmd)
}
