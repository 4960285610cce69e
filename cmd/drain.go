package cmd

import (
	"fmt"

	"github.com/marcus/syncq/internal/engine"
	"github.com/marcus/syncq/internal/output"
	"github.com/spf13/cobra"
)

var drainCmd = &cobra.Command{
	Use:     "drain",
	Aliases: []string{"sync"},
	Short:   "Apply queued mutations to the backend",
	Long: `Drains the queue in order: each pending mutation is applied to the backend,
retrying transient failures with backoff. Mutations whose entity changed
server-side since the local edit become conflicts and stay queued until
resolved.`,
	GroupID: "queue",
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
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if !mon.Online() {
			if jsonOutput {
				output.JSONError(output.ErrCodeOffline, "backend unreachable")
			} else {
				output.Error("backend unreachable, mutations stay queued")
			}
			return fmt.Errorf("backend unreachable")
		}

		ex := engine.NewExecutor(s, b, mon, engineConfig())
		if _, err := ex.Recover(); err != nil {
			output.Error("%v", err)
			return err
		}

		res, err := ex.Drain(cmd.Context())
		if err != nil {
			output.Error("drain: %v", err)
			return err
		}

		if jsonOutput {
			return output.JSON(res)
		}
		output.Success("drained: %d applied, %d failed, %d conflicts",
			res.Applied, res.Failed, res.Conflicts)
		if res.Conflicts > 0 {
			output.Warning("run 'syncq conflicts' to inspect and resolve")
		}
		if res.Aborted {
			output.Warning("drain aborted early, remaining mutations stay queued")
		}
		return nil
	},
}

func init() {
	drainCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(drainCmd)
}
