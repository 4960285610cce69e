package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcus/syncq/internal/config"
	"github.com/marcus/syncq/internal/engine"
	"github.com/marcus/syncq/internal/netmon"
	"github.com/marcus/syncq/internal/output"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background sync loop",
	Long: `Watches backend reachability and drains the queue automatically: once when
the backend first becomes reachable, on every offline-to-online transition,
and periodically while online. Runs until interrupted.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}

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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mon := netmon.NewProber(healthProbe(b), config.GetProbeInterval())
		go mon.Run(ctx)

		ex := engine.NewExecutor(s, b, mon, engineConfig())
		if _, err := ex.Recover(); err != nil {
			output.Error("%v", err)
			return err
		}

		slog.Info("sync loop started", "backend", config.GetBackendURL())
		if err := ex.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		slog.Info("sync loop stopped")
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("verbose", false, "Debug logging")
	rootCmd.AddCommand(runCmd)
}
