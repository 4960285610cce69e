package cmd

import (
	"fmt"
	"strings"

	"github.com/marcus/syncq/internal/engine"
	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// strategyFlag validates the --strategy value at parse time.
type strategyFlag models.Strategy

var _ pflag.Value = (*strategyFlag)(nil)

func (f *strategyFlag) String() string { return string(*f) }
func (f *strategyFlag) Type() string   { return "strategy" }

func (f *strategyFlag) Set(v string) error {
	s := models.Strategy(v)
	if !s.IsValid() {
		return fmt.Errorf("invalid strategy %q (valid: %v)", v, models.AllStrategies())
	}
	*f = strategyFlag(s)
	return nil
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict and push the merged data",
	Long: `Applies a merge strategy to an unresolved conflict, writes the winning
document to the backend, and records the decision in history. Queued
mutations for the entity are discarded since the resolution replaces them.

Strategies:
  last-write-wins  take the newer snapshot wholesale
  field-merge      keep disjoint edits from both sides, server wins contested fields
  manual           pick per field with --field name=local|server (server otherwise)`,
	GroupID: "conflicts",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy := models.Strategy(resolveStrategy)

		fieldFlags, _ := cmd.Flags().GetStringArray("field")
		selections, err := parseFieldSelections(fieldFlags)
		if err != nil {
			return err
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

		mon := probeOnline(cmd.Context(), b)
		if !mon.Online() {
			output.Error("backend unreachable, resolution needs the backend to accept the merged data")
			return fmt.Errorf("backend unreachable")
		}

		resolver := engine.NewResolver(s, b, nil, nil)
		entry, err := resolver.Resolve(cmd.Context(), args[0], strategy, selections)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(entry)
		}
		output.Success("resolved %s/%s with %s", entry.EntityType, entry.EntityID, entry.Strategy)
		return nil
	},
}

// parseFieldSelections parses repeated --field name=local|server flags.
func parseFieldSelections(flags []string) ([]models.FieldSelection, error) {
	var selections []models.FieldSelection
	for _, f := range flags {
		name, source, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --field %q, want name=local|server", f)
		}
		src := models.Source(source)
		if src != models.SourceLocal && src != models.SourceServer {
			return nil, fmt.Errorf("invalid --field source %q, want local or server", source)
		}
		selections = append(selections, models.FieldSelection{Field: name, Source: src})
	}
	return selections, nil
}

var resolveStrategy = strategyFlag(models.StrategyLastWriteWins)

func init() {
	resolveCmd.Flags().Var(&resolveStrategy, "strategy",
		"Merge strategy (last-write-wins, field-merge, manual)")
	resolveCmd.Flags().StringArray("field", nil,
		"Per-field source for manual resolution, e.g. --field title=local (repeatable)")
	resolveCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(resolveCmd)
}
